package api

import (
	"context"
	"strings"
	"sync"

	"github.com/felixgeelhaar/lokus/internal/ports"
)

// maxOutputLines bounds the lines an output channel retains.
const maxOutputLines = 1000

// OutputChannel is a named, append-only text log a plugin writes to and the
// host shows in its output view.
type OutputChannel struct {
	mu       sync.Mutex
	name     string
	lines    []string
	partial  string
	disposed bool
	logger   ports.Logger
	onClose  func()
}

func newOutputChannel(name string, logger ports.Logger, onClose func()) *OutputChannel {
	return &OutputChannel{name: name, logger: logger, onClose: onClose}
}

// Name returns the channel name.
func (o *OutputChannel) Name() string {
	return o.name
}

// Append writes text without terminating the line.
func (o *OutputChannel) Append(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.disposed {
		return
	}
	o.write(text)
}

// AppendLine writes text followed by a newline.
func (o *OutputChannel) AppendLine(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.disposed {
		return
	}
	o.write(text + "\n")
}

func (o *OutputChannel) write(text string) {
	parts := strings.Split(o.partial+text, "\n")
	o.partial = parts[len(parts)-1]
	for _, line := range parts[:len(parts)-1] {
		o.lines = append(o.lines, line)
		o.logger.Debug(context.Background(), line, ports.F("channel", o.name))
	}
	if over := len(o.lines) - maxOutputLines; over > 0 {
		o.lines = append([]string(nil), o.lines[over:]...)
	}
}

// Lines returns the completed lines followed by any unterminated text.
func (o *OutputChannel) Lines() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := append([]string(nil), o.lines...)
	if o.partial != "" {
		out = append(out, o.partial)
	}
	return out
}

// Clear discards the channel contents.
func (o *OutputChannel) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lines = nil
	o.partial = ""
}

// Dispose closes the channel. Later writes are ignored.
func (o *OutputChannel) Dispose() error {
	o.mu.Lock()
	if o.disposed {
		o.mu.Unlock()
		return nil
	}
	o.disposed = true
	onClose := o.onClose
	o.mu.Unlock()

	if onClose != nil {
		onClose()
	}
	return nil
}

package hostbridge

import (
	"context"
	"errors"
	"sync"

	"github.com/felixgeelhaar/lokus/internal/ports"
)

// ErrNoDocument is returned by editor calls when no document is open.
var ErrNoDocument = errors.New("no document is open")

// Editor is an in-memory editor buffer. Offsets are in runes.
type Editor struct {
	mu     sync.RWMutex
	open   bool
	path   string
	text   []rune
	from   int
	to     int
	change func(content string)
}

// NewEditor creates an editor with no open document.
func NewEditor() *Editor {
	return &Editor{}
}

// Open replaces the buffer with content and places the cursor at the end.
func (e *Editor) Open(path, content string) {
	e.mu.Lock()
	e.open = true
	e.path = path
	e.text = []rune(content)
	e.from, e.to = len(e.text), len(e.text)
	e.mu.Unlock()
}

// Close discards the buffer.
func (e *Editor) Close() {
	e.mu.Lock()
	e.open = false
	e.path = ""
	e.text = nil
	e.from, e.to = 0, 0
	e.mu.Unlock()
}

// Path returns the path of the open document.
func (e *Editor) Path() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.path
}

// OnChange registers a callback invoked after every content change.
func (e *Editor) OnChange(fn func(content string)) {
	e.mu.Lock()
	e.change = fn
	e.mu.Unlock()
}

// Select sets the selection, clamping offsets to the document.
func (e *Editor) Select(from, to int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if from > to {
		from, to = to, from
	}
	e.from = clamp(from, 0, len(e.text))
	e.to = clamp(to, 0, len(e.text))
}

// HasEditor reports whether a document is open.
func (e *Editor) HasEditor() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.open
}

// GetContent returns the document text.
func (e *Editor) GetContent(_ context.Context) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.open {
		return "", ErrNoDocument
	}
	return string(e.text), nil
}

// SetContent replaces the document text and collapses the cursor to the end.
func (e *Editor) SetContent(_ context.Context, content string) error {
	e.mu.Lock()
	if !e.open {
		e.mu.Unlock()
		return ErrNoDocument
	}
	e.text = []rune(content)
	e.from, e.to = len(e.text), len(e.text)
	e.mu.Unlock()
	e.notify()
	return nil
}

// GetSelection returns the current selection.
func (e *Editor) GetSelection(_ context.Context) (ports.Selection, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.open {
		return ports.Selection{}, ErrNoDocument
	}
	return ports.Selection{From: e.from, To: e.to, Text: string(e.text[e.from:e.to])}, nil
}

// InsertText replaces the selection with text and moves the cursor past it.
func (e *Editor) InsertText(_ context.Context, text string) error {
	return e.replace(text)
}

// ReplaceSelection replaces the selected text.
func (e *Editor) ReplaceSelection(_ context.Context, text string) error {
	return e.replace(text)
}

func (e *Editor) replace(text string) error {
	e.mu.Lock()
	if !e.open {
		e.mu.Unlock()
		return ErrNoDocument
	}
	ins := []rune(text)
	out := make([]rune, 0, len(e.text)-(e.to-e.from)+len(ins))
	out = append(out, e.text[:e.from]...)
	out = append(out, ins...)
	out = append(out, e.text[e.to:]...)
	e.text = out
	e.from += len(ins)
	e.to = e.from
	e.mu.Unlock()
	e.notify()
	return nil
}

func (e *Editor) notify() {
	e.mu.RLock()
	fn, content := e.change, string(e.text)
	e.mu.RUnlock()
	if fn != nil {
		fn(content)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

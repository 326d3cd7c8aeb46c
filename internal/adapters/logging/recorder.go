package logging

import (
	"context"
	"strings"
	"sync"

	"github.com/felixgeelhaar/lokus/internal/ports"
)

// Entry is a log record captured by a Recorder.
type Entry struct {
	Level   ports.Level
	Message string
	Fields  map[string]interface{}
}

// Recorder keeps log entries in memory. Loggers derived through With write to
// the same backing store.
type Recorder struct {
	store  *recorderStore
	fields []ports.Field
}

type recorderStore struct {
	mu      sync.Mutex
	level   ports.Level
	entries []Entry
}

// NewRecorder creates a Recorder that captures every level.
func NewRecorder() *Recorder {
	return &Recorder{store: &recorderStore{level: ports.LevelDebug}}
}

// Debug records a debug message.
func (r *Recorder) Debug(_ context.Context, msg string, fields ...ports.Field) {
	r.record(ports.LevelDebug, msg, fields)
}

// Info records an informational message.
func (r *Recorder) Info(_ context.Context, msg string, fields ...ports.Field) {
	r.record(ports.LevelInfo, msg, fields)
}

// Warn records a warning.
func (r *Recorder) Warn(_ context.Context, msg string, fields ...ports.Field) {
	r.record(ports.LevelWarn, msg, fields)
}

// Error records an error.
func (r *Recorder) Error(_ context.Context, msg string, fields ...ports.Field) {
	r.record(ports.LevelError, msg, fields)
}

// With returns a Recorder that adds fields to every entry.
func (r *Recorder) With(fields ...ports.Field) ports.Logger {
	return &Recorder{store: r.store, fields: appendFields(r.fields, fields)}
}

// Level returns the minimum recorded level.
func (r *Recorder) Level() ports.Level {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.store.level
}

// SetLevel sets the minimum recorded level.
func (r *Recorder) SetLevel(level ports.Level) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.level = level
}

// Entries returns a copy of everything recorded so far.
func (r *Recorder) Entries() []Entry {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := make([]Entry, len(r.store.entries))
	copy(out, r.store.entries)
	return out
}

// Count returns how many entries were recorded at the given level.
func (r *Recorder) Count(level ports.Level) int {
	n := 0
	for _, e := range r.Entries() {
		if e.Level == level {
			n++
		}
	}
	return n
}

// Contains reports whether any entry at level has a message containing substr.
func (r *Recorder) Contains(level ports.Level, substr string) bool {
	for _, e := range r.Entries() {
		if e.Level == level && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

func (r *Recorder) record(level ports.Level, msg string, fields []ports.Field) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if level < r.store.level {
		return
	}

	all := appendFields(r.fields, fields)
	m := make(map[string]interface{}, len(all))
	for _, f := range all {
		m[f.Key] = f.Value
	}
	r.store.entries = append(r.store.entries, Entry{Level: level, Message: msg, Fields: m})
}

var _ ports.Logger = (*Recorder)(nil)

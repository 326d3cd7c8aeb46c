// Package plugin discovers plugins, resolves their dependencies into a load
// order and drives each one through its lifecycle.
package plugin

import (
	"sort"
	"sync"
	"time"

	"github.com/felixgeelhaar/lokus/internal/domain/manifest"
)

// Status is the lifecycle state of a registry entry.
type Status string

// Lifecycle states.
const (
	StatusDiscovered Status = "discovered"
	StatusLoaded     Status = "loaded"
	StatusActive     Status = "active"
	StatusError      Status = "error"
)

// Entry is the registry's record of one plugin.
type Entry struct {
	ID           string
	Path         string
	ManifestPath string
	Manifest     *manifest.Manifest
	Status       Status
	Err          error
	Seq          int
	Disabled     bool
	DiscoveredAt time.Time
	LoadedAt     time.Time
	ActivatedAt  time.Time
}

// Clone returns a copy that shares no mutable state with e.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	c.Manifest = e.Manifest.Clone()
	return &c
}

// ErrorMessage returns the recorded error text, or "".
func (e *Entry) ErrorMessage() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// Registry holds every known plugin keyed by id. Version increases whenever
// the set of entries or a manifest changes, which invalidates cached graphs.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	seq     int
	version uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Put adds an entry or replaces the manifest and path of an existing one.
// New entries are numbered in discovery order and start discovered.
func (r *Registry) Put(e *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[e.ID]; ok {
		if existing.Path != e.Path || !existing.Manifest.Equal(e.Manifest) {
			existing.Path = e.Path
			existing.ManifestPath = e.ManifestPath
			existing.Manifest = e.Manifest.Clone()
			r.version++
		}
		return
	}

	r.seq++
	c := e.Clone()
	c.Seq = r.seq
	if c.Status == "" {
		c.Status = StatusDiscovered
	}
	r.entries[c.ID] = c
	r.version++
}

// Get returns a copy of an entry.
func (r *Registry) Get(id string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// Update applies fn to an entry in place. It reports whether the entry
// exists. fn must not change ID, Manifest or Path.
func (r *Registry) Update(id string, fn func(*Entry)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if ok {
		fn(e)
	}
	return ok
}

// Remove deletes an entry.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	r.version++
	return true
}

// List returns copies of all entries in discovery order.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Count returns the number of entries.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Version returns the change counter.
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

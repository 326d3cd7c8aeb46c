// Package native loads plugins compiled into the host binary. Their
// manifests name them with a builtin:<name> main.
package native

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/felixgeelhaar/lokus/internal/domain/manifest"
	"github.com/felixgeelhaar/lokus/internal/domain/plugin"
	"github.com/felixgeelhaar/lokus/internal/domain/sdk"
)

// Catalog errors.
var (
	ErrInvalidFactory   = errors.New("builtin plugin factory is invalid")
	ErrDuplicateBuiltin = errors.New("builtin plugin already exists")
	ErrUnknownBuiltin   = errors.New("unknown builtin plugin")
)

// Factory creates a fresh plugin instance.
type Factory func() sdk.Plugin

// Bundle is a builtin plugin shipped with its own manifest.
type Bundle struct {
	Manifest *manifest.Manifest
	New      Factory
}

// Catalog maps builtin names to plugin factories.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
	bundled   map[string]*manifest.Manifest
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		factories: make(map[string]Factory),
		bundled:   make(map[string]*manifest.Manifest),
	}
}

// Register adds a factory under name.
func (c *Catalog) Register(name string, f Factory) error {
	if name == "" || f == nil {
		return ErrInvalidFactory
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.factories[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateBuiltin, name)
	}
	c.factories[name] = f
	return nil
}

// AddBundle registers a bundled plugin. The manifest's main must be
// builtin:<name>; the factory is registered under that name.
func (c *Catalog) AddBundle(b Bundle) error {
	m, err := manifest.Validate(b.Manifest)
	if err != nil {
		return err
	}
	if !m.IsBuiltin() {
		return fmt.Errorf("%w: bundled plugin %s must use a %s main", ErrInvalidFactory, m.ID, manifest.BuiltinScheme)
	}
	if err := c.Register(m.BuiltinName(), b.New); err != nil {
		return err
	}
	c.mu.Lock()
	c.bundled[m.ID] = m
	c.mu.Unlock()
	return nil
}

// Lookup returns the factory for name.
func (c *Catalog) Lookup(name string) (Factory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.factories[name]
	return f, ok
}

// Names returns every registered name, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.factories))
	for name := range c.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bundled returns the manifests of bundled plugins sorted by id.
func (c *Catalog) Bundled() []*manifest.Manifest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*manifest.Manifest, 0, len(c.bundled))
	for _, m := range c.bundled {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Loader loads builtin plugins from a catalog.
type Loader struct {
	catalog *Catalog
}

// NewLoader creates a loader over catalog.
func NewLoader(catalog *Catalog) *Loader {
	return &Loader{catalog: catalog}
}

// Name implements plugin.ModuleLoader.
func (l *Loader) Name() string {
	return "native"
}

// Supports implements plugin.ModuleLoader.
func (l *Loader) Supports(entry *plugin.Entry) bool {
	return entry.Manifest != nil && entry.Manifest.IsBuiltin()
}

// Load implements plugin.ModuleLoader.
func (l *Loader) Load(_ context.Context, entry *plugin.Entry) (sdk.Plugin, error) {
	name := entry.Manifest.BuiltinName()
	f, ok := l.catalog.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBuiltin, name)
	}
	p := f()
	if p == nil {
		return nil, fmt.Errorf("%w: builtin %s returned no plugin", plugin.ErrInvalidPluginShape, name)
	}
	return p, nil
}

var _ plugin.ModuleLoader = (*Loader)(nil)

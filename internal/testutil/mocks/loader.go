package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/lokus/internal/domain/plugin"
	"github.com/felixgeelhaar/lokus/internal/domain/sdk"
)

// Loader is a thread-safe plugin.ModuleLoader test double. Each Load builds
// a fresh instance from the factory registered for the plugin id; ids
// without a factory get a plain Plugin.
type Loader struct {
	mu        sync.Mutex
	name      string
	factories map[string]func() sdk.Plugin
	errors    map[string]error
	instances map[string][]sdk.Plugin
	loads     []string
}

// NewLoader creates a Loader mock that supports every plugin.
func NewLoader() *Loader {
	return &Loader{
		name:      "mock",
		factories: make(map[string]func() sdk.Plugin),
		errors:    make(map[string]error),
		instances: make(map[string][]sdk.Plugin),
	}
}

// Provide registers the factory used to load id.
func (l *Loader) Provide(id string, factory func() sdk.Plugin) *Loader {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.factories[id] = factory
	return l
}

// ProvidePlugin registers a fixed instance for id.
func (l *Loader) ProvidePlugin(id string, p sdk.Plugin) *Loader {
	return l.Provide(id, func() sdk.Plugin { return p })
}

// FailLoad makes loading id return err.
func (l *Loader) FailLoad(id string, err error) *Loader {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors[id] = err
	return l
}

// Name implements plugin.ModuleLoader.
func (l *Loader) Name() string {
	return l.name
}

// Supports implements plugin.ModuleLoader.
func (l *Loader) Supports(*plugin.Entry) bool {
	return true
}

// Load implements plugin.ModuleLoader.
func (l *Loader) Load(ctx context.Context, entry *plugin.Entry) (sdk.Plugin, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads = append(l.loads, entry.ID)
	if err, ok := l.errors[entry.ID]; ok {
		return nil, fmt.Errorf("load %s: %w", entry.ID, err)
	}
	var p sdk.Plugin
	if factory, ok := l.factories[entry.ID]; ok {
		p = factory()
	} else {
		p = NewPlugin()
	}
	l.instances[entry.ID] = append(l.instances[entry.ID], p)
	return p, nil
}

// Loads returns the ids passed to Load, in call order.
func (l *Loader) Loads() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	result := make([]string, len(l.loads))
	copy(result, l.loads)
	return result
}

// Instance returns the most recent instance loaded for id.
func (l *Loader) Instance(id string) (*Plugin, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	all := l.instances[id]
	if len(all) == 0 {
		return nil, false
	}
	p, ok := all[len(all)-1].(*Plugin)
	return p, ok
}

var _ plugin.ModuleLoader = (*Loader)(nil)

package api

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/felixgeelhaar/lokus/internal/domain/capability"
	"github.com/felixgeelhaar/lokus/internal/domain/command"
	"github.com/felixgeelhaar/lokus/internal/domain/event"
	"github.com/felixgeelhaar/lokus/internal/domain/manifest"
	"github.com/felixgeelhaar/lokus/internal/ports"
)

// Deps are the host services shared by every API instance.
type Deps struct {
	Bridge        ports.HostBridge
	States        ports.PluginStateStore
	Commands      *command.Registry
	Contributions *Contributions
	Bus           *event.Bus
	Policy        *capability.Policy
	Logger        ports.Logger
}

// Factory creates and caches one API instance per plugin id.
type Factory struct {
	mu   sync.RWMutex
	apis map[string]*API
	deps Deps
}

// NewFactory creates a factory. Missing shared services are created.
func NewFactory(deps Deps) *Factory {
	deps.Logger = ports.OrNop(deps.Logger)
	if deps.Bus == nil {
		deps.Bus = event.NewBus(event.WithLogger(deps.Logger))
	}
	if deps.Commands == nil {
		deps.Commands = command.NewRegistry(command.WithBus(deps.Bus), command.WithLogger(deps.Logger))
	}
	if deps.Contributions == nil {
		deps.Contributions = NewContributions(deps.Bus)
	}
	return &Factory{apis: make(map[string]*API), deps: deps}
}

// Create returns the plugin's API, creating it on first use. Permissions are
// seeded from the manifest, filtered by the host policy, plus any grants the
// user persisted earlier.
func (f *Factory) Create(ctx context.Context, m *manifest.Manifest) (*API, error) {
	if m == nil || m.ID == "" {
		return nil, ErrNilManifest
	}

	f.mu.RLock()
	existing, ok := f.apis[m.ID]
	f.mu.RUnlock()
	if ok {
		return existing, nil
	}

	granted, denied := f.deps.Policy.Filter(m.Permissions)
	if len(denied) > 0 {
		f.deps.Logger.Warn(ctx, "permissions denied by policy",
			ports.F("plugin", m.ID), ports.F("permissions", denied))
	}
	if f.deps.States != nil {
		persisted, err := f.deps.States.GrantedPermissions(ctx, m.ID)
		if err != nil {
			f.deps.Logger.Warn(ctx, "failed to read granted permissions", ports.F("plugin", m.ID), ports.Err(err))
		}
		extra, _ := f.deps.Policy.Filter(persisted)
		for _, c := range extra.List() {
			granted.Add(c)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.apis[m.ID]; ok {
		return existing, nil
	}
	a := newAPI(m.Clone(), granted, f.deps)
	f.apis[m.ID] = a
	return a, nil
}

// Get returns the cached API for a plugin.
func (f *Factory) Get(pluginID string) (*API, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	a, ok := f.apis[pluginID]
	return a, ok
}

// CleanupAPI cleans up a plugin's API and evicts it from the cache.
func (f *Factory) CleanupAPI(pluginID string) error {
	f.mu.Lock()
	a, ok := f.apis[pluginID]
	delete(f.apis, pluginID)
	f.mu.Unlock()

	if !ok {
		return nil
	}
	return a.Cleanup()
}

// CleanupAll cleans up every API instance. A failing instance does not stop
// the others; failures are joined.
func (f *Factory) CleanupAll() error {
	f.mu.Lock()
	ids := make([]string, 0, len(f.apis))
	for id := range f.apis {
		ids = append(ids, id)
	}
	apis := f.apis
	f.apis = make(map[string]*API)
	f.mu.Unlock()

	sort.Strings(ids)
	var errs []error
	for _, id := range ids {
		if err := apis[id].Cleanup(); err != nil {
			f.deps.Logger.Warn(context.Background(), "plugin API cleanup failed", ports.F("plugin", id), ports.Err(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Count returns the number of cached APIs.
func (f *Factory) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.apis)
}

// Bus returns the shared event bus.
func (f *Factory) Bus() *event.Bus {
	return f.deps.Bus
}

// Commands returns the shared command registry.
func (f *Factory) Commands() *command.Registry {
	return f.deps.Commands
}

// Contributions returns the shared UI contribution registry.
func (f *Factory) Contributions() *Contributions {
	return f.deps.Contributions
}

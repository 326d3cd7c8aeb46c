// Package sdk defines the contract every plugin implements and Base, an
// embeddable implementation that tracks everything a plugin registers so it
// can be released on cleanup.
package sdk

import (
	"context"
	"errors"
	"sync"

	"github.com/felixgeelhaar/lokus/internal/domain/api"
	"github.com/felixgeelhaar/lokus/internal/domain/command"
	"github.com/felixgeelhaar/lokus/internal/domain/disposable"
	"github.com/felixgeelhaar/lokus/internal/domain/event"
	"github.com/felixgeelhaar/lokus/internal/domain/manifest"
	"github.com/felixgeelhaar/lokus/internal/ports"
)

// Errors returned by Base.
var (
	ErrAPINotAvailable = errors.New("Plugin API not available") //nolint:staticcheck // user-facing message
	ErrMissingID       = errors.New("plugin id is missing")
	ErrMissingManifest = errors.New("plugin manifest is missing")
	ErrCleanedUp       = errors.New("plugin has been cleaned up")
)

// Plugin is the lifecycle contract between the manager and a plugin
// instance.
type Plugin interface {
	// Initialize hands the plugin its API. No user-visible work happens yet.
	Initialize(ctx context.Context, pluginAPI *api.API) error
	// Activate starts the plugin.
	Activate(ctx context.Context) error
	// Deactivate stops the plugin but keeps it loaded.
	Deactivate(ctx context.Context) error
	// Cleanup releases everything the plugin holds before it is unloaded.
	Cleanup(ctx context.Context) error
}

// ReadyValidator is implemented by plugins that can check their own state
// before activation.
type ReadyValidator interface {
	ValidateReady() error
}

// Base implements Plugin with no-op lifecycle hooks and registration helpers
// that record each registration in a disposable store. Plugins embed Base
// and override the hooks they need, calling the embedded method first. The
// zero value is ready to use.
type Base struct {
	mu       sync.RWMutex
	api      *api.API
	id       string
	manifest *manifest.Manifest
	store    *disposable.Store
	active   bool
	logger   ports.Logger
}

// Initialize stores the API and prepares a fresh disposable store.
func (b *Base) Initialize(_ context.Context, pluginAPI *api.API) error {
	if pluginAPI == nil {
		return ErrAPINotAvailable
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.api = pluginAPI
	b.id = pluginAPI.ID()
	b.manifest = pluginAPI.Manifest()
	b.logger = pluginAPI.Logger()
	b.store = disposable.NewStore(disposable.WithLogger(b.logger))
	return nil
}

// Activate marks the plugin active.
func (b *Base) Activate(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.api == nil {
		return ErrAPINotAvailable
	}
	b.active = true
	return nil
}

// Deactivate marks the plugin inactive.
func (b *Base) Deactivate(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = false
	return nil
}

// Cleanup disposes every tracked registration and marks the plugin inactive.
// The disposed store is kept, so anything tracked afterwards is released
// immediately.
func (b *Base) Cleanup(_ context.Context) error {
	b.mu.Lock()
	store := b.store
	b.active = false
	b.mu.Unlock()
	if store == nil {
		return nil
	}
	return store.Dispose()
}

// ValidateReady reports why the plugin cannot be activated, if anything.
func (b *Base) ValidateReady() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	switch {
	case b.api == nil:
		return ErrAPINotAvailable
	case b.id == "":
		return ErrMissingID
	case b.manifest == nil:
		return ErrMissingManifest
	}
	return nil
}

// API returns the plugin API, or nil before Initialize.
func (b *Base) API() *api.API {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.api
}

// ID returns the plugin id.
func (b *Base) ID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.id
}

// Manifest returns the plugin manifest.
func (b *Base) Manifest() *manifest.Manifest {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.manifest
}

// Logger returns the plugin-scoped logger.
func (b *Base) Logger() ports.Logger {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return ports.OrNop(b.logger)
}

// IsActive reports whether the plugin is active.
func (b *Base) IsActive() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

// DisposableCount returns how many registrations are tracked.
func (b *Base) DisposableCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.store == nil {
		return 0
	}
	return b.store.Size()
}

// Track adds d to the plugin's store so Cleanup disposes it.
func (b *Base) Track(d disposable.Disposable) disposable.Disposable {
	b.mu.Lock()
	if b.store == nil {
		b.store = disposable.NewStore(disposable.WithLogger(ports.OrNop(b.logger)))
	}
	store := b.store
	b.mu.Unlock()
	return store.Add(d)
}

func (b *Base) pluginAPI() (*api.API, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.api == nil {
		return nil, ErrAPINotAvailable
	}
	if b.store != nil && b.store.IsDisposed() {
		return nil, ErrCleanedUp
	}
	return b.api, nil
}

func (b *Base) keep(reg *api.Registration, err error) (*api.Registration, error) {
	if err != nil {
		return nil, err
	}
	b.Track(reg)
	return reg, nil
}

// RegisterCommand registers a command and tracks it.
func (b *Base) RegisterCommand(cmd command.Command) (*api.Registration, error) {
	a, err := b.pluginAPI()
	if err != nil {
		return nil, err
	}
	return b.keep(a.RegisterCommand(cmd))
}

// RegisterExtension adds an editor extension and tracks it.
func (b *Base) RegisterExtension(ext api.Extension) (*api.Registration, error) {
	a, err := b.pluginAPI()
	if err != nil {
		return nil, err
	}
	return b.keep(a.AddExtension(ext))
}

// RegisterSlashCommand adds a slash command and tracks it.
func (b *Base) RegisterSlashCommand(sc api.SlashCommand) (*api.Registration, error) {
	a, err := b.pluginAPI()
	if err != nil {
		return nil, err
	}
	return b.keep(a.AddSlashCommand(sc))
}

// RegisterToolbarButton adds a toolbar button and tracks it.
func (b *Base) RegisterToolbarButton(btn api.ToolbarButton) (*api.Registration, error) {
	a, err := b.pluginAPI()
	if err != nil {
		return nil, err
	}
	return b.keep(a.AddToolbarButton(btn))
}

// RegisterPanel adds a panel and tracks it.
func (b *Base) RegisterPanel(p api.Panel) (*api.Registration, error) {
	a, err := b.pluginAPI()
	if err != nil {
		return nil, err
	}
	return b.keep(a.RegisterPanel(p))
}

// RegisterStatusBarItem adds a status bar item and tracks it.
func (b *Base) RegisterStatusBarItem(item api.StatusBarItem) (*api.Registration, error) {
	a, err := b.pluginAPI()
	if err != nil {
		return nil, err
	}
	return b.keep(a.RegisterStatusBarItem(item))
}

// AddEventListener subscribes to a host event and tracks the subscription.
func (b *Base) AddEventListener(kind event.Kind, handler event.Handler) (*api.Registration, error) {
	a, err := b.pluginAPI()
	if err != nil {
		return nil, err
	}
	return b.keep(a.OnHost(kind, handler))
}

// OnPluginEvent subscribes to a plugin-defined event and tracks the
// subscription.
func (b *Base) OnPluginEvent(name string, handler func(data any, source string)) (*api.Registration, error) {
	a, err := b.pluginAPI()
	if err != nil {
		return nil, err
	}
	return b.keep(a.On(name, handler))
}

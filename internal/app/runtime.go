// Package app wires the plugin runtime together. A Runtime is built once at
// startup from the configuration and handed to whoever needs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/felixgeelhaar/lokus/internal/adapters/hostbridge"
	"github.com/felixgeelhaar/lokus/internal/adapters/logging"
	"github.com/felixgeelhaar/lokus/internal/adapters/luart"
	"github.com/felixgeelhaar/lokus/internal/adapters/native"
	"github.com/felixgeelhaar/lokus/internal/adapters/wasmrt"
	"github.com/felixgeelhaar/lokus/internal/adapters/watcher"
	"github.com/felixgeelhaar/lokus/internal/domain/api"
	"github.com/felixgeelhaar/lokus/internal/domain/command"
	"github.com/felixgeelhaar/lokus/internal/domain/config"
	"github.com/felixgeelhaar/lokus/internal/domain/event"
	"github.com/felixgeelhaar/lokus/internal/domain/plugin"
	"github.com/felixgeelhaar/lokus/internal/plugins/wordcount"
	"github.com/felixgeelhaar/lokus/internal/ports"
)

// DefaultBundles returns the plugins compiled into the host.
func DefaultBundles() []native.Bundle {
	return []native.Bundle{
		wordcount.Bundle(),
	}
}

// Option configures a Runtime.
type Option func(*options)

type options struct {
	logger    ports.Logger
	logOutput io.Writer
	bundles   []native.Bundle
}

// WithLogger replaces the console logger built from the configuration.
func WithLogger(logger ports.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogOutput sets where the console logger writes. Defaults to stderr.
func WithLogOutput(w io.Writer) Option {
	return func(o *options) {
		o.logOutput = w
	}
}

// WithBundles replaces the bundled plugins.
func WithBundles(bundles ...native.Bundle) Option {
	return func(o *options) {
		o.bundles = bundles
	}
}

// Runtime holds every long-lived component of the host.
type Runtime struct {
	Config   *config.Config
	Logger   ports.Logger
	Bridge   *hostbridge.Local
	Bus      *event.Bus
	Commands *command.Registry
	Factory  *api.Factory
	Catalog  *native.Catalog
	Manager  *plugin.Manager

	bundles []native.Bundle
	watcher *watcher.Watcher
}

// New builds a Runtime from cfg. Nothing touches the plugin directories
// until Discover or Start.
func New(cfg *config.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{logOutput: os.Stderr, bundles: DefaultBundles()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = logging.NewConsoleLogger(
			logging.WithOutput(o.logOutput),
			logging.WithLevel(cfg.LogLevel()),
			logging.WithJSONFormat(cfg.Log.Format == "json"),
			logging.WithTimestamp(cfg.Log.Timestamp),
		)
	}

	bridge, err := hostbridge.NewLocal(cfg.Workspace, cfg.DataDir)
	if err != nil {
		return nil, err
	}

	bus := event.NewBus(event.WithLogger(logger))
	commands := command.NewRegistry(
		command.WithBus(bus),
		command.WithLogger(logger),
		command.WithEditorCheck(bridge.HasEditor),
	)
	factory := api.NewFactory(api.Deps{
		Bridge:   bridge,
		States:   bridge,
		Commands: commands,
		Bus:      bus,
		Policy:   cfg.Policy(),
		Logger:   logger,
	})

	catalog := native.NewCatalog()
	for _, b := range o.bundles {
		if err := catalog.AddBundle(b); err != nil {
			return nil, fmt.Errorf("failed to register bundled plugin: %w", err)
		}
	}

	manager := plugin.NewManager(
		plugin.WithRoots(cfg.ExpandedPluginDirs()...),
		plugin.WithLoaders(
			native.NewLoader(catalog),
			luart.NewLoader(luart.WithLogger(logger), luart.WithCallTimeout(cfg.CallTimeout())),
			wasmrt.NewLoader(
				wasmrt.WithLogger(logger),
				wasmrt.WithCallTimeout(cfg.CallTimeout()),
				wasmrt.WithMemoryLimitPages(cfg.WasmMemoryPages()),
			),
		),
		plugin.WithFactory(factory),
		plugin.WithLogger(logger),
		plugin.WithStateStore(bridge),
		plugin.WithHostVersion(cfg.HostVersion),
		plugin.WithStrictVersions(cfg.StrictVersions),
		plugin.WithMaxParallel(cfg.MaxParallel),
		plugin.WithAutoActivate(cfg.AutoActivate),
	)

	return &Runtime{
		Config:   cfg,
		Logger:   logger,
		Bridge:   bridge,
		Bus:      bus,
		Commands: commands,
		Factory:  factory,
		Catalog:  catalog,
		Manager:  manager,
		bundles:  o.bundles,
	}, nil
}

// Discover registers the bundled plugins and scans the plugin directories.
func (r *Runtime) Discover(ctx context.Context) (*plugin.DiscoveryResult, error) {
	for _, b := range r.bundles {
		if _, ok := r.Manager.Registry().Get(b.Manifest.ID); ok {
			continue
		}
		if err := r.Manager.AddPlugin(ctx, b.Manifest, ""); err != nil {
			return nil, fmt.Errorf("failed to add bundled plugin %s: %w", b.Manifest.ID, err)
		}
	}
	return r.Manager.Initialize(ctx)
}

// Start discovers and loads every enabled plugin. With watching enabled in
// the configuration it also starts the file watcher.
func (r *Runtime) Start(ctx context.Context) (*plugin.LoadReport, error) {
	if _, err := r.Discover(ctx); err != nil {
		return nil, err
	}
	report, err := r.Manager.LoadAllPlugins(ctx)
	if err != nil {
		return report, err
	}
	if r.Config.Watch.Enabled {
		if err := r.Watch(ctx); err != nil {
			return report, err
		}
	}
	return report, nil
}

// Watch starts reloading plugins when their files change.
func (r *Runtime) Watch(ctx context.Context) error {
	if r.watcher != nil {
		return nil
	}
	w, err := watcher.New(r.Manager,
		watcher.WithLogger(r.Logger),
		watcher.WithDelay(r.Config.WatchDelay()),
	)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	for _, root := range r.Config.ExpandedPluginDirs() {
		if err := w.Watch(root); err != nil {
			_ = w.Close()
			return fmt.Errorf("failed to watch %s: %w", root, err)
		}
	}
	if err := w.Start(ctx); err != nil {
		_ = w.Close()
		return err
	}
	r.watcher = w
	r.Logger.Info(ctx, "watching plugin directories", ports.F("dirs", r.Config.PluginDirs))
	return nil
}

// Close stops the watcher and shuts the manager down.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	if r.watcher != nil {
		errs = append(errs, r.watcher.Close())
		r.watcher = nil
	}
	errs = append(errs, r.Manager.Shutdown(ctx))
	return errors.Join(errs...)
}

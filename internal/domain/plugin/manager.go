package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/lokus/internal/domain/api"
	"github.com/felixgeelhaar/lokus/internal/domain/disposable"
	"github.com/felixgeelhaar/lokus/internal/domain/event"
	"github.com/felixgeelhaar/lokus/internal/domain/manifest"
	"github.com/felixgeelhaar/lokus/internal/domain/sdk"
	"github.com/felixgeelhaar/lokus/internal/ports"
)

// DefaultMaxParallel bounds concurrent sibling loads.
const DefaultMaxParallel = 4

// ErrorEvent is the payload of plugin_error events.
type ErrorEvent struct {
	Op  string
	Err error
}

// InitializedEvent is the payload of initialized events.
type InitializedEvent struct {
	Plugins int
	Errors  int
}

// LoadReport summarizes a LoadAllPlugins pass.
type LoadReport struct {
	Order     []string
	Loaded    []string
	Activated []string
	Skipped   []string
	Failed    map[string]error
}

// HasFailures reports whether any plugin failed.
func (r *LoadReport) HasFailures() bool {
	return len(r.Failed) > 0
}

// Option configures a Manager.
type Option func(*Manager)

// WithRoots sets the plugin directories. The first root is the primary one
// and is created on Initialize.
func WithRoots(roots ...string) Option {
	return func(m *Manager) {
		m.roots = roots
	}
}

// WithLoaders sets the module loaders, consulted in order.
func WithLoaders(loaders ...ModuleLoader) Option {
	return func(m *Manager) {
		m.loaders = append(m.loaders, loaders...)
	}
}

// WithFactory sets the API factory shared with the host.
func WithFactory(f *api.Factory) Option {
	return func(m *Manager) {
		m.factory = f
	}
}

// WithLogger sets the logger.
func WithLogger(logger ports.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithStateStore persists enabled plugins.
func WithStateStore(s ports.PluginStateStore) Option {
	return func(m *Manager) {
		m.states = s
	}
}

// WithHostVersion sets the host version checked against lokusVersion.
func WithHostVersion(v string) Option {
	return func(m *Manager) {
		m.hostVersion = v
	}
}

// WithStrictVersions turns version mismatches from warnings into errors.
func WithStrictVersions(strict bool) Option {
	return func(m *Manager) {
		m.strict = strict
	}
}

// WithMaxParallel bounds how many siblings load at once.
func WithMaxParallel(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxParallel = n
		}
	}
}

// WithAutoActivate activates plugins at the end of LoadAllPlugins.
func WithAutoActivate(enabled bool) Option {
	return func(m *Manager) {
		m.autoActivate = enabled
	}
}

// Manager owns the plugin registry and every loaded plugin instance.
type Manager struct {
	// opMu serializes public lifecycle operations.
	opMu sync.Mutex

	mu         sync.RWMutex
	registry   *Registry
	plugins    map[string]sdk.Plugin
	lifecycles map[string]*Lifecycle
	graph      *Graph
	graphVer   uint64
	order      []string
	orderVer   uint64
	orderOK    bool

	scanner      *Scanner
	roots        []string
	loaders      []ModuleLoader
	factory      *api.Factory
	bus          *event.Bus
	states       ports.PluginStateStore
	logger       ports.Logger
	hostVersion  string
	strict       bool
	maxParallel  int
	autoActivate bool
	now          func() time.Time
}

// NewManager creates a manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		registry:    NewRegistry(),
		plugins:     make(map[string]sdk.Plugin),
		lifecycles:  make(map[string]*Lifecycle),
		maxParallel: DefaultMaxParallel,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = ports.OrNop(m.logger)
	if m.factory == nil {
		m.factory = api.NewFactory(api.Deps{Logger: m.logger})
	}
	m.bus = m.factory.Bus()
	m.scanner = NewScanner(m.roots...)
	m.scanner.now = m.now
	return m
}

// Registry returns the plugin registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Factory returns the API factory.
func (m *Manager) Factory() *api.Factory {
	return m.factory
}

// Bus returns the event bus.
func (m *Manager) Bus() *event.Bus {
	return m.bus
}

// Subscribe listens to a host event kind.
func (m *Manager) Subscribe(kind event.Kind, handler event.Handler) (disposable.Disposable, error) {
	return m.bus.Subscribe(kind, handler)
}

// Initialize creates the primary plugin root if needed and discovers
// plugins.
func (m *Manager) Initialize(ctx context.Context) (*DiscoveryResult, error) {
	if len(m.roots) > 0 {
		if err := os.MkdirAll(ports.ExpandPath(m.roots[0]), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create plugin directory: %w", err)
		}
	}
	result, err := m.DiscoverPlugins(ctx)
	if err != nil {
		return nil, err
	}
	m.bus.Emit(event.KindInitialized, "", InitializedEvent{Plugins: m.registry.Count(), Errors: len(result.Errors)})
	m.logger.Info(ctx, "plugin manager initialized",
		ports.F("plugins", m.registry.Count()), ports.F("errors", len(result.Errors)))
	return result, nil
}

// DiscoverPlugins scans the roots and merges the result into the registry.
// Unchanged plugins keep their state. A changed manifest replaces the old
// one unless the plugin is loaded, in which case it applies on reload.
// Unloaded entries whose directory disappeared are dropped.
func (m *Manager) DiscoverPlugins(ctx context.Context) (*DiscoveryResult, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	roots := make([]string, len(m.roots))
	for i, r := range m.roots {
		roots[i] = ports.ExpandPath(r)
	}
	m.scanner.Roots = roots

	result, err := m.scanner.Discover(ctx)
	if err != nil {
		return nil, err
	}
	for _, de := range result.Errors {
		m.logger.Warn(ctx, "skipping plugin", ports.F("path", de.Path), ports.Err(de.Err))
	}

	found := make(map[string]bool, len(result.Entries))
	for _, e := range result.Entries {
		found[e.ID] = true
		if existing, ok := m.registry.Get(e.ID); ok && m.hasInstance(e.ID) {
			if !existing.Manifest.Equal(e.Manifest) || existing.Path != e.Path {
				m.logger.Info(ctx, "plugin manifest changed; reload to apply", ports.F("plugin", e.ID))
			}
			continue
		}
		for _, w := range manifest.Warnings(e.Manifest) {
			m.logger.Debug(ctx, w, ports.F("plugin", e.ID))
		}
		m.registry.Put(e)
		m.ensureLifecycle(e.ID)
	}

	for _, e := range m.registry.List() {
		if e.Path == "" || found[e.ID] || m.hasInstance(e.ID) || !underRoots(e.Path, roots) {
			continue
		}
		m.dropEntry(e.ID)
		m.logger.Info(ctx, "plugin removed from disk", ports.F("plugin", e.ID))
	}

	m.applyEnabled(ctx)
	return result, nil
}

func underRoots(path string, roots []string) bool {
	for _, r := range roots {
		if rel, err := filepath.Rel(r, path); err == nil && !strings.HasPrefix(rel, "..") {
			return true
		}
	}
	return false
}

func (m *Manager) applyEnabled(ctx context.Context) {
	if m.states == nil {
		return
	}
	enabled, err := m.states.EnabledPlugins(ctx)
	if err != nil {
		m.logger.Warn(ctx, "failed to read enabled plugins", ports.Err(err))
		return
	}
	for id, on := range enabled {
		m.registry.Update(id, func(e *Entry) { e.Disabled = !on })
	}
}

// AddPlugin registers a manifest that does not come from a plugin
// directory, such as a plugin compiled into the host. dir may be empty.
func (m *Manager) AddPlugin(ctx context.Context, mf *manifest.Manifest, dir string) error {
	valid, err := m.ValidatePluginManifest(mf)
	if err != nil {
		return err
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()
	if m.hasInstance(valid.ID) {
		return fmt.Errorf("%w: %s", ErrAlreadyLoaded, valid.ID)
	}
	m.registry.Put(&Entry{ID: valid.ID, Path: dir, Manifest: valid, DiscoveredAt: m.now()})
	m.ensureLifecycle(valid.ID)
	m.applyEnabled(ctx)
	return nil
}

// ValidatePluginManifest validates a manifest and returns its normalized
// form.
func (m *Manager) ValidatePluginManifest(mf *manifest.Manifest) (*manifest.Manifest, error) {
	return manifest.Validate(mf)
}

// BuildDependencyGraph returns the graph for the current registry,
// rebuilding it when the registry changed.
func (m *Manager) BuildDependencyGraph() *Graph {
	ver := m.registry.Version()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.graph == nil || m.graphVer != ver {
		m.graph = BuildGraph(m.registry.List())
		m.graphVer = ver
	}
	return m.graph
}

// ResolveLoadOrder returns the load order, failing on missing or circular
// dependencies. Version mismatches are warnings unless strict versions are
// enabled. The result is cached until the registry changes.
func (m *Manager) ResolveLoadOrder() ([]string, error) {
	ver := m.registry.Version()
	m.mu.RLock()
	if m.orderOK && m.orderVer == ver {
		order := append([]string(nil), m.order...)
		m.mu.RUnlock()
		return order, nil
	}
	m.mu.RUnlock()

	g := m.BuildDependencyGraph()
	order, err := g.LoadOrder()
	if err != nil {
		return nil, err
	}
	for _, mismatch := range g.CheckVersions() {
		if m.strict {
			return nil, mismatch
		}
		m.logger.Warn(context.Background(), "dependency version mismatch",
			ports.F("plugin", mismatch.RequiredBy), ports.F("dependency", mismatch.ID),
			ports.F("required", mismatch.Required), ports.F("actual", mismatch.Actual))
	}

	m.mu.Lock()
	m.order = order
	m.orderVer = ver
	m.orderOK = true
	m.mu.Unlock()
	return append([]string(nil), order...), nil
}

// LoadOrder returns the cached load order.
func (m *Manager) LoadOrder() ([]string, error) {
	return m.ResolveLoadOrder()
}

// LoadPlugin instantiates and initializes one plugin.
func (m *Manager) LoadPlugin(ctx context.Context, id string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.load(ctx, id)
}

func (m *Manager) load(ctx context.Context, id string) error {
	entry, ok := m.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	if entry.Disabled {
		return fmt.Errorf("%w: %s", ErrPluginDisabled, id)
	}
	if m.hasInstance(id) {
		return fmt.Errorf("%w: %s", ErrAlreadyLoaded, id)
	}
	lc := m.ensureLifecycle(id)
	if !lc.Can(EventLoad) {
		return &TransitionError{ID: id, From: lc.Status(), Event: EventLoad}
	}

	if err := m.checkHostVersion(ctx, entry); err != nil {
		return m.fail(ctx, id, "load", err)
	}

	if main := MainPath(entry); main != "" {
		rel, relErr := filepath.Rel(entry.Path, main)
		if _, statErr := os.Stat(main); statErr != nil || relErr != nil || strings.HasPrefix(rel, "..") {
			return m.fail(ctx, id, "load", fmt.Errorf("%w: %s", ErrMainNotFound, entry.Manifest.Main))
		}
	}

	loader := selectLoader(m.loaders, entry)
	if loader == nil {
		return m.fail(ctx, id, "load", fmt.Errorf("%w: %s", ErrNoLoader, entry.Manifest.Main))
	}

	instance, err := loader.Load(ctx, entry)
	if err != nil {
		return m.fail(ctx, id, "load", fmt.Errorf("%s loader: %w", loader.Name(), err))
	}
	if instance == nil {
		return m.fail(ctx, id, "load", fmt.Errorf("%w: %s", ErrInvalidPluginShape, id))
	}

	pluginAPI, err := m.factory.Create(ctx, entry.Manifest)
	if err != nil {
		return m.fail(ctx, id, "load", err)
	}
	if err := instance.Initialize(ctx, pluginAPI); err != nil {
		if cleanupErr := instance.Cleanup(ctx); cleanupErr != nil {
			m.logger.Warn(ctx, "plugin cleanup failed", ports.F("plugin", id), ports.Err(cleanupErr))
		}
		if cleanupErr := m.factory.CleanupAPI(id); cleanupErr != nil {
			m.logger.Warn(ctx, "plugin API cleanup failed", ports.F("plugin", id), ports.Err(cleanupErr))
		}
		return m.fail(ctx, id, "initialize", &LifecycleError{ID: id, Op: "initialize", Err: err})
	}

	m.mu.Lock()
	m.plugins[id] = instance
	m.mu.Unlock()
	if err := lc.Fire(EventLoad, nil); err != nil {
		return err
	}
	m.registry.Update(id, func(e *Entry) {
		e.Status = StatusLoaded
		e.Err = nil
		e.LoadedAt = m.now()
	})
	m.bus.Emit(event.KindPluginLoaded, id, nil)
	m.logger.Info(ctx, "plugin loaded", ports.F("plugin", id), ports.F("loader", loader.Name()))
	return nil
}

func (m *Manager) checkHostVersion(ctx context.Context, entry *Entry) error {
	if m.hostVersion == "" || manifest.Satisfies(m.hostVersion, entry.Manifest.LokusVersion) {
		return nil
	}
	mismatch := &VersionMismatchError{
		ID: "lokus", RequiredBy: entry.ID, Required: entry.Manifest.LokusVersion, Actual: m.hostVersion,
	}
	if m.strict {
		return mismatch
	}
	m.logger.Warn(ctx, "plugin may not be compatible with this host", ports.F("plugin", entry.ID), ports.Err(mismatch))
	return nil
}

// fail records err on the entry, moves it to error and publishes
// plugin_error. It returns err.
func (m *Manager) fail(ctx context.Context, id, op string, err error) error {
	lc := m.ensureLifecycle(id)
	if lc.Can(EventFail) {
		if fireErr := lc.Fire(EventFail, err); fireErr != nil {
			m.logger.Warn(ctx, "lifecycle transition failed", ports.F("plugin", id), ports.Err(fireErr))
		}
	}
	m.registry.Update(id, func(e *Entry) {
		e.Status = lc.Status()
		e.Err = err
	})
	m.bus.Emit(event.KindPluginError, id, ErrorEvent{Op: op, Err: err})
	m.logger.Error(ctx, "plugin "+op+" failed", ports.F("plugin", id), ports.Err(err))
	return err
}

// LoadAllPlugins resolves the load order and loads every enabled plugin,
// level by level. Siblings within a level load concurrently. A graph error
// aborts the pass before anything is loaded; per-plugin failures are
// recorded in the report.
func (m *Manager) LoadAllPlugins(ctx context.Context) (*LoadReport, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	order, err := m.ResolveLoadOrder()
	if err != nil {
		return nil, err
	}
	levels, err := m.BuildDependencyGraph().Levels()
	if err != nil {
		return nil, err
	}
	g := m.BuildDependencyGraph()

	report := &LoadReport{Order: order, Failed: make(map[string]error)}
	var reportMu sync.Mutex
	loaded := make(map[string]bool)

	for _, level := range levels {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		eg := new(errgroup.Group)
		eg.SetLimit(m.maxParallel)
		for _, id := range level {
			entry, ok := m.registry.Get(id)
			if !ok {
				continue
			}
			if entry.Disabled {
				report.Skipped = append(report.Skipped, id)
				continue
			}
			if m.hasInstance(id) {
				reportMu.Lock()
				loaded[id] = true
				reportMu.Unlock()
				continue
			}
			if dep := m.firstMissing(g.Dependencies(id), func(dep string) bool { return m.hasInstance(dep) }); dep != "" {
				failure := &DependencyFailedError{ID: id, Dependency: dep, Status: m.status(dep)}
				failErr := m.fail(ctx, id, "load", failure)
				reportMu.Lock()
				report.Failed[id] = failErr
				reportMu.Unlock()
				continue
			}

			id := id
			eg.Go(func() error {
				loadErr := m.load(ctx, id)
				reportMu.Lock()
				defer reportMu.Unlock()
				if loadErr != nil {
					report.Failed[id] = loadErr
				} else {
					loaded[id] = true
				}
				return nil
			})
		}
		_ = eg.Wait()
	}

	for _, id := range order {
		if loaded[id] {
			report.Loaded = append(report.Loaded, id)
		}
	}

	if m.autoActivate {
		for _, id := range report.Loaded {
			if m.status(id) == StatusActive {
				continue
			}
			if dep := m.firstMissing(g.Dependencies(id), func(dep string) bool { return m.status(dep) == StatusActive }); dep != "" {
				m.logger.Warn(ctx, "not activating plugin; dependency inactive", ports.F("plugin", id), ports.F("dependency", dep))
				continue
			}
			if err := m.activate(ctx, id); err != nil {
				report.Failed[id] = err
				continue
			}
			report.Activated = append(report.Activated, id)
		}
	}

	m.logger.Info(ctx, "plugins loaded",
		ports.F("loaded", len(report.Loaded)), ports.F("failed", len(report.Failed)), ports.F("skipped", len(report.Skipped)))
	return report, nil
}

func (m *Manager) firstMissing(ids []string, ok func(string) bool) string {
	for _, id := range ids {
		if !ok(id) {
			return id
		}
	}
	return ""
}

// ActivatePlugin activates a loaded plugin whose dependencies are active.
func (m *Manager) ActivatePlugin(ctx context.Context, id string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.activate(ctx, id)
}

func (m *Manager) activate(ctx context.Context, id string) error {
	if !m.registry.Has(id) {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	lc := m.ensureLifecycle(id)
	if lc.Status() == StatusActive {
		return nil
	}
	instance, ok := m.instance(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotLoaded, id)
	}
	if !lc.Can(EventActivate) {
		return &TransitionError{ID: id, From: lc.Status(), Event: EventActivate}
	}
	for _, dep := range m.BuildDependencyGraph().Dependencies(id) {
		if st := m.status(dep); st != StatusActive {
			return &DependencyFailedError{ID: id, Dependency: dep, Status: st}
		}
	}

	if rv, ok := instance.(sdk.ReadyValidator); ok {
		if err := rv.ValidateReady(); err != nil {
			return m.fail(ctx, id, "activate", &LifecycleError{ID: id, Op: "activate", Err: err})
		}
	}
	if err := instance.Activate(ctx); err != nil {
		return m.fail(ctx, id, "activate", &LifecycleError{ID: id, Op: "activate", Err: err})
	}
	if err := lc.Fire(EventActivate, nil); err != nil {
		return err
	}
	m.registry.Update(id, func(e *Entry) {
		e.Status = StatusActive
		e.ActivatedAt = m.now()
	})
	m.bus.Emit(event.KindPluginActivated, id, nil)
	m.logger.Info(ctx, "plugin activated", ports.F("plugin", id))
	return nil
}

// DeactivatePlugin deactivates a plugin after deactivating the active
// plugins that depend on it.
func (m *Manager) DeactivatePlugin(ctx context.Context, id string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.deactivate(ctx, id)
}

func (m *Manager) deactivate(ctx context.Context, id string) error {
	if !m.registry.Has(id) {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	lc := m.ensureLifecycle(id)
	if lc.Status() != StatusActive {
		return nil
	}

	dependents := m.BuildDependencyGraph().Dependents(id)
	for i := len(dependents) - 1; i >= 0; i-- {
		if err := m.deactivate(ctx, dependents[i]); err != nil {
			m.logger.Warn(ctx, "failed to deactivate dependent", ports.F("plugin", dependents[i]), ports.Err(err))
		}
	}

	instance, _ := m.instance(id)
	if err := instance.Deactivate(ctx); err != nil {
		return m.fail(ctx, id, "deactivate", &LifecycleError{ID: id, Op: "deactivate", Err: err})
	}
	if err := lc.Fire(EventDeactivate, nil); err != nil {
		return err
	}
	m.registry.Update(id, func(e *Entry) {
		e.Status = StatusLoaded
		e.ActivatedAt = time.Time{}
	})
	m.bus.Emit(event.KindPluginDeactivated, id, nil)
	m.logger.Info(ctx, "plugin deactivated", ports.F("plugin", id))
	return nil
}

// UnloadPlugin unloads a plugin after unloading the loaded plugins that
// depend on it. Plugin cleanup failures are logged and never stop the
// unload.
func (m *Manager) UnloadPlugin(ctx context.Context, id string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.unload(ctx, id)
}

func (m *Manager) unload(ctx context.Context, id string) error {
	if !m.registry.Has(id) {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}

	dependents := m.BuildDependencyGraph().Dependents(id)
	for i := len(dependents) - 1; i >= 0; i-- {
		if m.hasInstance(dependents[i]) {
			if err := m.unload(ctx, dependents[i]); err != nil {
				m.logger.Warn(ctx, "failed to unload dependent", ports.F("plugin", dependents[i]), ports.Err(err))
			}
		}
	}

	lc := m.ensureLifecycle(id)
	instance, loaded := m.instance(id)
	if loaded {
		if lc.Status() == StatusActive {
			if err := instance.Deactivate(ctx); err != nil {
				m.logger.Warn(ctx, "plugin deactivate failed during unload", ports.F("plugin", id), ports.Err(err))
			}
		}
		if err := instance.Cleanup(ctx); err != nil {
			m.logger.Warn(ctx, "plugin cleanup failed", ports.F("plugin", id), ports.Err(err))
		}
		if err := m.factory.CleanupAPI(id); err != nil {
			m.logger.Warn(ctx, "plugin API cleanup failed", ports.F("plugin", id), ports.Err(err))
		}
		m.mu.Lock()
		delete(m.plugins, id)
		m.mu.Unlock()
	}

	var err error
	switch lc.Status() {
	case StatusLoaded, StatusActive:
		err = lc.Fire(EventUnload, nil)
	case StatusError:
		err = lc.Fire(EventReset, nil)
	}
	if err != nil {
		return err
	}
	m.registry.Update(id, func(e *Entry) {
		e.Status = StatusDiscovered
		e.Err = nil
		e.LoadedAt = time.Time{}
		e.ActivatedAt = time.Time{}
	})
	if loaded {
		m.bus.Emit(event.KindPluginUnloaded, id, nil)
		m.logger.Info(ctx, "plugin unloaded", ports.F("plugin", id))
	}
	return nil
}

// ReloadPlugin unloads a plugin and its loaded dependents, re-reads the
// manifest from disk, loads them again and reactivates the ones that were
// active. It is the only way out of the error state.
func (m *Manager) ReloadPlugin(ctx context.Context, id string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	entry, ok := m.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}

	affected := map[string]bool{id: true}
	wasActive := map[string]bool{id: m.status(id) == StatusActive}
	for _, dep := range m.BuildDependencyGraph().TransitiveDependents(id) {
		if m.hasInstance(dep) {
			affected[dep] = true
			wasActive[dep] = m.status(dep) == StatusActive
		}
	}

	if err := m.unload(ctx, id); err != nil {
		return err
	}

	if entry.Path != "" && entry.ManifestPath != "" {
		reread, err := m.scanner.LoadFromPath(entry.Path)
		if err != nil {
			return m.fail(ctx, id, "reload", err)
		}
		if reread.ID != id {
			return m.fail(ctx, id, "reload", fmt.Errorf("manifest id changed from %q to %q", id, reread.ID))
		}
		m.registry.Put(reread)
	}

	order, err := m.ResolveLoadOrder()
	if err != nil {
		return err
	}

	var targetErr error
	for _, pid := range order {
		if !affected[pid] {
			continue
		}
		if err := m.load(ctx, pid); err != nil {
			if pid == id {
				targetErr = err
			}
			continue
		}
	}
	for _, pid := range order {
		if affected[pid] && wasActive[pid] && m.hasInstance(pid) {
			if err := m.activate(ctx, pid); err != nil && pid == id && targetErr == nil {
				targetErr = err
			}
		}
	}
	if targetErr != nil {
		return targetErr
	}

	m.bus.Emit(event.KindPluginReloaded, id, nil)
	m.logger.Info(ctx, "plugin reloaded", ports.F("plugin", id))
	return nil
}

// Shutdown deactivates every active plugin in reverse load order, unloads
// all plugins, cleans up every API instance and removes all listeners.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	order, err := m.ResolveLoadOrder()
	if err != nil {
		order = nil
		for _, e := range m.registry.List() {
			order = append(order, e.ID)
		}
	}

	for i := len(order) - 1; i >= 0; i-- {
		if m.status(order[i]) == StatusActive {
			if err := m.deactivate(ctx, order[i]); err != nil {
				m.logger.Warn(ctx, "plugin deactivate failed during shutdown", ports.F("plugin", order[i]), ports.Err(err))
			}
		}
	}
	for i := len(order) - 1; i >= 0; i-- {
		if m.hasInstance(order[i]) {
			if err := m.unload(ctx, order[i]); err != nil {
				m.logger.Warn(ctx, "plugin unload failed during shutdown", ports.F("plugin", order[i]), ports.Err(err))
			}
		}
	}
	if err := m.factory.CleanupAll(); err != nil {
		m.logger.Warn(ctx, "plugin API cleanup failed during shutdown", ports.Err(err))
	}

	m.bus.Emit(event.KindShutdown, "", nil)
	m.bus.Clear()
	m.logger.Info(ctx, "plugin manager shut down")
	return nil
}

// EnablePlugin marks a plugin enabled and persists the choice.
func (m *Manager) EnablePlugin(ctx context.Context, id string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.setEnabled(ctx, id, true)
}

// DisablePlugin marks a plugin disabled, unloading it first when loaded.
func (m *Manager) DisablePlugin(ctx context.Context, id string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	if m.hasInstance(id) {
		if err := m.unload(ctx, id); err != nil {
			return err
		}
	}
	return m.setEnabled(ctx, id, false)
}

func (m *Manager) setEnabled(ctx context.Context, id string, enabled bool) error {
	if !m.registry.Has(id) {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	if m.states != nil {
		if err := m.states.SetPluginEnabled(ctx, id, enabled); err != nil {
			return fmt.Errorf("failed to persist plugin state: %w", err)
		}
	}
	m.registry.Update(id, func(e *Entry) { e.Disabled = !enabled })
	return nil
}

// RemovePlugin unloads a plugin and forgets it.
func (m *Manager) RemovePlugin(ctx context.Context, id string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	if err := m.unload(ctx, id); err != nil {
		return err
	}
	m.dropEntry(id)
	return nil
}

func (m *Manager) dropEntry(id string) {
	m.registry.Remove(id)
	m.mu.Lock()
	lc := m.lifecycles[id]
	delete(m.lifecycles, id)
	m.mu.Unlock()
	if lc != nil {
		lc.Stop()
	}
}

// Plugin returns a loaded plugin instance.
func (m *Manager) Plugin(id string) (sdk.Plugin, bool) {
	return m.instance(id)
}

// IsActive reports whether a plugin is active.
func (m *Manager) IsActive(id string) bool {
	return m.status(id) == StatusActive
}

// PluginForPath returns the plugin whose directory contains path.
func (m *Manager) PluginForPath(path string) (string, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	best, bestLen := "", -1
	for _, e := range m.registry.List() {
		if e.Path == "" {
			continue
		}
		dir, err := filepath.Abs(e.Path)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(dir, abs)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		if len(dir) > bestLen {
			best, bestLen = e.ID, len(dir)
		}
	}
	return best, best != ""
}

func (m *Manager) ensureLifecycle(id string) *Lifecycle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lc, ok := m.lifecycles[id]; ok {
		return lc
	}
	lc, err := NewLifecycle(id)
	if err != nil {
		// The machine definition is static; failing to build it is a bug.
		panic(err)
	}
	m.lifecycles[id] = lc
	return lc
}

func (m *Manager) status(id string) Status {
	m.mu.RLock()
	lc, ok := m.lifecycles[id]
	m.mu.RUnlock()
	if !ok {
		return ""
	}
	return lc.Status()
}

func (m *Manager) instance(id string) (sdk.Plugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plugins[id]
	return p, ok
}

func (m *Manager) hasInstance(id string) bool {
	_, ok := m.instance(id)
	return ok
}

package plugin_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/lokus/internal/adapters/hostbridge"
	"github.com/felixgeelhaar/lokus/internal/adapters/logging"
	"github.com/felixgeelhaar/lokus/internal/domain/api"
	"github.com/felixgeelhaar/lokus/internal/domain/command"
	"github.com/felixgeelhaar/lokus/internal/domain/event"
	"github.com/felixgeelhaar/lokus/internal/domain/manifest"
	"github.com/felixgeelhaar/lokus/internal/domain/plugin"
	"github.com/felixgeelhaar/lokus/internal/domain/sdk"
	"github.com/felixgeelhaar/lokus/internal/ports"
	"github.com/felixgeelhaar/lokus/internal/testutil/mocks"
)

type fixture struct {
	manager *plugin.Manager
	loader  *mocks.Loader
	bridge  *hostbridge.Memory
	logs    *logging.Recorder

	mu     sync.Mutex
	events []event.Event
}

func newFixture(t *testing.T, opts ...plugin.Option) *fixture {
	t.Helper()
	f := &fixture{
		loader: mocks.NewLoader(),
		bridge: hostbridge.NewMemory(),
		logs:   logging.NewRecorder(),
	}
	factory := api.NewFactory(api.Deps{Bridge: f.bridge, States: f.bridge, Logger: f.logs})
	base := []plugin.Option{
		plugin.WithFactory(factory),
		plugin.WithLoaders(f.loader),
		plugin.WithStateStore(f.bridge),
		plugin.WithLogger(f.logs),
		plugin.WithHostVersion("1.2.0"),
	}
	f.manager = plugin.NewManager(append(base, opts...)...)
	_, err := f.manager.Bus().SubscribeAll(func(e event.Event) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, e)
	})
	require.NoError(t, err)
	return f
}

// add registers a builtin plugin; deps are dependency ids.
func (f *fixture) add(t *testing.T, id string, deps ...string) {
	t.Helper()
	m := &manifest.Manifest{
		ID:           id,
		Name:         id,
		Version:      "1.0.0",
		Main:         "builtin:" + id,
		LokusVersion: ">=1.0.0",
	}
	if len(deps) > 0 {
		m.Dependencies = make(map[string]string)
		for _, d := range deps {
			m.Dependencies[d] = "^1.0.0"
		}
	}
	require.NoError(t, f.manager.AddPlugin(context.Background(), m, ""))
}

func (f *fixture) kinds(pluginID string) []event.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []event.Kind
	for _, e := range f.events {
		if e.PluginID == pluginID {
			out = append(out, e.Kind)
		}
	}
	return out
}

func (f *fixture) instance(t *testing.T, id string) *mocks.Plugin {
	t.Helper()
	p, ok := f.loader.Instance(id)
	require.True(t, ok, "no instance for %s", id)
	return p
}

func TestManager_LoadAndActivate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "a")

	require.NoError(t, f.manager.LoadPlugin(ctx, "a"))
	info, err := f.manager.GetPluginInfo("a")
	require.NoError(t, err)
	assert.Equal(t, plugin.StatusLoaded, info.Status)
	assert.False(t, info.LoadedAt.IsZero())

	require.NoError(t, f.manager.ActivatePlugin(ctx, "a"))
	assert.True(t, f.manager.IsActive("a"))
	assert.Equal(t, []string{"initialize", "activate"}, f.instance(t, "a").Calls())
	assert.Equal(t, []event.Kind{event.KindPluginLoaded, event.KindPluginActivated}, f.kinds("a"))
}

func TestManager_ActivateTwiceIsNoop(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "a")
	require.NoError(t, f.manager.LoadPlugin(ctx, "a"))

	require.NoError(t, f.manager.ActivatePlugin(ctx, "a"))
	require.NoError(t, f.manager.ActivatePlugin(ctx, "a"))
	assert.Equal(t, 1, f.instance(t, "a").CallCount("activate"))
}

func TestManager_LoadErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "a")

	assert.ErrorIs(t, f.manager.LoadPlugin(ctx, "missing"), plugin.ErrPluginNotFound)
	require.NoError(t, f.manager.LoadPlugin(ctx, "a"))
	assert.ErrorIs(t, f.manager.LoadPlugin(ctx, "a"), plugin.ErrAlreadyLoaded)
	assert.ErrorIs(t, f.manager.ActivatePlugin(ctx, "missing"), plugin.ErrPluginNotFound)
}

func TestManager_ActivateRequiresLoad(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.add(t, "a")
	assert.ErrorIs(t, f.manager.ActivatePlugin(context.Background(), "a"), plugin.ErrNotLoaded)
}

func TestManager_InitializeFailureCleansUpAPI(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	boom := errors.New("boom")
	f.loader.Provide("a", func() sdk.Plugin { return mocks.NewPlugin().FailOn("initialize", boom) })
	f.add(t, "a")

	err := f.manager.LoadPlugin(ctx, "a")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, plugin.IsLifecycleError(err))

	info, _ := f.manager.GetPluginInfo("a")
	assert.Equal(t, plugin.StatusError, info.Status)
	assert.Contains(t, info.Error, "boom")
	_, ok := f.manager.Factory().Get("a")
	assert.False(t, ok)
	assert.Contains(t, f.kinds("a"), event.KindPluginError)
	assert.Equal(t, []string{"initialize", "cleanup"}, f.instance(t, "a").Calls())
}

func TestManager_InitializeFailureCleansUpPlugin(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	var ticks atomic.Int32
	p := mocks.NewPlugin().OnCall("initialize", func(p *mocks.Plugin) error {
		if _, err := p.SetInterval(5*time.Millisecond, func() { ticks.Add(1) }); err != nil {
			return err
		}
		return errors.New("half initialized")
	})
	f.loader.ProvidePlugin("a", p)
	f.add(t, "a")

	require.Error(t, f.manager.LoadPlugin(ctx, "a"))
	assert.Equal(t, []string{"initialize", "cleanup"}, p.Calls())
	assert.Equal(t, 0, p.DisposableCount())

	after := ticks.Load()
	time.Sleep(40 * time.Millisecond)
	assert.LessOrEqual(t, ticks.Load(), after+1)
}

func TestManager_ActivateFailureMovesToError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.loader.Provide("a", func() sdk.Plugin { return mocks.NewPlugin().FailOn("activate", errors.New("nope")) })
	f.add(t, "a")
	require.NoError(t, f.manager.LoadPlugin(ctx, "a"))

	err := f.manager.ActivatePlugin(ctx, "a")
	require.Error(t, err)
	assert.True(t, plugin.IsLifecycleError(err))
	assert.False(t, f.manager.IsActive("a"))
	info, _ := f.manager.GetPluginInfo("a")
	assert.Equal(t, plugin.StatusError, info.Status)
}

func TestManager_LoadOrderAndDependencies(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.add(t, "a", "b")
	f.add(t, "b")

	order, err := f.manager.ResolveLoadOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, order)

	info, _ := f.manager.GetPluginInfo("b")
	assert.Equal(t, []string{"a"}, info.Dependents)
}

func TestManager_ActivateNeedsActiveDependencies(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "a", "b")
	f.add(t, "b")
	require.NoError(t, f.manager.LoadPlugin(ctx, "b"))
	require.NoError(t, f.manager.LoadPlugin(ctx, "a"))

	err := f.manager.ActivatePlugin(ctx, "a")
	var depErr *plugin.DependencyFailedError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, "b", depErr.Dependency)

	require.NoError(t, f.manager.ActivatePlugin(ctx, "b"))
	require.NoError(t, f.manager.ActivatePlugin(ctx, "a"))
}

func TestManager_LoadAllPlugins(t *testing.T) {
	t.Parallel()

	f := newFixture(t, plugin.WithAutoActivate(true))
	f.add(t, "app", "ui", "store")
	f.add(t, "ui", "core")
	f.add(t, "store", "core")
	f.add(t, "core")

	report, err := f.manager.LoadAllPlugins(context.Background())
	require.NoError(t, err)
	assert.False(t, report.HasFailures())
	assert.Equal(t, []string{"core", "ui", "store", "app"}, report.Order)
	assert.Equal(t, report.Order, report.Loaded)
	assert.Equal(t, report.Order, report.Activated)

	stats := f.manager.GetStats()
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 4, stats.Active)
}

func TestManager_LoadAllPartialFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.loader.FailLoad("broken", errors.New("syntax error"))
	f.add(t, "broken")
	f.add(t, "needs-broken", "broken")
	f.add(t, "fine")

	report, err := f.manager.LoadAllPlugins(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"fine"}, report.Loaded)
	require.Contains(t, report.Failed, "broken")
	require.Contains(t, report.Failed, "needs-broken")

	var depErr *plugin.DependencyFailedError
	require.ErrorAs(t, report.Failed["needs-broken"], &depErr)
	assert.Equal(t, "broken", depErr.Dependency)

	stats := f.manager.GetStats()
	assert.Equal(t, 2, stats.Errored)
	assert.Equal(t, 1, stats.Loaded)
}

func TestManager_LoadAllMixedSiblingOutcomes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, plugin.WithMaxParallel(4))
	ctx := context.Background()
	f.loader.FailLoad("dep", errors.New("broken"))
	f.add(t, "dep")
	f.add(t, "ok0")
	var failing []string
	for i := 1; i <= 8; i++ {
		id := fmt.Sprintf("x%d", i)
		f.loader.FailLoad(id, errors.New("broken"))
		f.add(t, id, "ok0")
		failing = append(failing, id)
	}
	f.add(t, "y", "dep")
	f.add(t, "pre", "ok0")
	require.NoError(t, f.manager.LoadPlugin(ctx, "ok0"))
	require.NoError(t, f.manager.LoadPlugin(ctx, "pre"))

	report, err := f.manager.LoadAllPlugins(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ok0", "pre"}, report.Loaded)
	for _, id := range append(failing, "dep", "y") {
		assert.Contains(t, report.Failed, id)
	}
	var depErr *plugin.DependencyFailedError
	require.ErrorAs(t, report.Failed["y"], &depErr)
	assert.Equal(t, "dep", depErr.Dependency)
}

func TestManager_LoadAllAbortsOnGraphErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.add(t, "a", "b")
	f.add(t, "b", "a")
	f.add(t, "c")
	version := f.manager.Registry().Version()

	_, err := f.manager.LoadAllPlugins(context.Background())
	require.Error(t, err)
	assert.True(t, plugin.IsCircularDependency(err))
	assert.Empty(t, f.loader.Loads())
	assert.Equal(t, version, f.manager.Registry().Version())
	for _, e := range f.manager.Registry().List() {
		assert.Equal(t, plugin.StatusDiscovered, e.Status, e.ID)
		assert.NoError(t, e.Err, e.ID)
	}

	f2 := newFixture(t)
	f2.add(t, "a", "ghost")
	_, err = f2.manager.LoadAllPlugins(context.Background())
	assert.True(t, plugin.IsMissingDependency(err))
}

func TestManager_LoadAllSkipsDisabled(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "a")
	f.add(t, "b")
	require.NoError(t, f.manager.DisablePlugin(ctx, "b"))

	report, err := f.manager.LoadAllPlugins(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, report.Loaded)
	assert.Equal(t, []string{"b"}, report.Skipped)
	assert.ErrorIs(t, f.manager.LoadPlugin(ctx, "b"), plugin.ErrPluginDisabled)

	enabled, err := f.bridge.EnabledPlugins(ctx)
	require.NoError(t, err)
	assert.False(t, enabled["b"])

	require.NoError(t, f.manager.EnablePlugin(ctx, "b"))
	require.NoError(t, f.manager.LoadPlugin(ctx, "b"))
}

func TestManager_DisableUnloadsLoadedPlugin(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "a")
	require.NoError(t, f.manager.LoadPlugin(ctx, "a"))
	require.NoError(t, f.manager.ActivatePlugin(ctx, "a"))

	require.NoError(t, f.manager.DisablePlugin(ctx, "a"))
	_, loaded := f.manager.Plugin("a")
	assert.False(t, loaded)
	info, _ := f.manager.GetPluginInfo("a")
	assert.True(t, info.Disabled)
	assert.Equal(t, plugin.StatusDiscovered, info.Status)
}

func TestManager_DeactivateCascadesToDependents(t *testing.T) {
	t.Parallel()

	f := newFixture(t, plugin.WithAutoActivate(true))
	ctx := context.Background()
	f.add(t, "a", "b")
	f.add(t, "b")
	_, err := f.manager.LoadAllPlugins(ctx)
	require.NoError(t, err)

	require.NoError(t, f.manager.DeactivatePlugin(ctx, "b"))
	assert.False(t, f.manager.IsActive("a"))
	assert.False(t, f.manager.IsActive("b"))
	assert.Equal(t, 1, f.instance(t, "a").CallCount("deactivate"))
}

func TestManager_UnloadCleansUp(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.loader.Provide("a", func() sdk.Plugin {
		return mocks.NewPlugin().OnCall("activate", func(p *mocks.Plugin) error {
			_, err := p.RegisterCommand(command.Command{ID: "a.hello", Title: "Hello", Handler: func(context.Context, ...any) (any, error) { return nil, nil }})
			return err
		})
	})
	m := &manifest.Manifest{
		ID: "a", Name: "A", Version: "1.0.0", Main: "builtin:a", LokusVersion: ">=1.0.0",
		Permissions: []string{"commands:register"},
	}
	require.NoError(t, f.manager.AddPlugin(ctx, m, ""))
	require.NoError(t, f.manager.LoadPlugin(ctx, "a"))
	require.NoError(t, f.manager.ActivatePlugin(ctx, "a"))
	assert.True(t, f.manager.Factory().Commands().Exists("a.hello"))

	require.NoError(t, f.manager.UnloadPlugin(ctx, "a"))
	assert.False(t, f.manager.Factory().Commands().Exists("a.hello"))
	assert.Equal(t, []string{"initialize", "activate", "deactivate", "cleanup"}, f.instance(t, "a").Calls())
	_, ok := f.manager.Factory().Get("a")
	assert.False(t, ok)
	assert.Contains(t, f.kinds("a"), event.KindPluginUnloaded)
}

func TestManager_UnloadSurvivesCleanupFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.loader.Provide("a", func() sdk.Plugin { return mocks.NewPlugin().FailOn("cleanup", errors.New("stuck")) })
	f.add(t, "a")
	require.NoError(t, f.manager.LoadPlugin(ctx, "a"))

	require.NoError(t, f.manager.UnloadPlugin(ctx, "a"))
	_, loaded := f.manager.Plugin("a")
	assert.False(t, loaded)
	assert.True(t, f.logs.Contains(ports.LevelWarn, "plugin cleanup failed"))
}

func TestManager_UnloadCascadesToDependents(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "a", "b")
	f.add(t, "b")
	_, err := f.manager.LoadAllPlugins(ctx)
	require.NoError(t, err)

	require.NoError(t, f.manager.UnloadPlugin(ctx, "b"))
	_, aLoaded := f.manager.Plugin("a")
	assert.False(t, aLoaded)
}

func TestManager_ReloadRecoversFromError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	attempts := 0
	f.loader.Provide("a", func() sdk.Plugin {
		attempts++
		if attempts == 1 {
			return mocks.NewPlugin().FailOn("initialize", errors.New("first try"))
		}
		return mocks.NewPlugin()
	})
	f.add(t, "a")

	require.Error(t, f.manager.LoadPlugin(ctx, "a"))
	info, _ := f.manager.GetPluginInfo("a")
	require.Equal(t, plugin.StatusError, info.Status)

	require.NoError(t, f.manager.ReloadPlugin(ctx, "a"))
	info, _ = f.manager.GetPluginInfo("a")
	assert.Equal(t, plugin.StatusLoaded, info.Status)
	assert.Empty(t, info.Error)
	assert.Contains(t, f.kinds("a"), event.KindPluginReloaded)
}

func TestManager_ReloadRestoresActiveDependents(t *testing.T) {
	t.Parallel()

	f := newFixture(t, plugin.WithAutoActivate(true))
	ctx := context.Background()
	f.add(t, "a", "b")
	f.add(t, "b")
	_, err := f.manager.LoadAllPlugins(ctx)
	require.NoError(t, err)
	first := f.instance(t, "a")

	require.NoError(t, f.manager.ReloadPlugin(ctx, "b"))
	assert.True(t, f.manager.IsActive("b"))
	assert.True(t, f.manager.IsActive("a"))
	assert.NotSame(t, first, f.instance(t, "a"))
	assert.Equal(t, 1, first.CallCount("cleanup"))
}

func TestManager_ReloadRereadsManifest(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dir := filepath.Join(root, "a")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.lua"), []byte("-- a"), 0o644))
	write := func(version string) {
		data := fmt.Sprintf(`{"id":"a","name":"A","version":%q,"main":"main.lua","lokusVersion":">=1.0.0"}`, version)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.json"), []byte(data), 0o644))
	}
	write("1.0.0")

	f := newFixture(t, plugin.WithRoots(root))
	ctx := context.Background()
	_, err := f.manager.Initialize(ctx)
	require.NoError(t, err)
	require.NoError(t, f.manager.LoadPlugin(ctx, "a"))

	write("1.1.0")
	require.NoError(t, f.manager.ReloadPlugin(ctx, "a"))
	info, _ := f.manager.GetPluginInfo("a")
	assert.Equal(t, "1.1.0", info.Version)
	assert.Equal(t, plugin.StatusLoaded, info.Status)

	id, ok := f.manager.PluginForPath(filepath.Join(dir, "main.lua"))
	assert.True(t, ok)
	assert.Equal(t, "a", id)
}

func TestManager_MissingMainFile(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dir := filepath.Join(root, "a")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	data := `{"id":"a","name":"A","version":"1.0.0","main":"main.lua","lokusVersion":">=1.0.0"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.json"), []byte(data), 0o644))

	f := newFixture(t, plugin.WithRoots(root))
	ctx := context.Background()
	result, err := f.manager.Initialize(ctx)
	require.NoError(t, err)
	assert.Len(t, result.Entries, 1)

	err = f.manager.LoadPlugin(ctx, "a")
	assert.ErrorIs(t, err, plugin.ErrMainNotFound)
	assert.Empty(t, f.loader.Loads())
}

func TestManager_HostVersion(t *testing.T) {
	t.Parallel()

	m := &manifest.Manifest{ID: "future", Name: "Future", Version: "1.0.0", Main: "builtin:future", LokusVersion: ">=9.0.0"}
	ctx := context.Background()

	lenient := newFixture(t)
	require.NoError(t, lenient.manager.AddPlugin(ctx, m, ""))
	require.NoError(t, lenient.manager.LoadPlugin(ctx, "future"))
	assert.True(t, lenient.logs.Contains(ports.LevelWarn, "may not be compatible"))

	strict := newFixture(t, plugin.WithStrictVersions(true))
	require.NoError(t, strict.manager.AddPlugin(ctx, m, ""))
	err := strict.manager.LoadPlugin(ctx, "future")
	assert.True(t, plugin.IsVersionMismatch(err))
}

func TestManager_DependencyVersionMismatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	add := func(f *fixture) {
		base := &manifest.Manifest{ID: "base", Name: "Base", Version: "2.0.0", Main: "builtin:base", LokusVersion: ">=1.0.0"}
		user := &manifest.Manifest{
			ID: "user", Name: "User", Version: "1.0.0", Main: "builtin:user", LokusVersion: ">=1.0.0",
			Dependencies: map[string]string{"base": "^1.0.0"},
		}
		require.NoError(t, f.manager.AddPlugin(ctx, base, ""))
		require.NoError(t, f.manager.AddPlugin(ctx, user, ""))
	}

	lenient := newFixture(t)
	add(lenient)
	_, err := lenient.manager.ResolveLoadOrder()
	require.NoError(t, err)
	assert.True(t, lenient.logs.Contains(ports.LevelWarn, "dependency version mismatch"))

	strict := newFixture(t, plugin.WithStrictVersions(true))
	add(strict)
	_, err = strict.manager.ResolveLoadOrder()
	assert.True(t, plugin.IsVersionMismatch(err))
}

func TestManager_Shutdown(t *testing.T) {
	t.Parallel()

	f := newFixture(t, plugin.WithAutoActivate(true))
	ctx := context.Background()
	f.add(t, "a", "b")
	f.add(t, "b")
	_, err := f.manager.LoadAllPlugins(ctx)
	require.NoError(t, err)

	var order []string
	_, err = f.manager.Subscribe(event.KindPluginDeactivated, func(e event.Event) {
		order = append(order, e.PluginID)
	})
	require.NoError(t, err)

	require.NoError(t, f.manager.Shutdown(ctx))
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, 0, f.manager.Factory().Count())
	assert.Equal(t, 0, f.manager.Bus().Len())
	assert.Equal(t, 0, f.manager.GetStats().Loaded+f.manager.GetStats().Active)
	assert.Contains(t, f.kinds(""), event.KindShutdown)
}

func TestManager_DiscoverMergesRegistry(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mk := func(id string) {
		dir := filepath.Join(root, id)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "main.lua"), []byte(""), 0o644))
		data := fmt.Sprintf(`{"id":%q,"name":%q,"version":"1.0.0","main":"main.lua","lokusVersion":">=1.0.0"}`, id, id)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.json"), []byte(data), 0o644))
	}
	mk("a")
	mk("b")

	f := newFixture(t, plugin.WithRoots(root))
	ctx := context.Background()
	_, err := f.manager.Initialize(ctx)
	require.NoError(t, err)
	require.NoError(t, f.manager.LoadPlugin(ctx, "a"))

	require.NoError(t, os.RemoveAll(filepath.Join(root, "b")))
	_, err = f.manager.DiscoverPlugins(ctx)
	require.NoError(t, err)

	assert.True(t, f.manager.Registry().Has("a"))
	assert.False(t, f.manager.Registry().Has("b"))
	_, loaded := f.manager.Plugin("a")
	assert.True(t, loaded)
}

func TestManager_ConcurrentDiscovery(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dir := filepath.Join(root, "a")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.lua"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.json"),
		[]byte(`{"id":"a","name":"a","version":"1.0.0","main":"main.lua","lokusVersion":">=1.0.0"}`), 0o644))

	f := newFixture(t, plugin.WithRoots(root))
	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.manager.DiscoverPlugins(ctx)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, f.manager.Registry().Count())
}

func TestManager_RemovePlugin(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "a")
	require.NoError(t, f.manager.LoadPlugin(ctx, "a"))

	require.NoError(t, f.manager.RemovePlugin(ctx, "a"))
	_, err := f.manager.GetPluginInfo("a")
	assert.ErrorIs(t, err, plugin.ErrPluginNotFound)
	assert.Empty(t, f.manager.ListPlugins())
}

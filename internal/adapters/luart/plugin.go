package luart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/felixgeelhaar/lokus/internal/domain/api"
	"github.com/felixgeelhaar/lokus/internal/domain/plugin"
	"github.com/felixgeelhaar/lokus/internal/domain/sdk"
	"github.com/felixgeelhaar/lokus/internal/ports"
)

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger plugins log through.
func WithLogger(logger ports.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithCallTimeout bounds every call into Lua code.
func WithCallTimeout(d time.Duration) Option {
	return func(l *Loader) {
		l.timeout = d
	}
}

// Loader loads plugins whose main is a .lua script.
type Loader struct {
	logger  ports.Logger
	timeout time.Duration
}

// NewLoader creates a Lua loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{timeout: DefaultCallTimeout}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = ports.OrNop(l.logger)
	return l
}

// Name implements plugin.ModuleLoader.
func (l *Loader) Name() string {
	return "lua"
}

// Supports implements plugin.ModuleLoader.
func (l *Loader) Supports(entry *plugin.Entry) bool {
	return entry.Manifest != nil && plugin.HasExtension(entry, ".lua")
}

// Load compiles and runs the script's top level. The script must define
// global activate and deactivate functions or return a table holding them.
func (l *Loader) Load(ctx context.Context, entry *plugin.Entry) (sdk.Plugin, error) {
	st, err := newState(l.timeout)
	if err != nil {
		return nil, err
	}
	p := &Plugin{
		id:     entry.ID,
		state:  st,
		logger: l.logger.With(ports.F("plugin", entry.ID)),
	}

	err = st.run(ctx, func(L *lua.LState) error {
		p.module = p.install(L, entry)
		fn, err := L.LoadFile(plugin.MainPath(entry))
		if err != nil {
			return fmt.Errorf("failed to compile %s: %w", entry.Manifest.Main, err)
		}
		if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}); err != nil {
			return fmt.Errorf("failed to run %s: %w", entry.Manifest.Main, err)
		}
		ret := L.Get(-1)
		L.Pop(1)
		p.activate, p.deactivate = hooks(L, ret)
		if p.activate == nil || p.deactivate == nil {
			return fmt.Errorf("%w: %w", plugin.ErrInvalidPluginShape, ErrMissingHook)
		}
		return nil
	})
	if err != nil {
		st.close()
		return nil, err
	}
	return p, nil
}

func hooks(L *lua.LState, ret lua.LValue) (activate, deactivate *lua.LFunction) {
	lookup := L.GetGlobal
	if tbl, ok := ret.(*lua.LTable); ok {
		lookup = tbl.RawGetString
	}
	activate, _ = lookup("activate").(*lua.LFunction)
	deactivate, _ = lookup("deactivate").(*lua.LFunction)
	return activate, deactivate
}

// Plugin is a loaded Lua script.
type Plugin struct {
	sdk.Base

	id         string
	state      *state
	module     *lua.LTable
	activate   *lua.LFunction
	deactivate *lua.LFunction
	logger     ports.Logger

	mu      sync.Mutex
	closing bool
	pending sync.WaitGroup
}

// Activate calls the script's activate function with the lokus module.
func (p *Plugin) Activate(ctx context.Context) error {
	if err := p.Base.Activate(ctx); err != nil {
		return err
	}
	if _, err := p.state.call(ctx, p.activate, p.module); err != nil {
		_ = p.Base.Deactivate(ctx)
		return fmt.Errorf("lua activate: %w", err)
	}
	return nil
}

// Deactivate calls the script's deactivate function.
func (p *Plugin) Deactivate(ctx context.Context) error {
	_, err := p.state.call(ctx, p.deactivate, p.module)
	if baseErr := p.Base.Deactivate(ctx); baseErr != nil {
		return baseErr
	}
	if err != nil {
		return fmt.Errorf("lua deactivate: %w", err)
	}
	return nil
}

// Cleanup releases the script's registrations, waits for callbacks in
// flight and closes the Lua state.
func (p *Plugin) Cleanup(ctx context.Context) error {
	err := p.Base.Cleanup(ctx)

	p.mu.Lock()
	p.closing = true
	p.mu.Unlock()
	p.pending.Wait()

	p.state.close()
	return err
}

// dispatch runs fn on its own goroutine. Lua listeners and Lua-initiated
// command executions go through here so a script never re-enters its own
// state while it holds it.
func (p *Plugin) dispatch(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closing {
		return
	}
	p.pending.Add(1)
	go func() {
		defer p.pending.Done()
		fn()
	}()
}

// Wait blocks until every dispatched callback has finished.
func (p *Plugin) Wait() {
	p.pending.Wait()
}

// invoke calls a Lua function from a Go callback and logs failures.
func (p *Plugin) invoke(what string, fn *lua.LFunction, args ...any) {
	if _, err := p.state.call(context.Background(), fn, args...); err != nil && !errors.Is(err, ErrStateClosed) {
		p.logger.Warn(context.Background(), "lua "+what+" failed", ports.Err(err))
	}
}

// hostAPI returns the plugin's API or raises a Lua error.
func (p *Plugin) hostAPI(L *lua.LState) *api.API {
	a := p.API()
	if a == nil {
		L.RaiseError("%s", sdk.ErrAPINotAvailable.Error())
	}
	return a
}

var _ sdk.Plugin = (*Plugin)(nil)

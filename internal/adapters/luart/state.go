// Package luart runs plugins written in Lua on gopher-lua. Each plugin gets
// its own sandboxed state: only the base, table, string and math libraries
// are opened, and the loaders that read code from disk or strings are
// removed. Plugins reach the host through the global lokus module.
package luart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// DefaultCallTimeout bounds a single call into Lua code.
const DefaultCallTimeout = 5 * time.Second

// Errors for Lua state operations.
var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")
	// ErrMissingHook is returned when a script lacks activate or deactivate.
	ErrMissingHook = errors.New("lua plugin must define activate and deactivate functions")
)

// unsafeGlobals are removed from the base library.
var unsafeGlobals = []string{
	"dofile",
	"loadfile",
	"load",
	"loadstring",
	"require",
	"module",
	"getfenv",
	"setfenv",
	"newproxy",
}

// state wraps an LState. gopher-lua states are not goroutine-safe, so every
// entry into Lua holds mu.
type state struct {
	mu      sync.Mutex
	L       *lua.LState
	timeout time.Duration
	closed  bool
}

func newState(timeout time.Duration) (*state, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	libs := []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
	for _, lib := range libs {
		if err := L.CallByParam(lua.P{Fn: L.NewFunction(lib.open), NRet: 0, Protect: true}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("failed to open lua %s library: %w", lib.name, err)
		}
	}
	for _, name := range unsafeGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &state{L: L, timeout: timeout}, nil
}

// run locks the state and executes fn with a bounded context attached, so
// long-running Lua code is interrupted when ctx ends or the timeout passes.
func (s *state) run(ctx context.Context, fn func(L *lua.LState) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStateClosed
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn(s.L)
}

// call invokes fn with args and returns its first result.
func (s *state) call(ctx context.Context, fn *lua.LFunction, args ...any) (any, error) {
	var result any
	err := s.run(ctx, func(L *lua.LState) error {
		largs := make([]lua.LValue, len(args))
		for i, a := range args {
			largs[i] = toLua(L, a)
		}
		if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, largs...); err != nil {
			return err
		}
		ret := L.Get(-1)
		L.Pop(1)
		result = toGo(ret)
		return nil
	})
	return result, err
}

// callContext returns the context of the call in progress.
func callContext(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func (s *state) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.L.Close()
	s.closed = true
}

func (s *state) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Package mocks provides test doubles for testing.
package mocks

import (
	"context"
	"sync"

	"github.com/felixgeelhaar/lokus/internal/domain/api"
	"github.com/felixgeelhaar/lokus/internal/domain/sdk"
)

// Plugin is a thread-safe sdk.Plugin test double. It embeds sdk.Base so the
// API and disposable tracking behave like a real plugin, and records every
// lifecycle call.
type Plugin struct {
	sdk.Base

	mu    sync.Mutex
	calls []string
	errs  map[string]error
	hooks map[string]func(*Plugin) error
}

// NewPlugin creates a Plugin mock.
func NewPlugin() *Plugin {
	return &Plugin{
		errs:  make(map[string]error),
		hooks: make(map[string]func(*Plugin) error),
	}
}

// FailOn makes the named lifecycle method ("initialize", "activate",
// "deactivate", "cleanup") return err.
func (p *Plugin) FailOn(method string, err error) *Plugin {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[method] = err
	return p
}

// OnCall runs fn after the named lifecycle method succeeds.
func (p *Plugin) OnCall(method string, fn func(*Plugin) error) *Plugin {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hooks[method] = fn
	return p
}

// Calls returns the recorded lifecycle calls in order.
func (p *Plugin) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make([]string, len(p.calls))
	copy(result, p.calls)
	return result
}

// CallCount returns how many times method was called.
func (p *Plugin) CallCount(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c == method {
			n++
		}
	}
	return n
}

func (p *Plugin) record(method string) error {
	p.mu.Lock()
	p.calls = append(p.calls, method)
	err := p.errs[method]
	p.mu.Unlock()
	return err
}

func (p *Plugin) after(method string) error {
	p.mu.Lock()
	fn := p.hooks[method]
	p.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(p)
}

// Initialize records the call and initializes the embedded base.
func (p *Plugin) Initialize(ctx context.Context, pluginAPI *api.API) error {
	if err := p.record("initialize"); err != nil {
		return err
	}
	if err := p.Base.Initialize(ctx, pluginAPI); err != nil {
		return err
	}
	return p.after("initialize")
}

// Activate records the call and activates the embedded base.
func (p *Plugin) Activate(ctx context.Context) error {
	if err := p.record("activate"); err != nil {
		return err
	}
	if err := p.Base.Activate(ctx); err != nil {
		return err
	}
	return p.after("activate")
}

// Deactivate records the call and deactivates the embedded base.
func (p *Plugin) Deactivate(ctx context.Context) error {
	if err := p.record("deactivate"); err != nil {
		return err
	}
	if err := p.Base.Deactivate(ctx); err != nil {
		return err
	}
	return p.after("deactivate")
}

// Cleanup records the call and disposes everything the base tracked.
func (p *Plugin) Cleanup(ctx context.Context) error {
	callErr := p.record("cleanup")
	if err := p.Base.Cleanup(ctx); err != nil {
		return err
	}
	if callErr != nil {
		return callErr
	}
	return p.after("cleanup")
}

var _ sdk.Plugin = (*Plugin)(nil)

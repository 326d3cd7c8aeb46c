package plugin

import (
	"fmt"
	"sync"

	"github.com/felixgeelhaar/statekit"
)

// Event types for the lifecycle state machine.
const (
	EventLoad       = "LOAD"
	EventActivate   = "ACTIVATE"
	EventDeactivate = "DEACTIVATE"
	EventUnload     = "UNLOAD"
	EventFail       = "FAIL"
	EventReset      = "RESET"
)

// transitions mirrors the machine so invalid events are rejected before
// they reach the interpreter.
var transitions = map[Status]map[string]Status{
	StatusDiscovered: {EventLoad: StatusLoaded, EventFail: StatusError},
	StatusLoaded:     {EventActivate: StatusActive, EventUnload: StatusDiscovered, EventFail: StatusError},
	StatusActive:     {EventDeactivate: StatusLoaded, EventUnload: StatusDiscovered, EventFail: StatusError},
	StatusError:      {EventReset: StatusDiscovered},
}

// LifecycleContext is the statekit context of a plugin's machine.
type LifecycleContext struct {
	Transitions int
	LastError   error
}

// Lifecycle drives one plugin through its states.
type Lifecycle struct {
	id     string
	mu     sync.Mutex
	interp *statekit.Interpreter[LifecycleContext]
	ctx    LifecycleContext
}

// NewLifecycle builds and starts the state machine for a plugin.
func NewLifecycle(id string) (*Lifecycle, error) {
	l := &Lifecycle{id: id}
	machine, err := statekit.NewMachine[LifecycleContext]("plugin:"+id).
		WithInitial(statekit.StateID(StatusDiscovered)).
		WithContext(LifecycleContext{}).
		WithAction("count", func(_ *LifecycleContext, event statekit.Event) {
			l.ctx.Transitions++
			if event.Type == EventReset {
				l.ctx.LastError = nil
			}
		}).
		WithAction("recordError", func(_ *LifecycleContext, event statekit.Event) {
			if err, ok := event.Payload.(error); ok {
				l.ctx.LastError = err
			}
		}).
		State(statekit.StateID(StatusDiscovered)).
		OnEntry("count").
		On(EventLoad).Target(statekit.StateID(StatusLoaded)).
		On(EventFail).Target(statekit.StateID(StatusError)).Done().
		State(statekit.StateID(StatusLoaded)).
		OnEntry("count").
		On(EventActivate).Target(statekit.StateID(StatusActive)).
		On(EventUnload).Target(statekit.StateID(StatusDiscovered)).
		On(EventFail).Target(statekit.StateID(StatusError)).Done().
		State(statekit.StateID(StatusActive)).
		OnEntry("count").
		On(EventDeactivate).Target(statekit.StateID(StatusLoaded)).
		On(EventUnload).Target(statekit.StateID(StatusDiscovered)).
		On(EventFail).Target(statekit.StateID(StatusError)).Done().
		State(statekit.StateID(StatusError)).
		OnEntry("recordError").
		On(EventReset).Target(statekit.StateID(StatusDiscovered)).Done().
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build lifecycle for %s: %w", id, err)
	}

	l.interp = statekit.NewInterpreter(machine)
	l.interp.Start()
	return l, nil
}

// Status returns the current state.
func (l *Lifecycle) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status(l.interp.State().Value)
}

// Can reports whether event is valid in the current state.
func (l *Lifecycle) Can(event string) bool {
	_, ok := transitions[l.Status()][event]
	return ok
}

// Fire sends event to the machine. FAIL takes the error as payload.
func (l *Lifecycle) Fire(event string, payload any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	from := Status(l.interp.State().Value)
	want, ok := transitions[from][event]
	if !ok {
		return &TransitionError{ID: l.id, From: from, Event: event}
	}
	l.interp.Send(statekit.Event{Type: statekit.EventType(event), Payload: payload})
	if got := Status(l.interp.State().Value); got != want {
		return fmt.Errorf("plugin %q: %s from %s reached %s, expected %s", l.id, event, from, got, want)
	}
	return nil
}

// LastError returns the error recorded on entering the error state.
func (l *Lifecycle) LastError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ctx.LastError
}

// Transitions returns how many states have been entered.
func (l *Lifecycle) Transitions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ctx.Transitions
}

// Stop halts the interpreter.
func (l *Lifecycle) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.interp.Stop()
}

// Package event implements the runtime's typed publish/subscribe bus.
package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/lokus/internal/domain/disposable"
	"github.com/felixgeelhaar/lokus/internal/ports"
)

// Kind identifies an event. The set of kinds is closed.
type Kind string

// Manager lifecycle events.
const (
	KindInitialized       Kind = "initialized"
	KindPluginLoaded      Kind = "plugin_loaded"
	KindPluginActivated   Kind = "plugin_activated"
	KindPluginDeactivated Kind = "plugin_deactivated"
	KindPluginUnloaded    Kind = "plugin_unloaded"
	KindPluginReloaded    Kind = "plugin_reloaded"
	KindPluginError       Kind = "plugin_error"
	KindShutdown          Kind = "shutdown"
)

// Plugin API events.
const (
	KindNotification        Kind = "notification"
	KindDialog              Kind = "dialog"
	KindSettingChanged      Kind = "setting_changed"
	KindPermissionChanged   Kind = "permission_changed"
	KindContributionAdded   Kind = "contribution_added"
	KindContributionRemoved Kind = "contribution_removed"
	KindPluginEvent         Kind = "plugin_event"
)

// Command registry events.
const (
	KindCommandRegistered   Kind = "command-registered"
	KindCommandUnregistered Kind = "command-unregistered"
	KindCommandError        Kind = "command-error"
	KindCommandsCleared     Kind = "commands-cleared"
)

var kinds = map[Kind]struct{}{
	KindInitialized: {}, KindPluginLoaded: {}, KindPluginActivated: {},
	KindPluginDeactivated: {}, KindPluginUnloaded: {}, KindPluginReloaded: {},
	KindPluginError: {}, KindShutdown: {},
	KindNotification: {}, KindDialog: {}, KindSettingChanged: {},
	KindPermissionChanged: {}, KindContributionAdded: {}, KindContributionRemoved: {},
	KindPluginEvent: {},
	KindCommandRegistered: {}, KindCommandUnregistered: {}, KindCommandError: {},
	KindCommandsCleared: {},
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := kinds[k]
	return ok
}

// Kinds returns every known kind.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	return out
}

// ErrUnknownKind is returned when subscribing to or publishing a kind outside
// the closed set.
var ErrUnknownKind = errors.New("unknown event kind")

// Event is a published notification.
type Event struct {
	Kind     Kind
	PluginID string
	Payload  any
	Time     time.Time
}

// Handler receives events.
type Handler func(Event)

type subscription struct {
	id      uint64
	kind    Kind // empty for wildcard subscriptions
	handler Handler
}

// Bus delivers events synchronously to subscribers in subscription order.
// Handler panics are recovered and logged.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscription
	nextID uint64
	logger ports.Logger
	now    func() time.Time
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithLogger sets the bus logger.
func WithLogger(logger ports.Logger) BusOption {
	return func(b *Bus) {
		b.logger = logger
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) BusOption {
	return func(b *Bus) {
		b.now = now
	}
}

// NewBus creates an event bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = ports.OrNop(b.logger)
	return b
}

// Subscribe registers handler for kind. Disposing the result unsubscribes.
func (b *Bus) Subscribe(kind Kind, handler Handler) (disposable.Disposable, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	return b.add(kind, handler), nil
}

// SubscribeAll registers handler for every kind.
func (b *Bus) SubscribeAll(handler Handler) (disposable.Disposable, error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	return b.add("", handler), nil
}

func (b *Bus) add(kind Kind, handler Handler) disposable.Disposable {
	b.mu.Lock()
	b.nextID++
	sub := &subscription{id: b.nextID, kind: kind, handler: handler}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return disposable.FromFunc(func() {
		b.remove(sub.id)
	})
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers an event to matching subscribers. Unknown kinds are
// dropped with a warning.
func (b *Bus) Publish(e Event) {
	if !e.Kind.Valid() {
		b.logger.Warn(context.Background(), "dropping event of unknown kind", ports.F("kind", string(e.Kind)))
		return
	}
	if e.Time.IsZero() {
		e.Time = b.now()
	}

	b.mu.RLock()
	targets := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.kind == "" || s.kind == e.Kind {
			targets = append(targets, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range targets {
		b.deliver(h, e)
	}
}

// Emit is shorthand for Publish with the given fields.
func (b *Bus) Emit(kind Kind, pluginID string, payload any) {
	b.Publish(Event{Kind: kind, PluginID: pluginID, Payload: payload})
}

func (b *Bus) deliver(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error(context.Background(), "event handler panicked",
				ports.F("kind", string(e.Kind)), ports.F("panic", fmt.Sprint(r)))
		}
	}()
	h(e)
}

// Count returns the number of subscribers for kind, wildcard ones included.
func (b *Bus) Count(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, s := range b.subs {
		if s.kind == "" || s.kind == kind {
			n++
		}
	}
	return n
}

// Len returns the total number of subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Clear removes every subscription.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = nil
}

// Package disposable provides release-once resources and the Store that owns
// them for the lifetime of a plugin.
package disposable

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/lokus/internal/ports"
)

// Disposable is a resource that can be released.
type Disposable interface {
	Dispose() error
}

type funcDisposable struct {
	once sync.Once
	fn   func() error
}

func (f *funcDisposable) Dispose() error {
	var err error
	f.once.Do(func() {
		err = f.fn()
	})
	return err
}

// FromFunc adapts a zero-argument cleanup function. The function runs at most
// once however many times Dispose is called.
func FromFunc(fn func()) Disposable {
	return &funcDisposable{fn: func() error {
		if fn != nil {
			fn()
		}
		return nil
	}}
}

// FromErrFunc adapts a cleanup function that can fail. It runs at most once.
func FromErrFunc(fn func() error) Disposable {
	return &funcDisposable{fn: func() error {
		if fn == nil {
			return nil
		}
		return fn()
	}}
}

// Nop is a Disposable that does nothing.
var Nop Disposable = FromFunc(nil)

// Store owns a set of disposables and releases them together.
type Store struct {
	mu       sync.Mutex
	items    []Disposable
	disposed bool
	logger   ports.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger that receives dispose failures.
func WithLogger(logger ports.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = ports.OrNop(s.logger)
	return s
}

// Add takes ownership of d and returns it. Adding to a disposed store
// releases d immediately.
func (s *Store) Add(d Disposable) Disposable {
	if d == nil {
		return Nop
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		if err := safeDispose(d); err != nil {
			s.logger.Warn(context.Background(), "dispose after store disposal failed", ports.Err(err))
		}
		return d
	}
	s.items = append(s.items, d)
	s.mu.Unlock()
	return d
}

// Remove forgets d without releasing it. It reports whether d was held.
func (s *Store) Remove(d Disposable) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, item := range s.items {
		if item == d {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return true
		}
	}
	return false
}

// Size returns the number of held disposables.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// IsDisposed reports whether Dispose has been called.
func (s *Store) IsDisposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// Dispose releases every held disposable in reverse order of addition. A
// failing or panicking disposable is logged and does not stop the others.
// The joined failures are returned; later calls are no-ops.
func (s *Store) Dispose() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	items := s.items
	s.items = nil
	s.mu.Unlock()

	var errs []error
	for i := len(items) - 1; i >= 0; i-- {
		if err := safeDispose(items[i]); err != nil {
			s.logger.Warn(context.Background(), "disposable failed", ports.Err(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func safeDispose(d Disposable) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispose panicked: %v", r)
		}
	}()
	return d.Dispose()
}

var _ Disposable = (*Store)(nil)

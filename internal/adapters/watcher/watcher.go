// Package watcher reloads plugins when their files change on disk. Bursts of
// filesystem events for one plugin are coalesced into a single reload.
package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/felixgeelhaar/lokus/internal/domain/plugin"
	"github.com/felixgeelhaar/lokus/internal/ports"
)

// DefaultDelay is how long the watcher waits for events to settle.
const DefaultDelay = 200 * time.Millisecond

// rescanKey is the pending key for changes outside any known plugin.
const rescanKey = ""

// Errors returned by the watcher.
var (
	ErrWatcherClosed  = errors.New("watcher is closed")
	ErrAlreadyStarted = errors.New("watcher already started")
)

// Target is what the watcher drives. *plugin.Manager satisfies it.
type Target interface {
	PluginForPath(path string) (string, bool)
	ReloadPlugin(ctx context.Context, id string) error
	DiscoverPlugins(ctx context.Context) (*plugin.DiscoveryResult, error)
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(logger ports.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithDelay sets the debounce delay.
func WithDelay(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.delay = d
		}
	}
}

// WithReloadHook registers fn to run after every reload attempt.
func WithReloadHook(fn func(id string, err error)) Option {
	return func(w *Watcher) {
		w.hook = fn
	}
}

// Watcher turns filesystem events under plugin roots into plugin reloads.
type Watcher struct {
	target Target
	logger ports.Logger
	delay  time.Duration
	hook   func(id string, err error)

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	paths   map[string]bool
	pending map[string]*time.Timer
	started bool
	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// New creates a watcher for target.
func New(target Target, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		target:  target,
		delay:   DefaultDelay,
		fsw:     fsw,
		paths:   make(map[string]bool),
		pending: make(map[string]*time.Timer),
		closeCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = ports.OrNop(w.logger)
	return w, nil
}

// Watch adds root and every directory below it. A missing root is skipped.
func (w *Watcher) Watch(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return filepath.WalkDir(abs, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != abs && hidden(p) {
			return filepath.SkipDir
		}
		return w.add(p)
	})
}

func (w *Watcher) add(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWatcherClosed
	}
	if w.paths[dir] {
		return nil
	}
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	w.paths[dir] = true
	return nil
}

// WatchedPaths returns the directories being watched.
func (w *Watcher) WatchedPaths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.paths))
	for p := range w.paths {
		out = append(out, p)
	}
	return out
}

// Start processes events until ctx ends or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWatcherClosed
	}
	if w.started {
		return ErrAlreadyStarted
	}
	w.started = true
	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.closeCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "file watcher error", ports.Err(err))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod || hidden(ev.Name) {
		return
	}
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.Watch(ev.Name); err != nil {
				w.logger.Warn(ctx, "failed to watch directory", ports.F("path", ev.Name), ports.Err(err))
			}
		}
	}

	key := rescanKey
	if id, ok := w.target.PluginForPath(ev.Name); ok {
		key = id
	}
	w.schedule(ctx, key)
}

// schedule (re)arms the timer for key.
func (w *Watcher) schedule(ctx context.Context, key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if prev, ok := w.pending[key]; ok && prev.Stop() {
		w.wg.Done()
	}
	w.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.delay, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.closed || w.pending[key] != t {
			w.mu.Unlock()
			return
		}
		delete(w.pending, key)
		w.mu.Unlock()
		w.fire(ctx, key)
	})
	w.pending[key] = t
}

func (w *Watcher) fire(ctx context.Context, key string) {
	if ctx.Err() != nil {
		return
	}
	var err error
	if key == rescanKey {
		_, err = w.target.DiscoverPlugins(ctx)
		if err != nil {
			w.logger.Warn(ctx, "plugin rescan failed", ports.Err(err))
		}
	} else {
		w.logger.Info(ctx, "reloading plugin", ports.F("plugin", key))
		err = w.target.ReloadPlugin(ctx, key)
		if err != nil {
			w.logger.Warn(ctx, "plugin reload failed", ports.F("plugin", key), ports.Err(err))
		}
	}
	if w.hook != nil {
		w.hook(key, err)
	}
}

// Close stops the watcher and waits for reloads in flight.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	for key, t := range w.pending {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.pending, key)
	}
	w.mu.Unlock()

	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

func hidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") && base != "." && base != ".."
}

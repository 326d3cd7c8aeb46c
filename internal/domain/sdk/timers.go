package sdk

import (
	"sync"
	"time"

	"github.com/felixgeelhaar/lokus/internal/domain/disposable"
)

// SetTimeout runs fn once after d. Disposing the result cancels it.
func (b *Base) SetTimeout(d time.Duration, fn func()) (disposable.Disposable, error) {
	if _, err := b.pluginAPI(); err != nil {
		return nil, err
	}
	timer := time.AfterFunc(d, fn)
	return b.Track(disposable.FromFunc(func() { timer.Stop() })), nil
}

// SetInterval runs fn every d until disposed.
func (b *Base) SetInterval(d time.Duration, fn func()) (disposable.Disposable, error) {
	if _, err := b.pluginAPI(); err != nil {
		return nil, err
	}
	ticker := time.NewTicker(d)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				fn()
			case <-done:
				return
			}
		}
	}()
	return b.Track(disposable.FromFunc(func() {
		ticker.Stop()
		close(done)
	})), nil
}

// Debounce returns a trigger that runs fn once calls have stopped for d.
// Cleanup cancels a pending call.
func (b *Base) Debounce(d time.Duration, fn func()) (func(), error) {
	if _, err := b.pluginAPI(); err != nil {
		return nil, err
	}
	deb := &debouncer{delay: d, callback: fn}
	b.Track(disposable.FromFunc(deb.cancel))
	return deb.call, nil
}

// Throttle returns a trigger that runs fn at most once per d, on the leading
// edge. Calls inside the window are dropped.
func (b *Base) Throttle(d time.Duration, fn func()) (func(), error) {
	if _, err := b.pluginAPI(); err != nil {
		return nil, err
	}
	th := &throttler{interval: d, callback: fn}
	b.Track(disposable.FromFunc(th.stop))
	return th.call, nil
}

type debouncer struct {
	mu       sync.Mutex
	delay    time.Duration
	timer    *time.Timer
	seq      uint64 // detects stale timer callbacks
	stopped  bool
	callback func()
}

func (d *debouncer) call() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.seq++
	current := d.seq
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		if d.stopped || d.seq != current {
			d.mu.Unlock()
			return
		}
		d.mu.Unlock()
		d.callback()
	})
}

func (d *debouncer) cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.seq++
	if d.timer != nil {
		d.timer.Stop()
	}
}

type throttler struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	stopped  bool
	callback func()
}

func (t *throttler) call() {
	t.mu.Lock()
	now := time.Now()
	if t.stopped || (!t.last.IsZero() && now.Sub(t.last) < t.interval) {
		t.mu.Unlock()
		return
	}
	t.last = now
	t.mu.Unlock()
	t.callback()
}

func (t *throttler) stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

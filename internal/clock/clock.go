// Package clock provides the monotonic countdown primitive used for
// preparation and response windows.
package clock

import (
	"sync"
	"time"
)

const (
	// DefaultTick is the remaining-time emission interval.
	DefaultTick = 250 * time.Millisecond

	minTick = 10 * time.Millisecond
)

// Timer is one running countdown. Ticks carries monotonically decreasing
// remaining time; Expired closes exactly once when the window reaches zero.
// A Cancel that wins the race against expiry guarantees Expired never closes.
type Timer struct {
	ticks   chan time.Duration
	expired chan struct{}
	stop    chan struct{}

	mu        sync.Mutex
	cancelled bool
	done      bool

	deadline time.Time
}

// Start begins a countdown of total duration emitting at the given tick
// interval. A non-positive tick falls back to DefaultTick.
func Start(total, tick time.Duration) *Timer {
	if tick <= 0 {
		tick = DefaultTick
	}
	if tick < minTick {
		tick = minTick
	}

	t := &Timer{
		ticks:    make(chan time.Duration, 1),
		expired:  make(chan struct{}),
		stop:     make(chan struct{}),
		deadline: time.Now().Add(total),
	}

	go t.run(tick)
	return t
}

// Ticks returns the remaining-time channel. Values decrease monotonically;
// the channel is never closed, so callers must also select on Expired.
func (t *Timer) Ticks() <-chan time.Duration {
	return t.ticks
}

// Expired is closed exactly once when remaining time reaches zero. It never
// closes after a successful Cancel.
func (t *Timer) Expired() <-chan struct{} {
	return t.expired
}

// Remaining reports time left on the window, floored at zero.
func (t *Timer) Remaining() time.Duration {
	rem := time.Until(t.deadline)
	if rem < 0 {
		return 0
	}
	return rem
}

// Cancel stops emission. Idempotent; safe to call after expiry.
func (t *Timer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled || t.done {
		t.cancelled = true
		return
	}
	t.cancelled = true
	close(t.stop)
}

func (t *Timer) run(tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			rem := time.Until(t.deadline)
			if rem <= 0 {
				t.expire()
				return
			}
			// Drop the tick rather than block a slow consumer.
			select {
			case t.ticks <- rem:
			case <-t.stop:
				return
			default:
			}
		}
	}
}

// expire closes Expired unless Cancel already won. The mutex makes the
// cancel/expiry race a strict either-or.
func (t *Timer) expire() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled || t.done {
		return
	}
	t.done = true
	close(t.expired)
}

package player

import (
	"sync"
	"time"
)

// debouncer coalesces bursts of triggers into one fire: each trigger
// cancels and restarts the delay timer, so dragging ten cards costs one
// network write. A maximum delay bounds the restart chain: a
// continuously mutating client still flushes at least every maxDelay
// instead of starving the sync.
type debouncer struct {
	delay    time.Duration
	maxDelay time.Duration
	fire     func()

	mu       sync.Mutex
	timer    *time.Timer
	deadline time.Time
	stopped  bool
}

func newDebouncer(delay, maxDelay time.Duration, fire func()) *debouncer {
	return &debouncer{delay: delay, maxDelay: maxDelay, fire: fire}
}

// Trigger (re)starts the timer. The first trigger of a burst also arms
// the maximum-delay deadline.
func (d *debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	now := time.Now()
	if d.timer == nil {
		d.deadline = now.Add(d.maxDelay)
	} else {
		d.timer.Stop()
	}
	wait := d.delay
	if d.maxDelay > 0 && now.Add(wait).After(d.deadline) {
		wait = d.deadline.Sub(now)
		if wait < 0 {
			wait = 0
		}
	}
	d.timer = time.AfterFunc(wait, d.fired)
}

func (d *debouncer) fired() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()
	d.fire()
}

// Stop cancels any pending fire.
func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

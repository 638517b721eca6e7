package snapshot

import (
	"sync"
	"time"
)

// Debouncer runs the most recently triggered function once no new trigger
// has arrived for delay, or once maxWait has passed since the first trigger
// of a burst, whichever comes first. Every trigger or cancel starts a new
// generation and timers from older generations do nothing when they fire.
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	maxWait time.Duration
	timer   *time.Timer
	gen     uint64
	pending func()
	first   time.Time
}

// NewDebouncer creates a debouncer with the given quiet period. A maxWait of
// zero or less lets a steady stream of triggers postpone the call forever.
func NewDebouncer(delay, maxWait time.Duration) *Debouncer {
	return &Debouncer{delay: delay, maxWait: maxWait}
}

// Trigger schedules fn, replacing any pending function and restarting the timer.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if d.pending == nil {
		d.first = now
	}
	wait := d.delay
	if d.maxWait > 0 {
		if left := d.maxWait - now.Sub(d.first); left < wait {
			wait = max(left, 0)
		}
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.pending = fn
	d.timer = time.AfterFunc(wait, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.pending == nil {
		d.mu.Unlock()
		return
	}
	fn := d.pending
	d.pending = nil
	d.timer = nil
	d.mu.Unlock()

	fn()
}

// Cancel drops the pending function, if any.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	d.pending = nil
}

// Flush runs the pending function immediately on the caller's goroutine.
// It reports whether there was one.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	fn := d.pending
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	d.pending = nil
	d.mu.Unlock()

	if fn == nil {
		return false
	}
	fn()
	return true
}

// Pending reports whether a function is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

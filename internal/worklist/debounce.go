// Package worklist holds per-session worklist view state: the active tab,
// page, and search input, with debounced search and last-request-wins
// refresh so a burst of keystrokes costs one query and a slow stale
// response never overwrites a newer one.
package worklist

import (
	"sync"
	"time"
)

// Debouncer collapses a burst of values into a single callback invocation
// carrying the last value seen. It is safe for concurrent use.
type Debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	timer *time.Timer
	last  string
	fn    func(string)
}

// NewDebouncer creates a debouncer that calls fn with the most recent
// value once delay has elapsed without further input.
func NewDebouncer(delay time.Duration, fn func(string)) *Debouncer {
	return &Debouncer{
		delay: delay,
		fn:    fn,
	}
}

// Trigger records a value and (re)starts the delay timer. Each call
// replaces the pending value; only the final value of a burst is
// delivered.
func (d *Debouncer) Trigger(value string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.last = value
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	value := d.last
	d.timer = nil
	d.mu.Unlock()

	d.fn(value)
}

// Flush delivers any pending value immediately and cancels the timer.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer == nil {
		d.mu.Unlock()
		return
	}
	d.timer.Stop()
	d.timer = nil
	value := d.last
	d.mu.Unlock()

	d.fn(value)
}

// Stop cancels any pending delivery without invoking the callback.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Package debounce provides an explicit arm/rearm/cancel primitive for
// coalescing bursts of work, driven by an injectable clock.
package debounce

import (
	"sync"
	"time"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ManualClock is a Clock advanced explicitly by tests.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock returns a clock stopped at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Debouncer tracks a single pending deadline. Arm pushes the deadline to
// now+interval on every call but never past the first arm plus maxDelay,
// so a steady stream of triggers still fires. It does not own a timer:
// the caller polls Due or waits until Deadline.
type Debouncer struct {
	clock    Clock
	interval time.Duration
	maxDelay time.Duration

	armed     bool
	immediate bool
	firstArm  time.Time
	deadline  time.Time
}

// New creates a debouncer. A maxDelay below interval is raised to it.
func New(clock Clock, interval, maxDelay time.Duration) *Debouncer {
	if clock == nil {
		clock = SystemClock{}
	}
	if maxDelay < interval {
		maxDelay = interval
	}
	return &Debouncer{clock: clock, interval: interval, maxDelay: maxDelay}
}

// Arm schedules or reschedules the deadline. A deadline set by ArmNow is
// left alone.
func (d *Debouncer) Arm() {
	if d.immediate {
		return
	}
	now := d.clock.Now()
	if !d.armed {
		d.armed = true
		d.firstArm = now
	}
	next := now.Add(d.interval)
	if limit := d.firstArm.Add(d.maxDelay); next.After(limit) {
		next = limit
	}
	d.deadline = next
}

// ArmNow makes the deadline due immediately.
func (d *Debouncer) ArmNow() {
	now := d.clock.Now()
	if !d.armed {
		d.armed = true
		d.firstArm = now
	}
	d.immediate = true
	d.deadline = now
}

// Cancel disarms the debouncer.
func (d *Debouncer) Cancel() {
	d.armed = false
	d.immediate = false
	d.firstArm = time.Time{}
	d.deadline = time.Time{}
}

// Armed reports whether a deadline is pending.
func (d *Debouncer) Armed() bool { return d.armed }

// Deadline returns the pending deadline and whether one is set.
func (d *Debouncer) Deadline() (time.Time, bool) {
	return d.deadline, d.armed
}

// Due reports whether the deadline has passed at now.
func (d *Debouncer) Due(now time.Time) bool {
	return d.armed && !now.Before(d.deadline)
}

// Fire disarms the debouncer if it is due at the clock's current time and
// reports whether it was.
func (d *Debouncer) Fire() bool {
	if !d.Due(d.clock.Now()) {
		return false
	}
	d.Cancel()
	return true
}

// Clock returns the clock driving the debouncer.
func (d *Debouncer) Clock() Clock { return d.clock }

// Package coalescertest provides a manually advanced clock for driving
// coalescer timers in tests.
package coalescertest

import (
	"sort"
	"sync"
	"time"

	"eventdesk/internal/coalescer"
)

type Timer struct {
	clock    *Clock
	deadline time.Time
	f        func()
	stopped  bool
	fired    bool
}

func (t *Timer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Fire runs the timer's callback even if it was stopped, the way a timer
// that already expired races with Stop.
func (t *Timer) Fire() {
	t.f()
}

// Clock fires due timers synchronously from Advance.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*Timer
}

var _ coalescer.Clock = (*Clock)(nil)

func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *Clock) AfterFunc(d time.Duration, f func()) coalescer.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &Timer{clock: c, deadline: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward and runs every timer that came due, in
// deadline order, on the calling goroutine.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*Timer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.deadline.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	for _, t := range due {
		t.f()
	}
}

// LastTimer returns the most recently started timer, fired or not.
func (c *Clock) LastTimer() *Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers[len(c.timers)-1]
}

package session

import (
	"sort"
	"sync"
	"time"
)

// Clock abstracts time so timer-driven behavior (turn timeouts, disconnect
// grace) is deterministic under test.
type Clock interface {
	Now() time.Time
	// AfterFunc schedules fn after d. fn runs on an arbitrary goroutine;
	// callers re-enter the actor through its inbox, never mutate directly.
	AfterFunc(d time.Duration, fn func()) Timer
}

type Timer interface {
	Stop() bool
}

type realClock struct{}

// SystemClock is the production clock.
var SystemClock Clock = realClock{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// FakeClock is a manually advanced clock for tests. Callbacks fire
// synchronously inside Advance, in deadline order.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
	seq int
	due []*fakeTimer
}

type fakeTimer struct {
	clock   *FakeClock
	at      time.Time
	seq     int
	fn      func()
	stopped bool
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{clock: c, at: c.now.Add(d), seq: c.seq, fn: fn}
	c.due = append(c.due, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

// Advance moves the clock forward and fires every timer whose deadline has
// passed, earliest first.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	deadline := c.now
	c.mu.Unlock()

	for {
		t := c.popDue(deadline)
		if t == nil {
			return
		}
		t.fn()
	}
}

func (c *FakeClock) popDue(deadline time.Time) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	sort.SliceStable(c.due, func(i, j int) bool {
		if c.due[i].at.Equal(c.due[j].at) {
			return c.due[i].seq < c.due[j].seq
		}
		return c.due[i].at.Before(c.due[j].at)
	})
	for i, t := range c.due {
		if t.stopped {
			continue
		}
		if t.at.After(deadline) {
			break
		}
		t.stopped = true
		c.due = append(c.due[:i], c.due[i+1:]...)
		return t
	}
	return nil
}

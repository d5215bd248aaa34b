package clockwork

import (
	"sync"
	"time"
)

// FakeClock is a deterministic Clock for tests: Advance fires any
// ScheduleAt/Every callbacks whose time has come, in order.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*fakeWaiter
	seq     int
}

type fakeWaiter struct {
	at        time.Time
	fn        func()
	period    time.Duration // zero for one-shot
	cancelled bool
	seq       int
}

// NewFakeClock starts the fake clock at the given time.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep on a fake clock blocks until Advance moves past the duration.
func (c *FakeClock) Sleep(d time.Duration) {
	done := make(chan struct{})
	c.ScheduleAt(c.Now().Add(d), func() { close(done) })
	<-done
}

func (c *FakeClock) ScheduleAt(absoluteTime time.Time, fn func()) CancelHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	w := &fakeWaiter{at: absoluteTime, fn: fn, seq: c.seq}
	c.waiters = append(c.waiters, w)
	return fakeHandle{w}
}

func (c *FakeClock) Every(period time.Duration, fn func()) CancelHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	w := &fakeWaiter{at: c.now.Add(period), fn: fn, period: period, seq: c.seq}
	c.waiters = append(c.waiters, w)
	return fakeHandle{w}
}

// Advance moves the fake clock forward by d, firing any due waiters
// (including recurring ones, possibly more than once) in time order.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var due *fakeWaiter
		idx := -1
		for i, w := range c.waiters {
			if w.cancelled {
				continue
			}
			if !w.at.After(target) {
				if due == nil || w.at.Before(due.at) || (w.at.Equal(due.at) && w.seq < due.seq) {
					due = w
					idx = i
				}
			}
		}
		if due == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = due.at
		if due.period > 0 {
			due.at = due.at.Add(due.period)
		} else {
			c.waiters = append(c.waiters[:idx], c.waiters[idx+1:]...)
		}
		fn := due.fn
		c.mu.Unlock()
		fn()
	}
}

type fakeHandle struct {
	w *fakeWaiter
}

func (h fakeHandle) Cancel() { h.w.cancelled = true }

// Package clockwork provides the monotonic-now / absolute-schedule
// primitives every long-running loop in this service is built on
// (C1, spec §4.1). Everything that sleeps or schedules goes through a
// Clock so tests can drive time without wall-clock sleeps, and so the
// intervalometer scheduler can cope with the host clock being stepped
// mid-session (§5).
package clockwork

import (
	"time"
)

// CancelHandle stops a scheduled timer or ticker. Calling Cancel more than
// once, or after the timer has already fired, is a no-op.
type CancelHandle interface {
	Cancel()
}

// Clock is the single seam between this service's scheduling logic and
// wall-clock time.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
	// ScheduleAt arms fn to run at absoluteTime. If absoluteTime is already
	// in the past, fn runs as soon as possible (no skipping).
	ScheduleAt(absoluteTime time.Time, fn func()) CancelHandle
	// Every arms fn to run on a fixed period, starting one period from now.
	Every(period time.Duration, fn func()) CancelHandle
}

// systemClock is the production Clock, backed by the real wall clock.
type systemClock struct{}

// System is the process-wide real clock. Construct a FakeClock in tests
// instead of passing this around.
var System Clock = systemClock{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

func (systemClock) ScheduleAt(absoluteTime time.Time, fn func()) CancelHandle {
	d := time.Until(absoluteTime)
	if d < 0 {
		d = 0
	}
	t := time.AfterFunc(d, fn)
	return timerHandle{t}
}

func (systemClock) Every(period time.Duration, fn func()) CancelHandle {
	ticker := time.NewTicker(period)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
	return tickerHandle{ticker: ticker, done: done}
}

type timerHandle struct {
	t *time.Timer
}

func (h timerHandle) Cancel() { h.t.Stop() }

type tickerHandle struct {
	ticker *time.Ticker
	done   chan struct{}
}

func (h tickerHandle) Cancel() {
	h.ticker.Stop()
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

package clockwork

import (
	"testing"
	"time"
)

func TestFakeClockScheduleAt(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)

	var fired time.Time
	c.ScheduleAt(start.Add(5*time.Second), func() { fired = c.Now() })

	c.Advance(4 * time.Second)
	if !fired.IsZero() {
		t.Fatal("fired before due time")
	}

	c.Advance(1 * time.Second)
	if fired != start.Add(5*time.Second) {
		t.Errorf("expected fire at +5s, got %v", fired)
	}
}

func TestFakeClockScheduleAtPast(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)

	fired := false
	c.ScheduleAt(start.Add(-time.Second), func() { fired = true })

	c.Advance(0)
	if !fired {
		t.Fatal("expected immediate fire for a due time already in the past")
	}
}

func TestFakeClockEvery(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)

	count := 0
	h := c.Every(10*time.Second, func() { count++ })

	c.Advance(35 * time.Second)
	if count != 3 {
		t.Errorf("expected 3 fires in 35s at 10s period, got %d", count)
	}

	h.Cancel()
	c.Advance(100 * time.Second)
	if count != 3 {
		t.Errorf("expected no more fires after cancel, got %d", count)
	}
}

func TestFakeClockCancelOneShot(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)

	fired := false
	h := c.ScheduleAt(start.Add(time.Second), func() { fired = true })
	h.Cancel()

	c.Advance(5 * time.Second)
	if fired {
		t.Error("cancelled one-shot should not fire")
	}
}

package timesync

import (
	"testing"
	"time"

	"github.com/papamarky/pi-camera-control/internal/clockwork"
)

func TestIsValidBoundary(t *testing.T) {
	clock := clockwork.NewFakeClock(time.Unix(0, 0))
	p := NewProxyState(clock)
	p.UpdateState(StateAPClient, "10.0.0.5")

	clock.Advance(defaultValidityWindow)
	if p.IsValid() {
		t.Error("expected isValid() false exactly at the validity window")
	}
}

func TestIsValidOneMillisecondEarlier(t *testing.T) {
	clock := clockwork.NewFakeClock(time.Unix(0, 0))
	p := NewProxyState(clock)
	p.UpdateState(StateAPClient, "10.0.0.5")

	clock.Advance(defaultValidityWindow - time.Millisecond)
	if !p.IsValid() {
		t.Error("expected isValid() true one millisecond before the validity window elapses")
	}
}

func TestExpireIsIdempotent(t *testing.T) {
	clock := clockwork.NewFakeClock(time.Unix(0, 0))
	p := NewProxyState(clock)
	p.UpdateState(StateAPClient, "10.0.0.5")
	clock.Advance(defaultValidityWindow + time.Second)

	p.Expire()
	if p.State() != StateNone {
		t.Fatalf("expected state none after expire, got %s", p.State())
	}
	p.Expire()
	if p.State() != StateNone {
		t.Fatalf("expected expire to remain idempotent, got %s", p.State())
	}
}

func TestExpireDoesNothingWhileValid(t *testing.T) {
	clock := clockwork.NewFakeClock(time.Unix(0, 0))
	p := NewProxyState(clock)
	p.UpdateState(StateAPClient, "10.0.0.5")
	p.Expire()
	if p.State() != StateAPClient {
		t.Errorf("expected expire to leave a valid state untouched, got %s", p.State())
	}
}

func TestRecommendedValidityDefaultsWithFewObservations(t *testing.T) {
	clock := clockwork.NewFakeClock(time.Unix(0, 0))
	p := NewProxyState(clock)
	if got := p.GetRecommendedStateValidity(); got != defaultValidityWindow {
		t.Errorf("expected default validity with no observations, got %s", got)
	}

	p.RecordSync(50)
	if got := p.GetRecommendedStateValidity(); got != defaultValidityWindow {
		t.Errorf("expected default validity with only one observation, got %s", got)
	}
}

func TestRecordSyncFlagsLongGapAsInitialization(t *testing.T) {
	clock := clockwork.NewFakeClock(time.Unix(0, 0))
	p := NewProxyState(clock)

	p.RecordSync(10)
	clock.Advance(2 * time.Hour)
	p.RecordSync(20)

	if len(p.observations) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(p.observations))
	}
	if !p.observations[1].Initialization {
		t.Error("expected the observation after a >1h gap to be flagged as initialization")
	}
}

func TestRecommendedResyncIntervalFloor(t *testing.T) {
	clock := clockwork.NewFakeClock(time.Unix(0, 0))
	p := NewProxyState(clock)
	if got := p.GetRecommendedResyncInterval(); got != minResyncInterval {
		t.Errorf("expected floor of %s, got %s", minResyncInterval, got)
	}
}

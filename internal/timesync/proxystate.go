// Package timesync implements the Pi Proxy State machine (C7) and the
// TimeSync orchestration service (C8) that uses it to keep the host and
// camera clocks aligned with a connected browser client's wall clock,
// since the host has no battery-backed RTC (spec §4.7, §4.8).
package timesync

import (
	"sync"
	"time"

	"github.com/papamarky/pi-camera-control/internal/clockwork"
)

const component = "timesync"

// State is the Pi Proxy State's state (spec §3).
type State string

const (
	StateNone        State = "none"
	StateAPClient    State = "ap-client"
	StateWLANClient  State = "wlan-client"
)

const (
	// defaultValidityWindow is the floor validity never shrinks below
	// (spec §3, §4.7).
	defaultValidityWindow = 10 * time.Minute
	// maxAcceptableDriftMs bounds how much clock drift the host tolerates
	// before a resync is due (spec §4.7 getRecommendedStateValidity).
	maxAcceptableDriftMs = 1000.0
	// validitySafetyFactor scales the computed validity down so a resync
	// happens comfortably before drift could exceed the threshold.
	validitySafetyFactor = 0.8
	// initializationGap marks an observation as reflecting power-down RTC
	// loss (not free-run drift) when the interval since the previous
	// observation exceeds this (spec §4.7).
	initializationGap = 1 * time.Hour
	// maxObservations bounds the rolling drift history (spec §3).
	maxObservations = 20
	// minResyncInterval is the floor for getRecommendedResyncInterval.
	minResyncInterval = 5 * time.Minute
)

// DriftObservation is one recorded sync's drift, used to adapt the
// validity window to the host's actual clock drift rate.
type DriftObservation struct {
	DriftMs        float64
	SinceLast      time.Duration
	Initialization bool
}

// ProxyState is the pure state machine of spec §4.7: no I/O, driven only
// by the TimeSync service.
type ProxyState struct {
	clock clockwork.Clock

	mu            sync.Mutex
	state         State
	acquiredAt    time.Time
	clientAddress string
	lastObserved  time.Time
	observations  []DriftObservation
}

func NewProxyState(clock clockwork.Clock) *ProxyState {
	if clock == nil {
		clock = clockwork.System
	}
	return &ProxyState{clock: clock, state: StateNone}
}

// UpdateState sets state and refreshes acquiredAt to now (spec §4.7).
func (p *ProxyState) UpdateState(newState State, clientAddress string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = newState
	p.clientAddress = clientAddress
	p.acquiredAt = p.clock.Now()
}

// RefreshAcquiredAt updates acquiredAt without changing state or client,
// used by the resync cascade when the original client is still connected.
func (p *ProxyState) RefreshAcquiredAt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acquiredAt = p.clock.Now()
}

// State, ClientAddress, and AcquiredAt are read-only accessors for the
// broadcast fabric (spec §3 ownership: exposed read-only to C9).
func (p *ProxyState) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *ProxyState) ClientAddress() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clientAddress
}

func (p *ProxyState) AcquiredAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquiredAt
}

// IsValid implements spec §3's invariant: state != none && now - acquiredAt
// < validityWindow.
func (p *ProxyState) IsValid() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isValidLocked()
}

func (p *ProxyState) isValidLocked() bool {
	if p.state == StateNone {
		return false
	}
	return p.clock.Now().Sub(p.acquiredAt) < p.recommendedValidityLocked()
}

// Expire transitions to none iff IsValid() is false; idempotent.
func (p *ProxyState) Expire() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isValidLocked() {
		return
	}
	p.state = StateNone
	p.clientAddress = ""
}

// RecordSync appends a drift observation (spec §4.7 recordSync). The first
// observation after boot, and any following a gap greater than
// initializationGap, are flagged as initialization and excluded from the
// drift-rate computation.
func (p *ProxyState) RecordSync(driftMs float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	var since time.Duration
	initialization := p.lastObserved.IsZero()
	if !initialization {
		since = now.Sub(p.lastObserved)
		if since > initializationGap {
			initialization = true
		}
	}
	p.lastObserved = now

	p.observations = append(p.observations, DriftObservation{
		DriftMs:        driftMs,
		SinceLast:      since,
		Initialization: initialization,
	})
	if len(p.observations) > maxObservations {
		p.observations = p.observations[len(p.observations)-maxObservations:]
	}
}

// GetRecommendedStateValidity computes the adaptive validity window (spec
// §4.7): with fewer than two usable (non-initialization) observations, the
// default floor is returned.
func (p *ProxyState) GetRecommendedStateValidity() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recommendedValidityLocked()
}

func (p *ProxyState) recommendedValidityLocked() time.Duration {
	var sumDriftMs, sumIntervalSec float64
	usable := 0
	for _, o := range p.observations {
		if o.Initialization {
			continue
		}
		sumDriftMs += abs(o.DriftMs)
		sumIntervalSec += o.SinceLast.Seconds()
		usable++
	}
	if usable < 2 || sumIntervalSec <= 0 {
		return defaultValidityWindow
	}

	driftRatePPM := (sumDriftMs / 1000.0 / sumIntervalSec) * 1e6
	if driftRatePPM <= 0 {
		return defaultValidityWindow
	}

	maxDriftSec := maxAcceptableDriftMs / 1000.0
	recommendedSec := (maxDriftSec * 1e6 / driftRatePPM) * validitySafetyFactor
	recommended := time.Duration(recommendedSec * float64(time.Second))
	if recommended < defaultValidityWindow {
		return defaultValidityWindow
	}
	return recommended
}

// GetRecommendedResyncInterval is half the recommended validity, floored
// at 5 minutes (spec §4.7).
func (p *ProxyState) GetRecommendedResyncInterval() time.Duration {
	half := p.GetRecommendedStateValidity() / 2
	if half < minResyncInterval {
		return minResyncInterval
	}
	return half
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

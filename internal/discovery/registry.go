package discovery

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/papamarky/pi-camera-control/internal/apierr"
	"github.com/papamarky/pi-camera-control/internal/clockwork"
)

const component = "discovery"

// flapTolerance is how long a primary camera can sit offline before it is
// demoted and the next-healthiest camera promoted (spec §4.3).
const flapTolerance = 30 * time.Second

// Status is CameraRecord.status, spec §3.
type Status string

const (
	StatusDiscovered Status = "discovered"
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusOffline    Status = "offline"
	StatusError      Status = "error"
)

// CameraRecord is one discovered or manually-added camera, spec §3.
type CameraRecord struct {
	UUID         string
	IPAddress    string
	Port         int
	ModelName    string
	LastSeenAt   time.Time
	Status       Status
	Capabilities map[string]bool
	Primary      bool
}

// Registry owns the CameraRecord table and primary-camera policy. Other
// components resolve the primary camera only through GetPrimaryCamera — a
// function, never a cached reference — because the primary may change
// mid-operation (spec §9 design note).
type Registry struct {
	clock clockwork.Clock

	mu          sync.RWMutex
	records     map[string]*CameraRecord
	primaryUUID string
	demoteTimer map[string]clockwork.CancelHandle

	listeners []func(Event)
}

// NewRegistry constructs an empty registry.
func NewRegistry(clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.System
	}
	return &Registry{
		clock:       clock,
		records:     make(map[string]*CameraRecord),
		demoteTimer: make(map[string]clockwork.CancelHandle),
	}
}

// Subscribe registers a listener for every emitted Event. Intended for the
// composition root to wire discovery into the broadcast fabric.
func (r *Registry) Subscribe(fn func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *Registry) emit(evt Event) {
	r.mu.RLock()
	listeners := append([]func(Event){}, r.listeners...)
	r.mu.RUnlock()
	for _, l := range listeners {
		l(evt)
	}
}

// Upsert records a discovered or re-announced camera (SSDP NOTIFY, or a
// manual add), creating the record if uuid is new and detecting IP changes
// on existing records without evicting them.
func (r *Registry) Upsert(uuid, ip string, port int, modelName string) CameraRecord {
	r.mu.Lock()
	rec, existed := r.records[uuid]
	var oldIP string
	var ipChanged bool
	if !existed {
		rec = &CameraRecord{UUID: uuid, Status: StatusDiscovered}
		r.records[uuid] = rec
	} else if rec.IPAddress != "" && rec.IPAddress != ip {
		oldIP = rec.IPAddress
		ipChanged = true
	}
	rec.IPAddress = ip
	rec.Port = port
	if modelName != "" {
		rec.ModelName = modelName
	}
	rec.LastSeenAt = r.clock.Now()
	snapshot := *rec
	r.mu.Unlock()

	if !existed {
		r.emit(Event{Type: EventCameraDiscovered, Record: snapshot})
	} else if ipChanged {
		log.Printf("[discovery] camera %s changed address %s -> %s", uuid, oldIP, ip)
		r.emit(Event{Type: EventCameraIPChanged, Record: snapshot, OldIP: oldIP})
	}
	return snapshot
}

// MarkConnected transitions a record to connected and, if no primary
// exists, promotes it (spec §4.3 primary-camera policy).
func (r *Registry) MarkConnected(uuid string, capabilities map[string]bool) error {
	r.mu.Lock()
	rec, ok := r.records[uuid]
	if !ok {
		r.mu.Unlock()
		return apierr.New(component, "MarkConnected", apierr.OperationFailed, fmt.Sprintf("unknown camera %s", uuid), nil)
	}
	rec.Status = StatusConnected
	rec.Capabilities = capabilities
	if t, ok := r.demoteTimer[uuid]; ok {
		t.Cancel()
		delete(r.demoteTimer, uuid)
	}
	shouldPromote := r.primaryUUID == ""
	if shouldPromote {
		r.primaryUUID = uuid
	}
	snapshot := *rec
	r.mu.Unlock()

	r.emit(Event{Type: EventCameraConnected, Record: snapshot})
	if shouldPromote {
		snapshot.Primary = true
		r.emit(Event{Type: EventPrimaryCameraChanged, Record: snapshot})
	}
	return nil
}

// MarkOffline transitions a record to offline. If it is the primary, the
// 30s flap-tolerance timer starts; a reconnection within that window
// cancels the demotion, per spec §4.3.
func (r *Registry) MarkOffline(uuid string) {
	r.mu.Lock()
	rec, ok := r.records[uuid]
	if !ok {
		r.mu.Unlock()
		return
	}
	rec.Status = StatusOffline
	isPrimary := r.primaryUUID == uuid
	snapshot := *rec
	r.mu.Unlock()

	r.emit(Event{Type: EventCameraOffline, Record: snapshot})

	if !isPrimary {
		return
	}

	r.mu.Lock()
	handle := r.clock.ScheduleAt(r.clock.Now().Add(flapTolerance), func() { r.demoteIfStillOffline(uuid) })
	r.demoteTimer[uuid] = handle
	r.mu.Unlock()
}

func (r *Registry) demoteIfStillOffline(uuid string) {
	r.mu.Lock()
	rec, ok := r.records[uuid]
	if !ok || rec.Status != StatusOffline || r.primaryUUID != uuid {
		r.mu.Unlock()
		return
	}
	r.primaryUUID = ""
	delete(r.demoteTimer, uuid)
	snapshot := *rec
	next := r.nextHealthiestLocked()
	r.mu.Unlock()

	r.emit(Event{Type: EventPrimaryCameraDisconnected, Record: snapshot})
	if next != nil {
		r.SetPrimary(next.UUID)
	}
}

func (r *Registry) nextHealthiestLocked() *CameraRecord {
	for _, rec := range r.records {
		if rec.UUID != "" && rec.Status == StatusConnected {
			cp := *rec
			return &cp
		}
	}
	return nil
}

// SetPrimary is the manual override (spec §4.3): it unconditionally
// replaces the current primary.
func (r *Registry) SetPrimary(uuid string) error {
	r.mu.Lock()
	rec, ok := r.records[uuid]
	if !ok {
		r.mu.Unlock()
		return apierr.New(component, "SetPrimary", apierr.OperationFailed, fmt.Sprintf("unknown camera %s", uuid), nil)
	}
	r.primaryUUID = uuid
	snapshot := *rec
	snapshot.Primary = true
	r.mu.Unlock()

	r.emit(Event{Type: EventPrimaryCameraChanged, Record: snapshot})
	return nil
}

// GetPrimaryCamera is the read-through accessor every other component must
// call on each use rather than caching — the primary may change between
// suspension points (spec §3 ownership, §9 design note).
func (r *Registry) GetPrimaryCamera() (CameraRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.primaryUUID == "" {
		return CameraRecord{}, false
	}
	rec, ok := r.records[r.primaryUUID]
	if !ok {
		return CameraRecord{}, false
	}
	cp := *rec
	cp.Primary = true
	return cp, true
}

// List returns a snapshot of all known records.
func (r *Registry) List() []CameraRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CameraRecord, 0, len(r.records))
	for uuid, rec := range r.records {
		cp := *rec
		cp.Primary = uuid == r.primaryUUID
		out = append(out, cp)
	}
	return out
}

// ReportError marks a record as errored and emits camera_error.
func (r *Registry) ReportError(uuid string, cause error) {
	r.mu.Lock()
	rec, ok := r.records[uuid]
	if !ok {
		r.mu.Unlock()
		return
	}
	rec.Status = StatusError
	snapshot := *rec
	r.mu.Unlock()

	log.Printf("[discovery] camera %s error: %v", uuid, cause)
	r.emit(Event{Type: EventCameraError, Record: snapshot})
}

// Scanner periodically runs SSDP discovery and feeds results into Upsert.
type Scanner struct {
	registry *Registry
	client   *SSDPClient
	interval time.Duration
	scanFor  time.Duration
}

func NewScanner(registry *Registry, client *SSDPClient, interval, scanFor time.Duration) *Scanner {
	return &Scanner{registry: registry, client: client, interval: interval, scanFor: scanFor}
}

// Run blocks, issuing a scan every interval until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.scanOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scanOnce(ctx)
		}
	}
}

func (s *Scanner) scanOnce(ctx context.Context) {
	ads, err := s.client.Scan(ctx, s.scanFor)
	if err != nil {
		log.Printf("[discovery] ssdp scan failed: %v", err)
		return
	}
	for _, ad := range ads {
		uuid := ExtractUUID(ad.USN)
		if uuid == "" {
			continue
		}
		s.registry.Upsert(uuid, ad.IPAddress, ad.Port, "")
	}
}

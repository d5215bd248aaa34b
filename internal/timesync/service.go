package timesync

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/papamarky/pi-camera-control/internal/cameraclient"
	"github.com/papamarky/pi-camera-control/internal/clockwork"
)

// ClientInterface is the network path a browser client reached the host
// through; ap outranks wlan for time-sync trust (spec §4.8, GLOSSARY).
type ClientInterface string

const (
	InterfaceAP   ClientInterface = "ap"
	InterfaceWLAN ClientInterface = "wlan"
)

// clockDriftThreshold is the |drift| above which a clock is resynced
// (spec §4.8, both the client->host and host->camera directions).
const clockDriftThreshold = 1 * time.Second

// ClientHandle identifies one connected browser client for the purposes
// of the resync cascade.
type ClientHandle struct {
	Address   string
	Interface ClientInterface
}

// ClientDirectory is C9's connected-client registry, consumed read-only
// here so C8 can pick a time-sync client without owning client lifecycle
// itself (spec control-flow: "C8 consumes C7 and drives C2").
type ClientDirectory interface {
	ClientsOn(iface ClientInterface) []ClientHandle
	IsConnected(address string) bool
	// RequestTime asks the named client to send its wall clock and
	// timezone back (server->client time-sync-request, spec §6).
	RequestTime(address string) error
}

// Service orchestrates host- and camera-clock sync using the Pi Proxy
// State machine (C7) and a browser client as the trusted time source
// (spec §4.8).
type Service struct {
	clock     clockwork.Clock
	proxy     *ProxyState
	host      HostClock
	directory ClientDirectory

	mu          sync.Mutex
	camera      *cameraclient.Client
	resyncTimer clockwork.CancelHandle

	listeners []func(Event)
}

func NewService(clock clockwork.Clock, proxy *ProxyState, host HostClock, directory ClientDirectory) *Service {
	if clock == nil {
		clock = clockwork.System
	}
	return &Service{clock: clock, proxy: proxy, host: host, directory: directory}
}

func (s *Service) Subscribe(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Service) emit(evt Event) {
	s.mu.Lock()
	listeners := append([]func(Event){}, s.listeners...)
	s.mu.Unlock()
	for _, l := range listeners {
		l(evt)
	}
}

// SetCameraClient points the service at the camera whose clock
// HandleClientTimeResponse keeps in sync; OnCameraConnected also sets it.
// Neither is called from discovery (C3) primary-camera events, so the
// service has no camera attached until one of them is called.
func (s *Service) SetCameraClient(c *cameraclient.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.camera = c
}

func (s *Service) cameraClient() *cameraclient.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.camera
}

// OnClientConnected applies the connection rules of spec §4.8.
func (s *Service) OnClientConnected(iface ClientInterface, address string) {
	state := s.proxy.State()
	valid := s.proxy.IsValid()

	switch {
	case iface == InterfaceAP && state == StateAPClient:
		return // already have an ap proxy
	case iface == InterfaceWLAN && state == StateAPClient && valid:
		return // ap outranks wlan
	case iface == InterfaceWLAN && state == StateWLANClient && valid:
		return // already have this wlan proxy
	}

	s.adoptClient(iface, address)
}

func (s *Service) adoptClient(iface ClientInterface, address string) {
	newState := StateAPClient
	if iface == InterfaceWLAN {
		newState = StateWLANClient
	}
	s.proxy.UpdateState(newState, address)
	s.armResyncTimer()

	if err := s.directory.RequestTime(address); err != nil {
		log.Printf("[timesync] failed to request time from %s: %v", address, err)
	}
	s.emit(Event{Type: EventProxyStateChanged, State: newState, ClientAddress: address})
}

func (s *Service) armResyncTimer() {
	s.mu.Lock()
	if s.resyncTimer != nil {
		s.resyncTimer.Cancel()
	}
	interval := s.proxy.GetRecommendedResyncInterval()
	s.resyncTimer = s.clock.ScheduleAt(s.clock.Now().Add(interval), s.onResyncFire)
	s.mu.Unlock()
}

// onResyncFire implements the resync cascade of spec §4.8.
func (s *Service) onResyncFire() {
	state := s.proxy.State()
	if state == StateNone {
		return
	}
	addr := s.proxy.ClientAddress()
	iface := InterfaceAP
	if state == StateWLANClient {
		iface = InterfaceWLAN
	}

	if s.directory.IsConnected(addr) {
		if err := s.directory.RequestTime(addr); err != nil {
			log.Printf("[timesync] resync request failed for %s: %v", addr, err)
		}
		s.proxy.RefreshAcquiredAt()
		s.armResyncTimer()
		return
	}

	if others := s.directory.ClientsOn(iface); len(others) > 0 {
		s.adoptClient(iface, others[0].Address)
		return
	}

	if iface == InterfaceAP {
		if wlanClients := s.directory.ClientsOn(InterfaceWLAN); len(wlanClients) > 0 {
			s.adoptClient(InterfaceWLAN, wlanClients[0].Address)
			return
		}
	} else {
		if apClients := s.directory.ClientsOn(InterfaceAP); len(apClients) > 0 {
			s.adoptClient(InterfaceAP, apClients[0].Address)
			return
		}
	}

	// No replacement client on any interface; let the state expire
	// naturally via the validity window rather than altering it now.
	s.mu.Lock()
	if s.resyncTimer != nil {
		s.resyncTimer.Cancel()
		s.resyncTimer = nil
	}
	s.mu.Unlock()
}

// HandleClientTimeResponse processes a client's {clientTime, timezone}
// reply (spec §4.8).
func (s *Service) HandleClientTimeResponse(ctx context.Context, clientTime time.Time, timezone string) {
	hostNow := s.clock.Now()
	drift := hostNow.Sub(clientTime)

	if abs(drift.Seconds()) > clockDriftThreshold.Seconds() {
		if err := s.host.SetSystemTime(clientTime); err != nil {
			log.Printf("[timesync] failed to set host clock: %v", err)
		} else {
			s.emit(Event{Type: EventHostClockAdjusted, DriftMs: drift.Seconds() * 1000})
		}
		if timezone != "" {
			if err := s.host.SetTimezone(timezone); err != nil {
				log.Printf("[timesync] failed to set host timezone: %v", err)
			}
		}
	}

	s.proxy.RecordSync(drift.Seconds() * 1000)
	s.proxy.RefreshAcquiredAt()

	if cam := s.cameraClient(); cam != nil {
		s.syncCameraFromHost(ctx, cam)
	}
}

// OnCameraConnected implements spec §4.8's camera-connection handling.
func (s *Service) OnCameraConnected(ctx context.Context, cam *cameraclient.Client) {
	s.SetCameraClient(cam)

	if addr := s.firstConnectedClient(); addr != "" {
		if err := s.directory.RequestTime(addr); err != nil {
			log.Printf("[timesync] failed to request time from %s: %v", addr, err)
		}
		return
	}

	if s.proxy.IsValid() {
		s.syncCameraFromHost(ctx, cam)
		return
	}

	// No client and no valid proxy: borrow the camera's RTC to set the
	// host clock, but the host does not become a proxy for it.
	camTime, err := cam.GetCameraDateTime(ctx)
	if err != nil {
		log.Printf("[timesync] failed to read camera clock: %v", err)
		return
	}
	if err := s.host.SetSystemTime(camTime); err != nil {
		log.Printf("[timesync] failed to set host clock from camera: %v", err)
		return
	}
	s.emit(Event{Type: EventHostClockAdjusted})
}

func (s *Service) firstConnectedClient() string {
	for _, iface := range []ClientInterface{InterfaceAP, InterfaceWLAN} {
		if clients := s.directory.ClientsOn(iface); len(clients) > 0 {
			return clients[0].Address
		}
	}
	return ""
}

// syncCameraFromHost compares camera time to host time and, if drift
// exceeds the threshold, pushes the host's time to the camera. Gated on
// IsValid() — the host must itself be a trusted proxy before it pushes
// its clock onto the camera (spec §4.8 "Camera sync").
func (s *Service) syncCameraFromHost(ctx context.Context, cam *cameraclient.Client) {
	if !s.proxy.IsValid() {
		return
	}
	camTime, err := cam.GetCameraDateTime(ctx)
	if err != nil {
		log.Printf("[timesync] failed to read camera clock: %v", err)
		return
	}
	hostNow := s.clock.Now()
	drift := camTime.Sub(hostNow)
	if abs(drift.Seconds()) <= clockDriftThreshold.Seconds() {
		return
	}
	if err := cam.SetCameraDateTime(ctx, hostNow); err != nil {
		log.Printf("[timesync] failed to set camera clock: %v", err)
		return
	}
	s.emit(Event{Type: EventCameraClockAdjusted, DriftMs: drift.Seconds() * 1000})
}

package timesync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/papamarky/pi-camera-control/internal/clockwork"
)

type stubDirectory struct {
	mu        sync.Mutex
	clients   map[ClientInterface][]ClientHandle
	connected map[string]bool
	requested []string
}

func newStubDirectory() *stubDirectory {
	return &stubDirectory{clients: map[ClientInterface][]ClientHandle{}, connected: map[string]bool{}}
}

func (d *stubDirectory) ClientsOn(iface ClientInterface) []ClientHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ClientHandle{}, d.clients[iface]...)
}

func (d *stubDirectory) IsConnected(address string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected[address]
}

func (d *stubDirectory) RequestTime(address string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requested = append(d.requested, address)
	return nil
}

func (d *stubDirectory) connect(iface ClientInterface, address string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clients[iface] = append(d.clients[iface], ClientHandle{Address: address, Interface: iface})
	d.connected[address] = true
}

func (d *stubDirectory) disconnect(address string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.connected, address)
	for iface, list := range d.clients {
		out := list[:0]
		for _, c := range list {
			if c.Address != address {
				out = append(out, c)
			}
		}
		d.clients[iface] = out
	}
}

type stubHostClock struct {
	mu  sync.Mutex
	set []time.Time
}

func (h *stubHostClock) SetSystemTime(t time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.set = append(h.set, t)
	return nil
}
func (h *stubHostClock) SetTimezone(tz string) error { return nil }

func TestOnClientConnectedAPOutranksWLAN(t *testing.T) {
	clock := clockwork.NewFakeClock(time.Unix(0, 0))
	proxy := NewProxyState(clock)
	dir := newStubDirectory()
	svc := NewService(clock, proxy, &stubHostClock{}, dir)

	dir.connect(InterfaceAP, "10.0.0.1")
	svc.OnClientConnected(InterfaceAP, "10.0.0.1")
	if proxy.State() != StateAPClient || proxy.ClientAddress() != "10.0.0.1" {
		t.Fatalf("expected ap-client(10.0.0.1), got %s/%s", proxy.State(), proxy.ClientAddress())
	}

	dir.connect(InterfaceWLAN, "10.0.0.2")
	svc.OnClientConnected(InterfaceWLAN, "10.0.0.2")
	if proxy.ClientAddress() != "10.0.0.1" {
		t.Errorf("expected wlan client to be ignored while a valid ap-client exists, got %s", proxy.ClientAddress())
	}
}

func TestOnClientConnectedIgnoresDuplicateAP(t *testing.T) {
	clock := clockwork.NewFakeClock(time.Unix(0, 0))
	proxy := NewProxyState(clock)
	dir := newStubDirectory()
	svc := NewService(clock, proxy, &stubHostClock{}, dir)

	dir.connect(InterfaceAP, "10.0.0.1")
	svc.OnClientConnected(InterfaceAP, "10.0.0.1")
	requestsBefore := len(dir.requested)

	dir.connect(InterfaceAP, "10.0.0.9")
	svc.OnClientConnected(InterfaceAP, "10.0.0.9")
	if proxy.ClientAddress() != "10.0.0.1" {
		t.Errorf("expected second ap client to be ignored, got %s", proxy.ClientAddress())
	}
	if len(dir.requested) != requestsBefore {
		t.Errorf("expected no new time request for the ignored client")
	}
}

func TestHandleClientTimeResponseAdjustsHostClockPastThreshold(t *testing.T) {
	clock := clockwork.NewFakeClock(time.Unix(1000, 0))
	proxy := NewProxyState(clock)
	dir := newStubDirectory()
	host := &stubHostClock{}
	svc := NewService(clock, proxy, host, dir)

	clientTime := time.Unix(994, 0) // 6s behind host -> exceeds 1s threshold
	svc.HandleClientTimeResponse(context.Background(), clientTime, "")

	if len(host.set) != 1 {
		t.Fatalf("expected host clock to be set once, got %d calls", len(host.set))
	}
	if !host.set[0].Equal(clientTime) {
		t.Errorf("expected host clock set to client time, got %s", host.set[0])
	}
}

func TestHandleClientTimeResponseSkipsSmallDrift(t *testing.T) {
	clock := clockwork.NewFakeClock(time.Unix(1000, 0))
	proxy := NewProxyState(clock)
	dir := newStubDirectory()
	host := &stubHostClock{}
	svc := NewService(clock, proxy, host, dir)

	clientTime := time.Unix(1000, 0).Add(200 * time.Millisecond)
	svc.HandleClientTimeResponse(context.Background(), clientTime, "")

	if len(host.set) != 0 {
		t.Errorf("expected no host clock adjustment for sub-threshold drift, got %d calls", len(host.set))
	}
}

func TestResyncCascadeFailsOverToWLANWhenAPDisconnects(t *testing.T) {
	clock := clockwork.NewFakeClock(time.Unix(0, 0))
	proxy := NewProxyState(clock)
	dir := newStubDirectory()
	svc := NewService(clock, proxy, &stubHostClock{}, dir)

	dir.connect(InterfaceAP, "10.0.0.1")
	svc.OnClientConnected(InterfaceAP, "10.0.0.1")

	dir.disconnect("10.0.0.1")
	dir.connect(InterfaceWLAN, "10.0.0.2")

	svc.onResyncFire()

	if proxy.State() != StateWLANClient || proxy.ClientAddress() != "10.0.0.2" {
		t.Fatalf("expected failover to wlan client, got %s/%s", proxy.State(), proxy.ClientAddress())
	}
}

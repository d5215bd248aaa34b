package broadcast

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/papamarky/pi-camera-control/internal/clockwork"
	"github.com/papamarky/pi-camera-control/internal/timesync"
)

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(clockwork.System, func() StatusSnapshot {
		return StatusSnapshot{Camera: "ok"}
	}, func(addr string) timesync.ClientInterface {
		if strings.HasPrefix(addr, "192.168.4.") {
			return timesync.InterfaceAP
		}
		return timesync.InterfaceWLAN
	})
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServeWSSendsWelcomeWithClientID(t *testing.T) {
	_, srv := newTestHub(t)
	conn := dial(t, srv)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("expected welcome message: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal welcome: %v", err)
	}
	if msg["type"] != "welcome" {
		t.Errorf("expected type welcome, got %v", msg["type"])
	}
	if msg["clientId"] == nil || msg["clientId"] == "" {
		t.Errorf("expected a non-empty clientId")
	}
}

func TestBroadcastReachesAllConnectedClients(t *testing.T) {
	hub, srv := newTestHub(t)
	connA := dial(t, srv)
	connB := dial(t, srv)

	// drain welcome messages
	connA.SetReadDeadline(time.Now().Add(2 * time.Second))
	connB.SetReadDeadline(time.Now().Add(2 * time.Second))
	connA.ReadMessage()
	connB.ReadMessage()

	waitForClientCount(t, hub, 2)

	hub.Broadcast(map[string]any{"type": "event", "eventType": "photo_taken"})

	for _, conn := range []*websocket.Conn{connA, connB} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("expected broadcast message: %v", err)
		}
		var msg map[string]any
		json.Unmarshal(data, &msg)
		if msg["eventType"] != "photo_taken" {
			t.Errorf("expected photo_taken, got %v", msg["eventType"])
		}
	}
}

func TestRequestTimeSendsTimeSyncRequest(t *testing.T) {
	hub, srv := newTestHub(t)
	conn := dial(t, srv)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	conn.ReadMessage() // welcome

	waitForClientCount(t, hub, 1)

	addrs := hub.ClientsOn(timesync.InterfaceWLAN)
	if len(addrs) != 1 {
		t.Fatalf("expected exactly one wlan client, got %d", len(addrs))
	}

	if err := hub.RequestTime(addrs[0].Address); err != nil {
		t.Fatalf("RequestTime: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("expected time-sync-request: %v", err)
	}
	var msg map[string]any
	json.Unmarshal(data, &msg)
	if msg["type"] != "time-sync-request" {
		t.Errorf("expected time-sync-request, got %v", msg["type"])
	}
	if msg["requestId"] == nil || msg["requestId"] == "" {
		t.Errorf("expected a non-empty requestId")
	}
}

func TestIsConnectedReflectsDisconnect(t *testing.T) {
	hub, srv := newTestHub(t)
	conn := dial(t, srv)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	conn.ReadMessage()

	waitForClientCount(t, hub, 1)
	addrs := hub.ClientsOn(timesync.InterfaceWLAN)
	addr := addrs[0].Address
	if !hub.IsConnected(addr) {
		t.Fatalf("expected client to be connected")
	}

	conn.Close()
	waitForClientCount(t, hub, 0)
	if hub.IsConnected(addr) {
		t.Errorf("expected client to be gone after disconnect")
	}
}

func waitForClientCount(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for client count %d, have %d", n, hub.ClientCount())
}

package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/papamarky/pi-camera-control/internal/activitylog"
	"github.com/papamarky/pi-camera-control/internal/broadcast"
	"github.com/papamarky/pi-camera-control/internal/clockwork"
	"github.com/papamarky/pi-camera-control/internal/discovery"
	"github.com/papamarky/pi-camera-control/internal/eventbus"
	"github.com/papamarky/pi-camera-control/internal/metrics"
	"github.com/papamarky/pi-camera-control/internal/reports"
	"github.com/papamarky/pi-camera-control/internal/timesync"
)

// noopHostClock satisfies timesync.HostClock without touching the real
// system clock/timezone, for tests that wire a full Service.
type noopHostClock struct{}

func (noopHostClock) SetSystemTime(t time.Time) error { return nil }
func (noopHostClock) SetTimezone(tz string) error     { return nil }

// newFakeCamera serves just enough CCAPI-shaped JSON for the handlers
// under test (status, settings, photo, storage).
func newFakeCamera(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	const prefix = "/ccapi/" + ccapiVersion
	mux.HandleFunc(prefix+"/deviceinformation", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"productname": "EOS R5"})
	})
	mux.HandleFunc(prefix+"/shooting/settings", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"av": map[string]any{"value": "5.6", "ability": []string{"5.6", "8"}},
		})
	})
	mux.HandleFunc(prefix+"/shooting/control/shutterbutton", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc(prefix+"/devicestatus/storage", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"storagelist": []map[string]any{}})
	})
	srv := httptest.NewTLSServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// testServer wires a full Server the way cmd/server/main.go would, pointed
// at a fake CCAPI camera already registered and promoted as primary.
func testServer(t *testing.T) (*Server, discovery.CameraRecord) {
	t.Helper()
	clock := clockwork.System

	camSrv := newFakeCamera(t)
	u, err := url.Parse(camSrv.URL)
	if err != nil {
		t.Fatalf("parse fake camera URL: %v", err)
	}
	host := u.Hostname()
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse fake camera port: %v", err)
	}

	registry := discovery.NewRegistry(clock)
	rec := registry.Upsert("cam-1", host, port, "EOS R5")
	if err := registry.SetPrimary(rec.UUID); err != nil {
		t.Fatalf("SetPrimary: %v", err)
	}

	reportMgr, err := reports.New(t.TempDir(), clock)
	if err != nil {
		t.Fatalf("reports.New: %v", err)
	}

	hub := broadcast.NewHub(clock, nil, func(string) timesync.ClientInterface { return timesync.InterfaceWLAN })
	proxy := timesync.NewProxyState(clock)
	ts := timesync.NewService(clock, proxy, noopHostClock{}, hub)
	bus := eventbus.New()
	mcs := metrics.NewCollector()

	s := NewServer(clock, registry, reportMgr, hub, ts, bus, mcs, activitylog.New(clock))
	return s, rec
}

func TestHandleCameraStatusReturnsConnectionStatus(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/camera/status", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var status map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("response was not valid JSON: %v", err)
	}
	if connected, _ := status["Connected"].(bool); !connected {
		t.Fatalf("expected connected=true, got %v", status)
	}
}

func TestHandleTakePhotoRecordsMetricAndSucceeds(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/camera/photo", strings.NewReader(`{"af":false}`))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleCameraStatusNoPrimaryReturnsCameraOffline(t *testing.T) {
	clock := clockwork.System
	registry := discovery.NewRegistry(clock)
	reportMgr, err := reports.New(t.TempDir(), clock)
	if err != nil {
		t.Fatalf("reports.New: %v", err)
	}
	hub := broadcast.NewHub(clock, nil, func(string) timesync.ClientInterface { return timesync.InterfaceWLAN })
	ts := timesync.NewService(clock, timesync.NewProxyState(clock), noopHostClock{}, hub)
	s := NewServer(clock, registry, reportMgr, hub, ts, eventbus.New(), metrics.NewCollector(), activitylog.New(clock))

	req := httptest.NewRequest(http.MethodGet, "/api/camera/status", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", w.Code, w.Body.String())
	}
	var envelope errorEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if envelope.Error.Code != "CAMERA_OFFLINE" {
		t.Fatalf("expected CAMERA_OFFLINE, got %q", envelope.Error.Code)
	}
}

func TestHandleIntervalometerStartRejectsMissingInterval(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/intervalometer/start", strings.NewReader(`{"title":"test"}`))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	var envelope errorEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if envelope.Error.Code != "MISSING_PARAMETER" {
		t.Fatalf("expected MISSING_PARAMETER, got %q", envelope.Error.Code)
	}
}

func TestHandleIntervalometerStatusReportsInactiveByDefault(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/intervalometer/status", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body map[string]any
	json.Unmarshal(w.Body.Bytes(), &body)
	if active, _ := body["active"].(bool); active {
		t.Fatalf("expected active=false with no session started")
	}
}

func TestHandleListReportsEmptyByDefault(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/timelapse/reports", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleGetUnsavedSessionAbsentByDefault(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/timelapse/unsaved-session", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	var body map[string]any
	json.Unmarshal(w.Body.Bytes(), &body)
	if present, _ := body["present"].(bool); present {
		t.Fatalf("expected no unsaved session, got %v", body)
	}
}

func TestHandleDiscoveryStatusReportsPrimary(t *testing.T) {
	s, rec := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/discovery/status", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body map[string]any
	json.Unmarshal(w.Body.Bytes(), &body)
	if hasPrimary, _ := body["hasPrimary"].(bool); !hasPrimary {
		t.Fatalf("expected hasPrimary=true for %s", rec.UUID)
	}
}

func TestHandleDiscoveryScanWithoutSSDPReturnsServiceUnavailable(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/discovery/scan", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleSystemTimeGetReturnsCurrentTime(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/system/time", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestWebSocketPingReceivesPong(t *testing.T) {
	s, _ := testServer(t)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("expected welcome message: %v", err)
	}

	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	// Connecting also adopts this client as the time-sync proxy, which
	// queues a time-sync-request plus the resulting activity_log and
	// time-sync-status broadcasts; skip those to reach the ping's reply.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply map[string]any
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("expected pong message: %v", err)
		}
		reply = nil
		if err := json.Unmarshal(data, &reply); err != nil {
			t.Fatalf("pong was not valid JSON: %v", err)
		}
		if reply["type"] != "time-sync-request" && reply["type"] != "activity_log" && reply["type"] != "time-sync-status" {
			break
		}
	}
	if reply["type"] != "pong" {
		t.Fatalf("expected pong, got %v", reply)
	}
}

func TestHealthzReportsOK(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Fatalf("unexpected healthz response: %d %s", w.Code, w.Body.String())
	}
}

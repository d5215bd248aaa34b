// Package api is the thin external-interface surface (C10, spec §4
// intro table): REST endpoints and WebSocket message dispatch that
// delegate to C1-C9 and render their results/errors through the single
// apierr envelope. Routing is grounded on the teacher's cmd/hlsd/main.go
// chi setup (middleware stack, /metrics mount, graceful shutdown); the
// REST handler shape (respondJSON/respondError, decode-validate-call)
// follows internal/api/camera_handlers.go.
package api

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/papamarky/pi-camera-control/internal/activitylog"
	"github.com/papamarky/pi-camera-control/internal/apierr"
	"github.com/papamarky/pi-camera-control/internal/broadcast"
	"github.com/papamarky/pi-camera-control/internal/cameraclient"
	"github.com/papamarky/pi-camera-control/internal/clockwork"
	"github.com/papamarky/pi-camera-control/internal/discovery"
	"github.com/papamarky/pi-camera-control/internal/eventbus"
	"github.com/papamarky/pi-camera-control/internal/eventpoller"
	"github.com/papamarky/pi-camera-control/internal/intervalometer"
	"github.com/papamarky/pi-camera-control/internal/metrics"
	"github.com/papamarky/pi-camera-control/internal/reports"
	"github.com/papamarky/pi-camera-control/internal/timesync"
)

const component = "api"
const ccapiVersion = "ver100"

// Server wires C1-C9 to HTTP/WebSocket traffic. It is deliberately thin:
// every method here either reads subsystem state or calls a subsystem
// method, never re-implements subsystem logic.
type Server struct {
	clock     clockwork.Clock
	registry  *discovery.Registry
	reportMgr *reports.Manager
	hub       *broadcast.Hub
	timesync  *timesync.Service
	bus       *eventbus.Bus
	metrics   *metrics.Collector
	activity  *activitylog.Log

	ssdp *discovery.SSDPClient

	mu            sync.Mutex
	cameraClients map[string]*cameraclient.Client
	activeSession *intervalometer.Session
}

// SetSSDPClient wires the ad-hoc /api/discovery/scan endpoint to the
// same SSDP transport the background Scanner uses. Optional: without it,
// the endpoint reports SERVICE_UNAVAILABLE rather than failing to start.
func (s *Server) SetSSDPClient(c *discovery.SSDPClient) {
	s.ssdp = c
}

func NewServer(clock clockwork.Clock, registry *discovery.Registry, reportMgr *reports.Manager, hub *broadcast.Hub, ts *timesync.Service, bus *eventbus.Bus, mcs *metrics.Collector, activity *activitylog.Log) *Server {
	if clock == nil {
		clock = clockwork.System
	}
	s := &Server{
		clock:         clock,
		registry:      registry,
		reportMgr:     reportMgr,
		hub:           hub,
		timesync:      ts,
		bus:           bus,
		metrics:       mcs,
		activity:      activity,
		cameraClients: make(map[string]*cameraclient.Client),
	}
	hub.SetInboundHandler(s.handleInbound)
	hub.SetConnectHandler(func(iface timesync.ClientInterface, address string) {
		if ts != nil {
			ts.OnClientConnected(iface, address)
		}
		if mcs != nil {
			mcs.SetConnectedClients(hub.ClientCount())
		}
	})
	hub.SetDisconnectHandler(func(addr string) {
		if mcs != nil {
			mcs.SetConnectedClients(hub.ClientCount())
		}
	})
	s.wireEvents()
	if activity != nil {
		activity.Subscribe(func(e activitylog.Entry) {
			hub.Broadcast(map[string]any{
				"type":      "activity_log",
				"timestamp": e.Timestamp,
				"component": e.Component,
				"message":   e.Message,
			})
		})
	}
	return s
}

// Router builds the chi mux for cmd/server/main.go to serve.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", s.metrics.Handler())
	r.Get("/ws", s.hub.ServeWS)

	r.Route("/api/camera", func(r chi.Router) {
		r.Get("/status", s.handleCameraStatus)
		r.Get("/settings", s.handleCameraSettings)
		r.Get("/battery", s.handleCameraBattery)
		r.Post("/photo", s.handleTakePhoto)
		r.Post("/reconnect", s.handleCameraReconnect)
		r.Put("/configure", s.handleCameraConfigure)
		r.Post("/validate-interval", s.handleValidateInterval)
	})

	r.Route("/api/intervalometer", func(r chi.Router) {
		r.Post("/start", s.handleIntervalometerStart)
		r.Post("/start-with-title", s.handleIntervalometerStart)
		r.Post("/stop", s.handleIntervalometerStop)
		r.Get("/status", s.handleIntervalometerStatus)
	})

	r.Route("/api/timelapse", func(r chi.Router) {
		r.Get("/reports", s.handleListReports)
		r.Get("/reports/{id}", s.handleGetReport)
		r.Put("/reports/{id}", s.handleUpdateReportTitle)
		r.Delete("/reports/{id}", s.handleDeleteReport)
		r.Get("/unsaved-session", s.handleGetUnsavedSession)
		r.Post("/sessions/{id}/save", s.handleSaveSession)
		r.Post("/sessions/{id}/discard", s.handleDiscardSession)
	})

	r.Route("/api/system", func(r chi.Router) {
		r.Get("/time", s.handleSystemTimeGet)
		r.Post("/time", s.handleSystemTimeSet)
	})

	r.Route("/api/discovery", func(r chi.Router) {
		r.Get("/status", s.handleDiscoveryStatus)
		r.Get("/cameras", s.handleDiscoveryCameras)
		r.Post("/scan", s.handleDiscoveryScan)
		r.Put("/primary/{uuid}", s.handleSetPrimary)
		r.Post("/connect", s.handleDiscoveryConnect)
	})

	return r
}

// primaryClient resolves the current primary camera's CCAPI client fresh
// on every call (never cached across a suspension point, spec §5/§9).
func (s *Server) primaryClient(ctx context.Context) (*cameraclient.Client, discovery.CameraRecord, error) {
	rec, ok := s.registry.GetPrimaryCamera()
	if !ok {
		return nil, discovery.CameraRecord{}, apierr.New(component, "primaryClient", apierr.CameraOffline, "no primary camera", nil)
	}
	return s.clientFor(rec), rec, nil
}

// clientFor returns the cached CCAPI client for uuid, constructing one on
// first use. Camera clients carry per-camera state (transport-failure
// count, cached shutter value, paused-probe flags, the ability LRU), so
// every caller must get the same client for a given camera.
func (s *Server) clientFor(rec discovery.CameraRecord) *cameraclient.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.cameraClients[rec.UUID]; ok {
		return c
	}
	c := cameraclient.New(rec.IPAddress, rec.Port, ccapiVersion)
	s.cameraClients[rec.UUID] = c
	return c
}

func (s *Server) setActiveSession(sess *intervalometer.Session) {
	s.mu.Lock()
	s.activeSession = sess
	s.mu.Unlock()
}

func (s *Server) getActiveSession() *intervalometer.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeSession
}

// StatusSnapshot assembles the cross-subsystem snapshot for
// welcome/status_update messages (spec §4.9). Wired as the broadcast
// Hub's StatusProvider by the composition root.
func (s *Server) StatusSnapshot() broadcast.StatusSnapshot {
	snap := broadcast.StatusSnapshot{
		Network: map[string]any{"connectedClients": s.hub.ClientCount()},
	}

	if rec, ok := s.registry.GetPrimaryCamera(); ok {
		snap.Camera = rec
		if status, err := s.clientFor(rec).GetConnectionStatus(context.Background()); err == nil {
			snap.Camera = status
			if status.Connected {
				if storage, err := s.clientFor(rec).GetStorageInfo(context.Background()); err == nil {
					snap.Storage = storage
				}
			}
		}
	}

	if sess := s.getActiveSession(); sess != nil {
		stats := sess.Stats()
		avg := 0.0
		if stats.ShotsSuccessful > 0 {
			avg = stats.TotalShotDurationSeconds / float64(stats.ShotsSuccessful)
		}
		snap.Intervalometer = map[string]any{
			"state":              sess.State(),
			"options":            sess.Options(),
			"stats":              stats,
			"averageShotDuration": avg,
		}
	}

	snap.TimeSync = map[string]any{
		"connectedClients": s.hub.ClientCount(),
	}

	return snap
}

func logHandlerError(operation string, err error) {
	log.Printf("[%s] %s failed: %v", component, operation, err)
}

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/papamarky/pi-camera-control/internal/apierr"
	"github.com/papamarky/pi-camera-control/internal/discovery"
)

func (s *Server) handleDiscoveryStatus(w http.ResponseWriter, r *http.Request) {
	cameras := s.registry.List()
	primary, hasPrimary := s.registry.GetPrimaryCamera()
	resp := map[string]any{
		"cameraCount": len(cameras),
		"hasPrimary":  hasPrimary,
	}
	if hasPrimary {
		resp["primary"] = primary
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDiscoveryCameras(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.registry.List())
}

// handleDiscoveryScan triggers an ad-hoc M-SEARCH in addition to the
// background periodic scan (spec §4.3); results are folded into the
// registry the same way as the background loop, via Upsert.
func (s *Server) handleDiscoveryScan(w http.ResponseWriter, r *http.Request) {
	if s.ssdp == nil {
		respondError(w, apierr.New(component, "discovery_scan", apierr.ServiceUnavail, "discovery transport is not available", nil))
		return
	}
	var body struct {
		DurationSeconds float64 `json:"durationSeconds"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	duration := 5 * time.Second
	if body.DurationSeconds > 0 {
		duration = time.Duration(body.DurationSeconds * float64(time.Second))
	}

	ads, err := s.ssdp.Scan(r.Context(), duration)
	if err != nil {
		respondError(w, apierr.New(component, "discovery_scan", apierr.WifiScanFailed, "SSDP scan failed", err))
		return
	}
	found := 0
	for _, ad := range ads {
		uuid := discovery.ExtractUUID(ad.USN)
		if uuid == "" {
			continue
		}
		s.registry.Upsert(uuid, ad.IPAddress, ad.Port, "")
		found++
	}
	respondJSON(w, http.StatusOK, map[string]any{"found": found})
}

func (s *Server) handleSetPrimary(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")
	if err := s.registry.SetPrimary(uuid); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleDiscoveryConnect establishes (or re-probes) a CCAPI client for a
// discovered camera and marks it connected in the registry.
func (s *Server) handleDiscoveryConnect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UUID string `json:"uuid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UUID == "" {
		respondError(w, apierr.New(component, "discovery_connect", apierr.MissingParameter, "uuid is required", err))
		return
	}

	var found bool
	for _, rec := range s.registry.List() {
		if rec.UUID != body.UUID {
			continue
		}
		found = true

		client := s.clientFor(rec)
		status, err := client.GetConnectionStatus(r.Context())
		if err != nil {
			respondError(w, apierr.New(component, "discovery_connect", apierr.CameraOffline, "camera unreachable", err))
			return
		}

		capabilities := map[string]bool{"shooting": true, "devicestatus": true, "functions": true}
		if err := s.registry.MarkConnected(rec.UUID, capabilities); err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, status)
		return
	}
	if !found {
		respondError(w, apierr.New(component, "discovery_connect", apierr.OperationFailed, "unknown camera", nil))
	}
}

package api

import (
	"encoding/json"
	"net/http"

	"github.com/papamarky/pi-camera-control/internal/apierr"
)

func (s *Server) handleCameraStatus(w http.ResponseWriter, r *http.Request) {
	client, _, err := s.primaryClient(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	status, err := client.GetConnectionStatus(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleCameraSettings(w http.ResponseWriter, r *http.Request) {
	client, _, err := s.primaryClient(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	settings, err := client.GetCameraSettings(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

func (s *Server) handleCameraBattery(w http.ResponseWriter, r *http.Request) {
	client, _, err := s.primaryClient(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	status, err := client.GetConnectionStatus(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleTakePhoto(w http.ResponseWriter, r *http.Request) {
	client, _, err := s.primaryClient(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	var body struct {
		AF bool `json:"af"`
	}
	json.NewDecoder(r.Body).Decode(&body) // empty body defaults to af:false

	if err := client.TakePhoto(r.Context(), body.AF); err != nil {
		respondError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordShot(true)
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleCameraReconnect(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.registry.GetPrimaryCamera()
	if !ok {
		respondError(w, apierr.New(component, "reconnect", apierr.CameraOffline, "no primary camera", nil))
		return
	}
	client := s.clientFor(rec)
	status, err := client.GetConnectionStatus(r.Context())
	if err != nil {
		respondError(w, apierr.New(component, "reconnect", apierr.CameraOffline, "camera unreachable", err))
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleCameraConfigure(w http.ResponseWriter, r *http.Request) {
	client, _, err := s.primaryClient(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	var body struct {
		Key   string `json:"key"`
		Value any    `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, apierr.New(component, "configure", apierr.MissingParameter, "invalid JSON body", err))
		return
	}
	if body.Key == "" {
		respondError(w, apierr.New(component, "configure", apierr.MissingParameter, "key is required", nil))
		return
	}
	if err := client.SetCameraSetting(r.Context(), body.Key, body.Value); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleValidateInterval(w http.ResponseWriter, r *http.Request) {
	client, _, err := s.primaryClient(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	var body struct {
		Seconds float64 `json:"interval"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, apierr.New(component, "validate-interval", apierr.MissingParameter, "invalid JSON body", err))
		return
	}
	valid, reason, err := client.ValidateInterval(r.Context(), body.Seconds)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"valid": valid, "reason": reason})
}

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/papamarky/pi-camera-control/internal/apierr"
	"github.com/papamarky/pi-camera-control/internal/eventpoller"
	"github.com/papamarky/pi-camera-control/internal/intervalometer"
)

type startIntervalometerRequest struct {
	Title         string   `json:"title"`
	Interval      float64  `json:"interval"`
	Shots         *int     `json:"shots,omitempty"`
	StopTime      *string  `json:"stopTime,omitempty"`
	StopCondition *string  `json:"stopCondition,omitempty"`
}

func (s *Server) startSession(req startIntervalometerRequest) (*intervalometer.Session, error) {
	if req.Interval <= 0 {
		return nil, apierr.New(component, "start_intervalometer", apierr.MissingParameter, "interval is required", nil)
	}

	opts := intervalometer.SessionOptions{
		Title:    req.Title,
		Interval: time.Duration(req.Interval * float64(time.Second)),
	}

	switch {
	case req.Shots != nil:
		opts.StopCondition = intervalometer.StopShots
		opts.TotalShots = req.Shots
	case req.StopTime != nil:
		t, err := time.Parse(time.RFC3339, *req.StopTime)
		if err != nil {
			return nil, apierr.New(component, "start_intervalometer", apierr.InvalidParameter, "stopTime must be RFC3339", err)
		}
		opts.StopCondition = intervalometer.StopTime
		opts.StopTime = &t
	default:
		opts.StopCondition = intervalometer.StopUnlimited
	}

	rec, ok := s.registry.GetPrimaryCamera()
	if !ok {
		return nil, apierr.New(component, "start_intervalometer", apierr.CameraOffline, "no primary camera", nil)
	}
	client := s.clientFor(rec)
	poller := eventpoller.New(client)

	sess, err := s.reportMgr.CreateSession("", client, poller, s.registry, opts)
	if err != nil {
		return nil, err
	}
	sess.Subscribe(s.onSessionPhotoEvent)
	s.setActiveSession(sess)
	if s.metrics != nil {
		s.metrics.SetSessionActive(true)
	}
	return sess, nil
}

func (s *Server) handleIntervalometerStart(w http.ResponseWriter, r *http.Request) {
	var req startIntervalometerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apierr.New(component, "start_intervalometer", apierr.MissingParameter, "invalid JSON body", err))
		return
	}

	sess, err := s.startSession(req)
	if err != nil {
		respondError(w, err)
		return
	}
	if err := sess.Start(r.Context()); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessionId": sess.ID(), "state": sess.State()})
}

func (s *Server) handleIntervalometerStop(w http.ResponseWriter, r *http.Request) {
	sess := s.getActiveSession()
	if sess == nil {
		respondError(w, apierr.New(component, "stop_intervalometer", apierr.SessionNotFound, "no active session", nil))
		return
	}
	if err := sess.Stop(); err != nil {
		respondError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.SetSessionActive(false)
	}
	respondJSON(w, http.StatusOK, map[string]any{"state": sess.State()})
}

func (s *Server) handleIntervalometerStatus(w http.ResponseWriter, r *http.Request) {
	sess := s.getActiveSession()
	if sess == nil {
		respondJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"active":  true,
		"state":   sess.State(),
		"options": sess.Options(),
		"stats":   sess.Stats(),
	})
}

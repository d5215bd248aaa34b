package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/papamarky/pi-camera-control/internal/apierr"
)

func (s *Server) handleSystemTimeGet(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"time": s.clock.Now()})
}

// handleSystemTimeSet accepts the browser client's wall clock (the
// client->server time-sync-response payload, spec §6) over REST as an
// alternative to the WebSocket path.
func (s *Server) handleSystemTimeSet(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ClientTime time.Time `json:"clientTime"`
		Timezone   string    `json:"timezone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, apierr.New(component, "system_time_set", apierr.MissingParameter, "invalid JSON body", err))
		return
	}
	s.timesync.HandleClientTimeResponse(r.Context(), body.ClientTime, body.Timezone)
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

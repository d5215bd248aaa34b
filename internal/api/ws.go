package api

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/papamarky/pi-camera-control/internal/apierr"
	"github.com/papamarky/pi-camera-control/internal/broadcast"
)

// handleInbound dispatches a parsed client->server WebSocket message
// (spec §6) to the same Server methods the REST handlers call, so
// business logic lives in exactly one place.
func (s *Server) handleInbound(c *broadcast.Client, msgType string, raw json.RawMessage) {
	switch msgType {
	case "ping":
		s.hub.SendTo(c, map[string]any{"type": "pong", "timestamp": time.Now()})

	case "take_photo":
		s.wsTakePhoto(c)

	case "get_camera_settings":
		s.wsGetCameraSettings(c)

	case "get_status":
		s.hub.SendTo(c, map[string]any{"type": "status_update", "timestamp": time.Now(), "data": s.StatusSnapshot()})

	case "start_intervalometer_with_title":
		s.wsStartIntervalometer(c, raw)

	case "stop_intervalometer":
		s.wsStopIntervalometer(c)

	case "get_timelapse_reports":
		s.wsListReports(c)

	case "get_timelapse_report":
		s.wsGetReport(c, raw)

	case "update_report_title":
		s.wsUpdateReportTitle(c, raw)

	case "delete_timelapse_report":
		s.wsDeleteReport(c, raw)

	case "save_session_as_report":
		s.wsSaveSession(c, raw)

	case "discard_session":
		s.wsDiscardSession(c, raw)

	case "time-sync-response":
		s.wsTimeSyncResponse(c, raw)

	default:
		log.Printf("[%s] unknown WebSocket message type %q", component, msgType)
	}
}

func (s *Server) wsReplyError(c *broadcast.Client, err error) {
	s.hub.SendTo(c, wsErrorMessage(err))
}

func (s *Server) wsTakePhoto(c *broadcast.Client) {
	client, _, err := s.primaryClient(context.Background())
	if err != nil {
		s.wsReplyError(c, err)
		return
	}
	if err := client.TakePhoto(context.Background(), false); err != nil {
		s.wsReplyError(c, err)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordShot(true)
	}
	s.hub.SendTo(c, map[string]any{"type": "event", "eventType": "photo_taken", "timestamp": time.Now()})
}

func (s *Server) wsGetCameraSettings(c *broadcast.Client) {
	client, _, err := s.primaryClient(context.Background())
	if err != nil {
		s.wsReplyError(c, err)
		return
	}
	settings, err := client.GetCameraSettings(context.Background())
	if err != nil {
		s.wsReplyError(c, err)
		return
	}
	s.hub.SendTo(c, map[string]any{"type": "event", "eventType": "camera_settings", "data": settings, "timestamp": time.Now()})
}

func (s *Server) wsStartIntervalometer(c *broadcast.Client, raw json.RawMessage) {
	var req startIntervalometerRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.wsReplyError(c, apierr.New(component, "start_intervalometer", apierr.MissingParameter, "invalid message body", err))
		return
	}
	sess, err := s.startSession(req)
	if err != nil {
		s.wsReplyError(c, err)
		return
	}
	if err := sess.Start(context.Background()); err != nil {
		s.wsReplyError(c, err)
		return
	}
	s.hub.SendTo(c, map[string]any{"type": "event", "eventType": "started", "sessionId": sess.ID(), "timestamp": time.Now()})
}

func (s *Server) wsStopIntervalometer(c *broadcast.Client) {
	sess := s.getActiveSession()
	if sess == nil {
		s.wsReplyError(c, apierr.New(component, "stop_intervalometer", apierr.SessionNotFound, "no active session", nil))
		return
	}
	if err := sess.Stop(); err != nil {
		s.wsReplyError(c, err)
		return
	}
	if s.metrics != nil {
		s.metrics.SetSessionActive(false)
	}
	s.hub.SendTo(c, map[string]any{"type": "event", "eventType": "stopped", "timestamp": time.Now()})
}

func (s *Server) wsListReports(c *broadcast.Client) {
	list, err := s.reportMgr.ListReports(50, 0)
	if err != nil {
		s.wsReplyError(c, err)
		return
	}
	s.hub.SendTo(c, map[string]any{"type": "timelapse_event", "eventType": "reports", "data": list, "timestamp": time.Now()})
}

func (s *Server) wsGetReport(c *broadcast.Client, raw json.RawMessage) {
	var body struct {
		ID string `json:"id"`
	}
	json.Unmarshal(raw, &body)
	report, err := s.reportMgr.GetReport(body.ID)
	if err != nil {
		s.wsReplyError(c, err)
		return
	}
	s.hub.SendTo(c, map[string]any{"type": "timelapse_event", "eventType": "report", "data": report, "timestamp": time.Now()})
}

func (s *Server) wsUpdateReportTitle(c *broadcast.Client, raw json.RawMessage) {
	var body struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	json.Unmarshal(raw, &body)
	report, err := s.reportMgr.UpdateReportTitle(body.ID, body.Title)
	if err != nil {
		s.wsReplyError(c, err)
		return
	}
	s.hub.SendTo(c, map[string]any{"type": "timelapse_event", "eventType": "report_updated", "data": report, "timestamp": time.Now()})
}

func (s *Server) wsDeleteReport(c *broadcast.Client, raw json.RawMessage) {
	var body struct {
		ID string `json:"id"`
	}
	json.Unmarshal(raw, &body)
	if err := s.reportMgr.DeleteReport(body.ID); err != nil {
		s.wsReplyError(c, err)
		return
	}
	s.hub.SendTo(c, map[string]any{"type": "timelapse_event", "eventType": "report_deleted", "id": body.ID, "timestamp": time.Now()})
}

func (s *Server) wsSaveSession(c *broadcast.Client, raw json.RawMessage) {
	var body struct {
		SessionID string `json:"sessionId"`
		Title     string `json:"title"`
	}
	json.Unmarshal(raw, &body)
	report, err := s.reportMgr.SaveSessionAsReport(body.SessionID, body.Title)
	if err != nil {
		s.wsReplyError(c, err)
		return
	}
	s.hub.SendTo(c, map[string]any{"type": "timelapse_event", "eventType": "session_saved", "data": report, "timestamp": time.Now()})
}

func (s *Server) wsDiscardSession(c *broadcast.Client, raw json.RawMessage) {
	var body struct {
		SessionID string `json:"sessionId"`
	}
	json.Unmarshal(raw, &body)
	if err := s.reportMgr.DiscardSession(body.SessionID); err != nil {
		s.wsReplyError(c, err)
		return
	}
	s.hub.SendTo(c, map[string]any{"type": "timelapse_event", "eventType": "session_discarded", "sessionId": body.SessionID, "timestamp": time.Now()})
}

// wsTimeSyncResponse handles the client->server time-sync-response
// message (spec §4.8/§6), the WebSocket-native path for the browser
// client's wall clock.
func (s *Server) wsTimeSyncResponse(c *broadcast.Client, raw json.RawMessage) {
	var body struct {
		ClientTime time.Time `json:"clientTime"`
		Timezone   string    `json:"timezone"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		s.wsReplyError(c, apierr.New(component, "time_sync_response", apierr.MissingParameter, "invalid message body", err))
		return
	}
	s.timesync.HandleClientTimeResponse(context.Background(), body.ClientTime, body.Timezone)
}


package api

// Event wiring: C1-C8 each expose a typed Subscribe(fn) hook; this file is
// the one place that turns those into eventbus publishes, activity-log
// entries, metrics updates, and broadcast fan-out, so no subsystem needs
// to import C9 or C10 directly (spec §9 design note on breaking cyclic
// references).

import (
	"github.com/papamarky/pi-camera-control/internal/discovery"
	"github.com/papamarky/pi-camera-control/internal/eventbus"
	"github.com/papamarky/pi-camera-control/internal/intervalometer"
	"github.com/papamarky/pi-camera-control/internal/reports"
	"github.com/papamarky/pi-camera-control/internal/timesync"
)

// wireEvents subscribes to every injected subsystem's event stream. Called
// once from NewServer; registry/reportMgr/ts may be nil in tests that only
// exercise a subset of handlers.
func (s *Server) wireEvents() {
	if s.registry != nil {
		s.registry.Subscribe(s.onDiscoveryEvent)
	}
	if s.reportMgr != nil {
		s.reportMgr.Subscribe(s.onReportEvent)
	}
	if s.timesync != nil {
		s.timesync.Subscribe(s.onTimeSyncEvent)
	}
}

func (s *Server) onDiscoveryEvent(evt discovery.Event) {
	if s.bus != nil {
		s.bus.Publish(eventbus.TopicDiscovery, evt)
	}
	if s.activity != nil {
		s.activity.Record("discovery", evt.Type.String()+" "+evt.Record.UUID)
	}
	s.hub.Broadcast(map[string]any{
		"type":      "discovery_event",
		"eventType": evt.Type.String(),
		"camera":    evt.Record,
		"oldIp":     evt.OldIP,
	})
	s.hub.BroadcastStatus()
}

func (s *Server) onReportEvent(evt reports.Event) {
	if s.bus != nil {
		s.bus.Publish(eventbus.TopicReports, evt)
	}
	if s.metrics != nil {
		switch evt.Type {
		case reports.EventSessionStarted:
			s.metrics.SetSessionActive(true)
		case reports.EventSessionStopped, reports.EventSessionCompleted, reports.EventSessionDiscarded:
			s.metrics.SetSessionActive(false)
		}
	}
	if s.activity != nil {
		s.activity.Record("intervalometer", evt.Type.String()+" "+evt.SessionID)
	}
	s.hub.Broadcast(map[string]any{
		"type":              "timelapse_event",
		"eventType":         evt.Type.String(),
		"sessionId":         evt.SessionID,
		"report":            evt.Report,
		"needsUserDecision": evt.NeedsUserDecision,
	})
}

// onSessionPhotoEvent is subscribed directly to a running
// intervalometer.Session (not routed through reports.Manager, whose Event
// type only carries session-level lifecycle transitions) so per-shot
// metrics reach the collector during a real timelapse, not just the
// manual /api/camera/photo path.
func (s *Server) onSessionPhotoEvent(evt intervalometer.Event) {
	if s.metrics == nil {
		return
	}
	switch evt.Type {
	case intervalometer.EventPhotoTaken:
		s.metrics.RecordShot(true)
	case intervalometer.EventPhotoFailed:
		s.metrics.RecordShot(false)
	case intervalometer.EventPhotoOvertime:
		s.metrics.RecordOvertimeShot()
	}
}

func (s *Server) onTimeSyncEvent(evt timesync.Event) {
	if s.bus != nil {
		s.bus.Publish(eventbus.TopicTimeSync, evt)
	}
	if s.metrics != nil {
		s.metrics.SetProxyState(string(evt.State))
	}
	if s.activity != nil {
		s.activity.Record("timesync", evt.Type.String())
	}
	s.hub.Broadcast(map[string]any{
		"type":          "time-sync-status",
		"eventType":     evt.Type.String(),
		"state":         evt.State,
		"clientAddress": evt.ClientAddress,
		"driftMs":       evt.DriftMs,
	})
}

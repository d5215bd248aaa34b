package reports

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/papamarky/pi-camera-control/internal/apierr"
	"github.com/papamarky/pi-camera-control/internal/cameraclient"
	"github.com/papamarky/pi-camera-control/internal/clockwork"
	"github.com/papamarky/pi-camera-control/internal/eventpoller"
	"github.com/papamarky/pi-camera-control/internal/intervalometer"
	"github.com/papamarky/pi-camera-control/internal/platform/paths"
)

const component = "reports"

// unsavedSession is the payload persisted to unsaved-session.json: either
// a terminal session awaiting a user save/discard decision after an
// auto-save failure, or (transiently, per spec §9's ordering requirement)
// the completion data written just before the auto-save attempt itself,
// so a crash between "session ended" and "report written" still leaves a
// recoverable payload.
type unsavedSession struct {
	SessionID  string               `json:"sessionId"`
	Report     Report               `json:"report"`
	SavedAt    time.Time            `json:"savedAt"`
}

// Manager wraps the single active intervalometer session and owns report
// persistence (spec §4.6).
type Manager struct {
	dataRoot string
	clock    clockwork.Clock

	mu       sync.Mutex
	active   *intervalometer.Session
	unsaved  *unsavedSession
	listeners []func(Event)
}

// New constructs a manager rooted at dataRoot (spec §6 persisted-state
// layout) and, if an unsaved-session file exists from a prior crash,
// loads it so the caller can emit unsavedSessionFound once listeners are
// wired (spec §4.6 "on process start").
func New(dataRoot string, clock clockwork.Clock) (*Manager, error) {
	if clock == nil {
		clock = clockwork.System
	}
	if err := paths.EnsureDirs(dataRoot); err != nil {
		return nil, err
	}
	m := &Manager{dataRoot: dataRoot, clock: clock}

	data, err := os.ReadFile(paths.UnsavedSessionPath(dataRoot))
	if err == nil {
		var pending unsavedSession
		if jsonErr := json.Unmarshal(data, &pending); jsonErr == nil {
			m.unsaved = &pending
		} else {
			log.Printf("[reports] failed to parse unsaved-session.json: %v", jsonErr)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read unsaved-session.json: %w", err)
	}
	return m, nil
}

func (m *Manager) Subscribe(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Manager) emit(evt Event) {
	m.mu.Lock()
	listeners := append([]func(Event){}, m.listeners...)
	m.mu.Unlock()
	for _, l := range listeners {
		l(evt)
	}
}

// NotifyUnsavedSessionFound replays the recovered unsaved session, if any,
// to every currently-subscribed listener. Call once at startup after
// wiring the broadcast fabric.
func (m *Manager) NotifyUnsavedSessionFound() {
	m.mu.Lock()
	pending := m.unsaved
	m.mu.Unlock()
	if pending == nil {
		return
	}
	r := pending.Report
	m.emit(Event{Type: EventUnsavedSessionFound, Report: &r, SessionID: pending.SessionID, NeedsUserDecision: true})
}

// UnsavedSession returns the recovered-or-staged unsaved session, if any
// (spec §6 "zero or one file; present iff a terminal session is awaiting
// user save/discard").
func (m *Manager) UnsavedSession() (Report, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unsaved == nil {
		return Report{}, false
	}
	return m.unsaved.Report, true
}

// CreateSession installs a new session as the active one and wires it so
// every lifecycle transition produces a manager Event and, on a terminal
// transition, an auto-save attempt. Fails if a session is already
// running|paused (spec §4.6, spec §8 invariant 1).
func (m *Manager) CreateSession(id string, camera *cameraclient.Client, poller *eventpoller.Poller, primary intervalometer.PrimaryCameraProvider, opts intervalometer.SessionOptions) (*intervalometer.Session, error) {
	m.mu.Lock()
	if m.active != nil {
		state := m.active.State()
		if state == intervalometer.StateRunning || state == intervalometer.StatePaused {
			m.mu.Unlock()
			return nil, apierr.New(component, "CreateSession", apierr.OperationFailed, "a session is already running", nil)
		}
	}
	m.mu.Unlock()

	if id == "" {
		id = uuid.NewString()
	}
	sess := intervalometer.New(id, m.clock, camera, poller, primary, opts)

	m.mu.Lock()
	m.active = sess
	m.mu.Unlock()

	sess.Subscribe(func(e intervalometer.Event) { m.onSessionEvent(sess, e) })
	return sess, nil
}

func (m *Manager) onSessionEvent(sess *intervalometer.Session, e intervalometer.Event) {
	switch e.Type {
	case intervalometer.EventStarted:
		m.emit(Event{Type: EventSessionStarted, SessionID: sess.ID()})
	case intervalometer.EventStopped:
		m.finishSession(sess, EventSessionStopped, e.Reason)
	case intervalometer.EventCompleted:
		m.finishSession(sess, EventSessionCompleted, e.Reason)
	case intervalometer.EventError:
		m.finishSession(sess, EventSessionError, e.Reason)
	}
}

func (m *Manager) finishSession(sess *intervalometer.Session, evtType EventType, reason string) {
	stats := sess.Stats()
	report := Report{
		ID:             "report-" + uuid.NewString(),
		SessionID:      sess.ID(),
		Title:          sess.Options().Title,
		StartTime:      stats.StartTime,
		EndTime:        stats.EndTime,
		DurationSec:    stats.EndTime.Sub(stats.StartTime).Seconds(),
		Status:         sess.State(),
		Intervalometer: sess.Options(),
		CameraInfo:     sess.CameraInfo(),
		CameraSettings: sess.CameraSettings(),
		Results:        stats,
		Metadata: ReportMetadata{
			CompletionReason: reason,
			SavedAt:          m.clock.Now(),
			Version:          currentSchemaVersion,
		},
	}

	// Per spec §9's resolved open question: the completion payload is
	// written to the unsaved-session slot before the save attempt, so a
	// failure partway through auto-save still leaves a recoverable file.
	pending := unsavedSession{SessionID: sess.ID(), Report: report, SavedAt: m.clock.Now()}
	if err := m.writeUnsavedSession(pending); err != nil {
		log.Printf("[reports] failed to stage unsaved session %s: %v", sess.ID(), err)
	}

	needsDecision := false
	if err := m.writeReportFile(report); err != nil {
		log.Printf("[reports] auto-save failed for session %s, retained as unsaved: %v", sess.ID(), err)
		m.mu.Lock()
		m.unsaved = &pending
		m.mu.Unlock()
		needsDecision = true
	} else {
		m.clearUnsavedSession()
	}

	m.emit(Event{Type: evtType, Report: &report, SessionID: sess.ID(), NeedsUserDecision: needsDecision})
	if !needsDecision {
		m.emit(Event{Type: EventReportSaved, Report: &report, SessionID: sess.ID()})
	}
}

// SaveSessionAsReport satisfies the UI's save decision for a recovered
// unsaved session (spec §4.6 save_session_as_report).
func (m *Manager) SaveSessionAsReport(sessionID, title string) (Report, error) {
	m.mu.Lock()
	pending := m.unsaved
	m.mu.Unlock()
	if pending == nil || pending.SessionID != sessionID {
		return Report{}, apierr.New(component, "SaveSessionAsReport", apierr.SessionNotFound, fmt.Sprintf("no unsaved session %s", sessionID), nil)
	}

	report := pending.Report
	if title != "" {
		report.Title = title
	}
	if err := m.writeReportFile(report); err != nil {
		return Report{}, err
	}
	m.clearUnsavedSession()
	m.emit(Event{Type: EventReportSaved, Report: &report, SessionID: sessionID})
	return report, nil
}

// DiscardSession clears a recovered unsaved session without writing a
// report file (spec §4.6 discard_session).
func (m *Manager) DiscardSession(sessionID string) error {
	m.mu.Lock()
	pending := m.unsaved
	m.mu.Unlock()
	if pending == nil || pending.SessionID != sessionID {
		return apierr.New(component, "DiscardSession", apierr.SessionNotFound, fmt.Sprintf("no unsaved session %s", sessionID), nil)
	}
	m.clearUnsavedSession()
	m.emit(Event{Type: EventSessionDiscarded, SessionID: sessionID})
	return nil
}

func (m *Manager) writeUnsavedSession(pending unsavedSession) error {
	data, err := json.MarshalIndent(pending, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(paths.UnsavedSessionPath(m.dataRoot), data, 0640)
}

func (m *Manager) clearUnsavedSession() {
	m.mu.Lock()
	m.unsaved = nil
	m.mu.Unlock()
	if err := os.Remove(paths.UnsavedSessionPath(m.dataRoot)); err != nil && !os.IsNotExist(err) {
		log.Printf("[reports] failed to remove unsaved-session.json: %v", err)
	}
}

func (m *Manager) writeReportFile(r Report) error {
	data, err := r.Marshal()
	if err != nil {
		return apierr.New(component, "writeReportFile", apierr.OperationFailed, "failed to encode report", err)
	}
	p, err := paths.SafeJoin(paths.ReportsDir(m.dataRoot), r.ID+".json")
	if err != nil {
		return apierr.New(component, "writeReportFile", apierr.OperationFailed, "invalid report id", err)
	}
	if err := os.WriteFile(p, data, 0640); err != nil {
		return apierr.New(component, "writeReportFile", apierr.OperationFailed, "failed to write report file", err)
	}
	return nil
}

// GetReport reads a single report by id.
func (m *Manager) GetReport(id string) (Report, error) {
	p, err := paths.SafeJoin(paths.ReportsDir(m.dataRoot), id+".json")
	if err != nil {
		return Report{}, apierr.New(component, "GetReport", apierr.InvalidParameter, "invalid report id", err)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return Report{}, apierr.New(component, "GetReport", apierr.SessionNotFound, fmt.Sprintf("report %s not found", id), nil)
		}
		return Report{}, apierr.New(component, "GetReport", apierr.OperationFailed, "failed to read report", err)
	}
	return UnmarshalReport(data)
}

// ListReports returns reports newest-first, paginated by limit/offset
// (supplementing spec §6's abridged `GET /timelapse/reports`, per
// SPEC_FULL.md's C6 pagination addition).
func (m *Manager) ListReports(limit, offset int) ([]Report, error) {
	dir := paths.ReportsDir(m.dataRoot)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apierr.New(component, "ListReports", apierr.OperationFailed, "failed to list reports", err)
	}

	var all []Report
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		r, err := UnmarshalReport(data)
		if err != nil {
			log.Printf("[reports] skipping unreadable report %s: %v", entry.Name(), err)
			continue
		}
		all = append(all, r)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].StartTime.After(all[j].StartTime) })

	if offset > len(all) {
		offset = len(all)
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// UpdateReportTitle is the only mutation permitted after a report is
// saved (spec §3 invariant); rejects an empty/whitespace title.
func (m *Manager) UpdateReportTitle(id, newTitle string) (Report, error) {
	if strings.TrimSpace(newTitle) == "" {
		return Report{}, apierr.New(component, "UpdateReportTitle", apierr.ValidationFailed, "title must not be empty", nil)
	}
	r, err := m.GetReport(id)
	if err != nil {
		return Report{}, err
	}
	r.Title = newTitle
	if err := m.writeReportFile(r); err != nil {
		return Report{}, err
	}
	return r, nil
}

// DeleteReport is idempotent: deleting a non-existent report succeeds
// (spec §8 round-trip property).
func (m *Manager) DeleteReport(id string) error {
	p, err := paths.SafeJoin(paths.ReportsDir(m.dataRoot), id+".json")
	if err != nil {
		return apierr.New(component, "DeleteReport", apierr.InvalidParameter, "invalid report id", err)
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return apierr.New(component, "DeleteReport", apierr.OperationFailed, "failed to delete report", err)
	}
	m.emit(Event{Type: EventReportDeleted, SessionID: id})
	return nil
}

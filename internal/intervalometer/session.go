package intervalometer

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/papamarky/pi-camera-control/internal/apierr"
	"github.com/papamarky/pi-camera-control/internal/cameraclient"
	"github.com/papamarky/pi-camera-control/internal/clockwork"
	"github.com/papamarky/pi-camera-control/internal/discovery"
	"github.com/papamarky/pi-camera-control/internal/eventpoller"
)

// failureRateGuardThreshold and failureRateGuardMinShots implement the
// "High failure rate" fatal transition: once more than this many shots have
// been attempted and more than half have failed, the session aborts rather
// than burning through the rest of the schedule against a broken camera.
const (
	failureRateGuardMinShots  = 5
	failureRateGuardThreshold = 0.5
)

// PrimaryCameraProvider is the read-through accessor the session resolves on
// every use — never cached across a suspension point, since the primary
// camera can change mid-run (spec §3 ownership note).
type PrimaryCameraProvider interface {
	GetPrimaryCamera() (discovery.CameraRecord, bool)
}

// Session runs one timelapse from created through a terminal state. Exactly
// one session may be running|paused at a time process-wide; that invariant
// is enforced by the manager (C6), not here.
type Session struct {
	id      string
	clock   clockwork.Clock
	camera  *cameraclient.Client
	poller  *eventpoller.Poller
	primary PrimaryCameraProvider

	mu         sync.Mutex
	options    SessionOptions
	stats      SessionStats
	state      State
	shouldStop bool
	wake       chan struct{}

	cameraInfo     cameraclient.ConnectionStatus
	cameraSettings map[string]cameraclient.Setting

	listeners []func(Event)
	done      chan struct{}
}

// New constructs a session in the created state; Start arms the scheduler.
func New(id string, clock clockwork.Clock, camera *cameraclient.Client, poller *eventpoller.Poller, primary PrimaryCameraProvider, opts SessionOptions) *Session {
	if clock == nil {
		clock = clockwork.System
	}
	return &Session{
		id:      id,
		clock:   clock,
		camera:  camera,
		poller:  poller,
		primary: primary,
		options: opts,
		state:   StateCreated,
		wake:    make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Subscribe(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Session) emit(evt Event) {
	s.mu.Lock()
	listeners := append([]func(Event){}, s.listeners...)
	s.mu.Unlock()
	for _, l := range listeners {
		l(evt)
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a snapshot of the mutable counters.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Options returns the immutable session configuration.
func (s *Session) Options() SessionOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.options
}

// CameraInfo and CameraSettings return what was captured at Start, for the
// report manager to embed in the saved Report (spec §3 Report.cameraInfo /
// cameraSettings).
func (s *Session) CameraInfo() cameraclient.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cameraInfo
}

func (s *Session) CameraSettings() map[string]cameraclient.Setting {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cameraSettings
}

func (s *Session) shotDeadline() time.Duration {
	d := time.Duration(8) * s.options.Interval
	if d < 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

// Start validates the camera and interval, captures the report-time camera
// snapshot, pauses the background camera probes so they don't race the
// scheduler's own requests, and arms the scheduler (spec §4.5 start()).
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateCreated {
		s.mu.Unlock()
		return apierr.New(component, "Start", apierr.OperationFailed, "session already started", nil)
	}
	s.mu.Unlock()

	if _, ok := s.primary.GetPrimaryCamera(); !ok {
		return apierr.New(component, "Start", apierr.CameraOffline, "no primary camera available", nil)
	}

	valid, reason, err := s.camera.ValidateInterval(ctx, s.options.Interval.Seconds())
	if err != nil {
		return err
	}
	if !valid {
		return apierr.New(component, "Start", apierr.ValidationFailed, reason, nil)
	}

	info, err := s.camera.GetConnectionStatus(ctx)
	if err != nil {
		return err
	}
	settings, err := s.camera.GetCameraSettings(ctx)
	if err != nil {
		return err
	}

	s.camera.PauseInfoPolling()
	s.camera.PauseConnectionMonitoring()

	start := s.clock.Now()
	totalShots := s.options.TotalShots
	if s.options.StopCondition == StopTime && totalShots == nil && s.options.StopTime != nil {
		n := int(math.Ceil(s.options.StopTime.Sub(start).Seconds() / s.options.Interval.Seconds()))
		totalShots = &n
	}

	s.mu.Lock()
	s.cameraInfo = info
	s.cameraSettings = settings
	s.options.TotalShots = totalShots
	s.stats.StartTime = start
	s.stats.NextShotTime = start
	s.state = StateRunning
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.emit(Event{Type: EventStarted, Stats: s.Stats()})

	go s.run()
	return nil
}

// Pause cancels the wait for the next scheduled shot; an in-flight shot is
// never affected (spec §4.5 pause()).
func (s *Session) Pause() error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return apierr.New(component, "Pause", apierr.OperationFailed, "session is not running", nil)
	}
	s.state = StatePaused
	s.signalWakeLocked()
	s.mu.Unlock()
	s.emit(Event{Type: EventPaused, Stats: s.Stats()})
	return nil
}

// Resume re-arms the scheduler at the next nominal shot time.
func (s *Session) Resume() error {
	s.mu.Lock()
	if s.state != StatePaused {
		s.mu.Unlock()
		return apierr.New(component, "Resume", apierr.OperationFailed, "session is not paused", nil)
	}
	s.state = StateRunning
	s.signalWakeLocked()
	s.mu.Unlock()
	s.emit(Event{Type: EventResumed, Stats: s.Stats()})
	return nil
}

// Stop requests the scheduler stop after any in-flight shot completes, then
// blocks until the run loop exits.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning && s.state != StatePaused {
		s.mu.Unlock()
		return apierr.New(component, "Stop", apierr.OperationFailed, "session is not active", nil)
	}
	s.shouldStop = true
	done := s.done
	s.signalWakeLocked()
	s.mu.Unlock()

	if done != nil {
		<-done
	}
	return nil
}

func (s *Session) signalWakeLocked() {
	close(s.wake)
	s.wake = make(chan struct{})
}

func (s *Session) transitionTerminal(state State, reason string) {
	s.mu.Lock()
	s.state = state
	s.stats.EndTime = s.clock.Now()
	s.mu.Unlock()

	s.camera.ResumeInfoPolling()
	s.camera.ResumeConnectionMonitoring()

	evtType := EventCompleted
	if state == StateStopped {
		evtType = EventStopped
	} else if state == StateError {
		evtType = EventError
	}
	s.emit(Event{Type: evtType, Stats: s.Stats(), Reason: reason})
}

// run is the scheduler loop. Grounded on the absolute-time contract of spec
// §4.5: shots are scheduled at S0+(n-1)*interval, never by sleeping
// `interval` after the previous shot completes, so a slow shot cannot
// accumulate drift — it can only run late and catch up.
func (s *Session) run() {
	defer close(s.done)

	if !s.doShot(1) {
		return
	}

	for {
		s.mu.Lock()
		state := s.state
		next := s.stats.NextShotTime
		wake := s.wake
		stop := s.shouldStop
		s.mu.Unlock()

		if state != StateRunning && state != StatePaused {
			return
		}
		if stop {
			s.transitionTerminal(StateStopped, "stop requested")
			return
		}
		if state == StatePaused {
			<-wake
			s.mu.Lock()
			stop := s.shouldStop
			s.mu.Unlock()
			if stop {
				s.transitionTerminal(StateStopped, "stop requested")
				return
			}
			continue
		}

		if next.After(s.clock.Now()) {
			fired := make(chan struct{})
			timer := s.clock.ScheduleAt(next, func() { close(fired) })
			select {
			case <-fired:
			case <-wake:
				timer.Cancel()
				continue
			}
		}

		s.mu.Lock()
		if s.state != StateRunning {
			s.mu.Unlock()
			continue
		}
		shotNum := s.stats.CurrentShot + 1
		s.mu.Unlock()

		if !s.doShot(shotNum) {
			return
		}
	}
}

// doShot runs the per-shot procedure of spec §4.5 and returns false if a
// terminal transition occurred (the caller must stop looping).
func (s *Session) doShot(shotNum int) bool {
	s.mu.Lock()
	if s.shouldStop {
		s.mu.Unlock()
		s.transitionTerminal(StateStopped, "stop requested")
		return false
	}
	s.stats.CurrentShot = shotNum
	interval := s.options.Interval
	startTime := s.stats.StartTime
	s.mu.Unlock()

	deadline := s.shotDeadline()
	shotStart := s.clock.Now()
	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	err := s.camera.TakePhoto(ctx, false)
	var filenames []string
	if err == nil {
		filenames, err = s.poller.PollForShot(ctx, fmt.Sprintf("shot-%d", shotNum), deadline)
	}
	shotDuration := s.clock.Now().Sub(shotStart)

	s.mu.Lock()
	s.stats.ShotsTaken++
	if err != nil {
		s.stats.ShotsFailed++
		s.stats.Errors = append(s.stats.Errors, ShotError{ShotNumber: shotNum, Error: err.Error(), Timestamp: s.clock.Now()})
	} else {
		s.stats.ShotsSuccessful++
		s.stats.LastShotDuration = shotDuration
		s.stats.TotalShotDurationSeconds += shotDuration.Seconds()
		name := eventpoller.CanonicalFilename(filenames)
		if name != "" {
			if s.stats.FirstImageName == "" {
				s.stats.FirstImageName = name
			}
			s.stats.LastImageName = name
		}
	}

	taken, failed := s.stats.ShotsTaken, s.stats.ShotsFailed
	snapshot := s.stats
	s.mu.Unlock()

	if err != nil {
		s.emit(Event{Type: EventPhotoFailed, Stats: snapshot, ShotNumber: shotNum, Error: err.Error()})
	} else {
		s.emit(Event{Type: EventPhotoTaken, Stats: snapshot, ShotNumber: shotNum, Filename: snapshot.LastImageName})
	}

	if taken > failureRateGuardMinShots && float64(failed)/float64(taken) > failureRateGuardThreshold {
		s.transitionTerminal(StateError, "High failure rate")
		return false
	}

	s.mu.Lock()
	shouldStop := s.shouldStop
	reachedShots := s.options.StopCondition == StopShots && s.options.TotalShots != nil && s.stats.ShotsTaken >= *s.options.TotalShots
	reachedTime := s.options.StopCondition == StopTime && s.options.StopTime != nil && !s.clock.Now().Before(*s.options.StopTime)
	s.mu.Unlock()

	if shouldStop {
		s.transitionTerminal(StateStopped, "stop requested")
		return false
	}
	if reachedShots {
		s.transitionTerminal(StateCompleted, "Shot limit reached")
		return false
	}
	if reachedTime {
		s.transitionTerminal(StateCompleted, "Stop time reached")
		return false
	}

	// Overtime is only attributed to a shot that actually proceeds to
	// schedule the next one (spec §4.5 scenario S2): the terminal shot's
	// lateness isn't time stolen from a shot that never fires.
	nominalNext := startTime.Add(time.Duration(shotNum) * interval)
	now := s.clock.Now()
	var overtime time.Duration
	s.mu.Lock()
	if !now.Before(nominalNext) {
		overtime = now.Sub(nominalNext)
		s.stats.OvertimeShots++
		s.stats.TotalOvertimeSeconds += overtime.Seconds()
		if overtime.Seconds() > s.stats.MaxOvertimeSeconds {
			s.stats.MaxOvertimeSeconds = overtime.Seconds()
		}
		s.stats.NextShotTime = now
	} else {
		s.stats.NextShotTime = nominalNext
	}
	overtimeSnapshot := s.stats
	s.mu.Unlock()

	if overtime > 0 {
		s.emit(Event{Type: EventPhotoOvertime, Stats: overtimeSnapshot, ShotNumber: shotNum, Overtime: overtime})
	}

	return true
}

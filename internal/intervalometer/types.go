// Package intervalometer implements the timelapse session state machine and
// absolute-time shot scheduler (spec §4.5, C5) — the heaviest component in
// this service.
package intervalometer

import "time"

const component = "intervalometer"

// StopCondition selects how a session decides it is done.
type StopCondition string

const (
	StopUnlimited StopCondition = "unlimited"
	StopShots     StopCondition = "shots"
	StopTime      StopCondition = "time"
)

// State is the session's lifecycle state.
type State string

const (
	StateCreated   State = "created"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateStopped   State = "stopped"
	StateCompleted State = "completed"
	StateError     State = "error"
)

// SessionOptions is the immutable input to a timelapse run (spec §3).
type SessionOptions struct {
	Title         string
	Interval      time.Duration
	StopCondition StopCondition
	TotalShots    *int
	StopTime      *time.Time
}

// ShotError is one entry in SessionStats.Errors.
type ShotError struct {
	ShotNumber int
	Error      string
	Timestamp  time.Time
}

// SessionStats are the mutable counters the scheduler updates on every shot
// (spec §3). Copied by value whenever handed to a caller or event.
type SessionStats struct {
	StartTime     time.Time
	EndTime       time.Time
	CurrentShot   int
	NextShotTime  time.Time

	ShotsTaken      int
	ShotsSuccessful int
	ShotsFailed     int

	FirstImageName string
	LastImageName  string

	OvertimeShots        int
	TotalOvertimeSeconds float64
	MaxOvertimeSeconds   float64

	LastShotDuration         time.Duration
	TotalShotDurationSeconds float64

	Errors []ShotError
}

// EventType is the closed set of session events (spec §4.5).
type EventType int

const (
	EventStarted EventType = iota
	EventPaused
	EventResumed
	EventPhotoTaken
	EventPhotoFailed
	EventPhotoOvertime
	EventCompleted
	EventStopped
	EventError
)

func (e EventType) String() string {
	switch e {
	case EventStarted:
		return "started"
	case EventPaused:
		return "paused"
	case EventResumed:
		return "resumed"
	case EventPhotoTaken:
		return "photo_taken"
	case EventPhotoFailed:
		return "photo_failed"
	case EventPhotoOvertime:
		return "photo_overtime"
	case EventCompleted:
		return "completed"
	case EventStopped:
		return "stopped"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event carries a stats snapshot alongside whatever is specific to the
// event type.
type Event struct {
	Type       EventType
	Stats      SessionStats
	ShotNumber int
	Filename   string
	Overtime   time.Duration
	Reason     string
	Error      string
}

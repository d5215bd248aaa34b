// Package reports owns Report persistence and the single active
// intervalometer session (spec §4.6, §6 persisted-state layout, C6).
package reports

import (
	"encoding/json"
	"time"

	"github.com/papamarky/pi-camera-control/internal/cameraclient"
	"github.com/papamarky/pi-camera-control/internal/intervalometer"
)

// currentSchemaVersion is written by this service; legacy files with
// `settings` in place of `intervalometer` are still read, per spec §6/§9.
const currentSchemaVersion = "2.0"

// Report is the immutable snapshot saved to disk after a session ends
// (spec §3). Only Title may be mutated after save.
type Report struct {
	ID             string                                `json:"id"`
	SessionID      string                                `json:"sessionId"`
	Title          string                                `json:"title"`
	StartTime      time.Time                              `json:"startTime"`
	EndTime        time.Time                              `json:"endTime"`
	DurationSec    float64                               `json:"duration"`
	Status         intervalometer.State                  `json:"status"`
	Intervalometer intervalometer.SessionOptions         `json:"intervalometer"`
	CameraInfo     cameraclient.ConnectionStatus         `json:"cameraInfo"`
	CameraSettings map[string]cameraclient.Setting       `json:"cameraSettings"`
	Results        intervalometer.SessionStats           `json:"results"`
	Metadata       ReportMetadata                        `json:"metadata"`
}

type ReportMetadata struct {
	CompletionReason string    `json:"completionReason"`
	SavedAt          time.Time `json:"savedAt"`
	Version          string    `json:"version"`
}

// legacyReport mirrors the pre-2.0 schema, which used `settings` instead
// of `intervalometer` for the echoed session options (spec §6, §9: reader
// accepts both, writer emits only the new one).
type legacyReport struct {
	ID             string                          `json:"id"`
	SessionID      string                          `json:"sessionId"`
	Title          string                          `json:"title"`
	StartTime      time.Time                       `json:"startTime"`
	EndTime        time.Time                       `json:"endTime"`
	DurationSec    float64                         `json:"duration"`
	Status         intervalometer.State            `json:"status"`
	Settings       intervalometer.SessionOptions   `json:"settings"`
	CameraInfo     cameraclient.ConnectionStatus   `json:"cameraInfo"`
	CameraSettings map[string]cameraclient.Setting `json:"cameraSettings"`
	Results        intervalometer.SessionStats     `json:"results"`
	Metadata       ReportMetadata                  `json:"metadata"`
}

// UnmarshalReport accepts both the current (2.0) and legacy schema.
func UnmarshalReport(data []byte) (Report, error) {
	var probe struct {
		Metadata struct {
			Version string `json:"version"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Report{}, err
	}
	if probe.Metadata.Version == currentSchemaVersion {
		var r Report
		if err := json.Unmarshal(data, &r); err != nil {
			return Report{}, err
		}
		return r, nil
	}

	var legacy legacyReport
	if err := json.Unmarshal(data, &legacy); err != nil {
		return Report{}, err
	}
	return Report{
		ID:             legacy.ID,
		SessionID:      legacy.SessionID,
		Title:          legacy.Title,
		StartTime:      legacy.StartTime,
		EndTime:        legacy.EndTime,
		DurationSec:    legacy.DurationSec,
		Status:         legacy.Status,
		Intervalometer: legacy.Settings,
		CameraInfo:     legacy.CameraInfo,
		CameraSettings: legacy.CameraSettings,
		Results:        legacy.Results,
		Metadata:       legacy.Metadata,
	}, nil
}

// Marshal always emits the current schema (spec §9: writer emits only 2.0).
func (r Report) Marshal() ([]byte, error) {
	r.Metadata.Version = currentSchemaVersion
	return json.MarshalIndent(r, "", "  ")
}

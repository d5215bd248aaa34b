package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/papamarky/pi-camera-control/internal/apierr"
)

// respondJSON writes payload as the 2xx success body (spec §6: "Success
// 2xx JSON"). Grounded on the teacher's respondJSON helper in
// camera_handlers.go.
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// errorEnvelope is the single error shape shared by REST and WebSocket
// (spec §6).
type errorEnvelope struct {
	Type      string       `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	Error     errorDetails `json:"error"`
}

type errorDetails struct {
	Message   string         `json:"message"`
	Code      string         `json:"code,omitempty"`
	Operation string         `json:"operation,omitempty"`
	Component string         `json:"component,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// respondError renders err as the §6 envelope, mapping an *apierr.Error
// to its code/component/operation and HTTP status; any other error is
// treated as an opaque OPERATION_FAILED/500.
func respondError(w http.ResponseWriter, err error) {
	var apiErr *apierr.Error
	code := apierr.OperationFailed
	message := err.Error()
	var operation, comp string
	var details map[string]any

	if errors.As(err, &apiErr) {
		code = apiErr.Code
		message = apiErr.Message
		operation = apiErr.Operation
		comp = apiErr.Component
		details = apiErr.Details
	}

	respondJSON(w, apierr.HTTPStatus(code), errorEnvelope{
		Type:      "error",
		Timestamp: time.Now(),
		Error: errorDetails{
			Message:   message,
			Code:      code,
			Operation: operation,
			Component: comp,
			Details:   details,
		},
	})
}

func wsErrorMessage(err error) map[string]any {
	var apiErr *apierr.Error
	code := apierr.OperationFailed
	message := err.Error()
	var operation, comp string

	if errors.As(err, &apiErr) {
		code = apiErr.Code
		message = apiErr.Message
		operation = apiErr.Operation
		comp = apiErr.Component
	}

	return map[string]any{
		"type":      "error",
		"timestamp": time.Now(),
		"error": map[string]any{
			"message":   message,
			"code":      code,
			"operation": operation,
			"component": comp,
		},
	}
}

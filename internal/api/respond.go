package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-appointment-notifications/internal/eventlog"
)

const (
	eventSource = "api"

	EventInvalidBody      = "invalid_request_body"
	EventQueueItemMissing = "queue_item_not_found"
)

// Error codes carried in the error envelope.
const (
	CodeInvalidToken            = "INVALID_TOKEN"
	CodeAppointmentNotFound     = "APPOINTMENT_NOT_FOUND"
	CodeAppointmentExpired      = "APPOINTMENT_EXPIRED"
	CodeInvalidAction           = "INVALID_ACTION"
	CodeInvalidStatusTransition = "INVALID_STATUS_TRANSITION"
	CodeValidation              = "VALIDATION_ERROR"
	CodeSlotConflict            = "SLOT_CONFLICT"
	CodeQueueItemNotFound       = "QUEUE_ITEM_NOT_FOUND"
	CodeInvalidSignature        = "INVALID_SIGNATURE"
	CodeInvalidPayload          = "INVALID_PAYLOAD"
	CodeUnauthorized            = "UNAUTHORIZED"
	CodeInternal                = "INTERNAL_SERVER_ERROR"
	CodeMethodNotAllowed        = "METHOD_NOT_ALLOWED"
	CodeNotFound                = "NOT_FOUND"
)

type ErrorBody struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   any       `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"requestId"`
}

type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeErrorDetails(w, r, status, code, message, nil)
}

func writeErrorDetails(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	writeJSON(w, status, ErrorResponse{
		Success: false,
		Error: ErrorBody{
			Code:      code,
			Message:   message,
			Details:   details,
			Timestamp: time.Now().UTC(),
			RequestID: GetRequestID(r.Context()),
		},
	})
}

// writeInternal logs err with the request id and returns a generic 500.
func writeInternal(w http.ResponseWriter, r *http.Request, err error) {
	log.Error().
		Err(err).
		Str("request_id", GetRequestID(r.Context())).
		Str("path", r.URL.Path).
		Msg("internal error")
	writeError(w, r, http.StatusInternalServerError, CodeInternal, "An unexpected error occurred")
}

// recordEvent logs outcomes decided in the handler before any service runs.
func recordEvent(events eventlog.Recorder, r *http.Request, eventType string, severity eventlog.Severity, data map[string]any) {
	if events == nil {
		return
	}
	events.Record(r.Context(), eventlog.Entry{
		EventType: eventType,
		Severity:  severity,
		Source:    eventSource,
		RequestID: GetRequestID(r.Context()),
		EventData: data,
	})
}

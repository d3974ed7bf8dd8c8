// Package eventlog records operational events (errors, state changes) keyed by
// request id. Entries are append-only.
package eventlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// EventInternalError marks an unexpected store or infrastructure failure.
const EventInternalError = "internal_error"

type Entry struct {
	EventType string
	Severity  Severity
	Source    string
	RequestID string
	EventData map[string]any
	Timestamp time.Time
}

// Store persists entries. Implementations never update or delete.
type Store interface {
	Append(ctx context.Context, e Entry) error
}

// Recorder is what the domain services use. Record never fails the caller:
// a store error is logged and swallowed.
type Recorder interface {
	Record(ctx context.Context, e Entry)
}

type Logger struct {
	store Store
	clock clockwork.Clock
}

func NewLogger(store Store, clock clockwork.Clock) *Logger {
	return &Logger{store: store, clock: clock}
}

func (l *Logger) Record(ctx context.Context, e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = l.clock.Now()
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}

	mirror(e)

	if l.store == nil {
		return
	}
	if err := l.store.Append(ctx, e); err != nil {
		log.Error().
			Err(err).
			Str("event_type", e.EventType).
			Str("request_id", e.RequestID).
			Msg("failed to append event log entry")
	}
}

func mirror(e Entry) {
	var ev *zerolog.Event
	switch e.Severity {
	case SeverityError:
		ev = log.Error()
	case SeverityWarning:
		ev = log.Warn()
	default:
		ev = log.Info()
	}

	data, err := json.Marshal(e.EventData)
	if err != nil {
		data = nil
	}

	ev.Str("event_type", e.EventType).
		Str("source", e.Source).
		Str("request_id", e.RequestID).
		RawJSON("event_data", nonEmptyJSON(data)).
		Msg("event")
}

func nonEmptyJSON(b []byte) []byte {
	if len(b) == 0 || string(b) == "null" {
		return []byte("{}")
	}
	return b
}

// RedactPhone keeps the first five characters of a phone number.
func RedactPhone(phone string) string {
	if len(phone) <= 5 {
		return "***"
	}
	return phone[:5] + "***"
}

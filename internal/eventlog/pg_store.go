package eventlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hackgods/clinic-appointment-notifications/internal/db"
)

type PgStore struct {
	db db.DBTX
}

func NewPgStore(conn db.DBTX) *PgStore {
	return &PgStore{db: conn}
}

func (s *PgStore) Append(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e.EventData)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	if string(data) == "null" {
		data = []byte("{}")
	}

	var requestID *string
	if e.RequestID != "" {
		requestID = &e.RequestID
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO event_log (event_type, severity, source, request_id, event_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.EventType, string(e.Severity), e.Source, requestID, data, e.Timestamp)
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

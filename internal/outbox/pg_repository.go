package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-appointment-notifications/internal/db"
)

type PgRepository struct {
	db db.DBTX
}

// NewPgRepository accepts a pool or a transaction.
func NewPgRepository(conn db.DBTX) *PgRepository {
	return &PgRepository{db: conn}
}

const messageColumns = `id, message_type, recipient, template, template_data, status, error_message, sent_at, created_at, updated_at`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	var data []byte

	err := row.Scan(
		&m.ID,
		&m.Type,
		&m.Recipient,
		&m.Template,
		&data,
		&m.Status,
		&m.ErrorMessage,
		&m.SentAt,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &m.TemplateData); err != nil {
			return nil, fmt.Errorf("decode template data: %w", err)
		}
	}
	return &m, nil
}

// Insert writes msgs all or nothing. Inside a caller's transaction the batch
// runs in a savepoint.
func (r *PgRepository) Insert(ctx context.Context, msgs ...Message) error {
	payloads := make([][]byte, len(msgs))
	for i, m := range msgs {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("%w: type=%q template=%q", err, m.Type, m.Template)
		}
		data, err := json.Marshal(m.TemplateData)
		if err != nil {
			return fmt.Errorf("encode template data: %w", err)
		}
		payloads[i] = data
	}

	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		for i, m := range msgs {
			if m.ID == uuid.Nil {
				m.ID = uuid.New()
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO message_outbox (id, message_type, recipient, template, template_data, status, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, 'queued', now(), now())
			`, m.ID, m.Type, m.Recipient, m.Template, payloads[i])
			if err != nil {
				return fmt.Errorf("insert outbox message: %w", err)
			}
		}
		return nil
	})
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM message_outbox
		WHERE id = $1
	`, id)
	return scanMessage(row)
}

func (r *PgRepository) Advance(ctx context.Context, id uuid.UUID, to Status, errMsg *string, at time.Time) (*Message, bool, error) {
	from := AdvanceableFrom(to)
	if len(from) == 0 {
		return nil, false, fmt.Errorf("no status can advance to %q", to)
	}
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	row := r.db.QueryRow(ctx, `
		UPDATE message_outbox
		SET status = $2,
		    error_message = COALESCE($3, error_message),
		    sent_at = CASE WHEN $2 IN ('sent', 'delivered') THEN COALESCE(sent_at, $4) ELSE sent_at END,
		    updated_at = $4
		WHERE id = $1
		  AND status = ANY($5)
		RETURNING `+messageColumns+`
	`, id, to, errMsg, at, allowed)

	msg, err := scanMessage(row)
	if err == nil {
		return msg, true, nil
	}
	if !errors.Is(err, ErrMessageNotFound) {
		return nil, false, fmt.Errorf("advance outbox message: %w", err)
	}

	// Either the row does not exist or it is already at/after `to`.
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-appointment-notifications/internal/appointment"
	"github.com/hackgods/clinic-appointment-notifications/internal/db"
	"github.com/hackgods/clinic-appointment-notifications/internal/outbox"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func flagColumn(h Horizon) (string, error) {
	switch h.Label {
	case Horizon24h.Label:
		return "reminder_24h_sent", nil
	case Horizon2h.Label:
		return "reminder_2h_sent", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownHorizon, h.Label)
	}
}

func (s *PgStore) FindDue(ctx context.Context, h Horizon, from, to time.Time) ([]appointment.Appointment, error) {
	col, err := flagColumn(h)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+appointment.Columns+`
		FROM appointments
		WHERE status = 'confirmed'
		  AND `+col+` = false
		  AND scheduled_at BETWEEN $1 AND $2
		ORDER BY scheduled_at
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query due %s reminders: %w", h.Label, err)
	}
	defer rows.Close()

	var out []appointment.Appointment
	for rows.Next() {
		a, err := appointment.ScanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PgStore) Claim(ctx context.Context, id uuid.UUID, h Horizon, msgs []outbox.Message) (bool, error) {
	col, err := flagColumn(h)
	if err != nil {
		return false, err
	}

	claimed := false
	err = db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE appointments
			SET `+col+` = true,
			    updated_at = now()
			WHERE id = $1
			  AND `+col+` = false
			  AND status = 'confirmed'
		`, id)
		if err != nil {
			return fmt.Errorf("mark %s reminder: %w", h.Label, err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		if err := outbox.NewPgRepository(tx).Insert(ctx, msgs...); err != nil {
			return fmt.Errorf("queue %s reminder: %w", h.Label, err)
		}
		claimed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

func (s *PgStore) Stats(ctx context.Context, from, to time.Time) (Stats, error) {
	st := Stats{WindowStart: from, WindowEnd: to}

	err := s.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE status = 'pending'),
			count(*) FILTER (WHERE status = 'confirmed'),
			count(*) FILTER (WHERE status = 'confirmed' AND reminder_24h_sent = false),
			count(*) FILTER (WHERE status = 'confirmed' AND reminder_2h_sent = false)
		FROM appointments
		WHERE scheduled_at BETWEEN $1 AND $2
	`, from, to).Scan(&st.Pending, &st.Confirmed, &st.Outstanding24h, &st.Outstanding2h)
	if err != nil {
		return Stats{}, fmt.Errorf("appointment stats: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT count(*) FROM message_outbox WHERE status = 'queued'
	`).Scan(&st.QueuedNotifications)
	if err != nil {
		return Stats{}, fmt.Errorf("outbox stats: %w", err)
	}

	return st, nil
}

package appointment

import (
	"context"
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

func NewPgRepository(conn db.DBTX) *PgRepository {
	return &PgRepository{db: conn}
}

// Columns shared by every SELECT and RETURNING clause; see ScanAppointment.
const Columns = `id, external_id, patient_name, patient_email, patient_phone,
	to_char(appointment_date, 'YYYY-MM-DD'), to_char(appointment_time, 'HH24:MI'),
	scheduled_at, reason, status, confirmation_token,
	reminder_24h_sent, reminder_2h_sent, confirmed_at, created_at, updated_at`

// ScanAppointment reads one row selected with Columns.
func ScanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.ExternalID,
		&a.PatientName,
		&a.PatientEmail,
		&a.PatientPhone,
		&a.Date,
		&a.Time,
		&a.ScheduledAt,
		&a.Reason,
		&a.Status,
		&a.ConfirmationToken,
		&a.Reminder24hSent,
		&a.Reminder2hSent,
		&a.ConfirmedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func (r *PgRepository) Create(ctx context.Context, a *Appointment) (*Appointment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (
			id, external_id, patient_name, patient_email, patient_phone,
			appointment_date, appointment_time, scheduled_at, reason,
			status, confirmation_token, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, ($6::text)::date, ($7::text)::time, $8, $9, 'pending', $10, now(), now())
		RETURNING `+Columns,
		a.ID, a.ExternalID, a.PatientName, a.PatientEmail, a.PatientPhone,
		a.Date, a.Time, a.ScheduledAt, a.Reason, a.ConfirmationToken)

	created, err := ScanAppointment(row)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+Columns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return ScanAppointment(row)
}

func (r *PgRepository) GetAppointmentByToken(ctx context.Context, token string) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+Columns+`
		FROM appointments
		WHERE confirmation_token = $1
	`, token)
	return ScanAppointment(row)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, confirmedAt *time.Time) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    confirmed_at = $4,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+Columns,
		id, to, from, confirmedAt)

	a, err := ScanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrStatusConflict
	}
	return a, err
}

package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	// ErrStatusConflict means the conditional write matched no row: the
	// status was no longer the expected one.
	ErrStatusConflict = errors.New("appointment status changed concurrently")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	Create(ctx context.Context, a *Appointment) (*Appointment, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentByToken(ctx context.Context, token string) (*Appointment, error)

	// UpdateAppointmentStatus writes `to` only while the row still holds
	// `from`. confirmedAt is stored as given (nil clears it).
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, confirmedAt *time.Time) (*Appointment, error)
}

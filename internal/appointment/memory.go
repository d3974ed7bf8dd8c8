package appointment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository applies the same conditional writes as PgRepository
// under a mutex. It backs tests and local runs without Postgres.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[uuid.UUID]Appointment
	now  func() time.Time
}

func NewMemoryRepository(now func() time.Time) *MemoryRepository {
	return &MemoryRepository{rows: make(map[uuid.UUID]Appointment), now: now}
}

func (r *MemoryRepository) Create(_ context.Context, a *Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.rows {
		if existing.ConfirmationToken == a.ConfirmationToken {
			return nil, ErrStatusConflict
		}
	}

	row := *a
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	row.Status = StatusPending
	row.CreatedAt = r.now()
	row.UpdatedAt = row.CreatedAt
	r.rows[row.ID] = row
	return &row, nil
}

// Put stores a row as-is, for fixtures.
func (r *MemoryRepository) Put(a Appointment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[a.ID] = a
}

func (r *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.rows[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) GetAppointmentByToken(_ context.Context, token string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.rows {
		if a.ConfirmationToken == token {
			return &a, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (r *MemoryRepository) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus, confirmedAt *time.Time) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.rows[id]
	if !ok || a.Status != from {
		return nil, ErrStatusConflict
	}
	a.Status = to
	a.ConfirmedAt = confirmedAt
	a.UpdatedAt = r.now()
	r.rows[id] = a
	return &a, nil
}

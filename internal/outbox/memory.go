package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository mirrors PgRepository's conditional semantics in process.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[uuid.UUID]Message
	// order keeps insertion order for Messages.
	order []uuid.UUID
	// FailInsert makes the next Insert calls fail.
	FailInsert error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[uuid.UUID]Message)}
}

func (r *MemoryRepository) Insert(_ context.Context, msgs ...Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailInsert != nil {
		return r.FailInsert
	}
	for _, m := range msgs {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	for _, m := range msgs {
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		m.Status = StatusQueued
		r.rows[m.ID] = m
		r.order = append(r.order, m.ID)
	}
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.rows[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	return &m, nil
}

func (r *MemoryRepository) Advance(_ context.Context, id uuid.UUID, to Status, errMsg *string, at time.Time) (*Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.rows[id]
	if !ok {
		return nil, false, ErrMessageNotFound
	}
	if !CanAdvance(m.Status, to) {
		return &m, false, nil
	}

	m.Status = to
	if errMsg != nil {
		m.ErrorMessage = errMsg
	}
	if (to == StatusSent || to == StatusDelivered) && m.SentAt == nil {
		sentAt := at
		m.SentAt = &sentAt
	}
	m.UpdatedAt = at
	r.rows[id] = m
	return &m, true, nil
}

// Messages returns every stored message in insertion order.
func (r *MemoryRepository) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Message, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.rows[id])
	}
	return out
}

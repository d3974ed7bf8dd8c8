package reminder

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-notifications/internal/appointment"
	"github.com/hackgods/clinic-appointment-notifications/internal/outbox"
)

// MemoryStore keeps appointments in a map and writes messages through an
// outbox.MemoryRepository, with the same claim semantics as PgStore.
type MemoryStore struct {
	mu     sync.Mutex
	rows   map[uuid.UUID]appointment.Appointment
	outbox *outbox.MemoryRepository
}

func NewMemoryStore(ob *outbox.MemoryRepository) *MemoryStore {
	return &MemoryStore{rows: make(map[uuid.UUID]appointment.Appointment), outbox: ob}
}

func (s *MemoryStore) Put(a appointment.Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[a.ID] = a
}

func (s *MemoryStore) Get(id uuid.UUID) (appointment.Appointment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rows[id]
	return a, ok
}

func flagSet(a appointment.Appointment, h Horizon) bool {
	if h.Label == Horizon2h.Label {
		return a.Reminder2hSent
	}
	return a.Reminder24hSent
}

func within(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}

func (s *MemoryStore) FindDue(_ context.Context, h Horizon, from, to time.Time) ([]appointment.Appointment, error) {
	if _, err := flagColumn(h); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []appointment.Appointment
	for _, a := range s.rows {
		if a.Status == appointment.StatusConfirmed && !flagSet(a, h) && within(a.ScheduledAt, from, to) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (s *MemoryStore) Claim(ctx context.Context, id uuid.UUID, h Horizon, msgs []outbox.Message) (bool, error) {
	if _, err := flagColumn(h); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.rows[id]
	if !ok || a.Status != appointment.StatusConfirmed || flagSet(a, h) {
		return false, nil
	}

	if err := s.outbox.Insert(ctx, msgs...); err != nil {
		return false, err
	}

	if h.Label == Horizon2h.Label {
		a.Reminder2hSent = true
	} else {
		a.Reminder24hSent = true
	}
	s.rows[id] = a
	return true, nil
}

func (s *MemoryStore) Stats(_ context.Context, from, to time.Time) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{WindowStart: from, WindowEnd: to}
	for _, a := range s.rows {
		if !within(a.ScheduledAt, from, to) {
			continue
		}
		switch a.Status {
		case appointment.StatusPending:
			st.Pending++
		case appointment.StatusConfirmed:
			st.Confirmed++
			if !a.Reminder24hSent {
				st.Outstanding24h++
			}
			if !a.Reminder2hSent {
				st.Outstanding2h++
			}
		}
	}
	for _, m := range s.outbox.Messages() {
		if m.Status == outbox.StatusQueued {
			st.QueuedNotifications++
		}
	}
	return st, nil
}

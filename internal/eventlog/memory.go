package eventlog

import (
	"context"
	"sync"
)

// MemoryStore keeps entries in process. Used by tests and by the seed tool.
type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *MemoryStore) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// ByType returns the entries with the given event type, oldest first.
func (s *MemoryStore) ByType(eventType string) []Entry {
	var out []Entry
	for _, e := range s.Entries() {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

package inbox

import (
	"context"
	"sync"
	"time"

	"steward/internal/shared/commandbus"
)

// MemoryStore is an in-process idempotency store for tests and in-memory
// wiring. It implements commandbus.Snapshotter so Record rolls back with
// the surrounding memory transaction.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]time.Time)}
}

func (s *MemoryStore) Snapshot() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := make(map[string]time.Time, len(s.records))
	for id, at := range s.records {
		clone[id] = at
	}
	return clone
}

func (s *MemoryStore) Restore(snapshot any) {
	records, ok := snapshot.(map[string]time.Time)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]time.Time, len(records))
	for id, at := range records {
		s.records[id] = at
	}
}

func (s *MemoryStore) Seen(_ context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[messageID]
	return ok, nil
}

func (s *MemoryStore) Record(_ context.Context, messageID string, processedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[messageID]; ok {
		return commandbus.ErrDuplicateMessage
	}
	s.records[messageID] = processedAt
	return nil
}

// Count returns the number of recorded ids, for assertions in tests.
func (s *MemoryStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

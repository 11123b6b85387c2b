package outbox

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrDuplicateID is returned by Append when a row with the same id exists.
	ErrDuplicateID = errors.New("outbox message id already exists")
	// ErrVersionMismatch is returned when a transition loses the optimistic
	// version race, meaning another relay instance advanced the row.
	ErrVersionMismatch = errors.New("outbox row version mismatch")
)

type memoryRow struct {
	msg       Message
	claimedAt time.Time
	seq       int
}

// MemoryStore is an in-process Store for tests and in-memory wiring. It
// implements commandbus.Snapshotter so Append participates in memory
// transactions.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]memoryRow
	seq  int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]memoryRow)}
}

func (s *MemoryStore) Snapshot() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := make(map[string]memoryRow, len(s.rows))
	for id, row := range s.rows {
		clone[id] = row
	}
	return clone
}

func (s *MemoryStore) Restore(snapshot any) {
	rows, ok := snapshot.(map[string]memoryRow)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[string]memoryRow, len(rows))
	for id, row := range rows {
		s.rows[id] = row
	}
}

func (s *MemoryStore) Append(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rows[msg.ID]; exists {
		return ErrDuplicateID
	}
	if msg.Status == "" {
		msg.Status = StatusPending
	}
	if msg.NextAttemptAt.IsZero() {
		msg.NextAttemptAt = msg.CreatedAt
	}
	s.seq++
	s.rows[msg.ID] = memoryRow{msg: msg, seq: s.seq}
	return nil
}

func (s *MemoryStore) Claim(_ context.Context, batchSize int, now time.Time, staleAfter time.Duration) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]memoryRow, 0)
	for _, row := range s.rows {
		switch row.msg.Status {
		case StatusPending:
			if !row.msg.NextAttemptAt.After(now) {
				due = append(due, row)
			}
		case StatusPublishing:
			if row.claimedAt.Add(staleAfter).Before(now) {
				due = append(due, row)
			}
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].msg.PartitionKey != due[j].msg.PartitionKey {
			return due[i].msg.PartitionKey < due[j].msg.PartitionKey
		}
		if !due[i].msg.CreatedAt.Equal(due[j].msg.CreatedAt) {
			return due[i].msg.CreatedAt.Before(due[j].msg.CreatedAt)
		}
		return due[i].seq < due[j].seq
	})
	if len(due) > batchSize {
		due = due[:batchSize]
	}

	claimed := make([]Message, 0, len(due))
	for _, row := range due {
		stored := s.rows[row.msg.ID]
		stored.msg.Status = StatusPublishing
		stored.msg.Version++
		stored.claimedAt = now
		s.rows[row.msg.ID] = stored
		claimed = append(claimed, stored.msg)
	}
	return claimed, nil
}

func (s *MemoryStore) MarkPublished(_ context.Context, id string, version int64, publishedAt time.Time) error {
	return s.transition(id, version, func(msg *Message) {
		msg.Status = StatusPublished
		at := publishedAt
		msg.PublishedAt = &at
	})
}

func (s *MemoryStore) Reschedule(_ context.Context, id string, version int64, nextAttemptAt time.Time, lastError string) error {
	return s.transition(id, version, func(msg *Message) {
		msg.Status = StatusPending
		msg.RetryCount++
		msg.NextAttemptAt = nextAttemptAt
		msg.LastError = lastError
	})
}

func (s *MemoryStore) Requeue(_ context.Context, id string, version int64, nextAttemptAt time.Time) error {
	return s.transition(id, version, func(msg *Message) {
		msg.Status = StatusPending
		msg.NextAttemptAt = nextAttemptAt
	})
}

func (s *MemoryStore) MarkDeadLettered(_ context.Context, id string, version int64, lastError string) error {
	return s.transition(id, version, func(msg *Message) {
		msg.Status = StatusDeadLettered
		msg.LastError = lastError
	})
}

func (s *MemoryStore) transition(id string, version int64, apply func(*Message)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok || row.msg.Version != version {
		return ErrVersionMismatch
	}
	apply(&row.msg)
	row.msg.Version++
	s.rows[id] = row
	return nil
}

// Messages returns all rows ordered by insertion, for assertions in tests.
func (s *MemoryStore) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]memoryRow, 0, len(s.rows))
	for _, row := range s.rows {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	out := make([]Message, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.msg)
	}
	return out
}

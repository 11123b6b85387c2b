package outbox

import (
	"context"
	"time"
)

// Status is the relay-side lifecycle of an outbox row. The command path
// only ever creates Pending rows; every later transition belongs to the
// relay and is guarded by the row version.
type Status string

const (
	StatusPending      Status = "pending"
	StatusPublishing   Status = "publishing"
	StatusPublished    Status = "published"
	StatusDeadLettered Status = "dead_lettered"
)

// Message is one integration event waiting for publication. It is written
// in the same transaction as the aggregate mutation that produced it.
type Message struct {
	ID            string
	Topic         string
	PartitionKey  string
	Payload       []byte
	Status        Status
	RetryCount    int
	Version       int64
	CreatedAt     time.Time
	NextAttemptAt time.Time
	PublishedAt   *time.Time
	LastError     string
}

// Appender is the command-path half of the store: a pure insert inside the
// caller's ambient transaction. It never opens its own transaction and
// never talks to the broker.
type Appender interface {
	Append(ctx context.Context, msg Message) error
}

// Store is the relay-side contract. Claim transitions a batch of due
// Pending rows (or Publishing rows whose claim went stale) to Publishing
// under an optimistic version check, so exactly one relay instance advances
// any given row.
type Store interface {
	Appender

	// Claim returns due rows ordered by (partition_key, created_at), already
	// transitioned to Publishing with their version bumped.
	Claim(ctx context.Context, batchSize int, now time.Time, staleAfter time.Duration) ([]Message, error)
	// MarkPublished finalizes a claimed row after a broker ack.
	MarkPublished(ctx context.Context, id string, version int64, publishedAt time.Time) error
	// Reschedule returns a claimed row to Pending with a bumped retry count
	// and the next attempt time.
	Reschedule(ctx context.Context, id string, version int64, nextAttemptAt time.Time, lastError string) error
	// Requeue returns a claimed row to Pending untouched except for the next
	// attempt time. Used when a row is skipped to preserve partition order.
	Requeue(ctx context.Context, id string, version int64, nextAttemptAt time.Time) error
	// MarkDeadLettered terminally parks a claimed row. Dead-lettered rows
	// never return to Pending.
	MarkDeadLettered(ctx context.Context, id string, version int64, lastError string) error
}

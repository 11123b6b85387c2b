package inbox

import (
	"context"
	"time"
)

// Store records processed message identifiers. Record runs inside the same
// transaction as the side effects of processing, so a rollback also forgets
// the id and the broker redelivery gets a clean retry.
//
// Records are insert-only; retention and cleanup are an external concern.
type Store interface {
	// Seen reports whether the message id was already recorded.
	Seen(ctx context.Context, messageID string) (bool, error)
	// Record inserts the id. A uniqueness violation maps to
	// commandbus.ErrDuplicateMessage so racing deliveries collapse to one.
	Record(ctx context.Context, messageID string, processedAt time.Time) error
}

// Subscriber is the broker-side subscription contract with manual
// acknowledgment: a nil handler return acks the delivery, an error nacks it
// and leaves redelivery to the broker's retry policy.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, group string,
		handler func(ctx context.Context, messageID string, payload []byte) error) error
}

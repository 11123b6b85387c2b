package ports

import (
	"context"
	"time"

	"steward/contexts/ordering/domain/entities"
)

// OrderRepository persists orders. SaveOrder compares the entity version
// against the stored row and returns commandbus.ErrConcurrencyConflict on a
// mismatch.
type OrderRepository interface {
	CreateOrder(ctx context.Context, order entities.Order) error
	GetOrder(ctx context.Context, orderID string) (entities.Order, error)
	SaveOrder(ctx context.Context, order entities.Order) error
	ListOrders(ctx context.Context) ([]entities.Order, error)
}

type DeliverRecordRepository interface {
	CreateDeliverRecord(ctx context.Context, record entities.DeliverRecord) error
	GetDeliverRecordByOrder(ctx context.Context, orderID string) (entities.DeliverRecord, error)
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

package entities

import "time"

type OrderStatus string

const (
	// OrderStatusCreated is the initial state after CreateOrder.
	OrderStatusCreated OrderStatus = "created"
	// OrderStatusPaid is set by MarkOrderPaid.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusSettled is set when the published payment event is applied
	// back through the consumer.
	OrderStatusSettled OrderStatus = "settled"
)

// Order is the demo aggregate the reliable pipeline is exercised with.
// Version guards optimistic concurrency on save.
type Order struct {
	OrderID   string
	Name      string
	Price     int64
	Count     int
	Status    OrderStatus
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
	PaidAt    *time.Time
}

func (o Order) CanPay() bool    { return o.Status == OrderStatusCreated }
func (o Order) CanSettle() bool { return o.Status == OrderStatusPaid }

package events

// OrderCreated is raised by CreateOrder and handled in the same transaction
// to create the delivery record.
type OrderCreated struct {
	OrderID string
}

func (OrderCreated) EventName() string     { return "ordering.order_created" }
func (e OrderCreated) AggregateID() string { return e.OrderID }

// OrderPaid is raised by MarkOrderPaid and converted into the "order.paid"
// integration event for external subscribers.
type OrderPaid struct {
	OrderID string
}

func (OrderPaid) EventName() string     { return "ordering.order_paid" }
func (e OrderPaid) AggregateID() string { return e.OrderID }

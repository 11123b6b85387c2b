package eventhandlers

import (
	"context"
	"fmt"

	"steward/contexts/ordering/application/commands"
	"steward/contexts/ordering/domain/events"
	"steward/internal/shared/commandbus"
)

// Sender dispatches follow-up commands. Inside a domain event handler the
// dispatcher joins the ambient transaction instead of opening a new one.
type Sender interface {
	Send(ctx context.Context, cmd commandbus.Command) (any, error)
}

// OrderCreatedHandler delivers the goods for every freshly created order.
type OrderCreatedHandler struct {
	Sender Sender
}

func (h OrderCreatedHandler) HandleEvent(ctx context.Context, event commandbus.DomainEvent) error {
	e, ok := event.(events.OrderCreated)
	if !ok {
		return fmt.Errorf("order created handler: unexpected event %T", event)
	}
	_, err := h.Sender.Send(ctx, commands.DeliverGoodsCommand{OrderID: e.OrderID})
	return err
}

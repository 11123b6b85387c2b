package converters

import (
	"encoding/json"
	"fmt"

	"steward/contexts/ordering/domain/events"
	"steward/internal/shared/commandbus"
	sharedevents "steward/internal/shared/events"
)

// TopicOrderPaid is the integration event published when an order is paid.
const TopicOrderPaid = "order.paid"

type OrderPaidPayload struct {
	OrderID string `json:"order_id"`
}

// OrderPaidConverter turns the domain event into the outbox envelope.
type OrderPaidConverter struct{}

func (OrderPaidConverter) DomainEventName() string { return events.OrderPaid{}.EventName() }

func (OrderPaidConverter) Convert(event commandbus.DomainEvent) (sharedevents.Envelope, error) {
	e, ok := event.(events.OrderPaid)
	if !ok {
		return sharedevents.Envelope{}, fmt.Errorf("order paid converter: unexpected event %T", event)
	}
	data, err := json.Marshal(OrderPaidPayload{OrderID: e.OrderID})
	if err != nil {
		return sharedevents.Envelope{}, err
	}
	return sharedevents.Envelope{
		EventType:     TopicOrderPaid,
		PartitionKey:  e.OrderID,
		SchemaVersion: 1,
		Data:          data,
	}, nil
}

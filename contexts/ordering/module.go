package ordering

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"steward/contexts/ordering/application/commands"
	"steward/contexts/ordering/application/converters"
	"steward/contexts/ordering/application/eventhandlers"
	"steward/contexts/ordering/domain/events"
	"steward/contexts/ordering/ports"
	"steward/internal/shared/commandbus"
	sharedevents "steward/internal/shared/events"
	"steward/internal/shared/inbox"
)

type Dependencies struct {
	Orders      ports.OrderRepository
	Delivers    ports.DeliverRecordRepository
	Clock       ports.Clock
	IDGenerator ports.IDGenerator
	Logger      *slog.Logger
}

// Register wires the ordering handlers, domain event handlers and
// integration event converters into the dispatcher.
func Register(d *commandbus.Dispatcher, deps Dependencies) {
	createOrder := commands.CreateOrderUseCase{
		Orders:      deps.Orders,
		Clock:       deps.Clock,
		IDGenerator: deps.IDGenerator,
		Logger:      deps.Logger,
	}
	d.RegisterHandler(commands.CreateOrderCommand{}.CommandName(), commandbus.TypedHandler(createOrder.Execute))

	markPaid := commands.MarkOrderPaidUseCase{
		Orders: deps.Orders,
		Clock:  deps.Clock,
		Logger: deps.Logger,
	}
	d.RegisterHandler(commands.MarkOrderPaidCommand{}.CommandName(), commandbus.TypedHandler(markPaid.Execute))

	deliverGoods := commands.DeliverGoodsUseCase{
		Orders:      deps.Orders,
		Delivers:    deps.Delivers,
		Clock:       deps.Clock,
		IDGenerator: deps.IDGenerator,
		Logger:      deps.Logger,
	}
	d.RegisterHandler(commands.DeliverGoodsCommand{}.CommandName(), commandbus.TypedHandler(deliverGoods.Execute))

	settleOrder := commands.SettleOrderUseCase{
		Orders: deps.Orders,
		Clock:  deps.Clock,
		Logger: deps.Logger,
	}
	d.RegisterHandler(commands.SettleOrderCommand{}.CommandName(), commandbus.TypedHandler(settleOrder.Execute))

	d.RegisterDomainEventHandler(events.OrderCreated{}.EventName(), eventhandlers.OrderCreatedHandler{Sender: d})
	d.RegisterConverter(converters.OrderPaidConverter{})
}

// RegisterConsumers maps inbound integration events onto local commands.
func RegisterConsumers(c *inbox.Consumer) {
	c.RegisterMapper(converters.TopicOrderPaid, func(env sharedevents.Envelope) (commandbus.Command, error) {
		var payload converters.OrderPaidPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", converters.TopicOrderPaid, err)
		}
		if payload.OrderID == "" {
			return nil, fmt.Errorf("%s payload has no order id", converters.TopicOrderPaid)
		}
		return commands.SettleOrderCommand{OrderID: payload.OrderID}, nil
	})
}

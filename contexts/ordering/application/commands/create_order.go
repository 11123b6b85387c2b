package commands

import (
	"context"
	"log/slog"
	"strings"

	application "steward/contexts/ordering/application"
	"steward/contexts/ordering/domain/entities"
	"steward/contexts/ordering/domain/events"
	"steward/contexts/ordering/ports"
	"steward/internal/shared/commandbus"
)

type CreateOrderCommand struct {
	Name  string `validate:"required,max=128"`
	Price int64  `validate:"gt=0"`
	Count int    `validate:"gt=0"`
}

func (CreateOrderCommand) CommandName() string { return "ordering.create_order" }

// A fresh aggregate has no resource to serialize on.
func (CreateOrderCommand) ResourceKey() string { return "" }

type CreateOrderResult struct {
	OrderID string
}

type CreateOrderUseCase struct {
	Orders      ports.OrderRepository
	Clock       ports.Clock
	IDGenerator ports.IDGenerator
	Logger      *slog.Logger
}

func (uc CreateOrderUseCase) Execute(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, []commandbus.DomainEvent, error) {
	logger := application.ResolveLogger(uc.Logger)
	now := uc.Clock.Now().UTC()

	orderID, err := uc.IDGenerator.NewID(ctx)
	if err != nil {
		return CreateOrderResult{}, nil, err
	}

	order := entities.Order{
		OrderID:   orderID,
		Name:      strings.TrimSpace(cmd.Name),
		Price:     cmd.Price,
		Count:     cmd.Count,
		Status:    entities.OrderStatusCreated,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := uc.Orders.CreateOrder(ctx, order); err != nil {
		return CreateOrderResult{}, nil, err
	}

	logger.InfoContext(ctx, "order created",
		"event", "order_created",
		"order_id", orderID,
	)
	return CreateOrderResult{OrderID: orderID}, []commandbus.DomainEvent{events.OrderCreated{OrderID: orderID}}, nil
}

package commands

import (
	"context"
	"log/slog"

	application "steward/contexts/ordering/application"
	"steward/contexts/ordering/domain/entities"
	domainerrors "steward/contexts/ordering/domain/errors"
	"steward/contexts/ordering/domain/events"
	"steward/contexts/ordering/ports"
	"steward/internal/shared/commandbus"
)

type MarkOrderPaidCommand struct {
	OrderID string `validate:"required"`
}

func (MarkOrderPaidCommand) CommandName() string { return "ordering.mark_order_paid" }

func (c MarkOrderPaidCommand) ResourceKey() string { return "order:" + c.OrderID }

type MarkOrderPaidResult struct {
	OrderID string
	Status  entities.OrderStatus
}

type MarkOrderPaidUseCase struct {
	Orders ports.OrderRepository
	Clock  ports.Clock
	Logger *slog.Logger
}

func (uc MarkOrderPaidUseCase) Execute(ctx context.Context, cmd MarkOrderPaidCommand) (MarkOrderPaidResult, []commandbus.DomainEvent, error) {
	logger := application.ResolveLogger(uc.Logger)
	now := uc.Clock.Now().UTC()

	order, err := uc.Orders.GetOrder(ctx, cmd.OrderID)
	if err != nil {
		return MarkOrderPaidResult{}, nil, err
	}
	if !order.CanPay() {
		return MarkOrderPaidResult{}, nil, domainerrors.ErrOrderNotPayable
	}

	order.Status = entities.OrderStatusPaid
	order.PaidAt = &now
	order.UpdatedAt = now
	if err := uc.Orders.SaveOrder(ctx, order); err != nil {
		return MarkOrderPaidResult{}, nil, err
	}

	logger.InfoContext(ctx, "order paid",
		"event", "order_paid",
		"order_id", order.OrderID,
	)
	return MarkOrderPaidResult{OrderID: order.OrderID, Status: entities.OrderStatusPaid},
		[]commandbus.DomainEvent{events.OrderPaid{OrderID: order.OrderID}}, nil
}

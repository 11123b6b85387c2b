package commands

import (
	"context"
	"log/slog"

	application "steward/contexts/ordering/application"
	"steward/contexts/ordering/domain/entities"
	domainerrors "steward/contexts/ordering/domain/errors"
	"steward/contexts/ordering/ports"
	"steward/internal/shared/commandbus"
)

// SettleOrderCommand is mapped from the "order.paid" integration event by the
// consumer and applies the settlement side of the payment.
type SettleOrderCommand struct {
	OrderID string `validate:"required"`
}

func (SettleOrderCommand) CommandName() string { return "ordering.settle_order" }

func (c SettleOrderCommand) ResourceKey() string { return "order:" + c.OrderID }

type SettleOrderResult struct {
	OrderID string
	Status  entities.OrderStatus
}

type SettleOrderUseCase struct {
	Orders ports.OrderRepository
	Clock  ports.Clock
	Logger *slog.Logger
}

func (uc SettleOrderUseCase) Execute(ctx context.Context, cmd SettleOrderCommand) (SettleOrderResult, []commandbus.DomainEvent, error) {
	logger := application.ResolveLogger(uc.Logger)

	order, err := uc.Orders.GetOrder(ctx, cmd.OrderID)
	if err != nil {
		return SettleOrderResult{}, nil, err
	}
	if order.Status == entities.OrderStatusSettled {
		return SettleOrderResult{OrderID: order.OrderID, Status: order.Status}, nil, nil
	}
	if !order.CanSettle() {
		return SettleOrderResult{}, nil, domainerrors.ErrOrderNotSettleable
	}

	order.Status = entities.OrderStatusSettled
	order.UpdatedAt = uc.Clock.Now().UTC()
	if err := uc.Orders.SaveOrder(ctx, order); err != nil {
		return SettleOrderResult{}, nil, err
	}

	logger.InfoContext(ctx, "order settled",
		"event", "order_settled",
		"order_id", order.OrderID,
	)
	return SettleOrderResult{OrderID: order.OrderID, Status: entities.OrderStatusSettled}, nil, nil
}

package commands

import (
	"context"
	"errors"
	"log/slog"

	application "steward/contexts/ordering/application"
	"steward/contexts/ordering/domain/entities"
	domainerrors "steward/contexts/ordering/domain/errors"
	"steward/contexts/ordering/ports"
	"steward/internal/shared/commandbus"
)

// DeliverGoodsCommand is dispatched from the OrderCreated handler inside the
// originating transaction.
type DeliverGoodsCommand struct {
	OrderID string `validate:"required"`
}

func (DeliverGoodsCommand) CommandName() string { return "ordering.deliver_goods" }

// The parent command already holds the order lock.
func (DeliverGoodsCommand) ResourceKey() string { return "" }

type DeliverGoodsResult struct {
	DeliverRecordID string
}

type DeliverGoodsUseCase struct {
	Orders      ports.OrderRepository
	Delivers    ports.DeliverRecordRepository
	Clock       ports.Clock
	IDGenerator ports.IDGenerator
	Logger      *slog.Logger
}

func (uc DeliverGoodsUseCase) Execute(ctx context.Context, cmd DeliverGoodsCommand) (DeliverGoodsResult, []commandbus.DomainEvent, error) {
	logger := application.ResolveLogger(uc.Logger)

	if _, err := uc.Orders.GetOrder(ctx, cmd.OrderID); err != nil {
		return DeliverGoodsResult{}, nil, err
	}
	if existing, err := uc.Delivers.GetDeliverRecordByOrder(ctx, cmd.OrderID); err == nil {
		return DeliverGoodsResult{DeliverRecordID: existing.DeliverRecordID}, nil, nil
	} else if !errors.Is(err, domainerrors.ErrDeliverRecordNotFound) {
		return DeliverGoodsResult{}, nil, err
	}

	recordID, err := uc.IDGenerator.NewID(ctx)
	if err != nil {
		return DeliverGoodsResult{}, nil, err
	}
	record := entities.DeliverRecord{
		DeliverRecordID: recordID,
		OrderID:         cmd.OrderID,
		CreatedAt:       uc.Clock.Now().UTC(),
	}
	if err := uc.Delivers.CreateDeliverRecord(ctx, record); err != nil {
		return DeliverGoodsResult{}, nil, err
	}

	logger.InfoContext(ctx, "goods delivered",
		"event", "goods_delivered",
		"order_id", cmd.OrderID,
		"deliver_record_id", recordID,
	)
	return DeliverGoodsResult{DeliverRecordID: recordID}, nil, nil
}

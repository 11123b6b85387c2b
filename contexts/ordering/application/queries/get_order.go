package queries

import (
	"context"

	"steward/contexts/ordering/domain/entities"
	"steward/contexts/ordering/ports"
)

type GetOrderQuery struct {
	OrderID string
}

type GetOrderUseCase struct {
	Orders ports.OrderRepository
}

func (uc GetOrderUseCase) Execute(ctx context.Context, q GetOrderQuery) (entities.Order, error) {
	return uc.Orders.GetOrder(ctx, q.OrderID)
}

type ListOrdersUseCase struct {
	Orders ports.OrderRepository
}

func (uc ListOrdersUseCase) Execute(ctx context.Context) ([]entities.Order, error) {
	return uc.Orders.ListOrders(ctx)
}

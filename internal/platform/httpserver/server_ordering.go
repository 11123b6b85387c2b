package httpserver

import (
	"errors"
	"net/http"
	"time"

	orderingcommands "steward/contexts/ordering/application/commands"
	orderingqueries "steward/contexts/ordering/application/queries"
	"steward/contexts/ordering/domain/entities"
	orderingerrors "steward/contexts/ordering/domain/errors"
)

type createOrderRequest struct {
	Name  string `json:"name"`
	Price int64  `json:"price"`
	Count int    `json:"count"`
}

type orderResponse struct {
	OrderID   string     `json:"order_id"`
	Name      string     `json:"name"`
	Price     int64      `json:"price"`
	Count     int        `json:"count"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	PaidAt    *time.Time `json:"paid_at,omitempty"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	s.dispatch(r.Context(), w, orderingcommands.CreateOrderCommand{
		Name:  req.Name,
		Price: req.Price,
		Count: req.Count,
	}, http.StatusCreated, nil)
}

func (s *Server) handleMarkOrderPaid(w http.ResponseWriter, r *http.Request) {
	s.dispatch(r.Context(), w, orderingcommands.MarkOrderPaidCommand{
		OrderID: r.PathValue("order_id"),
	}, http.StatusOK, nil)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.getOrder.Execute(r.Context(), orderingqueries.GetOrderQuery{
		OrderID: r.PathValue("order_id"),
	})
	if err != nil {
		if !writeOrderingDomainError(w, err) {
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		}
		return
	}
	writeJSON(w, http.StatusOK, orderToResponse(order))
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.listOrders.Execute(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	items := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		items = append(items, orderToResponse(order))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": items})
}

func orderToResponse(order entities.Order) orderResponse {
	return orderResponse{
		OrderID:   order.OrderID,
		Name:      order.Name,
		Price:     order.Price,
		Count:     order.Count,
		Status:    string(order.Status),
		CreatedAt: order.CreatedAt,
		PaidAt:    order.PaidAt,
	}
}

func writeOrderingDomainError(w http.ResponseWriter, err error) bool {
	switch {
	case errors.Is(err, orderingerrors.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order_not_found", err.Error())
	case errors.Is(err, orderingerrors.ErrOrderNotPayable):
		writeError(w, http.StatusConflict, "order_not_payable", err.Error())
	case errors.Is(err, orderingerrors.ErrOrderNotSettleable):
		writeError(w, http.StatusConflict, "order_not_settleable", err.Error())
	case errors.Is(err, orderingerrors.ErrDeliverRecordExists):
		writeError(w, http.StatusConflict, "deliver_record_exists", err.Error())
	case errors.Is(err, orderingerrors.ErrDeliverRecordNotFound):
		writeError(w, http.StatusNotFound, "deliver_record_not_found", err.Error())
	default:
		return false
	}
	return true
}

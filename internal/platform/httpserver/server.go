package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	identityqueries "steward/contexts/identity/application/queries"
	orderingqueries "steward/contexts/ordering/application/queries"
	"steward/internal/shared/commandbus"
)

// Server is the thin HTTP edge. Every mutation goes through the command
// dispatcher; queries read through the repositories directly.
type Server struct {
	mux        *http.ServeMux
	logger     *slog.Logger
	addr       string
	dispatcher *commandbus.Dispatcher

	getOrder     orderingqueries.GetOrderUseCase
	listOrders   orderingqueries.ListOrdersUseCase
	getUser      identityqueries.GetUserUseCase
	listUsers    identityqueries.ListUsersUseCase
	listRoles    identityqueries.ListRolesUseCase
	listOrgUnits identityqueries.ListOrgUnitsUseCase
}

type Dependencies struct {
	Dispatcher   *commandbus.Dispatcher
	GetOrder     orderingqueries.GetOrderUseCase
	ListOrders   orderingqueries.ListOrdersUseCase
	GetUser      identityqueries.GetUserUseCase
	ListUsers    identityqueries.ListUsersUseCase
	ListRoles    identityqueries.ListRolesUseCase
	ListOrgUnits identityqueries.ListOrgUnitsUseCase
}

func New(deps Dependencies, logger *slog.Logger, addr string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}

	s := &Server{
		mux:          http.NewServeMux(),
		logger:       logger,
		addr:         addr,
		dispatcher:   deps.Dispatcher,
		getOrder:     deps.GetOrder,
		listOrders:   deps.ListOrders,
		getUser:      deps.GetUser,
		listUsers:    deps.ListUsers,
		listRoles:    deps.ListRoles,
		listOrgUnits: deps.ListOrgUnits,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Start() error {
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"layer", "platform",
		"addr", s.addr,
	)
	return http.ListenAndServe(s.addr, s.mux)
}

// Handler exposes the mux for httptest.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/orders", s.handleCreateOrder)
	s.mux.HandleFunc("GET /api/orders", s.handleListOrders)
	s.mux.HandleFunc("GET /api/orders/{order_id}", s.handleGetOrder)
	s.mux.HandleFunc("POST /api/orders/{order_id}/pay", s.handleMarkOrderPaid)

	s.mux.HandleFunc("POST /api/users", s.handleCreateUser)
	s.mux.HandleFunc("GET /api/users", s.handleListUsers)
	s.mux.HandleFunc("GET /api/users/{user_id}", s.handleGetUser)
	s.mux.HandleFunc("PUT /api/users/{user_id}", s.handleUpdateUser)
	s.mux.HandleFunc("DELETE /api/users/{user_id}", s.handleDeleteUser)
	s.mux.HandleFunc("PUT /api/users/{user_id}/roles", s.handleUpdateUserRoles)

	s.mux.HandleFunc("POST /api/roles", s.handleCreateRole)
	s.mux.HandleFunc("GET /api/roles", s.handleListRoles)
	s.mux.HandleFunc("PUT /api/roles/{role_id}", s.handleUpdateRole)

	s.mux.HandleFunc("POST /api/org-units", s.handleCreateOrgUnit)
	s.mux.HandleFunc("GET /api/org-units", s.handleListOrgUnits)
	s.mux.HandleFunc("PUT /api/org-units/{org_unit_id}", s.handleUpdateOrgUnit)

	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

func (s *Server) dispatch(ctx context.Context, w http.ResponseWriter, cmd commandbus.Command, status int, shape func(result any) any) {
	result, err := s.dispatcher.Send(ctx, cmd)
	if err != nil {
		s.writeDispatchError(w, cmd, err)
		return
	}
	if shape != nil {
		result = shape(result)
	}
	writeJSON(w, status, result)
}

type ErrorResponse struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields,omitempty"`
}

type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (s *Server) writeDispatchError(w http.ResponseWriter, cmd commandbus.Command, err error) {
	var validationErr *commandbus.ValidationError
	switch {
	case errors.As(err, &validationErr):
		fields := make([]FieldError, 0, len(validationErr.Violations))
		for _, v := range validationErr.Violations {
			fields = append(fields, FieldError{Field: v.Field, Reason: v.Rule})
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Code:    "validation_failed",
			Message: validationErr.Error(),
			Fields:  fields,
		})
	case errors.Is(err, commandbus.ErrLockContention):
		writeError(w, http.StatusConflict, "resource_busy", "the resource is being modified, retry")
	case errors.Is(err, commandbus.ErrConcurrencyConflict):
		writeError(w, http.StatusConflict, "concurrency_conflict", "the resource changed underneath, retry")
	case errors.Is(err, commandbus.ErrHandlerNotFound):
		writeError(w, http.StatusInternalServerError, "handler_not_found", "no handler for command")
	case s.writeDomainError(w, err):
	default:
		s.logger.Error("command dispatch failed",
			"event", "http_dispatch_failed",
			"layer", "platform",
			"command", cmd.CommandName(),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// writeDomainError maps context domain errors; it reports whether it wrote
// a response.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) bool {
	if writeOrderingDomainError(w, err) {
		return true
	}
	return writeIdentityDomainError(w, err)
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

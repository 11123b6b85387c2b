package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	identity "steward/contexts/identity"
	identitymemory "steward/contexts/identity/adapters/memory"
	identityqueries "steward/contexts/identity/application/queries"
	ordering "steward/contexts/ordering"
	orderingmemory "steward/contexts/ordering/adapters/memory"
	orderingqueries "steward/contexts/ordering/application/queries"
	"steward/internal/shared/commandbus"
	"steward/internal/shared/locks"
	"steward/internal/shared/outbox"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()

	orders := orderingmemory.NewStore(nil)
	identities := identitymemory.NewStore()
	outboxStore := outbox.NewMemoryStore()
	uow := commandbus.NewMemoryUnitOfWork(orders, identities, outboxStore)

	dispatcher := commandbus.NewDispatcher(commandbus.Config{
		UnitOfWork:    uow,
		Locks:         locks.NewMemoryProvider(),
		Outbox:        outboxStore,
		SourceService: "steward-test",
		LockTTL:       time.Second,
		LockWait:      50 * time.Millisecond,
	})
	ordering.Register(dispatcher, ordering.Dependencies{
		Orders:      orders,
		Delivers:    orders,
		Clock:       orders,
		IDGenerator: orders,
	})
	identity.Register(dispatcher, identity.Dependencies{
		Users:       identities,
		Roles:       identities,
		OrgUnits:    identities,
		Clock:       identities,
		IDGenerator: identities,
	})

	server := New(Dependencies{
		Dispatcher:   dispatcher,
		GetOrder:     orderingqueries.GetOrderUseCase{Orders: orders},
		ListOrders:   orderingqueries.ListOrdersUseCase{Orders: orders},
		GetUser:      identityqueries.GetUserUseCase{Users: identities},
		ListUsers:    identityqueries.ListUsersUseCase{Users: identities},
		ListRoles:    identityqueries.ListRolesUseCase{Roles: identities},
		ListOrgUnits: identityqueries.ListOrgUnitsUseCase{OrgUnits: identities},
	}, nil, "")
	return server.Handler()
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndPayOrderOverHTTP(t *testing.T) {
	handler := newTestServer(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/orders", `{"name":"keyboard","price":2500,"count":1}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create returned %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		OrderID string `json:"OrderID"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.OrderID == "" {
		t.Fatalf("create response has no order id: %s", rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/orders/"+created.OrderID+"/pay", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("pay returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/orders/"+created.OrderID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get returned %d: %s", rec.Code, rec.Body.String())
	}
	var order struct {
		Status string     `json:"status"`
		PaidAt *time.Time `json:"paid_at"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &order); err != nil {
		t.Fatalf("decode order: %v", err)
	}
	if order.Status != "paid" || order.PaidAt == nil {
		t.Fatalf("unexpected order state: %s", rec.Body.String())
	}
}

func TestCreateOrderValidationReturnsFieldErrors(t *testing.T) {
	handler := newTestServer(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/orders", `{"name":"","price":0,"count":0}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.Code != "validation_failed" || len(resp.Fields) == 0 {
		t.Fatalf("unexpected error body: %s", rec.Body.String())
	}
}

func TestGetUnknownOrderReturnsNotFound(t *testing.T) {
	handler := newTestServer(t)

	rec := doJSON(t, handler, http.MethodGet, "/api/orders/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUserLifecycleOverHTTP(t *testing.T) {
	handler := newTestServer(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/users", `{"name":"Alice","email":"alice@example.com"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create user returned %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		UserID string `json:"UserID"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/users", `{"name":"Shadow","email":"alice@example.com"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate email should 409, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodDelete, "/api/users/"+created.UserID, "")
	if rec.Code != http.StatusNoContent && rec.Code != http.StatusOK {
		t.Fatalf("delete returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/users/"+created.UserID, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUnknownBodyFieldIsRejected(t *testing.T) {
	handler := newTestServer(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/orders", `{"name":"keyboard","price":2500,"count":1,"surprise":true}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

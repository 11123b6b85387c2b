package unit

import (
	"context"
	"errors"
	"testing"
	"time"

	identity "steward/contexts/identity"
	identitymemory "steward/contexts/identity/adapters/memory"
	identitycommands "steward/contexts/identity/application/commands"
	ordering "steward/contexts/ordering"
	orderingmemory "steward/contexts/ordering/adapters/memory"
	orderingcommands "steward/contexts/ordering/application/commands"
	"steward/contexts/ordering/domain/entities"
	"steward/internal/platform/messaging"
	"steward/internal/shared/commandbus"
	"steward/internal/shared/inbox"
	"steward/internal/shared/locks"
	"steward/internal/shared/outbox"
)

// harness wires the full in-memory stack: dispatcher, both contexts, the
// transactional outbox, the relay, the broker and the idempotent consumer.
type harness struct {
	dispatcher *commandbus.Dispatcher
	orders     *orderingmemory.Store
	identities *identitymemory.Store
	outbox     *outbox.MemoryStore
	inbox      *inbox.MemoryStore
	locks      *locks.MemoryProvider
	relay      outbox.Relay
	broker     *messaging.MemoryBroker
	consumer   *inbox.Consumer
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	orders := orderingmemory.NewStore(nil)
	identities := identitymemory.NewStore()
	outboxStore := outbox.NewMemoryStore()
	inboxStore := inbox.NewMemoryStore()
	uow := commandbus.NewMemoryUnitOfWork(orders, identities, outboxStore, inboxStore)
	lockProvider := locks.NewMemoryProvider()

	dispatcher := commandbus.NewDispatcher(commandbus.Config{
		UnitOfWork:    uow,
		Locks:         lockProvider,
		Outbox:        outboxStore,
		SourceService: "steward-test",
		LockTTL:       time.Second,
		LockWait:      500 * time.Millisecond,
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

	consumer := &inbox.Consumer{
		Dispatcher:  dispatcher,
		Idempotency: inboxStore,
		UnitOfWork:  uow,
		Group:       "steward-test",
	}
	ordering.RegisterConsumers(consumer)

	broker := messaging.NewMemoryBroker(nil)
	return &harness{
		dispatcher: dispatcher,
		orders:     orders,
		identities: identities,
		outbox:     outboxStore,
		inbox:      inboxStore,
		locks:      lockProvider,
		relay: outbox.Relay{
			Store:           outboxStore,
			Publisher:       broker,
			BatchSize:       10,
			MaxRetries:      3,
			InitialBackoff:  time.Millisecond,
			ClaimStaleAfter: time.Minute,
		},
		broker:   broker,
		consumer: consumer,
	}
}

func (h *harness) createOrder(t *testing.T, name string) string {
	t.Helper()
	result, err := commandbus.Send[orderingcommands.CreateOrderResult](
		context.Background(), h.dispatcher,
		orderingcommands.CreateOrderCommand{Name: name, Price: 1000, Count: 1})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	return result.OrderID
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCreateOrderDeliversGoodsInSameDispatch(t *testing.T) {
	h := newHarness(t)
	orderID := h.createOrder(t, "keyboard")

	// The OrderCreated handler dispatched DeliverGoods inside the same
	// transaction, so the record is visible as soon as Send returns.
	record, err := h.orders.GetDeliverRecordByOrder(context.Background(), orderID)
	if err != nil {
		t.Fatalf("deliver record missing: %v", err)
	}
	if record.OrderID != orderID {
		t.Fatalf("record bound to wrong order: %+v", record)
	}
}

func TestPaidOrderSettlesThroughOutboxAndConsumer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orderID := h.createOrder(t, "keyboard")

	if _, err := h.dispatcher.Send(ctx, orderingcommands.MarkOrderPaidCommand{OrderID: orderID}); err != nil {
		t.Fatalf("mark paid failed: %v", err)
	}

	// The commit left exactly one pending integration event behind.
	pending := h.outbox.Messages()
	if len(pending) != 1 {
		t.Fatalf("expected one outbox row, got %d", len(pending))
	}
	if pending[0].Topic != "order.paid" || pending[0].Status != outbox.StatusPending {
		t.Fatalf("unexpected outbox row: %+v", pending[0])
	}
	if pending[0].PartitionKey != orderID {
		t.Fatalf("partition key should be the aggregate id, got %q", pending[0].PartitionKey)
	}

	consumerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := h.consumer.Start(consumerCtx, h.broker); err != nil {
		t.Fatalf("consumer start failed: %v", err)
	}

	if err := h.relay.RunOnce(ctx); err != nil {
		t.Fatalf("relay cycle failed: %v", err)
	}

	waitFor(t, "order to settle", func() bool {
		order, err := h.orders.GetOrder(ctx, orderID)
		return err == nil && order.Status == entities.OrderStatusSettled
	})

	published := h.outbox.Messages()
	if published[0].Status != outbox.StatusPublished {
		t.Fatalf("outbox row should be published, got %s", published[0].Status)
	}
	waitFor(t, "idempotency record", func() bool { return h.inbox.Count() == 1 })
}

func TestDuplicateDeliveryIsAckedWithoutReprocessing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orderID := h.createOrder(t, "keyboard")

	if _, err := h.dispatcher.Send(ctx, orderingcommands.MarkOrderPaidCommand{OrderID: orderID}); err != nil {
		t.Fatalf("mark paid failed: %v", err)
	}
	row := h.outbox.Messages()[0]

	// Deliver the same broker message twice, the way a redelivery would.
	if err := h.consumer.OnMessage(ctx, row.Topic, "msg-1", row.Payload); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	if err := h.consumer.OnMessage(ctx, row.Topic, "msg-1", row.Payload); err != nil {
		t.Fatalf("duplicate delivery should ack, got %v", err)
	}
	if h.inbox.Count() != 1 {
		t.Fatalf("expected one idempotency record, got %d", h.inbox.Count())
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if order.Status != entities.OrderStatusSettled {
		t.Fatalf("unexpected status %s", order.Status)
	}
}

func TestRepublishedOutboxRowIsConsumedOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orderID := h.createOrder(t, "keyboard")

	if _, err := h.dispatcher.Send(ctx, orderingcommands.MarkOrderPaidCommand{OrderID: orderID}); err != nil {
		t.Fatalf("mark paid failed: %v", err)
	}
	row := h.outbox.Messages()[0]

	consumerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := h.consumer.Start(consumerCtx, h.broker); err != nil {
		t.Fatalf("consumer start failed: %v", err)
	}

	// The broker sees the same row twice, as it would after the relay
	// published successfully but crashed before marking the row. The row id
	// rides along as the messageID, so the consumer dedups the second copy.
	for i := 0; i < 2; i++ {
		if err := h.broker.Publish(ctx, row.Topic, row.PartitionKey, row.ID, row.Payload); err != nil {
			t.Fatalf("publish %d failed: %v", i+1, err)
		}
	}

	waitFor(t, "order to settle", func() bool {
		order, err := h.orders.GetOrder(ctx, orderID)
		return err == nil && order.Status == entities.OrderStatusSettled
	})
	waitFor(t, "idempotency record", func() bool { return h.inbox.Count() == 1 })
	time.Sleep(50 * time.Millisecond)
	if h.inbox.Count() != 1 {
		t.Fatalf("republication must not add a second record, got %d", h.inbox.Count())
	}
}

func TestFailedDeliveryLeavesNoIdempotencyRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// A paid event for an order that does not exist: the settle command
	// fails, the delivery is nacked and nothing is recorded.
	payload := []byte(`{"event_id":"evt-1","event_type":"order.paid","partition_key":"ghost","schema_version":1,"data":{"order_id":"ghost"}}`)
	if err := h.consumer.OnMessage(ctx, "order.paid", "msg-ghost", payload); err == nil {
		t.Fatal("expected the delivery to be nacked")
	}
	if h.inbox.Count() != 0 {
		t.Fatalf("failed delivery must not be recorded, got %d", h.inbox.Count())
	}
}

func TestHeldResourceLockRejectsCommand(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orderID := h.createOrder(t, "keyboard")

	handle, err := h.locks.Acquire(ctx, "order:"+orderID, time.Minute)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	_, err = h.dispatcher.Send(ctx, orderingcommands.MarkOrderPaidCommand{OrderID: orderID})
	if !errors.Is(err, commandbus.ErrLockContention) {
		t.Fatalf("expected ErrLockContention, got %v", err)
	}
	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if order.Status != entities.OrderStatusCreated {
		t.Fatalf("rejected command must not change state, got %s", order.Status)
	}

	if err := h.locks.Release(ctx, handle); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if _, err := h.dispatcher.Send(ctx, orderingcommands.MarkOrderPaidCommand{OrderID: orderID}); err != nil {
		t.Fatalf("command should pass once the lock is free: %v", err)
	}
}

func TestConcurrentRoleUpdatesSerializeOnUserLock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	admin, err := commandbus.Send[identitycommands.CreateRoleResult](ctx, h.dispatcher,
		identitycommands.CreateRoleCommand{Name: "admin"})
	if err != nil {
		t.Fatalf("create role failed: %v", err)
	}
	auditor, err := commandbus.Send[identitycommands.CreateRoleResult](ctx, h.dispatcher,
		identitycommands.CreateRoleCommand{Name: "auditor"})
	if err != nil {
		t.Fatalf("create role failed: %v", err)
	}
	user, err := commandbus.Send[identitycommands.CreateUserResult](ctx, h.dispatcher,
		identitycommands.CreateUserCommand{Name: "Alice", Email: "alice@example.com"})
	if err != nil {
		t.Fatalf("create user failed: %v", err)
	}

	// Two writers race on the same user. The resource lock serializes them:
	// both commit, and the final set is one writer's whole payload, never a
	// merge of the two.
	payloads := [][]string{{admin.RoleID}, {auditor.RoleID}}
	errs := make(chan error, len(payloads))
	for _, roleIDs := range payloads {
		go func(roleIDs []string) {
			_, err := h.dispatcher.Send(ctx, identitycommands.UpdateUserRolesCommand{
				UserID:  user.UserID,
				RoleIDs: roleIDs,
			})
			errs <- err
		}(roleIDs)
	}
	for i := 0; i < len(payloads); i++ {
		if err := <-errs; err != nil {
			t.Fatalf("concurrent update %d failed: %v", i+1, err)
		}
	}

	final, err := h.identities.GetUser(ctx, user.UserID)
	if err != nil {
		t.Fatalf("get user failed: %v", err)
	}
	if len(final.Roles) != 1 {
		t.Fatalf("final set must be exactly one writer's payload, got %+v", final.Roles)
	}
	if got := final.Roles[0].RoleID; got != admin.RoleID && got != auditor.RoleID {
		t.Fatalf("unexpected final role %q", got)
	}
}

func TestRoleRenamePropagatesToUserSnapshots(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	role, err := commandbus.Send[identitycommands.CreateRoleResult](ctx, h.dispatcher,
		identitycommands.CreateRoleCommand{Name: "admin"})
	if err != nil {
		t.Fatalf("create role failed: %v", err)
	}
	user, err := commandbus.Send[identitycommands.CreateUserResult](ctx, h.dispatcher,
		identitycommands.CreateUserCommand{Name: "Alice", Email: "alice@example.com"})
	if err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	if _, err := h.dispatcher.Send(ctx, identitycommands.UpdateUserRolesCommand{
		UserID:  user.UserID,
		RoleIDs: []string{role.RoleID},
	}); err != nil {
		t.Fatalf("assign role failed: %v", err)
	}

	if _, err := h.dispatcher.Send(ctx, identitycommands.UpdateRoleCommand{
		RoleID: role.RoleID,
		Name:   "administrator",
	}); err != nil {
		t.Fatalf("rename role failed: %v", err)
	}

	// The RoleNameChanged handler ran inside the rename transaction, so the
	// denormalized snapshot is already refreshed.
	refreshed, err := h.identities.GetUser(ctx, user.UserID)
	if err != nil {
		t.Fatalf("get user failed: %v", err)
	}
	if len(refreshed.Roles) != 1 || refreshed.Roles[0].RoleName != "administrator" {
		t.Fatalf("snapshot not refreshed: %+v", refreshed.Roles)
	}
}

func TestValidationFailureSurfacesFieldViolations(t *testing.T) {
	h := newHarness(t)

	_, err := h.dispatcher.Send(context.Background(), orderingcommands.CreateOrderCommand{
		Name:  "",
		Price: -1,
		Count: 0,
	})
	var verr *commandbus.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Violations) != 3 {
		t.Fatalf("expected three violations, got %+v", verr.Violations)
	}
}

package commandbus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"steward/internal/shared/events"
	"steward/internal/shared/locks"
	"steward/internal/shared/outbox"
)

type kvStore struct {
	data map[string]string
}

func newKVStore() *kvStore {
	return &kvStore{data: make(map[string]string)}
}

func (s *kvStore) Snapshot() any {
	snap := make(map[string]string, len(s.data))
	for k, v := range s.data {
		snap[k] = v
	}
	return snap
}

func (s *kvStore) Restore(state any) {
	snap, ok := state.(map[string]string)
	if !ok {
		return
	}
	s.data = make(map[string]string, len(snap))
	for k, v := range snap {
		s.data[k] = v
	}
}

type testCommand struct {
	ID   string `validate:"required"`
	name string
	key  string
}

func (c testCommand) CommandName() string { return c.name }
func (c testCommand) ResourceKey() string { return c.key }

type testEvent struct {
	name string
	agg  string
}

func (e testEvent) EventName() string   { return e.name }
func (e testEvent) AggregateID() string { return e.agg }

type testConverter struct {
	eventName string
	topic     string
}

func (c testConverter) DomainEventName() string { return c.eventName }

func (c testConverter) Convert(event DomainEvent) (events.Envelope, error) {
	data, _ := json.Marshal(map[string]string{"aggregate_id": event.AggregateID()})
	return events.Envelope{EventType: c.topic, Data: data}, nil
}

func newTestDispatcher(t *testing.T, stores ...Snapshotter) (*Dispatcher, *outbox.MemoryStore, *locks.MemoryProvider) {
	t.Helper()
	outboxStore := outbox.NewMemoryStore()
	lockProvider := locks.NewMemoryProvider()
	all := append([]Snapshotter{outboxStore}, stores...)
	d := NewDispatcher(Config{
		UnitOfWork:    NewMemoryUnitOfWork(all...),
		Locks:         lockProvider,
		Outbox:        outboxStore,
		SourceService: "steward-test",
		LockTTL:       time.Second,
		LockWait:      50 * time.Millisecond,
	})
	d.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	next := 0
	d.newID = func() string {
		next++
		return "event-" + string(rune('a'+next-1))
	}
	return d, outboxStore, lockProvider
}

func TestSendRollsBackEverythingOnHandlerError(t *testing.T) {
	store := newKVStore()
	d, outboxStore, _ := newTestDispatcher(t, store)

	d.RegisterHandler("cmd.fail", HandlerFunc(func(ctx context.Context, cmd Command) (any, []DomainEvent, error) {
		store.data["written"] = "yes"
		return nil, nil, errors.New("handler exploded")
	}))

	_, err := d.Send(context.Background(), testCommand{ID: "1", name: "cmd.fail"})
	if err == nil {
		t.Fatal("expected handler error")
	}
	if _, ok := store.data["written"]; ok {
		t.Fatal("store mutation should have been rolled back")
	}
	if got := len(outboxStore.Messages()); got != 0 {
		t.Fatalf("expected empty outbox, got %d rows", got)
	}
}

func TestSendValidationShortCircuits(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	invoked := false
	d.RegisterHandler("cmd.validated", HandlerFunc(func(ctx context.Context, cmd Command) (any, []DomainEvent, error) {
		invoked = true
		return nil, nil, nil
	}))

	_, err := d.Send(context.Background(), testCommand{name: "cmd.validated"})
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if invoked {
		t.Fatal("handler must not run for an invalid command")
	}

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(ve.Violations) != 1 || ve.Violations[0].Field != "ID" {
		t.Fatalf("unexpected violations: %+v", ve.Violations)
	}
}

func TestDomainEventFanOutOrder(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	var order []string
	record := func(tag string) DomainEventHandler {
		return DomainEventHandlerFunc(func(ctx context.Context, event DomainEvent) error {
			order = append(order, tag+":"+event.EventName())
			return nil
		})
	}
	d.RegisterDomainEventHandler("ev.first", record("h1"))
	d.RegisterDomainEventHandler("ev.first", record("h2"))
	d.RegisterDomainEventHandler("ev.second", record("h1"))

	d.RegisterHandler("cmd.raise", HandlerFunc(func(ctx context.Context, cmd Command) (any, []DomainEvent, error) {
		return nil, []DomainEvent{
			testEvent{name: "ev.first", agg: "a"},
			testEvent{name: "ev.second", agg: "a"},
		}, nil
	}))

	if _, err := d.Send(context.Background(), testCommand{ID: "1", name: "cmd.raise"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	want := []string{"h1:ev.first", "h2:ev.first", "h1:ev.second"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}

func TestDomainEventHandlerFailureRollsBackCommand(t *testing.T) {
	store := newKVStore()
	d, outboxStore, _ := newTestDispatcher(t, store)

	d.RegisterHandler("cmd.raise", HandlerFunc(func(ctx context.Context, cmd Command) (any, []DomainEvent, error) {
		store.data["written"] = "yes"
		return nil, []DomainEvent{testEvent{name: "ev.boom", agg: "a"}}, nil
	}))
	d.RegisterDomainEventHandler("ev.boom", DomainEventHandlerFunc(func(ctx context.Context, event DomainEvent) error {
		return errors.New("event handler exploded")
	}))
	d.RegisterConverter(testConverter{eventName: "ev.boom", topic: "boom.topic"})

	_, err := d.Send(context.Background(), testCommand{ID: "1", name: "cmd.raise"})
	if err == nil {
		t.Fatal("expected event handler error to fail the command")
	}
	if _, ok := store.data["written"]; ok {
		t.Fatal("handler mutation should have been rolled back")
	}
	if got := len(outboxStore.Messages()); got != 0 {
		t.Fatalf("expected empty outbox, got %d rows", got)
	}
}

func TestNestedSendJoinsTransactionAndSkipsLock(t *testing.T) {
	store := newKVStore()
	d, _, lockProvider := newTestDispatcher(t, store)

	d.RegisterHandler("cmd.child", HandlerFunc(func(ctx context.Context, cmd Command) (any, []DomainEvent, error) {
		store.data["child"] = "yes"
		return nil, nil, nil
	}))
	d.RegisterHandler("cmd.parent", HandlerFunc(func(ctx context.Context, cmd Command) (any, []DomainEvent, error) {
		store.data["parent"] = "yes"
		return nil, []DomainEvent{testEvent{name: "ev.parent", agg: "agg-1"}}, nil
	}))
	d.RegisterDomainEventHandler("ev.parent", DomainEventHandlerFunc(func(ctx context.Context, event DomainEvent) error {
		// The child names the same resource; a real acquire would block
		// against the parent's lock.
		_, err := d.Send(ctx, testCommand{ID: "2", name: "cmd.child", key: "agg:agg-1"})
		return err
	}))

	if _, err := d.Send(context.Background(), testCommand{ID: "1", name: "cmd.parent", key: "agg:agg-1"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if store.data["parent"] != "yes" || store.data["child"] != "yes" {
		t.Fatalf("expected both mutations committed, got %v", store.data)
	}

	// The parent's lock was released on the way out.
	if _, err := lockProvider.Acquire(context.Background(), "agg:agg-1", time.Second); err != nil {
		t.Fatalf("lock should be free after dispatch: %v", err)
	}
}

func TestNestedSendFailureRollsBackParent(t *testing.T) {
	store := newKVStore()
	d, _, _ := newTestDispatcher(t, store)

	d.RegisterHandler("cmd.child", HandlerFunc(func(ctx context.Context, cmd Command) (any, []DomainEvent, error) {
		store.data["child"] = "yes"
		return nil, nil, errors.New("child exploded")
	}))
	d.RegisterHandler("cmd.parent", HandlerFunc(func(ctx context.Context, cmd Command) (any, []DomainEvent, error) {
		store.data["parent"] = "yes"
		return nil, []DomainEvent{testEvent{name: "ev.parent", agg: "agg-1"}}, nil
	}))
	d.RegisterDomainEventHandler("ev.parent", DomainEventHandlerFunc(func(ctx context.Context, event DomainEvent) error {
		_, err := d.Send(ctx, testCommand{ID: "2", name: "cmd.child"})
		return err
	}))

	_, err := d.Send(context.Background(), testCommand{ID: "1", name: "cmd.parent"})
	if err == nil {
		t.Fatal("expected nested failure to surface")
	}
	if len(store.data) != 0 {
		t.Fatalf("expected full rollback, got %v", store.data)
	}
}

func TestOutboxAppendFillsEnvelopeDefaults(t *testing.T) {
	d, outboxStore, _ := newTestDispatcher(t)

	d.RegisterHandler("cmd.raise", HandlerFunc(func(ctx context.Context, cmd Command) (any, []DomainEvent, error) {
		return nil, []DomainEvent{testEvent{name: "ev.converted", agg: "agg-42"}}, nil
	}))
	d.RegisterConverter(testConverter{eventName: "ev.converted", topic: "converted.topic"})

	if _, err := d.Send(context.Background(), testCommand{ID: "1", name: "cmd.raise"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	msgs := outboxStore.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected one outbox row, got %d", len(msgs))
	}
	msg := msgs[0]
	if msg.Topic != "converted.topic" {
		t.Fatalf("unexpected topic %q", msg.Topic)
	}
	if msg.PartitionKey != "agg-42" {
		t.Fatalf("partition key should default to the aggregate id, got %q", msg.PartitionKey)
	}
	if msg.Status != outbox.StatusPending {
		t.Fatalf("unexpected status %q", msg.Status)
	}

	env, err := events.Unmarshal(msg.Payload)
	if err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.EventID == "" || env.OccurredAt.IsZero() {
		t.Fatalf("dispatcher should fill event id and occurred at: %+v", env)
	}
	if env.SourceService != "steward-test" {
		t.Fatalf("unexpected source service %q", env.SourceService)
	}
	if env.SchemaVersion != 1 {
		t.Fatalf("unexpected schema version %d", env.SchemaVersion)
	}
}

func TestConcurrentSendsOnSameKeySerializeAndLastWriteWins(t *testing.T) {
	store := newKVStore()
	outboxStore := outbox.NewMemoryStore()
	lockProvider := locks.NewMemoryProvider()
	d := NewDispatcher(Config{
		UnitOfWork:    NewMemoryUnitOfWork(outboxStore, store),
		Locks:         lockProvider,
		Outbox:        outboxStore,
		SourceService: "steward-test",
		LockTTL:       time.Second,
		LockWait:      2 * time.Second,
	})

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	var completed []string
	release := make(chan struct{})
	firstRunning := make(chan struct{})

	d.RegisterHandler("cmd.write", HandlerFunc(func(ctx context.Context, cmd Command) (any, []DomainEvent, error) {
		c := cmd.(testCommand)
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		if c.ID == "first" {
			close(firstRunning)
			<-release
		}

		mu.Lock()
		store.data["owner"] = c.ID
		completed = append(completed, c.ID)
		inFlight--
		mu.Unlock()
		return nil, nil, nil
	}))

	errs := make(chan error, 2)
	go func() {
		_, err := d.Send(context.Background(), testCommand{ID: "first", name: "cmd.write", key: "agg:1"})
		errs <- err
	}()
	<-firstRunning

	// The second command targets the same key while the first still holds
	// the lock: it must wait in the acquire loop, not fail fast.
	go func() {
		_, err := d.Send(context.Background(), testCommand{ID: "second", name: "cmd.write", key: "agg:1"})
		errs <- err
	}()
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	if len(completed) != 0 {
		mu.Unlock()
		t.Fatal("second command ran before the lock was released")
	}
	mu.Unlock()

	close(release)
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("send %d failed: %v", i+1, err)
		}
	}

	if maxInFlight != 1 {
		t.Fatalf("handlers overlapped, max in flight %d", maxInFlight)
	}
	if len(completed) != 2 || completed[0] != "first" || completed[1] != "second" {
		t.Fatalf("unexpected completion order %v", completed)
	}
	if store.data["owner"] != "second" {
		t.Fatalf("last writer must win, owner is %q", store.data["owner"])
	}
}

func TestSendLockContention(t *testing.T) {
	d, _, lockProvider := newTestDispatcher(t)

	uowCalls := 0
	d.RegisterHandler("cmd.locked", HandlerFunc(func(ctx context.Context, cmd Command) (any, []DomainEvent, error) {
		uowCalls++
		return nil, nil, nil
	}))

	held, err := lockProvider.Acquire(context.Background(), "agg:busy", time.Minute)
	if err != nil {
		t.Fatalf("pre-acquire failed: %v", err)
	}

	_, err = d.Send(context.Background(), testCommand{ID: "1", name: "cmd.locked", key: "agg:busy"})
	if !errors.Is(err, ErrLockContention) {
		t.Fatalf("expected ErrLockContention, got %v", err)
	}
	if uowCalls != 0 {
		t.Fatal("handler must not run when the lock is held elsewhere")
	}

	if err := lockProvider.Release(context.Background(), held); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if _, err := d.Send(context.Background(), testCommand{ID: "1", name: "cmd.locked", key: "agg:busy"}); err != nil {
		t.Fatalf("send after release failed: %v", err)
	}
	if uowCalls != 1 {
		t.Fatalf("expected one handler run, got %d", uowCalls)
	}
}

type expiredLockProvider struct {
	locks.Provider
}

func (p expiredLockProvider) Validate(context.Context, locks.Handle) error {
	return locks.ErrNotHeld
}

func TestFencingFailureAbortsCommit(t *testing.T) {
	store := newKVStore()
	outboxStore := outbox.NewMemoryStore()
	d := NewDispatcher(Config{
		UnitOfWork: NewMemoryUnitOfWork(store, outboxStore),
		Locks:      expiredLockProvider{locks.NewMemoryProvider()},
		Outbox:     outboxStore,
		LockTTL:    time.Second,
		LockWait:   50 * time.Millisecond,
	})
	d.RegisterHandler("cmd.fenced", HandlerFunc(func(ctx context.Context, cmd Command) (any, []DomainEvent, error) {
		store.data["written"] = "yes"
		return nil, nil, nil
	}))

	_, err := d.Send(context.Background(), testCommand{ID: "1", name: "cmd.fenced", key: "agg:fenced"})
	if !errors.Is(err, ErrLockContention) {
		t.Fatalf("expected lock contention on expired fence, got %v", err)
	}
	if len(store.data) != 0 {
		t.Fatalf("expected rollback on fence failure, got %v", store.data)
	}
}

func TestSendHandlerNotFound(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	_, err := d.Send(context.Background(), testCommand{ID: "1", name: "cmd.unknown"})
	if !errors.Is(err, ErrHandlerNotFound) {
		t.Fatalf("expected ErrHandlerNotFound, got %v", err)
	}
}

func TestTypedSendAssertsResult(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	d.RegisterHandler("cmd.result", HandlerFunc(func(ctx context.Context, cmd Command) (any, []DomainEvent, error) {
		return 42, nil, nil
	}))

	got, err := Send[int](context.Background(), d, testCommand{ID: "1", name: "cmd.result"})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}

	if _, err := Send[string](context.Background(), d, testCommand{ID: "1", name: "cmd.result"}); err == nil {
		t.Fatal("expected type assertion failure")
	}
}

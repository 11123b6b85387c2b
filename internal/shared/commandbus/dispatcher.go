package commandbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"steward/internal/shared/locks"
	"steward/internal/shared/outbox"
)

type dispatchKey struct{}

// Config carries the dispatcher's collaborators and tunables. Locks and
// Outbox are optional: without a lock provider commands run unserialized
// (single-instance wiring), without an outbox appender converted events are
// a registration error at dispatch time.
type Config struct {
	UnitOfWork    UnitOfWork
	Locks         locks.Provider
	Outbox        outbox.Appender
	SourceService string
	LockTTL       time.Duration
	LockWait      time.Duration
	Logger        *slog.Logger
}

// Dispatcher is the sole entry point for state changes. Send runs one
// command through validation, resource locking, a unit-of-work transaction,
// the handler, synchronous domain-event fan-out, and outbox conversion.
// A command either fully applies or has no observable effect.
type Dispatcher struct {
	mu            sync.RWMutex
	handlers      map[string]Handler
	eventHandlers map[string][]DomainEventHandler
	converters    map[string]IntegrationEventConverter

	uow      UnitOfWork
	locks    locks.Provider
	outbox   outbox.Appender
	validate *validator.Validate
	source   string
	lockTTL  time.Duration
	lockWait time.Duration
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger
}

func NewDispatcher(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	lockWait := cfg.LockWait
	if lockWait <= 0 {
		lockWait = 5 * time.Second
	}
	return &Dispatcher{
		handlers:      make(map[string]Handler),
		eventHandlers: make(map[string][]DomainEventHandler),
		converters:    make(map[string]IntegrationEventConverter),
		uow:           cfg.UnitOfWork,
		locks:         cfg.Locks,
		outbox:        cfg.Outbox,
		validate:      validator.New(),
		source:        cfg.SourceService,
		lockTTL:       lockTTL,
		lockWait:      lockWait,
		now:           time.Now,
		newID:         uuid.NewString,
		logger:        logger,
	}
}

// RegisterHandler binds a command name to its handler. Startup-time only.
func (d *Dispatcher) RegisterHandler(commandName string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[commandName] = h
}

// RegisterDomainEventHandler appends an in-process handler for a domain
// event name. Handlers run in registration order.
func (d *Dispatcher) RegisterDomainEventHandler(eventName string, h DomainEventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.eventHandlers[eventName] = append(d.eventHandlers[eventName], h)
}

// RegisterConverter binds a domain event name to its integration event
// converter. At most one converter per event name; later wins.
func (d *Dispatcher) RegisterConverter(conv IntegrationEventConverter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.converters[conv.DomainEventName()] = conv
}

// Send dispatches one command and returns the handler's result.
//
// Nested sends (from a domain-event handler) join the ambient transaction
// and skip lock acquisition; serialization belongs to the root command.
func (d *Dispatcher) Send(ctx context.Context, cmd Command) (any, error) {
	handler, err := d.handlerFor(cmd)
	if err != nil {
		return nil, err
	}
	if err := d.validateCommand(cmd); err != nil {
		return nil, err
	}

	if nested, _ := ctx.Value(dispatchKey{}).(bool); nested {
		return d.execute(ctx, cmd, handler, locks.Handle{})
	}

	handle := locks.Handle{}
	if key := cmd.ResourceKey(); key != "" && d.locks != nil {
		handle, err = d.acquireLock(ctx, key)
		if err != nil {
			return nil, err
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if err := d.locks.Release(releaseCtx, handle); err != nil && !errors.Is(err, locks.ErrNotHeld) {
				d.logger.Warn("lock release failed",
					"event", "command_lock_release_failed",
					"module", "internal/shared/commandbus",
					"layer", "application",
					"resource_key", handle.Key,
					"error", err.Error(),
				)
			}
		}()
	}

	return d.execute(ctx, cmd, handler, handle)
}

// Send dispatches through d and asserts the result type.
func Send[R any](ctx context.Context, d *Dispatcher, cmd Command) (R, error) {
	var zero R
	result, err := d.Send(ctx, cmd)
	if err != nil {
		return zero, err
	}
	if result == nil {
		return zero, nil
	}
	typed, ok := result.(R)
	if !ok {
		return zero, fmt.Errorf("command %s returned %T", cmd.CommandName(), result)
	}
	return typed, nil
}

func (d *Dispatcher) handlerFor(cmd Command) (Handler, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[cmd.CommandName()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, cmd.CommandName())
	}
	return h, nil
}

func (d *Dispatcher) validateCommand(cmd Command) error {
	if err := d.validate.Struct(cmd); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			violations := make([]FieldViolation, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				violations = append(violations, FieldViolation{Field: fe.Field(), Rule: fe.Tag()})
			}
			return &ValidationError{Command: cmd.CommandName(), Violations: violations}
		}
		return &ValidationError{Command: cmd.CommandName(), cause: err}
	}
	if v, ok := cmd.(Validator); ok {
		if err := v.Validate(); err != nil {
			return &ValidationError{Command: cmd.CommandName(), cause: err}
		}
	}
	return nil
}

// acquireLock retries a non-blocking acquire with a short doubling backoff
// until the lock wait or the caller deadline runs out.
func (d *Dispatcher) acquireLock(ctx context.Context, key string) (locks.Handle, error) {
	deadline := d.now().Add(d.lockWait)
	backoff := 10 * time.Millisecond

	for {
		handle, err := d.locks.Acquire(ctx, key, d.lockTTL)
		if err == nil {
			return handle, nil
		}
		if !errors.Is(err, locks.ErrBusy) {
			return locks.Handle{}, fmt.Errorf("acquire lock for %q: %w", key, err)
		}
		if !d.now().Add(backoff).Before(deadline) {
			return locks.Handle{}, fmt.Errorf("%w: %s", ErrLockContention, key)
		}
		select {
		case <-ctx.Done():
			return locks.Handle{}, fmt.Errorf("%w: %s: %v", ErrLockContention, key, ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < 160*time.Millisecond {
			backoff *= 2
		}
	}
}

func (d *Dispatcher) execute(ctx context.Context, cmd Command, handler Handler, handle locks.Handle) (any, error) {
	var result any
	err := d.uow.Do(ctx, func(txCtx context.Context) error {
		txCtx = context.WithValue(txCtx, dispatchKey{}, true)

		res, raised, err := handler.Handle(txCtx, cmd)
		if err != nil {
			return err
		}
		result = res

		if err := d.dispatchDomainEvents(txCtx, raised); err != nil {
			return err
		}
		if err := d.appendIntegrationEvents(txCtx, raised); err != nil {
			return err
		}

		// Fencing: refuse to commit under a lock someone else may hold now.
		if handle.Owner != "" {
			if err := d.locks.Validate(txCtx, handle); err != nil {
				return fmt.Errorf("%w: lock expired before commit: %s", ErrLockContention, handle.Key)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.logger.Debug("command applied",
		"event", "command_applied",
		"module", "internal/shared/commandbus",
		"layer", "application",
		"command", cmd.CommandName(),
		"resource_key", cmd.ResourceKey(),
	)
	return result, nil
}

// dispatchDomainEvents fans out synchronously, in the order events were
// raised; all handlers for one event run before the next event. A handler
// error aborts the command and rolls back the transaction.
func (d *Dispatcher) dispatchDomainEvents(ctx context.Context, raised []DomainEvent) error {
	for _, event := range raised {
		d.mu.RLock()
		handlers := append([]DomainEventHandler(nil), d.eventHandlers[event.EventName()]...)
		d.mu.RUnlock()

		for _, h := range handlers {
			if err := h.HandleEvent(ctx, event); err != nil {
				return fmt.Errorf("domain event %s: %w", event.EventName(), err)
			}
		}
	}
	return nil
}

// appendIntegrationEvents writes exactly one outbox row per raised event
// that has a registered converter, inside the ambient transaction.
func (d *Dispatcher) appendIntegrationEvents(ctx context.Context, raised []DomainEvent) error {
	for _, event := range raised {
		d.mu.RLock()
		conv, ok := d.converters[event.EventName()]
		d.mu.RUnlock()
		if !ok {
			continue
		}

		envelope, err := conv.Convert(event)
		if err != nil {
			return fmt.Errorf("convert %s: %w", event.EventName(), err)
		}
		if envelope.EventID == "" {
			envelope.EventID = d.newID()
		}
		if envelope.OccurredAt.IsZero() {
			envelope.OccurredAt = d.now().UTC()
		}
		if envelope.SourceService == "" {
			envelope.SourceService = d.source
		}
		if envelope.PartitionKey == "" {
			envelope.PartitionKey = event.AggregateID()
		}
		if envelope.SchemaVersion == 0 {
			envelope.SchemaVersion = 1
		}

		payload, err := envelope.Marshal()
		if err != nil {
			return fmt.Errorf("marshal %s: %w", envelope.EventType, err)
		}
		if d.outbox == nil {
			return fmt.Errorf("converter registered for %s but no outbox appender configured", event.EventName())
		}
		if err := d.outbox.Append(ctx, outbox.Message{
			ID:           envelope.EventID,
			Topic:        envelope.EventType,
			PartitionKey: envelope.PartitionKey,
			Payload:      payload,
			Status:       outbox.StatusPending,
			CreatedAt:    envelope.OccurredAt,
		}); err != nil {
			return fmt.Errorf("append outbox row for %s: %w", envelope.EventType, err)
		}
	}
	return nil
}

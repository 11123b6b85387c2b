package commandbus

import (
	"context"
	"fmt"

	"steward/internal/shared/events"
)

// Command is an intent to change state, dispatched through one pipeline.
// A command is immutable once handed to Send.
type Command interface {
	// CommandName keys the handler registration table.
	CommandName() string
	// ResourceKey is the logical id the command serializes on. Empty means
	// the command is independent and dispatch skips locking.
	ResourceKey() string
}

// Validator is implemented by commands that carry invariants beyond what
// struct tags can express. It runs after tag validation, before any lock
// or transaction.
type Validator interface {
	Validate() error
}

// DomainEvent is an in-process fact raised by a successful handler
// execution. It is consumed within the surrounding transaction and never
// persisted directly.
type DomainEvent interface {
	EventName() string
	AggregateID() string
}

// Handler executes one command's business logic. It returns the command's
// result plus the domain events the mutation raised, in the order they
// were raised. Handlers never commit; the dispatcher owns the transaction.
type Handler interface {
	Handle(ctx context.Context, cmd Command) (any, []DomainEvent, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, cmd Command) (any, []DomainEvent, error)

func (f HandlerFunc) Handle(ctx context.Context, cmd Command) (any, []DomainEvent, error) {
	return f(ctx, cmd)
}

// TypedHandler adapts a use case's typed execute function to the Handler
// contract. Dispatching a command of the wrong concrete type is a
// programming error and surfaces as a handler failure.
func TypedHandler[C Command, R any](execute func(context.Context, C) (R, []DomainEvent, error)) Handler {
	return HandlerFunc(func(ctx context.Context, cmd Command) (any, []DomainEvent, error) {
		c, ok := cmd.(C)
		if !ok {
			return nil, nil, fmt.Errorf("handler for %s: unexpected command %T", cmd.CommandName(), cmd)
		}
		result, domainEvents, err := execute(ctx, c)
		if err != nil {
			return nil, nil, err
		}
		return result, domainEvents, nil
	})
}

// DomainEventHandler reacts to a domain event inside the originating
// command's transaction. It may dispatch further commands through the same
// dispatcher; those join the ambient transaction.
type DomainEventHandler interface {
	HandleEvent(ctx context.Context, event DomainEvent) error
}

// DomainEventHandlerFunc adapts a function to DomainEventHandler.
type DomainEventHandlerFunc func(ctx context.Context, event DomainEvent) error

func (f DomainEventHandlerFunc) HandleEvent(ctx context.Context, event DomainEvent) error {
	return f(ctx, event)
}

// IntegrationEventConverter maps a domain event to its external
// representation. One converter per domain event name; a domain event
// without a converter stays process-local.
type IntegrationEventConverter interface {
	// DomainEventName names the domain event this converter consumes.
	DomainEventName() string
	// Convert builds the envelope. EventID and OccurredAt may be left zero;
	// the dispatcher fills them before the outbox append.
	Convert(event DomainEvent) (events.Envelope, error)
}

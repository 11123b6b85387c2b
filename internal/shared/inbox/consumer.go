package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"steward/internal/shared/commandbus"
	"steward/internal/shared/events"
)

// CommandMapper turns a consumed integration event into the command that
// applies it locally. One mapper per topic, registered at startup.
type CommandMapper func(envelope events.Envelope) (commandbus.Command, error)

// Sender is the dispatch entry point the consumer re-enters.
type Sender interface {
	Send(ctx context.Context, cmd commandbus.Command) (any, error)
}

// Consumer is the broker-side entry point. Each delivery is deduplicated
// against the idempotency store, mapped to a command, and executed in one
// transaction together with its idempotency record. Duplicate deliveries
// ack without side effects; they are the expected steady state of
// at-least-once transport, not an error.
type Consumer struct {
	Dispatcher  Sender
	Idempotency Store
	UnitOfWork  commandbus.UnitOfWork
	Group       string
	Clock       func() time.Time
	Logger      *slog.Logger

	mu      sync.RWMutex
	mappers map[string]CommandMapper
}

// RegisterMapper binds a topic to its command mapper. Startup-time only.
func (c *Consumer) RegisterMapper(topic string, mapper CommandMapper) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mappers == nil {
		c.mappers = make(map[string]CommandMapper)
	}
	c.mappers[topic] = mapper
}

// Start subscribes every registered topic on the given subscriber.
func (c *Consumer) Start(ctx context.Context, subscriber Subscriber) error {
	c.mu.RLock()
	topics := make([]string, 0, len(c.mappers))
	for topic := range c.mappers {
		topics = append(topics, topic)
	}
	c.mu.RUnlock()

	for _, topic := range topics {
		topic := topic
		err := subscriber.Subscribe(ctx, topic, c.Group,
			func(ctx context.Context, messageID string, payload []byte) error {
				return c.OnMessage(ctx, topic, messageID, payload)
			})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}
	return nil
}

// OnMessage processes one delivery. A nil return means ack; an error means
// nack and broker redelivery.
func (c *Consumer) OnMessage(ctx context.Context, topic string, messageID string, payload []byte) error {
	logger := c.logger()

	envelope, err := events.Unmarshal(payload)
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", topic, err)
	}
	if messageID == "" {
		messageID = envelope.EventID
	}
	if messageID == "" {
		return fmt.Errorf("%s delivery carries no message id", topic)
	}

	seen, err := c.Idempotency.Seen(ctx, messageID)
	if err != nil {
		return fmt.Errorf("idempotency lookup for %s: %w", messageID, err)
	}
	if seen {
		logger.Debug("duplicate delivery acked",
			"event", "consumer_duplicate_delivery",
			"module", "internal/shared/inbox",
			"layer", "worker",
			"topic", topic,
			"message_id", messageID,
		)
		return nil
	}

	c.mu.RLock()
	mapper, ok := c.mappers[topic]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no command mapper registered for topic %s", topic)
	}
	cmd, err := mapper(envelope)
	if err != nil {
		return fmt.Errorf("map %s to command: %w", topic, err)
	}

	// The transaction opens before the dispatched command takes its
	// resource lock, the reverse of the HTTP path's lock-then-transaction
	// order. That is deliberate: the idempotency record must commit with
	// the command's effects. With the memory unit of work, which holds one
	// global mutex per transaction, a lock holder on another path can make
	// this Send wait out its lock budget; it cannot deadlock, because the
	// lock acquire gives up at LockWait and rolls this transaction back.
	err = c.UnitOfWork.Do(ctx, func(txCtx context.Context) error {
		if _, err := c.Dispatcher.Send(txCtx, cmd); err != nil {
			return err
		}
		return c.Idempotency.Record(txCtx, messageID, c.now())
	})
	if errors.Is(err, commandbus.ErrDuplicateMessage) {
		// Lost the race against a concurrent delivery of the same message;
		// that delivery's commit carries the side effects.
		return nil
	}
	if err != nil {
		logger.Error("consumer processing failed",
			"event", "consumer_processing_failed",
			"module", "internal/shared/inbox",
			"layer", "worker",
			"topic", topic,
			"message_id", messageID,
			"command", cmd.CommandName(),
			"error", err.Error(),
		)
		return err
	}

	logger.Info("integration event consumed",
		"event", "consumer_event_applied",
		"module", "internal/shared/inbox",
		"layer", "worker",
		"topic", topic,
		"message_id", messageID,
		"command", cmd.CommandName(),
	)
	return nil
}

func (c *Consumer) now() time.Time {
	if c.Clock != nil {
		return c.Clock().UTC()
	}
	return time.Now().UTC()
}

func (c *Consumer) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

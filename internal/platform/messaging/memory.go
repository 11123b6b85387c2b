package messaging

import (
	"context"
	"log/slog"
	"sync"
)

type delivery struct {
	messageID string
	payload   []byte
}

// MemoryBroker is an in-process publish/subscribe adapter used in tests and
// single-node wiring. It emulates an at-least-once broker: a nacked
// delivery is retried a bounded number of times before it is dropped, the
// way a real broker would dead-letter it.
type MemoryBroker struct {
	mu            sync.RWMutex
	subscribers   map[string][]chan delivery
	maxDeliveries int
	logger        *slog.Logger
}

func NewMemoryBroker(logger *slog.Logger) *MemoryBroker {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryBroker{
		subscribers:   make(map[string][]chan delivery),
		maxDeliveries: 5,
		logger:        logger,
	}
}

// Publish hands the delivery to every subscriber of the topic. The caller's
// messageID rides along unchanged, so a republished outbox row keeps the
// dedup key of its first delivery. A slow subscriber backpressures the
// publisher instead of losing the delivery; only context cancellation
// aborts, and then with an error so the row is not marked published.
func (b *MemoryBroker) Publish(ctx context.Context, topic string, partitionKey string, messageID string, payload []byte) error {
	b.mu.RLock()
	subs := append([]chan delivery(nil), b.subscribers[topic]...)
	b.mu.RUnlock()

	msg := delivery{messageID: messageID, payload: payload}
	for _, sub := range subs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sub <- msg:
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(
	ctx context.Context,
	topic string,
	group string,
	handler func(ctx context.Context, messageID string, payload []byte) error,
) error {
	ch := make(chan delivery, 128)

	b.mu.Lock()
	b.subscribers[topic] = append(b.subscribers[topic], ch)
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				b.removeSubscriber(topic, ch)
				return
			case msg := <-ch:
				b.deliver(ctx, topic, group, msg, handler)
			}
		}
	}()
	return nil
}

func (b *MemoryBroker) deliver(
	ctx context.Context,
	topic string,
	group string,
	msg delivery,
	handler func(ctx context.Context, messageID string, payload []byte) error,
) {
	for attempt := 1; attempt <= b.maxDeliveries; attempt++ {
		if err := handler(ctx, msg.messageID, msg.payload); err == nil {
			return
		} else if attempt == b.maxDeliveries {
			b.logger.Error("delivery exhausted redelivery budget",
				"event", "memory_broker_delivery_dropped",
				"module", "internal/platform/messaging",
				"layer", "platform",
				"topic", topic,
				"consumer_group", group,
				"message_id", msg.messageID,
				"attempts", attempt,
				"error", err.Error(),
			)
		}
	}
}

func (b *MemoryBroker) removeSubscriber(topic string, target chan delivery) {
	b.mu.Lock()
	defer b.mu.Unlock()

	items := b.subscribers[topic]
	if len(items) == 0 {
		return
	}
	filtered := make([]chan delivery, 0, len(items))
	for _, item := range items {
		if item != target {
			filtered = append(filtered, item)
		}
	}
	b.subscribers[topic] = filtered
}

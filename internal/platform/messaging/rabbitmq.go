package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"
)

// RabbitMQBroker adapts a topic exchange to the publish/subscribe contract
// the relay and consumer use. Deliveries are manually acknowledged: a
// handler error nacks with requeue and the broker's policy owns redelivery
// and dead-lettering.
type RabbitMQBroker struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *slog.Logger
}

func NewRabbitMQBroker(url string, exchange string, logger *slog.Logger) (*RabbitMQBroker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &RabbitMQBroker{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		logger:   logger,
	}, nil
}

func (b *RabbitMQBroker) Publish(_ context.Context, topic string, partitionKey string, messageID string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.channel.Publish(b.exchange, topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    messageID,
		Body:         payload,
		DeliveryMode: amqp.Persistent,
		Headers:      amqp.Table{"partition_key": partitionKey},
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (b *RabbitMQBroker) Subscribe(
	ctx context.Context,
	topic string,
	group string,
	handler func(ctx context.Context, messageID string, payload []byte) error,
) error {
	queueName := group + "." + topic
	queue, err := b.channel.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queueName, err)
	}
	if err := b.channel.QueueBind(queue.Name, topic, b.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s to %s: %w", queueName, topic, err)
	}

	deliveries, err := b.channel.Consume(queue.Name, group, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queueName, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, open := <-deliveries:
				if !open {
					return
				}
				if err := handler(ctx, msg.MessageId, msg.Body); err != nil {
					b.logger.Warn("delivery nacked",
						"event", "rabbitmq_delivery_nacked",
						"module", "internal/platform/messaging",
						"layer", "platform",
						"topic", topic,
						"consumer_group", group,
						"message_id", msg.MessageId,
						"error", err.Error(),
					)
					_ = msg.Nack(false, true)
					continue
				}
				_ = msg.Ack(false)
			}
		}
	}()
	return nil
}

func (b *RabbitMQBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.channel != nil {
		_ = b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

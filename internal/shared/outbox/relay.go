package outbox

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// Publisher is the broker contract the relay publishes through. An error
// counts as a failed attempt; the broker ack is the nil return. The
// messageID is the outbox row id: it must survive republication unchanged
// so consumer-side deduplication keys stay stable.
type Publisher interface {
	Publish(ctx context.Context, topic string, partitionKey string, messageID string, payload []byte) error
}

// Relay drains the outbox. It claims due rows, publishes them to the
// broker, and finalizes each row: Published on ack, Pending with backoff on
// failure, DeadLettered once the retry budget is spent.
//
// Rows sharing a partition key publish in creation order; a failure parks
// the rest of that key's batch so order survives the retry.
type Relay struct {
	Store           Store
	Publisher       Publisher
	BatchSize       int
	MaxRetries      int
	InitialBackoff  time.Duration
	PollInterval    time.Duration
	ClaimStaleAfter time.Duration
	Clock           func() time.Time
	Logger          *slog.Logger
}

// Run polls until the context is canceled.
func (r Relay) Run(ctx context.Context) error {
	interval := r.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				r.logger().Error("outbox relay cycle failed",
					"event", "outbox_relay_cycle_failed",
					"module", "internal/shared/outbox",
					"layer", "worker",
					"error", err.Error(),
				)
			}
		}
	}
}

// RunOnce claims and processes a single batch.
func (r Relay) RunOnce(ctx context.Context) error {
	logger := r.logger()
	now := r.now()

	batchSize := r.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	staleAfter := r.ClaimStaleAfter
	if staleAfter <= 0 {
		staleAfter = time.Minute
	}

	claimed, err := r.Store.Claim(ctx, batchSize, now, staleAfter)
	if err != nil {
		return err
	}
	if len(claimed) == 0 {
		return nil
	}

	published := 0
	blocked := make(map[string]bool)
	for _, msg := range claimed {
		if msg.PartitionKey != "" && blocked[msg.PartitionKey] {
			// An earlier row for this key failed; requeue untouched so the
			// key's creation order holds across the retry window.
			if err := r.Store.Requeue(ctx, msg.ID, msg.Version, now); err != nil {
				logger.Error("outbox requeue failed",
					"event", "outbox_requeue_failed",
					"module", "internal/shared/outbox",
					"layer", "worker",
					"message_id", msg.ID,
					"error", err.Error(),
				)
			}
			continue
		}

		if err := r.Publisher.Publish(ctx, msg.Topic, msg.PartitionKey, msg.ID, msg.Payload); err != nil {
			if msg.PartitionKey != "" {
				blocked[msg.PartitionKey] = true
			}
			r.handlePublishFailure(ctx, msg, now, err)
			continue
		}

		// Publish-then-mark: a row only ever reads Published after the
		// broker acked it.
		if err := r.Store.MarkPublished(ctx, msg.ID, msg.Version, now); err != nil {
			logger.Error("outbox mark published failed",
				"event", "outbox_mark_published_failed",
				"module", "internal/shared/outbox",
				"layer", "worker",
				"message_id", msg.ID,
				"topic", msg.Topic,
				"error", err.Error(),
			)
			continue
		}
		published++
	}

	if published > 0 {
		logger.Info("outbox relay cycle completed",
			"event", "outbox_relay_completed",
			"module", "internal/shared/outbox",
			"layer", "worker",
			"claimed_count", len(claimed),
			"published_count", published,
		)
	}
	return nil
}

func (r Relay) handlePublishFailure(ctx context.Context, msg Message, now time.Time, cause error) {
	logger := r.logger()
	maxRetries := r.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}

	if msg.RetryCount >= maxRetries {
		if err := r.Store.MarkDeadLettered(ctx, msg.ID, msg.Version, cause.Error()); err != nil {
			logger.Error("outbox dead-letter transition failed",
				"event", "outbox_dead_letter_failed",
				"module", "internal/shared/outbox",
				"layer", "worker",
				"message_id", msg.ID,
				"error", err.Error(),
			)
			return
		}
		logger.Error("outbox message dead-lettered",
			"event", "outbox_dead_lettered",
			"module", "internal/shared/outbox",
			"layer", "worker",
			"message_id", msg.ID,
			"topic", msg.Topic,
			"retry_count", msg.RetryCount,
			"error", cause.Error(),
		)
		return
	}

	next := now.Add(r.backoff(msg.RetryCount))
	if err := r.Store.Reschedule(ctx, msg.ID, msg.Version, next, cause.Error()); err != nil {
		logger.Error("outbox reschedule failed",
			"event", "outbox_reschedule_failed",
			"module", "internal/shared/outbox",
			"layer", "worker",
			"message_id", msg.ID,
			"error", err.Error(),
		)
		return
	}
	logger.Warn("outbox publish failed, rescheduled",
		"event", "outbox_publish_retry",
		"module", "internal/shared/outbox",
		"layer", "worker",
		"message_id", msg.ID,
		"topic", msg.Topic,
		"retry_count", msg.RetryCount+1,
		"next_attempt_at", next,
		"error", cause.Error(),
	)
}

// backoff doubles per retry with ±20% jitter to spread retry storms.
func (r Relay) backoff(retryCount int) time.Duration {
	base := r.InitialBackoff
	if base <= 0 {
		base = time.Second
	}
	delay := base << uint(retryCount)
	if delay > 5*time.Minute {
		delay = 5 * time.Minute
	}
	jitter := 1 + (rand.Float64()*0.4 - 0.2)
	return time.Duration(float64(delay) * jitter)
}

func (r Relay) now() time.Time {
	if r.Clock != nil {
		return r.Clock().UTC()
	}
	return time.Now().UTC()
}

func (r Relay) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

package db

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"steward/internal/shared/outbox"
)

type outboxRow struct {
	ID            string    `gorm:"type:uuid;primaryKey"`
	Topic         string    `gorm:"size:200;not null"`
	PartitionKey  string    `gorm:"size:200;not null;index:idx_outbox_partition_order,priority:1"`
	Payload       []byte    `gorm:"type:jsonb;not null"`
	Status        string    `gorm:"size:20;not null;index"`
	RetryCount    int       `gorm:"not null;default:0"`
	Version       int64     `gorm:"not null;default:0"`
	CreatedAt     time.Time `gorm:"not null;index:idx_outbox_partition_order,priority:2"`
	NextAttemptAt time.Time `gorm:"not null;index"`
	PublishedAt   *time.Time
	LastError     string    `gorm:"type:text"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (outboxRow) TableName() string { return "outbox_messages" }

func (r outboxRow) toMessage() outbox.Message {
	return outbox.Message{
		ID:            r.ID,
		Topic:         r.Topic,
		PartitionKey:  r.PartitionKey,
		Payload:       r.Payload,
		Status:        outbox.Status(r.Status),
		RetryCount:    r.RetryCount,
		Version:       r.Version,
		CreatedAt:     r.CreatedAt,
		NextAttemptAt: r.NextAttemptAt,
		PublishedAt:   r.PublishedAt,
		LastError:     r.LastError,
	}
}

// OutboxStore implements outbox.Store on Postgres. Append joins the
// caller's ambient transaction; the relay-side transitions run their own
// short transactions guarded by the row version.
type OutboxStore struct {
	db *gorm.DB
}

func NewOutboxStore(pg *Postgres) *OutboxStore {
	return &OutboxStore{db: pg.DB}
}

// OutboxModels lists the models Migrate needs for the outbox tables.
func OutboxModels() []any {
	return []any{&outboxRow{}}
}

func (s *OutboxStore) Append(ctx context.Context, msg outbox.Message) error {
	nextAttempt := msg.NextAttemptAt
	if nextAttempt.IsZero() {
		nextAttempt = msg.CreatedAt
	}
	row := outboxRow{
		ID:            msg.ID,
		Topic:         msg.Topic,
		PartitionKey:  msg.PartitionKey,
		Payload:       msg.Payload,
		Status:        string(msg.Status),
		RetryCount:    msg.RetryCount,
		Version:       msg.Version,
		CreatedAt:     msg.CreatedAt,
		NextAttemptAt: nextAttempt,
		UpdatedAt:     msg.CreatedAt,
	}
	if err := Conn(ctx, s.db).Create(&row).Error; err != nil {
		if IsUniqueViolation(err) {
			return outbox.ErrDuplicateID
		}
		return fmt.Errorf("append outbox row: %w", err)
	}
	return nil
}

func (s *OutboxStore) Claim(ctx context.Context, batchSize int, now time.Time, staleAfter time.Duration) ([]outbox.Message, error) {
	var claimed []outbox.Message

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []outboxRow
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("(status = ? AND next_attempt_at <= ?) OR (status = ? AND updated_at < ?)",
				string(outbox.StatusPending), now,
				string(outbox.StatusPublishing), now.Add(-staleAfter)).
			Order("partition_key, created_at").
			Limit(batchSize).
			Find(&rows).Error
		if err != nil {
			return err
		}

		for _, row := range rows {
			result := tx.Model(&outboxRow{}).
				Where("id = ? AND version = ?", row.ID, row.Version).
				Updates(map[string]any{
					"status":     string(outbox.StatusPublishing),
					"version":    row.Version + 1,
					"updated_at": now,
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				// Another relay instance won the row; leave it to them.
				continue
			}
			row.Status = string(outbox.StatusPublishing)
			row.Version++
			claimed = append(claimed, row.toMessage())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim outbox batch: %w", err)
	}
	return claimed, nil
}

func (s *OutboxStore) MarkPublished(ctx context.Context, id string, version int64, publishedAt time.Time) error {
	return s.transition(ctx, id, version, map[string]any{
		"status":       string(outbox.StatusPublished),
		"published_at": publishedAt,
		"updated_at":   publishedAt,
	})
}

func (s *OutboxStore) Reschedule(ctx context.Context, id string, version int64, nextAttemptAt time.Time, lastError string) error {
	return s.transition(ctx, id, version, map[string]any{
		"status":          string(outbox.StatusPending),
		"retry_count":     gorm.Expr("retry_count + 1"),
		"next_attempt_at": nextAttemptAt,
		"last_error":      lastError,
		"updated_at":      time.Now().UTC(),
	})
}

func (s *OutboxStore) Requeue(ctx context.Context, id string, version int64, nextAttemptAt time.Time) error {
	return s.transition(ctx, id, version, map[string]any{
		"status":          string(outbox.StatusPending),
		"next_attempt_at": nextAttemptAt,
		"updated_at":      time.Now().UTC(),
	})
}

func (s *OutboxStore) MarkDeadLettered(ctx context.Context, id string, version int64, lastError string) error {
	return s.transition(ctx, id, version, map[string]any{
		"status":     string(outbox.StatusDeadLettered),
		"last_error": lastError,
		"updated_at": time.Now().UTC(),
	})
}

func (s *OutboxStore) transition(ctx context.Context, id string, version int64, updates map[string]any) error {
	updates["version"] = version + 1
	result := s.db.WithContext(ctx).Model(&outboxRow{}).
		Where("id = ? AND version = ?", id, version).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("outbox transition: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return outbox.ErrVersionMismatch
	}
	return nil
}

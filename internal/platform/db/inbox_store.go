package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"steward/internal/shared/commandbus"
)

type processedMessageRow struct {
	MessageID   string    `gorm:"size:64;primaryKey"`
	ProcessedAt time.Time `gorm:"not null"`
}

func (processedMessageRow) TableName() string { return "processed_messages" }

// InboxStore implements inbox.Store on Postgres. The primary key on
// message_id is the uniqueness constraint that makes racing deliveries of
// one message collapse to a single committed execution.
type InboxStore struct {
	db *gorm.DB
}

func NewInboxStore(pg *Postgres) *InboxStore {
	return &InboxStore{db: pg.DB}
}

// InboxModels lists the models Migrate needs for the idempotency table.
func InboxModels() []any {
	return []any{&processedMessageRow{}}
}

func (s *InboxStore) Seen(ctx context.Context, messageID string) (bool, error) {
	var row processedMessageRow
	err := Conn(ctx, s.db).Where("message_id = ?", messageID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("idempotency lookup: %w", err)
	}
	return true, nil
}

func (s *InboxStore) Record(ctx context.Context, messageID string, processedAt time.Time) error {
	row := processedMessageRow{MessageID: messageID, ProcessedAt: processedAt}
	if err := Conn(ctx, s.db).Create(&row).Error; err != nil {
		if IsUniqueViolation(err) {
			return commandbus.ErrDuplicateMessage
		}
		return fmt.Errorf("record processed message: %w", err)
	}
	return nil
}

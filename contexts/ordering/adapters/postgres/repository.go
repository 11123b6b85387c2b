package postgresadapter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"steward/contexts/ordering/domain/entities"
	domainerrors "steward/contexts/ordering/domain/errors"
	platformdb "steward/internal/platform/db"
	"steward/internal/shared/commandbus"
)

type orderModel struct {
	OrderID   string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"size:128;not null"`
	Price     int64  `gorm:"not null"`
	Count     int    `gorm:"not null"`
	Status    string `gorm:"size:16;not null;index"`
	Version   int64  `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
	PaidAt    *time.Time
}

func (orderModel) TableName() string { return "orders" }

type deliverRecordModel struct {
	DeliverRecordID string `gorm:"primaryKey;size:64"`
	OrderID         string `gorm:"size:64;not null;uniqueIndex:uniq_deliver_order"`
	CreatedAt       time.Time
}

func (deliverRecordModel) TableName() string { return "deliver_records" }

// Models lists the gorm models this context migrates.
func Models() []any {
	return []any{&orderModel{}, &deliverRecordModel{}}
}

// Repository implements the ordering ports on postgres. All statements go
// through the ambient transaction when one is present in the context.
type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{db: db, logger: logger}
}

func (r *Repository) conn(ctx context.Context) *gorm.DB {
	return platformdb.Conn(ctx, r.db)
}

func (r *Repository) CreateOrder(ctx context.Context, order entities.Order) error {
	row := orderModelFromEntity(order)
	if err := r.conn(ctx).WithContext(ctx).Create(&row).Error; err != nil {
		if platformdb.IsUniqueViolation(err) {
			return commandbus.ErrConcurrencyConflict
		}
		return err
	}
	return nil
}

func (r *Repository) GetOrder(ctx context.Context, orderID string) (entities.Order, error) {
	var row orderModel
	err := r.conn(ctx).WithContext(ctx).
		Where("order_id = ?", orderID).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Order{}, domainerrors.ErrOrderNotFound
		}
		return entities.Order{}, err
	}
	return row.toEntity(), nil
}

// SaveOrder bumps the version and guards the update on the version the
// entity was loaded with.
func (r *Repository) SaveOrder(ctx context.Context, order entities.Order) error {
	result := r.conn(ctx).WithContext(ctx).
		Model(&orderModel{}).
		Where("order_id = ? AND version = ?", order.OrderID, order.Version).
		Updates(map[string]any{
			"name":       order.Name,
			"price":      order.Price,
			"count":      order.Count,
			"status":     string(order.Status),
			"version":    order.Version + 1,
			"updated_at": order.UpdatedAt,
			"paid_at":    order.PaidAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return commandbus.ErrConcurrencyConflict
	}
	return nil
}

func (r *Repository) ListOrders(ctx context.Context) ([]entities.Order, error) {
	var rows []orderModel
	err := r.conn(ctx).WithContext(ctx).
		Order("created_at ASC").
		Find(&rows).
		Error
	if err != nil {
		return nil, err
	}
	orders := make([]entities.Order, 0, len(rows))
	for _, row := range rows {
		orders = append(orders, row.toEntity())
	}
	return orders, nil
}

func (r *Repository) CreateDeliverRecord(ctx context.Context, record entities.DeliverRecord) error {
	row := deliverRecordModel{
		DeliverRecordID: record.DeliverRecordID,
		OrderID:         record.OrderID,
		CreatedAt:       record.CreatedAt,
	}
	if err := r.conn(ctx).WithContext(ctx).Create(&row).Error; err != nil {
		if platformdb.IsUniqueViolation(err) {
			return domainerrors.ErrDeliverRecordExists
		}
		return err
	}
	return nil
}

func (r *Repository) GetDeliverRecordByOrder(ctx context.Context, orderID string) (entities.DeliverRecord, error) {
	var row deliverRecordModel
	err := r.conn(ctx).WithContext(ctx).
		Where("order_id = ?", orderID).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.DeliverRecord{}, domainerrors.ErrDeliverRecordNotFound
		}
		return entities.DeliverRecord{}, err
	}
	return entities.DeliverRecord{
		DeliverRecordID: row.DeliverRecordID,
		OrderID:         row.OrderID,
		CreatedAt:       row.CreatedAt,
	}, nil
}

func orderModelFromEntity(order entities.Order) orderModel {
	return orderModel{
		OrderID:   order.OrderID,
		Name:      order.Name,
		Price:     order.Price,
		Count:     order.Count,
		Status:    string(order.Status),
		Version:   order.Version,
		CreatedAt: order.CreatedAt,
		UpdatedAt: order.UpdatedAt,
		PaidAt:    order.PaidAt,
	}
}

func (m orderModel) toEntity() entities.Order {
	return entities.Order{
		OrderID:   m.OrderID,
		Name:      m.Name,
		Price:     m.Price,
		Count:     m.Count,
		Status:    entities.OrderStatus(m.Status),
		Version:   m.Version,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
		PaidAt:    m.PaidAt,
	}
}

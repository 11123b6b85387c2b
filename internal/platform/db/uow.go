package db

import (
	"context"

	"gorm.io/gorm"
)

type txKey struct{}

// TxFrom returns the ambient transaction carried in ctx, or nil.
func TxFrom(ctx context.Context) *gorm.DB {
	tx, _ := ctx.Value(txKey{}).(*gorm.DB)
	return tx
}

// Conn returns the ambient transaction if present, the base handle
// otherwise. Repositories route every statement through this so they join
// whatever transaction the dispatcher opened.
func Conn(ctx context.Context, base *gorm.DB) *gorm.DB {
	if tx := TxFrom(ctx); tx != nil {
		return tx
	}
	return base.WithContext(ctx)
}

// UnitOfWork implements commandbus.UnitOfWork on a gorm transaction. Nested
// Do calls join the ambient transaction; only the outermost commits.
type UnitOfWork struct {
	db *gorm.DB
}

func NewUnitOfWork(pg *Postgres) *UnitOfWork {
	return &UnitOfWork{db: pg.DB}
}

func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFrom(ctx) != nil {
		return fn(ctx)
	}
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func (u *UnitOfWork) InTransaction(ctx context.Context) bool {
	return TxFrom(ctx) != nil
}

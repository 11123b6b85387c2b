package commandbus

import (
	"context"
	"sync"
)

// UnitOfWork owns the transaction boundary for a dispatch. Do begins a
// transaction, runs fn with it ambient in the context, and commits when fn
// returns nil. Any error rolls everything back. When ctx already carries a
// transaction, fn joins it and the outer Do commits.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
	InTransaction(ctx context.Context) bool
}

// Snapshotter lets an in-memory store participate in MemoryUnitOfWork
// rollback by cloning and restoring its whole state.
type Snapshotter interface {
	Snapshot() any
	Restore(snapshot any)
}

type memoryTxKey struct{}

// MemoryUnitOfWork coordinates in-memory stores for tests and in-memory
// wiring. A global mutex serializes transactions; rollback restores the
// participants' snapshots taken at Do entry.
type MemoryUnitOfWork struct {
	mu     sync.Mutex
	stores []Snapshotter
}

func NewMemoryUnitOfWork(stores ...Snapshotter) *MemoryUnitOfWork {
	return &MemoryUnitOfWork{stores: stores}
}

// Enlist adds another store after construction.
func (u *MemoryUnitOfWork) Enlist(store Snapshotter) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.stores = append(u.stores, store)
}

func (u *MemoryUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if u.InTransaction(ctx) {
		return fn(ctx)
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	snapshots := make([]any, len(u.stores))
	for i, store := range u.stores {
		snapshots[i] = store.Snapshot()
	}

	ctx = context.WithValue(ctx, memoryTxKey{}, true)
	if err := fn(ctx); err != nil {
		for i, store := range u.stores {
			store.Restore(snapshots[i])
		}
		return err
	}
	return nil
}

func (u *MemoryUnitOfWork) InTransaction(ctx context.Context) bool {
	active, _ := ctx.Value(memoryTxKey{}).(bool)
	return active
}

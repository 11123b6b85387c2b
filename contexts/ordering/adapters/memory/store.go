package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"steward/contexts/ordering/domain/entities"
	domainerrors "steward/contexts/ordering/domain/errors"
	"steward/internal/shared/commandbus"
)

// Store is the in-memory ordering adapter used by tests and the memory
// broker profile. It participates in MemoryUnitOfWork rollback through
// Snapshot/Restore.
type Store struct {
	mu sync.RWMutex

	orders   map[string]entities.Order
	delivers map[string]entities.DeliverRecord

	now    time.Time
	nextID int
}

func NewStore(seed []entities.Order) *Store {
	orders := make(map[string]entities.Order, len(seed))
	for _, item := range seed {
		orders[item.OrderID] = item
	}
	return &Store{
		orders:   orders,
		delivers: make(map[string]entities.DeliverRecord),
		now:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *Store) CreateOrder(_ context.Context, order entities.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.OrderID]; exists {
		return commandbus.ErrConcurrencyConflict
	}
	s.orders[order.OrderID] = order
	return nil
}

func (s *Store) GetOrder(_ context.Context, orderID string) (entities.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.orders[orderID]
	if !exists {
		return entities.Order{}, domainerrors.ErrOrderNotFound
	}
	return item, nil
}

func (s *Store) SaveOrder(_ context.Context, order entities.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.orders[order.OrderID]
	if !exists {
		return domainerrors.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return commandbus.ErrConcurrencyConflict
	}
	order.Version++
	s.orders[order.OrderID] = order
	return nil
}

func (s *Store) ListOrders(_ context.Context) ([]entities.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]entities.Order, 0, len(s.orders))
	for _, item := range s.orders {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}

func (s *Store) CreateDeliverRecord(_ context.Context, record entities.DeliverRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.delivers {
		if existing.OrderID == record.OrderID {
			return domainerrors.ErrDeliverRecordExists
		}
	}
	s.delivers[record.DeliverRecordID] = record
	return nil
}

func (s *Store) GetDeliverRecordByOrder(_ context.Context, orderID string) (entities.DeliverRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, existing := range s.delivers {
		if existing.OrderID == orderID {
			return existing, nil
		}
	}
	return entities.DeliverRecord{}, domainerrors.ErrDeliverRecordNotFound
}

func (s *Store) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now
}

// Advance moves the store clock forward for tests.
func (s *Store) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(d)
}

func (s *Store) NewID(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return fmt.Sprintf("order-ctx-%04d", s.nextID), nil
}

type storeSnapshot struct {
	orders   map[string]entities.Order
	delivers map[string]entities.DeliverRecord
	nextID   int
}

func (s *Store) Snapshot() any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := storeSnapshot{
		orders:   make(map[string]entities.Order, len(s.orders)),
		delivers: make(map[string]entities.DeliverRecord, len(s.delivers)),
		nextID:   s.nextID,
	}
	for k, v := range s.orders {
		snap.orders[k] = v
	}
	for k, v := range s.delivers {
		snap.delivers[k] = v
	}
	return snap
}

func (s *Store) Restore(state any) {
	snap, ok := state.(storeSnapshot)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orders = make(map[string]entities.Order, len(snap.orders))
	s.delivers = make(map[string]entities.DeliverRecord, len(snap.delivers))
	for k, v := range snap.orders {
		s.orders[k] = v
	}
	for k, v := range snap.delivers {
		s.delivers[k] = v
	}
	s.nextID = snap.nextID
}

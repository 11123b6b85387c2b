package locks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	owner     string
	expiresAt time.Time
}

// MemoryProvider is a single-process Provider used in tests and in-memory
// wiring. Expiry is evaluated lazily against the injected clock.
type MemoryProvider struct {
	mu     sync.Mutex
	locks  map[string]memoryEntry
	fences map[string]int64
	now    func() time.Time
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		locks:  make(map[string]memoryEntry),
		fences: make(map[string]int64),
		now:    time.Now,
	}
}

// NewMemoryProviderWithClock allows tests to control expiry.
func NewMemoryProviderWithClock(now func() time.Time) *MemoryProvider {
	p := NewMemoryProvider()
	p.now = now
	return p
}

func (p *MemoryProvider) Acquire(_ context.Context, key string, ttl time.Duration) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if entry, ok := p.locks[key]; ok && now.Before(entry.expiresAt) {
		return Handle{}, ErrBusy
	}

	owner := uuid.NewString()
	p.fences[key]++
	p.locks[key] = memoryEntry{owner: owner, expiresAt: now.Add(ttl)}
	return Handle{
		Key:          key,
		Owner:        owner,
		FencingToken: p.fences[key],
		ExpiresAt:    now.Add(ttl),
	}, nil
}

func (p *MemoryProvider) Release(_ context.Context, h Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.locks[h.Key]
	if !ok || entry.owner != h.Owner || !p.now().Before(entry.expiresAt) {
		return ErrNotHeld
	}
	delete(p.locks, h.Key)
	return nil
}

func (p *MemoryProvider) Validate(_ context.Context, h Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.locks[h.Key]
	if !ok || entry.owner != h.Owner || !p.now().Before(entry.expiresAt) {
		return ErrNotHeld
	}
	return nil
}

package locks

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrBusy is returned by Acquire when another owner holds the key.
	ErrBusy = errors.New("lock is held by another owner")
	// ErrNotHeld is returned by Release or Validate when the handle no longer
	// owns the key (expired TTL or taken over by a newer acquirer).
	ErrNotHeld = errors.New("lock is no longer held")
)

// Handle proves ownership of an acquired lock. FencingToken increases
// monotonically per key, so a writer holding a stale handle can be rejected
// by anything that remembers the highest token it has seen.
type Handle struct {
	Key          string
	Owner        string
	FencingToken int64
	ExpiresAt    time.Time
}

// Provider grants time-bounded exclusive locks keyed by a logical resource id.
// Implementations must be safe across process instances.
type Provider interface {
	// Acquire takes the lock or returns ErrBusy without blocking.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Handle, error)
	// Release frees the lock if the handle still owns it.
	Release(ctx context.Context, h Handle) error
	// Validate reports whether the handle still owns the key.
	Validate(ctx context.Context, h Handle) error
}

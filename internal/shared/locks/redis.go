package locks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// acquireScript takes the lock and mints a fencing token in one round trip.
// Returns the token on success, 0 when the key is already held.
var acquireScript = goredis.NewScript(`
	if redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2]) then
		return redis.call('INCR', KEYS[2])
	end
	return 0
`)

// releaseScript deletes the key only if the caller still owns it.
var releaseScript = goredis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// RedisProvider implements Provider on a shared Redis instance, so locks
// exclude commands across process replicas.
type RedisProvider struct {
	client *goredis.Client
	prefix string
}

func NewRedisProvider(client *goredis.Client) *RedisProvider {
	return &RedisProvider{client: client, prefix: "steward:lock:"}
}

func (p *RedisProvider) lockKey(key string) string  { return p.prefix + key }
func (p *RedisProvider) fenceKey(key string) string { return p.prefix + "fence:" + key }

func (p *RedisProvider) Acquire(ctx context.Context, key string, ttl time.Duration) (Handle, error) {
	owner := uuid.NewString()
	token, err := acquireScript.Run(ctx, p.client,
		[]string{p.lockKey(key), p.fenceKey(key)},
		owner, ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return Handle{}, fmt.Errorf("acquire lock %q: %w", key, err)
	}
	if token == 0 {
		return Handle{}, ErrBusy
	}
	return Handle{
		Key:          key,
		Owner:        owner,
		FencingToken: token,
		ExpiresAt:    time.Now().Add(ttl),
	}, nil
}

func (p *RedisProvider) Release(ctx context.Context, h Handle) error {
	deleted, err := releaseScript.Run(ctx, p.client, []string{p.lockKey(h.Key)}, h.Owner).Int64()
	if err != nil {
		return fmt.Errorf("release lock %q: %w", h.Key, err)
	}
	if deleted == 0 {
		return ErrNotHeld
	}
	return nil
}

func (p *RedisProvider) Validate(ctx context.Context, h Handle) error {
	owner, err := p.client.Get(ctx, p.lockKey(h.Key)).Result()
	if err == goredis.Nil {
		return ErrNotHeld
	}
	if err != nil {
		return fmt.Errorf("validate lock %q: %w", h.Key, err)
	}
	if owner != h.Owner {
		return ErrNotHeld
	}
	return nil
}

package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another owner holds the lease
var ErrLockHeld = errors.New("lock held by another owner")

// Lock is a lease-based mutual exclusion across processes (SET NX PX)
type Lock struct {
	client *Client
	prefix string
}

// NewLock creates a lock helper
func NewLock(client *Client, prefix string) *Lock {
	return &Lock{client: client, prefix: prefix}
}

// Enabled reports whether leases are backed by redis
func (l *Lock) Enabled() bool {
	return l != nil && l.client.Enabled()
}

func (l *Lock) key(name string) string {
	return fmt.Sprintf("%s:lock:%s", l.prefix, name)
}

// Acquire takes the lease for name on behalf of token
// Re-acquiring with the same token extends the lease.
func (l *Lock) Acquire(ctx context.Context, name, token string, ttl time.Duration) error {
	if !l.client.Enabled() {
		return nil
	}

	rdb := l.client.Redis()
	ok, err := rdb.SetNX(ctx, l.key(name), token, ttl).Result()
	if err != nil {
		return fmt.Errorf("lock acquire failed: %w", err)
	}
	if ok {
		return nil
	}

	extended, err := extendScript.Run(ctx, rdb, []string{l.key(name)}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("lock extend failed: %w", err)
	}
	if extended == 0 {
		return ErrLockHeld
	}
	return nil
}

// Steal takes the lease regardless of the current owner and returns the previous token
func (l *Lock) Steal(ctx context.Context, name, token string, ttl time.Duration) (string, error) {
	if !l.client.Enabled() {
		return "", nil
	}

	prev, err := l.client.Redis().SetArgs(ctx, l.key(name), token, redis.SetArgs{
		TTL: ttl,
		Get: true,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lock steal failed: %w", err)
	}
	return prev, nil
}

// Owner returns the token currently holding name, or ""
func (l *Lock) Owner(ctx context.Context, name string) (string, error) {
	if !l.client.Enabled() {
		return "", nil
	}

	token, err := l.client.Redis().Get(ctx, l.key(name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lock owner failed: %w", err)
	}
	return token, nil
}

// Release drops the lease only if token still owns it
func (l *Lock) Release(ctx context.Context, name, token string) error {
	if !l.client.Enabled() {
		return nil
	}

	if err := releaseScript.Run(ctx, l.client.Redis(), []string{l.key(name)}, token).Err(); err != nil {
		return fmt.Errorf("lock release failed: %w", err)
	}
	return nil
}

var extendScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('PEXPIRE', KEYS[1], ARGV[2])
	end
	return 0
`)

var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

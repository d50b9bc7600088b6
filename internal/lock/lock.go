// Package lock provides named TTL locks used to serialize background
// maintenance work across processes.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/anavarrete/formcoach/internal/cache"
)

// Locker grants exclusive ownership of a named lock for at most ttl.
// TryAcquire never blocks: it reports false when another holder owns the
// lock. Release is a no-op for locks that already expired.
type Locker interface {
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name string) error
}

// RedisLocker implements Locker with SET NX PX, so the lock is shared by
// every process pointed at the same Redis.
type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, cache.LockKey(name), "1", ttl).Result()
}

func (l *RedisLocker) Release(ctx context.Context, name string) error {
	return l.client.Del(ctx, cache.LockKey(name)).Err()
}

// MemoryLocker is an in-process Locker for tests and single-instance
// deployments. It does not protect against concurrent holders in other
// processes.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]time.Time)}
}

func (l *MemoryLocker) TryAcquire(_ context.Context, name string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if expiry, held := l.locks[name]; held && now.Before(expiry) {
		return false, nil
	}
	l.locks[name] = now.Add(ttl)
	return true, nil
}

func (l *MemoryLocker) Release(_ context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, name)
	return nil
}

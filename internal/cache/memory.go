package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryCache is an in-process Cache for deployments without Redis. State
// lives in the process, so it is only correct when a single instance is
// running.
type MemoryCache struct {
	mu       sync.Mutex
	entries  map[string]memoryEntry
	counters map[string]memoryCounter
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

type memoryCounter struct {
	count     int64
	expiresAt time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries:  make(map[string]memoryEntry),
		counters: make(map[string]memoryCounter),
	}
}

func (c *MemoryCache) Ping(_ context.Context) error {
	return nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *MemoryCache) SetJobStatus(ctx context.Context, jobID uuid.UUID, snap JobSnapshot, ttl time.Duration) error {
	val, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.Set(ctx, JobStatusKey(jobID), val, ttl)
}

func (c *MemoryCache) GetJobStatus(ctx context.Context, jobID uuid.UUID) (*JobSnapshot, bool, error) {
	val, ok, err := c.Get(ctx, JobStatusKey(jobID))
	if err != nil || !ok {
		return nil, false, err
	}
	var snap JobSnapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		return nil, false, err
	}
	return &snap, true, nil
}

func (c *MemoryCache) DeleteJobStatus(ctx context.Context, jobID uuid.UUID) error {
	return c.Delete(ctx, JobStatusKey(jobID))
}

// IncrWithExpiry counts within a fixed window: the expiry is set when the
// counter is created and kept until it lapses, matching the Redis pipeline
// behavior closely enough for rate limiting a single process.
func (c *MemoryCache) IncrWithExpiry(_ context.Context, key string, expiry time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	counter, ok := c.counters[key]
	if !ok || now.After(counter.expiresAt) {
		counter = memoryCounter{expiresAt: now.Add(expiry)}
	}
	counter.count++
	c.counters[key] = counter
	return counter.count, nil
}

// Compile-time check that MemoryCache implements Cache.
var _ Cache = (*MemoryCache)(nil)

package zerotrust

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TrustCache caches computed trust scores keyed by user and device so
// repeated evaluations within the refresh window reuse the composite.
type TrustCache interface {
	Get(ctx context.Context, userID, deviceID string) (*TrustScore, bool)
	Set(ctx context.Context, userID, deviceID string, score *TrustScore)
	Invalidate(ctx context.Context, userID, deviceID string)
}

func cacheKey(userID, deviceID string) string {
	return fmt.Sprintf("zt:trust:%s:%s", userID, deviceID)
}

// RedisTrustCache stores trust scores in Redis with a TTL equal to the
// trust refresh interval.
type RedisTrustCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisTrustCache(client *redis.Client, ttl time.Duration) *RedisTrustCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisTrustCache{client: client, ttl: ttl}
}

func (c *RedisTrustCache) Get(ctx context.Context, userID, deviceID string) (*TrustScore, bool) {
	data, err := c.client.Get(ctx, cacheKey(userID, deviceID)).Bytes()
	if err != nil {
		return nil, false
	}
	var score TrustScore
	if err := json.Unmarshal(data, &score); err != nil {
		return nil, false
	}
	return &score, true
}

func (c *RedisTrustCache) Set(ctx context.Context, userID, deviceID string, score *TrustScore) {
	data, err := json.Marshal(score)
	if err != nil {
		return
	}
	c.client.Set(ctx, cacheKey(userID, deviceID), data, c.ttl)
}

func (c *RedisTrustCache) Invalidate(ctx context.Context, userID, deviceID string) {
	c.client.Del(ctx, cacheKey(userID, deviceID))
}

// Ping verifies connectivity at startup.
func (c *RedisTrustCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return errors.Join(errors.New("redis trust cache unreachable"), err)
	}
	return nil
}

// MemoryTrustCache is the in-process fallback used when Redis is not
// configured.
type MemoryTrustCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
}

type memoryEntry struct {
	score   *TrustScore
	expires time.Time
}

func NewMemoryTrustCache(ttl time.Duration) *MemoryTrustCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &MemoryTrustCache{entries: make(map[string]memoryEntry), ttl: ttl}
}

func (c *MemoryTrustCache) Get(_ context.Context, userID, deviceID string) (*TrustScore, bool) {
	c.mu.RLock()
	entry, ok := c.entries[cacheKey(userID, deviceID)]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expires) {
		return nil, false
	}
	return entry.score, true
}

func (c *MemoryTrustCache) Set(_ context.Context, userID, deviceID string, score *TrustScore) {
	c.mu.Lock()
	c.entries[cacheKey(userID, deviceID)] = memoryEntry{score: score, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *MemoryTrustCache) Invalidate(_ context.Context, userID, deviceID string) {
	c.mu.Lock()
	delete(c.entries, cacheKey(userID, deviceID))
	c.mu.Unlock()
}

// Purge drops expired entries; called from the engine's refresh loop.
func (c *MemoryTrustCache) Purge(now time.Time) {
	c.mu.Lock()
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

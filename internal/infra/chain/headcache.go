package chain

import (
	"context"
	"sync"
	"time"
)

// HeadFetcher returns the current chain head.
type HeadFetcher interface {
	LatestBlock(ctx context.Context) (uint64, error)
}

// HeadCache caches LatestBlock so readers that only need an approximate head
// (health probes, lag gauges) share one RPC call per TTL.
type HeadCache struct {
	source HeadFetcher
	ttl    time.Duration

	mu       sync.RWMutex
	cached   uint64
	cachedAt time.Time
}

// NewHeadCache creates a new head cache with the given TTL.
func NewHeadCache(source HeadFetcher, ttl time.Duration) *HeadCache {
	return &HeadCache{
		source: source,
		ttl:    ttl,
	}
}

// LatestBlock returns the cached head if within TTL, otherwise fetches fresh.
// Errors are not cached.
func (c *HeadCache) LatestBlock(ctx context.Context) (uint64, error) {
	c.mu.RLock()
	if time.Since(c.cachedAt) < c.ttl && c.cached > 0 {
		cached := c.cached
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	head, err := c.source.LatestBlock(ctx)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.cached = head
	c.cachedAt = time.Now()
	c.mu.Unlock()

	return head, nil
}

// Invalidate clears the cache, forcing the next call to fetch fresh data.
func (c *HeadCache) Invalidate() {
	c.mu.Lock()
	c.cachedAt = time.Time{}
	c.mu.Unlock()
}

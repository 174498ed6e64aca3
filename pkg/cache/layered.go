package cache

import (
	"context"
	"time"
)

// LayeredOption configures the two-level cache.
type LayeredOption func(*LayeredCache)

// WithLayeredMemorySize caps the L1 entry count.
func WithLayeredMemorySize(size int) LayeredOption {
	return func(lc *LayeredCache) { lc.memSize = size }
}

// LayeredCache reads through memory (L1) to Redis (L2) and
// writes through to both.
type LayeredCache struct {
	mem     *MemoryCache
	redis   *RedisCache
	memSize int
}

func NewLayeredCache(redisCache *RedisCache, opts ...LayeredOption) *LayeredCache {
	lc := &LayeredCache{redis: redisCache, memSize: 1000}
	for _, opt := range opts {
		opt(lc)
	}
	lc.mem = NewMemoryCache(WithMemoryMaxSize(lc.memSize))
	return lc
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := lc.redis.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	_ = lc.mem.Set(ctx, key, value, ttl)
	return nil
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	if err := lc.mem.Get(ctx, key, dest); err == nil {
		return nil
	}
	if err := lc.redis.Get(ctx, key, dest); err != nil {
		return err
	}
	// Populate L1 so the next read stays local. Redis owns the TTL,
	// the memory copy just gets the default.
	_ = lc.mem.Set(ctx, key, dest, 0)
	return nil
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.mem.Delete(ctx, keys...)
	return lc.redis.Delete(ctx, keys...)
}

func (lc *LayeredCache) Close() error {
	_ = lc.mem.Close()
	return lc.redis.Close()
}

package cache

import (
	"context"
	"time"
)

// LayeredCache reads through an in-process L1 to Redis and writes through to
// both.
type LayeredCache struct {
	mem    *MemoryCache
	redis  *RedisCache
	memTTL time.Duration
}

func NewLayeredCache(redisCache *RedisCache, opts ...LayeredOption) *LayeredCache {
	cfg := &LayeredConfig{
		MemoryMaxSize: 1000,
		MemoryTTL:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &LayeredCache{
		mem:    NewMemoryCache(WithMemoryMaxSize(cfg.MemoryMaxSize)),
		redis:  redisCache,
		memTTL: cfg.MemoryTTL,
	}
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	if err := lc.redis.setRaw(ctx, key, data, ttl); err != nil {
		return err
	}
	lc.mem.setRaw(key, data, lc.l1TTL(ttl))
	return nil
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	if data, ok := lc.mem.getRaw(key); ok {
		return decode(data, dest)
	}
	data, err := lc.redis.getRaw(ctx, key)
	if err != nil {
		return err
	}
	lc.mem.setRaw(key, data, lc.l1TTL(lc.redis.ttl(ctx, key)))
	return decode(data, dest)
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.mem.Delete(ctx, keys...)
	return lc.redis.Delete(ctx, keys...)
}

// l1TTL keeps L1 entries from outliving the L2 copy or the L1 cap.
func (lc *LayeredCache) l1TTL(l2 time.Duration) time.Duration {
	if l2 > 0 && (lc.memTTL <= 0 || l2 < lc.memTTL) {
		return l2
	}
	return lc.memTTL
}

// Close stops L1 housekeeping. The Redis client is closed by its owner.
func (lc *LayeredCache) Close() error {
	return lc.mem.Close()
}

var _ Service = (*LayeredCache)(nil)

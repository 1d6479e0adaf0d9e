package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"VaultPulse/internal/domain/models"
	domrepo "VaultPulse/internal/domain/repository"
	"VaultPulse/pkg/cache"
)

const (
	LatestSnapshotKey = "latest_snapshot"
	SnapshotsChannel  = "snapshots"
)

// ChannelPublisher is satisfied by *cache.RedisCache.
type ChannelPublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// RedisSnapshotCache keeps the latest snapshot under one key and broadcasts
// every snapshot on a pub/sub channel.
type RedisSnapshotCache struct {
	store   cache.Service
	pub     ChannelPublisher
	channel string
	ttl     time.Duration
}

func NewRedisSnapshotCache(store cache.Service, pub ChannelPublisher, channel string, ttl time.Duration) *RedisSnapshotCache {
	if channel == "" {
		channel = SnapshotsChannel
	}
	return &RedisSnapshotCache{store: store, pub: pub, channel: channel, ttl: ttl}
}

func (c *RedisSnapshotCache) Name() string { return "redis" }

func (c *RedisSnapshotCache) WriteSnapshot(ctx context.Context, s *models.MetricsSnapshot) error {
	if s == nil {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := c.store.Set(ctx, LatestSnapshotKey, data, c.ttl); err != nil {
		return fmt.Errorf("set latest snapshot: %w", err)
	}
	if c.pub != nil {
		if err := c.pub.Publish(ctx, c.channel, data); err != nil {
			return fmt.Errorf("publish snapshot: %w", err)
		}
	}
	return nil
}

// Latest returns the cached snapshot, or nil when there is none.
func (c *RedisSnapshotCache) Latest(ctx context.Context) (*models.MetricsSnapshot, error) {
	var raw []byte
	if err := c.store.Get(ctx, LatestSnapshotKey, &raw); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, err
	}
	var s models.MetricsSnapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode latest snapshot: %w", err)
	}
	return &s, nil
}

// Close is a no-op. The Redis client is closed by its provider.
func (c *RedisSnapshotCache) Close() error { return nil }

var _ domrepo.SnapshotCache = (*RedisSnapshotCache)(nil)

package repository

import (
	"context"
	"time"

	"VaultPulse/internal/domain/models"
	domsvc "VaultPulse/internal/domain/service"
	"VaultPulse/pkg/cache"
)

// CachedHistory fronts a history reader with a short-lived cache keyed by the
// query parameters.
type CachedHistory struct {
	next  domsvc.HistoryReader
	cache cache.Service
	ttl   time.Duration
}

func NewCachedHistory(next domsvc.HistoryReader, c cache.Service, ttl time.Duration) *CachedHistory {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &CachedHistory{next: next, cache: c, ttl: ttl}
}

func (h *CachedHistory) QueryAsset(ctx context.Context, asset string, from, to time.Time, limit int) ([]models.AssetHistoryPoint, error) {
	key := cache.Key("history", asset, from.UnixMilli(), to.UnixMilli(), limit)
	var out []models.AssetHistoryPoint
	if h.cache != nil {
		if err := h.cache.Get(ctx, key, &out); err == nil {
			return out, nil
		}
	}
	out, err := h.next.QueryAsset(ctx, asset, from, to, limit)
	if err != nil {
		return nil, err
	}
	if h.cache != nil {
		_ = h.cache.Set(ctx, key, out, h.ttl)
	}
	return out, nil
}

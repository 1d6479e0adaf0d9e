package service

import (
	"context"
	"time"

	"VaultPulse/internal/domain/models"
)

// SnapshotReader hands out the most recently published snapshot, or nil
// before the first tick.
type SnapshotReader interface {
	Latest() *models.MetricsSnapshot
}

// AlertReader lists recent alerts at or above minLevel, newest first.
type AlertReader interface {
	Recent(minLevel models.AlertLevel, limit int) []models.Alert
}

// HistoryReader serves exported per-asset rows, oldest first.
type HistoryReader interface {
	QueryAsset(ctx context.Context, asset string, from, to time.Time, limit int) ([]models.AssetHistoryPoint, error)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

package repository

import (
	"context"
	"time"

	"VaultPulse/internal/domain/models"
)

// MarketStream is a live venue feed already normalized to canonical events.
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan models.Event, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// AccountSource pulls the monitored account's state.
type AccountSource interface {
	FetchAccount(ctx context.Context) (*models.AccountState, error)
}

// SnapshotSink receives every published snapshot.
type SnapshotSink interface {
	Name() string
	WriteSnapshot(ctx context.Context, s *models.MetricsSnapshot) error
	Close() error
}

// AlertSink receives alerts raised by the evaluator.
type AlertSink interface {
	Name() string
	DeliverAlerts(ctx context.Context, alerts []models.Alert) error
}

// SnapshotStore exports snapshots and serves per-asset history.
type SnapshotStore interface {
	SnapshotSink
	Init(ctx context.Context) error
	QueryAsset(ctx context.Context, asset string, from, to time.Time, limit int) ([]models.AssetHistoryPoint, error)
	Health(ctx context.Context) error
}

// SnapshotCache holds the latest snapshot for out-of-process readers.
type SnapshotCache interface {
	SnapshotSink
	Latest(ctx context.Context) (*models.MetricsSnapshot, error)
}

type Metrics interface {
	RecordEvent(kind, asset string)
	RecordError(kind string)
	RecordMessageSent(backend, key string)
	RecordLastPrice(asset string, price float64)
	RecordLatency(op string, seconds float64)
	RecordSnapshot(s *models.MetricsSnapshot)
}

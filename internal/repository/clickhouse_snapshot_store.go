package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"VaultPulse/internal/domain/models"
	domrepo "VaultPulse/internal/domain/repository"
	applogger "VaultPulse/pkg/logger"
)

const insertChunk = 2000

// CHSnapshotStore exports snapshots to ClickHouse and reads per-asset
// history back for the API.
type CHSnapshotStore struct {
	db       *sql.DB
	database string
	l        *applogger.Logger
}

func NewCHSnapshotStore(db *sql.DB, database string, l *applogger.Logger) *CHSnapshotStore {
	if l == nil {
		l = applogger.Nop()
	}
	if database == "" {
		database = "vaultpulse"
	}
	return &CHSnapshotStore{db: db, database: database, l: l}
}

func (s *CHSnapshotStore) Name() string { return "clickhouse" }

func (s *CHSnapshotStore) assetTable() string { return s.database + ".asset_metrics" }
func (s *CHSnapshotStore) riskTable() string  { return s.database + ".risk_metrics" }

// Schema returns the idempotent DDL for the export tables.
func (s *CHSnapshotStore) Schema() []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", s.database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    ts DateTime64(3, 'UTC'),
    generation UInt64,
    asset LowCardinality(String),
    vpin_status LowCardinality(String),
    vpin Float64,
    phantom_status LowCardinality(String),
    phantom Float64,
    fleeting_ratio Float64,
    fill_probability Float64,
    layering Float64,
    spoofing Float64,
    realization Float64,
    cancel_rate Float64,
    spread_bps Float64,
    depth_50bps Float64,
    last_price Float64
) ENGINE = MergeTree
PARTITION BY toYYYYMMDD(ts)
ORDER BY (asset, ts)
TTL toDateTime(ts) + INTERVAL 30 DAY`, s.assetTable()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    ts DateTime64(3, 'UTC'),
    generation UInt64,
    status LowCardinality(String),
    stale UInt8,
    liquidation Float64,
    cascade Float64,
    hhi Float64,
    correlation Float64,
    drawdown Float64,
    margin_utilization Float64,
    flow_toxicity Float64,
    phantom_exposure Float64
) ENGINE = MergeTree
PARTITION BY toYYYYMMDD(ts)
ORDER BY ts
TTL toDateTime(ts) + INTERVAL 30 DAY`, s.riskTable()),
	}
}

// Init creates the database and tables.
func (s *CHSnapshotStore) Init(ctx context.Context) error {
	for _, stmt := range s.Schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// WriteSnapshot inserts one row per asset plus one risk row when the risk
// view holds a snapshot.
func (s *CHSnapshotStore) WriteSnapshot(ctx context.Context, snap *models.MetricsSnapshot) error {
	if snap == nil {
		return nil
	}
	start := time.Now()
	names := snap.AssetNames()

	for from := 0; from < len(names); from += insertChunk {
		to := min(from+insertChunk, len(names))
		values := make([]string, 0, to-from)
		args := make([]interface{}, 0, (to-from)*16)
		for _, name := range names[from:to] {
			am := snap.Assets[name]
			d := am.Phantom.Detail
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				snap.Timestamp,
				snap.Generation,
				name,
				string(am.VPIN.Status),
				am.VPIN.Value,
				string(am.Phantom.Composite.Status),
				am.Phantom.Composite.Value,
				d.FleetingRatio,
				d.FillProbability,
				d.LayeringScore,
				d.SpoofingScore,
				d.RealizationRate,
				d.CancelRate,
				am.Book.SpreadBps,
				am.Book.DepthAt50Bps,
				am.LastPrice,
			)
		}
		q := fmt.Sprintf(`INSERT INTO %s (ts, generation, asset, vpin_status, vpin, phantom_status, phantom,
    fleeting_ratio, fill_probability, layering, spoofing, realization, cancel_rate, spread_bps, depth_50bps, last_price) VALUES %s`,
			s.assetTable(), strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.l.Error("clickhouse asset_metrics insert error",
				applogger.Uint64("generation", snap.Generation),
				applogger.Int("rows", len(values)),
				applogger.Error(err))
			return fmt.Errorf("insert asset metrics: %w", err)
		}
	}

	if rs := snap.Risk.Snapshot; rs != nil {
		q := fmt.Sprintf(`INSERT INTO %s (ts, generation, status, stale, liquidation, cascade, hhi, correlation,
    drawdown, margin_utilization, flow_toxicity, phantom_exposure) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.riskTable())
		var stale uint8
		if rs.Stale {
			stale = 1
		}
		if _, err := s.db.ExecContext(ctx, q,
			snap.Timestamp,
			snap.Generation,
			string(snap.Risk.Status),
			stale,
			rs.LiquidationRisk,
			rs.CascadeRisk,
			rs.HHI,
			rs.Correlation,
			rs.Drawdown,
			rs.MarginUtilization,
			rs.FlowToxicity,
			rs.PhantomExposure,
		); err != nil {
			s.l.Error("clickhouse risk_metrics insert error",
				applogger.Uint64("generation", snap.Generation),
				applogger.Error(err))
			return fmt.Errorf("insert risk metrics: %w", err)
		}
	}

	s.l.Debug("clickhouse snapshot exported",
		applogger.Uint64("generation", snap.Generation),
		applogger.Int("assets", len(names)),
		applogger.Duration("duration_ms", time.Since(start)))
	return nil
}

// QueryAsset returns up to limit rows for asset in [from, to], oldest first.
func (s *CHSnapshotStore) QueryAsset(ctx context.Context, asset string, from, to time.Time, limit int) ([]models.AssetHistoryPoint, error) {
	q := fmt.Sprintf(`
        SELECT asset, generation, ts, vpin_status, vpin, phantom_status, phantom, spread_bps, last_price
        FROM %s
        WHERE asset = ? AND ts >= ? AND ts <= ?
        ORDER BY ts DESC
        LIMIT ?
    `, s.assetTable())
	rows, err := s.db.QueryContext(ctx, q, asset, from, to, limit)
	if err != nil {
		s.l.Error("clickhouse query_asset error", applogger.String("asset", asset), applogger.Error(err))
		return nil, fmt.Errorf("query asset history: %w", err)
	}
	defer rows.Close()

	out := make([]models.AssetHistoryPoint, 0, limit)
	for rows.Next() {
		var p models.AssetHistoryPoint
		var ts time.Time
		if err := rows.Scan(&p.Asset, &p.Generation, &ts, &p.VPINStatus, &p.VPIN, &p.PhantomStatus, &p.Phantom, &p.SpreadBps, &p.LastPrice); err != nil {
			return nil, fmt.Errorf("scan asset history: %w", err)
		}
		p.Timestamp = ts.UnixMilli()
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	// reverse to ASC
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *CHSnapshotStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the pool belongs to pkg/clickhouse.Client.
func (s *CHSnapshotStore) Close() error { return nil }

var _ domrepo.SnapshotStore = (*CHSnapshotStore)(nil)

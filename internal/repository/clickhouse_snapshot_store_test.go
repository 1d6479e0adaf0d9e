package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VaultPulse/internal/domain/models"
)

var ts0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func sampleSnapshot() *models.MetricsSnapshot {
	return &models.MetricsSnapshot{
		Generation: 7,
		Timestamp:  ts0,
		Assets: map[string]models.AssetMetrics{
			"BTC": {Asset: "BTC", VPIN: models.Ready(0.4), Phantom: models.PhantomView{Composite: models.Computing()}, LastPrice: 65000},
			"ETH": {Asset: "ETH", VPIN: models.Computing(), Phantom: models.PhantomView{Composite: models.Ready(0.2)}, LastPrice: 3000},
		},
		Risk: models.RiskView{Status: models.StatusReady, Snapshot: &models.RiskSnapshot{LiquidationRisk: 0.3, Stale: true}},
	}
}

func TestCHSnapshotStoreInit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewCHSnapshotStore(db, "vp_test", nil)
	mock.ExpectExec("CREATE DATABASE IF NOT EXISTS vp_test").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS vp_test.asset_metrics").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS vp_test.risk_metrics").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Init(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCHSnapshotStoreWriteSnapshot(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewCHSnapshotStore(db, "", nil)
	assert.Equal(t, "clickhouse", s.Name())

	mock.ExpectExec(`INSERT INTO vaultpulse\.asset_metrics`).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`INSERT INTO vaultpulse\.risk_metrics`).
		WithArgs(ts0, uint64(7), "ready", uint8(1), 0.3, 0.0, 0.0, 0.0, 0.0, 0.0, 0.0, 0.0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.WriteSnapshot(context.Background(), sampleSnapshot()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCHSnapshotStoreSkipsRiskWithoutSnapshot(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	snap := sampleSnapshot()
	snap.Risk = models.RiskView{Status: models.StatusUnavailable, Reason: "no account"}

	mock.ExpectExec(`INSERT INTO vaultpulse\.asset_metrics`).WillReturnResult(sqlmock.NewResult(0, 2))
	require.NoError(t, NewCHSnapshotStore(db, "", nil).WriteSnapshot(context.Background(), snap))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCHSnapshotStoreQueryAsset(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	from, to := ts0.Add(-time.Hour), ts0
	cols := []string{"asset", "generation", "ts", "vpin_status", "vpin", "phantom_status", "phantom", "spread_bps", "last_price"}
	mock.ExpectQuery(`SELECT asset, generation, ts`).
		WithArgs("BTC", from, to, 10).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("BTC", int64(9), ts0, "ready", 0.5, "computing", 0.0, 1.2, 65010.0).
			AddRow("BTC", int64(8), ts0.Add(-time.Second), "ready", 0.4, "computing", 0.0, 1.1, 65000.0))

	got, err := NewCHSnapshotStore(db, "", nil).QueryAsset(context.Background(), "BTC", from, to, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(8), got[0].Generation, "oldest first")
	assert.Equal(t, ts0.Add(-time.Second).UnixMilli(), got[0].Timestamp)
	assert.Equal(t, 0.5, got[1].VPIN)
	assert.NoError(t, mock.ExpectationsWereMet())
}

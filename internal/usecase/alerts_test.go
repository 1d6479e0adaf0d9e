package usecase

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VaultPulse/internal/domain/models"
)

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("a%d", n)
	}
}

func vpinSnap(gen uint64, ts time.Time, vpin float64) *models.MetricsSnapshot {
	return &models.MetricsSnapshot{
		Generation: gen,
		Timestamp:  ts,
		Assets: map[string]models.AssetMetrics{
			"BTC": {Asset: "BTC", VPIN: models.Ready(vpin), Phantom: models.PhantomView{Composite: models.Computing()}},
		},
		Risk: models.RiskView{Status: models.StatusUnavailable},
	}
}

func TestGrade(t *testing.T) {
	tests := []struct {
		v     float64
		level models.AlertLevel
		th    float64
	}{
		{0.1, "", 0},
		{0.5, models.AlertWarning, 0.5},
		{0.69, models.AlertWarning, 0.5},
		{0.7, models.AlertCritical, 0.7},
		{1, models.AlertCritical, 0.7},
	}
	for _, tt := range tests {
		level, th := grade(tt.v, 0.5, 0.7)
		assert.Equal(t, tt.level, level, "v=%v", tt.v)
		assert.Equal(t, tt.th, th, "v=%v", tt.v)
	}

	level, _ := grade(0.9, 0.5, 0)
	assert.Equal(t, models.AlertWarning, level, "zero critical threshold disables critical")
}

func TestEvaluateCooldownAndEscalation(t *testing.T) {
	e := NewAlertEvaluator(DefaultAlertThresholds(), WithAlertIDs(seqIDs()))

	got := e.Evaluate(vpinSnap(1, t0, 0.55))
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].ID)
	assert.Equal(t, models.AlertWarning, got[0].Level)
	assert.Equal(t, "vpin", got[0].Metric)
	assert.Equal(t, "BTC", got[0].Asset)
	assert.Equal(t, 0.5, got[0].Threshold)
	assert.Equal(t, uint64(1), got[0].Generation)

	assert.Empty(t, e.Evaluate(vpinSnap(2, t0.Add(time.Second), 0.6)), "same level inside cooldown")

	got = e.Evaluate(vpinSnap(3, t0.Add(2*time.Second), 0.75))
	require.Len(t, got, 1, "escalation bypasses cooldown")
	assert.Equal(t, models.AlertCritical, got[0].Level)

	assert.Empty(t, e.Evaluate(vpinSnap(4, t0.Add(3*time.Second), 0.55)), "lower level inside cooldown")

	got = e.Evaluate(vpinSnap(5, t0.Add(6*time.Minute), 0.55))
	require.Len(t, got, 1, "cooldown elapsed")
	assert.Equal(t, models.AlertWarning, got[0].Level)
}

func TestEvaluateSkipsNotReadyAndStale(t *testing.T) {
	e := NewAlertEvaluator(DefaultAlertThresholds())
	snap := &models.MetricsSnapshot{
		Timestamp: t0,
		Assets: map[string]models.AssetMetrics{
			"ETH": {Asset: "ETH", VPIN: models.Computing(), Phantom: models.PhantomView{Composite: models.Unavailable()}},
		},
		Risk: models.RiskView{Status: models.StatusReady, Snapshot: &models.RiskSnapshot{
			LiquidationRisk: 0.99, Drawdown: 0.5, Stale: true,
		}},
	}
	assert.Empty(t, e.Evaluate(snap))
	assert.Empty(t, e.Evaluate(nil))
}

func TestEvaluateRiskAndOrderAlerts(t *testing.T) {
	e := NewAlertEvaluator(DefaultAlertThresholds())
	snap := &models.MetricsSnapshot{
		Timestamp: t0,
		Assets: map[string]models.AssetMetrics{
			"SOL": {Asset: "SOL", VPIN: models.Ready(0.1), Phantom: models.PhantomView{
				Composite: models.Ready(0.2),
				Detail: models.PhantomLiquiditySnapshot{
					PhantomComponents: models.PhantomComponents{FleetingRatio: 0.3},
					CancelRate:        0.8,
					ClosedRecords:     10,
				},
			}},
		},
		Risk: models.RiskView{Status: models.StatusReady, Snapshot: &models.RiskSnapshot{
			LiquidationRisk: 0.9,
			Drawdown:        0.2,
			Concentration:   map[string]float64{"SOL": 0.9, "ETH": 0.1},
		}},
	}
	got := e.Evaluate(snap)

	byMetric := map[string]models.Alert{}
	for _, a := range got {
		byMetric[a.Metric+"|"+a.Asset] = a
	}
	assert.Len(t, got, 5)
	assert.Equal(t, models.AlertCritical, byMetric["liquidation|"].Level)
	assert.Equal(t, models.AlertWarning, byMetric["drawdown|"].Level)
	assert.Equal(t, models.AlertWarning, byMetric["concentration|SOL"].Level)
	assert.Contains(t, byMetric, "cancel_rate|SOL")
	assert.Contains(t, byMetric, "fleeting|SOL")
	assert.NotContains(t, byMetric, "concentration|ETH")
}

func TestRecentFiltersAndWraps(t *testing.T) {
	th := DefaultAlertThresholds()
	th.RingSize = 3
	th.Cooldown = 0
	e := NewAlertEvaluator(th, WithAlertIDs(seqIDs()))

	vals := []float64{0.55, 0.75, 0.6, 0.8}
	for i, v := range vals {
		e.Evaluate(vpinSnap(uint64(i+1), t0.Add(time.Duration(i)*time.Second), v))
	}

	all := e.Recent(models.AlertInfo, 10)
	require.Len(t, all, 3, "ring keeps the newest three")
	assert.Equal(t, []string{"a4", "a3", "a2"}, []string{all[0].ID, all[1].ID, all[2].ID})

	crit := e.Recent(models.AlertCritical, 10)
	require.Len(t, crit, 2)
	assert.Equal(t, "a4", crit[0].ID)

	assert.Len(t, e.Recent(models.AlertInfo, 1), 1)
	assert.Empty(t, e.Recent(models.AlertInfo, 0))
}

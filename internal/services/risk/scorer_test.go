package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VaultPulse/internal/domain/models"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newScorer(t *testing.T, opts ...Option) *Scorer {
	t.Helper()
	s, err := NewScorer(DefaultWeights(), append([]Option{WithClock(func() time.Time { return t0 })}, opts...)...)
	require.NoError(t, err)
	return s
}

func TestScoreRequiresMargin(t *testing.T) {
	s := newScorer(t)

	_, err := s.Score(&models.AccountState{Equity: 1000, MarginUsed: 0}, nil, nil)
	require.ErrorIs(t, err, models.ErrInsufficientAccountData)

	_, err = s.Score(nil, nil, nil)
	require.ErrorIs(t, err, models.ErrInsufficientAccountData)
}

func TestEqualNotionalGivesHalfHHI(t *testing.T) {
	s := newScorer(t)
	acct := &models.AccountState{
		Equity:     10000,
		MarginUsed: 1000,
		Positions: map[string]models.Position{
			"BTC": {Size: 0.1, MarkPrice: 50000},
			"ETH": {Size: -2.5, MarkPrice: 2000},
		},
		Timestamp: t0,
	}
	snap, err := s.Score(acct, nil, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, snap.HHI, 1e-12)
	assert.InDelta(t, 0.5, snap.Concentration["ETH"], 1e-12)
	assert.False(t, snap.CorrelationAvailable)
	assert.InDelta(t, 0.1, snap.MarginUtilization, 1e-12)
	assert.InDelta(t, 0.07, snap.LiquidationRisk, 1e-12)
	assert.InDelta(t, 0.25, snap.CascadeRisk, 1e-12)
	assert.Equal(t, t0, snap.ComputedAt)
}

func TestNonPositiveEquitySaturatesMargin(t *testing.T) {
	s := newScorer(t)
	snap, err := s.Score(&models.AccountState{Equity: -5, MarginUsed: 10}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, snap.MarginUtilization)
	assert.InDelta(t, 0.7, snap.LiquidationRisk, 1e-12)
}

func TestDrawdownFromHistory(t *testing.T) {
	s := newScorer(t)
	h := NewHistory(time.Hour, 0)
	for i, eq := range []float64{1000, 1200, 900} {
		h.RecordAccount(&models.AccountState{Equity: eq, Timestamp: t0.Add(time.Duration(i) * time.Second)})
	}
	snap, err := s.Score(&models.AccountState{Equity: 900, MarginUsed: 90}, h, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, snap.Drawdown, 1e-12)
	assert.InDelta(t, 0.7*0.1+0.3*0.25, snap.LiquidationRisk, 1e-12)
}

func TestCorrelationNeedsTwoAssetsWithHistory(t *testing.T) {
	s := newScorer(t, WithMinReturns(3))
	h := NewHistory(time.Hour, 0)
	for i := 0; i < 6; i++ {
		ts := t0.Add(time.Duration(i) * time.Second)
		h.RecordMark("BTC", 100*float64(1+i%2)+float64(i), ts)
		h.RecordMark("ETH", 10*float64(1+i%2)+float64(i)/10, ts)
	}
	acct := &models.AccountState{
		Equity: 1000, MarginUsed: 100,
		Positions: map[string]models.Position{
			"BTC": {Size: 1, MarkPrice: 105},
			"ETH": {Size: 10, MarkPrice: 10.5},
		},
	}
	snap, err := s.Score(acct, h, nil)
	require.NoError(t, err)
	require.True(t, snap.CorrelationAvailable)
	assert.Greater(t, snap.Correlation, 0.9)
	assert.LessOrEqual(t, snap.Correlation, 1.0)

	acct.Positions = map[string]models.Position{"BTC": {Size: 1, MarkPrice: 105}}
	snap, err = s.Score(acct, h, nil)
	require.NoError(t, err)
	assert.False(t, snap.CorrelationAvailable)
	assert.Equal(t, 0.0, snap.Correlation)
}

func TestToxicityIsNotionalWeightedOverReadyScores(t *testing.T) {
	s := newScorer(t)
	acct := &models.AccountState{
		Equity: 1000, MarginUsed: 100,
		Positions: map[string]models.Position{
			"BTC": {Size: 3, MarkPrice: 100},
			"ETH": {Size: 1, MarkPrice: 100},
			"SOL": {Size: 50, MarkPrice: 100},
		},
	}
	assets := map[string]AssetSignal{
		"BTC": {VPIN: models.Ready(0.8), Phantom: models.Ready(0.4)},
		"ETH": {VPIN: models.Ready(0.4), Phantom: models.Computing()},
		"SOL": {VPIN: models.Computing(), Phantom: models.Unavailable()},
	}
	snap, err := s.Score(acct, nil, assets)
	require.NoError(t, err)
	assert.InDelta(t, (300*0.8+100*0.4)/400, snap.FlowToxicity, 1e-12)
	assert.InDelta(t, 0.4, snap.PhantomExposure, 1e-12)
}

func TestHistoryPrune(t *testing.T) {
	h := NewHistory(time.Minute, 0)
	h.RecordMark("BTC", 1, t0)
	h.RecordMark("BTC", 2, t0.Add(2*time.Minute))
	h.RecordMark("ETH", 1, t0)
	h.RecordAccount(&models.AccountState{Equity: 1, Timestamp: t0})

	h.Prune(t0.Add(2 * time.Minute))
	assert.Equal(t, []float64{2}, h.Marks("BTC"))
	assert.Empty(t, h.Marks("ETH"))
	assert.Empty(t, h.Equity())
}

func TestWeightsValidate(t *testing.T) {
	require.NoError(t, DefaultWeights().Validate())
	_, err := NewScorer(Weights{Margin: -1, HHI: 1})
	assert.ErrorIs(t, err, models.ErrInvalidConfiguration)
	_, err = NewScorer(Weights{Margin: 1})
	assert.ErrorIs(t, err, models.ErrInvalidConfiguration)
}

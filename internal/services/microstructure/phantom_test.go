package microstructure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VaultPulse/internal/domain/models"
)

func TestComposeBounds(t *testing.T) {
	w := models.DefaultPhantomWeights()

	worst, err := Compose(models.PhantomComponents{FleetingRatio: 1, LayeringScore: 1, SpoofingScore: 1}, w)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, worst, 1e-12)

	best, err := Compose(models.PhantomComponents{FillProbability: 1, RealizationRate: 1}, w)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, best, 1e-12)
}

func TestComposeIsMonotone(t *testing.T) {
	w := models.DefaultPhantomWeights()
	base := models.PhantomComponents{FleetingRatio: 0.3, FillProbability: 0.5, LayeringScore: 0.2, SpoofingScore: 0.1, RealizationRate: 0.6}
	ref, err := Compose(base, w)
	require.NoError(t, err)

	cases := []struct {
		name     string
		mutate   func(c *models.PhantomComponents)
		increase bool
	}{
		{"fleeting up", func(c *models.PhantomComponents) { c.FleetingRatio = 0.9 }, true},
		{"layering up", func(c *models.PhantomComponents) { c.LayeringScore = 0.9 }, true},
		{"spoofing up", func(c *models.PhantomComponents) { c.SpoofingScore = 0.9 }, true},
		{"fill up", func(c *models.PhantomComponents) { c.FillProbability = 0.9 }, false},
		{"realization up", func(c *models.PhantomComponents) { c.RealizationRate = 0.9 }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base
			tc.mutate(&c)
			got, err := Compose(c, w)
			require.NoError(t, err)
			if tc.increase {
				assert.Greater(t, got, ref)
			} else {
				assert.Less(t, got, ref)
			}
		})
	}
}

func TestComposeRejectsBadWeights(t *testing.T) {
	_, err := Compose(models.PhantomComponents{}, models.PhantomWeights{Fleeting: -1, Fill: 2})
	assert.ErrorIs(t, err, models.ErrInvalidConfiguration)

	_, err = Compose(models.PhantomComponents{}, models.PhantomWeights{})
	assert.ErrorIs(t, err, models.ErrInvalidConfiguration)
}

func TestComputeBookStatsOneSided(t *testing.T) {
	st := ComputeBookStats([]Level{{Price: 99, Size: 1}, {Price: 98, Size: 0}}, nil, 50)
	assert.Equal(t, 99.0, st.BestBid)
	assert.Equal(t, 0.0, st.BestAsk)
	assert.Equal(t, 0.0, st.SpreadBps)
	assert.Equal(t, 1, st.Levels)
}

func TestComputeBookStatsDepthBand(t *testing.T) {
	bids := []Level{{Price: 99.9, Size: 1}, {Price: 99, Size: 5}}
	asks := []Level{{Price: 100.1, Size: 1}, {Price: 101, Size: 5}}
	st := ComputeBookStats(bids, asks, 50)
	assert.InDelta(t, 99.9+100.1, st.DepthAt50Bps, 1e-9)
	assert.Equal(t, 0.0, st.Imbalance)
}

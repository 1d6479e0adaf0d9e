package microstructure

import (
	"VaultPulse/internal/domain/models"
	"VaultPulse/internal/services/features"
)

// Compose returns the weighted phantom composite in [0,1]. Fill probability
// and realization enter inverted: liquidity that fills is not phantom.
func Compose(c models.PhantomComponents, w models.PhantomWeights) (float64, error) {
	if err := w.Validate(); err != nil {
		return 0, err
	}
	v := w.Fleeting*features.Clamp01(c.FleetingRatio) +
		w.Fill*(1-features.Clamp01(c.FillProbability)) +
		w.Layering*features.Clamp01(c.LayeringScore) +
		w.Spoofing*features.Clamp01(c.SpoofingScore) +
		w.Realization*(1-features.Clamp01(c.RealizationRate))
	return features.Clamp01(v), nil
}

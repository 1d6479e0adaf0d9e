package risk

import (
	"fmt"
	"math"
	"sort"
	"time"

	"VaultPulse/internal/domain/models"
	"VaultPulse/internal/services/features"
)

// Weights of the two composite risk scores.
type Weights struct {
	Margin      float64 `yaml:"margin" json:"margin" default:"0.7"`
	Drawdown    float64 `yaml:"drawdown" json:"drawdown" default:"0.3"`
	HHI         float64 `yaml:"hhi" json:"hhi" default:"0.5"`
	Correlation float64 `yaml:"correlation" json:"correlation" default:"0.3"`
	Phantom     float64 `yaml:"phantom" json:"phantom" default:"0.2"`
}

func DefaultWeights() Weights {
	return Weights{Margin: 0.7, Drawdown: 0.3, HHI: 0.5, Correlation: 0.3, Phantom: 0.2}
}

func (w Weights) Validate() error {
	for _, v := range []float64{w.Margin, w.Drawdown, w.HHI, w.Correlation, w.Phantom} {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("%w: risk weights must be non-negative", models.ErrInvalidConfiguration)
		}
	}
	if w.Margin+w.Drawdown <= 0 {
		return fmt.Errorf("%w: liquidation weights sum to zero", models.ErrInvalidConfiguration)
	}
	if w.HHI+w.Correlation+w.Phantom <= 0 {
		return fmt.Errorf("%w: cascade weights sum to zero", models.ErrInvalidConfiguration)
	}
	return nil
}

// AssetSignal is what the scorer reads from the market side of one asset.
type AssetSignal struct {
	VPIN    models.Score
	Phantom models.Score
}

// Scorer turns account state into liquidation and cascade risk.
type Scorer struct {
	weights    Weights
	minReturns int
	now        func() time.Time
}

type Option func(*Scorer)

// WithMinReturns sets how many log returns an asset needs to enter the
// correlation proxy.
func WithMinReturns(n int) Option {
	return func(s *Scorer) {
		if n > 1 {
			s.minReturns = n
		}
	}
}

// WithClock overrides the ComputedAt source.
func WithClock(now func() time.Time) Option {
	return func(s *Scorer) { s.now = now }
}

func NewScorer(w Weights, opts ...Option) (*Scorer, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	s := &Scorer{weights: w, minReturns: 10, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Score fails with ErrInsufficientAccountData when there is no account or it
// reports no margin in use.
func (s *Scorer) Score(account *models.AccountState, history *History, assets map[string]AssetSignal) (models.RiskSnapshot, error) {
	if account == nil {
		return models.RiskSnapshot{}, fmt.Errorf("%w: no account state", models.ErrInsufficientAccountData)
	}
	if !(account.MarginUsed > 0) {
		return models.RiskSnapshot{}, fmt.Errorf("%w: margin used %v", models.ErrInsufficientAccountData, account.MarginUsed)
	}

	snap := models.RiskSnapshot{ComputedAt: s.now()}

	if account.Equity <= 0 {
		snap.MarginUtilization = 1
	} else {
		snap.MarginUtilization = features.Clamp01(account.MarginUsed / account.Equity)
	}
	if history != nil {
		snap.Drawdown = features.Drawdown(history.Equity())
	}
	snap.LiquidationRisk = features.Clamp01(s.weights.Margin*snap.MarginUtilization + s.weights.Drawdown*snap.Drawdown)

	notional := make(map[string]float64, len(account.Positions))
	for asset, p := range account.Positions {
		if n := p.Notional(); n > 0 {
			notional[asset] = n
		}
	}
	snap.Concentration = features.Shares(notional)
	snap.HHI = features.Herfindahl(snap.Concentration)
	snap.Correlation, snap.CorrelationAvailable = s.correlation(notional, history)
	snap.FlowToxicity = weighted(notional, assets, func(a AssetSignal) models.Score { return a.VPIN })
	snap.PhantomExposure = weighted(notional, assets, func(a AssetSignal) models.Score { return a.Phantom })

	snap.CascadeRisk = features.Clamp01(s.weights.HHI*snap.HHI +
		s.weights.Correlation*snap.Correlation +
		s.weights.Phantom*snap.PhantomExposure)
	return snap, nil
}

// correlation is the mean pairwise |pearson| of mark log returns across held
// assets with enough history.
func (s *Scorer) correlation(held map[string]float64, history *History) (float64, bool) {
	if history == nil {
		return 0, false
	}
	names := make([]string, 0, len(held))
	for asset := range held {
		names = append(names, asset)
	}
	sort.Strings(names)

	var returns [][]float64
	for _, asset := range names {
		r := features.LogReturns(history.Marks(asset))
		if len(r) >= s.minReturns {
			returns = append(returns, r)
		}
	}
	if len(returns) < 2 {
		return 0, false
	}

	var sum float64
	var pairs int
	for i := 0; i < len(returns); i++ {
		for j := i + 1; j < len(returns); j++ {
			r, ok := features.Pearson(returns[i], returns[j])
			if !ok {
				continue
			}
			sum += math.Abs(r)
			pairs++
		}
	}
	if pairs == 0 {
		return 0, false
	}
	return features.Clamp01(sum / float64(pairs)), true
}

func weighted(notional map[string]float64, assets map[string]AssetSignal, pick func(AssetSignal) models.Score) float64 {
	var sum, total float64
	for asset, n := range notional {
		sig, ok := assets[asset]
		if !ok {
			continue
		}
		v, ready := pick(sig).Get()
		if !ready {
			continue
		}
		sum += n * v
		total += n
	}
	if total <= 0 {
		return 0
	}
	return features.Clamp01(sum / total)
}

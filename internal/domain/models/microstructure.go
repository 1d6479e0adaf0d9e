package models

import (
	"fmt"
	"time"
)

// VolumeMeasure selects what a trade contributes to a volume bucket.
type VolumeMeasure string

const (
	// VolumeNotional buckets dollar volume (price * size).
	VolumeNotional VolumeMeasure = "notional"
	// VolumeQuantity buckets raw contract size.
	VolumeQuantity VolumeMeasure = "quantity"
)

// VolumeBucket accumulates classified volume until the bucket threshold.
type VolumeBucket struct {
	Asset      string     `json:"asset"`
	BuyVolume  float64    `json:"buy_volume"`
	SellVolume float64    `json:"sell_volume"`
	OpenedAt   time.Time  `json:"opened_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
}

// Total returns buy plus sell volume.
func (b VolumeBucket) Total() float64 { return b.BuyVolume + b.SellVolume }

// Imbalance returns |buy-sell|/(buy+sell), or 0 for an empty bucket.
func (b VolumeBucket) Imbalance() float64 {
	total := b.Total()
	if total <= 0 {
		return 0
	}
	d := b.BuyVolume - b.SellVolume
	if d < 0 {
		d = -d
	}
	return d / total
}

// OrderRecord is a synthetic order inferred from one (asset, side, price) level.
type OrderRecord struct {
	Asset          string     `json:"asset"`
	Side           BookSide   `json:"side"`
	Price          float64    `json:"price"`
	FirstSeen      time.Time  `json:"first_seen"`
	LastSeen       time.Time  `json:"last_seen"`
	PeakSize       float64    `json:"peak_size"`
	CurrentSize    float64    `json:"current_size"`
	FilledEstimate float64    `json:"filled_estimate"`
	CancelledSize  float64    `json:"cancelled_size"`
	RemovedAt      *time.Time `json:"removed_at,omitempty"`
}

// Lifetime is removed_at - first_seen for closed records and zero otherwise.
func (r OrderRecord) Lifetime() time.Duration {
	if r.RemovedAt == nil {
		return 0
	}
	return r.RemovedAt.Sub(r.FirstSeen)
}

// CancelShare is the fraction of removed size attributed to cancellation.
func (r OrderRecord) CancelShare() float64 {
	removed := r.FilledEstimate + r.CancelledSize
	if removed <= 0 {
		return 0
	}
	return r.CancelledSize / removed
}

// PhantomComponents are the five normalized inputs of the phantom composite.
type PhantomComponents struct {
	FleetingRatio   float64 `json:"fleeting_ratio"`
	FillProbability float64 `json:"fill_probability"`
	LayeringScore   float64 `json:"layering_score"`
	SpoofingScore   float64 `json:"spoofing_score"`
	RealizationRate float64 `json:"realization_rate"`
}

// PhantomLiquiditySnapshot is the per-asset output of the order lifetime
// tracker plus the weighted composite.
type PhantomLiquiditySnapshot struct {
	PhantomComponents
	Composite     float64 `json:"composite"`
	CancelRate    float64 `json:"cancel_rate"`
	AvgLifetimeMs float64 `json:"avg_lifetime_ms"`
	OpenRecords   int     `json:"open_records"`
	ClosedRecords int     `json:"closed_records"`
}

// PhantomWeights weights the composite. Defaults sum to one.
type PhantomWeights struct {
	Fleeting    float64 `yaml:"fleeting" json:"fleeting" default:"0.25"`
	Fill        float64 `yaml:"fill" json:"fill" default:"0.20"`
	Layering    float64 `yaml:"layering" json:"layering" default:"0.20"`
	Spoofing    float64 `yaml:"spoofing" json:"spoofing" default:"0.20"`
	Realization float64 `yaml:"realization" json:"realization" default:"0.15"`
}

// DefaultPhantomWeights returns 0.25/0.20/0.20/0.20/0.15.
func DefaultPhantomWeights() PhantomWeights {
	return PhantomWeights{Fleeting: 0.25, Fill: 0.20, Layering: 0.20, Spoofing: 0.20, Realization: 0.15}
}

// Validate requires non-negative weights with a positive sum.
func (w PhantomWeights) Validate() error {
	for name, v := range map[string]float64{
		"fleeting": w.Fleeting, "fill": w.Fill, "layering": w.Layering,
		"spoofing": w.Spoofing, "realization": w.Realization,
	} {
		if v < 0 {
			return fmt.Errorf("%w: phantom weight %s is negative", ErrInvalidConfiguration, name)
		}
	}
	if w.Fleeting+w.Fill+w.Layering+w.Spoofing+w.Realization <= 0 {
		return fmt.Errorf("%w: phantom weights sum to zero", ErrInvalidConfiguration)
	}
	return nil
}

// BookStats summarizes the top of an asset's order book.
type BookStats struct {
	BestBid      float64 `json:"best_bid"`
	BestAsk      float64 `json:"best_ask"`
	SpreadBps    float64 `json:"spread_bps"`
	DepthAt50Bps float64 `json:"depth_at_50bps"`
	Imbalance    float64 `json:"imbalance"`
	Levels       int     `json:"levels"`
}

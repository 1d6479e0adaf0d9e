package microstructure

import (
	"fmt"
	"math"

	"VaultPulse/internal/domain/models"
)

// VPINConfig sizes the volume clock.
type VPINConfig struct {
	BucketThreshold float64
	WindowSize      int
	Measure         models.VolumeMeasure
}

// Validate rejects thresholds and windows that could never close a bucket.
func (c VPINConfig) Validate() error {
	if !(c.BucketThreshold > 0) {
		return fmt.Errorf("%w: bucket threshold must be positive, got %v", models.ErrInvalidConfiguration, c.BucketThreshold)
	}
	if c.WindowSize <= 0 {
		return fmt.Errorf("%w: window size must be positive, got %d", models.ErrInvalidConfiguration, c.WindowSize)
	}
	switch c.Measure {
	case "", models.VolumeNotional, models.VolumeQuantity:
	default:
		return fmt.Errorf("%w: unknown volume measure %q", models.ErrInvalidConfiguration, c.Measure)
	}
	return nil
}

// TickClassifier resolves unknown aggressor sides with the tick rule against
// the previous distinct trade price of the same asset.
type TickClassifier struct {
	lastPrice float64
	lastSide  models.Side
	seen      bool
}

// Classify returns side when it is known, otherwise up-tick => buy,
// down-tick => sell, zero-tick => previous classification. The first trade
// of an asset defaults to buy.
func (c *TickClassifier) Classify(price float64, side models.Side) models.Side {
	resolved := side
	if resolved == models.SideUnknown {
		switch {
		case !c.seen:
			resolved = models.SideBuy
		case price > c.lastPrice:
			resolved = models.SideBuy
		case price < c.lastPrice:
			resolved = models.SideSell
		default:
			resolved = c.lastSide
		}
	}
	c.seen = true
	c.lastPrice = price
	c.lastSide = resolved
	return resolved
}

// VPINEngine owns one asset's open bucket and its rolling window of closed
// buckets. It is not safe for concurrent use; the state manager serializes
// access.
type VPINEngine struct {
	asset  string
	cfg    VPINConfig
	tick   TickClassifier
	open   models.VolumeBucket
	ring   []models.VolumeBucket
	head   int
	count  int
	filled bool
	closed uint64
}

// NewVPINEngine fails with ErrInvalidConfiguration on a bad config.
func NewVPINEngine(asset string, cfg VPINConfig) (*VPINEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Measure == "" {
		cfg.Measure = models.VolumeNotional
	}
	return &VPINEngine{
		asset: asset,
		cfg:   cfg,
		open:  models.VolumeBucket{Asset: asset},
		ring:  make([]models.VolumeBucket, cfg.WindowSize),
	}, nil
}

// IngestTrade classifies the trade, adds its volume to the open bucket and
// returns the buckets the trade closed, oldest first. The excess over the
// threshold opens the next bucket on the same side. A trade spanning more
// than W buckets returns only the last W; BucketsClosed still counts all.
func (e *VPINEngine) IngestTrade(t models.TradeEvent) ([]models.VolumeBucket, models.Side, error) {
	if err := t.Validate(); err != nil {
		return nil, models.SideUnknown, err
	}
	if t.Asset != e.asset {
		return nil, models.SideUnknown, fmt.Errorf("%w: trade for %s routed to %s", models.ErrInvalidEvent, t.Asset, e.asset)
	}

	side := e.tick.Classify(t.Price, t.Side)
	vol := t.Size
	if e.cfg.Measure == models.VolumeNotional {
		vol = t.Notional()
	}
	if e.open.OpenedAt.IsZero() {
		e.open.OpenedAt = t.Timestamp
	}

	thr := e.cfg.BucketThreshold
	room := thr - e.open.Total()
	if vol < room {
		e.add(side, vol)
		return nil, side, nil
	}
	e.add(side, room)
	vol -= room
	closed := []models.VolumeBucket{e.closeOpen(t)}

	full := math.Floor(vol / thr)
	rest := vol - full*thr
	if rest >= thr {
		full++
		rest -= thr
	}
	if rest < 0 {
		rest = 0
	}
	if full > 0 {
		w := float64(len(e.ring))
		keep := math.Min(full, w)
		e.skip(full - keep)
		for i := 0; i < int(keep); i++ {
			e.add(side, thr)
			closed = append(closed, e.closeOpen(t))
		}
		if len(closed) > len(e.ring) {
			closed = closed[len(closed)-len(e.ring):]
		}
	}
	if rest > 0 {
		e.add(side, rest)
	}
	return closed, side, nil
}

// skip counts n full buckets that would be evicted from the window before
// the trade finishes, without materializing them.
func (e *VPINEngine) skip(n float64) {
	if n <= 0 {
		return
	}
	left := float64(math.MaxUint64 - e.closed)
	if n >= left || n >= 1e19 {
		e.closed = math.MaxUint64
		return
	}
	e.closed += uint64(n)
}

func (e *VPINEngine) add(side models.Side, vol float64) {
	if side == models.SideSell {
		e.open.SellVolume += vol
		return
	}
	e.open.BuyVolume += vol
}

func (e *VPINEngine) closeOpen(t models.TradeEvent) models.VolumeBucket {
	b := e.open
	at := t.Timestamp
	b.ClosedAt = &at

	// FIFO ring: overwrite the oldest slot once full.
	idx := (e.head + e.count) % len(e.ring)
	if e.count == len(e.ring) {
		idx = e.head
		e.head = (e.head + 1) % len(e.ring)
	} else {
		e.count++
	}
	e.ring[idx] = b
	if e.count == len(e.ring) {
		e.filled = true
	}
	e.closed++

	e.open = models.VolumeBucket{Asset: e.asset, OpenedAt: t.Timestamp}
	return b
}

// Score returns the mean bucket imbalance over the window, or Computing until
// the window has been full at least once.
func (e *VPINEngine) Score() models.Score {
	if !e.filled || e.count == 0 {
		return models.Computing()
	}
	sum := 0.0
	for i := 0; i < e.count; i++ {
		sum += e.ring[(e.head+i)%len(e.ring)].Imbalance()
	}
	return models.Ready(sum / float64(e.count))
}

// Window returns a copy of the closed buckets, oldest first.
func (e *VPINEngine) Window() []models.VolumeBucket {
	out := make([]models.VolumeBucket, e.count)
	for i := 0; i < e.count; i++ {
		out[i] = e.ring[(e.head+i)%len(e.ring)]
	}
	return out
}

// OpenBucket returns a copy of the bucket currently accumulating.
func (e *VPINEngine) OpenBucket() models.VolumeBucket { return e.open }

// WindowLen is the number of closed buckets held.
func (e *VPINEngine) WindowLen() int { return e.count }

// WindowSize is the configured W.
func (e *VPINEngine) WindowSize() int { return len(e.ring) }

// BucketsClosed counts every bucket ever closed for the asset.
func (e *VPINEngine) BucketsClosed() uint64 { return e.closed }

// LastTrade returns the last trade price and its resolved side.
func (e *VPINEngine) LastTrade() (float64, models.Side) { return e.tick.lastPrice, e.tick.lastSide }

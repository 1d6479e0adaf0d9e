package microstructure

import (
	"fmt"
	"math"
	"sort"
	"time"

	"VaultPulse/internal/domain/models"
	"VaultPulse/internal/services/features"
)

// OrderTrackerConfig holds the heuristics of the order lifetime tracker.
type OrderTrackerConfig struct {
	Horizon           time.Duration `yaml:"horizon" json:"horizon" default:"5m"`
	FleetingThreshold time.Duration `yaml:"fleeting_threshold" json:"fleeting_threshold" default:"100ms"`
	CorrelationWindow time.Duration `yaml:"correlation_window" json:"correlation_window" default:"50ms"`
	LayeringMinLevels int           `yaml:"layering_min_levels" json:"layering_min_levels" default:"3"`
	LayeringWindow    time.Duration `yaml:"layering_window" json:"layering_window" default:"1s"`
	SpoofSizeMultiple float64       `yaml:"spoof_size_multiple" json:"spoof_size_multiple" default:"3"`
	MaxClosedRecords  int           `yaml:"max_closed_records" json:"max_closed_records" default:"10000"`
	MaxRecentTrades   int           `yaml:"max_recent_trades" json:"max_recent_trades" default:"2048"`
}

// DefaultOrderTrackerConfig mirrors the struct tag defaults.
func DefaultOrderTrackerConfig() OrderTrackerConfig {
	return OrderTrackerConfig{
		Horizon:           5 * time.Minute,
		FleetingThreshold: 100 * time.Millisecond,
		CorrelationWindow: 50 * time.Millisecond,
		LayeringMinLevels: 3,
		LayeringWindow:    time.Second,
		SpoofSizeMultiple: 3,
		MaxClosedRecords:  10000,
		MaxRecentTrades:   2048,
	}
}

func (c OrderTrackerConfig) Validate() error {
	switch {
	case c.Horizon <= 0:
		return fmt.Errorf("%w: order horizon must be positive", models.ErrInvalidConfiguration)
	case c.FleetingThreshold <= 0:
		return fmt.Errorf("%w: fleeting threshold must be positive", models.ErrInvalidConfiguration)
	case c.CorrelationWindow < 0:
		return fmt.Errorf("%w: correlation window is negative", models.ErrInvalidConfiguration)
	case c.LayeringMinLevels < 2:
		return fmt.Errorf("%w: layering needs at least 2 levels, got %d", models.ErrInvalidConfiguration, c.LayeringMinLevels)
	case c.LayeringWindow <= 0:
		return fmt.Errorf("%w: layering window must be positive", models.ErrInvalidConfiguration)
	case c.SpoofSizeMultiple < 1:
		return fmt.Errorf("%w: spoof size multiple must be >= 1", models.ErrInvalidConfiguration)
	case c.MaxClosedRecords <= 0 || c.MaxRecentTrades <= 0:
		return fmt.Errorf("%w: record caps must be positive", models.ErrInvalidConfiguration)
	}
	return nil
}

type levelKey struct {
	side  models.BookSide
	price float64
}

// pendingCancel is a decrease booked as a cancel that a late trade may still
// claim as a fill.
type pendingCancel struct {
	size float64
	at   time.Time
}

type trackedOrder struct {
	models.OrderRecord
	pending []pendingCancel
}

type recentTrade struct {
	side      models.Side
	price     float64
	remaining float64
	ts        time.Time
}

// OrderTracker infers synthetic orders for one asset from book deltas. Not
// safe for concurrent use.
type OrderTracker struct {
	asset  string
	cfg    OrderTrackerConfig
	open   map[levelKey]*trackedOrder
	closed []*trackedOrder
	trades []recentTrade
}

func NewOrderTracker(asset string, cfg OrderTrackerConfig) (*OrderTracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &OrderTracker{
		asset: asset,
		cfg:   cfg,
		open:  make(map[levelKey]*trackedOrder),
	}, nil
}

// IngestBookUpdate applies the new absolute size of one level.
func (t *OrderTracker) IngestBookUpdate(side models.BookSide, price, newSize float64, ts time.Time) error {
	if price <= 0 || newSize < 0 || math.IsNaN(newSize) {
		return fmt.Errorf("%w: book level %v size %v", models.ErrInvalidEvent, price, newSize)
	}
	key := levelKey{side: side, price: price}
	rec, ok := t.open[key]
	if !ok {
		if newSize == 0 {
			return nil
		}
		t.open[key] = &trackedOrder{OrderRecord: models.OrderRecord{
			Asset:       t.asset,
			Side:        side,
			Price:       price,
			FirstSeen:   ts,
			LastSeen:    ts,
			PeakSize:    newSize,
			CurrentSize: newSize,
		}}
		return nil
	}

	rec.LastSeen = ts
	switch {
	case newSize > rec.CurrentSize:
		rec.CurrentSize = newSize
		if newSize > rec.PeakSize {
			rec.PeakSize = newSize
		}
	case newSize < rec.CurrentSize:
		dec := rec.CurrentSize - newSize
		filled := t.consumeTrades(side, price, dec, ts)
		rec.FilledEstimate += filled
		if cancelled := dec - filled; cancelled > 0 {
			rec.CancelledSize += cancelled
			rec.pending = append(t.livePending(rec.pending, ts), pendingCancel{size: cancelled, at: ts})
		}
		rec.CurrentSize = newSize
	}

	if rec.CurrentSize == 0 {
		removed := ts
		rec.RemovedAt = &removed
		delete(t.open, key)
		t.appendClosed(rec)
	}
	return nil
}

// RecordTrade registers an executed trade with its resolved aggressor side.
// A trade that lands after a level decrease converts the matching pending
// cancel into a fill.
func (t *OrderTracker) RecordTrade(side models.Side, price, size float64, ts time.Time) {
	if size <= 0 || price <= 0 || side == models.SideUnknown {
		return
	}
	t.dropStaleTrades(ts)
	remaining := t.reattribute(side.Consumes(), price, size, ts)
	if remaining <= 0 {
		return
	}
	t.trades = append(t.trades, recentTrade{side: side, price: price, remaining: remaining, ts: ts})
	if over := len(t.trades) - t.cfg.MaxRecentTrades; over > 0 {
		t.trades = append(t.trades[:0], t.trades[over:]...)
	}
}

func (t *OrderTracker) consumeTrades(side models.BookSide, price, dec float64, ts time.Time) float64 {
	filled := 0.0
	for i := range t.trades {
		if filled >= dec {
			break
		}
		tr := &t.trades[i]
		if tr.remaining <= 0 || tr.price != price || tr.side.Consumes() != side {
			continue
		}
		if absDuration(ts.Sub(tr.ts)) > t.cfg.CorrelationWindow {
			continue
		}
		take := math.Min(tr.remaining, dec-filled)
		tr.remaining -= take
		filled += take
	}
	return filled
}

func (t *OrderTracker) reattribute(side models.BookSide, price, size float64, ts time.Time) float64 {
	claim := func(rec *trackedOrder) {
		for i := range rec.pending {
			if size <= 0 {
				return
			}
			p := &rec.pending[i]
			if p.size <= 0 || absDuration(ts.Sub(p.at)) > t.cfg.CorrelationWindow {
				continue
			}
			take := math.Min(p.size, size)
			p.size -= take
			size -= take
			rec.CancelledSize -= take
			rec.FilledEstimate += take
		}
	}

	if rec, ok := t.open[levelKey{side: side, price: price}]; ok {
		claim(rec)
	}
	cutoff := ts.Add(-t.cfg.CorrelationWindow)
	for i := len(t.closed) - 1; i >= 0 && size > 0; i-- {
		rec := t.closed[i]
		if rec.RemovedAt.Before(cutoff) {
			break
		}
		if rec.Side == side && rec.Price == price {
			claim(rec)
		}
	}
	return size
}

func (t *OrderTracker) dropStaleTrades(now time.Time) {
	cutoff := now.Add(-t.cfg.CorrelationWindow)
	n := 0
	for n < len(t.trades) && t.trades[n].ts.Before(cutoff) {
		n++
	}
	if n > 0 {
		t.trades = append(t.trades[:0], t.trades[n:]...)
	}
}

func (t *OrderTracker) livePending(pending []pendingCancel, now time.Time) []pendingCancel {
	cutoff := now.Add(-t.cfg.CorrelationWindow)
	kept := pending[:0]
	for _, p := range pending {
		if p.size > 0 && !p.at.Before(cutoff) {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}

func (t *OrderTracker) appendClosed(rec *trackedOrder) {
	t.closed = append(t.closed, rec)
	if over := len(t.closed) - t.cfg.MaxClosedRecords; over > 0 {
		for i := 0; i < over; i++ {
			t.closed[i] = nil
		}
		t.closed = append(t.closed[:0], t.closed[over:]...)
	}
}

// Prune drops closed records that left the horizon, trades older than the
// correlation window and pending cancels nobody can claim anymore.
func (t *OrderTracker) Prune(now time.Time) {
	cutoff := now.Add(-t.cfg.Horizon)
	kept := t.closed[:0]
	for _, rec := range t.closed {
		if rec.RemovedAt.Before(cutoff) {
			continue
		}
		rec.pending = t.livePending(rec.pending, now)
		kept = append(kept, rec)
	}
	for i := len(kept); i < len(t.closed); i++ {
		t.closed[i] = nil
	}
	t.closed = kept
	t.dropStaleTrades(now)
}

// OpenRecords returns copies of the live records.
func (t *OrderTracker) OpenRecords() []models.OrderRecord {
	out := make([]models.OrderRecord, 0, len(t.open))
	for _, rec := range t.open {
		out = append(out, rec.OrderRecord)
	}
	return out
}

// ClosedRecords returns copies of the closed records still held, oldest first.
func (t *OrderTracker) ClosedRecords() []models.OrderRecord {
	out := make([]models.OrderRecord, 0, len(t.closed))
	for _, rec := range t.closed {
		out = append(out, rec.OrderRecord)
	}
	return out
}

// Book summarizes the open levels.
func (t *OrderTracker) Book(depthBps float64) models.BookStats {
	var bids, asks []Level
	for k, rec := range t.open {
		l := Level{Price: k.price, Size: rec.CurrentSize}
		if k.side == models.BookBid {
			bids = append(bids, l)
		} else {
			asks = append(asks, l)
		}
	}
	return ComputeBookStats(bids, asks, depthBps)
}

// Snapshot computes the phantom view over closed records within the horizon.
// The composite stays computing until at least one record has closed.
func (t *OrderTracker) Snapshot(now time.Time, w models.PhantomWeights) (models.PhantomView, error) {
	cutoff := now.Add(-t.cfg.Horizon)
	recs := make([]models.OrderRecord, 0, len(t.closed))
	for _, rec := range t.closed {
		if !rec.RemovedAt.Before(cutoff) {
			recs = append(recs, rec.OrderRecord)
		}
	}

	snap := models.PhantomLiquiditySnapshot{
		OpenRecords:   len(t.open),
		ClosedRecords: len(recs),
	}
	if len(recs) == 0 {
		return models.PhantomView{Composite: models.Computing(), Detail: snap}, nil
	}

	var fleeting int
	var filled, cancelled, peak float64
	var lifetime time.Duration
	for _, r := range recs {
		lt := r.Lifetime()
		lifetime += lt
		if lt < t.cfg.FleetingThreshold {
			fleeting++
		}
		filled += r.FilledEstimate
		cancelled += r.CancelledSize
		peak += r.PeakSize
	}

	n := float64(len(recs))
	snap.FleetingRatio = features.Clamp01(float64(fleeting) / n)
	if peak > 0 {
		snap.FillProbability = features.Clamp01(filled / peak)
	}
	if removed := filled + cancelled; removed > 0 {
		snap.RealizationRate = features.Clamp01(filled / removed)
		snap.CancelRate = features.Clamp01(1 - snap.RealizationRate)
	}
	snap.AvgLifetimeMs = float64(lifetime.Milliseconds()) / n
	snap.LayeringScore = features.Clamp01(float64(t.layered(recs)) / n)
	snap.SpoofingScore = t.spoofing(recs, snap.CancelRate)

	composite, err := Compose(snap.PhantomComponents, w)
	if err != nil {
		return models.PhantomView{}, err
	}
	snap.Composite = composite
	return models.PhantomView{Composite: models.Ready(composite), Detail: snap}, nil
}

// layered counts records in same-side clusters of cancel-dominated orders at
// distinct prices, created and removed within LayeringWindow of the cluster's
// earliest record.
func (t *OrderTracker) layered(recs []models.OrderRecord) int {
	bySide := map[models.BookSide][]models.OrderRecord{}
	for _, r := range recs {
		if r.CancelledSize > 0 && r.CancelShare() >= 0.5 {
			bySide[r.Side] = append(bySide[r.Side], r)
		}
	}

	marked := 0
	for _, side := range bySide {
		sort.Slice(side, func(i, j int) bool { return side[i].FirstSeen.Before(side[j].FirstSeen) })
		in := make([]bool, len(side))
		for i := range side {
			anchor := side[i]
			members := []int{i}
			prices := map[float64]struct{}{anchor.Price: {}}
			for j := i + 1; j < len(side); j++ {
				if side[j].FirstSeen.Sub(anchor.FirstSeen) > t.cfg.LayeringWindow {
					break
				}
				if absDuration(side[j].RemovedAt.Sub(*anchor.RemovedAt)) > t.cfg.LayeringWindow {
					continue
				}
				members = append(members, j)
				prices[side[j].Price] = struct{}{}
			}
			if len(prices) < t.cfg.LayeringMinLevels {
				continue
			}
			for _, m := range members {
				in[m] = true
			}
		}
		for _, ok := range in {
			if ok {
				marked++
			}
		}
	}
	return marked
}

func (t *OrderTracker) spoofing(closed []models.OrderRecord, cancelRate float64) float64 {
	all := make([]models.OrderRecord, 0, len(closed)+len(t.open))
	all = append(all, closed...)
	for _, rec := range t.open {
		all = append(all, rec.OrderRecord)
	}
	mean := 0.0
	for _, r := range all {
		mean += r.PeakSize
	}
	mean /= float64(len(all))
	if mean <= 0 {
		return 0
	}

	var large, spoofed int
	for _, r := range all {
		if r.PeakSize < t.cfg.SpoofSizeMultiple*mean {
			continue
		}
		large++
		if r.CancelledSize > 0 && r.CancelShare() >= 0.5 {
			spoofed++
		}
	}
	if large == 0 {
		return 0
	}
	return features.Clamp01(float64(spoofed) / float64(large) * cancelRate)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

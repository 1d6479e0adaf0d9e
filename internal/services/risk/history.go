package risk

import (
	"time"

	"VaultPulse/internal/domain/models"
)

type point struct {
	ts time.Time
	v  float64
}

// History keeps the equity and mark price series the scorer needs. Series are
// bounded by the retention horizon and by maxPoints each.
type History struct {
	retention time.Duration
	maxPoints int
	equity    []point
	marks     map[string][]point
}

func NewHistory(retention time.Duration, maxPoints int) *History {
	if maxPoints <= 0 {
		maxPoints = 4096
	}
	return &History{
		retention: retention,
		maxPoints: maxPoints,
		marks:     make(map[string][]point),
	}
}

// RecordAccount appends the account's equity and every position mark.
// Repeated samples with the same timestamp are ignored.
func (h *History) RecordAccount(a *models.AccountState) {
	if a == nil {
		return
	}
	if n := len(h.equity); n == 0 || a.Timestamp.After(h.equity[n-1].ts) {
		h.equity = h.bounded(append(h.equity, point{ts: a.Timestamp, v: a.Equity}))
	}
	for asset, p := range a.Positions {
		if p.MarkPrice > 0 {
			h.RecordMark(asset, p.MarkPrice, a.Timestamp)
		}
	}
}

// RecordMark appends one mark price sample.
func (h *History) RecordMark(asset string, price float64, ts time.Time) {
	series := h.marks[asset]
	if n := len(series); n > 0 && !ts.After(series[n-1].ts) {
		return
	}
	h.marks[asset] = h.bounded(append(series, point{ts: ts, v: price}))
}

func (h *History) bounded(series []point) []point {
	if over := len(series) - h.maxPoints; over > 0 {
		return append(series[:0], series[over:]...)
	}
	return series
}

// Prune drops samples older than the retention horizon.
func (h *History) Prune(now time.Time) {
	cutoff := now.Add(-h.retention)
	h.equity = trim(h.equity, cutoff)
	for asset, series := range h.marks {
		series = trim(series, cutoff)
		if len(series) == 0 {
			delete(h.marks, asset)
			continue
		}
		h.marks[asset] = series
	}
}

func trim(series []point, cutoff time.Time) []point {
	n := 0
	for n < len(series) && series[n].ts.Before(cutoff) {
		n++
	}
	if n == 0 {
		return series
	}
	return append(series[:0], series[n:]...)
}

// Equity returns the equity values, oldest first.
func (h *History) Equity() []float64 { return values(h.equity) }

// Marks returns the mark prices of one asset, oldest first.
func (h *History) Marks(asset string) []float64 { return values(h.marks[asset]) }

func values(series []point) []float64 {
	out := make([]float64, len(series))
	for i, p := range series {
		out[i] = p.v
	}
	return out
}

package models

import (
	"sort"
	"time"
)

// PhantomView pairs the phantom snapshot with the status of its composite.
// Components are zero (neutral) until the tracker has closed records.
type PhantomView struct {
	Composite Score                    `json:"composite"`
	Detail    PhantomLiquiditySnapshot `json:"detail"`
}

// AssetMetrics is the per-asset section of a snapshot.
type AssetMetrics struct {
	Asset         string       `json:"asset"`
	VPIN          Score        `json:"vpin"`
	BucketsClosed uint64       `json:"buckets_closed"`
	WindowLen     int          `json:"window_len"`
	WindowSize    int          `json:"window_size"`
	OpenBucket    VolumeBucket `json:"open_bucket"`
	Phantom       PhantomView  `json:"phantom"`
	Book          BookStats    `json:"book"`
	LastPrice     float64      `json:"last_price"`
	LastSide      Side         `json:"last_side"`
	Trades        uint64       `json:"trades"`
	BookUpdates   uint64       `json:"book_updates"`
	LastEventAt   time.Time    `json:"last_event_at"`
}

// RiskView carries the account risk and whether it could be computed.
type RiskView struct {
	Status   ScoreStatus   `json:"status"`
	Snapshot *RiskSnapshot `json:"snapshot,omitempty"`
	Reason   string        `json:"reason,omitempty"`
}

// IngestStats are engine-level counters at snapshot time.
type IngestStats struct {
	EventsApplied   uint64     `json:"events_applied"`
	InvalidDropped  uint64     `json:"invalid_dropped"`
	OutOfOrder      uint64     `json:"out_of_order"`
	AssetsTracked   int        `json:"assets_tracked"`
	AssetsPruned    uint64     `json:"assets_pruned"`
	AccountUpdateAt *time.Time `json:"account_update_at,omitempty"`
}

// MetricsSnapshot is the immutable view published on every tick. Producers
// never mutate a snapshot after handing it out.
type MetricsSnapshot struct {
	Generation uint64                  `json:"generation"`
	Timestamp  time.Time               `json:"ts"`
	Assets     map[string]AssetMetrics `json:"assets"`
	Risk       RiskView                `json:"risk"`
	Stats      IngestStats             `json:"stats"`
}

// Asset returns the section for one asset. Missing assets come back with
// unavailable scores.
func (s *MetricsSnapshot) Asset(name string) (AssetMetrics, bool) {
	if s == nil {
		return missingAsset(name), false
	}
	m, ok := s.Assets[name]
	if !ok {
		return missingAsset(name), false
	}
	return m, true
}

// AssetNames returns the tracked assets in sorted order.
func (s *MetricsSnapshot) AssetNames() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.Assets))
	for k := range s.Assets {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func missingAsset(name string) AssetMetrics {
	return AssetMetrics{
		Asset:   name,
		VPIN:    Unavailable(),
		Phantom: PhantomView{Composite: Unavailable()},
	}
}

package microstructure

import (
	"sort"

	"VaultPulse/internal/domain/models"
)

// Level is one resting price level.
type Level struct {
	Price float64
	Size  float64
}

// ComputeBookStats summarizes the top of book. depthBps bounds the depth sum
// around mid. A book missing either side reports only what it has.
func ComputeBookStats(bids, asks []Level, depthBps float64) models.BookStats {
	bids = liveLevels(bids)
	asks = liveLevels(asks)
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })

	st := models.BookStats{Levels: len(bids) + len(asks)}
	if len(bids) > 0 {
		st.BestBid = bids[0].Price
	}
	if len(asks) > 0 {
		st.BestAsk = asks[0].Price
	}
	if len(bids) == 0 || len(asks) == 0 {
		return st
	}

	mid := (st.BestBid + st.BestAsk) / 2
	if mid <= 0 {
		return st
	}
	st.SpreadBps = (st.BestAsk - st.BestBid) / mid * 10000

	lo := mid * (1 - depthBps/10000)
	hi := mid * (1 + depthBps/10000)
	for _, l := range bids {
		if l.Price < lo {
			break
		}
		st.DepthAt50Bps += l.Price * l.Size
	}
	for _, l := range asks {
		if l.Price > hi {
			break
		}
		st.DepthAt50Bps += l.Price * l.Size
	}

	if top := bids[0].Size + asks[0].Size; top > 0 {
		st.Imbalance = (bids[0].Size - asks[0].Size) / top
	}
	return st
}

func liveLevels(in []Level) []Level {
	out := make([]Level, 0, len(in))
	for _, l := range in {
		if l.Size > 0 && l.Price > 0 {
			out = append(out, l)
		}
	}
	return out
}

package hyperliquid

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"VaultPulse/internal/domain/models"
)

type wsFrame struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type wsTrade struct {
	Coin string `json:"coin"`
	Side string `json:"side"`
	Px   string `json:"px"`
	Sz   string `json:"sz"`
	Time int64  `json:"time"`
	Tid  int64  `json:"tid"`
}

type wsLevel struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
	N  int    `json:"n"`
}

type wsBook struct {
	Coin   string       `json:"coin"`
	Time   int64        `json:"time"`
	Levels [2][]wsLevel `json:"levels"`
}

type bookKey struct {
	side models.BookSide
	px   string
}

type bookLevel struct {
	price float64
	size  decimal.Decimal
}

// Normalizer turns venue frames into canonical events. The venue sends full
// L2 snapshots, so the normalizer keeps the last one per coin and emits only
// the levels that changed, with size zero for levels that vanished.
// Not safe for concurrent use.
type Normalizer struct {
	books map[string]map[bookKey]bookLevel
}

func NewNormalizer() *Normalizer {
	return &Normalizer{books: make(map[string]map[bookKey]bookLevel)}
}

// Decode parses one websocket frame. Control frames (subscription acks,
// pongs) yield no events and no error.
func (n *Normalizer) Decode(frame []byte) ([]models.Event, error) {
	var f wsFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		return nil, fmt.Errorf("%w: frame: %v", models.ErrInvalidEvent, err)
	}
	switch f.Channel {
	case "trades":
		var trades []wsTrade
		if err := json.Unmarshal(f.Data, &trades); err != nil {
			return nil, fmt.Errorf("%w: trades: %v", models.ErrInvalidEvent, err)
		}
		return n.Trades(trades)
	case "l2Book":
		var b wsBook
		if err := json.Unmarshal(f.Data, &b); err != nil {
			return nil, fmt.Errorf("%w: l2Book: %v", models.ErrInvalidEvent, err)
		}
		return n.Book(b)
	default:
		return nil, nil
	}
}

// Trades converts venue fills. A malformed element fails the whole batch.
func (n *Normalizer) Trades(raw []wsTrade) ([]models.Event, error) {
	out := make([]models.Event, 0, len(raw))
	for _, t := range raw {
		px, err := parsePositive(t.Px)
		if err != nil {
			return nil, fmt.Errorf("%w: trade %s px: %v", models.ErrInvalidEvent, t.Coin, err)
		}
		sz, err := parsePositive(t.Sz)
		if err != nil {
			return nil, fmt.Errorf("%w: trade %s sz: %v", models.ErrInvalidEvent, t.Coin, err)
		}
		out = append(out, models.NewTradeEvent(models.TradeEvent{
			Asset:     t.Coin,
			Timestamp: fromMillis(t.Time),
			Price:     px.InexactFloat64(),
			Size:      sz.InexactFloat64(),
			Side:      AggressorSide(t.Side),
		}))
	}
	return out, nil
}

// Book diffs a snapshot against the previous one for the same coin.
func (n *Normalizer) Book(b wsBook) ([]models.Event, error) {
	if b.Coin == "" {
		return nil, fmt.Errorf("%w: l2Book without coin", models.ErrInvalidEvent)
	}
	next := make(map[bookKey]bookLevel)
	for i, side := range []models.BookSide{models.BookBid, models.BookAsk} {
		for _, l := range b.Levels[i] {
			px, err := parsePositive(l.Px)
			if err != nil {
				return nil, fmt.Errorf("%w: %s level px: %v", models.ErrInvalidEvent, b.Coin, err)
			}
			sz, err := decimal.NewFromString(l.Sz)
			if err != nil || sz.IsNegative() {
				return nil, fmt.Errorf("%w: %s level sz %q", models.ErrInvalidEvent, b.Coin, l.Sz)
			}
			next[bookKey{side: side, px: px.String()}] = bookLevel{price: px.InexactFloat64(), size: sz}
		}
	}

	ts := fromMillis(b.Time)
	prev := n.books[b.Coin]
	var out []models.Event
	for k, lvl := range next {
		if old, ok := prev[k]; ok && old.size.Equal(lvl.size) {
			continue
		}
		out = append(out, bookEvent(b.Coin, k.side, lvl.price, lvl.size.InexactFloat64(), ts))
	}
	for k, old := range prev {
		if _, ok := next[k]; !ok {
			out = append(out, bookEvent(b.Coin, k.side, old.price, 0, ts))
		}
	}
	n.books[b.Coin] = next

	sort.Slice(out, func(i, j int) bool {
		a, c := out[i].Book, out[j].Book
		if a.Side != c.Side {
			return a.Side < c.Side
		}
		return a.Price < c.Price
	})
	return out, nil
}

// Forget drops the remembered book of a coin.
func (n *Normalizer) Forget(coin string) { delete(n.books, coin) }

// AggressorSide maps the venue's B (buyer took liquidity) and A (seller took
// liquidity) letters. Anything else is left to the tick rule.
func AggressorSide(s string) models.Side {
	switch s {
	case "B":
		return models.SideBuy
	case "A":
		return models.SideSell
	default:
		return models.SideUnknown
	}
}

func bookEvent(coin string, side models.BookSide, price, size float64, ts time.Time) models.Event {
	return models.NewBookEvent(models.BookUpdate{Asset: coin, Side: side, Price: price, Size: size, Timestamp: ts})
}

func parsePositive(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s not positive", s)
	}
	return d, nil
}

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

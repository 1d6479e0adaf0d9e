package models

import (
	"fmt"
	"math"
	"time"
)

// Side is the aggressor side of a trade. SideUnknown means the venue did not
// signal it and the tick classifier has to resolve it.
type Side int8

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// MarshalText renders the side as a lowercase word.
func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText accepts the lowercase words and the venue letters B/A.
func (s *Side) UnmarshalText(b []byte) error {
	switch string(b) {
	case "buy", "B", "b":
		*s = SideBuy
	case "sell", "A", "a", "S", "s":
		*s = SideSell
	case "", "unknown":
		*s = SideUnknown
	default:
		return fmt.Errorf("unknown side %q", string(b))
	}
	return nil
}

// BookSide is the resting side of an order book level.
type BookSide int8

const (
	BookBid BookSide = iota + 1
	BookAsk
)

func (s BookSide) String() string {
	switch s {
	case BookBid:
		return "bid"
	case BookAsk:
		return "ask"
	default:
		return "none"
	}
}

func (s BookSide) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *BookSide) UnmarshalText(b []byte) error {
	switch string(b) {
	case "bid", "bids", "B":
		*s = BookBid
	case "ask", "asks", "A":
		*s = BookAsk
	default:
		return fmt.Errorf("unknown book side %q", string(b))
	}
	return nil
}

// Consumes reports the book side a trade with this aggressor side takes
// liquidity from: buyers lift asks, sellers hit bids.
func (s Side) Consumes() BookSide {
	switch s {
	case SideBuy:
		return BookAsk
	case SideSell:
		return BookBid
	default:
		return 0
	}
}

// TradeEvent is a single executed trade on one asset.
type TradeEvent struct {
	Asset     string    `json:"asset"`
	Timestamp time.Time `json:"ts"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Side      Side      `json:"side"`
}

// Notional returns price * size.
func (t TradeEvent) Notional() float64 { return t.Price * t.Size }

// BookUpdate carries the new absolute size resting at one price level.
// Size zero means the level was removed.
type BookUpdate struct {
	Asset     string    `json:"asset"`
	Side      BookSide  `json:"side"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Timestamp time.Time `json:"ts"`
}

// EventKind tags the payload carried by an Event.
type EventKind string

const (
	KindTrade EventKind = "trade"
	KindBook  EventKind = "book"
)

// Event is the canonical envelope flowing through the ingest pipeline.
type Event struct {
	Kind  EventKind   `json:"kind"`
	Trade *TradeEvent `json:"trade,omitempty"`
	Book  *BookUpdate `json:"book,omitempty"`
}

// NewTradeEvent wraps a trade into an envelope.
func NewTradeEvent(t TradeEvent) Event { return Event{Kind: KindTrade, Trade: &t} }

// NewBookEvent wraps a book update into an envelope.
func NewBookEvent(b BookUpdate) Event { return Event{Kind: KindBook, Book: &b} }

// Asset returns the asset of the wrapped payload.
func (e Event) Asset() string {
	switch {
	case e.Trade != nil:
		return e.Trade.Asset
	case e.Book != nil:
		return e.Book.Asset
	}
	return ""
}

// Time returns the event timestamp of the wrapped payload.
func (e Event) Time() time.Time {
	switch {
	case e.Trade != nil:
		return e.Trade.Timestamp
	case e.Book != nil:
		return e.Book.Timestamp
	}
	return time.Time{}
}

// Validate checks structural soundness. Failures wrap ErrInvalidEvent.
func (e Event) Validate() error {
	switch e.Kind {
	case KindTrade:
		if e.Trade == nil {
			return fmt.Errorf("%w: trade payload missing", ErrInvalidEvent)
		}
		return e.Trade.Validate()
	case KindBook:
		if e.Book == nil {
			return fmt.Errorf("%w: book payload missing", ErrInvalidEvent)
		}
		return e.Book.Validate()
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, e.Kind)
	}
}

// finite reports whether v is a usable quantity (not NaN or ±Inf).
func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// Validate rejects empty assets, zero timestamps, non-positive price or size
// and any price, size or notional that is not finite.
func (t TradeEvent) Validate() error {
	if t.Asset == "" {
		return fmt.Errorf("%w: asset empty", ErrInvalidEvent)
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp missing", ErrInvalidEvent)
	}
	if !(t.Price > 0) {
		return fmt.Errorf("%w: price %v not positive", ErrInvalidEvent, t.Price)
	}
	if !(t.Size > 0) {
		return fmt.Errorf("%w: size %v not positive", ErrInvalidEvent, t.Size)
	}
	if !finite(t.Price) || !finite(t.Size) || !finite(t.Notional()) {
		return fmt.Errorf("%w: price %v size %v not finite", ErrInvalidEvent, t.Price, t.Size)
	}
	return nil
}

// Validate allows zero size (level removal) but not negative or non-finite size.
func (b BookUpdate) Validate() error {
	if b.Asset == "" {
		return fmt.Errorf("%w: asset empty", ErrInvalidEvent)
	}
	if b.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp missing", ErrInvalidEvent)
	}
	if b.Side != BookBid && b.Side != BookAsk {
		return fmt.Errorf("%w: book side missing", ErrInvalidEvent)
	}
	if !(b.Price > 0) || !finite(b.Price) {
		return fmt.Errorf("%w: price %v not positive", ErrInvalidEvent, b.Price)
	}
	if !(b.Size >= 0) || !finite(b.Size) {
		return fmt.Errorf("%w: size %v negative or not finite", ErrInvalidEvent, b.Size)
	}
	return nil
}

package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DOMAIN TYPES - Shared enums and value objects
// ═══════════════════════════════════════════════════════════════════════════════

// Venue identifies the exchange an instrument trades on.
type Venue string

const (
	VenueASX    Venue = "ASX"
	VenueNASDAQ Venue = "NASDAQ"
	VenueNYSE   Venue = "NYSE"
	VenueTSX    Venue = "TSX"
)

// Class maps a venue to its trading-session group. NASDAQ and NYSE share
// the US session; ASX and TSX are their own.
func (v Venue) Class() string {
	switch v {
	case VenueNASDAQ, VenueNYSE:
		return "US"
	case VenueASX:
		return "ASX"
	case VenueTSX:
		return "TSX"
	}
	return string(v)
}

// ParseVenue converts a stored string back to a Venue.
func ParseVenue(s string) (Venue, error) {
	switch Venue(s) {
	case VenueASX, VenueNASDAQ, VenueNYSE, VenueTSX:
		return Venue(s), nil
	}
	return "", fmt.Errorf("unknown venue: %q", s)
}

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType is the order execution style.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStop      OrderType = "STOP"
	OrderTypeStopLimit OrderType = "STOP_LIMIT"
)

// OrderStatus is the order lifecycle state.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusSubmitted OrderStatus = "SUBMITTED"
	StatusPartial   OrderStatus = "PARTIAL"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusRejected  OrderStatus = "REJECTED"
)

// Active reports whether the order can still receive fills.
func (s OrderStatus) Active() bool {
	return s == StatusPending || s == StatusSubmitted || s == StatusPartial
}

// SignalSnapshot is the signal context captured on an order at submission
// time, for later auditing.
type SignalSnapshot struct {
	Score       float64  `json:"score"`
	Regime      string   `json:"regime,omitempty"`
	Confidence  *float64 `json:"confidence,omitempty"`
	SignalPrice float64  `json:"signal_price"`
}

// OrderIntent is a trading intent before admission.
type OrderIntent struct {
	WalletID   string
	Ticker     string
	Venue      Venue
	Side       Side
	OrderType  OrderType
	Quantity   int64
	LimitPrice decimal.NullDecimal
	StopPrice  decimal.NullDecimal
	Signal     *SignalSnapshot
}

// Validate checks structural requirements before the intent reaches the
// engine. Monetary checks happen at admission.
func (i OrderIntent) Validate() error {
	if i.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %d", i.Quantity)
	}
	if i.OrderType == OrderTypeLimit || i.OrderType == OrderTypeStopLimit {
		if !i.LimitPrice.Valid {
			return fmt.Errorf("%s order requires limit price", i.OrderType)
		}
	}
	if i.OrderType == OrderTypeStop || i.OrderType == OrderTypeStopLimit {
		if !i.StopPrice.Valid {
			return fmt.Errorf("%s order requires stop price", i.OrderType)
		}
	}
	return nil
}

// Quote is a point-in-time price observation for (ticker, venue).
type Quote struct {
	Ticker    string
	Venue     Venue
	Price     decimal.Decimal
	Bid       decimal.NullDecimal
	Ask       decimal.NullDecimal
	Volume    int64
	Timestamp time.Time
	Provider  string
}

// Mid returns the bid/ask midpoint, falling back to the last price when a
// side is missing.
func (q Quote) Mid() decimal.Decimal {
	if q.Bid.Valid && q.Ask.Valid {
		return q.Bid.Decimal.Add(q.Ask.Decimal).Div(decimal.NewFromInt(2))
	}
	return q.Price
}

// Spread returns ask-bid, or false when either side is missing.
func (q Quote) Spread() (decimal.Decimal, bool) {
	if q.Bid.Valid && q.Ask.Valid {
		return q.Ask.Decimal.Sub(q.Bid.Decimal), true
	}
	return decimal.Zero, false
}

// SpreadBps returns the spread in basis points of the midpoint.
func (q Quote) SpreadBps() (decimal.Decimal, bool) {
	spread, ok := q.Spread()
	if !ok {
		return decimal.Zero, false
	}
	mid := q.Mid()
	if mid.IsZero() {
		return decimal.Zero, false
	}
	return spread.Div(mid).Mul(decimal.NewFromInt(10000)), true
}

// Signal is one row from the upstream signal producer.
type Signal struct {
	Ticker     string          `db:"ticker"`
	Score      decimal.Decimal `db:"score"`
	Price      decimal.Decimal `db:"price"`
	Regime     string          `db:"regime"`
	Confidence *float64        `db:"confidence"`
	Market     string          `db:"market"`
}

// VenueFor maps a signal's market label to the venue an order is routed to.
// US signals default to NASDAQ (the original producer does not distinguish
// listing exchanges).
func (s Signal) VenueFor() Venue {
	switch s.Market {
	case "US":
		return VenueNASDAQ
	case "ASX":
		return VenueASX
	case "TSX":
		return VenueTSX
	}
	if v, err := ParseVenue(s.Market); err == nil {
		return v
	}
	return VenueNASDAQ
}

// Dec is shorthand for building decimals from strings in tables and tests.
// Panics on malformed input, so use only with literals.
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

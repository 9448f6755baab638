// Package marketdata fetches live quotes per (ticker, venue) with caching,
// rate limiting, and circuit breaking around the upstream API.
package marketdata

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/quoterite/papertrader/internal/types"
)

// Provider is the quote-source capability. GetQuote returns (nil, nil) when
// no quote is available and the failure was absorbed (counted against the
// breaker); a non-nil error means the caller cannot proceed at all, e.g.
// the breaker is open and realtime data is required.
type Provider interface {
	GetQuote(ctx context.Context, ticker string, venue types.Venue) (*types.Quote, error)
	GetSpreadModel(ticker string, venue types.Venue, price decimal.Decimal) (decimal.NullDecimal, decimal.NullDecimal)
}

// SyntheticProviderTag marks quotes produced from the reference-price table
// rather than the upstream API.
const SyntheticProviderTag = "synthetic-fallback"

// referencePrices are conservative estimates used for synthetic quotes when
// the upstream is unavailable and the caller tolerates stale data.
var referencePrices = map[string]decimal.Decimal{
	// Tech
	"AAPL": decimal.NewFromInt(180),
	"MSFT": decimal.NewFromInt(410),
	"GOOGL": decimal.NewFromInt(140),
	"AMZN": decimal.NewFromInt(180),
	"NVDA": decimal.NewFromInt(480),
	"META": decimal.NewFromInt(490),
	"TSLA": decimal.NewFromInt(200),
	"AMD":  decimal.NewFromInt(160),
	// Value
	"BRK.B": decimal.NewFromInt(420),
	"JPM":   decimal.NewFromInt(200),
	"JNJ":   decimal.NewFromInt(150),
	"PG":    decimal.NewFromInt(170),
	"KO":    decimal.NewFromInt(63),
	"V":     decimal.NewFromInt(270),
	// ETFs
	"SPY": decimal.NewFromInt(550),
	"QQQ": decimal.NewFromInt(480),
	"DIA": decimal.NewFromInt(430),
	"IWM": decimal.NewFromInt(215),
	"XLK": decimal.NewFromInt(220),
	"XLF": decimal.NewFromInt(42),
	"XLE": decimal.NewFromInt(85),
	"XLV": decimal.NewFromInt(145),
	"XLI": decimal.NewFromInt(125),
	// Volatility
	"VXX":  decimal.NewFromInt(45),
	"UVXY": decimal.NewFromInt(18),
	"VIXY": decimal.NewFromInt(16),
}

var defaultReferencePrice = decimal.NewFromInt(150)

// ReferencePrice returns the synthetic-quote price for a ticker.
func ReferencePrice(ticker string) decimal.Decimal {
	if p, ok := referencePrices[ticker]; ok {
		return p
	}
	return defaultReferencePrice
}

// SynthesiseSpread builds a symmetric bid/ask around price from a
// basis-point half-spread, rounded to four fractional digits half-to-even.
func SynthesiseSpread(price, spreadBps decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	factor := spreadBps.Div(decimal.NewFromInt(10000))
	one := decimal.NewFromInt(1)
	bid := price.Mul(one.Sub(factor)).RoundBank(4)
	ask := price.Mul(one.Add(factor)).RoundBank(4)
	return bid, ask
}

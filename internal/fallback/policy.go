// Package fallback proposes conservative orders when the signal source
// goes quiet, so every wallet still produces auditable activity.
package fallback

import (
	"github.com/shopspring/decimal"

	"github.com/quoterite/papertrader/internal/ledger"
	"github.com/quoterite/papertrader/internal/types"
)

// Proposal is one fallback order suggestion. The runner sizes nothing here;
// quantity and any limit price are the policy's decision.
type Proposal struct {
	Ticker         string
	Venue          types.Venue
	Side           types.Side
	OrderType      types.OrderType
	Quantity       int64
	LimitPrice     decimal.NullDecimal
	EstimatedPrice decimal.Decimal
	ReasonCodes    []string
}

// EstimatedCost is quantity times the estimated price, for risk checks.
func (p *Proposal) EstimatedCost() decimal.Decimal {
	return decimal.NewFromInt(p.Quantity).Mul(p.EstimatedPrice)
}

// Policy generates one proposal per wallet once signal starvation crosses
// its threshold. held maps tickers the wallet already owns.
type Policy interface {
	Name() string

	// Threshold is the number of consecutive starved minutes before the
	// policy activates.
	Threshold() int

	// Propose returns the wallet's fallback order, or false when the
	// policy declines (e.g. the wallet already had its lifetime trade).
	Propose(wallet *ledger.Wallet, held map[string]bool) (*Proposal, bool)
}

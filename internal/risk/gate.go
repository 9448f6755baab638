// Package risk rejects order intents that violate per-wallet constraints.
// The gate is a pure predicate: it never mutates state and never errors,
// it only answers with a stable reason code.
package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/quoterite/papertrader/internal/ledger"
)

// Reason codes surfaced in runner results.
const (
	ReasonMaxPositions      = "MAX_POSITIONS_REACHED"
	ReasonPositionTooLarge  = "POSITION_TOO_LARGE"
	ReasonInsufficientPower = "INSUFFICIENT_BUYING_POWER"
)

// Rules holds the per-wallet limits.
type Rules struct {
	MaxConcurrentPositions int             // R1
	MaxPositionPct         decimal.Decimal // R2: fraction of initial balance
	MinReservePct          decimal.Decimal // R3: cash reserve fraction
}

// DefaultRules returns the standard limits: 5 positions, 20% concentration,
// 10% cash reserve.
func DefaultRules() Rules {
	return Rules{
		MaxConcurrentPositions: 5,
		MaxPositionPct:         decimal.NewFromFloat(0.20),
		MinReservePct:          decimal.NewFromFloat(0.10),
	}
}

// Check validates an intent's estimated cost against the wallet. Returns
// (true, "") when the order may proceed, otherwise (false, reason). The
// reason code is the stable prefix; detail follows in parentheses.
func (r Rules) Check(wallet *ledger.Wallet, estimatedCost decimal.Decimal, openPositions int) (bool, string) {
	// R1: concurrent position count
	if openPositions >= r.MaxConcurrentPositions {
		return false, fmt.Sprintf("%s (%d/%d)", ReasonMaxPositions, openPositions, r.MaxConcurrentPositions)
	}

	// R2: concentration against initial balance
	maxPositionSize := wallet.InitialBalance.Mul(r.MaxPositionPct)
	if estimatedCost.GreaterThan(maxPositionSize) {
		return false, fmt.Sprintf("%s ($%s > $%s)", ReasonPositionTooLarge,
			estimatedCost.StringFixed(2), maxPositionSize.StringFixed(2))
	}

	// R3: cash reserve
	minReserve := wallet.InitialBalance.Mul(r.MinReservePct)
	if wallet.BuyingPower().Sub(estimatedCost).LessThan(minReserve) {
		return false, fmt.Sprintf("%s (need reserve: $%s)", ReasonInsufficientPower,
			minReserve.StringFixed(2))
	}

	return true, ""
}

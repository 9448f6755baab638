package fallback

import (
	"fmt"
	"hash/fnv"

	"github.com/shopspring/decimal"

	"github.com/quoterite/papertrader/internal/ledger"
	"github.com/quoterite/papertrader/internal/types"
)

// asxBlueChips are the only tickers the ASX proof policy will touch.
var asxBlueChips = []string{
	"BHP.AX", "CBA.AX", "NAB.AX", "WBC.AX", "ANZ.AX",
	"WES.AX", "WOW.AX", "RIO.AX", "CSL.AX", "FMG.AX",
}

// asxEstimates are conservative per-share prices for parcel sizing.
var asxEstimates = map[string]decimal.Decimal{
	"BHP.AX": types.Dec("42.00"),
	"CBA.AX": types.Dec("130.00"),
	"NAB.AX": types.Dec("35.00"),
	"WBC.AX": types.Dec("28.00"),
	"ANZ.AX": types.Dec("29.00"),
	"WES.AX": types.Dec("65.00"),
	"WOW.AX": types.Dec("35.00"),
	"RIO.AX": types.Dec("120.00"),
	"CSL.AX": types.Dec("280.00"),
	"FMG.AX": types.Dec("18.00"),
}

var asxDefaultEstimate = types.Dec("50.00")

// MinParcelAUD is the ASX minimum marketable parcel.
var MinParcelAUD = types.Dec("500.00")

// ASXProof places one LIMIT buy of a single blue-chip share per wallet,
// ever. It exists to prove the ASX pipeline end to end, not to trade; the
// quantity of one deliberately waives the minimum parcel.
type ASXProof struct {
	threshold int
	done      map[string]bool
}

// NewASXProof builds the ASX policy with the given starvation threshold
// (minutes, default 3).
func NewASXProof(threshold int) *ASXProof {
	if threshold <= 0 {
		threshold = 3
	}
	return &ASXProof{threshold: threshold, done: make(map[string]bool)}
}

func (a *ASXProof) Name() string   { return "asx-proof" }
func (a *ASXProof) Threshold() int { return a.threshold }

// Propose picks a blue chip deterministically from the wallet name, once
// per wallet per process lifetime.
func (a *ASXProof) Propose(wallet *ledger.Wallet, held map[string]bool) (*Proposal, bool) {
	if a.done[wallet.ID] {
		return nil, false
	}

	h := fnv.New32a()
	h.Write([]byte(wallet.Name))
	ticker := asxBlueChips[int(h.Sum32())%len(asxBlueChips)]

	if held[ticker] {
		return nil, false
	}

	estimate, ok := asxEstimates[ticker]
	if !ok {
		estimate = asxDefaultEstimate
	}

	return &Proposal{
		Ticker:         ticker,
		Venue:          types.VenueASX,
		Side:           types.SideBuy,
		OrderType:      types.OrderTypeLimit,
		Quantity:       1,
		LimitPrice:     decimal.NewNullDecimal(estimate),
		EstimatedPrice: estimate,
		ReasonCodes:    []string{"ASX_PROOF_OF_LIFE_QTY1"},
	}, true
}

// MarkDone records that a wallet's proof order was submitted, preventing a
// second attempt this run.
func (a *ASXProof) MarkDone(walletID string) {
	a.done[walletID] = true
}

// ValidateParcel enforces the ASX minimum marketable parcel for sized
// orders. The quantity-one proof order skips this check.
func ValidateParcel(quantity int64, price decimal.Decimal) (bool, string) {
	value := decimal.NewFromInt(quantity).Mul(price)
	if value.LessThan(MinParcelAUD) {
		return false, fmt.Sprintf("BELOW_MIN_PARCEL ($%s < $%s)",
			value.StringFixed(2), MinParcelAUD.StringFixed(2))
	}
	return true, ""
}

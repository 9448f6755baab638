package fallback

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quoterite/papertrader/internal/ledger"
	"github.com/quoterite/papertrader/internal/types"
)

func wallet(name string) *ledger.Wallet {
	return &ledger.Wallet{ID: "id-" + name, Name: name}
}

func TestUSDailyPicksFromStrategyPool(t *testing.T) {
	policy := NewUSDaily(1, rand.New(rand.NewSource(7)))

	p, ok := policy.Propose(wallet("Momentum-Long"), nil)
	require.True(t, ok)
	assert.Contains(t, walletPools["Momentum-Long"], p.Ticker)
	assert.Equal(t, types.SideBuy, p.Side)
	assert.Equal(t, types.OrderTypeMarket, p.OrderType)
	assert.Equal(t, int64(1), p.Quantity)
	assert.True(t, p.EstimatedPrice.Equal(types.Dec("150.00")))
	assert.Equal(t, []string{"FALLBACK_DAILY"}, p.ReasonCodes)
}

func TestUSDailyUnknownWalletUsesDefaultPool(t *testing.T) {
	policy := NewUSDaily(1, rand.New(rand.NewSource(7)))
	p, ok := policy.Propose(wallet("Experimental-Alpha"), nil)
	require.True(t, ok)
	assert.Contains(t, defaultPool, p.Ticker)
}

func TestUSDailySkipsHeldTickers(t *testing.T) {
	policy := NewUSDaily(1, rand.New(rand.NewSource(7)))
	held := map[string]bool{
		"AAPL": true, "MSFT": true, "NVDA": true, "TSLA": true,
	}
	p, ok := policy.Propose(wallet("Momentum-Long"), held)
	require.True(t, ok)
	assert.Equal(t, "META", p.Ticker, "the only unheld pool member")
}

func TestUSDailyFullPoolFallsThroughToDefault(t *testing.T) {
	policy := NewUSDaily(1, rand.New(rand.NewSource(7)))
	held := map[string]bool{
		"AAPL": true, "MSFT": true, "NVDA": true, "TSLA": true, "META": true,
	}
	p, ok := policy.Propose(wallet("Momentum-Long"), held)
	require.True(t, ok)
	assert.Contains(t, []string{"SPY", "QQQ", "GOOGL"}, p.Ticker)
}

func TestUSQuantityByWalletClass(t *testing.T) {
	assert.Equal(t, int64(5), usQuantity("Volatility-Long"))
	assert.Equal(t, int64(10), usQuantity("Small-Cap-Growth"))
	assert.Equal(t, int64(15), usQuantity("Dividend-Yield"))
	assert.Equal(t, int64(15), usQuantity("High-Dividend-Aristocrats"))
	assert.Equal(t, int64(1), usQuantity("Momentum-Long"))
}

func TestUSVenueAttribution(t *testing.T) {
	assert.Equal(t, types.VenueNYSE, usVenue("SPY"))
	assert.Equal(t, types.VenueNYSE, usVenue("DIA"))
	assert.Equal(t, types.VenueNYSE, usVenue("IWM"))
	assert.Equal(t, types.VenueNYSE, usVenue("XLF"))
	assert.Equal(t, types.VenueNASDAQ, usVenue("QQQ"))
	assert.Equal(t, types.VenueNASDAQ, usVenue("AAPL"))
	assert.Equal(t, types.VenueNASDAQ, usVenue("VXX"))
}

func TestUSDailyThreshold(t *testing.T) {
	assert.Equal(t, 1, NewUSDaily(0, nil).Threshold())
	assert.Equal(t, 2, NewUSDaily(2, nil).Threshold())
}

func TestASXProofDeterministicPick(t *testing.T) {
	policy := NewASXProof(3)
	w := wallet("ASX-Pilot")

	first, ok := policy.Propose(w, nil)
	require.True(t, ok)
	second, ok := policy.Propose(w, nil)
	require.True(t, ok)
	assert.Equal(t, first.Ticker, second.Ticker, "same wallet, same pick")
	assert.Contains(t, asxBlueChips, first.Ticker)

	assert.Equal(t, types.VenueASX, first.Venue)
	assert.Equal(t, types.OrderTypeLimit, first.OrderType)
	assert.Equal(t, int64(1), first.Quantity)
	require.True(t, first.LimitPrice.Valid)
	assert.True(t, first.LimitPrice.Decimal.Equal(asxEstimates[first.Ticker]))
	assert.Equal(t, []string{"ASX_PROOF_OF_LIFE_QTY1"}, first.ReasonCodes)
}

func TestASXProofOncePerWallet(t *testing.T) {
	policy := NewASXProof(3)
	w := wallet("ASX-Pilot")

	_, ok := policy.Propose(w, nil)
	require.True(t, ok)

	policy.MarkDone(w.ID)
	_, ok = policy.Propose(w, nil)
	assert.False(t, ok)
}

func TestASXProofDeclinesWhenHeld(t *testing.T) {
	policy := NewASXProof(3)
	w := wallet("ASX-Pilot")

	p, ok := policy.Propose(w, nil)
	require.True(t, ok)

	_, ok = policy.Propose(w, map[string]bool{p.Ticker: true})
	assert.False(t, ok)
}

func TestASXThresholdDefault(t *testing.T) {
	assert.Equal(t, 3, NewASXProof(0).Threshold())
	assert.Equal(t, 5, NewASXProof(5).Threshold())
}

func TestValidateParcel(t *testing.T) {
	ok, reason := ValidateParcel(10, types.Dec("50.00"))
	assert.True(t, ok)
	assert.Empty(t, reason)

	ok, reason = ValidateParcel(10, types.Dec("49.99"))
	assert.False(t, ok)
	assert.Contains(t, reason, "BELOW_MIN_PARCEL")

	// Boundary is inclusive.
	ok, _ = ValidateParcel(1, types.Dec("500.00"))
	assert.True(t, ok)
}

func TestProposalEstimatedCost(t *testing.T) {
	p := &Proposal{Quantity: 15, EstimatedPrice: types.Dec("150.00")}
	assert.True(t, p.EstimatedCost().Equal(types.Dec("2250.00")))
}

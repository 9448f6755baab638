package types

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVenueClass(t *testing.T) {
	assert.Equal(t, "US", VenueNASDAQ.Class())
	assert.Equal(t, "US", VenueNYSE.Class())
	assert.Equal(t, "ASX", VenueASX.Class())
	assert.Equal(t, "TSX", VenueTSX.Class())
}

func TestParseVenue(t *testing.T) {
	v, err := ParseVenue("NASDAQ")
	require.NoError(t, err)
	assert.Equal(t, VenueNASDAQ, v)

	_, err = ParseVenue("LSE")
	assert.Error(t, err)
}

func TestQuoteMid(t *testing.T) {
	q := Quote{
		Price: Dec("100.00"),
		Bid:   decimal.NewNullDecimal(Dec("99.90")),
		Ask:   decimal.NewNullDecimal(Dec("100.10")),
	}
	assert.True(t, q.Mid().Equal(Dec("100.00")))

	// Missing a side falls back to last price.
	q.Ask = decimal.NullDecimal{}
	assert.True(t, q.Mid().Equal(Dec("100.00")))
}

func TestQuoteSpread(t *testing.T) {
	q := Quote{
		Price: Dec("100.00"),
		Bid:   decimal.NewNullDecimal(Dec("99.90")),
		Ask:   decimal.NewNullDecimal(Dec("100.10")),
	}

	spread, ok := q.Spread()
	require.True(t, ok)
	assert.True(t, spread.Equal(Dec("0.20")))

	bps, ok := q.SpreadBps()
	require.True(t, ok)
	assert.True(t, bps.Equal(Dec("20")))

	q.Bid = decimal.NullDecimal{}
	_, ok = q.Spread()
	assert.False(t, ok)
}

func TestIntentValidate(t *testing.T) {
	base := OrderIntent{
		WalletID:  "w1",
		Ticker:    "AAPL",
		Venue:     VenueNASDAQ,
		Side:      SideBuy,
		OrderType: OrderTypeMarket,
		Quantity:  10,
	}
	assert.NoError(t, base.Validate())

	zero := base
	zero.Quantity = 0
	assert.Error(t, zero.Validate())

	limit := base
	limit.OrderType = OrderTypeLimit
	assert.Error(t, limit.Validate(), "limit without price")
	limit.LimitPrice = decimal.NewNullDecimal(Dec("150"))
	assert.NoError(t, limit.Validate())

	stop := base
	stop.OrderType = OrderTypeStopLimit
	stop.LimitPrice = decimal.NewNullDecimal(Dec("150"))
	assert.Error(t, stop.Validate(), "stop-limit without stop price")
	stop.StopPrice = decimal.NewNullDecimal(Dec("149"))
	assert.NoError(t, stop.Validate())
}

func TestSignalVenueFor(t *testing.T) {
	assert.Equal(t, VenueNASDAQ, Signal{Market: "US"}.VenueFor())
	assert.Equal(t, VenueASX, Signal{Market: "ASX"}.VenueFor())
	assert.Equal(t, VenueTSX, Signal{Market: "TSX"}.VenueFor())
	assert.Equal(t, VenueNYSE, Signal{Market: "NYSE"}.VenueFor())
	assert.Equal(t, VenueNASDAQ, Signal{Market: "???"}.VenueFor())
}

func TestOrderStatusActive(t *testing.T) {
	assert.True(t, StatusPending.Active())
	assert.True(t, StatusSubmitted.Active())
	assert.True(t, StatusPartial.Active())
	assert.False(t, StatusFilled.Active())
	assert.False(t, StatusCancelled.Active())
	assert.False(t, StatusRejected.Active())
}

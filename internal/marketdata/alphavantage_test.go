package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/quoterite/papertrader/internal/types"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc, opts AlphaVantageOptions) (*AlphaVantage, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	opts.BaseURL = srv.URL
	if opts.APIKey == "" {
		opts.APIKey = "test-key"
	}
	p := NewAlphaVantage(opts)
	p.limiter = rate.NewLimiter(rate.Inf, 1)
	p.sleep = func(time.Duration) {}
	return p, srv
}

func quoteBody(price string, volume int64) string {
	return fmt.Sprintf(`{"Global Quote": {"01. symbol": "AAPL", "05. price": "%s", "06. volume": "%d"}}`, price, volume)
}

func TestGetQuoteParsesResponse(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GLOBAL_QUOTE", r.URL.Query().Get("function"))
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, quoteBody("187.4400", 52340000))
	}, AlphaVantageOptions{UseSpreadModel: true})

	q, err := p.GetQuote(context.Background(), "AAPL", types.VenueNASDAQ)
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.True(t, q.Price.Equal(types.Dec("187.44")))
	assert.Equal(t, int64(52340000), q.Volume)
	assert.Equal(t, "alphavantage-realtime", q.Provider)

	// 10bps half-spread around the price.
	require.True(t, q.Bid.Valid)
	require.True(t, q.Ask.Valid)
	assert.True(t, q.Bid.Decimal.LessThan(q.Price))
	assert.True(t, q.Ask.Decimal.GreaterThan(q.Price))
}

func TestCacheHitSkipsUpstream(t *testing.T) {
	var hits int32
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, quoteBody("187.44", 1000))
	}, AlphaVantageOptions{CacheTTL: time.Hour})

	ctx := context.Background()
	first, err := p.GetQuote(ctx, "AAPL", types.VenueNASDAQ)
	require.NoError(t, err)
	second, err := p.GetQuote(ctx, "AAPL", types.VenueNASDAQ)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Equal(t, first, second)

	// A different venue is a different cache key.
	_, err = p.GetQuote(ctx, "AAPL", types.VenueNYSE)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestCacheExpires(t *testing.T) {
	var hits int32
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, quoteBody("187.44", 1000))
	}, AlphaVantageOptions{CacheTTL: time.Minute})

	base := time.Now()
	p.now = func() time.Time { return base }

	ctx := context.Background()
	_, err := p.GetQuote(ctx, "AAPL", types.VenueNASDAQ)
	require.NoError(t, err)

	p.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, err = p.GetQuote(ctx, "AAPL", types.VenueNASDAQ)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestAbsorbedFailureReturnsNilNil(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"Error Message": "Invalid API call"}`)
	}, AlphaVantageOptions{})

	q, err := p.GetQuote(context.Background(), "AAPL", types.VenueNASDAQ)
	assert.NoError(t, err)
	assert.Nil(t, q)
}

func TestBreakerOpensAndFailsFast(t *testing.T) {
	var hits int32
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}, AlphaVantageOptions{RequireRealtime: true, MaxFailures: 3})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		q, err := p.GetQuote(ctx, "AAPL", types.VenueNASDAQ)
		assert.NoError(t, err)
		assert.Nil(t, q)
	}
	require.True(t, p.BreakerOpen())
	before := atomic.LoadInt32(&hits)

	// Open breaker with realtime required: hard error, no HTTP request.
	_, err := p.GetQuote(ctx, "AAPL", types.VenueNASDAQ)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, before, atomic.LoadInt32(&hits))
}

func TestBreakerOpenServesSynthetic(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, AlphaVantageOptions{RequireRealtime: false, MaxFailures: 2, UseSpreadModel: true})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		p.GetQuote(ctx, "AAPL", types.VenueNASDAQ)
	}
	require.True(t, p.BreakerOpen())

	q, err := p.GetQuote(ctx, "AAPL", types.VenueNASDAQ)
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, SyntheticProviderTag, q.Provider)
	assert.True(t, q.Price.Equal(ReferencePrice("AAPL")))
	assert.True(t, q.Bid.Valid)
	assert.True(t, q.Ask.Valid)
}

func TestResetClosesBreaker(t *testing.T) {
	var fail int32 = 1
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(&fail) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, quoteBody("187.44", 1000))
	}, AlphaVantageOptions{RequireRealtime: true, MaxFailures: 2})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		p.GetQuote(ctx, "AAPL", types.VenueNASDAQ)
	}
	require.True(t, p.BreakerOpen())

	// Operator fixes the upstream, then resets.
	atomic.StoreInt32(&fail, 0)
	p.Reset()
	assert.False(t, p.BreakerOpen())

	q, err := p.GetQuote(ctx, "AAPL", types.VenueNASDAQ)
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.True(t, q.Price.Equal(types.Dec("187.44")))
}

func TestRateLimitedRetriesOnce(t *testing.T) {
	var hits int32
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, quoteBody("187.44", 1000))
	}, AlphaVantageOptions{})

	q, err := p.GetQuote(context.Background(), "AAPL", types.VenueNASDAQ)
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestSynthesiseSpread(t *testing.T) {
	bid, ask := SynthesiseSpread(types.Dec("100"), types.Dec("10"))
	assert.True(t, bid.Equal(types.Dec("99.9")), "got %s", bid)
	assert.True(t, ask.Equal(types.Dec("100.1")), "got %s", ask)

	// Four fractional digits, half-to-even.
	bid, ask = SynthesiseSpread(types.Dec("123.4567"), types.Dec("10"))
	assert.Equal(t, int32(-4), bid.Exponent())
	assert.True(t, ask.GreaterThan(bid))
}

func TestReferencePriceDefault(t *testing.T) {
	assert.True(t, ReferencePrice("AAPL").Equal(types.Dec("180")))
	assert.True(t, ReferencePrice("ZZZZ").Equal(types.Dec("150")))
}

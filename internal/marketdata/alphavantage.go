package marketdata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/quoterite/papertrader/internal/types"
)

const alphaVantageBaseURL = "https://www.alphavantage.co"

// Premium realtime tier: 150 requests/minute. The rolling counter stops at
// 145 to stay under the hard ceiling.
const (
	requestsPerMinuteCap = 145
	minRequestInterval   = 400 * time.Millisecond
)

// ErrCircuitOpen is returned when the breaker is open and the caller
// requires realtime data. Recovery is an explicit operator Reset; the
// breaker never half-opens on its own.
var ErrCircuitOpen = errors.New("market data circuit breaker open")

// AlphaVantageOptions configures the live provider.
type AlphaVantageOptions struct {
	APIKey          string
	CacheTTL        time.Duration
	SpreadBps       decimal.Decimal
	UseSpreadModel  bool
	RequireRealtime bool
	RequestTimeout  time.Duration
	MaxFailures     uint32 // consecutive failures before the breaker opens
	BaseURL         string // test override
}

type cachedQuote struct {
	quote     *types.Quote
	fetchedAt time.Time
}

// AlphaVantage fetches realtime quotes from the Alpha Vantage GLOBAL_QUOTE
// endpoint. All mutable state (cache, counters, breaker) lives on the
// instance; one instance per venue driver.
type AlphaVantage struct {
	opts   AlphaVantageOptions
	client *resty.Client

	limiter *rate.Limiter

	mu                  sync.Mutex
	cache               map[string]cachedQuote
	requestsThisMinute  int
	minuteStart         time.Time
	consecutiveFailures int
	breaker             *gobreaker.CircuitBreaker

	now   func() time.Time
	sleep func(time.Duration)
}

// NewAlphaVantage creates the live provider.
func NewAlphaVantage(opts AlphaVantageOptions) *AlphaVantage {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 60 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 5
	}
	if opts.SpreadBps.IsZero() {
		opts.SpreadBps = decimal.NewFromInt(10)
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = alphaVantageBaseURL
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(opts.RequestTimeout).
		SetHeader("Accept", "application/json")

	p := &AlphaVantage{
		opts:        opts,
		client:      client,
		limiter:     rate.NewLimiter(rate.Every(minRequestInterval), 1),
		cache:       make(map[string]cachedQuote),
		minuteStart: time.Now(),
		now:         time.Now,
		sleep:       time.Sleep,
	}
	p.breaker = p.newBreaker()
	return p
}

// newBreaker builds a breaker that trips on consecutive failures and, once
// open, stays open until Reset. The open timeout is effectively infinite so
// gobreaker never probes half-open by itself.
func (p *AlphaVantage) newBreaker() *gobreaker.CircuitBreaker {
	maxFailures := p.opts.MaxFailures
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "alphavantage",
		Timeout: 100 * 365 * 24 * time.Hour,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				breakerTrips.Inc()
				log.Error().
					Str("breaker", name).
					Uint32("max_failures", maxFailures).
					Msg("🚨 Market data circuit breaker OPEN - operator reset required")
			}
		},
	})
}

// Reset closes the breaker and clears the failure counter. This is the
// operator recovery path.
func (p *AlphaVantage) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.breaker = p.newBreaker()
	p.consecutiveFailures = 0
	log.Info().Msg("Market data circuit breaker reset")
}

// BreakerOpen reports the breaker state.
func (p *AlphaVantage) BreakerOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.breaker.State() == gobreaker.StateOpen
}

func cacheKey(ticker string, venue types.Venue) string {
	return ticker + ":" + string(venue)
}

func (p *AlphaVantage) checkCache(ticker string, venue types.Venue) *types.Quote {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.cache[cacheKey(ticker, venue)]; ok {
		if p.now().Sub(c.fetchedAt) < p.opts.CacheTTL {
			return c.quote
		}
	}
	return nil
}

func (p *AlphaVantage) updateCache(ticker string, venue types.Venue, q *types.Quote) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache[cacheKey(ticker, venue)] = cachedQuote{quote: q, fetchedAt: p.now()}
}

// rateLimit enforces the rolling per-minute cap, then the inter-request
// interval. Utilisation is logged when the minute window rolls.
func (p *AlphaVantage) rateLimit(ctx context.Context) error {
	p.mu.Lock()
	now := p.now()
	if now.Sub(p.minuteStart) >= time.Minute {
		log.Info().Int("requests", p.requestsThisMinute).Msg("📊 API usage last minute")
		p.requestsThisMinute = 0
		p.minuteStart = now
	}
	if p.requestsThisMinute >= requestsPerMinuteCap {
		wait := time.Minute - now.Sub(p.minuteStart)
		p.mu.Unlock()
		if wait > 0 {
			log.Warn().Dur("wait", wait).Msg("⚠️ Approaching rate limit, sleeping until minute rolls")
			p.sleep(wait)
		}
		p.mu.Lock()
		p.requestsThisMinute = 0
		p.minuteStart = p.now()
	}
	p.requestsThisMinute++
	p.mu.Unlock()

	return p.limiter.Wait(ctx)
}

// GetQuote fetches a quote, serving from cache within the TTL. While the
// breaker is open it either fails fast (realtime required) or serves a
// tagged synthetic quote.
func (p *AlphaVantage) GetQuote(ctx context.Context, ticker string, venue types.Venue) (*types.Quote, error) {
	if p.BreakerOpen() {
		if p.opts.RequireRealtime {
			return nil, ErrCircuitOpen
		}
		quoteRequests.WithLabelValues("synthetic").Inc()
		log.Info().Str("ticker", ticker).Msg("📉 Serving synthetic quote (circuit open)")
		return p.syntheticQuote(ticker, venue), nil
	}

	if cached := p.checkCache(ticker, venue); cached != nil {
		quoteRequests.WithLabelValues("cache_hit").Inc()
		return cached, nil
	}

	if err := p.rateLimit(ctx); err != nil {
		return nil, err
	}

	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.fetch(ctx, ticker)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			if p.opts.RequireRealtime {
				return nil, ErrCircuitOpen
			}
			return p.syntheticQuote(ticker, venue), nil
		}
		quoteRequests.WithLabelValues("failure").Inc()
		log.Error().Err(err).Str("ticker", ticker).Msg("Quote fetch failed")
		return nil, nil
	}

	price := result.(fetchResult).price
	volume := result.(fetchResult).volume

	bid, ask := p.GetSpreadModel(ticker, venue, price)
	quote := &types.Quote{
		Ticker:    ticker,
		Venue:     venue,
		Price:     price,
		Bid:       bid,
		Ask:       ask,
		Volume:    volume,
		Timestamp: p.now().UTC(),
		Provider:  "alphavantage-realtime",
	}

	p.updateCache(ticker, venue, quote)
	p.mu.Lock()
	p.consecutiveFailures = 0
	p.mu.Unlock()
	quoteRequests.WithLabelValues("success").Inc()

	log.Debug().
		Str("ticker", ticker).
		Str("price", price.String()).
		Msg("Quote fetched")
	return quote, nil
}

type fetchResult struct {
	price  decimal.Decimal
	volume int64
}

type globalQuoteResponse struct {
	GlobalQuote  map[string]string `json:"Global Quote"`
	ErrorMessage string            `json:"Error Message"`
	Note         string            `json:"Note"`
}

// fetch performs the HTTP request. A 429 is retried exactly once after an
// exponential backoff bounded by 60s. Parse errors count as failures.
func (p *AlphaVantage) fetch(ctx context.Context, ticker string) (fetchResult, error) {
	doRequest := func() (*resty.Response, error) {
		var body globalQuoteResponse
		return p.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"function":    "GLOBAL_QUOTE",
				"symbol":      ticker,
				"entitlement": "realtime",
				"apikey":      p.opts.APIKey,
			}).
			SetResult(&body).
			Get("/query")
	}

	resp, err := doRequest()
	if err != nil {
		p.recordFailure()
		return fetchResult{}, fmt.Errorf("request: %w", err)
	}

	if resp.StatusCode() == http.StatusTooManyRequests {
		p.recordFailure()
		backoff := p.backoff()
		log.Warn().Dur("backoff", backoff).Str("ticker", ticker).Msg("⚠️ Rate limited (429), backing off")
		p.sleep(backoff)

		resp, err = doRequest()
		if err != nil {
			p.recordFailure()
			return fetchResult{}, fmt.Errorf("retry request: %w", err)
		}
	}

	if resp.StatusCode() != http.StatusOK {
		p.recordFailure()
		return fetchResult{}, fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
	}

	body, ok := resp.Result().(*globalQuoteResponse)
	if !ok || body == nil {
		p.recordFailure()
		return fetchResult{}, fmt.Errorf("unexpected response shape")
	}
	if body.ErrorMessage != "" {
		p.recordFailure()
		return fetchResult{}, fmt.Errorf("api error: %s", body.ErrorMessage)
	}
	if body.Note != "" {
		p.recordFailure()
		return fetchResult{}, fmt.Errorf("api throttle note: %s", body.Note)
	}
	if len(body.GlobalQuote) == 0 {
		p.recordFailure()
		return fetchResult{}, fmt.Errorf("no quote data for %s", ticker)
	}

	price, err := decimal.NewFromString(body.GlobalQuote["05. price"])
	if err != nil {
		p.recordFailure()
		return fetchResult{}, fmt.Errorf("parse price: %w", err)
	}
	volume, err := strconv.ParseInt(body.GlobalQuote["06. volume"], 10, 64)
	if err != nil {
		p.recordFailure()
		return fetchResult{}, fmt.Errorf("parse volume: %w", err)
	}

	return fetchResult{price: price, volume: volume}, nil
}

func (p *AlphaVantage) recordFailure() {
	p.mu.Lock()
	p.consecutiveFailures++
	p.mu.Unlock()
}

// backoff grows exponentially with consecutive failures, bounded by 60s.
func (p *AlphaVantage) backoff() time.Duration {
	p.mu.Lock()
	n := p.consecutiveFailures
	p.mu.Unlock()
	if n > 6 {
		n = 6
	}
	d := time.Duration(1<<uint(n)) * time.Second
	if d > 60*time.Second {
		d = 60 * time.Second
	}
	return d
}

// GetSpreadModel synthesises bid/ask around price; Alpha Vantage does not
// supply a book.
func (p *AlphaVantage) GetSpreadModel(ticker string, venue types.Venue, price decimal.Decimal) (decimal.NullDecimal, decimal.NullDecimal) {
	if !p.opts.UseSpreadModel || price.IsZero() {
		return decimal.NullDecimal{}, decimal.NullDecimal{}
	}
	bid, ask := SynthesiseSpread(price, p.opts.SpreadBps)
	return decimal.NewNullDecimal(bid), decimal.NewNullDecimal(ask)
}

// syntheticQuote builds a deterministic conservative quote from the
// reference table, tagged so downstream auditing can see the path taken.
func (p *AlphaVantage) syntheticQuote(ticker string, venue types.Venue) *types.Quote {
	price := ReferencePrice(ticker)
	bid, ask := p.GetSpreadModel(ticker, venue, price)
	if !bid.Valid {
		bid = decimal.NewNullDecimal(price.Mul(types.Dec("0.999")).RoundBank(4))
		ask = decimal.NewNullDecimal(price.Mul(types.Dec("1.001")).RoundBank(4))
	}
	return &types.Quote{
		Ticker:    ticker,
		Venue:     venue,
		Price:     price,
		Bid:       bid,
		Ask:       ask,
		Volume:    1_000_000,
		Timestamp: p.now().UTC(),
		Provider:  SyntheticProviderTag,
	}
}

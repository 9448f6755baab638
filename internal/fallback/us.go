package fallback

import (
	"math/rand"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quoterite/papertrader/internal/ledger"
	"github.com/quoterite/papertrader/internal/types"
)

// walletPools maps wallet names to liquid tickers that fit the strategy's
// mandate. Unknown wallets fall back to the default pool.
var walletPools = map[string][]string{
	"Momentum-Long":    {"AAPL", "MSFT", "NVDA", "TSLA", "META"},
	"Value-Deep":       {"BRK.B", "JPM", "JNJ", "PG", "KO"},
	"Breakout-Tech":    {"AAPL", "GOOGL", "AMZN", "NVDA", "AMD"},
	"Mean-Reversion":   {"SPY", "QQQ", "DIA", "IWM", "XLF"},
	"Growth-Quality":   {"MSFT", "AAPL", "GOOGL", "AMZN", "V"},
	"Dividend-Yield":   {"VZ", "T", "PFE", "XOM", "CVX"},
	"Small-Cap-Growth": {"ROKU", "SQ", "PLTR", "SNAP", "LCID"},
	"Sector-Rotation":  {"XLK", "XLF", "XLE", "XLV", "XLI"},
	"Volatility-Long":  {"VXX", "UVXY", "VIXY", "SVXY", "SPY"},
	"Options-Hedged":   {"SPY", "QQQ", "AAPL", "MSFT", "TSLA"},
}

var defaultPool = []string{"AAPL", "MSFT", "SPY", "QQQ", "GOOGL"}

// usEstimate is the conservative price assumed when sizing a fallback BUY.
var usEstimate = decimal.RequireFromString("150.00")

// USDaily gives each wallet one MARKET buy per day while signals are
// starved. Activation is immediate (threshold 1 minute) because a silent
// signal source usually means it is down, not cautious.
type USDaily struct {
	threshold int
	rng       *rand.Rand
}

// NewUSDaily builds the US policy. rng is injectable for deterministic
// tests; nil gets a time-seeded source.
func NewUSDaily(threshold int, rng *rand.Rand) *USDaily {
	if threshold <= 0 {
		threshold = 1
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &USDaily{threshold: threshold, rng: rng}
}

func (u *USDaily) Name() string   { return "us-daily" }
func (u *USDaily) Threshold() int { return u.threshold }

// Propose picks a strategy-appropriate ticker the wallet does not already
// hold. The already-traded-today guard lives in the runner, which can see
// the trade ledger.
func (u *USDaily) Propose(wallet *ledger.Wallet, held map[string]bool) (*Proposal, bool) {
	pool := walletPools[wallet.Name]
	if pool == nil {
		pool = defaultPool
	}

	available := exclude(pool, held)
	if len(available) == 0 {
		available = exclude(defaultPool, held)
	}
	if len(available) == 0 {
		available = []string{pool[0]}
	}

	ticker := available[u.rng.Intn(len(available))]

	return &Proposal{
		Ticker:         ticker,
		Venue:          usVenue(ticker),
		Side:           types.SideBuy,
		OrderType:      types.OrderTypeMarket,
		Quantity:       usQuantity(wallet.Name),
		EstimatedPrice: usEstimate,
		ReasonCodes:    []string{"FALLBACK_DAILY"},
	}, true
}

func exclude(pool []string, held map[string]bool) []string {
	out := make([]string, 0, len(pool))
	for _, t := range pool {
		if !held[t] {
			out = append(out, t)
		}
	}
	return out
}

// usVenue attributes index and sector ETFs to NYSE; everything else,
// including QQQ and the volatility ETFs, defaults to NASDAQ.
func usVenue(ticker string) types.Venue {
	switch ticker {
	case "SPY", "DIA", "IWM":
		return types.VenueNYSE
	}
	if strings.HasPrefix(ticker, "XL") {
		return types.VenueNYSE
	}
	return types.VenueNASDAQ
}

// usQuantity scales share count to the wallet's typical instrument price.
func usQuantity(walletName string) int64 {
	switch {
	case walletName == "Volatility-Long":
		return 5 // volatility ETFs are cheap
	case walletName == "Small-Cap-Growth":
		return 10
	case strings.Contains(walletName, "Dividend"):
		return 15
	}
	return 1
}

// Package strategy turns upstream signals into sized order intents, and
// falls back to conservative proposals when the signal source starves.
package strategy

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quoterite/papertrader/internal/engine"
	"github.com/quoterite/papertrader/internal/fallback"
	"github.com/quoterite/papertrader/internal/ledger"
	"github.com/quoterite/papertrader/internal/risk"
	"github.com/quoterite/papertrader/internal/session"
	"github.com/quoterite/papertrader/internal/types"
)

// Runner-level reason codes.
const (
	ReasonMarketClosed       = "MARKET_CLOSED"
	ReasonNoSignals          = "NO_SIGNALS"
	ReasonDuplicatePosition  = "DUPLICATE_POSITION"
	ReasonAlreadyTradedToday = "ALREADY_TRADED_TODAY"
	ReasonFallbackFailed     = "FALLBACK_ORDER_FAILED"
)

// Sizing modes.
const (
	SizingEqualWeight        = "equal_weight"
	SizingPercentBuyingPower = "percent_buying_power"
)

// percentPerPosition is the allocation fraction under percent_buying_power.
var percentPerPosition = decimal.RequireFromString("0.20")

// SignalSource pulls ranked signals for a market. An empty slice means
// starvation, not failure.
type SignalSource interface {
	Signals(ctx context.Context, market string) ([]types.Signal, error)
}

// Rejection is one declined order with its reason code.
type Rejection struct {
	Ticker string
	Reason string
}

// Result summarises one wallet's pass through the strategy.
type Result struct {
	WalletID         string
	WalletName       string
	SignalsProcessed int
	OrdersSubmitted  int
	OrdersRejected   int
	Rejections       []Rejection
	FallbackUsed     bool
	Error            string // MARKET_CLOSED, NO_SIGNALS, or empty
}

// Options configures a Runner.
type Options struct {
	Sizing string // equal_weight (default) or percent_buying_power
	Rules  risk.Rules
	Policy fallback.Policy // nil disables the fallback path

	// DryRun evaluates the full pipeline but submits nothing.
	DryRun bool
}

// Runner executes one market's strategy across wallets.
type Runner struct {
	store   *ledger.Store
	engine  *engine.Engine
	gate    *session.Gate
	signals SignalSource
	opts    Options

	// Starvation is counted in whole minutes so cycle frequency does not
	// change how fast fallbacks activate.
	starvedMinutes int
	lastStarveTick time.Time
	now            func() time.Time
}

// NewRunner wires the strategy over its collaborators.
func NewRunner(store *ledger.Store, eng *engine.Engine, gate *session.Gate, signals SignalSource, opts Options) *Runner {
	if opts.Sizing == "" {
		opts.Sizing = SizingEqualWeight
	}
	return &Runner{
		store:   store,
		engine:  eng,
		gate:    gate,
		signals: signals,
		opts:    opts,
		now:     time.Now,
	}
}

// ExecuteWallet runs one strategy pass for a wallet in the given market.
func (r *Runner) ExecuteWallet(ctx context.Context, wallet *ledger.Wallet, market string) Result {
	res := Result{WalletID: wallet.ID, WalletName: wallet.Name}

	if !r.gate.IsOpen(market, r.now()) {
		log.Warn().Str("market", market).Msg("⚠️ Market closed - strategy paused")
		res.Error = ReasonMarketClosed
		return res
	}

	positions, err := r.store.ListOpenPositions(wallet.ID)
	if err != nil {
		log.Error().Err(err).Str("wallet", wallet.Name).Msg("Failed to list positions")
		res.Error = ReasonNoSignals
		return res
	}
	held := make(map[string]bool, len(positions))
	for _, p := range positions {
		held[p.Ticker] = true
	}

	signals := r.pullSignals(ctx, market)
	if len(signals) == 0 {
		r.noteStarvation()
		if r.opts.Policy != nil && r.starvedMinutes >= r.opts.Policy.Threshold() {
			return r.runFallback(ctx, wallet, held, len(positions))
		}
		res.Error = ReasonNoSignals
		return res
	}
	r.resetStarvation()

	res.SignalsProcessed = len(signals)
	openCount := len(positions)

	for _, sig := range signals {
		if held[sig.Ticker] {
			log.Info().Str("ticker", sig.Ticker).Msg("⏭️  Skipping (already held)")
			res.reject(sig.Ticker, ReasonDuplicatePosition)
			continue
		}

		shares := r.positionSize(wallet, sig.Price, len(signals))
		estimated := decimal.NewFromInt(shares).Mul(sig.Price)

		if ok, reason := r.opts.Rules.Check(wallet, estimated, openCount); !ok {
			log.Warn().Str("ticker", sig.Ticker).Str("reason", reason).Msg("❌ Risk check failed")
			res.reject(sig.Ticker, reason)
			continue
		}

		intent := types.OrderIntent{
			WalletID:  wallet.ID,
			Ticker:    sig.Ticker,
			Venue:     sig.VenueFor(),
			Side:      types.SideBuy,
			OrderType: types.OrderTypeMarket,
			Quantity:  shares,
			Signal:    snapshotOf(sig),
		}

		if r.opts.DryRun {
			log.Info().Str("ticker", sig.Ticker).Int64("qty", shares).Msg("🧪 Dry run - would submit")
			res.OrdersSubmitted++
			continue
		}

		order, rejection := r.engine.Submit(ctx, intent)
		if rejection != "" {
			res.reject(sig.Ticker, rejection)
			continue
		}
		res.OrdersSubmitted++
		log.Info().Str("order", order.ID).Str("status", order.Status).Msg("Order accepted")

		// Refresh counts so subsequent signals see the new position.
		if refreshed, err := r.store.ListOpenPositions(wallet.ID); err == nil {
			openCount = len(refreshed)
		}
		if w, err := r.store.GetWallet(wallet.ID); err == nil && w != nil {
			wallet = w
		}
		held[sig.Ticker] = true
	}

	return res
}

func (res *Result) reject(ticker, reason string) {
	res.OrdersRejected++
	res.Rejections = append(res.Rejections, Rejection{Ticker: ticker, Reason: reason})
}

func (r *Runner) pullSignals(ctx context.Context, market string) []types.Signal {
	if r.signals == nil {
		return nil
	}
	signals, err := r.signals.Signals(ctx, market)
	if err != nil {
		// A broken signal source looks the same as a silent one.
		log.Error().Err(err).Str("market", market).Msg("Signal pull failed")
		return nil
	}
	log.Info().Int("count", len(signals)).Str("market", market).Msg("📊 Signals pulled")
	return signals
}

// noteStarvation advances the starvation clock at most once per minute.
func (r *Runner) noteStarvation() {
	now := r.now()
	if r.lastStarveTick.IsZero() || now.Sub(r.lastStarveTick) >= time.Minute {
		r.starvedMinutes++
		r.lastStarveTick = now
	}
}

func (r *Runner) resetStarvation() {
	r.starvedMinutes = 0
	r.lastStarveTick = time.Time{}
}

// StarvedMinutes reports the current starvation count.
func (r *Runner) StarvedMinutes() int { return r.starvedMinutes }

// positionSize converts an allocation into whole shares, at least one.
func (r *Runner) positionSize(wallet *ledger.Wallet, price decimal.Decimal, numSignals int) int64 {
	var allocation decimal.Decimal
	if r.opts.Sizing == SizingPercentBuyingPower {
		allocation = wallet.BuyingPower().Mul(percentPerPosition)
	} else {
		allocation = wallet.BuyingPower().Div(decimal.NewFromInt(int64(numSignals)))
	}
	shares := allocation.Div(price).IntPart()
	if shares < 1 {
		shares = 1
	}
	return shares
}

func snapshotOf(sig types.Signal) *types.SignalSnapshot {
	score, _ := sig.Score.Float64()
	price, _ := sig.Price.Float64()
	return &types.SignalSnapshot{
		Score:       score,
		Regime:      sig.Regime,
		Confidence:  sig.Confidence,
		SignalPrice: price,
	}
}

// ─── Fallback path ───────────────────────────────────────────────────────────

// runFallback hands the wallet to the policy and journals the outcome.
func (r *Runner) runFallback(ctx context.Context, wallet *ledger.Wallet, held map[string]bool, openCount int) Result {
	res := Result{WalletID: wallet.ID, WalletName: wallet.Name, FallbackUsed: true}
	policy := r.opts.Policy

	// One fallback trade per wallet per UTC day.
	startOfDay := r.now().UTC().Truncate(24 * time.Hour)
	traded, err := r.store.CountTradesSince(wallet.ID, startOfDay)
	if err != nil {
		log.Error().Err(err).Str("wallet", wallet.Name).Msg("Trade count failed")
		res.Error = ReasonNoSignals
		return res
	}
	if traded > 0 {
		res.reject("", ReasonAlreadyTradedToday)
		return res
	}

	proposal, ok := policy.Propose(wallet, held)
	if !ok {
		res.Error = ReasonNoSignals
		return res
	}

	log.Info().
		Str("policy", policy.Name()).
		Str("wallet", wallet.Name).
		Str("ticker", proposal.Ticker).
		Int64("qty", proposal.Quantity).
		Msg("🛟 Fallback proposal")

	if ok, reason := r.opts.Rules.Check(wallet, proposal.EstimatedCost(), openCount); !ok {
		r.journalFallback(wallet, proposal, "", "FAILED", reason)
		res.reject(proposal.Ticker, reason)
		return res
	}

	if r.opts.DryRun {
		log.Info().Str("ticker", proposal.Ticker).Msg("🧪 Dry run - fallback not submitted")
		res.OrdersSubmitted++
		return res
	}

	intent := types.OrderIntent{
		WalletID:   wallet.ID,
		Ticker:     proposal.Ticker,
		Venue:      proposal.Venue,
		Side:       proposal.Side,
		OrderType:  proposal.OrderType,
		Quantity:   proposal.Quantity,
		LimitPrice: proposal.LimitPrice,
	}

	order, rejection := r.engine.Submit(ctx, intent)
	if rejection != "" {
		r.journalFallback(wallet, proposal, "", "FAILED", rejection)
		res.reject(proposal.Ticker, ReasonFallbackFailed)
		return res
	}

	r.journalFallback(wallet, proposal, order.ID, "SUBMITTED", "")
	if asx, isASX := policy.(*fallback.ASXProof); isASX {
		asx.MarkDone(wallet.ID)
	}
	res.OrdersSubmitted++
	return res
}

func (r *Runner) journalFallback(wallet *ledger.Wallet, p *fallback.Proposal, orderID, status, errMsg string) {
	codes := p.ReasonCodes
	if errMsg != "" {
		codes = append(append([]string{}, codes...), ReasonFallbackFailed)
	}
	raw, _ := json.Marshal(codes)

	entry := &ledger.JournalEntry{
		WalletID:    wallet.ID,
		Ticker:      p.Ticker,
		Action:      string(p.Side),
		Quantity:    p.Quantity,
		LimitPrice:  p.LimitPrice,
		OrderID:     orderID,
		Mode:        "FALLBACK",
		Status:      status,
		ReasonCodes: string(raw),
		Error:       errMsg,
	}
	if err := r.store.AppendJournal(entry); err == nil && status == "SUBMITTED" {
		log.Info().Str("wallet", wallet.Name).Str("ticker", p.Ticker).Msg("📒 Fallback journaled")
	}
}

// ─── Metrics snapshot ────────────────────────────────────────────────────────

// SnapshotMetrics writes the wallet's daily performance row. Win rate is
// null until at least one position has closed.
func (r *Runner) SnapshotMetrics(walletID string) error {
	wallet, err := r.store.GetWallet(walletID)
	if err != nil || wallet == nil {
		return err
	}

	equity, err := r.engine.WalletEquity(walletID)
	if err != nil {
		return err
	}

	stats, err := r.store.GetClosedPositionStats(walletID)
	if err != nil {
		return err
	}

	pnl := equity.Sub(wallet.InitialBalance)
	pnlPct := decimal.Zero
	if wallet.InitialBalance.IsPositive() {
		pnlPct = pnl.Div(wallet.InitialBalance).Mul(decimal.NewFromInt(100)).RoundBank(4)
	}

	var winRate decimal.NullDecimal
	if stats.TotalTrades > 0 {
		winRate = decimal.NewNullDecimal(
			decimal.NewFromInt(stats.WinningTrades).
				Div(decimal.NewFromInt(stats.TotalTrades)).RoundBank(4))
	}

	metric := &ledger.StrategyMetric{
		WalletID:      walletID,
		Date:          r.now().UTC().Format("2006-01-02"),
		Equity:        equity,
		PnL:           pnl,
		PnLPct:        pnlPct,
		WinRate:       winRate,
		TradeCount:    stats.TotalTrades,
		WinningTrades: stats.WinningTrades,
		LosingTrades:  stats.TotalTrades - stats.WinningTrades,
	}
	if err := r.store.UpsertMetric(metric); err != nil {
		return err
	}

	log.Info().
		Str("wallet", wallet.Name).
		Str("equity", equity.StringFixed(2)).
		Str("pnl", pnl.StringFixed(2)).
		Msg("📊 Metrics snapshot")
	return nil
}

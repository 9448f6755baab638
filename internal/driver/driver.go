// Package driver owns the trading loop: one cycle per interval while the
// market is open, sleeping until the next open otherwise. A panic in one
// wallet never takes down the loop.
package driver

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quoterite/papertrader/internal/engine"
	"github.com/quoterite/papertrader/internal/ledger"
	"github.com/quoterite/papertrader/internal/session"
	"github.com/quoterite/papertrader/internal/strategy"
)

// testWalletPrefix names wallets the live loop must never touch.
const testWalletPrefix = "Test-Wallet-"

// Options configures the loop.
type Options struct {
	Market        string        // session class: US, ASX, TSX
	Venues        []string      // venue strings belonging to the class
	CycleInterval time.Duration // default 60s
	WalletLimit   int           // 0 = all wallets; ASX runs with 1
}

// Driver runs the cycle loop for one market.
type Driver struct {
	store  *ledger.Store
	engine *engine.Engine
	runner *strategy.Runner
	gate   *session.Gate
	opts   Options
}

// New wires a driver.
func New(store *ledger.Store, eng *engine.Engine, runner *strategy.Runner, gate *session.Gate, opts Options) *Driver {
	if opts.CycleInterval <= 0 {
		opts.CycleInterval = 60 * time.Second
	}
	return &Driver{store: store, engine: eng, runner: runner, gate: gate, opts: opts}
}

// Run loops until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	log.Info().
		Str("market", d.opts.Market).
		Dur("interval", d.opts.CycleInterval).
		Msg("🚀 Trading loop started")

	for cycle := 1; ; cycle++ {
		if err := ctx.Err(); err != nil {
			log.Info().Str("market", d.opts.Market).Msg("Trading loop stopped")
			return err
		}

		if !d.gate.IsOpen(d.opts.Market, time.Now()) {
			d.sleepUntilOpen(ctx)
			continue
		}

		d.Cycle(ctx, cycle)

		if !sleepCtx(ctx, d.opts.CycleInterval) {
			log.Info().Str("market", d.opts.Market).Msg("Trading loop stopped")
			return ctx.Err()
		}
	}
}

// RunCycles executes a fixed number of cycles regardless of session state.
// Used by the simulate command.
func (d *Driver) RunCycles(ctx context.Context, n int) {
	for i := 1; i <= n; i++ {
		if ctx.Err() != nil {
			return
		}
		d.Cycle(ctx, i)
		if i < n && !sleepCtx(ctx, d.opts.CycleInterval) {
			return
		}
	}
}

// Cycle runs one full pass: resting orders first, then every wallet.
func (d *Driver) Cycle(ctx context.Context, n int) {
	log.Info().Msg("═══════════════════════════════════════════════════════")
	log.Info().Int("cycle", n).Str("market", d.opts.Market).Msg("🔄 Cycle start")

	d.rematchRestingOrders(ctx)

	wallets, err := d.store.ListWallets(testWalletPrefix, d.opts.WalletLimit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list wallets")
		cyclesTotal.WithLabelValues(d.opts.Market, "error").Inc()
		return
	}

	outcome := "closed"
	for i := range wallets {
		res := d.executeWallet(ctx, &wallets[i])
		if res.Error == strategy.ReasonMarketClosed {
			break
		}
		outcome = "traded"
		ordersSubmitted.WithLabelValues(d.opts.Market).Add(float64(res.OrdersSubmitted))
		ordersRejected.WithLabelValues(d.opts.Market).Add(float64(res.OrdersRejected))

		if err := d.runner.SnapshotMetrics(wallets[i].ID); err != nil {
			log.Error().Err(err).Str("wallet", wallets[i].Name).Msg("Metrics snapshot failed")
		}
	}

	cyclesTotal.WithLabelValues(d.opts.Market, outcome).Inc()
	log.Info().Int("cycle", n).Int("wallets", len(wallets)).Msg("✅ Cycle complete")
}

// executeWallet isolates a wallet pass behind a recover so one bad wallet
// cannot stall the rest of the cycle.
func (d *Driver) executeWallet(ctx context.Context, wallet *ledger.Wallet) (res strategy.Result) {
	defer func() {
		if r := recover(); r != nil {
			walletErrors.Inc()
			log.Error().
				Interface("panic", r).
				Str("wallet", wallet.Name).
				Msg("💥 Wallet pass panicked")
			res = strategy.Result{WalletID: wallet.ID, WalletName: wallet.Name}
		}
	}()

	res = d.runner.ExecuteWallet(ctx, wallet, d.opts.Market)
	log.Info().
		Str("wallet", wallet.Name).
		Int("submitted", res.OrdersSubmitted).
		Int("rejected", res.OrdersRejected).
		Bool("fallback", res.FallbackUsed).
		Msg("Wallet pass done")
	return res
}

// rematchRestingOrders re-attempts active LIMIT/STOP orders against fresh
// quotes. Resting orders only ever fill here.
func (d *Driver) rematchRestingOrders(ctx context.Context) {
	orders, err := d.store.ListRestingOrders(d.opts.Venues)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list resting orders")
		return
	}
	if len(orders) == 0 {
		return
	}
	log.Info().Int("count", len(orders)).Msg("🔁 Rematching resting orders")
	for _, o := range orders {
		if ctx.Err() != nil {
			return
		}
		if d.engine.MatchAndFill(ctx, o.ID) {
			log.Info().Str("order", o.ID).Str("ticker", o.Ticker).Msg("Resting order filled")
		}
	}
}

func (d *Driver) sleepUntilOpen(ctx context.Context) {
	seconds, err := d.gate.SecondsUntilOpen(d.opts.Market, time.Now())
	if err != nil {
		sleepCtx(ctx, d.opts.CycleInterval)
		return
	}

	wait := time.Duration(seconds) * time.Second
	// Re-check at least every 15 minutes so a holiday calendar change or
	// clock skew cannot oversleep the open.
	if wait > 15*time.Minute {
		wait = 15 * time.Minute
	}
	if wait < time.Second {
		wait = time.Second
	}

	log.Info().
		Str("market", d.opts.Market).
		Str("until_open", (time.Duration(seconds) * time.Second).String()).
		Msg("💤 Market closed - sleeping")
	sleepCtx(ctx, wait)
}

// sleepCtx sleeps unless the context ends first; returns false on cancel.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

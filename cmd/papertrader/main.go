package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quoterite/papertrader/internal/config"
	"github.com/quoterite/papertrader/internal/driver"
	"github.com/quoterite/papertrader/internal/engine"
	"github.com/quoterite/papertrader/internal/fallback"
	"github.com/quoterite/papertrader/internal/ledger"
	"github.com/quoterite/papertrader/internal/marketdata"
	"github.com/quoterite/papertrader/internal/oracle"
	"github.com/quoterite/papertrader/internal/risk"
	"github.com/quoterite/papertrader/internal/session"
	"github.com/quoterite/papertrader/internal/strategy"
	"github.com/shopspring/decimal"
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "papertrader",
		Short: "Paper trading engine driven by upstream signals",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
		},
	}
	root.AddCommand(runCmd(), simulateCmd(), statusCmd(), seedCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" || os.Getenv("DEBUG") == "1" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	})
}

// stack is everything a command needs, wired once.
type stack struct {
	cfg    *config.Config
	store  *ledger.Store
	engine *engine.Engine
	gate   *session.Gate
}

func buildStack() (*stack, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	store, err := ledger.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	provider := marketdata.NewAlphaVantage(marketdata.AlphaVantageOptions{
		APIKey:          cfg.AlphaVantageKey,
		CacheTTL:        cfg.CacheTTL,
		SpreadBps:       cfg.SpreadBps,
		UseSpreadModel:  true,
		RequireRealtime: cfg.RequireRealtime,
		RequestTimeout:  cfg.RequestTimeout,
	})

	eng := engine.New(store, provider, engine.Options{
		Commissions: map[string]decimal.Decimal{
			"US":  cfg.CommissionUS,
			"ASX": cfg.CommissionASX,
		},
		EnableSlippage: cfg.EnableSlippage,
	})

	return &stack{cfg: cfg, store: store, engine: eng, gate: session.NewGate()}, nil
}

func (s *stack) runner(market string, dryRun bool) (*strategy.Runner, error) {
	signals, err := oracle.Connect(s.cfg.OracleDatabaseURL, oracle.Options{
		MinScore:   decimal.NewFromInt(int64(s.cfg.MinSignalScore)),
		MaxSignals: s.cfg.MaxSignals,
	})
	if err != nil {
		return nil, err
	}

	var policy fallback.Policy
	if market == "ASX" {
		policy = fallback.NewASXProof(s.cfg.FallbackThresholdASX)
	} else {
		policy = fallback.NewUSDaily(s.cfg.FallbackThresholdUS, nil)
	}

	return strategy.NewRunner(s.store, s.engine, s.gate, signals, strategy.Options{
		Sizing: s.cfg.PositionSizing,
		Rules: risk.Rules{
			MaxConcurrentPositions: s.cfg.MaxPositions,
			MaxPositionPct:         s.cfg.MaxPositionPct,
			MinReservePct:          s.cfg.MinReservePct,
		},
		Policy: policy,
		DryRun: dryRun,
	}), nil
}

func venuesFor(market string) []string {
	switch market {
	case "US":
		return []string{"NASDAQ", "NYSE"}
	case "ASX":
		return []string{"ASX"}
	case "TSX":
		return []string{"TSX"}
	}
	return nil
}

func serveMetrics(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Info().Str("addr", addr).Msg("📈 Metrics listening")
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error().Err(err).Msg("Metrics server stopped")
		}
	}()
}

func runCmd() *cobra.Command {
	var market string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the live trading loop for one market",
		RunE: func(cmd *cobra.Command, args []string) error {
			market = strings.ToUpper(market)
			venues := venuesFor(market)
			if venues == nil {
				return fmt.Errorf("unknown market: %q", market)
			}

			s, err := buildStack()
			if err != nil {
				return err
			}
			runner, err := s.runner(market, false)
			if err != nil {
				return err
			}
			serveMetrics(s.cfg.MetricsAddr)

			// ASX runs in proof-of-life mode: a single wallet only.
			walletLimit := 0
			if market == "ASX" {
				walletLimit = 1
			}

			d := driver.New(s.store, s.engine, runner, s.gate, driver.Options{
				Market:        market,
				Venues:        venues,
				CycleInterval: s.cfg.CycleInterval,
				WalletLimit:   walletLimit,
			})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := d.Run(ctx); err == context.Canceled {
				log.Info().Msg("👋 Shutdown complete")
				os.Exit(130)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&market, "market", "US", "market to trade (US, ASX, TSX)")
	return cmd
}

func simulateCmd() *cobra.Command {
	var (
		market string
		cycles int
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a fixed number of cycles, ignoring market hours",
		RunE: func(cmd *cobra.Command, args []string) error {
			market = strings.ToUpper(market)
			venues := venuesFor(market)
			if venues == nil {
				return fmt.Errorf("unknown market: %q", market)
			}

			s, err := buildStack()
			if err != nil {
				return err
			}
			runner, err := s.runner(market, dryRun)
			if err != nil {
				return err
			}

			d := driver.New(s.store, s.engine, runner, s.gate, driver.Options{
				Market:        market,
				Venues:        venues,
				CycleInterval: time.Second, // simulation does not pace at wall-clock speed
			})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d.RunCycles(ctx, cycles)
			log.Info().Int("cycles", cycles).Msg("Simulation complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&market, "market", "US", "market to simulate")
	cmd.Flags().IntVar(&cycles, "cycles", 1, "number of cycles to run")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "evaluate without submitting orders")
	return cmd
}

// standardWallets are the strategy wallets the fallback pools are keyed to.
var standardWallets = []string{
	"Momentum-Long", "Value-Deep", "Breakout-Tech", "Mean-Reversion",
	"Growth-Quality", "Dividend-Yield", "Small-Cap-Growth",
	"Sector-Rotation", "Volatility-Long", "Options-Hedged",
}

func seedCmd() *cobra.Command {
	var balance string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the standard strategy wallets if missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			store, err := ledger.Open(cfg.DatabaseURL)
			if err != nil {
				return err
			}

			initial, err := decimal.NewFromString(balance)
			if err != nil {
				return fmt.Errorf("invalid --balance: %w", err)
			}

			created, err := store.BootstrapWallets(standardWallets, "standard", initial)
			if err != nil {
				return err
			}
			log.Info().Int("created", created).Int("total", len(standardWallets)).Msg("Seed complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&balance, "balance", "10000", "initial balance per wallet")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print session status for every market",
		RunE: func(cmd *cobra.Command, args []string) error {
			gate := session.NewGate()
			now := time.Now()
			for _, market := range []string{"US", "ASX", "TSX"} {
				st, err := gate.GetStatus(market, now)
				if err != nil {
					return err
				}
				state := "CLOSED"
				if st.IsOpen {
					state = "OPEN"
				}
				fmt.Printf("%-4s %-7s local=%s tz=%s until_open=%.0fs\n",
					st.Market, state, st.LocalTime.Format("2006-01-02 15:04"),
					st.Timezone, st.SecondsUntilOpen)
			}
			return nil
		},
	}
	return cmd
}

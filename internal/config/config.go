package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the paper trader
type Config struct {
	// Ledger
	DatabaseURL string

	// Signal source (defaults to DatabaseURL)
	OracleDatabaseURL string

	// Market data
	AlphaVantageKey string
	CacheTTL        time.Duration
	SpreadBps       decimal.Decimal
	RequireRealtime bool
	RequestTimeout  time.Duration

	// Execution
	EnableSlippage bool
	CommissionUS   decimal.Decimal
	CommissionASX  decimal.Decimal

	// Strategy
	MinSignalScore int
	MaxSignals     int
	PositionSizing string // equal_weight or percent_buying_power

	// Risk
	MaxPositions   int
	MaxPositionPct decimal.Decimal
	MinReservePct  decimal.Decimal

	// Fallback activation thresholds (consecutive no-signal cycles)
	FallbackThresholdUS  int
	FallbackThresholdASX int

	// Driver
	CycleInterval time.Duration
	MetricsAddr   string

	// Mode
	Debug bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		OracleDatabaseURL: os.Getenv("ORACLE_DATABASE_URL"),

		AlphaVantageKey: os.Getenv("ALPHAVANTAGE_API_KEY"),
		CacheTTL:        getEnvSeconds("CACHE_TTL_S", 60*time.Second),
		SpreadBps:       getEnvDecimal("SPREAD_BPS", decimal.NewFromInt(10)),
		RequireRealtime: getEnvBool("REQUIRE_REALTIME", true),
		RequestTimeout:  getEnvSeconds("REQUEST_TIMEOUT_S", 10*time.Second),

		EnableSlippage: getEnvBool("ENABLE_SLIPPAGE", true),
		CommissionUS:   getEnvDecimal("COMMISSION_US", decimal.NewFromInt(1)),
		CommissionASX:  getEnvDecimal("COMMISSION_ASX", decimal.NewFromInt(10)),

		MinSignalScore: getEnvInt("MIN_SIGNAL_SCORE", 70),
		MaxSignals:     getEnvInt("MAX_SIGNALS", 5),
		PositionSizing: getEnv("POSITION_SIZING", "equal_weight"),

		MaxPositions:   getEnvInt("MAX_POSITIONS", 5),
		MaxPositionPct: getEnvDecimal("MAX_POSITION_PCT", decimal.NewFromFloat(0.20)),
		MinReservePct:  getEnvDecimal("MIN_RESERVE_PCT", decimal.NewFromFloat(0.10)),

		FallbackThresholdUS:  getEnvInt("FALLBACK_THRESHOLD_US", 1),
		FallbackThresholdASX: getEnvInt("FALLBACK_THRESHOLD_ASX", 3),

		CycleInterval: getEnvSeconds("CYCLE_INTERVAL_S", 60*time.Second),
		MetricsAddr:   os.Getenv("METRICS_ADDR"),

		Debug: getEnvBool("DEBUG", false),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.OracleDatabaseURL == "" {
		cfg.OracleDatabaseURL = cfg.DatabaseURL
	}
	if cfg.PositionSizing != "equal_weight" && cfg.PositionSizing != "percent_buying_power" {
		return nil, fmt.Errorf("invalid POSITION_SIZING: %q", cfg.PositionSizing)
	}

	return cfg, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil && i > 0 {
			return time.Duration(i) * time.Second
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

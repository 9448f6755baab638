// Package oracle reads ranked trading signals from the upstream signal
// producer's database. The producer owns the schema; this client only
// reads, over a separate connection from the ledger.
package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quoterite/papertrader/internal/types"
)

// Client pulls signals from the instruments table.
type Client struct {
	db         *sqlx.DB
	minScore   decimal.Decimal
	maxSignals int
	maxAge     time.Duration
}

// Options tunes signal selection.
type Options struct {
	MinScore   decimal.Decimal // floor on signal score, default 70
	MaxSignals int             // LIMIT per pull, default 5
	MaxAge     time.Duration   // staleness cutoff, default 24h
}

// Connect opens the signal database.
func Connect(dsn string, opts Options) (*Client, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect signal db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if opts.MinScore.IsZero() {
		opts.MinScore = decimal.NewFromInt(70)
	}
	if opts.MaxSignals <= 0 {
		opts.MaxSignals = 5
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 24 * time.Hour
	}

	log.Info().Str("min_score", opts.MinScore.String()).Int("max", opts.MaxSignals).
		Msg("Signal source connected")
	return &Client{db: db, minScore: opts.MinScore, maxSignals: opts.MaxSignals, maxAge: opts.MaxAge}, nil
}

// Signals returns the strongest fresh signals for a market, best first.
// An empty slice is a normal outcome (signal starvation), not an error.
func (c *Client) Signals(ctx context.Context, market string) ([]types.Signal, error) {
	cutoff := time.Now().UTC().Add(-c.maxAge)

	var signals []types.Signal
	err := c.db.SelectContext(ctx, &signals, `
		SELECT ticker, score, price, regime, confidence, market
		FROM instruments
		WHERE market = $1
		  AND score >= $2
		  AND updated_at >= $3
		ORDER BY score DESC
		LIMIT $4`,
		market, c.minScore, cutoff, c.maxSignals)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	return signals, nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.db.Close()
}

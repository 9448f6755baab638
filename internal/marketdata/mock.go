package marketdata

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/quoterite/papertrader/internal/types"
)

// Mock is a scriptable provider for tests. Quotes are keyed by ticker;
// Calls counts GetQuote invocations.
type Mock struct {
	mu     sync.Mutex
	quotes map[string]*types.Quote
	err    error
	Calls  int
}

// NewMock returns an empty mock provider.
func NewMock() *Mock {
	return &Mock{quotes: make(map[string]*types.Quote)}
}

// SetQuote scripts the quote returned for a ticker.
func (m *Mock) SetQuote(q *types.Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[q.Ticker] = q
}

// SetError makes every GetQuote return the given error.
func (m *Mock) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *Mock) GetQuote(_ context.Context, ticker string, venue types.Venue) (*types.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.err != nil {
		return nil, m.err
	}
	q, ok := m.quotes[ticker]
	if !ok {
		return nil, nil
	}
	cp := *q
	cp.Venue = venue
	return &cp, nil
}

func (m *Mock) GetSpreadModel(_ string, _ types.Venue, price decimal.Decimal) (decimal.NullDecimal, decimal.NullDecimal) {
	bid, ask := SynthesiseSpread(price, decimal.NewFromInt(10))
	return decimal.NewNullDecimal(bid), decimal.NewNullDecimal(ask)
}

package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// LEDGER MODELS - Durable record of wallets, orders, trades, positions, metrics
// ═══════════════════════════════════════════════════════════════════════════════
//
// All monetary columns are fixed-point decimals with 4 fractional digits.
// Enumerated columns store the stable strings from internal/types.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Wallet is a strategy's capital envelope.
type Wallet struct {
	ID              string          `gorm:"primaryKey"`
	Name            string          `gorm:"uniqueIndex"`
	CapitalTier     string
	InitialBalance  decimal.Decimal `gorm:"type:decimal(20,4)"`
	CurrentBalance  decimal.Decimal `gorm:"type:decimal(20,4)"`
	ReservedBalance decimal.Decimal `gorm:"type:decimal(20,4)"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BuyingPower is the capital available for new orders.
func (w *Wallet) BuyingPower() decimal.Decimal {
	return w.CurrentBalance.Sub(w.ReservedBalance)
}

// CanAfford reports whether buying power covers the amount.
func (w *Wallet) CanAfford(amount decimal.Decimal) bool {
	return w.BuyingPower().GreaterThanOrEqual(amount)
}

// Order is a submitted trading intent with lifecycle.
type Order struct {
	ID              string `gorm:"primaryKey"`
	WalletID        string `gorm:"index"`
	Ticker          string `gorm:"index"`
	Venue           string `gorm:"index"`
	Side            string
	OrderType       string
	Quantity        int64
	FilledQuantity  int64
	LimitPrice      decimal.NullDecimal `gorm:"type:decimal(20,4)"`
	StopPrice       decimal.NullDecimal `gorm:"type:decimal(20,4)"`
	AvgFillPrice    decimal.NullDecimal `gorm:"type:decimal(20,4)"`
	Status          string              `gorm:"index"`
	RejectionReason string
	SignalSnapshot  string // JSON, empty when the order had no signal context
	SubmittedAt     *time.Time
	FilledAt        *time.Time
	CancelledAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RemainingQuantity is the unfilled share count.
func (o *Order) RemainingQuantity() int64 {
	return o.Quantity - o.FilledQuantity
}

// Active reports whether the order can still receive fills.
func (o *Order) Active() bool {
	switch o.Status {
	case "PENDING", "SUBMITTED", "PARTIAL":
		return true
	}
	return false
}

// Trade is an immutable fill record. The store exposes no update or delete
// path for trades.
type Trade struct {
	ID          string `gorm:"primaryKey"`
	OrderID     string `gorm:"index"`
	WalletID    string `gorm:"index"`
	Ticker      string
	Venue       string
	Side        string
	Quantity    int64
	FillPrice   decimal.Decimal     `gorm:"type:decimal(20,4)"`
	SlippageBps decimal.NullDecimal `gorm:"type:decimal(20,4)"`
	Commission  decimal.Decimal     `gorm:"type:decimal(20,4)"`
	GrossAmount decimal.Decimal     `gorm:"type:decimal(20,4)"`
	NetAmount   decimal.Decimal     `gorm:"type:decimal(20,4)"`
	QuoteBid    decimal.NullDecimal `gorm:"type:decimal(20,4)"`
	QuoteAsk    decimal.NullDecimal `gorm:"type:decimal(20,4)"`
	QuoteMid    decimal.NullDecimal `gorm:"type:decimal(20,4)"`
	FilledAt    time.Time           `gorm:"index"`
}

// Position is an open long holding per (wallet, ticker, venue).
type Position struct {
	ID            string `gorm:"primaryKey"`
	WalletID      string `gorm:"index:idx_positions_wallet"`
	Ticker        string
	Venue         string
	Quantity      int64
	AvgEntryPrice decimal.Decimal `gorm:"type:decimal(20,4)"`
	TotalCost     decimal.Decimal `gorm:"type:decimal(20,4)"`
	RealisedPnL   decimal.Decimal `gorm:"column:realised_pnl;type:decimal(20,4)"`
	OpenedAt      time.Time
	ClosedAt      *time.Time `gorm:"index"`
	UpdatedAt     time.Time
}

// Open reports whether the position still holds shares.
func (p *Position) Open() bool {
	return p.Quantity != 0 && p.ClosedAt == nil
}

// UnrealisedPnL computes mark-to-market profit given a current price.
func (p *Position) UnrealisedPnL(currentPrice decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(p.Quantity).Mul(currentPrice).Sub(p.TotalCost)
}

// MarketQuote is quote history, upserted by (ticker, venue, timestamp).
// The engine persists one row per admission so equity can be marked later.
type MarketQuote struct {
	ID        uint                `gorm:"primaryKey;autoIncrement"`
	Ticker    string              `gorm:"uniqueIndex:idx_market_quote_key"`
	Venue     string              `gorm:"uniqueIndex:idx_market_quote_key"`
	Price     decimal.Decimal     `gorm:"type:decimal(20,4)"`
	Bid       decimal.NullDecimal `gorm:"type:decimal(20,4)"`
	Ask       decimal.NullDecimal `gorm:"type:decimal(20,4)"`
	Volume    int64
	Timestamp time.Time `gorm:"uniqueIndex:idx_market_quote_key"`
	Provider  string
	FetchedAt time.Time
}

// StrategyMetric is one performance row per (wallet, date), upserted each
// cycle. Date is stored as "2006-01-02" in UTC.
type StrategyMetric struct {
	ID            uint            `gorm:"primaryKey;autoIncrement"`
	WalletID      string          `gorm:"uniqueIndex:idx_metric_wallet_date"`
	Date          string          `gorm:"uniqueIndex:idx_metric_wallet_date"`
	Equity        decimal.Decimal `gorm:"type:decimal(20,4)"`
	PnL           decimal.Decimal `gorm:"column:pnl;type:decimal(20,4)"`
	PnLPct        decimal.Decimal `gorm:"column:pnl_pct;type:decimal(20,4)"`
	WinRate       decimal.NullDecimal `gorm:"type:decimal(20,4)"`
	TradeCount    int64
	WinningTrades int64
	LosingTrades  int64
	CreatedAt     time.Time
}

// JournalEntry is the append-only side channel of policy decisions,
// primarily fallback attempts.
type JournalEntry struct {
	ID          string `gorm:"primaryKey"`
	WalletID    string `gorm:"index"`
	Ticker      string
	Action      string
	Quantity    int64
	LimitPrice  decimal.NullDecimal `gorm:"type:decimal(20,4)"`
	OrderID     string
	Mode        string // SIGNAL or FALLBACK
	Status      string // SUBMITTED or FAILED
	ReasonCodes string // JSON array of stable reason strings
	Error       string
	CreatedAt   time.Time
}

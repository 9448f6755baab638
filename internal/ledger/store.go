package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store is the durable, transactional ledger.
type Store struct {
	db *gorm.DB
}

// Open connects to the ledger database. PostgreSQL connection strings get
// the postgres driver; anything else is treated as a SQLite path (used by
// tests and local runs).
func Open(dsn string) (*Store, error) {
	var db *gorm.DB
	var err error

	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		log.Info().Msg("Ledger connected (PostgreSQL)")
	} else {
		db, err = gorm.Open(sqlite.Open(dsn), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		log.Info().Str("path", dsn).Msg("Ledger initialized (SQLite)")
	}

	if err := db.AutoMigrate(
		&Wallet{}, &Order{}, &Trade{}, &Position{},
		&MarketQuote{}, &StrategyMetric{}, &JournalEntry{},
	); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// Transaction runs fn inside one ledger transaction. All invariants of the
// fill path depend on this being a single commit.
func (s *Store) Transaction(fn func(tx *Store) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// ─── Wallets ─────────────────────────────────────────────────────────────────

// CreateWallet bootstraps a wallet with its initial balance.
func (s *Store) CreateWallet(name, capitalTier string, initialBalance decimal.Decimal) (*Wallet, error) {
	w := &Wallet{
		ID:              uuid.NewString(),
		Name:            name,
		CapitalTier:     capitalTier,
		InitialBalance:  initialBalance,
		CurrentBalance:  initialBalance,
		ReservedBalance: decimal.Zero,
	}
	if err := s.db.Create(w).Error; err != nil {
		return nil, err
	}
	return w, nil
}

// BootstrapWallets creates any named wallet that does not exist yet, all
// with the same tier and starting balance. Returns how many were created.
func (s *Store) BootstrapWallets(names []string, capitalTier string, initialBalance decimal.Decimal) (int, error) {
	created := 0
	for _, name := range names {
		existing, err := s.GetWalletByName(name)
		if err != nil {
			return created, err
		}
		if existing != nil {
			continue
		}
		if _, err := s.CreateWallet(name, capitalTier, initialBalance); err != nil {
			return created, err
		}
		log.Info().Str("wallet", name).Str("balance", initialBalance.StringFixed(2)).Msg("💰 Wallet created")
		created++
	}
	return created, nil
}

// GetWallet loads a wallet by ID, nil when absent.
func (s *Store) GetWallet(id string) (*Wallet, error) {
	var w Wallet
	err := s.db.First(&w, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetWalletByName loads a wallet by its unique name, nil when absent.
func (s *Store) GetWalletByName(name string) (*Wallet, error) {
	var w Wallet
	err := s.db.First(&w, "name = ?", name).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ListWallets returns wallets ordered by name, excluding any whose name
// starts with the reserved test prefix.
func (s *Store) ListWallets(excludePrefix string, limit int) ([]Wallet, error) {
	var wallets []Wallet
	q := s.db.Order("name")
	if excludePrefix != "" {
		q = q.Where("name NOT LIKE ?", excludePrefix+"%")
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&wallets).Error
	return wallets, err
}

// SaveWallet persists balance mutations. Callers mutate inside Transaction.
func (s *Store) SaveWallet(w *Wallet) error {
	return s.db.Save(w).Error
}

// ─── Orders ──────────────────────────────────────────────────────────────────

// CreateOrder inserts a new order row.
func (s *Store) CreateOrder(o *Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	return s.db.Create(o).Error
}

// GetOrder loads an order by ID, nil when absent.
func (s *Store) GetOrder(id string) (*Order, error) {
	var o Order
	err := s.db.First(&o, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// SaveOrder persists order mutations.
func (s *Store) SaveOrder(o *Order) error {
	return s.db.Save(o).Error
}

// ListRestingOrders returns active non-MARKET orders for the given venues.
// The cycle driver re-attempts these each cycle; resting LIMIT orders never
// re-price on their own.
func (s *Store) ListRestingOrders(venues []string) ([]Order, error) {
	var orders []Order
	err := s.db.
		Where("status IN ?", []string{"PENDING", "SUBMITTED", "PARTIAL"}).
		Where("order_type <> ?", "MARKET").
		Where("venue IN ?", venues).
		Order("created_at").
		Find(&orders).Error
	return orders, err
}

// ─── Trades ──────────────────────────────────────────────────────────────────

// AppendTrade inserts an immutable fill record.
func (s *Store) AppendTrade(t *Trade) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return s.db.Create(t).Error
}

// CountTradesSince counts a wallet's fills at or after the given instant.
// Used by the daily fallback's already-traded-today guard.
func (s *Store) CountTradesSince(walletID string, since time.Time) (int64, error) {
	var n int64
	err := s.db.Model(&Trade{}).
		Where("wallet_id = ? AND filled_at >= ?", walletID, since).
		Count(&n).Error
	return n, err
}

// ListTrades returns a wallet's trades, newest first.
func (s *Store) ListTrades(walletID string, limit int) ([]Trade, error) {
	var trades []Trade
	q := s.db.Where("wallet_id = ?", walletID).Order("filled_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&trades).Error
	return trades, err
}

// ─── Positions ───────────────────────────────────────────────────────────────

// FindOpenPosition returns the open position for (wallet, ticker, venue),
// nil when there is none. At most one can exist.
func (s *Store) FindOpenPosition(walletID, ticker, venue string) (*Position, error) {
	var p Position
	err := s.db.
		Where("wallet_id = ? AND ticker = ? AND venue = ? AND closed_at IS NULL",
			walletID, ticker, venue).
		First(&p).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListOpenPositions returns all open positions for a wallet, newest first.
func (s *Store) ListOpenPositions(walletID string) ([]Position, error) {
	var positions []Position
	err := s.db.
		Where("wallet_id = ? AND closed_at IS NULL", walletID).
		Order("opened_at DESC").
		Find(&positions).Error
	return positions, err
}

// CreatePosition inserts a new position row.
func (s *Store) CreatePosition(p *Position) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return s.db.Create(p).Error
}

// SavePosition persists position mutations.
func (s *Store) SavePosition(p *Position) error {
	return s.db.Save(p).Error
}

// ClosedPositionStats aggregates realised performance from closed positions.
type ClosedPositionStats struct {
	TotalTrades   int64
	WinningTrades int64
	RealisedPnL   decimal.Decimal
}

// GetClosedPositionStats computes trade counts and realised PnL for the
// metrics snapshot. Winning means strictly positive realised PnL.
func (s *Store) GetClosedPositionStats(walletID string) (*ClosedPositionStats, error) {
	stats := &ClosedPositionStats{RealisedPnL: decimal.Zero}

	err := s.db.Model(&Position{}).
		Where("wallet_id = ? AND closed_at IS NOT NULL", walletID).
		Count(&stats.TotalTrades).Error
	if err != nil {
		return nil, err
	}

	err = s.db.Model(&Position{}).
		Where("wallet_id = ? AND closed_at IS NOT NULL AND realised_pnl > 0", walletID).
		Count(&stats.WinningTrades).Error
	if err != nil {
		return nil, err
	}

	var result struct {
		Total decimal.NullDecimal
	}
	err = s.db.Model(&Position{}).
		Select("COALESCE(SUM(realised_pnl), 0) as total").
		Where("wallet_id = ?", walletID).
		Scan(&result).Error
	if err != nil {
		return nil, err
	}
	if result.Total.Valid {
		stats.RealisedPnL = result.Total.Decimal
	}

	return stats, nil
}

// ─── Quote history ───────────────────────────────────────────────────────────

// UpsertQuote stores a quote observation keyed by (ticker, venue, timestamp).
func (s *Store) UpsertQuote(q *MarketQuote) error {
	q.FetchedAt = time.Now().UTC()
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "ticker"}, {Name: "venue"}, {Name: "timestamp"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"price", "bid", "ask", "volume", "provider", "fetched_at",
		}),
	}).Create(q).Error
}

// LatestQuote returns the most recent stored quote for (ticker, venue),
// nil when history is empty.
func (s *Store) LatestQuote(ticker, venue string) (*MarketQuote, error) {
	var q MarketQuote
	err := s.db.
		Where("ticker = ? AND venue = ?", ticker, venue).
		Order("timestamp DESC").
		First(&q).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// ─── Metrics ─────────────────────────────────────────────────────────────────

// UpsertMetric writes the per-(wallet, date) performance snapshot.
func (s *Store) UpsertMetric(m *StrategyMetric) error {
	m.CreatedAt = time.Now().UTC()
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "wallet_id"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"equity", "pnl", "pnl_pct", "win_rate",
			"trade_count", "winning_trades", "losing_trades", "created_at",
		}),
	}).Create(m).Error
}

// GetMetric returns the snapshot for (wallet, date), nil when absent.
func (s *Store) GetMetric(walletID, date string) (*StrategyMetric, error) {
	var m StrategyMetric
	err := s.db.
		Where("wallet_id = ? AND date = ?", walletID, date).
		First(&m).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMetrics returns recent snapshots across wallets, newest date first.
func (s *Store) ListMetrics(limit int) ([]StrategyMetric, error) {
	var metrics []StrategyMetric
	q := s.db.Order("date DESC, wallet_id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&metrics).Error
	return metrics, err
}

// ─── Trade journal ───────────────────────────────────────────────────────────

// ListJournal returns a wallet's journal entries, newest first.
func (s *Store) ListJournal(walletID string, limit int) ([]JournalEntry, error) {
	var entries []JournalEntry
	q := s.db.Where("wallet_id = ?", walletID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&entries).Error
	return entries, err
}

// AppendJournal records a policy decision. The journal is append-only.
func (s *Store) AppendJournal(e *JournalEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.CreatedAt = time.Now().UTC()
	if err := s.db.Create(e).Error; err != nil {
		log.Error().Err(err).Str("wallet", e.WalletID).Msg("Failed to append journal entry")
		return err
	}
	return nil
}

package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quoterite/papertrader/internal/types"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return store
}

func TestWalletLifecycle(t *testing.T) {
	store := openStore(t)

	w, err := store.CreateWallet("Momentum-Long", "standard", types.Dec("10000"))
	require.NoError(t, err)
	assert.NotEmpty(t, w.ID)
	assert.True(t, w.CurrentBalance.Equal(types.Dec("10000")))
	assert.True(t, w.ReservedBalance.IsZero())

	byName, err := store.GetWalletByName("Momentum-Long")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, w.ID, byName.ID)

	missing, err := store.GetWalletByName("Nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	w.ReservedBalance = types.Dec("500")
	require.NoError(t, store.SaveWallet(w))
	reloaded, _ := store.GetWallet(w.ID)
	assert.True(t, reloaded.BuyingPower().Equal(types.Dec("9500")))
}

func TestBootstrapWalletsIsIdempotent(t *testing.T) {
	store := openStore(t)
	names := []string{"Momentum-Long", "Value-Deep"}

	created, err := store.BootstrapWallets(names, "standard", types.Dec("10000"))
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	// Existing wallets are left alone.
	w, _ := store.GetWalletByName("Momentum-Long")
	w.CurrentBalance = types.Dec("9000")
	require.NoError(t, store.SaveWallet(w))

	created, err = store.BootstrapWallets(names, "standard", types.Dec("10000"))
	require.NoError(t, err)
	assert.Equal(t, 0, created)

	reloaded, _ := store.GetWalletByName("Momentum-Long")
	assert.True(t, reloaded.CurrentBalance.Equal(types.Dec("9000")))
}

func TestListWalletsExcludesTestPrefix(t *testing.T) {
	store := openStore(t)
	_, err := store.CreateWallet("Momentum-Long", "standard", types.Dec("10000"))
	require.NoError(t, err)
	_, err = store.CreateWallet("Test-Wallet-1", "standard", types.Dec("10000"))
	require.NoError(t, err)

	wallets, err := store.ListWallets("Test-Wallet-", 0)
	require.NoError(t, err)
	require.Len(t, wallets, 1)
	assert.Equal(t, "Momentum-Long", wallets[0].Name)

	limited, err := store.ListWallets("", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestTransactionRollsBack(t *testing.T) {
	store := openStore(t)
	w, err := store.CreateWallet("Momentum-Long", "standard", types.Dec("10000"))
	require.NoError(t, err)

	sentinel := assert.AnError
	err = store.Transaction(func(tx *Store) error {
		w.CurrentBalance = types.Dec("1")
		if err := tx.SaveWallet(w); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	reloaded, _ := store.GetWallet(w.ID)
	assert.True(t, reloaded.CurrentBalance.Equal(types.Dec("10000")), "rollback restored the balance")
}

func TestRestingOrdersQuery(t *testing.T) {
	store := openStore(t)

	mk := func(venue, orderType, status string) *Order {
		o := &Order{
			WalletID:  "w1",
			Ticker:    "AAPL",
			Venue:     venue,
			Side:      "BUY",
			OrderType: orderType,
			Quantity:  1,
			Status:    status,
		}
		require.NoError(t, store.CreateOrder(o))
		return o
	}

	resting := mk("NASDAQ", "LIMIT", "SUBMITTED")
	mk("NASDAQ", "MARKET", "SUBMITTED") // market orders never rest
	mk("NASDAQ", "LIMIT", "FILLED")     // terminal
	mk("ASX", "LIMIT", "SUBMITTED")     // other venue

	orders, err := store.ListRestingOrders([]string{"NASDAQ", "NYSE"})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, resting.ID, orders[0].ID)
}

func TestCountTradesSince(t *testing.T) {
	store := openStore(t)
	now := time.Now().UTC()

	require.NoError(t, store.AppendTrade(&Trade{
		OrderID: "o1", WalletID: "w1", Ticker: "AAPL", Venue: "NASDAQ", Side: "BUY",
		Quantity: 1, FillPrice: types.Dec("100"),
		Commission: decimal.Zero, GrossAmount: types.Dec("100"), NetAmount: types.Dec("100"),
		FilledAt: now.Add(-2 * time.Hour),
	}))
	require.NoError(t, store.AppendTrade(&Trade{
		OrderID: "o2", WalletID: "w1", Ticker: "MSFT", Venue: "NASDAQ", Side: "BUY",
		Quantity: 1, FillPrice: types.Dec("100"),
		Commission: decimal.Zero, GrossAmount: types.Dec("100"), NetAmount: types.Dec("100"),
		FilledAt: now.Add(-48 * time.Hour),
	}))

	n, err := store.CountTradesSince("w1", now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestQuoteUpsert(t *testing.T) {
	store := openStore(t)
	ts := time.Now().UTC().Truncate(time.Second)

	q := &MarketQuote{Ticker: "AAPL", Venue: "NASDAQ", Price: types.Dec("180"), Timestamp: ts}
	require.NoError(t, store.UpsertQuote(q))

	// Same key updates in place.
	require.NoError(t, store.UpsertQuote(&MarketQuote{
		Ticker: "AAPL", Venue: "NASDAQ", Price: types.Dec("181"), Timestamp: ts,
	}))

	latest, err := store.LatestQuote("AAPL", "NASDAQ")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.Price.Equal(types.Dec("181")))

	none, err := store.LatestQuote("MSFT", "NASDAQ")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestMetricUpsert(t *testing.T) {
	store := openStore(t)

	m := &StrategyMetric{WalletID: "w1", Date: "2025-03-03", Equity: types.Dec("10000"), PnL: decimal.Zero, PnLPct: decimal.Zero}
	require.NoError(t, store.UpsertMetric(m))
	require.NoError(t, store.UpsertMetric(&StrategyMetric{
		WalletID: "w1", Date: "2025-03-03", Equity: types.Dec("10100"),
		PnL: types.Dec("100"), PnLPct: types.Dec("1"),
	}))

	got, err := store.GetMetric("w1", "2025-03-03")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Equity.Equal(types.Dec("10100")))

	all, err := store.ListMetrics(0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestClosedPositionStats(t *testing.T) {
	store := openStore(t)
	closed := time.Now().UTC()

	add := func(pnl string, closedAt *time.Time) {
		qty := int64(0)
		if closedAt == nil {
			qty = 5
		}
		require.NoError(t, store.CreatePosition(&Position{
			WalletID: "w1", Ticker: "AAPL", Venue: "NASDAQ", Quantity: qty,
			AvgEntryPrice: types.Dec("100"), TotalCost: decimal.Zero,
			RealisedPnL: types.Dec(pnl), OpenedAt: closed.Add(-time.Hour), ClosedAt: closedAt,
		}))
	}
	add("10", &closed)
	add("-4", &closed)
	add("2.5", nil) // still open, excluded from trade counts

	stats, err := store.GetClosedPositionStats("w1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalTrades)
	assert.Equal(t, int64(1), stats.WinningTrades)
	// Realised PnL sums across all positions, open ones included.
	assert.True(t, stats.RealisedPnL.Equal(types.Dec("8.5")), "got %s", stats.RealisedPnL)
}

func TestJournalAppendAndList(t *testing.T) {
	store := openStore(t)

	require.NoError(t, store.AppendJournal(&JournalEntry{
		WalletID: "w1", Ticker: "BHP.AX", Action: "BUY", Quantity: 1,
		Mode: "FALLBACK", Status: "SUBMITTED", ReasonCodes: `["ASX_PROOF_OF_LIFE_QTY1"]`,
	}))

	entries, err := store.ListJournal("w1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "FALLBACK", entries[0].Mode)
	assert.NotEmpty(t, entries[0].ID)
}

// Package engine admits orders against wallet buying power and simulates
// fills against live quotes. Every fill mutates wallet, position, trade,
// and order rows in a single ledger transaction.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quoterite/papertrader/internal/ledger"
	"github.com/quoterite/papertrader/internal/marketdata"
	"github.com/quoterite/papertrader/internal/types"
)

// Admission reason codes. Business rejections are returned as reason
// strings, not errors; errors are reserved for infrastructure failures.
const (
	ReasonWalletNotFound    = "WALLET_NOT_FOUND"
	ReasonNoMarketData      = "NO_MARKET_DATA"
	ReasonInsufficientFunds = "INSUFFICIENT_FUNDS"
	ReasonSystemError       = "SYSTEM_ERROR"
)

// Options configures fill simulation.
type Options struct {
	// Commissions is the flat per-fill commission keyed by venue class
	// ("US", "ASX", "TSX"). Missing classes pay zero.
	Commissions map[string]decimal.Decimal

	// EnableSlippage adds a uniform random offset within the quoted spread
	// to each fill price. Tests disable it for determinism.
	EnableSlippage bool

	// Rand seeds the slippage draw. Nil gets a time-seeded source.
	Rand *rand.Rand
}

// Engine is the paper execution venue.
type Engine struct {
	store          *ledger.Store
	market         marketdata.Provider
	commissions    map[string]decimal.Decimal
	enableSlippage bool
	rng            *rand.Rand
}

// New builds an engine over the ledger and a quote provider.
func New(store *ledger.Store, market marketdata.Provider, opts Options) *Engine {
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	commissions := opts.Commissions
	if commissions == nil {
		commissions = map[string]decimal.Decimal{}
	}
	return &Engine{
		store:          store,
		market:         market,
		commissions:    commissions,
		enableSlippage: opts.EnableSlippage,
		rng:            rng,
	}
}

func (e *Engine) commission(venue types.Venue) decimal.Decimal {
	if c, ok := e.commissions[venue.Class()]; ok {
		return c
	}
	return decimal.Zero
}

// ─── Admission ───────────────────────────────────────────────────────────────

// Submit admits an order intent. On acceptance the returned order is
// SUBMITTED (or already FILLED for marketable MARKET orders) and reason is
// empty. On rejection the order row is persisted as REJECTED with the
// reason, which is also returned.
func (e *Engine) Submit(ctx context.Context, intent types.OrderIntent) (*ledger.Order, string) {
	if err := intent.Validate(); err != nil {
		return e.rejectUnpersisted(intent, fmt.Sprintf("%s: %v", ReasonSystemError, err))
	}

	wallet, err := e.store.GetWallet(intent.WalletID)
	if err != nil {
		return e.rejectUnpersisted(intent, fmt.Sprintf("%s: %v", ReasonSystemError, err))
	}
	if wallet == nil {
		return e.rejectUnpersisted(intent, ReasonWalletNotFound)
	}

	quote, err := e.market.GetQuote(ctx, intent.Ticker, intent.Venue)
	if err != nil {
		return e.reject(intent, fmt.Sprintf("%s: %v", ReasonSystemError, err))
	}
	if quote == nil {
		return e.reject(intent, ReasonNoMarketData)
	}
	e.persistQuote(quote)

	order := orderFromIntent(intent)

	if intent.Side == types.SideBuy {
		basis := buyBasis(intent, quote)
		estimated := decimal.NewFromInt(intent.Quantity).Mul(basis).Add(e.commission(intent.Venue))
		if !wallet.CanAfford(estimated) {
			reason := fmt.Sprintf("%s (need $%s, have $%s)", ReasonInsufficientFunds,
				estimated.StringFixed(2), wallet.BuyingPower().StringFixed(2))
			return e.reject(intent, reason)
		}

		err = e.store.Transaction(func(tx *ledger.Store) error {
			wallet.ReservedBalance = wallet.ReservedBalance.Add(estimated)
			if err := tx.SaveWallet(wallet); err != nil {
				return err
			}
			return tx.CreateOrder(order)
		})
	} else {
		err = e.store.CreateOrder(order)
	}
	if err != nil {
		return e.reject(intent, fmt.Sprintf("%s: %v", ReasonSystemError, err))
	}

	log.Info().
		Str("order", order.ID).
		Str("wallet", wallet.Name).
		Str("side", order.Side).
		Str("ticker", order.Ticker).
		Int64("qty", order.Quantity).
		Msg("📝 Order submitted")

	if intent.OrderType == types.OrderTypeMarket {
		e.MatchAndFill(ctx, order.ID)
		if refreshed, gerr := e.store.GetOrder(order.ID); gerr == nil && refreshed != nil {
			order = refreshed
		}
	}
	return order, ""
}

func orderFromIntent(intent types.OrderIntent) *ledger.Order {
	now := time.Now().UTC()
	o := &ledger.Order{
		WalletID:    intent.WalletID,
		Ticker:      intent.Ticker,
		Venue:       string(intent.Venue),
		Side:        string(intent.Side),
		OrderType:   string(intent.OrderType),
		Quantity:    intent.Quantity,
		LimitPrice:  intent.LimitPrice,
		StopPrice:   intent.StopPrice,
		Status:      string(types.StatusSubmitted),
		SubmittedAt: &now,
	}
	if intent.Signal != nil {
		if raw, err := json.Marshal(intent.Signal); err == nil {
			o.SignalSnapshot = string(raw)
		}
	}
	return o
}

// buyBasis is the price used to estimate a BUY's cost: the limit price when
// set, otherwise the ask, otherwise the last price.
func buyBasis(intent types.OrderIntent, quote *types.Quote) decimal.Decimal {
	if intent.LimitPrice.Valid {
		return intent.LimitPrice.Decimal
	}
	if quote.Ask.Valid {
		return quote.Ask.Decimal
	}
	return quote.Price
}

// reject persists a REJECTED order row carrying the reason.
func (e *Engine) reject(intent types.OrderIntent, reason string) (*ledger.Order, string) {
	order := orderFromIntent(intent)
	order.Status = string(types.StatusRejected)
	order.RejectionReason = reason
	order.SubmittedAt = nil
	if err := e.store.CreateOrder(order); err != nil {
		log.Error().Err(err).Str("ticker", intent.Ticker).Msg("Failed to persist rejected order")
	}
	log.Warn().
		Str("ticker", intent.Ticker).
		Str("side", string(intent.Side)).
		Str("reason", reason).
		Msg("🚫 Order rejected")
	return order, reason
}

// rejectUnpersisted covers rejections that precede wallet resolution, where
// writing a ledger row would attach an orphan wallet ID.
func (e *Engine) rejectUnpersisted(intent types.OrderIntent, reason string) (*ledger.Order, string) {
	order := orderFromIntent(intent)
	order.Status = string(types.StatusRejected)
	order.RejectionReason = reason
	order.SubmittedAt = nil
	log.Warn().
		Str("ticker", intent.Ticker).
		Str("reason", reason).
		Msg("🚫 Order rejected")
	return order, reason
}

// ─── Matching ────────────────────────────────────────────────────────────────

// MatchAndFill attempts to fill an active order against a fresh quote.
// Returns true when a fill occurred. Non-marketable resting orders return
// false and stay active for the next cycle.
func (e *Engine) MatchAndFill(ctx context.Context, orderID string) bool {
	order, err := e.store.GetOrder(orderID)
	if err != nil || order == nil || !order.Active() {
		return false
	}

	venue, err := types.ParseVenue(order.Venue)
	if err != nil {
		return false
	}

	quote, err := e.market.GetQuote(ctx, order.Ticker, venue)
	if err != nil || quote == nil {
		return false
	}
	e.persistQuote(quote)

	if !marketable(order, quote) {
		return false
	}

	fillPrice := e.fillPrice(order, quote)
	if !fillPrice.IsPositive() {
		return false
	}

	qty := order.RemainingQuantity()
	commission := e.commission(venue)
	gross := decimal.NewFromInt(qty).Mul(fillPrice)

	err = e.store.Transaction(func(tx *ledger.Store) error {
		wallet, err := tx.GetWallet(order.WalletID)
		if err != nil {
			return err
		}
		if wallet == nil {
			return fmt.Errorf("wallet %s vanished", order.WalletID)
		}

		if order.Side == string(types.SideBuy) {
			net := gross.Add(commission)
			release := decimal.Min(net, wallet.ReservedBalance)
			wallet.ReservedBalance = wallet.ReservedBalance.Sub(release)
			wallet.CurrentBalance = wallet.CurrentBalance.Sub(net)
			if err := tx.SaveWallet(wallet); err != nil {
				return err
			}
			if err := e.applyBuy(tx, order, qty, fillPrice, net); err != nil {
				return err
			}
			return e.recordFill(tx, order, quote, qty, fillPrice, commission, gross, net)
		}

		// SELL: the position must cover the remaining quantity; an
		// oversell aborts the whole transaction and rejects the order.
		position, err := tx.FindOpenPosition(order.WalletID, order.Ticker, order.Venue)
		if err != nil {
			return err
		}
		if position == nil || position.Quantity < qty {
			held := int64(0)
			if position != nil {
				held = position.Quantity
			}
			order.Status = string(types.StatusRejected)
			order.RejectionReason = fmt.Sprintf("insufficient position (%d held, %d to sell)", held, qty)
			return errOversell
		}

		net := gross.Sub(commission)
		wallet.CurrentBalance = wallet.CurrentBalance.Add(net)
		if err := tx.SaveWallet(wallet); err != nil {
			return err
		}
		if err := e.applySell(tx, position, qty, gross, commission); err != nil {
			return err
		}
		return e.recordFill(tx, order, quote, qty, fillPrice, commission, gross, net)
	})
	if err == errOversell {
		// The rejection survives the rollback: the fill transaction is
		// aborted, the order row alone records why.
		if serr := e.store.SaveOrder(order); serr != nil {
			log.Error().Err(serr).Str("order", orderID).Msg("Failed to persist oversell rejection")
		}
		log.Warn().
			Str("order", order.ID).
			Str("ticker", order.Ticker).
			Str("reason", order.RejectionReason).
			Msg("🚫 Sell rejected")
		return false
	}
	if err != nil {
		log.Error().Err(err).Str("order", orderID).Msg("Fill transaction failed")
		return false
	}

	log.Info().
		Str("order", order.ID).
		Str("ticker", order.Ticker).
		Str("side", order.Side).
		Int64("qty", qty).
		Str("price", fillPrice.StringFixed(4)).
		Msg("✅ Order filled")
	return true
}

var errOversell = fmt.Errorf("oversell")

// marketable reports whether the order crosses at the current quote.
func marketable(order *ledger.Order, quote *types.Quote) bool {
	buy := order.Side == string(types.SideBuy)

	switch types.OrderType(order.OrderType) {
	case types.OrderTypeMarket:
		return true
	case types.OrderTypeLimit:
		return limitCrosses(order, quote, buy)
	case types.OrderTypeStop:
		return stopTriggered(order, quote, buy)
	case types.OrderTypeStopLimit:
		return stopTriggered(order, quote, buy) && limitCrosses(order, quote, buy)
	}
	return false
}

func limitCrosses(order *ledger.Order, quote *types.Quote, buy bool) bool {
	if !order.LimitPrice.Valid {
		return false
	}
	limit := order.LimitPrice.Decimal
	if buy {
		ask := quote.Price
		if quote.Ask.Valid {
			ask = quote.Ask.Decimal
		}
		return limit.GreaterThanOrEqual(ask)
	}
	bid := quote.Price
	if quote.Bid.Valid {
		bid = quote.Bid.Decimal
	}
	return limit.LessThanOrEqual(bid)
}

func stopTriggered(order *ledger.Order, quote *types.Quote, buy bool) bool {
	if !order.StopPrice.Valid {
		return false
	}
	stop := order.StopPrice.Decimal
	if buy {
		return quote.Price.GreaterThanOrEqual(stop)
	}
	return quote.Price.LessThanOrEqual(stop)
}

// fillPrice computes the simulated execution price: the touch on the
// crossing side, plus an optional uniform slippage draw within the spread,
// clamped so LIMIT fills never violate their limit. Half-to-even at four
// fractional digits.
func (e *Engine) fillPrice(order *ledger.Order, quote *types.Quote) decimal.Decimal {
	buy := order.Side == string(types.SideBuy)

	base := quote.Price
	if buy && quote.Ask.Valid {
		base = quote.Ask.Decimal
	} else if !buy && quote.Bid.Valid {
		base = quote.Bid.Decimal
	}

	price := base
	if e.enableSlippage && order.OrderType == string(types.OrderTypeMarket) {
		if spread, ok := quote.Spread(); ok && spread.IsPositive() {
			offset := decimal.NewFromFloat(e.rng.Float64() - 0.5).Mul(spread)
			price = price.Add(offset)
		}
	}

	if order.LimitPrice.Valid {
		limit := order.LimitPrice.Decimal
		if buy {
			price = decimal.Min(price, limit)
		} else {
			price = decimal.Max(price, limit)
		}
	}
	return price.RoundBank(4)
}

// applyBuy opens or averages up the wallet's position. Cost basis carries
// the net amount, so commissions are paid back through realised PnL.
func (e *Engine) applyBuy(tx *ledger.Store, order *ledger.Order, qty int64, fillPrice, net decimal.Decimal) error {
	position, err := tx.FindOpenPosition(order.WalletID, order.Ticker, order.Venue)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	if position == nil {
		return tx.CreatePosition(&ledger.Position{
			WalletID:      order.WalletID,
			Ticker:        order.Ticker,
			Venue:         order.Venue,
			Quantity:      qty,
			AvgEntryPrice: fillPrice,
			TotalCost:     net,
			RealisedPnL:   decimal.Zero,
			OpenedAt:      now,
			UpdatedAt:     now,
		})
	}

	position.Quantity += qty
	position.TotalCost = position.TotalCost.Add(net)
	position.AvgEntryPrice = position.TotalCost.Div(decimal.NewFromInt(position.Quantity)).RoundBank(4)
	position.UpdatedAt = now
	return tx.SavePosition(position)
}

// applySell reduces the position and realises PnL: sale proceeds less the
// cost basis sold and the sell-side commission. A fully drained position
// closes.
func (e *Engine) applySell(tx *ledger.Store, position *ledger.Position, qty int64, gross, commission decimal.Decimal) error {
	costBasisSold := position.AvgEntryPrice.Mul(decimal.NewFromInt(qty))
	realised := gross.Sub(costBasisSold).Sub(commission)
	position.RealisedPnL = position.RealisedPnL.Add(realised)
	position.Quantity -= qty
	position.TotalCost = position.TotalCost.Sub(costBasisSold)
	now := time.Now().UTC()
	position.UpdatedAt = now
	if position.Quantity == 0 {
		position.ClosedAt = &now
		position.TotalCost = decimal.Zero
	}
	return tx.SavePosition(position)
}

// recordFill appends the trade row and advances the order lifecycle,
// folding the fill into the volume-weighted average fill price.
func (e *Engine) recordFill(tx *ledger.Store, order *ledger.Order, quote *types.Quote, qty int64, fillPrice, commission, gross, net decimal.Decimal) error {
	now := time.Now().UTC()

	trade := &ledger.Trade{
		OrderID:     order.ID,
		WalletID:    order.WalletID,
		Ticker:      order.Ticker,
		Venue:       order.Venue,
		Side:        order.Side,
		Quantity:    qty,
		FillPrice:   fillPrice,
		Commission:  commission,
		GrossAmount: gross,
		NetAmount:   net,
		QuoteBid:    quote.Bid,
		QuoteAsk:    quote.Ask,
		FilledAt:    now,
	}
	if quote.Bid.Valid && quote.Ask.Valid {
		trade.QuoteMid = decimal.NewNullDecimal(quote.Mid())
		mid := quote.Mid()
		if mid.IsPositive() {
			slippage := fillPrice.Sub(mid).Div(mid).Mul(decimal.NewFromInt(10000))
			trade.SlippageBps = decimal.NewNullDecimal(slippage.RoundBank(4))
		}
	}
	if err := tx.AppendTrade(trade); err != nil {
		return err
	}

	prevFilled := order.FilledQuantity
	order.FilledQuantity += qty
	if order.AvgFillPrice.Valid && prevFilled > 0 {
		weighted := order.AvgFillPrice.Decimal.Mul(decimal.NewFromInt(prevFilled)).
			Add(fillPrice.Mul(decimal.NewFromInt(qty)))
		order.AvgFillPrice = decimal.NewNullDecimal(
			weighted.Div(decimal.NewFromInt(order.FilledQuantity)).RoundBank(4))
	} else {
		order.AvgFillPrice = decimal.NewNullDecimal(fillPrice)
	}
	if order.RemainingQuantity() == 0 {
		order.Status = string(types.StatusFilled)
	} else {
		order.Status = string(types.StatusPartial)
	}
	order.FilledAt = &now
	return tx.SaveOrder(order)
}

// ─── Cancellation ────────────────────────────────────────────────────────────

// CancelOrder cancels an active order and releases any remaining BUY
// reservation. Terminal orders return false.
func (e *Engine) CancelOrder(orderID string) (bool, error) {
	var cancelled bool
	err := e.store.Transaction(func(tx *ledger.Store) error {
		order, err := tx.GetOrder(orderID)
		if err != nil {
			return err
		}
		if order == nil || !order.Active() {
			return nil
		}

		if order.Side == string(types.SideBuy) {
			wallet, err := tx.GetWallet(order.WalletID)
			if err != nil {
				return err
			}
			if wallet != nil {
				venue, verr := types.ParseVenue(order.Venue)
				estimate := e.cancelRelease(tx, order)
				if verr == nil {
					estimate = estimate.Add(e.commission(venue))
				}
				release := decimal.Min(estimate, wallet.ReservedBalance)
				wallet.ReservedBalance = wallet.ReservedBalance.Sub(release)
				if err := tx.SaveWallet(wallet); err != nil {
					return err
				}
			}
		}

		now := time.Now().UTC()
		order.Status = string(types.StatusCancelled)
		order.CancelledAt = &now
		if err := tx.SaveOrder(order); err != nil {
			return err
		}
		cancelled = true
		return nil
	})
	if cancelled {
		log.Info().Str("order", orderID).Msg("🗑️  Order cancelled")
	}
	return cancelled, err
}

// cancelRelease estimates the reservation still held for an order's
// unfilled remainder: limit price when set, otherwise the last stored quote.
func (e *Engine) cancelRelease(tx *ledger.Store, order *ledger.Order) decimal.Decimal {
	remaining := decimal.NewFromInt(order.RemainingQuantity())
	if order.LimitPrice.Valid {
		return remaining.Mul(order.LimitPrice.Decimal)
	}
	if q, err := tx.LatestQuote(order.Ticker, order.Venue); err == nil && q != nil {
		price := q.Price
		if q.Ask.Valid {
			price = q.Ask.Decimal
		}
		return remaining.Mul(price)
	}
	return decimal.Zero
}

// ─── Valuation ───────────────────────────────────────────────────────────────

// WalletEquity marks a wallet to market: cash plus every open position at
// its latest stored quote, average entry when no quote history exists.
func (e *Engine) WalletEquity(walletID string) (decimal.Decimal, error) {
	wallet, err := e.store.GetWallet(walletID)
	if err != nil {
		return decimal.Zero, err
	}
	if wallet == nil {
		return decimal.Zero, fmt.Errorf("wallet %s not found", walletID)
	}

	equity := wallet.CurrentBalance
	positions, err := e.store.ListOpenPositions(walletID)
	if err != nil {
		return decimal.Zero, err
	}
	for _, p := range positions {
		mark := p.AvgEntryPrice
		if q, err := e.store.LatestQuote(p.Ticker, p.Venue); err == nil && q != nil {
			mark = q.Price
		}
		equity = equity.Add(decimal.NewFromInt(p.Quantity).Mul(mark))
	}
	return equity, nil
}

func (e *Engine) persistQuote(q *types.Quote) {
	err := e.store.UpsertQuote(&ledger.MarketQuote{
		Ticker:    q.Ticker,
		Venue:     string(q.Venue),
		Price:     q.Price,
		Bid:       q.Bid,
		Ask:       q.Ask,
		Volume:    q.Volume,
		Timestamp: q.Timestamp,
		Provider:  q.Provider,
	})
	if err != nil {
		log.Warn().Err(err).Str("ticker", q.Ticker).Msg("Failed to persist quote")
	}
}

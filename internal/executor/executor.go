// Package executor turns a ranked opportunity into an order, applies the
// fill to the ledger, and persists the outcome. Execution is serial
// across pairs; the per-pair lock guards against a concurrent trade on
// the same pair ever being introduced upstream.
package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cryptodrift/driftbot/internal/config"
	"github.com/cryptodrift/driftbot/internal/cooldown"
	"github.com/cryptodrift/driftbot/internal/events"
	"github.com/cryptodrift/driftbot/internal/exchange"
	"github.com/cryptodrift/driftbot/internal/metrics"
	"github.com/cryptodrift/driftbot/internal/notify"
	"github.com/cryptodrift/driftbot/internal/opportunity"
	"github.com/cryptodrift/driftbot/internal/portfolio"
	"github.com/cryptodrift/driftbot/internal/risk"
	"github.com/cryptodrift/driftbot/internal/store"
	"github.com/cryptodrift/driftbot/internal/strategy"
)

// Outcome summarises one opportunity's execution.
type Outcome struct {
	Executed bool
	Skipped  bool
	Status   exchange.OrderStatus
}

// Executor executes opportunities end to end.
type Executor struct {
	exchange  exchange.Exchange
	ledger    *portfolio.Ledger
	dataDir   string
	trades    *store.TradeLog
	throttle  *cooldown.Throttle
	sizer     *risk.Sizer
	publisher *events.Publisher
	notifier  *notify.Notifier
	log       zerolog.Logger

	counter   atomic.Uint64
	pairLocks sync.Map // pair -> *sync.Mutex
}

// Config wires an Executor.
type Config struct {
	Exchange  exchange.Exchange
	Ledger    *portfolio.Ledger
	DataDir   string
	Trades    *store.TradeLog
	Throttle  *cooldown.Throttle
	Sizer     *risk.Sizer
	Publisher *events.Publisher
	Notifier  *notify.Notifier
	Logger    zerolog.Logger
}

// New creates an executor.
func New(cfg Config) *Executor {
	return &Executor{
		exchange:  cfg.Exchange,
		ledger:    cfg.Ledger,
		dataDir:   cfg.DataDir,
		trades:    cfg.Trades,
		throttle:  cfg.Throttle,
		sizer:     cfg.Sizer,
		publisher: cfg.Publisher,
		notifier:  cfg.Notifier,
		log:       cfg.Logger.With().Str("component", "executor").Logger(),
	}
}

// Execute runs one opportunity. The returned error is cycle-fatal only
// for ledger persistence failures; everything opportunity-local is
// handled here and reported through the Outcome.
func (e *Executor) Execute(ctx context.Context, cycleID string, opp opportunity.Opportunity) (Outcome, error) {
	lock := e.pairLock(opp.Pair)
	lock.Lock()
	defer lock.Unlock()

	plog := e.log.With().Str("pair", opp.Pair).Str("cycle_id", cycleID).Logger()

	side, size, err := e.size(ctx, opp)
	if err != nil {
		plog.Warn().Err(err).Str("tag", exchange.TaxonomyTag(err)).Msg("Sizing failed, skipping opportunity")
		return Outcome{Skipped: true}, nil
	}
	if size <= 0 {
		return Outcome{Skipped: true}, nil
	}

	clientOrderID := e.clientOrderID(opp.Pair, cycleID, side)

	order, err := e.exchange.PlaceMarketOrder(ctx, exchange.MarketOrderRequest{
		Pair:          opp.Pair,
		Side:          side,
		Size:          size,
		ClientOrderID: clientOrderID,
	})
	switch {
	case err == nil:
	case errors.Is(err, exchange.ErrInsufficientBalance):
		plog.Warn().Err(err).Msg("Insufficient balance, resyncing portfolio and aborting opportunity")
		e.resync(ctx)
		return Outcome{Skipped: true}, nil
	case errors.Is(err, exchange.ErrOrderUnknown):
		// Outcome unobservable: record a warning trade, leave the ledger
		// alone, and let the next cycle's exchange sync reconcile.
		plog.Warn().Str("client_order_id", clientOrderID).Msg("Order outcome unknown, deferring to next sync")
		rec := e.record(cycleID, clientOrderID, opp, side, &exchange.Order{
			Pair:   opp.Pair,
			Side:   side,
			Status: exchange.OrderStatusUnknown,
		})
		if err := e.trades.Append(rec); err != nil {
			plog.Error().Err(err).Msg("Failed to append unknown-order trade record")
		}
		return Outcome{Status: exchange.OrderStatusUnknown, Skipped: true}, nil
	default:
		plog.Warn().Err(err).Str("tag", exchange.TaxonomyTag(err)).Msg("Order failed, skipping opportunity")
		metrics.ExchangeErrors.WithLabelValues(exchange.TaxonomyTag(err)).Inc()
		return Outcome{Skipped: true}, nil
	}

	if err := e.ledger.ApplyFill(order); err != nil {
		return Outcome{Status: order.Status}, fmt.Errorf("failed to apply fill: %w", err)
	}
	if err := e.ledger.Save(e.dataDir); err != nil {
		return Outcome{Status: order.Status}, fmt.Errorf("failed to persist ledger: %w", err)
	}

	rec := e.record(cycleID, clientOrderID, opp, side, order)
	if err := e.trades.Append(rec); err != nil {
		plog.Error().Err(err).Msg("Failed to append trade record")
	}
	e.throttle.RecordTrade(opp.Pair, side)

	metrics.TradesTotal.WithLabelValues(string(side), string(order.Status)).Inc()
	metrics.PortfolioValue.Set(e.ledger.View().PortfolioValueQuote)
	e.publisher.Publish(events.SubjectTradeExecuted, rec)
	e.notifier.TradeExecuted(opp.Pair, string(side), string(order.Status), order.QuoteAmount, order.Price)

	plog.Info().
		Str("side", string(side)).
		Str("status", string(order.Status)).
		Float64("base", order.BaseAmount).
		Float64("quote", order.QuoteAmount).
		Float64("price", order.Price).
		Msg("Trade executed")

	return Outcome{Executed: true, Status: order.Status}, nil
}

// size recomputes the final order size from the live price. For BUY it
// is quote units from the allocation; for SELL, base units from the held
// amount.
func (e *Executor) size(ctx context.Context, opp opportunity.Opportunity) (exchange.OrderSide, float64, error) {
	view := e.ledger.View()

	switch opp.Action {
	case strategy.ActionBuy:
		size := e.sizer.BuySize(opp.Allocation, opp.Signal.PositionMultiplier, view.PortfolioValueQuote, opp.Signal.Regime)
		return exchange.OrderSideBuy, size, nil

	case strategy.ActionSell:
		base, _, ok := config.SplitPair(opp.Pair)
		if !ok {
			return "", 0, fmt.Errorf("bad pair %q", opp.Pair)
		}
		ticker, err := e.exchange.GetTicker(ctx, opp.Pair)
		if err != nil {
			return "", 0, err
		}
		size := e.sizer.SellSize(view.AssetAmount(base), ticker.Price, opp.Signal.PositionMultiplier, view)
		return exchange.OrderSideSell, size, nil
	}
	return "", 0, fmt.Errorf("unexpected action %q", opp.Action)
}

// clientOrderID derives a deterministic, process-unique id from the
// pair, cycle, side and a monotonic counter.
func (e *Executor) clientOrderID(pair, cycleID string, side exchange.OrderSide) string {
	n := e.counter.Add(1)
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d", pair, cycleID, side, n)))
	return "db-" + hex.EncodeToString(sum[:])[:24]
}

// resync replaces ledger amounts with the exchange's view after a
// balance disagreement.
func (e *Executor) resync(ctx context.Context) {
	accounts, err := e.exchange.GetAccounts(ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("Portfolio resync failed")
		return
	}
	e.ledger.SyncFromAccounts(accounts)
	if err := e.ledger.Save(e.dataDir); err != nil {
		e.log.Error().Err(err).Msg("Failed to persist resynced ledger")
	}
}

func (e *Executor) record(cycleID, clientOrderID string, opp opportunity.Opportunity, side exchange.OrderSide, order *exchange.Order) store.TradeRecord {
	return store.TradeRecord{
		ID:            uuid.NewString(),
		CycleID:       cycleID,
		ClientOrderID: clientOrderID,
		OrderID:       order.ID,
		Pair:          opp.Pair,
		Side:          string(side),
		Strategy:      "combined",
		Status:        string(order.Status),
		BaseAmount:    order.BaseAmount,
		QuoteAmount:   order.QuoteAmount,
		Price:         order.Price,
		Fees:          order.Fees,
		Score:         opp.Score,
		Confidence:    opp.Signal.Confidence,
		Regime:        string(opp.Signal.Regime),
		Reasoning:     opp.Signal.Reasoning,
		ExecutedAt:    time.Now().UTC(),
	}
}

func (e *Executor) pairLock(pair string) *sync.Mutex {
	v, _ := e.pairLocks.LoadOrStore(pair, &sync.Mutex{})
	return v.(*sync.Mutex)
}

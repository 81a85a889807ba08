package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cryptodrift/driftbot/internal/config"
	"github.com/cryptodrift/driftbot/internal/events"
	"github.com/cryptodrift/driftbot/internal/exchange"
	"github.com/cryptodrift/driftbot/internal/market"
	"github.com/cryptodrift/driftbot/internal/metrics"
	"github.com/cryptodrift/driftbot/internal/opportunity"
	"github.com/cryptodrift/driftbot/internal/performance"
	"github.com/cryptodrift/driftbot/internal/risk"
	"github.com/cryptodrift/driftbot/internal/strategy"
)

// cycleEvent is published after every cycle, degraded or not.
type cycleEvent struct {
	CycleID        string    `json:"cycle_id"`
	State          string    `json:"state"`
	Reason         string    `json:"reason,omitempty"`
	PairsCollected int       `json:"pairs_collected"`
	Opportunities  int       `json:"opportunities"`
	TradesExecuted int       `json:"trades_executed"`
	PortfolioValue float64   `json:"portfolio_value"`
	Duration       string    `json:"duration"`
	Timestamp      time.Time `json:"timestamp"`
}

// runCycle drives one pass of the state machine. The returned error is
// reserved for unhandled failures (ledger persistence, panics upstream);
// everything pair- or component-local degrades or skips instead.
func (e *Engine) runCycle(ctx context.Context) error {
	cycleID := uuid.NewString()[:8]
	start := time.Now()
	clog := e.log.With().Str("cycle_id", cycleID).Logger()
	defer func() {
		metrics.CycleDuration.Observe(time.Since(start).Seconds())
	}()

	// COLLECTING. The exchange is authoritative for balances; start from
	// its account snapshot so a previous unknown-order outcome reconciles.
	clog.Info().Str("state", string(StateCollecting)).Msg("Cycle started")
	accounts, err := e.exchange.GetAccounts(ctx)
	if err != nil {
		e.degrade(clog, cycleID, start, nil, fmt.Errorf("account sync: %w", err))
		return nil
	}
	e.ledger.SyncFromAccounts(accounts)

	data := e.collect(ctx, clog)
	if len(data) == 0 {
		e.degrade(clog, cycleID, start, nil, errors.New("no pair produced market data"))
		return nil
	}
	for pair, pd := range data {
		base, _, _ := config.SplitPair(pair)
		e.ledger.SetPrice(base, pd.Price)
	}
	if err := e.ledger.Save(e.cfg.Storage.DataDir); err != nil {
		return fmt.Errorf("failed to persist ledger after collection: %w", err)
	}

	// ANALYSING.
	clog.Info().Str("state", string(StateAnalysing)).Int("pairs", len(data)).Msg("Analysing pairs")
	signals := e.analyse(ctx, data)
	e.observeRegimes(signals)

	// RANKING.
	clog.Info().Str("state", string(StateRanking)).Msg("Ranking opportunities")
	view := e.ledger.View()
	candidates := make([]opportunity.Candidate, 0, len(signals))
	for _, sig := range signals {
		pd := data[sig.Pair]
		candidates = append(candidates, opportunity.Candidate{
			Signal:    sig,
			Change24h: pd.Indicators.Change24h,
			Price:     pd.Price,
		})
	}
	ranked := e.manager.Rank(candidates)
	// Cool-down runs before allocation so a suppressed pair's share flows
	// to the next eligible opportunity instead of going unspent.
	ranked = e.filterThrottled(clog, ranked)
	tradable := e.manager.Tradable(view.QuoteBalance, view.PortfolioValueQuote)
	ranked = e.manager.Allocate(ranked, tradable)
	metrics.OpportunitiesRanked.Set(float64(len(ranked)))
	clog.Info().
		Int("opportunities", len(ranked)).
		Float64("tradable", tradable).
		Msg("Allocation complete")

	// EXECUTING.
	clog.Info().Str("state", string(StateExecuting)).Msg("Executing opportunities")
	executed, err := e.execute(ctx, clog, cycleID, ranked)
	if err != nil {
		// Ledger persistence failed mid-execution: record what we have,
		// then let the failure count toward the fatal threshold.
		e.degrade(clog, cycleID, start, signals, err)
		return err
	}

	// SNAPSHOTTING.
	clog.Info().Str("state", string(StateSnapshotting)).Msg("Persisting cycle outcome")
	view = e.ledger.View()
	if executed > 0 {
		if err := e.tracker.Record(performance.TriggerTrade, view); err != nil {
			clog.Error().Err(err).Msg("Failed to record trade snapshot")
		}
	}
	if err := e.decisions.Record(cycleID, "OK", marshalDecisions(signals)); err != nil {
		clog.Error().Err(err).Msg("Failed to persist decision cache")
	}

	metrics.CyclesTotal.WithLabelValues("ok").Inc()
	metrics.PortfolioValue.Set(view.PortfolioValueQuote)
	metrics.QuoteBalance.Set(view.QuoteBalance)
	e.publisher.Publish(events.SubjectCycleCompleted, cycleEvent{
		CycleID:        cycleID,
		State:          "OK",
		PairsCollected: len(data),
		Opportunities:  len(ranked),
		TradesExecuted: executed,
		PortfolioValue: view.PortfolioValueQuote,
		Duration:       time.Since(start).String(),
		Timestamp:      time.Now().UTC(),
	})

	clog.Info().
		Int("trades", executed).
		Float64("portfolio_value", view.PortfolioValueQuote).
		Dur("duration", time.Since(start)).
		Msg("Cycle completed")
	return nil
}

// collect fans out per-pair data collection. Pair-local failures exclude
// the pair and never abort the cycle.
func (e *Engine) collect(ctx context.Context, clog zerolog.Logger) map[string]*market.PairData {
	var mu sync.Mutex
	data := make(map[string]*market.PairData, len(e.cfg.Trading.Pairs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(collectConcurrency)
	for _, pair := range e.cfg.Trading.Pairs {
		pair := pair
		g.Go(func() error {
			pd, err := e.collector.Collect(gctx, pair)
			if err != nil {
				clog.Warn().
					Err(err).
					Str("pair", pair).
					Str("tag", exchange.TaxonomyTag(err)).
					Msg("Excluding pair from cycle")
				metrics.ExchangeErrors.WithLabelValues(exchange.TaxonomyTag(err)).Inc()
				return nil
			}
			mu.Lock()
			data[pair] = pd
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return data
}

// analyse fans out the strategy ensemble per pair.
func (e *Engine) analyse(ctx context.Context, data map[string]*market.PairData) []strategy.Combined {
	var mu sync.Mutex
	signals := make([]strategy.Combined, 0, len(data))
	view := e.ledger.View()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(collectConcurrency)
	for pair, pd := range data {
		pair, pd := pair, pd
		g.Go(func() error {
			combined := e.combiner.Combine(gctx, strategy.Input{
				Pair:      pair,
				Snapshot:  pd.Indicators,
				Portfolio: view,
				Degraded:  pd.Degraded,
			})
			if adv, ok := combined.Individual["advisory"]; ok && adv.Fallback {
				metrics.AdvisoryFallbacks.Inc()
			}
			mu.Lock()
			signals = append(signals, combined)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return signals
}

// execute runs ranked opportunities serially. It returns the number of
// executed trades; the error is cycle-fatal (ledger persistence).
func (e *Engine) execute(ctx context.Context, clog zerolog.Logger, cycleID string, ranked []opportunity.Opportunity) (int, error) {
	executed := 0
	hardBearTrades := 0

	for _, opp := range ranked {
		// Shutdown: the current opportunity completed, skip the rest.
		if ctx.Err() != nil {
			clog.Warn().
				Int("skipped", len(ranked)-executed).
				Msg("Shutdown requested, skipping remaining opportunities")
			break
		}

		if opp.Signal.Regime == strategy.RegimeBearHard && hardBearTrades >= risk.HardBearMaxTradesPerCycle {
			clog.Warn().Str("pair", opp.Pair).Msg("Hard bear trade budget exhausted, skipping")
			continue
		}

		outcome, err := e.executor.Execute(ctx, cycleID, opp)
		if err != nil {
			return executed, err
		}
		if outcome.Executed {
			executed++
			if opp.Signal.Regime == strategy.RegimeBearHard {
				hardBearTrades++
			}
		}
	}
	return executed, nil
}

// filterThrottled removes opportunities the cool-down throttle suppresses.
// It runs after ranking and before allocation.
func (e *Engine) filterThrottled(clog zerolog.Logger, ranked []opportunity.Opportunity) []opportunity.Opportunity {
	out := ranked[:0]
	for _, opp := range ranked {
		side := exchange.OrderSideBuy
		threshold := e.cfg.Risk.BuyConfidenceThreshold
		if opp.Action == strategy.ActionSell {
			side = exchange.OrderSideSell
			threshold = e.cfg.Risk.SellConfidenceThresh
		}
		if !e.throttle.Allow(opp.Pair, side, opp.Signal.Confidence, threshold) {
			clog.Info().
				Str("pair", opp.Pair).
				Str("side", string(side)).
				Msg("Cool-down active, suppressing opportunity")
			continue
		}
		out = append(out, opp)
	}
	return out
}

// marshalDecisions prepares combined signals for the decision cache.
// Signals that fail to marshal are dropped, not fatal.
func marshalDecisions(signals []strategy.Combined) []json.RawMessage {
	raw := make([]json.RawMessage, 0, len(signals))
	for _, sig := range signals {
		data, err := json.Marshal(sig)
		if err != nil {
			continue
		}
		raw = append(raw, data)
	}
	return raw
}

// degrade writes the partial decision set, executes nothing further, and
// returns the engine to idle. Degraded cycles are handled outcomes and do
// not count toward the fatal failure threshold.
func (e *Engine) degrade(clog zerolog.Logger, cycleID string, start time.Time, signals []strategy.Combined, cause error) {
	clog.Error().
		Err(cause).
		Str("state", string(StateDegraded)).
		Str("tag", exchange.TaxonomyTag(cause)).
		Msg("Cycle degraded")

	if err := e.decisions.Record(cycleID, string(StateDegraded), marshalDecisions(signals)); err != nil {
		clog.Error().Err(err).Msg("Failed to persist degraded decision set")
	}

	view := e.ledger.View()
	metrics.CyclesTotal.WithLabelValues("degraded").Inc()
	e.publisher.Publish(events.SubjectCycleCompleted, cycleEvent{
		CycleID:        cycleID,
		State:          string(StateDegraded),
		Reason:         cause.Error(),
		PortfolioValue: view.PortfolioValueQuote,
		Duration:       time.Since(start).String(),
		Timestamp:      time.Now().UTC(),
	})
	e.notifier.CycleDegraded(cycleID, cause.Error())
}

// observeRegimes publishes a regime-change event per pair transition.
func (e *Engine) observeRegimes(signals []strategy.Combined) {
	for _, sig := range signals {
		prev, seen := e.lastRegime[sig.Pair]
		if seen && prev != sig.Regime {
			e.log.Info().
				Str("pair", sig.Pair).
				Str("from", string(prev)).
				Str("to", string(sig.Regime)).
				Msg("Regime changed")
			e.publisher.Publish(events.SubjectRegimeChanged, map[string]string{
				"pair": sig.Pair,
				"from": string(prev),
				"to":   string(sig.Regime),
			})
		}
		e.lastRegime[sig.Pair] = sig.Regime
	}
}

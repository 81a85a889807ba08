// Package engine is the cycle orchestrator: it owns the schedule, the
// at-most-one-cycle-at-a-time guarantee, the cycle state machine and
// graceful shutdown.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cryptodrift/driftbot/internal/config"
	"github.com/cryptodrift/driftbot/internal/cooldown"
	"github.com/cryptodrift/driftbot/internal/events"
	"github.com/cryptodrift/driftbot/internal/exchange"
	"github.com/cryptodrift/driftbot/internal/executor"
	"github.com/cryptodrift/driftbot/internal/market"
	"github.com/cryptodrift/driftbot/internal/notify"
	"github.com/cryptodrift/driftbot/internal/opportunity"
	"github.com/cryptodrift/driftbot/internal/performance"
	"github.com/cryptodrift/driftbot/internal/portfolio"
	"github.com/cryptodrift/driftbot/internal/store"
	"github.com/cryptodrift/driftbot/internal/strategy"
)

// Cycle states.
type State string

const (
	StateIdle         State = "IDLE"
	StateCollecting   State = "COLLECTING"
	StateAnalysing    State = "ANALYSING"
	StateRanking      State = "RANKING"
	StateExecuting    State = "EXECUTING"
	StateSnapshotting State = "SNAPSHOTTING"
	StateDegraded     State = "DEGRADED"
)

// maxConsecutiveFailures is the runtime-fatal threshold; the process
// exits with a distinct code when reached.
const maxConsecutiveFailures = 3

// shutdownBudget bounds how long a running cycle may finish its current
// opportunity after a stop signal.
const shutdownBudget = 30 * time.Second

// ErrFatal is returned by Run when cycles keep failing unhandled.
var ErrFatal = errors.New("too many consecutive cycle failures")

// collectConcurrency bounds parallel per-pair I/O.
const collectConcurrency = 4

// Engine wires every component and drives the decision cycle.
type Engine struct {
	cfg       *config.Config
	exchange  exchange.Exchange
	collector *market.Collector
	combiner  *strategy.Combiner
	manager   *opportunity.Manager
	throttle  *cooldown.Throttle
	executor  *executor.Executor
	ledger    *portfolio.Ledger
	tracker   *performance.Tracker
	decisions *store.DecisionCache
	publisher *events.Publisher
	notifier  *notify.Notifier
	log       zerolog.Logger

	running    atomic.Bool
	cycleWG    sync.WaitGroup
	failures   int
	fatalCh    chan struct{}
	fatalOnce  sync.Once
	lastRegime map[string]strategy.Regime
}

// Deps carries the engine's collaborators, built in main.
type Deps struct {
	Config    *config.Config
	Exchange  exchange.Exchange
	Collector *market.Collector
	Combiner  *strategy.Combiner
	Manager   *opportunity.Manager
	Throttle  *cooldown.Throttle
	Executor  *executor.Executor
	Ledger    *portfolio.Ledger
	Tracker   *performance.Tracker
	Decisions *store.DecisionCache
	Publisher *events.Publisher
	Notifier  *notify.Notifier
}

// New assembles the engine.
func New(d Deps) *Engine {
	return &Engine{
		cfg:        d.Config,
		exchange:   d.Exchange,
		collector:  d.Collector,
		combiner:   d.Combiner,
		manager:    d.Manager,
		throttle:   d.Throttle,
		executor:   d.Executor,
		ledger:     d.Ledger,
		tracker:    d.Tracker,
		decisions:  d.Decisions,
		publisher:  d.Publisher,
		notifier:   d.Notifier,
		log:        log.With().Str("component", "engine").Logger(),
		fatalCh:    make(chan struct{}),
		lastRegime: make(map[string]strategy.Regime),
	}
}

// Run starts the schedule and blocks until ctx is cancelled or cycles
// become runtime-fatal. The first cycle runs immediately.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.tracker.Record(performance.TriggerStartup, e.ledger.View()); err != nil {
		return fmt.Errorf("failed to record startup snapshot: %w", err)
	}

	interval := e.cfg.Trading.DecisionInterval()
	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() { e.tick(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule cycles: %w", err)
	}
	if _, err := c.AddFunc(e.snapshotSchedule(), func() { e.scheduledSnapshot() }); err != nil {
		return fmt.Errorf("failed to schedule snapshots: %w", err)
	}
	c.Start()
	e.log.Info().
		Dur("interval", interval).
		Strs("pairs", e.cfg.Trading.Pairs).
		Bool("simulation", e.cfg.Trading.SimulationMode).
		Msg("Engine started")

	go e.tick(ctx)

	var fatal error
	select {
	case <-ctx.Done():
	case <-e.fatalCh:
		fatal = ErrFatal
	}

	// Stop scheduling, then let the in-flight cycle finish its current
	// opportunity within the budget.
	cronCtx := c.Stop()
	<-cronCtx.Done()
	e.waitForCycle()

	if err := e.tracker.Record(performance.TriggerShutdown, e.ledger.View()); err != nil {
		e.log.Error().Err(err).Msg("Failed to record shutdown snapshot")
	}
	e.log.Info().Msg("Engine stopped")
	return fatal
}

// tick runs one cycle unless one is already running; overlapping ticks
// are dropped, not queued.
func (e *Engine) tick(ctx context.Context) {
	if !e.running.CompareAndSwap(false, true) {
		e.log.Warn().Msg("Cycle still running, dropping tick")
		return
	}
	e.cycleWG.Add(1)
	defer func() {
		e.cycleWG.Done()
		e.running.Store(false)
	}()

	err := e.safeCycle(ctx)
	if err != nil {
		e.failures++
		e.log.Error().
			Err(err).
			Int("consecutive_failures", e.failures).
			Msg("Cycle failed")
		if e.failures >= maxConsecutiveFailures {
			e.fatalOnce.Do(func() { close(e.fatalCh) })
		}
		return
	}
	e.failures = 0
}

// safeCycle converts a panic escaping the cycle into a counted failure.
func (e *Engine) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()
	return e.runCycle(ctx)
}

// waitForCycle blocks until the running cycle ends or the shutdown
// budget expires.
func (e *Engine) waitForCycle() {
	done := make(chan struct{})
	go func() {
		e.cycleWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownBudget):
		e.log.Error().Dur("budget", shutdownBudget).Msg("Cycle did not finish within shutdown budget")
	}
}

func (e *Engine) snapshotSchedule() string {
	if e.cfg.Storage.SnapshotFrequency == "daily" {
		return "@every 24h"
	}
	return "@every 1h"
}

func (e *Engine) scheduledSnapshot() {
	if err := e.tracker.Record(performance.TriggerScheduled, e.ledger.View()); err != nil {
		e.log.Error().Err(err).Msg("Failed to record scheduled snapshot")
	}
}

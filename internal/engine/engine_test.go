package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptodrift/driftbot/internal/config"
	"github.com/cryptodrift/driftbot/internal/cooldown"
	"github.com/cryptodrift/driftbot/internal/exchange"
	"github.com/cryptodrift/driftbot/internal/executor"
	"github.com/cryptodrift/driftbot/internal/market"
	"github.com/cryptodrift/driftbot/internal/opportunity"
	"github.com/cryptodrift/driftbot/internal/performance"
	"github.com/cryptodrift/driftbot/internal/portfolio"
	"github.com/cryptodrift/driftbot/internal/risk"
	"github.com/cryptodrift/driftbot/internal/store"
	"github.com/cryptodrift/driftbot/internal/strategy"
)

type fixture struct {
	eng      *Engine
	ledger   *portfolio.Ledger
	trades   *store.TradeLog
	throttle *cooldown.Throttle
	dataDir  string
}

func testConfig(dataDir string) *config.Config {
	return &config.Config{
		Trading: config.TradingConfig{
			Pairs:                   []string{"BTC-EUR"},
			QuoteCurrency:           "EUR",
			DecisionIntervalMinutes: 60,
			CandleGranularity:       "1h",
			CandleLookback:          120,
			SimulationMode:          true,
		},
		Risk: config.RiskConfig{
			Level:                  "LOW",
			BuyConfidenceThreshold: 55,
			SellConfidenceThresh:   55,
			CooldownMinutes:        30,
			CooldownStackingBonus:  15,
			MaxPositionSizePct:     0.25,
			MinTradeAmount:         1,
		},
		Storage: config.StorageConfig{DataDir: dataDir, SnapshotFrequency: "hourly"},
	}
}

func newEngineFixture(t *testing.T, ex exchange.Exchange) *fixture {
	t.Helper()

	dataDir := t.TempDir()
	cfg := testConfig(dataDir)

	collector, err := market.NewCollector(market.CollectorConfig{
		Exchange:    ex,
		Granularity: "1h",
		Lookback:    120,
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)

	ledger := portfolio.New("EUR", nil, nil)
	trades := store.NewTradeLog(dataDir)
	throttle := cooldown.New(30*time.Minute, 15)

	exec := executor.New(executor.Config{
		Exchange: ex,
		Ledger:   ledger,
		DataDir:  dataDir,
		Trades:   trades,
		Throttle: throttle,
		Sizer: risk.NewSizer(risk.SizerConfig{
			Level:          risk.LevelLow,
			TargetQuotePct: 0.3,
			MaxPositionPct: 0.25,
			MinTradeAmount: 1,
		}),
		Logger: zerolog.Nop(),
	})

	eng := New(Deps{
		Config:    cfg,
		Exchange:  ex,
		Collector: collector,
		Combiner:  strategy.NewCombiner(nil, nil, 55, 55),
		Manager: opportunity.NewManager(opportunity.ManagerConfig{
			MomentumThreshold:       3,
			MinActionableConfidence: 50,
			ReserveRatio:            0.2,
			MinReserveAbsolute:      50,
			MinTradeAllocation:      25,
			MaxSingleTradeRatio:     0.6,
			PowerFactor:             1.2,
		}),
		Throttle:  throttle,
		Executor:  exec,
		Ledger:    ledger,
		Tracker:   performance.NewTracker(dataDir, 0),
		Decisions: store.NewDecisionCache(dataDir, 0),
	})

	return &fixture{eng: eng, ledger: ledger, trades: trades, throttle: throttle, dataDir: dataDir}
}

// flatCandles builds n flat hourly candles ending at the given time, so
// the ensemble reads a directionless market and holds.
func flatCandles(n int, end time.Time) []exchange.Candle {
	candles := make([]exchange.Candle, n)
	for i := range candles {
		candles[i] = exchange.Candle{
			Time:   end.Add(-time.Duration(n-1-i) * time.Hour),
			Open:   100,
			High:   101,
			Low:    99,
			Close:  100,
			Volume: 10,
		}
	}
	return candles
}

func quietSim() *exchange.SimExchange {
	sim := exchange.NewSimExchange(exchange.SimConfig{})
	sim.SetBalance("EUR", 1000)
	sim.SetTicker("BTC-EUR", exchange.Ticker{Price: 100, Bid: 99.9, Ask: 100.1, Volume24h: 1000})
	sim.SetCandles("BTC-EUR", flatCandles(60, time.Now().UTC()))
	return sim
}

func buyOpp(pair string, allocation float64, regime strategy.Regime) opportunity.Opportunity {
	return opportunity.Opportunity{
		Pair:       pair,
		Action:     strategy.ActionBuy,
		Score:      80,
		Allocation: allocation,
		Price:      100,
		Signal: strategy.Combined{
			Pair:               pair,
			Action:             strategy.ActionBuy,
			Confidence:         80,
			PositionMultiplier: 1.0,
			Regime:             regime,
		},
	}
}

// ============================================================
// Cycle state machine
// ============================================================

func TestRunCycle_SyncsLedgerFromExchange(t *testing.T) {
	sim := quietSim()
	sim.SetBalance("EUR", 900)
	sim.SetBalance("BTC", 1)
	f := newEngineFixture(t, sim)

	require.NoError(t, f.eng.runCycle(context.Background()))

	// The exchange is authoritative for balances.
	assert.InDelta(t, 900, f.ledger.QuoteBalance(), 1e-9)
	assert.InDelta(t, 1, f.ledger.AssetAmount("BTC"), 1e-9)

	// The ledger was persisted and the decision cache records the cycle.
	loaded, err := portfolio.Load(f.dataDir)
	require.NoError(t, err)
	assert.InDelta(t, 900, loaded.QuoteBalance(), 1e-9)

	doc, err := f.eng.decisions.Latest()
	require.NoError(t, err)
	assert.Equal(t, "OK", doc.State)
	require.Len(t, doc.Decisions, 1)
}

func TestRunCycle_DegradesWithoutMarketData(t *testing.T) {
	sim := exchange.NewSimExchange(exchange.SimConfig{})
	sim.SetBalance("EUR", 1000)
	f := newEngineFixture(t, sim)

	require.NoError(t, f.eng.runCycle(context.Background()))

	doc, err := f.eng.decisions.Latest()
	require.NoError(t, err)
	assert.Equal(t, string(StateDegraded), doc.State)

	trades, err := f.trades.All()
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestTick_DegradedCycleDoesNotCountTowardFatal(t *testing.T) {
	sim := exchange.NewSimExchange(exchange.SimConfig{})
	sim.SetBalance("EUR", 1000)
	f := newEngineFixture(t, sim)

	for i := 0; i < maxConsecutiveFailures+1; i++ {
		f.eng.tick(context.Background())
	}

	assert.Equal(t, 0, f.eng.failures)
	select {
	case <-f.eng.fatalCh:
		t.Fatal("degraded cycles must not trip the fatal threshold")
	default:
	}
}

func TestTick_DropsOverlappingTick(t *testing.T) {
	f := newEngineFixture(t, quietSim())

	f.eng.running.Store(true)
	f.eng.tick(context.Background())

	doc, err := f.eng.decisions.Latest()
	require.NoError(t, err)
	assert.Empty(t, doc.CycleID)
	assert.Equal(t, 0, f.eng.failures)
}

func TestTick_FatalAfterConsecutivePersistenceFailures(t *testing.T) {
	f := newEngineFixture(t, quietSim())

	// A regular file where the data directory should be makes every
	// ledger persist fail, which is the cycle-fatal error class.
	blocked := filepath.Join(t.TempDir(), "blocked")
	require.NoError(t, os.WriteFile(blocked, []byte("x"), 0o644))
	f.eng.cfg.Storage.DataDir = filepath.Join(blocked, "data")

	for i := 0; i < maxConsecutiveFailures; i++ {
		f.eng.tick(context.Background())
	}

	assert.Equal(t, maxConsecutiveFailures, f.eng.failures)
	select {
	case <-f.eng.fatalCh:
	default:
		t.Fatal("expected the fatal channel to be closed")
	}
}

// ============================================================
// Cool-down placement
// ============================================================

func TestFilterThrottled_FreesAllocationForEligiblePair(t *testing.T) {
	f := newEngineFixture(t, quietSim())

	// A-EUR traded recently; a same-side signal below threshold+boost is
	// suppressed before allocation so its share flows to B-EUR.
	f.throttle.RecordTrade("A-EUR", exchange.OrderSideBuy)

	ranked := []opportunity.Opportunity{
		buyOpp("A-EUR", 0, strategy.RegimeBull),
		buyOpp("B-EUR", 0, strategy.RegimeBull),
	}
	ranked[0].Signal.Confidence = 60 // below 55 + 15

	filtered := f.eng.filterThrottled(zerolog.Nop(), ranked)
	require.Len(t, filtered, 1)
	assert.Equal(t, "B-EUR", filtered[0].Pair)

	out := f.eng.manager.Allocate(filtered, 100)
	require.Len(t, out, 1)
	assert.InDelta(t, 100, out[0].Allocation, 1e-9)
}

// ============================================================
// Hard-bear execution budget
// ============================================================

func TestExecute_HardBearBudgetAndTradeCap(t *testing.T) {
	sim := exchange.NewSimExchange(exchange.SimConfig{})
	sim.SetBalance("EUR", 1000)
	for _, pair := range []string{"A-EUR", "B-EUR", "C-EUR", "D-EUR"} {
		sim.SetPrice(pair, 100)
	}
	f := newEngineFixture(t, sim)
	f.ledger.SyncFromAccounts([]exchange.Account{{Currency: "EUR", Available: 1000}})

	ranked := []opportunity.Opportunity{
		buyOpp("A-EUR", 200, strategy.RegimeBearHard),
		buyOpp("B-EUR", 200, strategy.RegimeBearHard),
		buyOpp("C-EUR", 200, strategy.RegimeBearHard),
		buyOpp("D-EUR", 200, strategy.RegimeBearHard),
	}

	executed, err := f.eng.execute(context.Background(), zerolog.Nop(), "c1", ranked)
	require.NoError(t, err)
	assert.Equal(t, risk.HardBearMaxTradesPerCycle, executed)

	// Each executed trade is bounded by 2% of portfolio value.
	trades, err := f.trades.All()
	require.NoError(t, err)
	require.Len(t, trades, risk.HardBearMaxTradesPerCycle)
	for _, trade := range trades {
		assert.LessOrEqual(t, trade.QuoteAmount, 0.02*1000+1e-6)
	}
}

// ============================================================
// Unknown order outcome and reconciliation
// ============================================================

// unknownOnceExchange reports the first placed order as unobservable,
// then behaves normally.
type unknownOnceExchange struct {
	*exchange.SimExchange
	tripped bool
}

func (u *unknownOnceExchange) PlaceMarketOrder(ctx context.Context, req exchange.MarketOrderRequest) (*exchange.Order, error) {
	if !u.tripped {
		u.tripped = true
		return nil, exchange.ErrOrderUnknown
	}
	return u.SimExchange.PlaceMarketOrder(ctx, req)
}

func TestEngine_UnknownOrderOutcomeReconcilesNextCycle(t *testing.T) {
	sim := quietSim()
	wrapped := &unknownOnceExchange{SimExchange: sim}
	f := newEngineFixture(t, wrapped)
	f.ledger.SyncFromAccounts([]exchange.Account{{Currency: "EUR", Available: 1000}})

	executed, err := f.eng.execute(context.Background(), zerolog.Nop(), "c1",
		[]opportunity.Opportunity{buyOpp("BTC-EUR", 100, strategy.RegimeBull)})
	require.NoError(t, err)
	assert.Equal(t, 0, executed)

	// The unobservable outcome left a warning record and the ledger alone.
	trades, err := f.trades.All()
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, string(exchange.OrderStatusUnknown), trades[0].Status)
	assert.Empty(t, trades[0].OrderID)
	assert.InDelta(t, 1000, f.ledger.QuoteBalance(), 1e-9)

	// The order turns out to have filled; the next cycle's account sync
	// corrects the ledger.
	sim.SetBalance("EUR", 900)
	sim.SetBalance("BTC", 0.999)

	require.NoError(t, f.eng.runCycle(context.Background()))
	assert.InDelta(t, 900, f.ledger.QuoteBalance(), 1e-9)
	assert.InDelta(t, 0.999, f.ledger.AssetAmount("BTC"), 1e-9)
}

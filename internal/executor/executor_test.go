package executor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptodrift/driftbot/internal/cooldown"
	"github.com/cryptodrift/driftbot/internal/exchange"
	"github.com/cryptodrift/driftbot/internal/opportunity"
	"github.com/cryptodrift/driftbot/internal/portfolio"
	"github.com/cryptodrift/driftbot/internal/risk"
	"github.com/cryptodrift/driftbot/internal/store"
	"github.com/cryptodrift/driftbot/internal/strategy"
)

type fixture struct {
	sim      *exchange.SimExchange
	ledger   *portfolio.Ledger
	trades   *store.TradeLog
	throttle *cooldown.Throttle
	exec     *Executor
	dataDir  string
}

func newFixture(t *testing.T, quoteBalance float64) *fixture {
	t.Helper()

	sim := exchange.NewSimExchange(exchange.SimConfig{SlippageBps: 5, FeeBps: 10})
	sim.SetBalance("EUR", quoteBalance)
	sim.SetPrice("BTC-EUR", 100)

	ledger := portfolio.New("EUR", []exchange.Account{
		{Currency: "EUR", Available: quoteBalance},
	}, nil)

	dataDir := t.TempDir()
	trades := store.NewTradeLog(dataDir)
	throttle := cooldown.New(time.Hour, 15)

	exec := New(Config{
		Exchange: sim,
		Ledger:   ledger,
		DataDir:  dataDir,
		Trades:   trades,
		Throttle: throttle,
		Sizer: risk.NewSizer(risk.SizerConfig{
			Level:          risk.LevelLow,
			TargetQuotePct: 0.3,
			MaxPositionPct: 0.5,
			MinTradeAmount: 1,
		}),
		Logger: zerolog.Nop(),
	})

	return &fixture{sim: sim, ledger: ledger, trades: trades, throttle: throttle, exec: exec, dataDir: dataDir}
}

func buyOpportunity(allocation float64) opportunity.Opportunity {
	return opportunity.Opportunity{
		Pair:       "BTC-EUR",
		Action:     strategy.ActionBuy,
		Score:      80,
		Allocation: allocation,
		Price:      100,
		Signal: strategy.Combined{
			Pair:               "BTC-EUR",
			Action:             strategy.ActionBuy,
			Confidence:         70,
			PositionMultiplier: 1.0,
			Regime:             strategy.RegimeBull,
		},
	}
}

func TestExecute_BuyUpdatesLedgerAndLog(t *testing.T) {
	f := newFixture(t, 1000)

	out, err := f.exec.Execute(context.Background(), "cycle1", buyOpportunity(100))
	require.NoError(t, err)
	assert.True(t, out.Executed)
	assert.Equal(t, exchange.OrderStatusSimulated, out.Status)

	// The full allocation was spent and the base asset landed in the ledger.
	assert.InDelta(t, 900, f.ledger.QuoteBalance(), 1e-9)
	assert.Greater(t, f.ledger.AssetAmount("BTC"), 0.0)

	trades, err := f.trades.All()
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "cycle1", trades[0].CycleID)
	assert.True(t, strings.HasPrefix(trades[0].ClientOrderID, "db-"))
	assert.Len(t, trades[0].ClientOrderID, len("db-")+24)
	assert.NotEmpty(t, trades[0].OrderID)
	assert.Equal(t, "combined", trades[0].Strategy)

	// The ledger was persisted.
	loaded, err := portfolio.Load(f.dataDir)
	require.NoError(t, err)
	assert.InDelta(t, 900, loaded.QuoteBalance(), 1e-9)
}

func TestExecute_StartsCooldownWindow(t *testing.T) {
	f := newFixture(t, 1000)

	_, err := f.exec.Execute(context.Background(), "cycle1", buyOpportunity(100))
	require.NoError(t, err)

	// The reversal is now suppressed for the window.
	assert.False(t, f.throttle.Allow("BTC-EUR", exchange.OrderSideSell, 99, 55))
}

func TestExecute_SellFromHolding(t *testing.T) {
	f := newFixture(t, 0)
	f.sim.SetBalance("BTC", 1)
	f.ledger.SyncFromAccounts([]exchange.Account{
		{Currency: "EUR", Available: 0},
		{Currency: "BTC", Available: 1},
	})
	f.ledger.SetPrice("BTC", 100)

	opp := buyOpportunity(0)
	opp.Action = strategy.ActionSell
	opp.Signal.Action = strategy.ActionSell

	out, err := f.exec.Execute(context.Background(), "cycle1", opp)
	require.NoError(t, err)
	assert.True(t, out.Executed)
	assert.Greater(t, f.ledger.QuoteBalance(), 0.0)
	assert.Less(t, f.ledger.AssetAmount("BTC"), 1.0)
}

func TestExecute_ZeroSizeSkips(t *testing.T) {
	f := newFixture(t, 1000)

	// Allocation below the exchange minimum sizes to zero.
	out, err := f.exec.Execute(context.Background(), "cycle1", buyOpportunity(0.5))
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.False(t, out.Executed)
	assert.InDelta(t, 1000, f.ledger.QuoteBalance(), 1e-9)
}

func TestExecute_InsufficientBalanceResyncsAndAborts(t *testing.T) {
	f := newFixture(t, 1000)
	// The exchange has less cash than the ledger believes.
	f.sim.SetBalance("EUR", 50)

	out, err := f.exec.Execute(context.Background(), "cycle1", buyOpportunity(100))
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.False(t, out.Executed)

	// The ledger resynced to the exchange's view.
	assert.InDelta(t, 50, f.ledger.QuoteBalance(), 1e-9)

	trades, err := f.trades.All()
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestExecute_ClientOrderIDsAreUnique(t *testing.T) {
	f := newFixture(t, 1000)

	_, err := f.exec.Execute(context.Background(), "cycle1", buyOpportunity(100))
	require.NoError(t, err)
	_, err = f.exec.Execute(context.Background(), "cycle1", buyOpportunity(100))
	require.NoError(t, err)

	trades, err := f.trades.All()
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.NotEqual(t, trades[0].ClientOrderID, trades[1].ClientOrderID)
}

func TestExecute_BadActionSkips(t *testing.T) {
	f := newFixture(t, 1000)

	opp := buyOpportunity(100)
	opp.Action = strategy.ActionHold

	out, err := f.exec.Execute(context.Background(), "cycle1", opp)
	require.NoError(t, err)
	assert.True(t, out.Skipped)
}

package performance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptodrift/driftbot/internal/portfolio"
)

func snapAt(day int, value float64) Snapshot {
	return Snapshot{
		Timestamp:           time.Date(2026, 1, 1+day, 18, 0, 0, 0, time.UTC),
		Trigger:             TriggerScheduled,
		PortfolioValueQuote: value,
	}
}

// ============================================================
// Metric derivation
// ============================================================

func TestComputeMetrics_SyntheticSeries(t *testing.T) {
	snaps := []Snapshot{
		snapAt(0, 1000),
		snapAt(1, 1100),
		snapAt(2, 990),
		snapAt(3, 1089),
	}
	m := computeMetrics(1000, snaps)

	assert.InDelta(t, 0.089, m.TotalReturn, 1e-9)
	assert.InDelta(t, 0.1, m.MaxDrawdown, 1e-9) // 1100 -> 990
	assert.InDelta(t, 2.0/3.0, m.WinRate, 1e-9)
	assert.InDelta(t, 2.0, m.ProfitFactor, 1e-9) // gains 0.2 over losses 0.1
	assert.Equal(t, 4, m.Days)
	assert.Greater(t, m.Volatility, 0.0)
}

func TestComputeMetrics_EmptySeries(t *testing.T) {
	m := computeMetrics(1000, nil)
	assert.Equal(t, &Metrics{}, m)
}

func TestComputeMetrics_BadInitialValue(t *testing.T) {
	m := computeMetrics(0, []Snapshot{snapAt(0, 1000)})
	assert.Equal(t, &Metrics{}, m)
}

func TestDailyValues_CollapsesSameDay(t *testing.T) {
	morning := snapAt(0, 1000)
	evening := snapAt(0, 1050)
	evening.Timestamp = evening.Timestamp.Add(3 * time.Hour)

	values := dailyValues([]Snapshot{morning, evening, snapAt(1, 1100)})
	assert.Equal(t, []float64{1050, 1100}, values)
}

func TestMaxDrawdown_MonotoneRiseIsZero(t *testing.T) {
	assert.Equal(t, 0.0, maxDrawdown([]float64{100, 110, 120}))
}

func TestWinStats_NoLossesCapsProfitFactor(t *testing.T) {
	winRate, profitFactor := winStats([]float64{0.01, 0.02})
	assert.Equal(t, 1.0, winRate)
	assert.Equal(t, 999.0, profitFactor)
}

func TestDownsideDeviation_OnlyNegativeDaysCount(t *testing.T) {
	assert.Equal(t, 0.0, downsideDeviation([]float64{0.01, 0.02}))
	assert.Greater(t, downsideDeviation([]float64{0.01, -0.02}), 0.0)
}

// ============================================================
// Tracker persistence
// ============================================================

func trackerView(value float64) portfolio.View {
	return portfolio.View{
		QuoteCurrency:       "EUR",
		QuoteBalance:        value,
		Holdings:            map[string]portfolio.Holding{"EUR": {Amount: value}},
		PortfolioValueQuote: value,
	}
}

func TestTracker_RecordAppendsSnapshots(t *testing.T) {
	tr := NewTracker(t.TempDir(), 0)

	require.NoError(t, tr.Record(TriggerStartup, trackerView(1000)))
	require.NoError(t, tr.Record(TriggerTrade, trackerView(1100)))

	snaps, err := tr.Snapshots()
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, TriggerStartup, snaps[0].Trigger)
	assert.InDelta(t, 1100, snaps[1].PortfolioValueQuote, 1e-9)
}

func TestTracker_RetentionRollsOldestOff(t *testing.T) {
	tr := NewTracker(t.TempDir(), 3)

	for i := 0; i < 5; i++ {
		require.NoError(t, tr.Record(TriggerScheduled, trackerView(1000+float64(i))))
	}

	snaps, err := tr.Snapshots()
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.InDelta(t, 1002, snaps[0].PortfolioValueQuote, 1e-9)
	assert.InDelta(t, 1004, snaps[2].PortfolioValueQuote, 1e-9)
}

func TestTracker_ResetRebasesTracking(t *testing.T) {
	tr := NewTracker(t.TempDir(), 0)
	require.NoError(t, tr.Record(TriggerStartup, trackerView(1000)))

	require.NoError(t, tr.Reset(trackerView(1200)))

	cfg, err := tr.loadConfig()
	require.NoError(t, err)
	assert.InDelta(t, 1200, cfg.InitialValue, 1e-9)
	require.Len(t, cfg.ResetHistory, 1)
	assert.InDelta(t, 1200, cfg.ResetHistory[0].PreResetValue, 1e-9)

	// The reset itself is snapshotted.
	snaps, err := tr.Snapshots()
	require.NoError(t, err)
	assert.Equal(t, TriggerReset, snaps[len(snaps)-1].Trigger)
}

func TestTracker_ComputeMetricsOnEmptyStore(t *testing.T) {
	tr := NewTracker(t.TempDir(), 0)
	m, err := tr.ComputeMetrics()
	require.NoError(t, err)
	assert.Equal(t, &Metrics{}, m)
}

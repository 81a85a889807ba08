package market

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptodrift/driftbot/internal/exchange"
	"github.com/cryptodrift/driftbot/internal/indicators"
)

// hourlyCandles builds n flat hourly candles ending at the given time.
func hourlyCandles(n int, end time.Time) []exchange.Candle {
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

func newTestCollector(t *testing.T, sim *exchange.SimExchange) *Collector {
	t.Helper()
	c, err := NewCollector(CollectorConfig{
		Exchange:    sim,
		Granularity: "1h",
		Lookback:    120,
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)
	return c
}

func TestCollect_FreshWindow(t *testing.T) {
	sim := exchange.NewSimExchange(exchange.SimConfig{})
	sim.SetTicker("BTC-EUR", exchange.Ticker{Price: 100, Bid: 99.9, Ask: 100.1, Volume24h: 5000})
	sim.SetCandles("BTC-EUR", hourlyCandles(60, time.Now().UTC()))

	c := newTestCollector(t, sim)
	data, err := c.Collect(context.Background(), "BTC-EUR")
	require.NoError(t, err)

	assert.Equal(t, "BTC-EUR", data.Pair)
	assert.InDelta(t, 100, data.Price, 1e-9)
	assert.InDelta(t, 5000, data.Volume24h, 1e-9)
	assert.False(t, data.Degraded)
	require.NotNil(t, data.Indicators)
	assert.InDelta(t, 100, data.Indicators.Price, 1e-9)
}

func TestCollect_StaleWindowDegrades(t *testing.T) {
	sim := exchange.NewSimExchange(exchange.SimConfig{})
	sim.SetPrice("BTC-EUR", 100)
	sim.SetCandles("BTC-EUR", hourlyCandles(60, time.Now().UTC().Add(-3*time.Hour)))

	c := newTestCollector(t, sim)
	data, err := c.Collect(context.Background(), "BTC-EUR")
	require.NoError(t, err)
	assert.True(t, data.Degraded)
}

func TestCollect_InsufficientCandles(t *testing.T) {
	sim := exchange.NewSimExchange(exchange.SimConfig{})
	sim.SetPrice("BTC-EUR", 100)
	sim.SetCandles("BTC-EUR", hourlyCandles(indicators.MinSamples-1, time.Now().UTC()))

	c := newTestCollector(t, sim)
	_, err := c.Collect(context.Background(), "BTC-EUR")
	assert.ErrorIs(t, err, exchange.ErrDataUnavailable)
}

func TestCollect_MissingTicker(t *testing.T) {
	sim := exchange.NewSimExchange(exchange.SimConfig{})
	sim.SetCandles("BTC-EUR", hourlyCandles(60, time.Now().UTC()))

	c := newTestCollector(t, sim)
	_, err := c.Collect(context.Background(), "BTC-EUR")
	assert.ErrorIs(t, err, exchange.ErrDataUnavailable)
}

func TestNewCollector_RejectsUnknownGranularity(t *testing.T) {
	_, err := NewCollector(CollectorConfig{
		Exchange:    exchange.NewSimExchange(exchange.SimConfig{}),
		Granularity: "42m",
		Lookback:    120,
		Logger:      zerolog.Nop(),
	})
	assert.Error(t, err)
}

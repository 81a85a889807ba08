package exchange

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimExchange_BuyFillIsDeterministic(t *testing.T) {
	sim := NewSimExchange(SimConfig{SlippageBps: 5, FeeBps: 10})
	sim.SetBalance("EUR", 1000)
	sim.SetPrice("BTC-EUR", 100)

	order, err := sim.PlaceMarketOrder(context.Background(), MarketOrderRequest{
		Pair:          "BTC-EUR",
		Side:          OrderSideBuy,
		Size:          100,
		ClientOrderID: "db-test-1",
	})
	require.NoError(t, err)

	assert.Equal(t, OrderStatusSimulated, order.Status)
	assert.InDelta(t, 100.05, order.Price, 1e-9) // mid + 5bps slippage
	assert.InDelta(t, 0.1, order.Fees, 1e-9)     // 10bps of quote
	assert.InDelta(t, 99.9/100.05, order.BaseAmount, 1e-9)
	assert.InDelta(t, 100, order.QuoteAmount, 1e-9)

	accounts, err := sim.GetAccounts(context.Background())
	require.NoError(t, err)
	balances := make(map[string]float64, len(accounts))
	for _, a := range accounts {
		balances[a.Currency] = a.Available
	}
	assert.InDelta(t, 900, balances["EUR"], 1e-9)
	assert.InDelta(t, order.BaseAmount, balances["BTC"], 1e-9)
}

func TestSimExchange_SellFill(t *testing.T) {
	sim := NewSimExchange(SimConfig{SlippageBps: 5, FeeBps: 10})
	sim.SetBalance("BTC", 1)
	sim.SetPrice("BTC-EUR", 100)

	order, err := sim.PlaceMarketOrder(context.Background(), MarketOrderRequest{
		Pair: "BTC-EUR",
		Side: OrderSideSell,
		Size: 0.5,
	})
	require.NoError(t, err)

	assert.InDelta(t, 99.95, order.Price, 1e-9) // mid - slippage
	gross := 0.5 * 99.95
	assert.InDelta(t, gross*0.001, order.Fees, 1e-9)
	assert.InDelta(t, gross-order.Fees, order.QuoteAmount, 1e-9)
}

func TestSimExchange_DuplicateClientOrderIDIsIdempotent(t *testing.T) {
	sim := NewSimExchange(SimConfig{})
	sim.SetBalance("EUR", 1000)
	sim.SetPrice("BTC-EUR", 100)

	req := MarketOrderRequest{
		Pair:          "BTC-EUR",
		Side:          OrderSideBuy,
		Size:          100,
		ClientOrderID: "db-dup",
	}
	first, err := sim.PlaceMarketOrder(context.Background(), req)
	require.NoError(t, err)

	second, err := sim.PlaceMarketOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// The duplicate must not have filled twice.
	accounts, err := sim.GetAccounts(context.Background())
	require.NoError(t, err)
	for _, a := range accounts {
		if a.Currency == "EUR" {
			assert.InDelta(t, 900, a.Available, 1e-9)
		}
	}
}

func TestSimExchange_InsufficientBalance(t *testing.T) {
	sim := NewSimExchange(SimConfig{})
	sim.SetBalance("EUR", 50)
	sim.SetPrice("BTC-EUR", 100)

	_, err := sim.PlaceMarketOrder(context.Background(), MarketOrderRequest{
		Pair: "BTC-EUR",
		Side: OrderSideBuy,
		Size: 100,
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestSimExchange_RejectsNonPositiveSize(t *testing.T) {
	sim := NewSimExchange(SimConfig{})
	sim.SetPrice("BTC-EUR", 100)

	_, err := sim.PlaceMarketOrder(context.Background(), MarketOrderRequest{
		Pair: "BTC-EUR",
		Side: OrderSideBuy,
		Size: 0,
	})
	assert.ErrorIs(t, err, ErrOrderRejected)
}

func TestSimExchange_CandleLookbackTrims(t *testing.T) {
	sim := NewSimExchange(SimConfig{})
	candles := make([]Candle, 10)
	for i := range candles {
		candles[i].Close = float64(i)
	}
	sim.SetCandles("BTC-EUR", candles)

	got, err := sim.GetCandles(context.Background(), "BTC-EUR", "ONE_HOUR", 4)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, 6.0, got[0].Close)
}

func TestSimExchange_MissingDataErrors(t *testing.T) {
	sim := NewSimExchange(SimConfig{})

	_, err := sim.GetTicker(context.Background(), "BTC-EUR")
	assert.ErrorIs(t, err, ErrDataUnavailable)

	_, err = sim.GetCandles(context.Background(), "BTC-EUR", "ONE_HOUR", 10)
	assert.ErrorIs(t, err, ErrDataUnavailable)

	_, err = sim.GetOrder(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrOrderUnknown)
}

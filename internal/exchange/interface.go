package exchange

import "context"

// Exchange defines the operations the decision cycle requires of an
// exchange backend. RESTExchange (live), BinanceExchange (live) and
// SimExchange (simulation) all implement it.
type Exchange interface {
	// GetAccounts returns a snapshot of all currency balances.
	GetAccounts(ctx context.Context) ([]Account, error)

	// GetTicker returns the current market state for a pair.
	GetTicker(ctx context.Context, pair string) (*Ticker, error)

	// GetCandles returns up to lookback most-recent candles at the given
	// granularity, oldest first.
	GetCandles(ctx context.Context, pair, granularity string, lookback int) ([]Candle, error)

	// PlaceMarketOrder places a market order and returns only once the
	// exchange acknowledged a terminal status. Definitive refusals wrap
	// ErrOrderRejected; unconfirmable outcomes wrap ErrOrderUnknown.
	PlaceMarketOrder(ctx context.Context, req MarketOrderRequest) (*Order, error)

	// GetOrder retrieves a previously placed order by exchange ID.
	GetOrder(ctx context.Context, orderID string) (*Order, error)
}

package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SimExchange simulates an exchange for simulation mode and tests. Fills
// are deterministic: the current ticker mid shifted by the configured
// slippage, minus the configured fee. Orders with a client order ID that
// was already seen return the original order instead of filling twice.
type SimExchange struct {
	mu sync.RWMutex

	balances map[string]float64 // currency -> available
	tickers  map[string]Ticker  // pair -> ticker
	candles  map[string][]Candle
	orders   map[string]*Order // exchange order id -> order
	byClient map[string]*Order // client order id -> order

	slippageBps float64
	feeBps      float64
}

// SimConfig configures the simulated exchange
type SimConfig struct {
	SlippageBps float64 // default 5
	FeeBps      float64 // default 10
}

// NewSimExchange creates a simulated exchange
func NewSimExchange(cfg SimConfig) *SimExchange {
	if cfg.SlippageBps == 0 {
		cfg.SlippageBps = 5
	}
	if cfg.FeeBps == 0 {
		cfg.FeeBps = 10
	}

	log.Info().
		Float64("slippage_bps", cfg.SlippageBps).
		Float64("fee_bps", cfg.FeeBps).
		Msg("Simulated exchange initialized")

	return &SimExchange{
		balances:    make(map[string]float64),
		tickers:     make(map[string]Ticker),
		candles:     make(map[string][]Candle),
		orders:      make(map[string]*Order),
		byClient:    make(map[string]*Order),
		slippageBps: cfg.SlippageBps,
		feeBps:      cfg.FeeBps,
	}
}

// SetBalance sets a currency balance.
func (s *SimExchange) SetBalance(currency string, amount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[currency] = amount
}

// SetTicker sets the current ticker for a pair.
func (s *SimExchange) SetTicker(pair string, t Ticker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.Pair = pair
	if t.Time.IsZero() {
		t.Time = time.Now().UTC()
	}
	s.tickers[pair] = t
}

// SetPrice sets a flat ticker at the given price.
func (s *SimExchange) SetPrice(pair string, price float64) {
	s.SetTicker(pair, Ticker{Price: price, Bid: price, Ask: price})
}

// SetCandles sets the candle window returned for a pair.
func (s *SimExchange) SetCandles(pair string, candles []Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candles[pair] = candles
}

// GetAccounts returns the simulated balances.
func (s *SimExchange) GetAccounts(ctx context.Context) ([]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]Account, 0, len(s.balances))
	for currency, amount := range s.balances {
		accounts = append(accounts, Account{Currency: currency, Available: amount})
	}
	return accounts, nil
}

// GetTicker returns the configured ticker for a pair.
func (s *SimExchange) GetTicker(ctx context.Context, pair string) (*Ticker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tickers[pair]
	if !ok {
		return nil, fmt.Errorf("%w: no ticker for %s", ErrDataUnavailable, pair)
	}
	out := t
	return &out, nil
}

// GetCandles returns the configured candle window for a pair.
func (s *SimExchange) GetCandles(ctx context.Context, pair, granularity string, lookback int) ([]Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candles, ok := s.candles[pair]
	if !ok || len(candles) == 0 {
		return nil, fmt.Errorf("%w: no candles for %s", ErrDataUnavailable, pair)
	}
	if len(candles) > lookback {
		candles = candles[len(candles)-lookback:]
	}
	out := make([]Candle, len(candles))
	copy(out, candles)
	return out, nil
}

// PlaceMarketOrder fills a market order deterministically at mid plus
// slippage. Balances are checked and mutated so the simulation honours
// insufficient-balance behaviour.
func (s *SimExchange) PlaceMarketOrder(ctx context.Context, req MarketOrderRequest) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Idempotency: a repeated client order ID returns the original fill.
	if prev, ok := s.byClient[req.ClientOrderID]; ok && req.ClientOrderID != "" {
		log.Debug().
			Str("client_order_id", req.ClientOrderID).
			Msg("Duplicate client order id, returning original order")
		out := *prev
		return &out, nil
	}

	if req.Size <= 0 {
		return nil, fmt.Errorf("%w: non-positive size", ErrOrderRejected)
	}

	ticker, ok := s.tickers[req.Pair]
	if !ok {
		return nil, fmt.Errorf("%w: no ticker for %s", ErrDataUnavailable, req.Pair)
	}

	base, quote, ok := splitSimPair(req.Pair)
	if !ok {
		return nil, fmt.Errorf("%w: bad pair %q", ErrOrderRejected, req.Pair)
	}

	mid := ticker.Mid()
	slip := mid * s.slippageBps / 10000

	var fillPrice, baseAmount, quoteAmount, fees float64
	switch req.Side {
	case OrderSideBuy:
		fillPrice = mid + slip
		quoteAmount = req.Size
		if s.balances[quote] < quoteAmount {
			return nil, fmt.Errorf("%w: need %.2f %s, have %.2f", ErrInsufficientBalance, quoteAmount, quote, s.balances[quote])
		}
		fees = quoteAmount * s.feeBps / 10000
		baseAmount = (quoteAmount - fees) / fillPrice
		s.balances[quote] -= quoteAmount
		s.balances[base] += baseAmount
	case OrderSideSell:
		fillPrice = mid - slip
		baseAmount = req.Size
		if s.balances[base] < baseAmount {
			return nil, fmt.Errorf("%w: need %.8f %s, have %.8f", ErrInsufficientBalance, baseAmount, base, s.balances[base])
		}
		gross := baseAmount * fillPrice
		fees = gross * s.feeBps / 10000
		quoteAmount = gross - fees
		s.balances[base] -= baseAmount
		s.balances[quote] += quoteAmount
	default:
		return nil, fmt.Errorf("%w: bad side %q", ErrOrderRejected, req.Side)
	}

	now := time.Now().UTC()
	order := &Order{
		ID:            uuid.New().String(),
		ClientOrderID: req.ClientOrderID,
		Pair:          req.Pair,
		Side:          req.Side,
		Status:        OrderStatusSimulated,
		BaseAmount:    baseAmount,
		QuoteAmount:   quoteAmount,
		Price:         fillPrice,
		Fees:          fees,
		CreatedAt:     now,
		DoneAt:        now,
	}
	s.orders[order.ID] = order
	if req.ClientOrderID != "" {
		s.byClient[req.ClientOrderID] = order
	}

	log.Debug().
		Str("pair", req.Pair).
		Str("side", string(req.Side)).
		Float64("fill_price", fillPrice).
		Float64("base_amount", baseAmount).
		Float64("quote_amount", quoteAmount).
		Msg("Simulated fill")

	out := *order
	return &out, nil
}

// GetOrder retrieves a simulated order.
func (s *SimExchange) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", ErrOrderUnknown, orderID)
	}
	out := *order
	return &out, nil
}

func splitSimPair(pair string) (base, quote string, ok bool) {
	for i := len(pair) - 1; i > 0; i-- {
		if pair[i] == '-' {
			return pair[:i], pair[i+1:], true
		}
	}
	return "", "", false
}

package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// BinanceExchange implements Exchange on top of the Binance spot API.
// Pair identifiers use the engine's ASSET-QUOTE form and are mapped to
// Binance's concatenated symbols.
type BinanceExchange struct {
	client   *binance.Client
	limiter  *rate.Limiter
	retryCfg RetryConfig
	log      zerolog.Logger
}

// BinanceConfig configures the Binance backend
type BinanceConfig struct {
	APIKey          string
	APISecret       string
	Testnet         bool
	RateLimitPerSec float64
	MaxRetries      int
	Logger          zerolog.Logger
}

// NewBinanceExchange creates a Binance-backed exchange
func NewBinanceExchange(cfg BinanceConfig) *BinanceExchange {
	if cfg.Testnet {
		binance.UseTestnet = true
	}
	retryCfg := DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retryCfg.MaxRetries = cfg.MaxRetries
	}

	return &BinanceExchange{
		client:   binance.NewClient(cfg.APIKey, cfg.APISecret),
		limiter:  NewRequestLimiter(cfg.RateLimitPerSec),
		retryCfg: retryCfg,
		log:      cfg.Logger.With().Str("backend", "binance").Logger(),
	}
}

// binanceSymbol maps "BTC-EUR" to "BTCEUR".
func binanceSymbol(pair string) string {
	return strings.ReplaceAll(pair, "-", "")
}

// classifyBinanceErr maps SDK errors onto the taxonomy.
func classifyBinanceErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "-1003") || strings.Contains(msg, "429"):
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case strings.Contains(msg, "-2010") || strings.Contains(msg, "insufficient balance"):
		return fmt.Errorf("%w: %v", ErrInsufficientBalance, err)
	case strings.Contains(msg, "-2014") || strings.Contains(msg, "-2015") || strings.Contains(msg, "API-key"):
		return fmt.Errorf("%w: %v", ErrAuthentication, err)
	case strings.Contains(msg, "-1001") || strings.Contains(msg, "timeout") || strings.Contains(msg, "connection"):
		return fmt.Errorf("%w: %v", ErrTransient, err)
	default:
		return err
	}
}

// GetAccounts returns a snapshot of all non-zero balances.
func (b *BinanceExchange) GetAccounts(ctx context.Context) ([]Account, error) {
	var acct *binance.Account
	err := WithRetry(ctx, b.retryCfg, func() error {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
		var callErr error
		acct, callErr = b.client.NewGetAccountService().Do(ctx)
		return classifyBinanceErr(callErr)
	})
	if err != nil {
		return nil, err
	}

	accounts := make([]Account, 0, len(acct.Balances))
	for _, bal := range acct.Balances {
		free := parseFloat(bal.Free)
		locked := parseFloat(bal.Locked)
		if free == 0 && locked == 0 {
			continue
		}
		accounts = append(accounts, Account{
			Currency:  bal.Asset,
			Available: free,
			Hold:      locked,
		})
	}
	return accounts, nil
}

// GetTicker returns the current market state for a pair.
func (b *BinanceExchange) GetTicker(ctx context.Context, pair string) (*Ticker, error) {
	symbol := binanceSymbol(pair)
	var stats []*binance.PriceChangeStats
	err := WithRetry(ctx, b.retryCfg, func() error {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
		var callErr error
		stats, callErr = b.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
		return classifyBinanceErr(callErr)
	})
	if err != nil {
		return nil, err
	}
	if len(stats) == 0 {
		return nil, fmt.Errorf("%w: no ticker for %s", ErrDataUnavailable, pair)
	}

	s := stats[0]
	return &Ticker{
		Pair:      pair,
		Price:     parseFloat(s.LastPrice),
		Bid:       parseFloat(s.BidPrice),
		Ask:       parseFloat(s.AskPrice),
		Volume24h: parseFloat(s.QuoteVolume),
		Time:      time.Now().UTC(),
	}, nil
}

// GetCandles returns up to lookback most-recent candles, oldest first.
func (b *BinanceExchange) GetCandles(ctx context.Context, pair, granularity string, lookback int) ([]Candle, error) {
	symbol := binanceSymbol(pair)
	var klines []*binance.Kline
	err := WithRetry(ctx, b.retryCfg, func() error {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
		var callErr error
		klines, callErr = b.client.NewKlinesService().
			Symbol(symbol).
			Interval(granularity).
			Limit(lookback).
			Do(ctx)
		return classifyBinanceErr(callErr)
	})
	if err != nil {
		return nil, err
	}
	if len(klines) == 0 {
		return nil, fmt.Errorf("%w: no candles for %s", ErrDataUnavailable, pair)
	}

	candles := make([]Candle, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, Candle{
			Time:   time.UnixMilli(k.OpenTime).UTC(),
			Open:   parseFloat(k.Open),
			High:   parseFloat(k.High),
			Low:    parseFloat(k.Low),
			Close:  parseFloat(k.Close),
			Volume: parseFloat(k.Volume),
		})
	}
	return candles, nil
}

// PlaceMarketOrder places a market order. BUY uses QuoteOrderQty so the
// size stays quote-denominated; SELL uses base quantity.
func (b *BinanceExchange) PlaceMarketOrder(ctx context.Context, req MarketOrderRequest) (*Order, error) {
	symbol := binanceSymbol(req.Pair)
	side := binance.SideTypeBuy
	if req.Side == OrderSideSell {
		side = binance.SideTypeSell
	}

	var resp *binance.CreateOrderResponse
	err := WithRetry(ctx, b.retryCfg, func() error {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
		svc := b.client.NewCreateOrderService().
			Symbol(symbol).
			Side(side).
			Type(binance.OrderTypeMarket).
			NewClientOrderID(req.ClientOrderID)
		if req.Side == OrderSideBuy {
			svc = svc.QuoteOrderQty(strconv.FormatFloat(req.Size, 'f', 8, 64))
		} else {
			svc = svc.Quantity(strconv.FormatFloat(req.Size, 'f', 8, 64))
		}
		var callErr error
		resp, callErr = svc.Do(ctx)
		return classifyBinanceErr(callErr)
	})
	if err != nil {
		return nil, err
	}

	return b.convertCreateResponse(resp, req), nil
}

func (b *BinanceExchange) convertCreateResponse(resp *binance.CreateOrderResponse, req MarketOrderRequest) *Order {
	status := OrderStatusUnknown
	switch resp.Status {
	case binance.OrderStatusTypeFilled:
		status = OrderStatusFilled
	case binance.OrderStatusTypePartiallyFilled:
		status = OrderStatusPartial
	case binance.OrderStatusTypeRejected, binance.OrderStatusTypeCanceled, binance.OrderStatusTypeExpired:
		status = OrderStatusRejected
	}

	base := parseFloat(resp.ExecutedQuantity)
	quote := parseFloat(resp.CummulativeQuoteQuantity)
	price := 0.0
	if base > 0 {
		price = quote / base
	}

	var fees float64
	for _, fill := range resp.Fills {
		fees += parseFloat(fill.Commission)
	}

	return &Order{
		ID:            strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: req.ClientOrderID,
		Pair:          req.Pair,
		Side:          req.Side,
		Status:        status,
		BaseAmount:    base,
		QuoteAmount:   quote,
		Price:         price,
		Fees:          fees,
		CreatedAt:     time.UnixMilli(resp.TransactTime).UTC(),
		DoneAt:        time.UnixMilli(resp.TransactTime).UTC(),
	}
}

// GetOrder retrieves an order by exchange ID. Binance needs the symbol as
// well, encoded as "SYMBOL:ID".
func (b *BinanceExchange) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	symbol, rawID, found := strings.Cut(orderID, ":")
	if !found {
		return nil, fmt.Errorf("%w: binance order lookup needs SYMBOL:ID, got %q", ErrOrderUnknown, orderID)
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad order id %q", ErrOrderUnknown, rawID)
	}

	var raw *binance.Order
	err = WithRetry(ctx, b.retryCfg, func() error {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
		var callErr error
		raw, callErr = b.client.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx)
		return classifyBinanceErr(callErr)
	})
	if err != nil {
		return nil, err
	}

	status := OrderStatusUnknown
	switch raw.Status {
	case binance.OrderStatusTypeFilled:
		status = OrderStatusFilled
	case binance.OrderStatusTypePartiallyFilled:
		status = OrderStatusPartial
	case binance.OrderStatusTypeRejected, binance.OrderStatusTypeCanceled, binance.OrderStatusTypeExpired:
		status = OrderStatusRejected
	}

	base := parseFloat(raw.ExecutedQuantity)
	quote := parseFloat(raw.CummulativeQuoteQuantity)
	price := 0.0
	if base > 0 {
		price = quote / base
	}

	return &Order{
		ID:            strconv.FormatInt(raw.OrderID, 10),
		ClientOrderID: raw.ClientOrderID,
		Pair:          raw.Symbol,
		Side:          OrderSide(raw.Side),
		Status:        status,
		BaseAmount:    base,
		QuoteAmount:   quote,
		Price:         price,
		CreatedAt:     time.UnixMilli(raw.Time).UTC(),
		DoneAt:        time.UnixMilli(raw.UpdateTime).UTC(),
	}, nil
}

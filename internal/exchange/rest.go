package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// RESTExchange talks to an HMAC-signed JSON/REST exchange API. All calls
// pass through the token-bucket throttle, the circuit breaker and the
// retry loop, in that order.
type RESTExchange struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	retryCfg   RetryConfig
	log        zerolog.Logger
}

// RESTConfig configures the REST exchange client
type RESTConfig struct {
	BaseURL         string
	APIKey          string
	APISecret       string
	RateLimitPerSec float64
	MaxRetries      int
	RequestTimeout  time.Duration
	Logger          zerolog.Logger
}

// NewRESTExchange creates a REST exchange client
func NewRESTExchange(cfg RESTConfig) *RESTExchange {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	retryCfg := DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retryCfg.MaxRetries = cfg.MaxRetries
	}

	return &RESTExchange{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		limiter:    NewRequestLimiter(cfg.RateLimitPerSec),
		breaker:    NewBreaker("exchange"),
		retryCfg:   retryCfg,
		log:        cfg.Logger.With().Str("backend", "rest").Logger(),
	}
}

type restAccount struct {
	Currency  string `json:"currency"`
	Available string `json:"available"`
	Hold      string `json:"hold"`
}

type restTicker struct {
	Price  string `json:"price"`
	Bid    string `json:"bid"`
	Ask    string `json:"ask"`
	Volume string `json:"volume"`
	Time   string `json:"time"`
}

type restOrder struct {
	ID            string `json:"id"`
	ClientOrderID string `json:"client_oid"`
	ProductID     string `json:"product_id"`
	Side          string `json:"side"`
	Status        string `json:"status"`
	FilledSize    string `json:"filled_size"`
	ExecutedValue string `json:"executed_value"`
	FillFees      string `json:"fill_fees"`
	Settled       bool   `json:"settled"`
	CreatedAt     string `json:"created_at"`
	DoneAt        string `json:"done_at"`
}

// GetAccounts returns a snapshot of all currency balances.
func (e *RESTExchange) GetAccounts(ctx context.Context) ([]Account, error) {
	var raw []restAccount
	if err := e.call(ctx, http.MethodGet, "/accounts", nil, &raw); err != nil {
		return nil, err
	}

	accounts := make([]Account, 0, len(raw))
	for _, a := range raw {
		accounts = append(accounts, Account{
			Currency:  a.Currency,
			Available: parseFloat(a.Available),
			Hold:      parseFloat(a.Hold),
		})
	}
	return accounts, nil
}

// GetTicker returns the current market state for a pair.
func (e *RESTExchange) GetTicker(ctx context.Context, pair string) (*Ticker, error) {
	var raw restTicker
	path := fmt.Sprintf("/products/%s/ticker", pair)
	if err := e.call(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}

	ts, _ := time.Parse(time.RFC3339, raw.Time)
	return &Ticker{
		Pair:      pair,
		Price:     parseFloat(raw.Price),
		Bid:       parseFloat(raw.Bid),
		Ask:       parseFloat(raw.Ask),
		Volume24h: parseFloat(raw.Volume),
		Time:      ts,
	}, nil
}

// GetCandles returns up to lookback candles at the given granularity,
// oldest first. The wire format is the columnar
// [time, low, high, open, close, volume] array most exchanges use.
func (e *RESTExchange) GetCandles(ctx context.Context, pair, granularity string, lookback int) ([]Candle, error) {
	seconds, err := granularitySeconds(granularity)
	if err != nil {
		return nil, err
	}

	var raw [][]float64
	path := fmt.Sprintf("/products/%s/candles?granularity=%d&limit=%d", pair, seconds, lookback)
	if err := e.call(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: no candles for %s", ErrDataUnavailable, pair)
	}

	candles := make([]Candle, 0, len(raw))
	for _, row := range raw {
		if len(row) < 6 {
			continue
		}
		candles = append(candles, Candle{
			Time:   time.Unix(int64(row[0]), 0).UTC(),
			Low:    row[1],
			High:   row[2],
			Open:   row[3],
			Close:  row[4],
			Volume: row[5],
		})
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Time.Before(candles[j].Time) })
	if len(candles) > lookback {
		candles = candles[len(candles)-lookback:]
	}
	return candles, nil
}

// PlaceMarketOrder places a market order and polls until the exchange
// reports a terminal status.
func (e *RESTExchange) PlaceMarketOrder(ctx context.Context, req MarketOrderRequest) (*Order, error) {
	body := map[string]interface{}{
		"type":       "market",
		"product_id": req.Pair,
		"side":       string(req.Side),
		"client_oid": req.ClientOrderID,
	}
	// BUY is denominated in quote funds, SELL in base size.
	if req.Side == OrderSideBuy {
		body["funds"] = strconv.FormatFloat(req.Size, 'f', -1, 64)
	} else {
		body["size"] = strconv.FormatFloat(req.Size, 'f', -1, 64)
	}

	var placed restOrder
	if err := e.call(ctx, http.MethodPost, "/orders", body, &placed); err != nil {
		return nil, err
	}
	if placed.Status == "rejected" {
		return nil, fmt.Errorf("%w: %s", ErrOrderRejected, placed.ID)
	}

	// Poll until the order settles. An order that never settles inside the
	// request budget is surfaced as unknown, never as filled.
	deadline := time.Now().Add(e.httpClient.Timeout)
	for {
		order, err := e.GetOrder(ctx, placed.ID)
		if err == nil && order.Status != OrderStatusUnknown {
			order.ClientOrderID = req.ClientOrderID
			return order, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: order %s not settled", ErrOrderUnknown, placed.ID)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrOrderUnknown, ctx.Err())
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// GetOrder retrieves a previously placed order.
func (e *RESTExchange) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var raw restOrder
	if err := e.call(ctx, http.MethodGet, "/orders/"+orderID, nil, &raw); err != nil {
		return nil, err
	}
	return convertRESTOrder(raw), nil
}

func convertRESTOrder(raw restOrder) *Order {
	status := OrderStatusUnknown
	switch raw.Status {
	case "done", "filled":
		status = OrderStatusFilled
	case "rejected":
		status = OrderStatusRejected
	case "open", "pending":
		if parseFloat(raw.FilledSize) > 0 {
			status = OrderStatusPartial
		}
	}

	created, _ := time.Parse(time.RFC3339, raw.CreatedAt)
	done, _ := time.Parse(time.RFC3339, raw.DoneAt)

	base := parseFloat(raw.FilledSize)
	quote := parseFloat(raw.ExecutedValue)
	price := 0.0
	if base > 0 {
		price = quote / base
	}

	return &Order{
		ID:            raw.ID,
		ClientOrderID: raw.ClientOrderID,
		Pair:          raw.ProductID,
		Side:          OrderSide(raw.Side),
		Status:        status,
		BaseAmount:    base,
		QuoteAmount:   quote,
		Price:         price,
		Fees:          parseFloat(raw.FillFees),
		CreatedAt:     created,
		DoneAt:        done,
	}
}

// call performs one signed request through limiter, breaker and retry.
func (e *RESTExchange) call(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	return WithRetry(ctx, e.retryCfg, func() error {
		if err := e.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait: %w", err)
		}
		_, err := e.breaker.Execute(func() (interface{}, error) {
			return nil, e.doRequest(ctx, method, path, body, out)
		})
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return fmt.Errorf("%w: circuit breaker open", ErrTransient)
		}
		return err
	})
}

func (e *RESTExchange) doRequest(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", e.apiKey)
	req.Header.Set("X-API-TIMESTAMP", timestamp)
	req.Header.Set("X-API-SIGN", e.sign(timestamp, method, path, payload))

	start := time.Now()
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrTransient, err)
	}

	e.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Exchange request completed")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return statusError(resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// sign computes the HMAC-SHA256 request signature over
// timestamp + method + path + body.
func (e *RESTExchange) sign(timestamp, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(e.apiSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte(method))
	mac.Write([]byte(path))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// granularitySeconds converts a granularity label to seconds.
func granularitySeconds(granularity string) (int, error) {
	switch granularity {
	case "1m":
		return 60, nil
	case "5m":
		return 300, nil
	case "15m":
		return 900, nil
	case "1h":
		return 3600, nil
	case "6h":
		return 21600, nil
	case "1d":
		return 86400, nil
	default:
		return 0, fmt.Errorf("unsupported granularity: %s", granularity)
	}
}

// GranularityDuration converts a granularity label to a duration.
func GranularityDuration(granularity string) (time.Duration, error) {
	secs, err := granularitySeconds(granularity)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs) * time.Second, nil
}

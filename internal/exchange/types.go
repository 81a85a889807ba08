package exchange

import "time"

// OrderSide represents buy or sell
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Opposite returns the reversing side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderStatus represents the terminal state of a market order
type OrderStatus string

const (
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusPartial   OrderStatus = "PARTIAL"
	OrderStatusRejected  OrderStatus = "REJECTED"
	OrderStatusSimulated OrderStatus = "SIMULATED"
	OrderStatusUnknown   OrderStatus = "UNKNOWN"
)

// Account is one currency balance in the exchange account snapshot
type Account struct {
	Currency  string  `json:"currency"`
	Available float64 `json:"available"`
	Hold      float64 `json:"hold"`
}

// Ticker is the current market state for a pair
type Ticker struct {
	Pair      string    `json:"pair"`
	Price     float64   `json:"price"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Volume24h float64   `json:"volume_24h"`
	Time      time.Time `json:"time"`
}

// Mid returns the bid/ask midpoint, falling back to the last price.
func (t Ticker) Mid() float64 {
	if t.Bid > 0 && t.Ask > 0 {
		return (t.Bid + t.Ask) / 2
	}
	return t.Price
}

// Candle is one fixed-granularity OHLCV record
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// MarketOrderRequest places a market order. Size is denominated in the
// quote currency for BUY and the base asset for SELL.
type MarketOrderRequest struct {
	Pair          string    `json:"pair"`
	Side          OrderSide `json:"side"`
	Size          float64   `json:"size"`
	ClientOrderID string    `json:"client_order_id"`
}

// Order is the exchange's view of a placed order after it reached a
// terminal status.
type Order struct {
	ID            string      `json:"id"`
	ClientOrderID string      `json:"client_order_id"`
	Pair          string      `json:"pair"`
	Side          OrderSide   `json:"side"`
	Status        OrderStatus `json:"status"`
	BaseAmount    float64     `json:"base_amount"`  // base asset filled
	QuoteAmount   float64     `json:"quote_amount"` // quote currency moved
	Price         float64     `json:"price"`        // average fill price
	Fees          float64     `json:"fees"`         // quote currency
	CreatedAt     time.Time   `json:"created_at"`
	DoneAt        time.Time   `json:"done_at"`
}

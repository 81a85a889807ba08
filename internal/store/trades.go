package store

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TradeRecord is one executed (or attempted) trade. Status mirrors the
// terminal order statuses plus UNKNOWN for orders whose outcome could
// not be observed.
type TradeRecord struct {
	ID            string    `json:"id"`
	CycleID       string    `json:"cycle_id"`
	ClientOrderID string    `json:"client_order_id"`
	OrderID       string    `json:"order_id,omitempty"` // exchange order id; empty for UNKNOWN outcomes
	Pair          string    `json:"pair"`
	Side          string    `json:"side"`
	Strategy      string    `json:"strategy"`
	Status        string    `json:"status"`
	BaseAmount    float64   `json:"base_amount"`
	QuoteAmount   float64   `json:"quote_amount"`
	Price         float64   `json:"price"`
	Fees          float64   `json:"fees"`
	Score         float64   `json:"score"`
	Confidence    float64   `json:"confidence"`
	Regime        string    `json:"regime"`
	Reasoning     string    `json:"reasoning,omitempty"`
	PnL           *float64  `json:"pnl,omitempty"` // realised PnL when a cost basis is known
	ExecutedAt    time.Time `json:"executed_at"`
}

type tradeHistory struct {
	Version string        `json:"version"`
	Trades  []TradeRecord `json:"trades"`
}

// TradeLog is the append-only trade history. Appends rewrite the whole
// document atomically; records appear in execution order.
type TradeLog struct {
	mu   sync.Mutex
	path string
}

// NewTradeLog opens the trade log under the data directory.
func NewTradeLog(dataDir string) *TradeLog {
	return &TradeLog{path: filepath.Join(dataDir, "trades", "trade_history.json")}
}

// Append adds one record and persists.
func (l *TradeLog) Append(rec TradeRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	hist, err := l.load()
	if err != nil {
		return err
	}
	hist.Trades = append(hist.Trades, rec)
	hist.Version = SchemaVersion
	return WriteJSONAtomic(l.path, hist)
}

// All returns every recorded trade, oldest first.
func (l *TradeLog) All() ([]TradeRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	hist, err := l.load()
	if err != nil {
		return nil, err
	}
	return hist.Trades, nil
}

func (l *TradeLog) load() (*tradeHistory, error) {
	var hist tradeHistory
	if err := ReadJSON(l.path, &hist); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &tradeHistory{Version: SchemaVersion}, nil
		}
		return nil, err
	}
	if err := CheckSchemaVersion(hist.Version); err != nil {
		return nil, err
	}
	return &hist, nil
}

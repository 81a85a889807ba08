// Package portfolio holds the in-memory ledger of held assets and cash.
// The ledger is a single mutable aggregate owned by the cycle orchestrator;
// every other component sees read-only copies.
package portfolio

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cryptodrift/driftbot/internal/exchange"
	"github.com/cryptodrift/driftbot/internal/store"
)

// FileName is the ledger's location under the data directory.
const FileName = "portfolio.json"

// Holding is one symbol's position
type Holding struct {
	Amount         float64 `json:"amount"`
	InitialAmount  float64 `json:"initial_amount"`
	LastPriceQuote float64 `json:"last_price_quote,omitempty"` // absent for the quote currency
}

// Ledger is the persisted portfolio state
type Ledger struct {
	Version             string             `json:"version"`
	QuoteCurrency       string             `json:"quote_currency"`
	Holdings            map[string]Holding `json:"holdings"`
	TradesExecuted      int                `json:"trades_executed"`
	PortfolioValueQuote float64            `json:"portfolio_value_quote"`
	InitialValueQuote   float64            `json:"initial_value_quote"`
	LastUpdated         time.Time          `json:"last_updated"`
}

// New creates a ledger from an exchange account snapshot and current
// prices. Assets without a known price are carried at zero value until the
// first collector pass fills them in.
func New(quoteCurrency string, accounts []exchange.Account, prices map[string]float64) *Ledger {
	l := &Ledger{
		Version:       store.SchemaVersion,
		QuoteCurrency: quoteCurrency,
		Holdings:      make(map[string]Holding),
		LastUpdated:   time.Now().UTC(),
	}

	for _, acct := range accounts {
		total := acct.Available + acct.Hold
		if total == 0 {
			continue
		}
		h := Holding{Amount: total, InitialAmount: total}
		if acct.Currency != quoteCurrency {
			h.LastPriceQuote = prices[acct.Currency]
		}
		l.Holdings[acct.Currency] = h
	}
	if _, ok := l.Holdings[quoteCurrency]; !ok {
		l.Holdings[quoteCurrency] = Holding{}
	}

	l.recompute()
	l.InitialValueQuote = l.PortfolioValueQuote
	return l
}

// QuoteBalance returns the quote currency amount.
func (l *Ledger) QuoteBalance() float64 {
	return l.Holdings[l.QuoteCurrency].Amount
}

// AssetAmount returns the held amount of an asset.
func (l *Ledger) AssetAmount(asset string) float64 {
	return l.Holdings[asset].Amount
}

// SetPrice updates an asset's last known quote price and recomputes the
// portfolio value.
func (l *Ledger) SetPrice(asset string, price float64) {
	if asset == l.QuoteCurrency || price <= 0 {
		return
	}
	h := l.Holdings[asset]
	h.LastPriceQuote = price
	l.Holdings[asset] = h
	l.recompute()
	l.touch()
}

// ApplyFill applies a terminal order fill: the source amount is
// decremented, the destination incremented, and the portfolio value
// recomputed. Amounts never go negative; an over-withdrawal clamps to
// zero and is logged, because it means the exchange and the ledger have
// diverged and the next sync will reconcile.
func (l *Ledger) ApplyFill(order *exchange.Order) error {
	base, quote, ok := splitPair(order.Pair)
	if !ok {
		return fmt.Errorf("bad pair %q", order.Pair)
	}
	if quote != l.QuoteCurrency {
		return fmt.Errorf("order quote %s does not match ledger quote %s", quote, l.QuoteCurrency)
	}

	qh := l.Holdings[quote]
	bh := l.Holdings[base]

	switch order.Side {
	case exchange.OrderSideBuy:
		qh.Amount = clampNonNegative(quote, qh.Amount-order.QuoteAmount)
		bh.Amount += order.BaseAmount
	case exchange.OrderSideSell:
		bh.Amount = clampNonNegative(base, bh.Amount-order.BaseAmount)
		qh.Amount += order.QuoteAmount
	default:
		return fmt.Errorf("bad side %q", order.Side)
	}

	if order.Price > 0 {
		bh.LastPriceQuote = order.Price
	}

	l.Holdings[quote] = qh
	l.Holdings[base] = bh
	l.TradesExecuted++
	l.recompute()
	l.touch()
	return nil
}

// SyncFromAccounts replaces held amounts with the exchange's view,
// keeping prices and initial amounts. Used at startup and after an
// unknown order outcome.
func (l *Ledger) SyncFromAccounts(accounts []exchange.Account) {
	seen := make(map[string]bool, len(accounts))
	for _, acct := range accounts {
		total := acct.Available + acct.Hold
		seen[acct.Currency] = true
		h, ok := l.Holdings[acct.Currency]
		if !ok {
			h = Holding{InitialAmount: total}
		}
		h.Amount = total
		l.Holdings[acct.Currency] = h
	}
	// Anything the exchange no longer reports is gone.
	for sym := range l.Holdings {
		if sym != l.QuoteCurrency && !seen[sym] {
			h := l.Holdings[sym]
			h.Amount = 0
			l.Holdings[sym] = h
		}
	}
	l.recompute()
	l.touch()
}

// Reset re-bases tracking at the current value. History preservation is
// the performance tracker's job; the ledger only moves its baseline.
func (l *Ledger) Reset() {
	for sym, h := range l.Holdings {
		h.InitialAmount = h.Amount
		l.Holdings[sym] = h
	}
	l.recompute()
	l.InitialValueQuote = l.PortfolioValueQuote
	l.touch()
}

// recompute recalculates portfolio_value_quote from holdings. Invariant:
// value == quote.amount + sum(asset.amount * asset.last_price_quote).
func (l *Ledger) recompute() {
	value := 0.0
	for sym, h := range l.Holdings {
		if sym == l.QuoteCurrency {
			value += h.Amount
		} else {
			value += h.Amount * h.LastPriceQuote
		}
	}
	l.PortfolioValueQuote = value
}

// touch advances last_updated, keeping it monotonically non-decreasing.
func (l *Ledger) touch() {
	now := time.Now().UTC()
	if now.After(l.LastUpdated) {
		l.LastUpdated = now
	}
}

// Save persists the ledger atomically.
func (l *Ledger) Save(dataDir string) error {
	return store.WriteJSONAtomic(filepath.Join(dataDir, FileName), l)
}

// Load reads the ledger from the data directory. Corruption falls back to
// the .bak inside store.ReadJSON; schema incompatibility is an error so a
// newer ledger is never clobbered.
func Load(dataDir string) (*Ledger, error) {
	var l Ledger
	path := filepath.Join(dataDir, FileName)
	if err := store.ReadJSON(path, &l); err != nil {
		return nil, err
	}
	if err := store.CheckSchemaVersion(l.Version); err != nil {
		return nil, fmt.Errorf("ledger %s: %w", path, err)
	}
	if l.Version == "" {
		l.Version = store.SchemaVersion
	}
	if l.Holdings == nil {
		l.Holdings = make(map[string]Holding)
	}
	return &l, nil
}

func clampNonNegative(symbol string, v float64) float64 {
	if v < -1e-9 {
		log.Warn().
			Str("symbol", symbol).
			Float64("amount", v).
			Msg("Ledger amount went negative, clamping to zero pending resync")
	}
	if v < 0 {
		return 0
	}
	return v
}

func splitPair(pair string) (base, quote string, ok bool) {
	for i := len(pair) - 1; i > 0; i-- {
		if pair[i] == '-' {
			return pair[:i], pair[i+1:], true
		}
	}
	return "", "", false
}

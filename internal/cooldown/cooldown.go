// Package cooldown throttles re-trading a pair shortly after an executed
// trade. Opposite-side signals are suppressed outright for the window;
// same-side signals need extra confidence so positions are not stacked on
// noise.
package cooldown

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cryptodrift/driftbot/internal/exchange"
)

// DefaultStackingBoost is the extra confidence a same-side signal needs
// while the pair is cooling down.
const DefaultStackingBoost = 15.0

type entry struct {
	side exchange.OrderSide
	at   time.Time
}

// Throttle tracks the last executed trade per pair. Safe for concurrent
// use; consulted after ranking so suppressed opportunities do not consume
// allocation.
type Throttle struct {
	mu      sync.Mutex
	window  time.Duration
	boost   float64
	entries map[string]entry
	now     func() time.Time
}

// New creates a throttle with the given cool-down window and same-side
// stacking boost.
func New(window time.Duration, boost float64) *Throttle {
	if boost <= 0 {
		boost = DefaultStackingBoost
	}
	return &Throttle{
		window:  window,
		boost:   boost,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// RecordTrade notes an executed trade, starting the pair's window.
func (t *Throttle) RecordTrade(pair string, side exchange.OrderSide) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[pair] = entry{side: side, at: t.now()}
}

// Allow reports whether a signal on the pair may execute. threshold is
// the normal confidence threshold for the signal's side.
func (t *Throttle) Allow(pair string, side exchange.OrderSide, confidence, threshold float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[pair]
	if !ok {
		return true
	}
	elapsed := t.now().Sub(e.at)
	if elapsed >= t.window {
		delete(t.entries, pair)
		return true
	}

	if side == e.side.Opposite() {
		log.Info().
			Str("pair", pair).
			Str("side", string(side)).
			Dur("remaining", t.window-elapsed).
			Msg("Cool-down: suppressing reversal")
		return false
	}
	if confidence < threshold+t.boost {
		log.Info().
			Str("pair", pair).
			Str("side", string(side)).
			Float64("confidence", confidence).
			Float64("required", threshold+t.boost).
			Msg("Cool-down: suppressing low-confidence stacking")
		return false
	}
	return true
}

// Reset clears all cool-down state.
func (t *Throttle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]entry)
}

// Package strategy holds the individual trading strategies and the
// regime-aware combiner that folds their signals into one per-pair
// decision.
package strategy

import (
	"context"

	"github.com/cryptodrift/driftbot/internal/indicators"
	"github.com/cryptodrift/driftbot/internal/portfolio"
)

// Action is a strategy's directional verdict.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Vote maps an action to its signed vote for the combiner.
func (a Action) Vote() float64 {
	switch a {
	case ActionBuy:
		return 1
	case ActionSell:
		return -1
	default:
		return 0
	}
}

// Regime classifies current market conditions for a pair.
type Regime string

const (
	RegimeBull     Regime = "BULL"
	RegimeBear     Regime = "BEAR"
	RegimeSideways Regime = "SIDEWAYS"

	// RegimeBearHard overrides downstream risk sizing: quarter-size buys,
	// tighter per-trade cap, bounded trades per cycle.
	RegimeBearHard Regime = "BEAR_MARKET_HARD"
)

// Signal is one strategy's verdict for one pair in one cycle.
type Signal struct {
	Action             Action  `json:"action"`
	Confidence         float64 `json:"confidence"` // 0..100
	Reasoning          string  `json:"reasoning"`
	PositionMultiplier float64 `json:"position_multiplier"` // 0.5..1.5

	// Fallback marks an advisory safe-HOLD; the combiner redistributes
	// the advisory weight when set.
	Fallback bool `json:"fallback,omitempty"`
}

// Hold builds a HOLD signal with a neutral position multiplier.
func Hold(reasoning string) Signal {
	return Signal{
		Action:             ActionHold,
		Confidence:         0,
		Reasoning:          reasoning,
		PositionMultiplier: 1.0,
	}
}

// Input carries everything a strategy may look at. Strategies are pure
// functions of their input and hold no cross-cycle state; the portfolio
// view is a defensive copy and must not be mutated.
type Input struct {
	Pair      string
	Snapshot  *indicators.Snapshot
	Regime    Regime
	Portfolio portfolio.View

	// Degraded marks a stale data window; the combiner caps confidence.
	Degraded bool
}

// Strategy is the contract every strategy implements.
type Strategy interface {
	Name() string
	Analyse(ctx context.Context, in Input) Signal
}

// clampMultiplier keeps position multipliers inside the sizer's range.
func clampMultiplier(m float64) float64 {
	if m < 0.5 {
		return 0.5
	}
	if m > 1.5 {
		return 1.5
	}
	return m
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

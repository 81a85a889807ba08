package strategy

import (
	"context"
	"fmt"
)

// Mean-reversion tiers. Each tier pairs an RSI extreme with a Bollinger
// z-score extreme; confidence is fixed per tier.
const (
	reversionStrongConfidence   = 80.0
	reversionModerateConfidence = 60.0
	reversionWeakConfidence     = 40.0
)

// ReversionStrategy bets on snap-backs from overextended prices using RSI
// extremes confirmed by the Bollinger z-score.
type ReversionStrategy struct{}

// NewReversionStrategy creates the mean-reversion strategy.
func NewReversionStrategy() *ReversionStrategy { return &ReversionStrategy{} }

func (s *ReversionStrategy) Name() string { return "mean_reversion" }

func (s *ReversionStrategy) Analyse(_ context.Context, in Input) Signal {
	snap := in.Snapshot

	// z-score of price against the Bollinger middle band. The band width
	// spans four standard deviations, so sigma as a fraction of the middle
	// is width/4.
	stdPct := snap.BBWidthPct / 4
	if snap.BBMiddle <= 0 || stdPct <= 0 {
		return Hold("bollinger bands unavailable")
	}
	z := (snap.Price - snap.BBMiddle) / (snap.BBMiddle * stdPct)

	switch {
	case snap.RSI < 20 && z < -1.5:
		return reversionSignal(ActionBuy, reversionStrongConfidence, snap.RSI, z)
	case snap.RSI < 30 && z < -1.0:
		return reversionSignal(ActionBuy, reversionModerateConfidence, snap.RSI, z)
	case snap.RSI < 35 && z < -0.5:
		return reversionSignal(ActionBuy, reversionWeakConfidence, snap.RSI, z)
	case snap.RSI > 80 && z > 1.5:
		return reversionSignal(ActionSell, reversionStrongConfidence, snap.RSI, z)
	case snap.RSI > 70 && z > 1.0:
		return reversionSignal(ActionSell, reversionModerateConfidence, snap.RSI, z)
	case snap.RSI > 65 && z > 0.5:
		return reversionSignal(ActionSell, reversionWeakConfidence, snap.RSI, z)
	}
	return Hold("price within normal band")
}

func reversionSignal(action Action, confidence, rsi, z float64) Signal {
	return Signal{
		Action:             action,
		Confidence:         confidence,
		Reasoning:          fmt.Sprintf("mean reversion: RSI %.1f, bollinger z-score %.2f", rsi, z),
		PositionMultiplier: reversionMultiplier(confidence),
	}
}

// reversionMultiplier sizes up the strong tier and down the weak one.
func reversionMultiplier(confidence float64) float64 {
	switch confidence {
	case reversionStrongConfidence:
		return 1.2
	case reversionWeakConfidence:
		return 0.8
	default:
		return 1.0
	}
}

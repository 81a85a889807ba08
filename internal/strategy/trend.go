package strategy

import (
	"context"
	"fmt"
)

// Trend strategy tuning. Strength is a 0..100 score built from three
// directional checks; the threshold gates actionable signals.
const (
	trendThreshold       = 60.0
	trendRSIOverbought   = 75.0
	trendRSIOversold     = 25.0
	trendMACDWeight      = 40.0
	trendBollingerWeight = 30.0
	trendRSIWeight       = 30.0
)

// TrendStrategy follows established directional moves. It reads MACD line
// vs signal, price vs the Bollinger middle band, and RSI as confirmation.
type TrendStrategy struct{}

// NewTrendStrategy creates the trend-following strategy.
func NewTrendStrategy() *TrendStrategy { return &TrendStrategy{} }

func (s *TrendStrategy) Name() string { return "trend" }

// Analyse scores trend strength in both directions and emits the dominant
// one when it clears the threshold and RSI does not contradict it.
func (s *TrendStrategy) Analyse(_ context.Context, in Input) Signal {
	snap := in.Snapshot

	var up, down float64
	if snap.MACD > snap.MACDSignal {
		up += trendMACDWeight
	} else if snap.MACD < snap.MACDSignal {
		down += trendMACDWeight
	}
	if snap.Price > snap.BBMiddle {
		up += trendBollingerWeight
	} else if snap.Price < snap.BBMiddle {
		down += trendBollingerWeight
	}
	if snap.RSI > 50 {
		up += trendRSIWeight
	} else if snap.RSI < 50 {
		down += trendRSIWeight
	}

	switch {
	case up >= trendThreshold && up > down && snap.RSI < trendRSIOverbought:
		return Signal{
			Action:             ActionBuy,
			Confidence:         up,
			Reasoning:          fmt.Sprintf("uptrend strength %.0f: MACD above signal, price above Bollinger middle, RSI %.1f", up, snap.RSI),
			PositionMultiplier: trendMultiplier(up),
		}
	case down >= trendThreshold && down > up && snap.RSI > trendRSIOversold:
		return Signal{
			Action:             ActionSell,
			Confidence:         down,
			Reasoning:          fmt.Sprintf("downtrend strength %.0f: MACD below signal, price below Bollinger middle, RSI %.1f", down, snap.RSI),
			PositionMultiplier: trendMultiplier(down),
		}
	}
	return Hold("no trend above threshold")
}

// trendMultiplier scales 0.7 to 1.2 linearly with strength above the
// threshold.
func trendMultiplier(strength float64) float64 {
	frac := (strength - trendThreshold) / (100 - trendThreshold)
	return clampMultiplier(0.7 + clamp(frac, 0, 1)*0.5)
}

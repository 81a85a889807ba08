package strategy

import (
	"context"
	"fmt"
)

// Momentum blend weights and the actionable threshold on the combined
// score, which lives in [-100, +100].
const (
	momentumPriceWeight     = 0.4
	momentumVolumeWeight    = 0.3
	momentumTechnicalWeight = 0.3
	momentumThreshold       = 70.0
)

// MomentumStrategy trades acceleration: recent price change, volume
// expansion against its average, and technical direction, blended into a
// single signed score.
type MomentumStrategy struct{}

// NewMomentumStrategy creates the momentum strategy.
func NewMomentumStrategy() *MomentumStrategy { return &MomentumStrategy{} }

func (s *MomentumStrategy) Name() string { return "momentum" }

func (s *MomentumStrategy) Analyse(_ context.Context, in Input) Signal {
	snap := in.Snapshot

	price := priceMomentum(snap.Change24h, snap.Change7d)
	technical := technicalMomentum(snap.RSI, snap.MACDHistogram, snap.Price)

	// Volume expansion amplifies whichever way price is moving.
	volume := volumeMomentum(snap.Volume, snap.VolumeSMA)
	if price < 0 {
		volume = -volume
	}

	combined := momentumPriceWeight*price +
		momentumVolumeWeight*volume +
		momentumTechnicalWeight*technical

	reasoning := fmt.Sprintf("momentum %.0f (price %.0f, volume %.0f, technical %.0f)",
		combined, price, volume, technical)

	switch {
	case combined > momentumThreshold:
		return Signal{
			Action:             ActionBuy,
			Confidence:         clamp(combined, 0, 100),
			Reasoning:          reasoning,
			PositionMultiplier: momentumMultiplier(combined),
		}
	case combined < -momentumThreshold:
		return Signal{
			Action:             ActionSell,
			Confidence:         clamp(-combined, 0, 100),
			Reasoning:          reasoning,
			PositionMultiplier: momentumMultiplier(-combined),
		}
	}
	return Hold(reasoning)
}

// priceMomentum blends the 24h and 7d changes. A 10% daily move saturates
// the short leg.
func priceMomentum(change24h, change7d float64) float64 {
	short := clamp(change24h*10, -100, 100)
	long := clamp(change7d*4, -100, 100)
	return 0.6*short + 0.4*long
}

// volumeMomentum measures expansion against the volume SMA. Volume has no
// direction of its own; it is a magnitude amplifier and stays
// non-negative.
func volumeMomentum(volume, volumeSMA float64) float64 {
	if volumeSMA <= 0 {
		return 0
	}
	return clamp((volume/volumeSMA-1)*100, 0, 100)
}

// technicalMomentum blends RSI distance from neutral with the MACD
// histogram normalised by price.
func technicalMomentum(rsi, macdHistogram, price float64) float64 {
	rsiScore := clamp((rsi-50)*2, -100, 100)
	macdScore := 0.0
	if price > 0 {
		macdScore = clamp(macdHistogram/price*10000, -100, 100)
	}
	return 0.5*rsiScore + 0.5*macdScore
}

// momentumMultiplier grows to 1.3 for very strong momentum.
func momentumMultiplier(magnitude float64) float64 {
	frac := (magnitude - momentumThreshold) / (100 - momentumThreshold)
	return clampMultiplier(1.0 + clamp(frac, 0, 1)*0.3)
}

// Package risk converts an allocated opportunity into a concrete order
// size, scaled by the configured risk level and the signal's position
// multiplier.
package risk

import (
	"math"

	"github.com/rs/zerolog/log"

	"github.com/cryptodrift/driftbot/internal/portfolio"
	"github.com/cryptodrift/driftbot/internal/strategy"
)

// Level is the operator-chosen risk appetite.
type Level string

const (
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

// Multiplier maps a risk level to its size scaling. Counterintuitively
// named levels: LOW risk tolerance still trades full size on high
// conviction; HIGH caution halves it.
func (l Level) Multiplier() float64 {
	switch l {
	case LevelLow:
		return 1.0
	case LevelMedium:
		return 0.75
	case LevelHigh:
		return 0.5
	default:
		return 0.75
	}
}

// Hard-bear overrides.
const (
	hardBearBuyFactor   = 0.25
	hardBearMaxTradePct = 0.02
	// HardBearMaxTradesPerCycle bounds executions per cycle in a hard
	// bear market.
	HardBearMaxTradesPerCycle = 3

	// sellOvershootTolerance bounds how far past the target quote share a
	// single SELL may push, in portfolio fraction.
	sellOvershootTolerance = 0.05
)

// Sizer computes final order sizes.
type Sizer struct {
	level          Level
	targetQuotePct float64 // desired quote share of portfolio, 0..1
	maxPositionPct float64 // per-order max as a fraction of portfolio value
	minTradeAmount float64 // exchange minimum, quote units
}

// SizerConfig configures a Sizer. Percentages arrive as fractions.
type SizerConfig struct {
	Level          Level
	TargetQuotePct float64
	MaxPositionPct float64
	MinTradeAmount float64
}

// NewSizer creates a position sizer.
func NewSizer(cfg SizerConfig) *Sizer {
	return &Sizer{
		level:          cfg.Level,
		targetQuotePct: cfg.TargetQuotePct,
		maxPositionPct: cfg.MaxPositionPct,
		minTradeAmount: cfg.MinTradeAmount,
	}
}

// BuySize returns the quote amount to spend for a BUY opportunity, or
// zero when the trade should be skipped. Skipping is not an error.
func (s *Sizer) BuySize(allocation, positionMultiplier, portfolioValue float64, regime strategy.Regime) float64 {
	mult := s.level.Multiplier()
	maxTrade := s.maxPositionPct * portfolioValue
	if regime == strategy.RegimeBearHard {
		mult *= hardBearBuyFactor
		maxTrade = math.Min(maxTrade, hardBearMaxTradePct*portfolioValue)
	}

	size := allocation * mult * clampMultiplier(positionMultiplier)
	size = math.Min(size, allocation)
	if maxTrade > 0 {
		size = math.Min(size, maxTrade)
	}

	if size < s.minTradeAmount {
		log.Debug().
			Float64("size", size).
			Float64("minimum", s.minTradeAmount).
			Msg("BUY below exchange minimum, skipping")
		return 0
	}
	return size
}

// SellSize returns the base-asset amount to sell, or zero to skip. The
// rebalance factor is chosen so the post-trade quote share moves toward
// the target without overshooting it by more than the tolerance.
func (s *Sizer) SellSize(heldBase, price, positionMultiplier float64, view portfolio.View) float64 {
	if heldBase <= 0 || price <= 0 || view.PortfolioValueQuote <= 0 {
		return 0
	}

	quotePct := view.QuotePct()
	fullSellValue := heldBase * price

	// Quote value still needed to reach the target, bounded by the
	// overshoot tolerance when already at or above it.
	neededValue := (s.targetQuotePct - quotePct) * view.PortfolioValueQuote
	maxValue := (s.targetQuotePct + sellOvershootTolerance - quotePct) * view.PortfolioValueQuote
	if maxValue <= 0 {
		log.Debug().
			Float64("quote_pct", quotePct).
			Float64("target_pct", s.targetQuotePct).
			Msg("Quote share already past target plus tolerance, skipping SELL")
		return 0
	}

	rebalanceFactor := clampFraction(neededValue / fullSellValue)
	if rebalanceFactor == 0 {
		// Below target not required; sell a conservative slice.
		rebalanceFactor = 0.25
	}

	targetFraction := clampFraction(clampMultiplier(positionMultiplier) * rebalanceFactor)
	base := heldBase * targetFraction

	// Asset-specific per-order cap, then the no-overshoot bound.
	if s.maxPositionPct > 0 {
		base = math.Min(base, s.maxPositionPct*view.PortfolioValueQuote/price)
	}
	base = math.Min(base, maxValue/price)
	base = math.Min(base, heldBase)

	if base*price < s.minTradeAmount {
		log.Debug().
			Float64("value", base*price).
			Float64("minimum", s.minTradeAmount).
			Msg("SELL below exchange minimum, skipping")
		return 0
	}
	return base
}

func clampMultiplier(m float64) float64 {
	if m < 0.5 {
		return 0.5
	}
	if m > 1.5 {
		return 1.5
	}
	return m
}

func clampFraction(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

package strategy

import (
	"context"
	"fmt"

	"github.com/cryptodrift/driftbot/internal/config"
	"github.com/cryptodrift/driftbot/internal/llm"
)

// AdvisoryStrategy wraps the language-model adapter as a strategy. The
// adapter never errors; a failed consultation surfaces as a safe-HOLD
// with the Fallback flag set, and the combiner redistributes its weight.
type AdvisoryStrategy struct {
	advisor        llm.Advisor
	targetQuotePct float64 // desired quote share of the portfolio, 0..100
}

// NewAdvisoryStrategy creates the advisory strategy.
func NewAdvisoryStrategy(advisor llm.Advisor, targetQuotePct float64) *AdvisoryStrategy {
	return &AdvisoryStrategy{advisor: advisor, targetQuotePct: targetQuotePct}
}

func (s *AdvisoryStrategy) Name() string { return "advisory" }

func (s *AdvisoryStrategy) Analyse(ctx context.Context, in Input) Signal {
	snap := in.Snapshot
	base, _, _ := config.SplitPair(in.Pair)

	summary := llm.MarketSummary{
		Pair:                 in.Pair,
		Price:                snap.Price,
		Change24hPct:         snap.Change24h,
		Change7dPct:          snap.Change7d,
		Change30dPct:         snap.Change30d,
		Volume24h:            snap.Volume,
		RSI:                  snap.RSI,
		MACDLine:             snap.MACD,
		MACDSignal:           snap.MACDSignal,
		BollingerPosition:    bollingerPosition(snap.Price, snap.BBLower, snap.BBUpper),
		NormalizedVolatility: snap.NormalizedVolatility,
		Regime:               string(in.Regime),
	}

	pctx := llm.PortfolioContext{
		QuoteCurrency:   in.Portfolio.QuoteCurrency,
		QuoteBalance:    in.Portfolio.QuoteBalance,
		QuotePct:        in.Portfolio.QuotePct() * 100,
		TargetPct:       s.targetQuotePct,
		CriticalLowPct:  0.6 * s.targetQuotePct,
		LowPct:          s.targetQuotePct,
		HighPct:         1.5 * s.targetQuotePct,
		HeldAssetAmount: in.Portfolio.AssetAmount(base),
	}

	advice := s.advisor.Advise(ctx, summary, pctx)

	// A hard bear market raises the bar for advisory BUYs.
	if in.Regime == RegimeBearHard && advice.Action == "BUY" && advice.Confidence < 85 {
		return Hold(fmt.Sprintf("advisory BUY confidence %.0f below hard-bear bar", advice.Confidence))
	}

	return Signal{
		Action:             Action(advice.Action),
		Confidence:         clamp(advice.Confidence, 0, 100),
		Reasoning:          advice.Reasoning,
		PositionMultiplier: 1.0,
		Fallback:           advice.Fallback,
	}
}

// bollingerPosition maps price into [-1, +1] across the band.
func bollingerPosition(price, lower, upper float64) float64 {
	width := upper - lower
	if width <= 0 {
		return 0
	}
	return clamp((price-(lower+upper)/2)/(width/2), -1, 1)
}

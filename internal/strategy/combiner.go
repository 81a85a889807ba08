package strategy

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// degradedConfidenceCap bounds combined confidence when the pair's data
// window was stale.
const degradedConfidenceCap = 50.0

// Combined is the ensemble output for one pair in one cycle. The
// individual map and regime ride along for explainability and the
// decision cache.
type Combined struct {
	Pair               string            `json:"pair"`
	Action             Action            `json:"action"`
	Confidence         float64           `json:"confidence"` // 0..100
	Reasoning          string            `json:"reasoning"`
	PositionMultiplier float64           `json:"position_multiplier"`
	Regime             Regime            `json:"regime"`
	Individual         map[string]Signal `json:"individual_strategies"`
	Degraded           bool              `json:"degraded,omitempty"`
	Timestamp          time.Time         `json:"timestamp"`
}

// Combiner runs the strategy ensemble and blends the signals under the
// regime's weight row.
type Combiner struct {
	trend     *TrendStrategy
	reversion *ReversionStrategy
	momentum  *MomentumStrategy
	advisory  *AdvisoryStrategy

	weights       WeightTable
	buyThreshold  float64
	sellThreshold float64
	log           zerolog.Logger
}

// NewCombiner assembles the ensemble. The advisory strategy may be nil
// when no advisory provider is configured.
func NewCombiner(advisory *AdvisoryStrategy, weights WeightTable, buyThreshold, sellThreshold float64) *Combiner {
	if weights == nil {
		weights = DefaultWeights()
	}
	return &Combiner{
		trend:         NewTrendStrategy(),
		reversion:     NewReversionStrategy(),
		momentum:      NewMomentumStrategy(),
		advisory:      advisory,
		weights:       weights,
		buyThreshold:  buyThreshold,
		sellThreshold: sellThreshold,
		log:           log.With().Str("component", "combiner").Logger(),
	}
}

// Combine detects the regime, runs every strategy, and blends the votes.
//
// The blend: with per-strategy weight w, signed vote v (BUY +1, SELL -1,
// HOLD 0) and confidence c, compute S = sum(w*v*c) and N = sum(w*c). The
// combined confidence is 100*|S|/N, the action follows the sign of S, and
// the result is HOLD unless confidence clears the side's threshold.
func (c *Combiner) Combine(ctx context.Context, in Input) Combined {
	in.Regime = DetectRegime(in.Snapshot)

	individual := map[string]Signal{
		c.trend.Name():     c.trend.Analyse(ctx, in),
		c.reversion.Name(): c.reversion.Analyse(ctx, in),
		c.momentum.Name():  c.momentum.Analyse(ctx, in),
	}
	if c.advisory != nil {
		individual[c.advisory.Name()] = c.advisory.Analyse(ctx, in)
	}

	weights := c.effectiveWeights(in.Regime, individual)

	var signed, norm float64
	for name, sig := range individual {
		w := weights[name]
		signed += w * sig.Action.Vote() * sig.Confidence
		norm += w * sig.Confidence
	}

	combined := Combined{
		Pair:       in.Pair,
		Regime:     in.Regime,
		Individual: individual,
		Degraded:   in.Degraded,
		Timestamp:  time.Now().UTC(),
	}

	confidence := 0.0
	if norm > 0 {
		confidence = 100 * math.Abs(signed) / norm
	}

	action := ActionHold
	switch {
	case signed > 0 && confidence > c.buyThreshold:
		action = ActionBuy
	case signed < 0 && confidence > c.sellThreshold:
		action = ActionSell
	}

	// Near-tie between the directional camps: defer to the single most
	// confident strategy's action.
	if action != ActionHold {
		if tied, winner := c.nearTie(individual, weights); tied {
			action = winner
		}
	}

	if in.Degraded && confidence > degradedConfidenceCap {
		confidence = degradedConfidenceCap
		if action != ActionHold {
			c.log.Warn().
				Str("pair", in.Pair).
				Msg("Stale market data, capping combined confidence")
		}
	}
	// Confidence below both thresholds always holds.
	if confidence < math.Min(c.buyThreshold, c.sellThreshold) {
		action = ActionHold
	}

	combined.Action = action
	combined.Confidence = confidence
	combined.PositionMultiplier = blendMultiplier(individual, action)
	combined.Reasoning = dominantReasoning(individual, action)

	c.log.Debug().
		Str("pair", in.Pair).
		Str("regime", string(in.Regime)).
		Str("action", string(action)).
		Float64("confidence", confidence).
		Msg("Combined signal")

	return combined
}

// effectiveWeights returns the regime row keyed by strategy name, with
// the advisory weight redistributed proportionally when the advisory
// fell back to safe-HOLD.
func (c *Combiner) effectiveWeights(regime Regime, individual map[string]Signal) map[string]float64 {
	row := c.weights.For(regime)
	weights := map[string]float64{
		c.trend.Name():     row.Trend,
		c.reversion.Name(): row.Reversion,
		c.momentum.Name():  row.Momentum,
	}

	advisoryWeight := row.Advisory
	if c.advisory != nil {
		adv := individual[c.advisory.Name()]
		if !adv.Fallback {
			weights[c.advisory.Name()] = advisoryWeight
			return weights
		}
		c.log.Warn().Msg("Advisory fell back to safe-HOLD, redistributing its weight")
	}

	technicalSum := row.Trend + row.Reversion + row.Momentum
	if technicalSum <= 0 {
		return weights
	}
	for name := range weights {
		weights[name] += advisoryWeight * weights[name] / technicalSum
	}
	if c.advisory != nil {
		weights[c.advisory.Name()] = 0
	}
	return weights
}

// nearTie reports whether the BUY and SELL camps are within one point of
// each other in weighted confidence; the winner is then the action of the
// single highest-confidence strategy.
func (c *Combiner) nearTie(individual map[string]Signal, weights map[string]float64) (bool, Action) {
	var buyScore, sellScore float64
	for name, sig := range individual {
		switch sig.Action {
		case ActionBuy:
			buyScore += weights[name] * sig.Confidence
		case ActionSell:
			sellScore += weights[name] * sig.Confidence
		}
	}
	if buyScore == 0 || sellScore == 0 || math.Abs(buyScore-sellScore) >= 1 {
		return false, ActionHold
	}

	best := Signal{Action: ActionHold, Confidence: -1}
	for _, sig := range individual {
		if sig.Action != ActionHold && sig.Confidence > best.Confidence {
			best = sig
		}
	}
	return true, best.Action
}

// blendMultiplier averages the position multipliers of the strategies
// that agree with the combined action, weighted by their confidence.
func blendMultiplier(individual map[string]Signal, action Action) float64 {
	if action == ActionHold {
		return 1.0
	}
	var weighted, total float64
	for _, sig := range individual {
		if sig.Action == action && sig.Confidence > 0 {
			weighted += sig.PositionMultiplier * sig.Confidence
			total += sig.Confidence
		}
	}
	if total == 0 {
		return 1.0
	}
	return clampMultiplier(weighted / total)
}

// dominantReasoning picks the reasoning of the most confident strategy
// agreeing with the action, or the most confident overall for HOLD.
func dominantReasoning(individual map[string]Signal, action Action) string {
	best := Signal{Confidence: -1}
	for _, sig := range individual {
		match := sig.Action == action || action == ActionHold
		if match && sig.Confidence > best.Confidence {
			best = sig
		}
	}
	return best.Reasoning
}

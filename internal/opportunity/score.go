// Package opportunity ranks actionable combined signals and allocates
// the cycle's tradable cash across the BUY side.
package opportunity

import (
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/cryptodrift/driftbot/internal/strategy"
)

// Scoring constants layered on top of the combined confidence.
const (
	actionBonusFactor    = 1.2
	momentumBonusMax     = 10.0
	consensusBonusPer    = 5.0
	consensusBonusMax    = 15.0
	regimeAlignmentBonus = 5.0
)

// Candidate pairs a combined signal with the cycle's market context the
// scorer needs.
type Candidate struct {
	Signal    strategy.Combined
	Change24h float64 // percent
	Price     float64
}

// Opportunity is a scored, ranked candidate. Allocation is filled for
// BUY opportunities by Allocate.
type Opportunity struct {
	Pair       string            `json:"pair"`
	Action     strategy.Action   `json:"action"`
	Score      float64           `json:"score"`      // 0..100
	Allocation float64           `json:"allocation"` // quote units, BUY only
	Price      float64           `json:"price"`
	Signal     strategy.Combined `json:"signal"`
}

// Manager scores, ranks and allocates.
type Manager struct {
	momentumThreshold       float64 // percent 24h change that earns the momentum bonus
	minActionableConfidence float64 // post-scoring floor
	reserveRatio            float64
	minReserveAbsolute      float64
	minTradeAllocation      float64
	maxSingleTradeRatio     float64
	powerFactor             float64
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	MomentumThreshold       float64
	MinActionableConfidence float64
	ReserveRatio            float64
	MinReserveAbsolute      float64
	MinTradeAllocation      float64
	MaxSingleTradeRatio     float64
	PowerFactor             float64
}

// NewManager creates an opportunity manager.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		momentumThreshold:       cfg.MomentumThreshold,
		minActionableConfidence: cfg.MinActionableConfidence,
		reserveRatio:            cfg.ReserveRatio,
		minReserveAbsolute:      cfg.MinReserveAbsolute,
		minTradeAllocation:      cfg.MinTradeAllocation,
		maxSingleTradeRatio:     cfg.MaxSingleTradeRatio,
		powerFactor:             cfg.PowerFactor,
	}
}

// Rank scores every actionable candidate and returns them best first.
// HOLD signals and scores below the actionable floor are dropped.
func (m *Manager) Rank(candidates []Candidate) []Opportunity {
	opps := make([]Opportunity, 0, len(candidates))
	for _, cand := range candidates {
		sig := cand.Signal
		if sig.Action == strategy.ActionHold {
			continue
		}

		score := m.score(cand)
		if score < m.minActionableConfidence {
			log.Debug().
				Str("pair", sig.Pair).
				Float64("score", score).
				Msg("Opportunity below actionable floor, dropping")
			continue
		}

		opps = append(opps, Opportunity{
			Pair:   sig.Pair,
			Action: sig.Action,
			Score:  score,
			Price:  cand.Price,
			Signal: sig,
		})
	}

	sort.SliceStable(opps, func(i, j int) bool {
		return opps[i].Score > opps[j].Score
	})
	return opps
}

// score layers the bonuses over the combined confidence and clamps to
// [0, 100].
func (m *Manager) score(cand Candidate) float64 {
	sig := cand.Signal
	score := sig.Confidence * actionBonusFactor

	if absChange := math.Abs(cand.Change24h); absChange > m.momentumThreshold {
		bonus := (absChange - m.momentumThreshold) / m.momentumThreshold * momentumBonusMax
		score += math.Min(bonus, momentumBonusMax)
	}

	consensus := 0.0
	for _, ind := range sig.Individual {
		if ind.Action == sig.Action {
			consensus += consensusBonusPer
		}
	}
	score += math.Min(consensus, consensusBonusMax)

	if (sig.Action == strategy.ActionBuy && sig.Regime == strategy.RegimeBull) ||
		(sig.Action == strategy.ActionSell && sig.Regime == strategy.RegimeBear) {
		score += regimeAlignmentBonus
	}

	return math.Max(0, math.Min(100, score))
}

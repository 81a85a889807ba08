package opportunity

import (
	"math"

	"github.com/rs/zerolog/log"

	"github.com/cryptodrift/driftbot/internal/strategy"
)

// Tradable returns the quote amount the cycle may spend: the quote
// balance minus the larger of the absolute and proportional reserves,
// floored at zero.
func (m *Manager) Tradable(quoteBalance, portfolioValue float64) float64 {
	reserve := math.Max(m.minReserveAbsolute, m.reserveRatio*portfolioValue)
	return math.Max(0, quoteBalance-reserve)
}

// Allocate distributes tradable quote across the BUY opportunities using
// score-power weighting, then enforces the per-trade minimum and the
// single-trade share cap. SELL opportunities pass through untouched;
// their size is derived from held amounts at execution time. BUYs that
// end with no allocation are dropped.
func (m *Manager) Allocate(opps []Opportunity, tradable float64) []Opportunity {
	buyIdx := make([]int, 0, len(opps))
	for i, opp := range opps {
		if opp.Action == strategy.ActionBuy {
			buyIdx = append(buyIdx, i)
		}
	}
	if len(buyIdx) == 0 || tradable <= 0 {
		if len(buyIdx) > 0 {
			log.Info().Float64("tradable", tradable).Msg("No tradable quote, dropping BUY opportunities")
		}
		return dropUnallocatedBuys(opps)
	}

	scores := make([]float64, len(buyIdx))
	for i, idx := range buyIdx {
		scores[i] = opps[idx].Score
	}

	shares := m.weightedShares(scores, tradable)
	shares = m.capShares(shares, tradable)

	for i, idx := range buyIdx {
		opps[idx].Allocation = shares[i]
	}
	return dropUnallocatedBuys(opps)
}

// weightedShares computes score^p weights and iterates dropping shares
// below the per-trade minimum, renormalising over survivors until stable.
func (m *Manager) weightedShares(scores []float64, tradable float64) []float64 {
	shares := make([]float64, len(scores))
	alive := make([]bool, len(scores))
	for i := range alive {
		alive[i] = true
	}

	for {
		var totalWeight float64
		for i, s := range scores {
			if alive[i] {
				totalWeight += math.Pow(s, m.powerFactor)
			}
		}
		if totalWeight <= 0 {
			return make([]float64, len(scores))
		}

		dropped := false
		for i, s := range scores {
			if !alive[i] {
				shares[i] = 0
				continue
			}
			shares[i] = tradable * math.Pow(s, m.powerFactor) / totalWeight
			if shares[i] < m.minTradeAllocation {
				alive[i] = false
				shares[i] = 0
				dropped = true
			}
		}
		if !dropped {
			return shares
		}
	}
}

// capShares clips any share above the single-trade cap and redistributes
// the excess proportionally to uncapped survivors, iterating until no
// share exceeds the cap. When every survivor is already at the cap the
// cap yields and the excess flows back to them, so the tradable pool is
// still spent rather than stranded.
func (m *Manager) capShares(shares []float64, tradable float64) []float64 {
	maxShare := m.maxSingleTradeRatio * tradable
	if maxShare <= 0 {
		return shares
	}

	capped := make([]bool, len(shares))
	for {
		excess := 0.0
		var uncappedTotal float64
		for i, s := range shares {
			if capped[i] {
				continue
			}
			if s > maxShare {
				excess += s - maxShare
				shares[i] = maxShare
				capped[i] = true
			} else {
				uncappedTotal += s
			}
		}
		if excess == 0 {
			return shares
		}
		if uncappedTotal <= 0 {
			// Everyone is at the cap; the cap yields and the survivors
			// absorb the excess in proportion to their shares.
			var cappedTotal float64
			for _, s := range shares {
				cappedTotal += s
			}
			if cappedTotal <= 0 {
				return shares
			}
			for i, s := range shares {
				if s > 0 {
					shares[i] = s + excess*s/cappedTotal
				}
			}
			return shares
		}
		for i, s := range shares {
			if !capped[i] {
				shares[i] = s + excess*s/uncappedTotal
			}
		}
	}
}

func dropUnallocatedBuys(opps []Opportunity) []Opportunity {
	out := opps[:0]
	for _, opp := range opps {
		if opp.Action == strategy.ActionBuy && opp.Allocation <= 0 {
			continue
		}
		out = append(out, opp)
	}
	return out
}

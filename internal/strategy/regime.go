package strategy

import (
	"github.com/rs/zerolog/log"

	"github.com/cryptodrift/driftbot/internal/indicators"
)

// Regime detection thresholds, in percent except volatility.
const (
	bullChange30d    = 2.0
	bearChange30d    = -2.0
	calmVolatility   = 0.3
	hardBearChange7d = -5.0
)

// DetectRegime classifies the market for one pair. A sharp 7-day drop
// raises BEAR_MARKET_HARD regardless of the 30-day picture.
func DetectRegime(snap *indicators.Snapshot) Regime {
	if snap.Change7d < hardBearChange7d {
		log.Warn().
			Float64("change_7d", snap.Change7d).
			Msg("Hard bear market detected")
		return RegimeBearHard
	}

	calm := snap.NormalizedVolatility < calmVolatility
	switch {
	case snap.Change30d > bullChange30d && calm:
		return RegimeBull
	case snap.Change30d < bearChange30d && calm:
		return RegimeBear
	default:
		return RegimeSideways
	}
}

package strategy

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Weights is one regime row of the strategy weight table. Rows sum to 1.
type Weights struct {
	Trend     float64 `yaml:"trend" json:"trend"`
	Reversion float64 `yaml:"mean_reversion" json:"mean_reversion"`
	Momentum  float64 `yaml:"momentum" json:"momentum"`
	Advisory  float64 `yaml:"advisory" json:"advisory"`
}

func (w Weights) sum() float64 {
	return w.Trend + w.Reversion + w.Momentum + w.Advisory
}

// WeightTable maps regimes to strategy weights. BEAR_MARKET_HARD shares
// the BEAR row; its effect is on risk sizing, not signal blending.
type WeightTable map[Regime]Weights

// DefaultWeights returns the built-in per-regime weight table.
func DefaultWeights() WeightTable {
	return WeightTable{
		RegimeBull:     {Trend: 0.35, Reversion: 0.20, Momentum: 0.25, Advisory: 0.20},
		RegimeBear:     {Trend: 0.30, Reversion: 0.25, Momentum: 0.25, Advisory: 0.20},
		RegimeSideways: {Trend: 0.15, Reversion: 0.40, Momentum: 0.25, Advisory: 0.20},
	}
}

// For returns the weight row for a regime.
func (t WeightTable) For(regime Regime) Weights {
	if regime == RegimeBearHard {
		regime = RegimeBear
	}
	if w, ok := t[regime]; ok {
		return w
	}
	return t[RegimeSideways]
}

// LoadWeightOverrides reads a YAML file of per-regime weight rows and
// merges it over the defaults. Absent regimes keep their defaults; every
// present row must sum to 1 within tolerance.
func LoadWeightOverrides(path string) (WeightTable, error) {
	table := DefaultWeights()
	if path == "" {
		return table, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read weight overrides: %w", err)
	}

	var overrides map[string]Weights
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parse weight overrides: %w", err)
	}

	for name, w := range overrides {
		regime := Regime(name)
		switch regime {
		case RegimeBull, RegimeBear, RegimeSideways:
		default:
			return nil, fmt.Errorf("weight overrides: unknown regime %q", name)
		}
		if math.Abs(w.sum()-1.0) > 1e-6 {
			return nil, fmt.Errorf("weight overrides: %s weights sum to %.4f, want 1", name, w.sum())
		}
		table[regime] = w
	}
	return table, nil
}

package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cryptodrift/driftbot/internal/portfolio"
	"github.com/cryptodrift/driftbot/internal/strategy"
)

func TestLevelMultiplier(t *testing.T) {
	assert.Equal(t, 1.0, LevelLow.Multiplier())
	assert.Equal(t, 0.75, LevelMedium.Multiplier())
	assert.Equal(t, 0.5, LevelHigh.Multiplier())
	assert.Equal(t, 0.75, Level("BOGUS").Multiplier())
}

// ============================================================
// BUY sizing
// ============================================================

func TestBuySize_AppliesLevelMultiplier(t *testing.T) {
	s := NewSizer(SizerConfig{Level: LevelMedium, MaxPositionPct: 0.1, MinTradeAmount: 10})
	size := s.BuySize(100, 1.0, 10000, strategy.RegimeBull)
	assert.InDelta(t, 75, size, 1e-9)
}

func TestBuySize_NeverExceedsAllocation(t *testing.T) {
	s := NewSizer(SizerConfig{Level: LevelLow, MaxPositionPct: 0.5, MinTradeAmount: 10})
	// A 1.5 position multiplier cannot spend more than was allocated.
	size := s.BuySize(100, 1.5, 10000, strategy.RegimeBull)
	assert.InDelta(t, 100, size, 1e-9)
}

func TestBuySize_CappedByMaxPosition(t *testing.T) {
	s := NewSizer(SizerConfig{Level: LevelLow, MaxPositionPct: 0.1, MinTradeAmount: 10})
	size := s.BuySize(100, 1.0, 500, strategy.RegimeBull) // cap 50
	assert.InDelta(t, 50, size, 1e-9)
}

func TestBuySize_HardBearQuartersAndTightensCap(t *testing.T) {
	s := NewSizer(SizerConfig{Level: LevelLow, MaxPositionPct: 0.1, MinTradeAmount: 10})

	normal := s.BuySize(100, 1.0, 1000, strategy.RegimeBear)
	assert.InDelta(t, 100, normal, 1e-9)

	// Quarter size would be 25, but the 2% hard-bear cap bites first.
	hard := s.BuySize(100, 1.0, 1000, strategy.RegimeBearHard)
	assert.InDelta(t, 20, hard, 1e-9)
}

func TestBuySize_BelowExchangeMinimumSkips(t *testing.T) {
	s := NewSizer(SizerConfig{Level: LevelMedium, MaxPositionPct: 0.5, MinTradeAmount: 10})
	assert.Equal(t, 0.0, s.BuySize(10, 1.0, 10000, strategy.RegimeBull))
}

// ============================================================
// SELL sizing
// ============================================================

func sellView(quoteBalance, portfolioValue float64) portfolio.View {
	return portfolio.View{
		QuoteCurrency:       "EUR",
		QuoteBalance:        quoteBalance,
		PortfolioValueQuote: portfolioValue,
	}
}

func TestSellSize_RebalancesTowardTarget(t *testing.T) {
	s := NewSizer(SizerConfig{Level: LevelLow, TargetQuotePct: 0.3, MinTradeAmount: 10})

	// Quote share 10%, target 30%: need 200 of the 500 held value.
	base := s.SellSize(5, 100, 1.0, sellView(100, 1000))
	assert.InDelta(t, 2.0, base, 1e-9)
}

func TestSellSize_SkipsPastTargetPlusTolerance(t *testing.T) {
	s := NewSizer(SizerConfig{Level: LevelLow, TargetQuotePct: 0.3, MinTradeAmount: 10})
	assert.Equal(t, 0.0, s.SellSize(5, 100, 1.0, sellView(400, 1000)))
}

func TestSellSize_WithinToleranceSellsBoundedSlice(t *testing.T) {
	s := NewSizer(SizerConfig{Level: LevelLow, TargetQuotePct: 0.3, MinTradeAmount: 10})

	// Already above target (32%): the conservative slice applies but the
	// overshoot bound trims it so the quote share stops at 35%.
	base := s.SellSize(5, 100, 1.0, sellView(320, 1000))
	assert.InDelta(t, 0.3, base, 1e-9)
}

func TestSellSize_CappedByMaxPosition(t *testing.T) {
	s := NewSizer(SizerConfig{Level: LevelLow, TargetQuotePct: 0.3, MaxPositionPct: 0.05, MinTradeAmount: 10})
	base := s.SellSize(5, 100, 1.0, sellView(100, 1000))
	assert.InDelta(t, 0.5, base, 1e-9) // 5% of portfolio value
}

func TestSellSize_NeverExceedsHolding(t *testing.T) {
	s := NewSizer(SizerConfig{Level: LevelLow, TargetQuotePct: 0.9, MinTradeAmount: 10})
	base := s.SellSize(0.5, 100, 1.5, sellView(0, 1000))
	assert.LessOrEqual(t, base, 0.5)
}

func TestSellSize_DegenerateInputs(t *testing.T) {
	s := NewSizer(SizerConfig{Level: LevelLow, TargetQuotePct: 0.3, MinTradeAmount: 10})
	assert.Equal(t, 0.0, s.SellSize(0, 100, 1.0, sellView(100, 1000)))
	assert.Equal(t, 0.0, s.SellSize(5, 0, 1.0, sellView(100, 1000)))
	assert.Equal(t, 0.0, s.SellSize(5, 100, 1.0, sellView(0, 0)))
}

func TestSellSize_BelowExchangeMinimumSkips(t *testing.T) {
	s := NewSizer(SizerConfig{Level: LevelLow, TargetQuotePct: 0.3, MinTradeAmount: 500})
	assert.Equal(t, 0.0, s.SellSize(5, 100, 1.0, sellView(100, 1000)))
}

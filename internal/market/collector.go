// Package market collects per-pair market data and derives the indicator
// snapshot each cycle feeds to the strategies.
package market

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cryptodrift/driftbot/internal/exchange"
	"github.com/cryptodrift/driftbot/internal/indicators"
	"github.com/cryptodrift/driftbot/internal/store"
)

// PairData is the collector's output for one pair in one cycle.
type PairData struct {
	Pair       string               `json:"pair"`
	Price      float64              `json:"price"`
	Volume24h  float64              `json:"volume_24h"`
	Bid        float64              `json:"bid"`
	Ask        float64              `json:"ask"`
	Candles    []exchange.Candle    `json:"-"`
	Indicators *indicators.Snapshot `json:"indicators"`

	// Degraded marks a stale candle window; downstream confidence is
	// capped at 50 for degraded pairs.
	Degraded bool `json:"degraded"`
}

// Collector fetches candles and tickers and computes indicators.
type Collector struct {
	exchange    exchange.Exchange
	cache       *CandleCache
	granularity string
	interval    time.Duration
	lookback    int
	archiveDir  string // empty disables the historical archive
	log         zerolog.Logger
}

// CollectorConfig configures a Collector
type CollectorConfig struct {
	Exchange    exchange.Exchange
	Cache       *CandleCache // optional
	Granularity string
	Lookback    int
	ArchiveDir  string // optional columnar OHLCV archive
	Logger      zerolog.Logger
}

// NewCollector creates a market data collector
func NewCollector(cfg CollectorConfig) (*Collector, error) {
	interval, err := exchange.GranularityDuration(cfg.Granularity)
	if err != nil {
		return nil, err
	}
	return &Collector{
		exchange:    cfg.Exchange,
		cache:       cfg.Cache,
		granularity: cfg.Granularity,
		interval:    interval,
		lookback:    cfg.Lookback,
		archiveDir:  cfg.ArchiveDir,
		log:         cfg.Logger.With().Str("component", "collector").Logger(),
	}, nil
}

// Collect gathers market data for one pair. A pair without enough candles
// for the indicator window returns ErrDataUnavailable and is excluded
// from the cycle by the caller.
func (c *Collector) Collect(ctx context.Context, pair string) (*PairData, error) {
	ticker, err := c.exchange.GetTicker(ctx, pair)
	if err != nil {
		return nil, fmt.Errorf("ticker %s: %w", pair, err)
	}

	candles, err := c.fetchCandles(ctx, pair)
	if err != nil {
		return nil, err
	}
	if len(candles) < indicators.MinSamples {
		return nil, fmt.Errorf("%w: %s has %d candles, need %d",
			exchange.ErrDataUnavailable, pair, len(candles), indicators.MinSamples)
	}

	snap, err := indicators.Compute(candles, c.interval)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", exchange.ErrDataUnavailable, pair, err)
	}

	data := &PairData{
		Pair:       pair,
		Price:      ticker.Price,
		Volume24h:  ticker.Volume24h,
		Bid:        ticker.Bid,
		Ask:        ticker.Ask,
		Candles:    candles,
		Indicators: snap,
	}

	// Stale-read policy: a window whose newest candle is older than twice
	// the granularity degrades the pair.
	newest := candles[len(candles)-1].Time
	if time.Since(newest) > 2*c.interval {
		data.Degraded = true
		c.log.Warn().
			Str("pair", pair).
			Time("newest_candle", newest).
			Dur("granularity", c.interval).
			Msg("Candle window is stale, marking pair degraded")
	}

	if c.archiveDir != "" {
		c.archive(pair, candles)
	}

	return data, nil
}

func (c *Collector) fetchCandles(ctx context.Context, pair string) ([]exchange.Candle, error) {
	if c.cache != nil {
		if candles, ok := c.cache.Get(ctx, pair, c.granularity); ok {
			return candles, nil
		}
	}

	candles, err := c.exchange.GetCandles(ctx, pair, c.granularity, c.lookback)
	if err != nil {
		return nil, fmt.Errorf("candles %s: %w", pair, err)
	}

	if c.cache != nil {
		c.cache.Put(ctx, pair, c.granularity, candles)
	}
	return candles, nil
}

// archive writes the candle window to the historical directory. Archive
// failures are logged and ignored; the archive is not part of the cycle.
func (c *Collector) archive(pair string, candles []exchange.Candle) {
	name := fmt.Sprintf("%s_%s.json", strings.ReplaceAll(pair, "-", ""), c.granularity)
	path := filepath.Join(c.archiveDir, name)
	if err := store.WriteJSONAtomic(path, candles); err != nil {
		c.log.Warn().Err(err).Str("pair", pair).Msg("Failed to write historical archive")
	}
}

// Package indicators derives the per-pair technical indicator snapshot
// from a candle window. All values are recomputed every cycle and never
// persisted.
package indicators

import (
	"fmt"
	"time"

	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
	"github.com/rs/zerolog/log"

	"github.com/cryptodrift/driftbot/internal/exchange"
)

// Indicator periods. MinSamples is the largest period plus one extra
// sample for change computation; pairs with fewer candles are excluded
// from the cycle.
const (
	RSIPeriod        = 14
	MACDFast         = 12
	MACDSlow         = 26
	MACDSignalPeriod = 9
	BollingerPeriod  = 20
	SMAShortPeriod   = 20
	SMALongPeriod    = 50
	EMAShortPeriod   = 12
	EMALongPeriod    = 26
	ATRPeriod        = 14
	VolumeSMAPeriod  = 20

	MinSamples = SMALongPeriod + 1
)

// Snapshot holds the indicator values for one pair at one instant.
type Snapshot struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`

	RSI float64 `json:"rsi"`

	MACD          float64 `json:"macd"`
	MACDSignal    float64 `json:"macd_signal"`
	MACDHistogram float64 `json:"macd_histogram"`

	BBUpper    float64 `json:"bb_upper"`
	BBMiddle   float64 `json:"bb_middle"`
	BBLower    float64 `json:"bb_lower"`
	BBWidthPct float64 `json:"bb_width_pct"` // band width as a fraction of middle

	SMA20 float64 `json:"sma_20"`
	SMA50 float64 `json:"sma_50"`
	EMA12 float64 `json:"ema_12"`
	EMA26 float64 `json:"ema_26"`

	ATR       float64 `json:"atr"`
	VolumeSMA float64 `json:"volume_sma"`

	// Rolling price changes in percent.
	Change24h float64 `json:"change_24h"`
	Change7d  float64 `json:"change_7d"`
	Change30d float64 `json:"change_30d"`

	// Volatility normalised by price, from ATR.
	NormalizedVolatility float64 `json:"normalized_volatility"`
}

// Compute derives a snapshot from a candle window. Candles must be ordered
// oldest first; granularity is the candle interval.
func Compute(candles []exchange.Candle, granularity time.Duration) (*Snapshot, error) {
	if len(candles) < MinSamples {
		return nil, fmt.Errorf("insufficient candles: need %d, got %d", MinSamples, len(candles))
	}

	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
		volumes[i] = c.Volume
	}

	price := closes[len(closes)-1]

	rsi := last(computeSeries(momentum.NewRsiWithPeriod[float64](RSIPeriod), closes))

	macdLine, macdSignal := computeMACD(closes)
	lower, middle, upper := computeBollinger(closes)

	sma20 := last(computeSeries(trend.NewSmaWithPeriod[float64](SMAShortPeriod), closes))
	sma50 := last(computeSeries(trend.NewSmaWithPeriod[float64](SMALongPeriod), closes))
	ema12 := last(computeSeries(trend.NewEmaWithPeriod[float64](EMAShortPeriod), closes))
	ema26 := last(computeSeries(trend.NewEmaWithPeriod[float64](EMALongPeriod), closes))

	atr := computeATR(highs, lows, closes)
	volSMA := last(computeSeries(trend.NewSmaWithPeriod[float64](VolumeSMAPeriod), volumes))

	snap := &Snapshot{
		Price:         price,
		Volume:        volumes[len(volumes)-1],
		RSI:           rsi,
		MACD:          macdLine,
		MACDSignal:    macdSignal,
		MACDHistogram: macdLine - macdSignal,
		BBUpper:       upper,
		BBMiddle:      middle,
		BBLower:       lower,
		SMA20:         sma20,
		SMA50:         sma50,
		EMA12:         ema12,
		EMA26:         ema26,
		ATR:           atr,
		VolumeSMA:     volSMA,
		Change24h:     changeOver(closes, candlesPer(24*time.Hour, granularity)),
		Change7d:      changeOver(closes, candlesPer(7*24*time.Hour, granularity)),
		Change30d:     changeOver(closes, candlesPer(30*24*time.Hour, granularity)),
	}
	if middle > 0 {
		snap.BBWidthPct = (upper - lower) / middle
	}
	if price > 0 {
		snap.NormalizedVolatility = atr / price
	}

	log.Debug().
		Float64("price", price).
		Float64("rsi", rsi).
		Float64("macd_hist", snap.MACDHistogram).
		Float64("change_24h", snap.Change24h).
		Msg("Indicator snapshot computed")

	return snap, nil
}

// seriesIndicator is the common shape of cinar/indicator single-output
// stream indicators.
type seriesIndicator interface {
	Compute(<-chan float64) <-chan float64
}

// computeSeries runs a stream indicator over a slice.
func computeSeries(ind seriesIndicator, values []float64) []float64 {
	in := make(chan float64, len(values))
	for _, v := range values {
		in <- v
	}
	close(in)

	var out []float64
	for v := range ind.Compute(in) {
		out = append(out, v)
	}
	return out
}

func computeMACD(closes []float64) (macdLine, signal float64) {
	in := make(chan float64, len(closes))
	for _, v := range closes {
		in <- v
	}
	close(in)

	macdChan, signalChan := trend.NewMacdWithPeriod[float64](MACDFast, MACDSlow, MACDSignalPeriod).Compute(in)
	for {
		m, mok := <-macdChan
		s, sok := <-signalChan
		if !mok || !sok {
			break
		}
		macdLine, signal = m, s
	}
	return macdLine, signal
}

func computeBollinger(closes []float64) (lower, middle, upper float64) {
	in := make(chan float64, len(closes))
	for _, v := range closes {
		in <- v
	}
	close(in)

	lowerChan, middleChan, upperChan := (&volatility.BollingerBands[float64]{Period: BollingerPeriod}).Compute(in)
	for {
		l, lok := <-lowerChan
		m, mok := <-middleChan
		u, uok := <-upperChan
		if !lok || !mok || !uok {
			break
		}
		lower, middle, upper = l, m, u
	}
	return lower, middle, upper
}

func computeATR(highs, lows, closes []float64) float64 {
	highChan := make(chan float64, len(highs))
	lowChan := make(chan float64, len(lows))
	closeChan := make(chan float64, len(closes))
	for i := range highs {
		highChan <- highs[i]
		lowChan <- lows[i]
		closeChan <- closes[i]
	}
	close(highChan)
	close(lowChan)
	close(closeChan)

	var atr float64
	for v := range volatility.NewAtrWithPeriod[float64](ATRPeriod).Compute(highChan, lowChan, closeChan) {
		atr = v
	}
	return atr
}

// changeOver returns the percent change over the last n candles, or over
// the whole window when fewer are available.
func changeOver(closes []float64, n int) float64 {
	if n <= 0 || len(closes) < 2 {
		return 0
	}
	idx := len(closes) - 1 - n
	if idx < 0 {
		idx = 0
	}
	then := closes[idx]
	now := closes[len(closes)-1]
	if then == 0 {
		return 0
	}
	return (now - then) / then * 100
}

func candlesPer(window, granularity time.Duration) int {
	if granularity <= 0 {
		return 0
	}
	return int(window / granularity)
}

func last(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}

package performance

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Annualisation and benchmark constants.
const (
	daysPerYear  = 365.0
	riskFreeRate = 0.02 // annual
)

// Metrics are derived on demand from the snapshot series. All returns
// are fractions, not percent.
type Metrics struct {
	TotalReturn      float64 `json:"total_return"`
	AnnualisedReturn float64 `json:"annualised_return"`
	CAGR             float64 `json:"cagr"`
	Volatility       float64 `json:"volatility"` // annualised stdev of daily returns
	Sharpe           float64 `json:"sharpe"`
	Sortino          float64 `json:"sortino"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	WinRate          float64 `json:"win_rate"`
	ProfitFactor     float64 `json:"profit_factor"`
	Days             int     `json:"days"`
}

// ComputeMetrics derives metrics from the snapshot series since the last
// reset. Fewer than two daily observations yields zeroed metrics.
func (t *Tracker) ComputeMetrics() (*Metrics, error) {
	t.mu.Lock()
	cfg, err := t.loadConfig()
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	file, err := t.loadSnapshots()
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}

	// Only the series since the current tracking start counts.
	var snaps []Snapshot
	for _, s := range file.Snapshots {
		if !s.Timestamp.Before(cfg.TrackingStarted) {
			snaps = append(snaps, s)
		}
	}
	return computeMetrics(cfg.InitialValue, snaps), nil
}

func computeMetrics(initialValue float64, snaps []Snapshot) *Metrics {
	m := &Metrics{}
	if len(snaps) == 0 || initialValue <= 0 {
		return m
	}

	values := dailyValues(snaps)
	current := snaps[len(snaps)-1].PortfolioValueQuote
	m.Days = len(values)

	m.TotalReturn = current/initialValue - 1

	elapsed := snaps[len(snaps)-1].Timestamp.Sub(snaps[0].Timestamp)
	years := elapsed.Hours() / 24 / daysPerYear
	if years > 0 && current > 0 {
		m.CAGR = math.Pow(current/initialValue, 1/years) - 1
		m.AnnualisedReturn = m.TotalReturn / years
	}

	returns := dailyReturns(values)
	if len(returns) >= 2 {
		m.Volatility = stat.StdDev(returns, nil) * math.Sqrt(daysPerYear)

		meanDaily := stat.Mean(returns, nil)
		excess := meanDaily*daysPerYear - riskFreeRate
		if m.Volatility > 0 {
			m.Sharpe = excess / m.Volatility
		}
		if down := downsideDeviation(returns); down > 0 {
			m.Sortino = excess / (down * math.Sqrt(daysPerYear))
		}
	}

	m.MaxDrawdown = maxDrawdown(values)
	m.WinRate, m.ProfitFactor = winStats(returns)
	return m
}

// dailyValues collapses the snapshot series to one value per UTC day,
// keeping the day's last observation.
func dailyValues(snaps []Snapshot) []float64 {
	var values []float64
	var lastDay time.Time
	for _, s := range snaps {
		day := s.Timestamp.UTC().Truncate(24 * time.Hour)
		if day.Equal(lastDay) && len(values) > 0 {
			values[len(values)-1] = s.PortfolioValueQuote
		} else {
			values = append(values, s.PortfolioValueQuote)
			lastDay = day
		}
	}
	return values
}

func dailyReturns(values []float64) []float64 {
	var returns []float64
	for i := 1; i < len(values); i++ {
		if values[i-1] > 0 {
			returns = append(returns, values[i]/values[i-1]-1)
		}
	}
	return returns
}

func downsideDeviation(returns []float64) float64 {
	var sum float64
	for _, r := range returns {
		if r < 0 {
			sum += r * r
		}
	}
	if len(returns) == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(len(returns)))
}

// maxDrawdown is the largest peak-to-trough loss as a positive fraction.
func maxDrawdown(values []float64) float64 {
	var peak, worst float64
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// winStats derives win rate and profit factor from the daily return
// series: wins are positive days, the profit factor is gross gains over
// gross losses.
func winStats(returns []float64) (winRate, profitFactor float64) {
	if len(returns) == 0 {
		return 0, 0
	}
	var wins int
	var gains, losses float64
	for _, r := range returns {
		if r > 0 {
			wins++
			gains += r
		} else {
			losses -= r
		}
	}
	winRate = float64(wins) / float64(len(returns))
	// Capped so the value stays JSON-encodable when there are no losses.
	const profitFactorCap = 999
	if losses > 0 {
		profitFactor = math.Min(gains/losses, profitFactorCap)
	} else if gains > 0 {
		profitFactor = profitFactorCap
	}
	return winRate, profitFactor
}

// Package metrics exposes Prometheus counters and gauges for the engine.
// The listener is off by default; when disabled every recording call is a
// cheap in-process update with no network surface.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "driftbot_cycles_total",
		Help: "Decision cycles by outcome",
	}, []string{"outcome"})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "driftbot_cycle_duration_seconds",
		Help:    "Wall time of a full decision cycle",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "driftbot_trades_total",
		Help: "Executed trades by side and status",
	}, []string{"side", "status"})

	PortfolioValue = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "driftbot_portfolio_value_quote",
		Help: "Portfolio value in quote currency",
	})

	QuoteBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "driftbot_quote_balance",
		Help: "Free quote currency balance",
	})

	OpportunitiesRanked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "driftbot_opportunities_ranked",
		Help: "Actionable opportunities in the last cycle",
	})

	AdvisoryFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "driftbot_advisory_fallbacks_total",
		Help: "Advisory consultations that fell back to safe-HOLD",
	})

	ExchangeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "driftbot_exchange_errors_total",
		Help: "Exchange adapter errors by taxonomy tag",
	}, []string{"tag"})
)

// Server serves /metrics when enabled.
type Server struct {
	srv *http.Server
}

// NewServer starts the metrics listener, or returns nil when addr is
// empty.
func NewServer(addr string) *Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	s := &Server{srv: &http.Server{Addr: addr, Handler: mux}}

	go func() {
		log.Info().Str("addr", addr).Msg("Metrics listener started")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrics listener failed")
		}
	}()
	return s
}

// Shutdown stops the listener.
func (s *Server) Shutdown(ctx context.Context) {
	if s == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Metrics listener shutdown failed")
	}
}

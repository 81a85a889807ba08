// driftbot is an autonomous trading agent: it collects market data,
// runs a multi-strategy ensemble per pair, allocates capital across the
// ranked opportunities, and executes them serially against the
// configured exchange backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/cryptodrift/driftbot/internal/config"
	"github.com/cryptodrift/driftbot/internal/cooldown"
	"github.com/cryptodrift/driftbot/internal/engine"
	"github.com/cryptodrift/driftbot/internal/events"
	"github.com/cryptodrift/driftbot/internal/exchange"
	"github.com/cryptodrift/driftbot/internal/executor"
	"github.com/cryptodrift/driftbot/internal/llm"
	"github.com/cryptodrift/driftbot/internal/market"
	"github.com/cryptodrift/driftbot/internal/metrics"
	"github.com/cryptodrift/driftbot/internal/notify"
	"github.com/cryptodrift/driftbot/internal/opportunity"
	"github.com/cryptodrift/driftbot/internal/performance"
	"github.com/cryptodrift/driftbot/internal/portfolio"
	"github.com/cryptodrift/driftbot/internal/proclock"
	"github.com/cryptodrift/driftbot/internal/risk"
	"github.com/cryptodrift/driftbot/internal/store"
	"github.com/cryptodrift/driftbot/internal/strategy"
)

// Exit codes. Lock contention gets its own code so supervisors can tell
// "already running" apart from genuine startup failures.
const (
	exitOK            = 0
	exitStartupError  = 1
	exitRuntimeFatal  = 2
	exitLockContested = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to config file")
	envFile := flag.String("env-file", ".env", "Path to .env file")
	resetPerformance := flag.Bool("reset-performance", false, "Reset performance tracking and exit")
	flag.Parse()

	// .env is a development convenience; absence is fine.
	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envFile, err)
		return exitStartupError
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitStartupError
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	// Config is immutable at runtime; SIGHUP means nothing to us.
	signal.Ignore(syscall.SIGHUP)

	if err := cfg.ResolveSecrets(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to resolve secrets")
		return exitStartupError
	}

	dataDir := cfg.Storage.DataDir
	lock, err := proclock.Acquire(filepath.Join(dataDir, "driftbot.lock"))
	if err != nil {
		if errors.Is(err, proclock.ErrContested) {
			log.Error().Err(err).Msg("Another instance is running")
			return exitLockContested
		}
		log.Error().Err(err).Msg("Failed to acquire process lock")
		return exitStartupError
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Warn().Err(err).Msg("Failed to release process lock")
		}
	}()

	if *resetPerformance {
		return resetTracking(cfg)
	}

	sessionID := uuid.NewString()
	writeStartupMarker(dataDir, sessionID)

	eng, cleanup, err := build(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("Startup failed")
		return exitStartupError
	}
	defer cleanup()

	log.Info().
		Str("session_id", sessionID).
		Str("environment", cfg.App.Environment).
		Msg("driftbot starting")

	runErr := eng.Run(ctx)

	// Mark the graceful stop for the next startup's restart detection.
	if err := store.WriteStartupInfo(dataDir, store.StartupInfo{
		PID:            os.Getpid(),
		StartupTime:    timeNow(),
		SessionID:      sessionID,
		RestartContext: store.RestartContextStop,
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to write shutdown marker")
	}

	if runErr != nil {
		log.Error().Err(runErr).Msg("Engine terminated fatally")
		return exitRuntimeFatal
	}
	return exitOK
}

// build wires every component. The returned cleanup releases external
// connections.
func build(ctx context.Context, cfg *config.Config) (*engine.Engine, func(), error) {
	ex, err := buildExchange(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	ledger, err := loadOrCreateLedger(ctx, cfg, ex)
	if err != nil {
		return nil, nil, err
	}

	var cache *market.CandleCache
	var redisClient *redis.Client
	if cfg.Cache.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		cache = market.NewCandleCache(redisClient, cfg.Cache.TTL())
	}

	archiveDir := ""
	if cfg.Storage.HistoricalArchive {
		archiveDir = filepath.Join(cfg.Storage.DataDir, "historical")
	}
	collector, err := market.NewCollector(market.CollectorConfig{
		Exchange:    ex,
		Cache:       cache,
		Granularity: cfg.Trading.CandleGranularity,
		Lookback:    cfg.Trading.CandleLookback,
		ArchiveDir:  archiveDir,
		Logger:      config.NewLogger("collector"),
	})
	if err != nil {
		return nil, nil, err
	}

	weights, err := strategy.LoadWeightOverrides(cfg.Weights.OverridesFile)
	if err != nil {
		return nil, nil, err
	}

	var advisory *strategy.AdvisoryStrategy
	if cfg.Advisory.Enabled {
		client := llm.NewClient(llm.ClientConfig{
			Endpoint:      cfg.Advisory.Endpoint,
			APIKey:        cfg.Advisory.APIKey,
			PrimaryModel:  cfg.Advisory.PrimaryModel,
			FallbackModel: cfg.Advisory.FallbackModel,
			Temperature:   cfg.Advisory.Temperature,
			MaxTokens:     cfg.Advisory.MaxTokens,
			Timeout:       cfg.Advisory.Timeout(),
		})
		advisory = strategy.NewAdvisoryStrategy(client, cfg.Allocation.TargetQuoteAllocationPct*100)
	}
	combiner := strategy.NewCombiner(advisory, weights,
		cfg.Risk.BuyConfidenceThreshold, cfg.Risk.SellConfidenceThresh)

	manager := opportunity.NewManager(opportunity.ManagerConfig{
		MomentumThreshold:       cfg.Allocation.MomentumThresholdPct,
		MinActionableConfidence: cfg.Allocation.MinActionableConfidence,
		ReserveRatio:            cfg.Allocation.CapitalReserveRatio,
		MinReserveAbsolute:      cfg.Allocation.MinQuoteReserveAbsolute,
		MinTradeAllocation:      cfg.Allocation.MinTradeAllocation,
		MaxSingleTradeRatio:     cfg.Allocation.MaxSingleTradeRatio,
		PowerFactor:             cfg.Allocation.PowerFactor,
	})

	throttle := cooldown.New(cfg.Risk.CooldownWindow(), cfg.Risk.CooldownStackingBonus)
	sizer := risk.NewSizer(risk.SizerConfig{
		Level:          risk.Level(cfg.Risk.Level),
		TargetQuotePct: cfg.Allocation.TargetQuoteAllocationPct,
		MaxPositionPct: cfg.Risk.MaxPositionSizePct,
		MinTradeAmount: cfg.Risk.MinTradeAmount,
	})

	var publisher *events.Publisher
	if cfg.Events.Enabled {
		publisher, err = events.Connect(cfg.Events.URL)
		if err != nil {
			// Outbound events are best-effort; run without them.
			log.Warn().Err(err).Msg("Event broker unavailable, continuing without events")
		}
	}

	var notifier *notify.Notifier
	if cfg.Notification.Enabled {
		notifier, err = notify.New(cfg.Notification.BotToken, cfg.Notification.ChatID)
		if err != nil {
			log.Warn().Err(err).Msg("Telegram unavailable, continuing without notifications")
		}
	}

	var metricsServer *metrics.Server
	if cfg.Monitoring.EnableMetrics {
		metricsServer = metrics.NewServer(cfg.Monitoring.ListenAddr)
	}

	trades := store.NewTradeLog(cfg.Storage.DataDir)
	exec := executor.New(executor.Config{
		Exchange:  ex,
		Ledger:    ledger,
		DataDir:   cfg.Storage.DataDir,
		Trades:    trades,
		Throttle:  throttle,
		Sizer:     sizer,
		Publisher: publisher,
		Notifier:  notifier,
		Logger:    config.NewLogger("executor"),
	})

	eng := engine.New(engine.Deps{
		Config:    cfg,
		Exchange:  ex,
		Collector: collector,
		Combiner:  combiner,
		Manager:   manager,
		Throttle:  throttle,
		Executor:  exec,
		Ledger:    ledger,
		Tracker:   performance.NewTracker(cfg.Storage.DataDir, cfg.Storage.SnapshotRetention),
		Decisions: store.NewDecisionCache(cfg.Storage.DataDir, cfg.Storage.DecisionRingSize),
		Publisher: publisher,
		Notifier:  notifier,
	})

	cleanup := func() {
		publisher.Close()
		metricsServer.Shutdown(context.Background())
		if redisClient != nil {
			redisClient.Close()
		}
	}
	return eng, cleanup, nil
}

// buildExchange selects the configured backend. Simulation mode forces
// the sim backend regardless.
func buildExchange(ctx context.Context, cfg *config.Config) (exchange.Exchange, error) {
	if cfg.Trading.SimulationMode || cfg.Exchange.Backend == "sim" {
		return buildSimExchange(ctx, cfg)
	}

	switch cfg.Exchange.Backend {
	case "binance":
		return exchange.NewBinanceExchange(exchange.BinanceConfig{
			APIKey:          cfg.Exchange.APIKey,
			APISecret:       cfg.Exchange.APISecret,
			RateLimitPerSec: cfg.Exchange.RateLimitPerSec,
			MaxRetries:      cfg.Exchange.MaxRetries,
			Logger:          config.NewLogger("exchange"),
		}), nil
	case "rest":
		return exchange.NewRESTExchange(exchange.RESTConfig{
			BaseURL:         cfg.Exchange.BaseURL,
			APIKey:          cfg.Exchange.APIKey,
			APISecret:       cfg.Exchange.APISecret,
			RateLimitPerSec: cfg.Exchange.RateLimitPerSec,
			MaxRetries:      cfg.Exchange.MaxRetries,
			RequestTimeout:  cfg.Exchange.RequestTimeout(),
			Logger:          config.NewLogger("exchange"),
		}), nil
	}
	return nil, fmt.Errorf("unknown exchange backend %q", cfg.Exchange.Backend)
}

// buildSimExchange seeds the simulated exchange with live market data
// when a real backend is configured alongside, or with a flat starting
// balance otherwise.
func buildSimExchange(ctx context.Context, cfg *config.Config) (exchange.Exchange, error) {
	sim := exchange.NewSimExchange(exchange.SimConfig{
		SlippageBps: cfg.Trading.SimSlippageBps,
		FeeBps:      cfg.Trading.SimFeeBps,
	})
	sim.SetBalance(cfg.Trading.QuoteCurrency, 10000)

	// Mirror candles and tickers from the live backend so simulation
	// trades against real prices.
	if cfg.Exchange.Backend != "sim" && cfg.Exchange.APIKey != "" {
		live, err := buildLiveFeed(cfg)
		if err != nil {
			return nil, err
		}
		for _, pair := range cfg.Trading.Pairs {
			ticker, err := live.GetTicker(ctx, pair)
			if err != nil {
				log.Warn().Err(err).Str("pair", pair).Msg("Failed to seed simulation ticker")
				continue
			}
			sim.SetTicker(pair, *ticker)
			candles, err := live.GetCandles(ctx, pair, cfg.Trading.CandleGranularity, cfg.Trading.CandleLookback)
			if err != nil {
				log.Warn().Err(err).Str("pair", pair).Msg("Failed to seed simulation candles")
				continue
			}
			sim.SetCandles(pair, candles)
		}
	}
	return sim, nil
}

func buildLiveFeed(cfg *config.Config) (exchange.Exchange, error) {
	if cfg.Exchange.Backend == "binance" {
		return exchange.NewBinanceExchange(exchange.BinanceConfig{
			APIKey:          cfg.Exchange.APIKey,
			APISecret:       cfg.Exchange.APISecret,
			RateLimitPerSec: cfg.Exchange.RateLimitPerSec,
			MaxRetries:      cfg.Exchange.MaxRetries,
			Logger:          config.NewLogger("sim-feed"),
		}), nil
	}
	return exchange.NewRESTExchange(exchange.RESTConfig{
		BaseURL:         cfg.Exchange.BaseURL,
		APIKey:          cfg.Exchange.APIKey,
		APISecret:       cfg.Exchange.APISecret,
		RateLimitPerSec: cfg.Exchange.RateLimitPerSec,
		MaxRetries:      cfg.Exchange.MaxRetries,
		RequestTimeout:  cfg.Exchange.RequestTimeout(),
		Logger:          config.NewLogger("sim-feed"),
	}), nil
}

// loadOrCreateLedger restores the persisted ledger or builds a fresh one
// from the exchange's account snapshot. A corrupt ledger whose backup is
// also unusable falls back to the exchange snapshot rather than
// overwriting anything silently.
func loadOrCreateLedger(ctx context.Context, cfg *config.Config, ex exchange.Exchange) (*portfolio.Ledger, error) {
	ledger, err := portfolio.Load(cfg.Storage.DataDir)
	if err == nil {
		accounts, aerr := ex.GetAccounts(ctx)
		if aerr != nil {
			return nil, fmt.Errorf("exchange account sync: %w", aerr)
		}
		ledger.SyncFromAccounts(accounts)
		return ledger, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("Ledger unreadable, rebuilding from exchange snapshot")
	}

	accounts, aerr := ex.GetAccounts(ctx)
	if aerr != nil {
		return nil, fmt.Errorf("exchange account snapshot: %w", aerr)
	}
	ledger = portfolio.New(cfg.Trading.QuoteCurrency, accounts, nil)
	if serr := ledger.Save(cfg.Storage.DataDir); serr != nil {
		return nil, fmt.Errorf("failed to persist fresh ledger: %w", serr)
	}
	return ledger, nil
}

// writeStartupMarker records the startup for the dashboard, deriving the
// restart context from the previous marker.
func writeStartupMarker(dataDir, sessionID string) {
	restartContext := store.RestartContextNormal
	if prev, err := store.ReadStartupInfo(dataDir); err == nil && prev != nil {
		if prev.RestartContext != store.RestartContextStop {
			restartContext = store.RestartContextRestart
		}
	}
	if err := store.WriteStartupInfo(dataDir, store.StartupInfo{
		PID:            os.Getpid(),
		StartupTime:    timeNow(),
		SessionID:      sessionID,
		RestartContext: restartContext,
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to write startup marker")
	}
}

func timeNow() time.Time { return time.Now().UTC() }

func resetTracking(cfg *config.Config) int {
	ledger, err := portfolio.Load(cfg.Storage.DataDir)
	if err != nil {
		log.Error().Err(err).Msg("Cannot reset performance without a ledger")
		return exitStartupError
	}
	tracker := performance.NewTracker(cfg.Storage.DataDir, cfg.Storage.SnapshotRetention)
	if err := tracker.Reset(ledger.View()); err != nil {
		log.Error().Err(err).Msg("Performance reset failed")
		return exitStartupError
	}
	ledger.Reset()
	if err := ledger.Save(cfg.Storage.DataDir); err != nil {
		log.Error().Err(err).Msg("Failed to persist reset ledger")
		return exitStartupError
	}
	log.Info().Msg("Performance tracking reset")
	return exitOK
}

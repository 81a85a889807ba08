package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all engine configuration. It is loaded once at startup and
// immutable afterwards; components receive it by value or as read-only fields.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Exchange     ExchangeConfig     `mapstructure:"exchange"`
	Advisory     AdvisoryConfig     `mapstructure:"advisory"`
	Trading      TradingConfig      `mapstructure:"trading"`
	Risk         RiskConfig         `mapstructure:"risk"`
	Allocation   AllocationConfig   `mapstructure:"allocation"`
	Weights      WeightsConfig      `mapstructure:"weights"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Events       EventsConfig       `mapstructure:"events"`
	Notification NotificationConfig `mapstructure:"notification"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
	Vault        VaultConfig        `mapstructure:"vault"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
}

// ExchangeConfig contains exchange adapter settings
type ExchangeConfig struct {
	Backend           string  `mapstructure:"backend"` // "rest", "binance", "sim"
	APIKey            string  `mapstructure:"api_key"`
	APISecret         string  `mapstructure:"api_secret"`
	BaseURL           string  `mapstructure:"base_url"`
	RateLimitPerSec   float64 `mapstructure:"rate_limit_per_sec"`
	MaxRetries        int     `mapstructure:"max_retries"`
	RequestTimeoutSec int     `mapstructure:"request_timeout_sec"`
}

// RequestTimeout returns the per-request timeout as a duration.
func (c ExchangeConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// AdvisoryConfig contains the language-model adapter settings
type AdvisoryConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	Provider      string  `mapstructure:"provider"`
	Endpoint      string  `mapstructure:"endpoint"`
	PrimaryModel  string  `mapstructure:"primary_model"`
	FallbackModel string  `mapstructure:"fallback_model"`
	APIKey        string  `mapstructure:"api_key"`
	Location      string  `mapstructure:"location"`
	Temperature   float64 `mapstructure:"temperature"`
	MaxTokens     int     `mapstructure:"max_tokens"`
	TimeoutSec    int     `mapstructure:"timeout_sec"`
}

// Timeout returns the advisory call timeout as a duration.
func (c AdvisoryConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// TradingConfig contains the trading universe and cadence settings
type TradingConfig struct {
	Pairs                   []string `mapstructure:"pairs"`          // ["BTC-EUR", "ETH-EUR"]
	QuoteCurrency           string   `mapstructure:"quote_currency"` // "EUR"
	DecisionIntervalMinutes int      `mapstructure:"decision_interval_minutes"`
	CandleGranularity       string   `mapstructure:"candle_granularity"` // "1h"
	CandleLookback          int      `mapstructure:"candle_lookback"`    // number of candles
	SimulationMode          bool     `mapstructure:"simulation_mode"`
	SimSlippageBps          float64  `mapstructure:"sim_slippage_bps"`
	SimFeeBps               float64  `mapstructure:"sim_fee_bps"`
}

// DecisionInterval returns the cycle cadence as a duration.
func (c TradingConfig) DecisionInterval() time.Duration {
	return time.Duration(c.DecisionIntervalMinutes) * time.Minute
}

// RiskConfig contains risk management settings
type RiskConfig struct {
	Level                  string  `mapstructure:"level"` // LOW, MEDIUM, HIGH
	BuyConfidenceThreshold float64 `mapstructure:"buy_confidence_threshold"`
	SellConfidenceThresh   float64 `mapstructure:"sell_confidence_threshold"`
	CooldownMinutes        int     `mapstructure:"cooldown_minutes"`
	CooldownStackingBonus  float64 `mapstructure:"cooldown_stacking_bonus"`
	MaxPositionSizePct     float64 `mapstructure:"max_position_size_pct"` // per-order max, fraction of portfolio
	MinTradeAmount         float64 `mapstructure:"min_trade_amount"`      // exchange minimum, quote units
}

// CooldownWindow returns the per-pair cool-down window.
func (c RiskConfig) CooldownWindow() time.Duration {
	return time.Duration(c.CooldownMinutes) * time.Minute
}

// AllocationConfig contains capital allocation settings
type AllocationConfig struct {
	TargetQuoteAllocationPct float64 `mapstructure:"target_quote_allocation_pct"`
	MinQuoteReserveAbsolute  float64 `mapstructure:"min_quote_reserve_absolute"`
	CapitalReserveRatio      float64 `mapstructure:"capital_reserve_ratio"`
	MinTradeAllocation       float64 `mapstructure:"min_trade_allocation"`
	MaxSingleTradeRatio      float64 `mapstructure:"max_single_trade_ratio"`
	PowerFactor              float64 `mapstructure:"power_factor"`
	MinActionableConfidence  float64 `mapstructure:"min_actionable_confidence"`
	MomentumThresholdPct     float64 `mapstructure:"momentum_threshold_pct"`
}

// WeightsConfig allows per-regime strategy weight overrides. When
// OverridesFile is set it is loaded as a YAML document at startup.
type WeightsConfig struct {
	OverridesFile string `mapstructure:"overrides_file"`
}

// StorageConfig contains file persistence settings
type StorageConfig struct {
	DataDir           string `mapstructure:"data_dir"`
	DecisionRingSize  int    `mapstructure:"decision_ring_size"`
	SnapshotFrequency string `mapstructure:"snapshot_frequency"` // "hourly" or "daily"
	SnapshotRetention int    `mapstructure:"snapshot_retention"` // max retained snapshots
	HistoricalArchive bool   `mapstructure:"historical_archive"`
}

// CacheConfig contains the optional Redis market-data cache settings
type CacheConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

// TTL returns the cache entry TTL as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// EventsConfig contains the optional NATS event publisher settings
type EventsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// NotificationConfig contains Telegram notification settings
type NotificationConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

// MonitoringConfig contains Prometheus settings. The metrics listener is
// off by default; the core opens no inbound ports unless the operator asks.
type MonitoringConfig struct {
	EnableMetrics bool   `mapstructure:"enable_metrics"`
	ListenAddr    string `mapstructure:"listen_addr"`
}

// VaultConfig contains the optional secret source settings
type VaultConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Address    string `mapstructure:"address"`
	Token      string `mapstructure:"token"`
	SecretPath string `mapstructure:"secret_path"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("driftbot")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("DRIFTBOT")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file; defaults and environment variables apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "driftbot")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "console")

	// Exchange defaults
	v.SetDefault("exchange.backend", "rest")
	v.SetDefault("exchange.base_url", "https://api.exchange.example.com")
	v.SetDefault("exchange.rate_limit_per_sec", 10)
	v.SetDefault("exchange.max_retries", 3)
	v.SetDefault("exchange.request_timeout_sec", 30)

	// Advisory defaults
	v.SetDefault("advisory.enabled", true)
	v.SetDefault("advisory.provider", "openai-compatible")
	v.SetDefault("advisory.endpoint", "http://localhost:8080/v1/chat/completions")
	v.SetDefault("advisory.primary_model", "claude-sonnet-4-20250514")
	v.SetDefault("advisory.fallback_model", "gpt-4-turbo")
	v.SetDefault("advisory.temperature", 0.2)
	v.SetDefault("advisory.max_tokens", 1000)
	v.SetDefault("advisory.timeout_sec", 20)

	// Trading defaults
	v.SetDefault("trading.pairs", []string{"BTC-EUR", "ETH-EUR"})
	v.SetDefault("trading.quote_currency", "EUR")
	v.SetDefault("trading.decision_interval_minutes", 60)
	v.SetDefault("trading.candle_granularity", "1h")
	v.SetDefault("trading.candle_lookback", 120)
	v.SetDefault("trading.simulation_mode", true)
	v.SetDefault("trading.sim_slippage_bps", 5)
	v.SetDefault("trading.sim_fee_bps", 10)

	// Risk defaults
	v.SetDefault("risk.level", "MEDIUM")
	v.SetDefault("risk.buy_confidence_threshold", 55)
	v.SetDefault("risk.sell_confidence_threshold", 55)
	v.SetDefault("risk.cooldown_minutes", 30)
	v.SetDefault("risk.cooldown_stacking_bonus", 15)
	v.SetDefault("risk.max_position_size_pct", 0.25)
	v.SetDefault("risk.min_trade_amount", 10)

	// Allocation defaults
	v.SetDefault("allocation.target_quote_allocation_pct", 0.3)
	v.SetDefault("allocation.min_quote_reserve_absolute", 100)
	v.SetDefault("allocation.capital_reserve_ratio", 0.2)
	v.SetDefault("allocation.min_trade_allocation", 50)
	v.SetDefault("allocation.max_single_trade_ratio", 0.6)
	v.SetDefault("allocation.power_factor", 1.2)
	v.SetDefault("allocation.min_actionable_confidence", 50)
	v.SetDefault("allocation.momentum_threshold_pct", 3)

	// Storage defaults
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.decision_ring_size", 50)
	v.SetDefault("storage.snapshot_frequency", "hourly")
	v.SetDefault("storage.snapshot_retention", 2000)
	v.SetDefault("storage.historical_archive", false)

	// Cache defaults
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.ttl_seconds", 60)

	// Events defaults
	v.SetDefault("events.enabled", false)
	v.SetDefault("events.url", "nats://localhost:4222")

	// Notification defaults
	v.SetDefault("notification.enabled", false)

	// Monitoring defaults
	v.SetDefault("monitoring.enable_metrics", false)
	v.SetDefault("monitoring.listen_addr", "127.0.0.1:9100")

	// Vault defaults
	v.SetDefault("vault.enabled", false)
	v.SetDefault("vault.secret_path", "secret/data/driftbot")
}

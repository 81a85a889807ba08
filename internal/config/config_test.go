package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestLoad_DefaultsWithoutConfigFile(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "driftbot", cfg.App.Name)
	assert.Equal(t, []string{"BTC-EUR", "ETH-EUR"}, cfg.Trading.Pairs)
	assert.Equal(t, "EUR", cfg.Trading.QuoteCurrency)
	assert.True(t, cfg.Trading.SimulationMode)
	assert.Equal(t, "MEDIUM", cfg.Risk.Level)
	assert.Equal(t, 55.0, cfg.Risk.BuyConfidenceThreshold)
	assert.Equal(t, 0.3, cfg.Allocation.TargetQuoteAllocationPct)
	assert.False(t, cfg.Monitoring.EnableMetrics)
	assert.False(t, cfg.Cache.Enabled)
	assert.False(t, cfg.Events.Enabled)
}

func TestLoad_ReadsYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "driftbot.yaml")
	yaml := `
trading:
  pairs: ["SOL-USD"]
  quote_currency: "USD"
risk:
  level: "HIGH"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"SOL-USD"}, cfg.Trading.Pairs)
	assert.Equal(t, "HIGH", cfg.Risk.Level)
	// Unset keys keep their defaults.
	assert.Equal(t, 60, cfg.Trading.DecisionIntervalMinutes)
}

// ============================================================
// Validation
// ============================================================

func validConfig(t *testing.T) *Config {
	t.Helper()
	chdir(t, t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	return cfg
}

func TestValidate_PairMustQuoteInConfiguredCurrency(t *testing.T) {
	cfg := validConfig(t)
	cfg.Trading.Pairs = []string{"BTC-USD"}
	err := cfg.Validate()
	assert.ErrorContains(t, err, "does not quote in EUR")
}

func TestValidate_MalformedPair(t *testing.T) {
	cfg := validConfig(t)
	cfg.Trading.Pairs = []string{"BTCEUR"}
	err := cfg.Validate()
	assert.ErrorContains(t, err, "not of the form ASSET-QUOTE")
}

func TestValidate_LookbackMustCoverIndicators(t *testing.T) {
	cfg := validConfig(t)
	cfg.Trading.CandleLookback = 30
	err := cfg.Validate()
	assert.ErrorContains(t, err, "candle_lookback")
}

func TestValidate_LiveTradingNeedsCredentials(t *testing.T) {
	cfg := validConfig(t)
	cfg.Trading.SimulationMode = false
	cfg.Exchange.Backend = "rest"
	cfg.Exchange.APIKey = ""
	cfg.Exchange.APISecret = ""
	err := cfg.Validate()
	assert.ErrorContains(t, err, "api_key")
}

func TestValidate_SimModeNeedsNoCredentials(t *testing.T) {
	cfg := validConfig(t)
	cfg.Trading.SimulationMode = true
	cfg.Exchange.APIKey = ""
	assert.NoError(t, cfg.Validate())
}

func TestValidate_UnknownRiskLevel(t *testing.T) {
	cfg := validConfig(t)
	cfg.Risk.Level = "EXTREME"
	err := cfg.Validate()
	assert.ErrorContains(t, err, "risk.level")
}

func TestValidate_ReserveRatioBounds(t *testing.T) {
	cfg := validConfig(t)
	cfg.Allocation.CapitalReserveRatio = 1.0
	err := cfg.Validate()
	assert.ErrorContains(t, err, "capital_reserve_ratio")
}

func TestValidate_SnapshotFrequency(t *testing.T) {
	cfg := validConfig(t)
	cfg.Storage.SnapshotFrequency = "weekly"
	err := cfg.Validate()
	assert.ErrorContains(t, err, "snapshot_frequency")
}

func TestValidate_NotificationRequiresToken(t *testing.T) {
	cfg := validConfig(t)
	cfg.Notification.Enabled = true
	cfg.Notification.BotToken = ""
	err := cfg.Validate()
	assert.ErrorContains(t, err, "bot_token")
}

func TestSplitPair(t *testing.T) {
	base, quote, ok := SplitPair("BTC-EUR")
	assert.True(t, ok)
	assert.Equal(t, "BTC", base)
	assert.Equal(t, "EUR", quote)

	base, quote, ok = SplitPair("WBTC-TEST-EUR")
	assert.True(t, ok)
	assert.Equal(t, "WBTC-TEST", base)
	assert.Equal(t, "EUR", quote)

	_, _, ok = SplitPair("BTCEUR")
	assert.False(t, ok)
	_, _, ok = SplitPair("-EUR")
	assert.False(t, ok)
	_, _, ok = SplitPair("BTC-")
	assert.False(t, ok)
}

package config

import (
	"fmt"
	"strings"
)

var validRiskLevels = map[string]bool{"LOW": true, "MEDIUM": true, "HIGH": true}

var validBackends = map[string]bool{"rest": true, "binance": true, "sim": true}

// Validate checks the configuration for internal consistency. It is called
// during Load; a failed validation is a startup-fatal error.
func (c *Config) Validate() error {
	var problems []string

	if len(c.Trading.Pairs) == 0 {
		problems = append(problems, "trading.pairs must not be empty")
	}
	if c.Trading.QuoteCurrency == "" {
		problems = append(problems, "trading.quote_currency is required")
	}
	for _, pair := range c.Trading.Pairs {
		base, quote, ok := splitPair(pair)
		if !ok {
			problems = append(problems, fmt.Sprintf("trading.pairs: %q is not of the form ASSET-QUOTE", pair))
			continue
		}
		if base == "" {
			problems = append(problems, fmt.Sprintf("trading.pairs: %q has an empty base asset", pair))
		}
		if quote != c.Trading.QuoteCurrency {
			problems = append(problems, fmt.Sprintf("trading.pairs: %q does not quote in %s", pair, c.Trading.QuoteCurrency))
		}
	}
	if c.Trading.DecisionIntervalMinutes < 1 {
		problems = append(problems, "trading.decision_interval_minutes must be >= 1")
	}
	if c.Trading.CandleLookback < 52 {
		// Largest indicator period is the 50-sample SMA; one extra sample is
		// needed for change computation.
		problems = append(problems, "trading.candle_lookback must be >= 52")
	}

	if !validBackends[c.Exchange.Backend] {
		problems = append(problems, fmt.Sprintf("exchange.backend: unknown backend %q", c.Exchange.Backend))
	}
	if c.Exchange.Backend != "sim" && !c.Trading.SimulationMode {
		if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
			problems = append(problems, "exchange.api_key and exchange.api_secret are required for live trading")
		}
	}
	if c.Exchange.RateLimitPerSec <= 0 {
		problems = append(problems, "exchange.rate_limit_per_sec must be > 0")
	}
	if c.Exchange.MaxRetries < 0 {
		problems = append(problems, "exchange.max_retries must be >= 0")
	}
	if c.Exchange.RequestTimeoutSec <= 0 {
		problems = append(problems, "exchange.request_timeout_sec must be > 0")
	}

	if !validRiskLevels[strings.ToUpper(c.Risk.Level)] {
		problems = append(problems, fmt.Sprintf("risk.level: must be LOW, MEDIUM or HIGH, got %q", c.Risk.Level))
	}
	if c.Risk.BuyConfidenceThreshold < 0 || c.Risk.BuyConfidenceThreshold > 100 {
		problems = append(problems, "risk.buy_confidence_threshold must be within [0,100]")
	}
	if c.Risk.SellConfidenceThresh < 0 || c.Risk.SellConfidenceThresh > 100 {
		problems = append(problems, "risk.sell_confidence_threshold must be within [0,100]")
	}
	if c.Risk.CooldownMinutes < 0 {
		problems = append(problems, "risk.cooldown_minutes must be >= 0")
	}
	if c.Risk.MaxPositionSizePct <= 0 || c.Risk.MaxPositionSizePct > 1 {
		problems = append(problems, "risk.max_position_size_pct must be within (0,1]")
	}

	if c.Allocation.CapitalReserveRatio < 0 || c.Allocation.CapitalReserveRatio >= 1 {
		problems = append(problems, "allocation.capital_reserve_ratio must be within [0,1)")
	}
	if c.Allocation.MaxSingleTradeRatio <= 0 || c.Allocation.MaxSingleTradeRatio > 1 {
		problems = append(problems, "allocation.max_single_trade_ratio must be within (0,1]")
	}
	if c.Allocation.PowerFactor <= 0 {
		problems = append(problems, "allocation.power_factor must be > 0")
	}
	if c.Allocation.MinTradeAllocation < 0 {
		problems = append(problems, "allocation.min_trade_allocation must be >= 0")
	}
	if c.Allocation.TargetQuoteAllocationPct <= 0 || c.Allocation.TargetQuoteAllocationPct >= 1 {
		problems = append(problems, "allocation.target_quote_allocation_pct must be within (0,1)")
	}

	switch c.Storage.SnapshotFrequency {
	case "hourly", "daily":
	default:
		problems = append(problems, fmt.Sprintf("storage.snapshot_frequency: must be hourly or daily, got %q", c.Storage.SnapshotFrequency))
	}
	if c.Storage.DecisionRingSize < 1 {
		problems = append(problems, "storage.decision_ring_size must be >= 1")
	}

	if c.Notification.Enabled && c.Notification.BotToken == "" {
		problems = append(problems, "notification.bot_token is required when notifications are enabled")
	}
	if c.Vault.Enabled && c.Vault.Address == "" {
		problems = append(problems, "vault.address is required when vault is enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// splitPair splits an ASSET-QUOTE identifier into its parts.
func splitPair(pair string) (base, quote string, ok bool) {
	idx := strings.LastIndex(pair, "-")
	if idx <= 0 || idx == len(pair)-1 {
		return "", "", false
	}
	return pair[:idx], pair[idx+1:], true
}

// SplitPair splits an ASSET-QUOTE pair identifier, e.g. "BTC-EUR" -> "BTC", "EUR".
func SplitPair(pair string) (base, quote string, ok bool) {
	return splitPair(pair)
}

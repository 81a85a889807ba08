package llm

import (
	"fmt"
	"strings"
)

// systemPrompt builds the system message. Cash-position guidance depends
// on where the quote share sits relative to its target thresholds.
func systemPrompt(portfolio PortfolioContext) string {
	var b strings.Builder

	b.WriteString("You are a disciplined cryptocurrency trading advisor. ")
	b.WriteString("Given a market summary for one trading pair, respond with exactly one JSON object:\n")
	b.WriteString(`{"action": "BUY"|"SELL"|"HOLD", "confidence": 0-100, "reasoning": "<one or two sentences>"}`)
	b.WriteString("\nNo text outside the JSON object.\n\n")

	b.WriteString("Cash position rules:\n")
	switch {
	case portfolio.QuotePct < portfolio.CriticalLowPct:
		b.WriteString(fmt.Sprintf(
			"- Cash reserves are CRITICALLY LOW (%.1f%% of portfolio, critical threshold %.1f%%). Strongly prefer SELL. Only recommend BUY with confidence above 85.\n",
			portfolio.QuotePct, portfolio.CriticalLowPct))
	case portfolio.QuotePct < portfolio.LowPct:
		b.WriteString(fmt.Sprintf(
			"- Cash reserves are below target (%.1f%% of portfolio, target %.1f%%). Prefer SELL over BUY where the market supports either.\n",
			portfolio.QuotePct, portfolio.LowPct))
	case portfolio.QuotePct > portfolio.HighPct:
		b.WriteString(fmt.Sprintf(
			"- Cash reserves are high (%.1f%% of portfolio, high threshold %.1f%%). Prefer BUY where the market supports it.\n",
			portfolio.QuotePct, portfolio.HighPct))
	default:
		b.WriteString(fmt.Sprintf(
			"- Cash reserves are healthy (%.1f%% of portfolio, target %.1f%%). No positioning bias.\n",
			portfolio.QuotePct, portfolio.TargetPct))
	}
	b.WriteString("- Recommend HOLD when the evidence is mixed or weak.\n")

	return b.String()
}

// userPrompt renders the compact market summary plus the
// portfolio-awareness block.
func userPrompt(summary MarketSummary, portfolio PortfolioContext) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Pair: %s\n", summary.Pair))
	b.WriteString(fmt.Sprintf("Price: %.6f\n", summary.Price))
	b.WriteString(fmt.Sprintf("Change: 24h %+.2f%%, 7d %+.2f%%, 30d %+.2f%%\n",
		summary.Change24hPct, summary.Change7dPct, summary.Change30dPct))
	b.WriteString(fmt.Sprintf("Volume 24h: %.2f\n", summary.Volume24h))
	b.WriteString(fmt.Sprintf("RSI(14): %.1f\n", summary.RSI))
	b.WriteString(fmt.Sprintf("MACD: line %.6f, signal %.6f\n", summary.MACDLine, summary.MACDSignal))
	b.WriteString(fmt.Sprintf("Bollinger position: %+.2f (-1 lower band, +1 upper band)\n", summary.BollingerPosition))
	b.WriteString(fmt.Sprintf("Normalized volatility: %.3f\n", summary.NormalizedVolatility))
	if summary.Regime != "" {
		b.WriteString(fmt.Sprintf("Detected regime: %s\n", summary.Regime))
	}

	b.WriteString("\nPortfolio:\n")
	b.WriteString(fmt.Sprintf("- %s balance: %.2f (%.1f%% of portfolio)\n",
		portfolio.QuoteCurrency, portfolio.QuoteBalance, portfolio.QuotePct))
	b.WriteString(fmt.Sprintf("- Target %s share: %.1f%% (critical-low %.1f%%, low %.1f%%, high %.1f%%)\n",
		portfolio.QuoteCurrency, portfolio.TargetPct,
		portfolio.CriticalLowPct, portfolio.LowPct, portfolio.HighPct))
	b.WriteString(fmt.Sprintf("- Held amount of this pair's base asset: %.8f\n", portfolio.HeldAssetAmount))

	b.WriteString("\nRespond with the JSON object only.")
	return b.String()
}

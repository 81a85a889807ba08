package llm

// Advice is the advisory model's verdict for one pair. Fallback marks a
// safe-HOLD produced when the model was unavailable or unparseable.
type Advice struct {
	Action     string  `json:"action"` // "BUY", "SELL", "HOLD"
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	Fallback   bool    `json:"fallback,omitempty"`
	Model      string  `json:"model,omitempty"`
}

// MarketSummary is the compact per-pair market picture sent to the model.
type MarketSummary struct {
	Pair                 string  `json:"pair"`
	Price                float64 `json:"price"`
	Change24hPct         float64 `json:"change_24h_pct"`
	Change7dPct          float64 `json:"change_7d_pct"`
	Change30dPct         float64 `json:"change_30d_pct"`
	Volume24h            float64 `json:"volume_24h"`
	RSI                  float64 `json:"rsi"`
	MACDLine             float64 `json:"macd_line"`
	MACDSignal           float64 `json:"macd_signal"`
	BollingerPosition    float64 `json:"bollinger_position"` // -1 lower band, 0 middle, +1 upper band
	NormalizedVolatility float64 `json:"normalized_volatility"`
	Regime               string  `json:"regime"`
}

// PortfolioContext is the portfolio-awareness block: the model must know
// how much cash remains before it can responsibly suggest a BUY.
type PortfolioContext struct {
	QuoteCurrency   string  `json:"quote_currency"`
	QuoteBalance    float64 `json:"quote_balance"`
	QuotePct        float64 `json:"quote_pct"`        // current quote share, 0..100
	TargetPct       float64 `json:"target_pct"`       // desired quote share, 0..100
	CriticalLowPct  float64 `json:"critical_low_pct"` // 0.6 x target
	LowPct          float64 `json:"low_pct"`          // target
	HighPct         float64 `json:"high_pct"`         // 1.5 x target
	HeldAssetAmount float64 `json:"held_asset_amount"`
}

// ChatRequest represents a request to the LLM API
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// ChatMessage represents a single message in the chat
type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ChatResponse represents the response from the LLM API
type ChatResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// ErrorResponse represents an error from the LLM API
type ErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

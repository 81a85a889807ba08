// Package llm is the advisory model adapter. It calls an OpenAI-compatible
// chat completions endpoint and degrades to a safe-HOLD advice when the
// model is unreachable, times out, or returns something unparseable. The
// rest of the engine treats it as an opaque oracle and never fails a cycle
// on its account.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// Advisor is the oracle interface the advisory strategy consumes.
type Advisor interface {
	Advise(ctx context.Context, summary MarketSummary, portfolio PortfolioContext) Advice
}

// Client talks to an OpenAI-compatible chat completions API with a
// primary model and an optional fallback model.
type Client struct {
	endpoint      string
	apiKey        string
	primaryModel  string
	fallbackModel string
	temperature   float64
	maxTokens     int
	timeout       time.Duration
	httpClient    *http.Client

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// ClientConfig contains configuration for the advisory client
type ClientConfig struct {
	Endpoint      string
	APIKey        string
	PrimaryModel  string
	FallbackModel string
	Temperature   float64
	MaxTokens     int
	Timeout       time.Duration
}

// NewClient creates a new advisory client
func NewClient(config ClientConfig) *Client {
	if config.Endpoint == "" {
		config.Endpoint = "http://localhost:8080/v1/chat/completions"
	}
	if config.Temperature == 0 {
		config.Temperature = 0.3
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 600
	}
	if config.Timeout == 0 {
		config.Timeout = 20 * time.Second
	}

	return &Client{
		endpoint:      config.Endpoint,
		apiKey:        config.APIKey,
		primaryModel:  config.PrimaryModel,
		fallbackModel: config.FallbackModel,
		temperature:   config.Temperature,
		maxTokens:     config.MaxTokens,
		timeout:       config.Timeout,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// breakerFor returns the circuit breaker guarding one model. A model that
// keeps failing is skipped for a while so failover reaches the next model
// without waiting out a full timeout every cycle.
func (c *Client) breakerFor(model string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	cb, ok := c.breakers[model]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "advisory-" + model,
			Timeout: 2 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("Advisory circuit breaker state changed")
			},
		})
		c.breakers[model] = cb
	}
	return cb
}

// SafeHold is the advice returned when the model cannot be consulted.
func SafeHold() Advice {
	return Advice{
		Action:     "HOLD",
		Confidence: 0,
		Reasoning:  "advisory unavailable",
		Fallback:   true,
	}
}

// Advise asks the model for a verdict on one pair. It tries the primary
// model, then the fallback model, and finally returns SafeHold. It never
// returns an error to the caller.
func (c *Client) Advise(ctx context.Context, summary MarketSummary, portfolio PortfolioContext) Advice {
	system := systemPrompt(portfolio)
	user := userPrompt(summary, portfolio)

	models := []string{c.primaryModel}
	if c.fallbackModel != "" && c.fallbackModel != c.primaryModel {
		models = append(models, c.fallbackModel)
	}

	for _, model := range models {
		advice, err := c.adviseWithModel(ctx, model, system, user)
		if err == nil {
			advice.Model = model
			return advice
		}
		log.Warn().
			Err(err).
			Str("pair", summary.Pair).
			Str("model", model).
			Msg("Advisory model call failed")
		if ctx.Err() != nil {
			break
		}
	}

	return SafeHold()
}

func (c *Client) adviseWithModel(ctx context.Context, model, system, user string) (Advice, error) {
	result, err := c.breakerFor(model).Execute(func() (interface{}, error) {
		return c.complete(ctx, model, []ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		})
	})
	if err != nil {
		return Advice{}, err
	}
	content := result.(string)

	advice, err := parseAdvice(content)
	if err != nil {
		return Advice{}, err
	}
	return advice, nil
}

// complete sends one chat completion request and returns the first
// choice's content.
func (c *Client) complete(ctx context.Context, model string, messages []ChatMessage) (string, error) {
	request := ChatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	requestBody, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewBuffer(requestBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
			return "", fmt.Errorf("advisory API error (status %d)", resp.StatusCode)
		}
		return "", fmt.Errorf("advisory API error: %s", errResp.Error.Message)
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in advisory response")
	}

	log.Debug().
		Str("model", chatResp.Model).
		Int("prompt_tokens", chatResp.Usage.PromptTokens).
		Int("completion_tokens", chatResp.Usage.CompletionTokens).
		Dur("duration", time.Since(start)).
		Msg("Advisory request completed")

	return chatResp.Choices[0].Message.Content, nil
}

// parseAdvice extracts the {action, confidence, reasoning} object from
// model output, tolerating markdown fences.
func parseAdvice(content string) (Advice, error) {
	content = extractJSONFromMarkdown(content)

	var advice Advice
	if err := json.Unmarshal([]byte(content), &advice); err != nil {
		return Advice{}, fmt.Errorf("failed to parse advisory JSON: %w", err)
	}

	advice.Action = strings.ToUpper(strings.TrimSpace(advice.Action))
	switch advice.Action {
	case "BUY", "SELL", "HOLD":
	default:
		return Advice{}, fmt.Errorf("advisory returned unknown action %q", advice.Action)
	}
	if advice.Confidence < 0 || advice.Confidence > 100 {
		return Advice{}, fmt.Errorf("advisory confidence %.1f out of range", advice.Confidence)
	}
	return advice, nil
}

// extractJSONFromMarkdown extracts JSON from markdown code blocks
func extractJSONFromMarkdown(content string) string {
	start := -1
	end := -1

	contentBytes := []byte(content)
	if idx := bytes.Index(contentBytes, []byte("```json")); idx >= 0 {
		start = idx + 7
	} else if idx := bytes.Index(contentBytes, []byte("```")); idx >= 0 {
		start = idx + 3
	}

	if start >= 0 {
		if idx := bytes.Index(contentBytes[start:], []byte("```")); idx >= 0 {
			end = start + idx
			content = content[start:end]
		}
	}

	return string(bytes.TrimSpace([]byte(content)))
}

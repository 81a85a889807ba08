package exchange

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// RetryConfig configures retry behavior for exchange operations
type RetryConfig struct {
	MaxRetries     int           // Maximum number of retry attempts
	InitialBackoff time.Duration // Initial backoff duration
	MaxBackoff     time.Duration // Maximum backoff duration
	BackoffFactor  float64       // Multiplier for exponential backoff
	JitterFraction float64       // Fraction of backoff randomized, [0,1]
}

// DefaultRetryConfig returns default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
		JitterFraction: 0.25,
	}
}

// rateLimitBackoff is the bounded sleep applied when the exchange answers 429.
const rateLimitBackoff = 2 * time.Second

// WithRetry executes an operation with exponential backoff and jitter.
// Only errors the taxonomy marks retryable are retried; everything else
// surfaces immediately.
func WithRetry(ctx context.Context, cfg RetryConfig, op func() error) error {
	var lastErr error
	backoff := cfg.InitialBackoff

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("operation cancelled: %w", ctx.Err())
		default:
		}

		err := op()
		if err == nil {
			if attempt > 0 {
				log.Info().Int("attempt", attempt+1).Msg("Operation succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		wait := backoff
		if errors.Is(err, ErrRateLimited) {
			wait = rateLimitBackoff
		}
		if cfg.JitterFraction > 0 {
			jitter := time.Duration(rand.Float64() * cfg.JitterFraction * float64(wait))
			wait += jitter
		}

		log.Warn().
			Err(err).
			Str("error_tag", TaxonomyTag(err)).
			Int("attempt", attempt+1).
			Int("max_attempts", cfg.MaxRetries+1).
			Dur("backoff", wait).
			Msg("Exchange operation failed, retrying")

		select {
		case <-ctx.Done():
			return fmt.Errorf("operation cancelled during backoff: %w", ctx.Err())
		case <-time.After(wait):
		}

		backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", cfg.MaxRetries+1, lastErr)
}

// NewRequestLimiter builds the token-bucket throttle enforcing at most
// rps requests per rolling second. Callers block in Wait until a token
// is available.
func NewRequestLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		rps = 10
	}
	return rate.NewLimiter(rate.Limit(rps), int(rps))
}

package exchange

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every error escaping this package wraps exactly one of
// these sentinels so callers can dispatch with errors.Is.
var (
	// ErrTransient covers network failures and 5xx responses; the adapter
	// retries these locally before surfacing them.
	ErrTransient = errors.New("transient network error")

	// ErrRateLimited is a 429 from the exchange; converted into a bounded
	// sleep by the retry loop.
	ErrRateLimited = errors.New("rate limited")

	// ErrAuthentication is fatal to the cycle; operator intervention required.
	ErrAuthentication = errors.New("authentication failed")

	// ErrInsufficientBalance is opportunity-local; the executor skips the
	// trade and triggers an exchange resync.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrOrderRejected means the exchange definitively refused the order.
	ErrOrderRejected = errors.New("order rejected")

	// ErrOrderUnknown means the order's terminal status could not be
	// confirmed; the ledger must not be mutated.
	ErrOrderUnknown = errors.New("order status unknown")

	// ErrDataUnavailable is pair-local; the pair is excluded from the cycle.
	ErrDataUnavailable = errors.New("market data unavailable")
)

// TaxonomyTag returns the stable log tag for an error, for structured
// logging and metrics.
func TaxonomyTag(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrAuthentication):
		return "authentication"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrOrderRejected):
		return "order_rejected"
	case errors.Is(err, ErrOrderUnknown):
		return "order_unknown"
	case errors.Is(err, ErrDataUnavailable):
		return "data_unavailable"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "other"
	}
}

// IsRetryable reports whether the adapter should retry the call locally.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}

// statusError maps an HTTP status code onto the taxonomy.
func statusError(status int, body string) error {
	switch {
	case status == 401 || status == 403:
		return fmt.Errorf("%w: status %d: %s", ErrAuthentication, status, body)
	case status == 429:
		return fmt.Errorf("%w: status %d", ErrRateLimited, status)
	case status >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrTransient, status, body)
	default:
		return fmt.Errorf("exchange error: status %d: %s", status, body)
	}
}

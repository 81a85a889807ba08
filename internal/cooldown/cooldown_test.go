package cooldown

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cryptodrift/driftbot/internal/exchange"
)

// throttleAt returns a throttle with a controllable clock.
func throttleAt(window time.Duration) (*Throttle, *time.Time) {
	t := New(window, 15)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	t.now = func() time.Time { return now }
	return t, &now
}

func TestAllow_UnknownPairPasses(t *testing.T) {
	th, _ := throttleAt(time.Hour)
	assert.True(t, th.Allow("BTC-EUR", exchange.OrderSideBuy, 60, 55))
}

func TestAllow_OppositeSideSuppressedForWindow(t *testing.T) {
	th, now := throttleAt(time.Hour)
	th.RecordTrade("BTC-EUR", exchange.OrderSideBuy)

	// A reversal is refused regardless of confidence.
	assert.False(t, th.Allow("BTC-EUR", exchange.OrderSideSell, 99, 55))

	*now = now.Add(59 * time.Minute)
	assert.False(t, th.Allow("BTC-EUR", exchange.OrderSideSell, 99, 55))
}

func TestAllow_SameSideNeedsStackingBoost(t *testing.T) {
	th, _ := throttleAt(time.Hour)
	th.RecordTrade("BTC-EUR", exchange.OrderSideBuy)

	// Threshold 55 plus boost 15: 69 fails, 70 passes.
	assert.False(t, th.Allow("BTC-EUR", exchange.OrderSideBuy, 69, 55))
	assert.True(t, th.Allow("BTC-EUR", exchange.OrderSideBuy, 70, 55))
}

func TestAllow_WindowExpiryClearsEntry(t *testing.T) {
	th, now := throttleAt(time.Hour)
	th.RecordTrade("BTC-EUR", exchange.OrderSideBuy)

	*now = now.Add(time.Hour)
	assert.True(t, th.Allow("BTC-EUR", exchange.OrderSideSell, 10, 55))
	// Entry was dropped on expiry; the next check has no history at all.
	assert.True(t, th.Allow("BTC-EUR", exchange.OrderSideSell, 10, 55))
}

func TestAllow_PairsAreIndependent(t *testing.T) {
	th, _ := throttleAt(time.Hour)
	th.RecordTrade("BTC-EUR", exchange.OrderSideBuy)

	assert.True(t, th.Allow("ETH-EUR", exchange.OrderSideSell, 60, 55))
}

func TestReset_ClearsAllState(t *testing.T) {
	th, _ := throttleAt(time.Hour)
	th.RecordTrade("BTC-EUR", exchange.OrderSideBuy)

	th.Reset()
	assert.True(t, th.Allow("BTC-EUR", exchange.OrderSideSell, 10, 55))
}

func TestNew_DefaultBoost(t *testing.T) {
	th := New(time.Hour, 0)
	assert.Equal(t, DefaultStackingBoost, th.boost)
}

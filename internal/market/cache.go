package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/cryptodrift/driftbot/internal/exchange"
)

// CandleCache caches candle windows in Redis so several cycles inside one
// granularity interval don't refetch identical data. A nil cache is a
// valid no-op.
type CandleCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCandleCache creates a Redis-backed candle cache. Returns nil when
// client is nil so the cache stays optional.
func NewCandleCache(client *redis.Client, ttl time.Duration) *CandleCache {
	if client == nil {
		return nil
	}
	if ttl == 0 {
		ttl = 60 * time.Second
	}
	return &CandleCache{client: client, ttl: ttl}
}

// Get retrieves a cached candle window. Any cache error is a miss.
func (c *CandleCache) Get(ctx context.Context, pair, granularity string) ([]exchange.Candle, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	raw, err := c.client.Get(cacheCtx, c.key(pair, granularity)).Result()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("pair", pair).Msg("Candle cache get failed, treating as miss")
		}
		return nil, false
	}

	var candles []exchange.Candle
	if err := json.Unmarshal([]byte(raw), &candles); err != nil {
		log.Debug().Err(err).Str("pair", pair).Msg("Candle cache entry corrupt, treating as miss")
		return nil, false
	}
	return candles, true
}

// Put stores a candle window. Failures are logged and ignored.
func (c *CandleCache) Put(ctx context.Context, pair, granularity string, candles []exchange.Candle) {
	if c == nil || c.client == nil {
		return
	}

	data, err := json.Marshal(candles)
	if err != nil {
		return
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	if err := c.client.Set(cacheCtx, c.key(pair, granularity), data, c.ttl).Err(); err != nil {
		log.Debug().Err(err).Str("pair", pair).Msg("Candle cache put failed")
	}
}

func (c *CandleCache) key(pair, granularity string) string {
	return fmt.Sprintf("driftbot:candles:%s:%s", pair, granularity)
}

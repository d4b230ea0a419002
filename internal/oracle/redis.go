package oracle

import (
	fpmath "PerpPool/internal/math"
	"PerpPool/internal/state"
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultPricesKey is the Redis hash holding asset -> decimal price.
const DefaultPricesKey = "perp:prices"

// RedisSource polls a Redis hash and copies its prices into a Feed.
// An asset whose field is removed from the hash reads as unpriced.
type RedisSource struct {
	rdb      *redis.Client
	key      string
	feed     *Feed
	interval time.Duration
	logger   zerolog.Logger
}

func NewRedisSource(rdb *redis.Client, key string, feed *Feed, interval time.Duration, logger zerolog.Logger) *RedisSource {
	if key == "" {
		key = DefaultPricesKey
	}
	return &RedisSource{
		rdb:      rdb,
		key:      key,
		feed:     feed,
		interval: interval,
		logger:   logger,
	}
}

// Poll reads the hash once. Fields for unknown assets or with unparseable
// values are skipped and counted in the returned error.
func (r *RedisSource) Poll(ctx context.Context) error {
	fields, err := r.rdb.HGetAll(ctx, r.key).Result()
	if err != nil {
		return fmt.Errorf("redis HGETALL %s: %w", r.key, err)
	}

	var bad int
	for asset, raw := range fields {
		price, err := fpmath.ParsePrice(raw)
		if err != nil {
			bad++
			r.logger.Warn().Str("asset", asset).Str("value", raw).Err(err).Msg("unparseable price")
			continue
		}
		if err := r.feed.Set(state.AssetID(asset), price); err != nil {
			bad++
			r.logger.Debug().Str("asset", asset).Msg("ignoring price for asset outside universe")
		}
	}
	for _, asset := range r.feed.universe.Assets() {
		if _, ok := fields[string(asset)]; !ok {
			r.feed.Clear(asset)
		}
	}
	if bad > 0 {
		return fmt.Errorf("redis prices: %d of %d fields rejected", bad, len(fields))
	}
	return nil
}

// Run polls until ctx is cancelled.
func (r *RedisSource) Run(ctx context.Context) error {
	if err := r.Poll(ctx); err != nil {
		r.logger.Error().Err(err).Msg("initial price poll failed")
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Poll(ctx); err != nil {
				r.logger.Error().Err(err).Msg("price poll failed")
			}
		}
	}
}

// Ping is a readiness probe.
func (r *RedisSource) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/HSouheill/barrim_referral/models"
)

const overviewKeyPrefix = "referral:analytics:overview:"

// OverviewCache stores computed analytics overviews. Lookups that fail are
// misses; the aggregator never depends on the cache being reachable.
type OverviewCache interface {
	Get(ctx context.Context, window models.DateRange) (*models.AnalyticsOverview, bool)
	Set(ctx context.Context, overview *models.AnalyticsOverview, ttl time.Duration)
}

// RedisOverviewCache keeps overviews as JSON strings in Redis.
type RedisOverviewCache struct {
	client *redis.Client
	log    *zap.Logger
}

// NewRedisOverviewCache returns nil when client is nil so callers can run
// without Redis.
func NewRedisOverviewCache(client *redis.Client, log *zap.Logger) *RedisOverviewCache {
	if client == nil {
		return nil
	}
	return &RedisOverviewCache{client: client, log: log.Named("cache")}
}

func overviewKey(window models.DateRange) string {
	return overviewKeyPrefix + window.From.UTC().Format(time.RFC3339) + ":" + window.To.UTC().Format(time.RFC3339)
}

func (c *RedisOverviewCache) Get(ctx context.Context, window models.DateRange) (*models.AnalyticsOverview, bool) {
	if c == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, overviewKey(window)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.log.Warn("overview cache read failed", zap.Error(err))
		return nil, false
	}
	var ov models.AnalyticsOverview
	if err := json.Unmarshal(raw, &ov); err != nil {
		c.log.Warn("overview cache entry unreadable", zap.Error(err))
		return nil, false
	}
	return &ov, true
}

func (c *RedisOverviewCache) Set(ctx context.Context, overview *models.AnalyticsOverview, ttl time.Duration) {
	if c == nil || overview == nil {
		return
	}
	raw, err := json.Marshal(overview)
	if err != nil {
		c.log.Warn("overview not cacheable", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, overviewKey(overview.Range), raw, ttl).Err(); err != nil {
		c.log.Warn("overview cache write failed", zap.Error(err))
	}
}

// Package cache provides the Redis market data cache and the pub/sub market
// data feed for the risk service
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Aidin1998/vaultrisk/internal/risk"
)

var (
	// ErrCacheMiss indicates a cache miss
	ErrCacheMiss = errors.New("cache miss")
)

// MarketDataCache keeps the latest market data per chain in Redis so a
// restarted monitor can be warmed up.
type MarketDataCache struct {
	client redis.Cmdable
	log    *zap.Logger
	prefix string
	ttl    time.Duration
}

// NewMarketDataCache creates a new Redis-based market data cache
func NewMarketDataCache(client redis.Cmdable, log *zap.Logger, prefix string, ttl time.Duration) *MarketDataCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &MarketDataCache{
		client: client,
		log:    log,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Get retrieves cached market data for a chain
func (c *MarketDataCache) Get(ctx context.Context, chainID string) (*risk.MarketData, error) {
	key := c.marketKey(chainID)

	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrCacheMiss
		}
		c.log.Error("failed to get market data from cache", zap.Error(err), zap.String("key", key))
		return nil, err
	}

	var market risk.MarketData
	if err := json.Unmarshal([]byte(data), &market); err != nil {
		c.log.Error("failed to unmarshal cached market data", zap.Error(err), zap.String("key", key))
		return nil, err
	}
	return &market, nil
}

// Set stores market data with the cache TTL
func (c *MarketDataCache) Set(ctx context.Context, market risk.MarketData) error {
	key := c.marketKey(market.ChainID)

	data, err := json.Marshal(market)
	if err != nil {
		c.log.Error("failed to marshal market data for cache", zap.Error(err))
		return err
	}

	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.Error("failed to set market data in cache", zap.Error(err), zap.String("key", key))
		return err
	}
	return nil
}

// Invalidate removes a chain's market data from cache
func (c *MarketDataCache) Invalidate(ctx context.Context, chainID string) error {
	key := c.marketKey(chainID)

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.log.Error("failed to invalidate market data cache", zap.Error(err), zap.String("key", key))
		return err
	}
	return nil
}

// LoadAll fetches the cached market data of the given chains in one round
// trip. Chains without an entry are skipped; undecodable entries are logged
// and skipped.
func (c *MarketDataCache) LoadAll(ctx context.Context, chainIDs []string) ([]risk.MarketData, error) {
	if len(chainIDs) == 0 {
		return nil, nil
	}
	keys := make([]string, len(chainIDs))
	for i, id := range chainIDs {
		keys[i] = c.marketKey(id)
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.log.Error("failed to load market data from cache", zap.Error(err))
		return nil, err
	}

	out := make([]risk.MarketData, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var market risk.MarketData
		if err := json.Unmarshal([]byte(raw), &market); err != nil {
			c.log.Warn("skipping undecodable cached market data", zap.String("key", keys[i]), zap.Error(err))
			continue
		}
		out = append(out, market)
	}
	return out, nil
}

func (c *MarketDataCache) marketKey(chainID string) string {
	return fmt.Sprintf("%s:market:%s", c.prefix, chainID)
}

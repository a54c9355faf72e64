package market

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const pricePrefix = "tradeform:price"

// PriceCache stores recently fetched prices and swap rates in Redis.
type PriceCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPriceCache(client *redis.Client, ttl time.Duration) *PriceCache {
	return &PriceCache{client: client, ttl: ttl}
}

func ptokenPriceKey(key TradeTokenKey) string {
	return fmt.Sprintf("%s:ptoken:%s", pricePrefix, key.String())
}

func swapRateKey(from, to Asset) string {
	return fmt.Sprintf("%s:swap:%s:%s", pricePrefix, from, to)
}

// Get returns the cached value and whether it was present and well formed.
func (c *PriceCache) Get(ctx context.Context, key string) (decimal.Decimal, bool, error) {
	data, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	v, err := decimal.NewFromString(data)
	if err != nil {
		return decimal.Zero, false, nil
	}
	return v, true, nil
}

func (c *PriceCache) Set(ctx context.Context, key string, v decimal.Decimal) error {
	if err := c.client.Set(ctx, key, v.String(), c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Invalidate drops every cached price, used when the provider reports a change.
func (c *PriceCache) Invalidate(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, pricePrefix+":*", 100).Iterator()
	pipe := c.client.Pipeline()
	n := 0
	for iter.Next(ctx) {
		pipe.Del(ctx, iter.Val())
		n++
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	if n == 0 {
		return nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis invalidate: %w", err)
	}
	return nil
}

// CachedProvider fronts the price and swap-rate lookups of a Provider with a
// PriceCache. Cache failures fall through to the wrapped provider.
type CachedProvider struct {
	Provider
	cache *PriceCache
	log   *zap.SugaredLogger
}

func NewCachedProvider(p Provider, cache *PriceCache, log *zap.SugaredLogger) *CachedProvider {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &CachedProvider{Provider: p, cache: cache, log: log}
}

func (c *CachedProvider) GetPTokenPrice(ctx context.Context, key TradeTokenKey) (decimal.Decimal, error) {
	return c.cached(ctx, ptokenPriceKey(key), func() (decimal.Decimal, error) {
		return c.Provider.GetPTokenPrice(ctx, key)
	})
}

func (c *CachedProvider) GetSwapRate(ctx context.Context, from, to Asset) (decimal.Decimal, error) {
	return c.cached(ctx, swapRateKey(from, to), func() (decimal.Decimal, error) {
		return c.Provider.GetSwapRate(ctx, from, to)
	})
}

func (c *CachedProvider) cached(ctx context.Context, key string, fetch func() (decimal.Decimal, error)) (decimal.Decimal, error) {
	if v, ok, err := c.cache.Get(ctx, key); err != nil {
		c.log.Warnw("price_cache_get_failed", "key", key, "err", err)
	} else if ok {
		return v, nil
	}

	v, err := fetch()
	if err != nil {
		return decimal.Zero, err
	}
	if err := c.cache.Set(ctx, key, v); err != nil {
		c.log.Warnw("price_cache_set_failed", "key", key, "err", err)
	}
	return v, nil
}

// Subscribe wraps fn so cached prices are dropped before subscribers refresh.
func (c *CachedProvider) Subscribe(fn func(ProviderChanged)) (Subscription, error) {
	return c.Provider.Subscribe(func(ev ProviderChanged) {
		if err := c.cache.Invalidate(context.Background()); err != nil {
			c.log.Warnw("price_cache_invalidate_failed", "err", err)
		}
		fn(ev)
	})
}

package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Cache keeps recent quotes in redis. A nil *Cache is a no-op so the
// service runs without redis.
type Cache struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

func NewCache(client redis.Cmdable, ttl time.Duration, logger *zap.Logger) *Cache {
	if client == nil {
		return nil
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

func PriceKey(symbol string) string {
	return fmt.Sprintf("price:v1:%s:usd", symbol)
}

func FXKey(currency string) string {
	return fmt.Sprintf("fx:v1:usd:%s", currency)
}

// Get returns the cached value and whether it was present.
func (c *Cache) Get(ctx context.Context, key string) (decimal.Decimal, bool) {
	if c == nil {
		return decimal.Zero, false
	}
	raw, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("price cache read failed", zap.String("key", key), zap.Error(err))
		}
		return decimal.Zero, false
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return v, true
}

func (c *Cache) Set(ctx context.Context, key string, v decimal.Decimal) {
	if c == nil {
		return
	}
	if err := c.client.Set(ctx, key, v.String(), c.ttl).Err(); err != nil {
		c.logger.Warn("price cache write failed", zap.String("key", key), zap.Error(err))
	}
}

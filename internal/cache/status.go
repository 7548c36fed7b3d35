// Package cache holds the public order-status cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyOrderStatus = "order_status:%s"

// TTLStatusCache bounds staleness when an invalidation is lost.
var TTLStatusCache = 5 * time.Minute

type StatusCache interface {
	Get(ctx context.Context, orderID string, dst interface{}) (bool, error)
	Set(ctx context.Context, orderID string, value interface{}) error
	Invalidate(ctx context.Context, orderID string) error
}

type RedisStatusCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
}

func NewRedisStatusCache(rdb *redis.Client) *RedisStatusCache {
	return &RedisStatusCache{rdb: rdb, ttl: TTLStatusCache}
}

func statusKey(orderID string) string {
	return fmt.Sprintf(keyOrderStatus, orderID)
}

func (c *RedisStatusCache) Get(ctx context.Context, orderID string, dst interface{}) (bool, error) {
	raw, err := c.rdb.Get(ctx, statusKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisStatusCache) Set(ctx context.Context, orderID string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, statusKey(orderID), raw, c.ttl).Err()
}

func (c *RedisStatusCache) Invalidate(ctx context.Context, orderID string) error {
	return c.rdb.Del(ctx, statusKey(orderID)).Err()
}

// NopStatusCache is used when Redis is not configured.
type NopStatusCache struct{}

func (NopStatusCache) Get(context.Context, string, interface{}) (bool, error) { return false, nil }
func (NopStatusCache) Set(context.Context, string, interface{}) error         { return nil }
func (NopStatusCache) Invalidate(context.Context, string) error               { return nil }

package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/hxuan190/hybrid-router/internal/domain"
)

const DefaultRedisTTL = 24 * time.Hour

// RedisFillCache shares the fill read path across router instances.
type RedisFillCache struct {
	client     *redis.Client
	expiration time.Duration
}

func NewRedisFillCache(client *redis.Client, expiration time.Duration) *RedisFillCache {
	if expiration <= 0 {
		expiration = DefaultRedisTTL
	}
	return &RedisFillCache{client: client, expiration: expiration}
}

func (c *RedisFillCache) fillKey(id string) string {
	return fmt.Sprintf("hybrid:fill:%s", id)
}

func (c *RedisFillCache) Put(ctx context.Context, rec *domain.FillRecord) error {
	data, err := sonic.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal fill record: %w", err)
	}
	if err := c.client.Set(ctx, c.fillKey(rec.Fill.ID), data, c.expiration).Err(); err != nil {
		return fmt.Errorf("failed to cache fill %s: %w", rec.Fill.ID, err)
	}
	return nil
}

func (c *RedisFillCache) Get(ctx context.Context, id string) (*domain.FillRecord, bool, error) {
	data, err := c.client.Get(ctx, c.fillKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read fill %s from cache: %w", id, err)
	}
	var rec domain.FillRecord
	if err := sonic.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached fill %s: %w", id, err)
	}
	return &rec, true, nil
}

func (c *RedisFillCache) Invalidate(ctx context.Context, id string) error {
	return c.client.Del(ctx, c.fillKey(id)).Err()
}

func (c *RedisFillCache) Close() error {
	return c.client.Close()
}

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache provides typed caching utilities
// ⭐ SSOT: 캐시 헬퍼는 여기서만
type Cache struct {
	client *Client
	prefix string
}

// NewCache creates a new cache helper
func NewCache(client *Client, prefix string) *Cache {
	return &Cache{
		client: client,
		prefix: prefix,
	}
}

// Enabled reports whether the cache is backed by a live redis
func (c *Cache) Enabled() bool {
	return c.client.Enabled()
}

func (c *Cache) key(key string) string {
	return fmt.Sprintf("%s:cache:%s", c.prefix, key)
}

// Get retrieves a cached value
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !c.client.Enabled() {
		return false, nil
	}

	data, err := c.client.Redis().Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("cache get failed: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("cache unmarshal failed: %w", err)
	}

	return true, nil
}

// Set stores a value in cache with TTL
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !c.client.Enabled() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal failed: %w", err)
	}

	return c.client.Redis().Set(ctx, c.key(key), data, ttl).Err()
}

// Delete removes a cached value
func (c *Cache) Delete(ctx context.Context, key string) error {
	if !c.client.Enabled() {
		return nil
	}

	return c.client.Redis().Del(ctx, c.key(key)).Err()
}

// Generation returns the current generation counter for key (0 if unset)
func (c *Cache) Generation(ctx context.Context, key string) (int64, error) {
	if !c.client.Enabled() {
		return 0, nil
	}

	gen, err := c.client.Redis().Get(ctx, c.key(key)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("cache generation read failed: %w", err)
	}
	return gen, nil
}

// Bump advances the generation counter for key, orphaning entries keyed by older generations
func (c *Cache) Bump(ctx context.Context, key string) (int64, error) {
	if !c.client.Enabled() {
		return 0, nil
	}

	gen, err := c.client.Redis().Incr(ctx, c.key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("cache generation bump failed: %w", err)
	}
	return gen, nil
}

// Predefined TTLs
const (
	TTLShort  = 1 * time.Minute  // 업로드 직후 조회
	TTLMedium = 10 * time.Minute // 월간 통계 페이지
	TTLLong   = 1 * time.Hour    // 전략 정보
)

// Common cache key generators

// StrategyGenerationKey holds the per-strategy statistics generation
func StrategyGenerationKey(strategyID int64) string {
	return fmt.Sprintf("strategy:%d:gen", strategyID)
}

// MonthlyPageKey identifies one cached monthly statistics page
func MonthlyPageKey(strategyID, generation int64, page, pageSize int) string {
	return fmt.Sprintf("strategy:%d:g%d:monthly:%d:%d", strategyID, generation, page, pageSize)
}

// MonthlyKey identifies one cached monthly aggregate
func MonthlyKey(strategyID, generation int64, month string) string {
	return fmt.Sprintf("strategy:%d:g%d:month:%s", strategyID, generation, month)
}

package stats

import (
	"context"
	"time"

	"github.com/wonny/stratstats/internal/contracts"
	"github.com/wonny/stratstats/pkg/logger"
	"github.com/wonny/stratstats/pkg/redis"
)

// MonthlyCache caches monthly reads in redis.
// Entries are keyed by a per-strategy generation; every committed write bumps
// the generation so stale pages are never served.
type MonthlyCache struct {
	cache *redis.Cache
	ttl   time.Duration
	log   *logger.Logger
}

// NewMonthlyCache wraps a redis cache helper
func NewMonthlyCache(cache *redis.Cache, ttl time.Duration, log *logger.Logger) *MonthlyCache {
	if ttl <= 0 {
		ttl = redis.TTLMedium
	}
	return &MonthlyCache{cache: cache, ttl: ttl, log: log.Component("stats.cache")}
}

func (c *MonthlyCache) enabled() bool {
	return c != nil && c.cache.Enabled()
}

// Generation is the cache generation a read was served under.
// A miss must be stored under the same generation it was read at, so a
// write that commits in between orphans the entry instead of adopting it.
type Generation struct {
	strategyID int64
	value      int64
	valid      bool
}

func (c *MonthlyCache) generation(ctx context.Context, strategyID int64) Generation {
	gen, err := c.cache.Generation(ctx, redis.StrategyGenerationKey(strategyID))
	if err != nil {
		c.log.WithError(err).WithField("strategy_id", strategyID).Warn("cache generation unavailable")
		return Generation{}
	}
	return Generation{strategyID: strategyID, value: gen, valid: true}
}

// GetPage returns a cached page, if any, and the generation to store a miss under
func (c *MonthlyCache) GetPage(ctx context.Context, strategyID int64, page, pageSize int) (*contracts.MonthlyPage, Generation, bool) {
	if !c.enabled() {
		return nil, Generation{}, false
	}
	gen := c.generation(ctx, strategyID)
	if !gen.valid {
		return nil, gen, false
	}

	var cached contracts.MonthlyPage
	found, err := c.cache.Get(ctx, redis.MonthlyPageKey(strategyID, gen.value, page, pageSize), &cached)
	if err != nil {
		c.log.WithError(err).Warn("monthly page cache read failed")
		return nil, gen, false
	}
	if !found {
		return nil, gen, false
	}
	return &cached, gen, true
}

// PutPage stores a page under the generation its read started at
func (c *MonthlyCache) PutPage(ctx context.Context, gen Generation, p *contracts.MonthlyPage) {
	if !c.enabled() || !gen.valid {
		return
	}
	if err := c.cache.Set(ctx, redis.MonthlyPageKey(gen.strategyID, gen.value, p.Page, p.PageSize), p, c.ttl); err != nil {
		c.log.WithError(err).Warn("monthly page cache write failed")
	}
}

// GetMonth returns a cached aggregate, if any, and the generation to store a miss under
func (c *MonthlyCache) GetMonth(ctx context.Context, strategyID int64, month contracts.Month) (*contracts.MonthlyAggregate, Generation, bool) {
	if !c.enabled() {
		return nil, Generation{}, false
	}
	gen := c.generation(ctx, strategyID)
	if !gen.valid {
		return nil, gen, false
	}

	var cached contracts.MonthlyAggregate
	found, err := c.cache.Get(ctx, redis.MonthlyKey(strategyID, gen.value, month.String()), &cached)
	if err != nil || !found {
		return nil, gen, false
	}
	return &cached, gen, true
}

// PutMonth stores an aggregate under the generation its read started at
func (c *MonthlyCache) PutMonth(ctx context.Context, gen Generation, agg *contracts.MonthlyAggregate) {
	if !c.enabled() || !gen.valid || gen.strategyID != agg.StrategyID {
		return
	}
	if err := c.cache.Set(ctx, redis.MonthlyKey(agg.StrategyID, gen.value, agg.AnalysisMonth.String()), agg, c.ttl); err != nil {
		c.log.WithError(err).Warn("monthly cache write failed")
	}
}

// Invalidate orphans every cached entry of the strategy
func (c *MonthlyCache) Invalidate(ctx context.Context, strategyID int64) {
	if !c.enabled() {
		return
	}
	if _, err := c.cache.Bump(ctx, redis.StrategyGenerationKey(strategyID)); err != nil {
		c.log.WithError(err).WithField("strategy_id", strategyID).Error("cache invalidation failed")
	}
}

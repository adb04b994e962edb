package directory

import (
	"context"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/wonny/stratstats/internal/contracts"
)

// Cached memoizes successful lookups in process; misses and errors are not cached
type Cached struct {
	next  contracts.StrategyDirectory
	cache *gocache.Cache
}

// NewCached wraps a directory with a TTL cache
func NewCached(next contracts.StrategyDirectory, ttl time.Duration) *Cached {
	return &Cached{
		next:  next,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// Lookup implements contracts.StrategyDirectory
func (c *Cached) Lookup(ctx context.Context, strategyID int64) (*contracts.StrategyRef, error) {
	key := strconv.FormatInt(strategyID, 10)
	if v, found := c.cache.Get(key); found {
		ref := *v.(*contracts.StrategyRef)
		return &ref, nil
	}

	ref, err := c.next.Lookup(ctx, strategyID)
	if err != nil {
		return nil, err
	}

	stored := *ref
	c.cache.Set(key, &stored, gocache.DefaultExpiration)
	return ref, nil
}

// Invalidate drops a cached strategy (ownership change, deletion)
func (c *Cached) Invalidate(strategyID int64) {
	c.cache.Delete(strconv.FormatInt(strategyID, 10))
}

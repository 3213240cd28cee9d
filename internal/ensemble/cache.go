package ensemble

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// resultCache memoizes ranked search output for a short TTL. Usage-feedback
// writes bypass it entirely; a stale ranking for a few seconds is fine, a
// stale confidence mutation is not.
type resultCache struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

func newResultCache(ttl time.Duration) (*resultCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1 << 24, // 16 MiB of cached result sets
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("ensemble: create cache: %w", err)
	}
	return &resultCache{cache: cache, ttl: ttl}, nil
}

func cacheKey(q Query) string {
	return fmt.Sprintf("%s|%s|%d|%t|%t", q.Query, q.Project, q.Limit, q.UseGraph, q.Rerank)
}

func (c *resultCache) get(q Query) (*Result, bool) {
	v, ok := c.cache.Get(cacheKey(q))
	if !ok {
		return nil, false
	}
	res, ok := v.(*Result)
	return res, ok
}

func (c *resultCache) set(q Query, res *Result) {
	cost := int64(1)
	for _, r := range res.Results {
		cost += int64(len(r.Content))
	}
	c.cache.SetWithTTL(cacheKey(q), res, cost, c.ttl)
}

func (c *resultCache) close() {
	c.cache.Close()
}

package threat

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"vigilanteye/metrics"
)

// LRUCache is an in-process Oracle decorator. Only conclusive verdicts are
// stored so that a transient outage is retried on the next lookup.
type LRUCache struct {
	next  Oracle
	cache *expirable.LRU[string, Verdict]
}

// NewLRUCache wraps next with a size-bounded, TTL-expiring cache.
func NewLRUCache(next Oracle, size int, ttl time.Duration) *LRUCache {
	if size <= 0 {
		size = 1024
	}
	return &LRUCache{
		next:  next,
		cache: expirable.NewLRU[string, Verdict](size, nil, ttl),
	}
}

// Check serves ip from the cache or delegates to the wrapped oracle.
func (c *LRUCache) Check(ctx context.Context, ip string) Verdict {
	if ip == "" {
		return c.next.Check(ctx, ip)
	}
	if v, ok := c.cache.Get(ip); ok {
		metrics.ReputationCacheRequests.WithLabelValues("lru", "hit").Inc()
		return v
	}
	metrics.ReputationCacheRequests.WithLabelValues("lru", "miss").Inc()

	v := c.next.Check(ctx, ip)
	if v.Status != StatusInconclusive {
		c.cache.Add(ip, v)
	}
	return v
}

// Len reports the number of cached verdicts.
func (c *LRUCache) Len() int {
	return c.cache.Len()
}

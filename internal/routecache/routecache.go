// Package routecache memoizes routing decisions by normalized request
// signature so near-identical requests skip re-scoring.
//
// Entries never expire within a process lifetime. Concurrent writers for the
// same key race benignly: the last writer wins.
package routecache

import (
	"crypto/sha256"
	"fmt"
	"math"
	"sync/atomic"

	gocache "github.com/patrickmn/go-cache"
)

// tokenBucketSize groups estimated token counts into coarse buckets.
const tokenBucketSize = 250

// Signature is the normalized shape of a request used as the cache key.
type Signature struct {
	TaskType       string
	Complexity     string
	MinQuality     float64
	TokenCount     float64
	Strategy       string
	MaxCostUSD     float64 // 0 when no ceiling
	BudgetPressure bool
}

// Key hashes the bucketed signature.
func (s Signature) Key() string {
	costBucket := "none"
	if s.MaxCostUSD > 0 {
		// Bucket ceilings by order of magnitude and leading digit.
		exp := math.Floor(math.Log10(s.MaxCostUSD))
		lead := math.Floor(s.MaxCostUSD / math.Pow(10, exp))
		costBucket = fmt.Sprintf("%.0fe%.0f", lead, exp)
	}
	raw := fmt.Sprintf("%s|%s|q%d|t%d|%s|c%s|p%t",
		s.TaskType, s.Complexity, int(math.Floor(s.MinQuality)),
		int64(s.TokenCount)/tokenBucketSize, s.Strategy, costBucket, s.BudgetPressure)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum[:16])
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// Cache is a concurrent, non-expiring map of signature key to decision.
type Cache[V any] struct {
	items  *gocache.Cache
	hits   atomic.Int64
	misses atomic.Int64
}

// New creates an empty cache.
func New[V any]() *Cache[V] {
	return &Cache[V]{items: gocache.New(gocache.NoExpiration, 0)}
}

// Get returns the decision stored for key.
func (c *Cache[V]) Get(key string) (V, bool) {
	if v, ok := c.items.Get(key); ok {
		if decision, ok := v.(V); ok {
			c.hits.Add(1)
			return decision, true
		}
	}
	c.misses.Add(1)
	var zero V
	return zero, false
}

// Set stores a decision for key, replacing any previous one.
func (c *Cache[V]) Set(key string, decision V) {
	c.items.Set(key, decision, gocache.NoExpiration)
}

// Delete drops the decision for key.
func (c *Cache[V]) Delete(key string) {
	c.items.Delete(key)
}

// Flush removes every entry. Counters are kept.
func (c *Cache[V]) Flush() {
	c.items.Flush()
}

// Stats returns a snapshot of hit/miss counters and size.
func (c *Cache[V]) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.items.ItemCount(),
	}
}

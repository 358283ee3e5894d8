package routecache

import (
	"sync"
	"testing"
)

func TestSignatureKey_Buckets(t *testing.T) {
	base := Signature{TaskType: "strategic_analysis", Complexity: "complex", MinQuality: 9.0, TokenCount: 100, Strategy: "balance"}

	near := base
	near.TokenCount = 200
	near.MinQuality = 9.4
	if base.Key() != near.Key() {
		t.Error("expected requests in the same buckets to share a key")
	}

	far := base
	far.TokenCount = 600
	if base.Key() == far.Key() {
		t.Error("expected different token buckets to produce different keys")
	}

	otherStrategy := base
	otherStrategy.Strategy = "minimize_cost"
	if base.Key() == otherStrategy.Key() {
		t.Error("expected strategy to be part of the key")
	}

	withCeiling := base
	withCeiling.MaxCostUSD = 0.05
	if base.Key() == withCeiling.Key() {
		t.Error("expected cost ceiling to be part of the key")
	}

	pressured := base
	pressured.BudgetPressure = true
	if base.Key() == pressured.Key() {
		t.Error("expected budget pressure to be part of the key")
	}
}

func TestCache_GetSet(t *testing.T) {
	c := New[string]()
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected miss on empty cache")
	}
	c.Set("k", "claude")
	v, ok := c.Get("k")
	if !ok || v != "claude" {
		t.Fatalf("expected hit with claude, got %q %v", v, ok)
	}

	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 || s.Entries != 1 {
		t.Errorf("unexpected stats %+v", s)
	}

	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Error("expected miss after delete")
	}

	c.Set("a", "x")
	c.Flush()
	if c.Stats().Entries != 0 {
		t.Error("expected empty cache after flush")
	}
}

func TestCache_ConcurrentWriters(t *testing.T) {
	c := New[int]()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Set("shared", i)
			c.Get("shared")
		}(i)
	}
	wg.Wait()
	if _, ok := c.Get("shared"); !ok {
		t.Error("expected a value after concurrent writes")
	}
}

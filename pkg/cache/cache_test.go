package cache

import (
	"testing"
	"time"
)

func TestExactHitReturnsStoredValue(t *testing.T) {
	c := New(10, time.Hour, 0.9)
	c.Set("sort a list", nil, "def sort(xs): return sorted(xs)", 0)

	val, ok := c.Get("sort a list", nil)
	if !ok {
		t.Fatal("expected exact hit")
	}
	if val != "def sort(xs): return sorted(xs)" {
		t.Fatalf("unexpected cached value: %v", val)
	}
	if c.Stats().ExactHits != 1 {
		t.Fatalf("expected 1 exact hit, got %+v", c.Stats())
	}
}

func TestSemanticHitOnSimilarEmbedding(t *testing.T) {
	c := New(10, time.Hour, 0.95)
	c.Set("sort a list of ints", []float64{1, 0, 0}, "sorted result A", 0)

	val, ok := c.Get("sort a list of integers", []float64{0.999, 0.01, 0})
	if !ok {
		t.Fatal("expected a semantic hit for a near-identical embedding")
	}
	if val != "sorted result A" {
		t.Fatalf("unexpected cached value: %v", val)
	}
	if c.Stats().SemanticHits != 1 {
		t.Fatalf("expected 1 semantic hit, got %+v", c.Stats())
	}
}

func TestMissOnDissimilarEmbedding(t *testing.T) {
	c := New(10, time.Hour, 0.95)
	c.Set("sort a list", []float64{1, 0, 0}, "A", 0)

	_, ok := c.Get("completely unrelated prompt", []float64{0, 1, 0})
	if ok {
		t.Fatal("expected a miss for an orthogonal embedding")
	}
}

func TestExpiredEntryIsNotReturned(t *testing.T) {
	c := New(10, time.Hour, 0.9)
	c.Set("x", nil, "y", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get("x", nil)
	if ok {
		t.Fatal("expected expired entry to be treated as a miss")
	}
}

func TestEvictsLeastRecentlyUsedWhenFull(t *testing.T) {
	c := New(2, time.Hour, 0.9)
	c.Set("a", nil, 1, 0)
	c.Set("b", nil, 2, 0)
	c.Get("a", nil) // touch a, making b the LRU entry
	c.Set("c", nil, 3, 0)

	if _, ok := c.Get("b", nil); ok {
		t.Fatal("expected b to have been evicted as least recently used")
	}
	if _, ok := c.Get("a", nil); !ok {
		t.Fatal("expected a to survive eviction")
	}
	if _, ok := c.Get("c", nil); !ok {
		t.Fatal("expected c to have been inserted")
	}
}

func TestHitRateComputation(t *testing.T) {
	s := Stats{ExactHits: 3, SemanticHits: 1, Misses: 1}
	if got, want := s.HitRate(), 0.8; got != want {
		t.Fatalf("expected hit rate %.2f, got %.2f", want, got)
	}
}

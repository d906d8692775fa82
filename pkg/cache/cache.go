// Copyright 2025 Certen Protocol
//
// Package cache implements the semantic generation cache: an exact-hash
// fast path plus a cosine-similarity fallback over caller-supplied
// embeddings, with LRU eviction and TTL expiry swept on a cron schedule.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Entry is one cached generation result.
type Entry struct {
	Key       string
	Prompt    string
	Embedding []float64
	Value     any
	CreatedAt time.Time
	ExpiresAt time.Time
	LastHitAt time.Time
	HitCount  int
}

func (e *Entry) isExpired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

func (e *Entry) touch(now time.Time) {
	e.LastHitAt = now
	e.HitCount++
}

// Stats is a snapshot of cache effectiveness, exposed for observability.
type Stats struct {
	Entries      int
	ExactHits    int
	SemanticHits int
	Misses       int
	Evictions    int
}

// HitRate is (exact + semantic hits) / total lookups, or 0 with no lookups.
func (s Stats) HitRate() float64 {
	total := s.ExactHits + s.SemanticHits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.ExactHits+s.SemanticHits) / float64(total)
}

// Cache is a bounded, TTL-expiring, semantically-deduplicated result cache.
// Safe for concurrent use.
type Cache struct {
	mu sync.Mutex

	maxEntries int
	defaultTTL time.Duration
	similarity float64

	entries map[string]*list.Element // key -> LRU element
	order   *list.List               // front = most recently used

	stats Stats
	cron  *cron.Cron
}

// New returns a Cache bounded to maxEntries, with results expiring after
// defaultTTL and semantic hits requiring at least similarityThreshold
// cosine similarity.
func New(maxEntries int, defaultTTL time.Duration, similarityThreshold float64) *Cache {
	return &Cache{
		maxEntries: maxEntries,
		defaultTTL: defaultTTL,
		similarity: similarityThreshold,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
	}
}

// StartSweeper schedules background expiry cleanup on spec (a robfig/cron
// schedule string, e.g. "@every 1m"). Call Stop to halt it.
func (c *Cache) StartSweeper(spec string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		c.cron.Stop()
	}
	c.cron = cron.New()
	if _, err := c.cron.AddFunc(spec, c.sweepExpired); err != nil {
		return err
	}
	c.cron.Start()
	return nil
}

// Stop halts the background sweeper, if running.
func (c *Cache) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		c.cron.Stop()
		c.cron = nil
	}
}

// Key derives the exact-match cache key for prompt.
func Key(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

// Get looks up prompt, first by exact key and then, if embedding is
// non-nil, by cosine similarity against every live entry. It returns the
// cached value and whether a result (exact or semantic) was found.
func (c *Cache) Get(prompt string, embedding []float64) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	key := Key(prompt)

	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*Entry)
		if entry.isExpired(now) {
			c.removeLocked(el)
		} else {
			entry.touch(now)
			c.order.MoveToFront(el)
			c.stats.ExactHits++
			return entry.Value, true
		}
	}

	if embedding != nil {
		if entry, el := c.bestSemanticMatchLocked(embedding, now); entry != nil {
			entry.touch(now)
			c.order.MoveToFront(el)
			c.stats.SemanticHits++
			return entry.Value, true
		}
	}

	c.stats.Misses++
	return nil, false
}

func (c *Cache) bestSemanticMatchLocked(embedding []float64, now time.Time) (*Entry, *list.Element) {
	var best *Entry
	var bestEl *list.Element
	bestScore := c.similarity

	for el := c.order.Front(); el != nil; el = el.Next() {
		entry := el.Value.(*Entry)
		if entry.isExpired(now) || entry.Embedding == nil {
			continue
		}
		score := cosineSimilarity(embedding, entry.Embedding)
		if score >= bestScore {
			best, bestEl, bestScore = entry, el, score
		}
	}
	return best, bestEl
}

// Set stores value under prompt's exact key (and embedding, for semantic
// lookups), evicting the least-recently-used entry if the cache is full.
func (c *Cache) Set(prompt string, embedding []float64, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := time.Now()
	key := Key(prompt)

	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}

	entry := &Entry{
		Key:       key,
		Prompt:    prompt,
		Embedding: embedding,
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		LastHitAt: now,
	}
	el := c.order.PushFront(entry)
	c.entries[key] = el

	for c.maxEntries > 0 && len(c.entries) > c.maxEntries {
		c.evictOneLocked()
	}
}

func (c *Cache) evictOneLocked() {
	back := c.order.Back()
	if back == nil {
		return
	}
	c.removeLocked(back)
	c.stats.Evictions++
}

func (c *Cache) removeLocked(el *list.Element) {
	entry := el.Value.(*Entry)
	delete(c.entries, entry.Key)
	c.order.Remove(el)
}

func (c *Cache) sweepExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()

	var next *list.Element
	for el := c.order.Front(); el != nil; el = next {
		next = el.Next()
		if el.Value.(*Entry).isExpired(now) {
			c.removeLocked(el)
		}
	}
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.entries)
	return s
}

// DebugJSON renders every live entry's metadata (not its cached value) as
// JSON, for operator inspection.
func (c *Cache) DebugJSON() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	type row struct {
		Key       string    `json:"key"`
		Prompt    string    `json:"prompt"`
		CreatedAt time.Time `json:"created_at"`
		ExpiresAt time.Time `json:"expires_at"`
		HitCount  int       `json:"hit_count"`
	}
	rows := make([]row, 0, len(c.entries))
	for el := c.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*Entry)
		rows = append(rows, row{Key: e.Key, Prompt: e.Prompt, CreatedAt: e.CreatedAt, ExpiresAt: e.ExpiresAt, HitCount: e.HitCount})
	}
	return json.MarshalIndent(rows, "", "  ")
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

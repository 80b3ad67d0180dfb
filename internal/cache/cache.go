// Package cache is an in-memory response cache consulted before each
// generator call. Exact matches are keyed by (model, prompt hash, context
// hash); a near-match pass may serve the most similar same-model entry.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// DefaultTTL is how long an entry stays servable. Entries past the TTL are
// treated as absent and evicted lazily on the next lookup.
const DefaultTTL = time.Hour

// DefaultCapacity bounds the number of retained entries; the oldest entries
// are evicted first.
const DefaultCapacity = 256

// DefaultSimilarityThreshold gates the near-match path.
const DefaultSimilarityThreshold = 0.85

// SimilarityFunc scores two prompts in [0, 1]. Pluggable strategy; the
// default is token-set Jaccard similarity.
type SimilarityFunc func(a, b string) float64

// Entry is one cached response.
type Entry struct {
	Key            string
	Model          string
	Response       string
	OriginalPrompt string
	Timestamp      time.Time
}

// Cache is safe for concurrent use across execution contexts.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	ttl        time.Duration
	capacity   int
	threshold  float64
	similarity SimilarityFunc
	now        func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides the entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithCapacity overrides the entry cap.
func WithCapacity(n int) Option {
	return func(c *Cache) { c.capacity = n }
}

// WithThreshold overrides the near-match cutoff, keeping the default
// similarity strategy.
func WithThreshold(t float64) Option {
	return func(c *Cache) { c.threshold = t }
}

// WithSimilarity replaces the near-match strategy.
func WithSimilarity(fn SimilarityFunc, threshold float64) Option {
	return func(c *Cache) {
		c.similarity = fn
		c.threshold = threshold
	}
}

// New creates a cache with the default TTL, capacity, and similarity.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:    make(map[string]*Entry),
		ttl:        DefaultTTL,
		capacity:   DefaultCapacity,
		threshold:  DefaultSimilarityThreshold,
		similarity: jaccard,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key derives the exact-match key for a request.
func Key(model, prompt, contextHash string) string {
	h := sha256.Sum256([]byte(model + "\x00" + hashText(prompt) + "\x00" + contextHash))
	return hex.EncodeToString(h[:])
}

// HashContext hashes an assembled context window for keying.
func HashContext(window string) string {
	return hashText(window)
}

// Get returns the exact-match response for the request, if present and fresh.
func (c *Cache) Get(model, prompt, contextHash string) (string, bool) {
	key := Key(model, prompt, contextHash)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.expired(entry) {
		delete(c.entries, key)
		return "", false
	}
	return entry.Response, true
}

// GetSimilar scans same-model entries and returns the response of the most
// similar fresh entry above the threshold. Used only when Get misses.
func (c *Cache) GetSimilar(model, prompt string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var best *Entry
	bestScore := 0.0
	for key, entry := range c.entries {
		if entry.Model != model {
			continue
		}
		if c.expired(entry) {
			delete(c.entries, key)
			continue
		}
		if score := c.similarity(prompt, entry.OriginalPrompt); score >= c.threshold && score > bestScore {
			best = entry
			bestScore = score
		}
	}
	if best == nil {
		return "", false
	}
	return best.Response, true
}

// Put stores a response, evicting the oldest entries past capacity.
func (c *Cache) Put(model, prompt, contextHash, response string) {
	key := Key(model, prompt, contextHash)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &Entry{
		Key:            key,
		Model:          model,
		Response:       response,
		OriginalPrompt: prompt,
		Timestamp:      c.now(),
	}
	for len(c.entries) > c.capacity {
		c.evictOldestLocked()
	}
}

// Len reports the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) expired(e *Entry) bool {
	return c.now().Sub(e.Timestamp) > c.ttl
}

func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.Timestamp.Before(oldest) {
			oldestKey = key
			oldest = entry.Timestamp
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func hashText(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

// jaccard is the default similarity: intersection over union of the two
// prompts' lowercase token sets.
func jaccard(a, b string) float64 {
	sa := tokens(a)
	sb := tokens(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	inter := 0
	for tok := range sa {
		if sb[tok] {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

func tokens(s string) map[string]bool {
	set := make(map[string]bool)
	word := make([]rune, 0, 16)
	flush := func() {
		if len(word) > 0 {
			set[string(word)] = true
			word = word[:0]
		}
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			word = append(word, r)
		case r >= 'A' && r <= 'Z':
			word = append(word, r+('a'-'A'))
		default:
			flush()
		}
	}
	flush()
	return set
}

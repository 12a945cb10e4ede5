package embedding

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "contex_embedding_cache_hits_total",
		Help: "Embedding cache hits.",
	})
	cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "contex_embedding_cache_misses_total",
		Help: "Embedding cache misses.",
	})
	encodeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "contex_embedding_encode_duration_seconds",
		Help:    "Time spent in the underlying model on a cache miss.",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(cacheHits, cacheMisses, encodeDuration)
}

// CachedModel wraps a Model with an LRU cache keyed by the SHA-256 of the
// input text. Encode is deterministic and referentially transparent, so a
// cache hit is indistinguishable from a fresh call — only latency differs.
type CachedModel struct {
	model Model
	cache *lru.Cache[string, []float32]
}

// NewCachedModel builds a CachedModel with the given capacity. A capacity
// of 0 falls back to the spec default of 10,000 entries.
func NewCachedModel(model Model, capacity int) (*CachedModel, error) {
	if capacity <= 0 {
		capacity = 10000
	}
	cache, err := lru.New[string, []float32](capacity)
	if err != nil {
		return nil, err
	}
	return &CachedModel{model: model, cache: cache}, nil
}

// Encode returns the cached vector for text, computing and storing it on
// a miss. The returned slice must not be mutated by the caller.
func (c *CachedModel) Encode(ctx context.Context, text string) ([]float32, error) {
	key := SHA256Hex(text)
	if vec, ok := c.cache.Get(key); ok {
		cacheHits.Inc()
		return vec, nil
	}
	cacheMisses.Inc()

	timer := prometheus.NewTimer(encodeDuration)
	vec, err := c.model.Encode(ctx, text)
	timer.ObserveDuration()
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

// Len reports the current number of cached entries, for tests and metrics.
func (c *CachedModel) Len() int { return c.cache.Len() }

// Purge clears the cache.
func (c *CachedModel) Purge() { c.cache.Purge() }

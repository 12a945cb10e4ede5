package dispatcher

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimitConfig tunes the per-destination webhook send throttle, which
// protects a degraded or slow destination independently of the circuit
// breaker: the breaker reacts to failures, the limiter bounds send rate
// even while every request is still succeeding.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultRateLimitConfig matches the webhook retry cadence: at most a
// handful of in-flight sends per destination per second.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 5, Burst: 10}
}

// limiterRegistry lazily creates and caches one rate.Limiter per
// destination, mirroring circuitRegistry's per-URL lifecycle.
type limiterRegistry struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	cfg      RateLimitConfig
}

func newLimiterRegistry(cfg RateLimitConfig) *limiterRegistry {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRateLimitConfig().RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond * 2)
	}
	return &limiterRegistry{limiters: make(map[string]*rate.Limiter), cfg: cfg}
}

func (r *limiterRegistry) get(destination string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[destination]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(r.cfg.RequestsPerSecond), r.cfg.Burst)
	r.limiters[destination] = l
	return l
}

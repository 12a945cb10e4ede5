package dispatcher

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// CircuitConfig tunes the per-destination circuit breaker.
type CircuitConfig struct {
	FailureThreshold uint32
	CooldownSeconds  int
}

// circuitRegistry lazily creates and caches one gobreaker.CircuitBreaker
// per destination (webhook URL), so a flaky agent's endpoint can trip
// independently of every other agent's.
type circuitRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	cfg      CircuitConfig
}

func newCircuitRegistry(cfg CircuitConfig) *circuitRegistry {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.CooldownSeconds == 0 {
		cfg.CooldownSeconds = 60
	}
	return &circuitRegistry{breakers: make(map[string]*gobreaker.CircuitBreaker), cfg: cfg}
}

func (r *circuitRegistry) get(destination string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[destination]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        destination,
		MaxRequests: 1,
		Timeout:     time.Duration(r.cfg.CooldownSeconds) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= r.cfg.FailureThreshold
		},
	})
	r.breakers[destination] = cb
	return cb
}

// State reports the current state of destination's breaker, for
// observability; an unknown destination reports closed (never tripped).
func (r *circuitRegistry) State(destination string) gobreaker.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[destination]; ok {
		return cb.State()
	}
	return gobreaker.StateClosed
}

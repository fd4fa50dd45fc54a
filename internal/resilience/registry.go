package resilience

import (
	"sync"
	"time"

	"conviction-engine/internal/models"
)

// Registry holds one circuit breaker per source.
type Registry struct {
	mu       sync.RWMutex
	breakers map[models.Source]*CircuitBreaker
	config   BreakerConfig
	clock    func() time.Time
}

// NewRegistry creates a registry whose breakers share config and clock.
func NewRegistry(config BreakerConfig, clock func() time.Time) *Registry {
	return &Registry{
		breakers: make(map[models.Source]*CircuitBreaker),
		config:   config,
		clock:    clock,
	}
}

// For returns or creates the breaker of a source.
func (r *Registry) For(src models.Source) *CircuitBreaker {
	r.mu.RLock()
	if cb, ok := r.breakers[src]; ok {
		r.mu.RUnlock()
		return cb
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if cb, ok := r.breakers[src]; ok {
		return cb
	}

	cb := NewCircuitBreaker(string(src), r.config, r.clock)
	r.breakers[src] = cb
	return cb
}

// AllStats returns statistics for every known breaker in canonical source order.
func (r *Registry) AllStats() []BreakerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make([]BreakerStats, 0, len(r.breakers))
	for _, src := range models.AllSources() {
		if cb, ok := r.breakers[src]; ok {
			stats = append(stats, cb.Stats())
		}
	}
	return stats
}

// ResetAll closes every breaker.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cb := range r.breakers {
		cb.Reset()
	}
}

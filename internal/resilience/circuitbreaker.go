// Package resilience isolates failing sources so one broken provider cannot
// stall every aggregation cycle.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"    // Normal operation
	CircuitOpen     CircuitState = "OPEN"      // Failing, calls are skipped
	CircuitHalfOpen CircuitState = "HALF_OPEN" // One trial call allowed
)

// BreakerConfig holds circuit breaker configuration.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening
	FailureThreshold int
	// Cooldown is how long the circuit stays open before a trial call
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the stock breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		Cooldown:         15 * time.Minute,
	}
}

// ErrCircuitOpen is returned when the circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker implements the circuit breaker pattern for one source.
type CircuitBreaker struct {
	name   string
	config BreakerConfig
	clock  func() time.Time

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	trial    bool // a half-open trial call is in flight

	// Metrics
	totalCalls    int64
	totalFailures int64
	totalRejected int64
	totalTimeouts int64
	lastError     string
}

// NewCircuitBreaker creates a new circuit breaker. A nil clock uses time.Now.
func NewCircuitBreaker(name string, config BreakerConfig, clock func() time.Time) *CircuitBreaker {
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 1
	}
	if clock == nil {
		clock = time.Now
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		clock:  clock,
		state:  CircuitClosed,
	}
}

// Call runs fn under breaker protection. fn runs in its own goroutine so a
// callee that ignores ctx cannot hold the caller past its deadline.
func Call[T any](ctx context.Context, cb *CircuitBreaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	if err := cb.allow(); err != nil {
		return zero, err
	}

	type result struct {
		value T
		err   error
	}

	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		cb.record(r.err, false)
		if r.err != nil {
			return zero, r.err
		}
		return r.value, nil
	case <-ctx.Done():
		cb.record(ctx.Err(), true)
		return zero, ctx.Err()
	}
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.clock().Sub(cb.openedAt) < cb.config.Cooldown {
			cb.totalRejected++
			return ErrCircuitOpen
		}
		cb.state = CircuitHalfOpen
		cb.trial = true
	case CircuitHalfOpen:
		if cb.trial {
			cb.totalRejected++
			return ErrCircuitOpen
		}
		cb.trial = true
	}

	cb.totalCalls++
	return nil
}

func (cb *CircuitBreaker) record(err error, timedOut bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.trial = false
	if timedOut {
		cb.totalTimeouts++
	}
	if err == nil {
		cb.state = CircuitClosed
		cb.failures = 0
		return
	}

	cb.totalFailures++
	cb.lastError = err.Error()
	cb.failures++
	if cb.state == CircuitHalfOpen || cb.failures >= cb.config.FailureThreshold {
		cb.state = CircuitOpen
		cb.openedAt = cb.clock()
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the circuit breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Stats returns circuit breaker statistics.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return BreakerStats{
		Name:            cb.name,
		State:           cb.state,
		TotalCalls:      cb.totalCalls,
		TotalFailures:   cb.totalFailures,
		TotalRejected:   cb.totalRejected,
		TotalTimeouts:   cb.totalTimeouts,
		CurrentFailures: cb.failures,
		OpenedAt:        cb.openedAt,
		LastError:       cb.lastError,
	}
}

// Reset closes the circuit.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = CircuitClosed
	cb.failures = 0
	cb.trial = false
}

// BreakerStats holds circuit breaker statistics.
type BreakerStats struct {
	Name            string       `json:"name"`
	State           CircuitState `json:"state"`
	TotalCalls      int64        `json:"total_calls"`
	TotalFailures   int64        `json:"total_failures"`
	TotalRejected   int64        `json:"total_rejected"`
	TotalTimeouts   int64        `json:"total_timeouts"`
	CurrentFailures int          `json:"current_failures"`
	OpenedAt        time.Time    `json:"opened_at,omitempty"`
	LastError       string       `json:"last_error,omitempty"`
}

// FailureRate returns the failure rate as a percentage.
func (s BreakerStats) FailureRate() float64 {
	if s.TotalCalls == 0 {
		return 0
	}
	return float64(s.TotalFailures) / float64(s.TotalCalls) * 100
}

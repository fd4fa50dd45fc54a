package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"conviction-engine/internal/models"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

var errProvider = errors.New("provider down")

func fail(context.Context) (int, error)    { return 0, errProvider }
func succeed(context.Context) (int, error) { return 1, nil }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("insider", BreakerConfig{FailureThreshold: 2, Cooldown: time.Minute}, clock.Now)
	ctx := context.Background()

	if _, err := Call(ctx, cb, fail); !errors.Is(err, errProvider) {
		t.Fatalf("first call: got %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("state after one failure = %s, want CLOSED", cb.State())
	}

	Call(ctx, cb, fail)
	if cb.State() != CircuitOpen {
		t.Fatalf("state after threshold = %s, want OPEN", cb.State())
	}

	if _, err := Call(ctx, cb, succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("open circuit should reject, got %v", err)
	}

	stats := cb.Stats()
	if stats.TotalCalls != 2 || stats.TotalFailures != 2 || stats.TotalRejected != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.LastError != errProvider.Error() {
		t.Errorf("last error = %q", stats.LastError)
	}
	if stats.FailureRate() != 100 {
		t.Errorf("failure rate = %v", stats.FailureRate())
	}
}

func TestBreakerHalfOpenTrial(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("ark", BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute}, clock.Now)
	ctx := context.Background()

	Call(ctx, cb, fail)
	clock.Advance(2 * time.Minute)

	// Failed trial reopens immediately.
	Call(ctx, cb, fail)
	if cb.State() != CircuitOpen {
		t.Fatalf("state after failed trial = %s, want OPEN", cb.State())
	}

	clock.Advance(2 * time.Minute)
	v, err := Call(ctx, cb, succeed)
	if err != nil || v != 1 {
		t.Fatalf("trial call = %d, %v", v, err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("state after good trial = %s, want CLOSED", cb.State())
	}
}

func TestBreakerReturnsOnContextDeadline(t *testing.T) {
	cb := NewCircuitBreaker("dark_pool", DefaultBreakerConfig(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	_, err := Call(ctx, cb, func(context.Context) (int, error) {
		<-release // ignores ctx
		return 0, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("call did not return at the deadline")
	}
	if cb.Stats().TotalTimeouts != 1 {
		t.Errorf("timeouts = %d, want 1", cb.Stats().TotalTimeouts)
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(BreakerConfig{FailureThreshold: 1, Cooldown: time.Hour}, nil)

	a := reg.For(models.SourceInsider)
	if reg.For(models.SourceInsider) != a {
		t.Fatal("registry should return the same breaker per source")
	}
	reg.For(models.SourceCongress)

	Call(context.Background(), a, fail)
	stats := reg.AllStats()
	if len(stats) != 2 || stats[0].Name != "congress" || stats[1].Name != "insider" {
		t.Fatalf("stats not in canonical order: %+v", stats)
	}
	if stats[1].State != CircuitOpen {
		t.Errorf("insider state = %s, want OPEN", stats[1].State)
	}

	reg.ResetAll()
	if a.State() != CircuitClosed {
		t.Errorf("state after reset = %s", a.State())
	}
}

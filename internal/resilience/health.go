package resilience

import (
	"context"
	"fmt"
	"time"

	"conviction-engine/internal/snapshot"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "HEALTHY"
	HealthStatusDegraded  HealthStatus = "DEGRADED"
	HealthStatusUnhealthy HealthStatus = "UNHEALTHY"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Name    string        `json:"name"`
	Status  HealthStatus  `json:"status"`
	Message string        `json:"message"`
	Latency time.Duration `json:"latency,omitempty"`
}

// HealthCheck checks a single component.
type HealthCheck func(ctx context.Context) ComponentHealth

// SystemHealth is the combined result of every registered check.
type SystemHealth struct {
	Status     HealthStatus      `json:"status"`
	CheckedAt  time.Time         `json:"checked_at"`
	Components []ComponentHealth `json:"components"`
}

// HealthMonitor runs registered checks on demand.
type HealthMonitor struct {
	names  []string
	checks map[string]HealthCheck
	clock  func() time.Time
}

// NewHealthMonitor creates an empty monitor. A nil clock uses time.Now.
func NewHealthMonitor(clock func() time.Time) *HealthMonitor {
	if clock == nil {
		clock = time.Now
	}
	return &HealthMonitor{checks: make(map[string]HealthCheck), clock: clock}
}

// RegisterComponent adds a check. Checks run in registration order.
func (m *HealthMonitor) RegisterComponent(name string, check HealthCheck) {
	if _, ok := m.checks[name]; !ok {
		m.names = append(m.names, name)
	}
	m.checks[name] = check
}

// Check runs every check. The overall status is the worst component status.
func (m *HealthMonitor) Check(ctx context.Context) SystemHealth {
	health := SystemHealth{
		Status:     HealthStatusHealthy,
		CheckedAt:  m.clock().UTC(),
		Components: make([]ComponentHealth, 0, len(m.names)),
	}
	for _, name := range m.names {
		c := m.checks[name](ctx)
		c.Name = name
		health.Components = append(health.Components, c)
		health.Status = worse(health.Status, c.Status)
	}
	return health
}

func worse(a, b HealthStatus) HealthStatus {
	rank := map[HealthStatus]int{HealthStatusHealthy: 0, HealthStatusDegraded: 1, HealthStatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// DatabaseHealthCheck creates a health check for the snapshot database.
func DatabaseHealthCheck(ping func(ctx context.Context) error) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		start := time.Now()
		err := ping(ctx)
		health := ComponentHealth{Latency: time.Since(start)}

		if err != nil {
			health.Status = HealthStatusUnhealthy
			health.Message = fmt.Sprintf("Database ping failed: %v", err)
			return health
		}
		if health.Latency > 100*time.Millisecond {
			health.Status = HealthStatusDegraded
			health.Message = fmt.Sprintf("Database slow: %v", health.Latency)
			return health
		}
		health.Status = HealthStatusHealthy
		health.Message = "Database healthy"
		return health
	}
}

// SourcesHealthCheck reports degraded while any source breaker is open.
func SourcesHealthCheck(reg *Registry) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		var open []string
		for _, s := range reg.AllStats() {
			if s.State == CircuitOpen {
				open = append(open, s.Name)
			}
		}
		if len(open) > 0 {
			return ComponentHealth{Status: HealthStatusDegraded, Message: fmt.Sprintf("Sources skipped: %v", open)}
		}
		return ComponentHealth{Status: HealthStatusHealthy, Message: "All sources available"}
	}
}

// SnapshotHealthCheck reports unhealthy without a snapshot and degraded when
// the snapshot is stale or older than maxAge.
func SnapshotHealthCheck(current func() (*snapshot.Snapshot, error), maxAge time.Duration, clock func() time.Time) HealthCheck {
	if clock == nil {
		clock = time.Now
	}
	return func(ctx context.Context) ComponentHealth {
		snap, err := current()
		if err != nil {
			return ComponentHealth{Status: HealthStatusUnhealthy, Message: err.Error()}
		}
		age := clock().Sub(snap.CommittedAt)
		switch {
		case snap.Stale:
			return ComponentHealth{Status: HealthStatusDegraded, Message: fmt.Sprintf("Version %d is stale: %s", snap.Version, snap.LastError)}
		case maxAge > 0 && age > maxAge:
			return ComponentHealth{Status: HealthStatusDegraded, Message: fmt.Sprintf("Version %d is %v old", snap.Version, age.Round(time.Second))}
		}
		return ComponentHealth{Status: HealthStatusHealthy, Message: fmt.Sprintf("Version %d committed", snap.Version)}
	}
}

// Package store provides snapshot persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"conviction-engine/internal/models"
	"conviction-engine/internal/snapshot"
)

// SnapshotStore persists committed snapshots and per-source run history so
// a restarted engine can serve the last result before its first cycle ends.
type SnapshotStore interface {
	// Snapshots
	SaveSnapshot(ctx context.Context, snap *snapshot.Snapshot) error
	LoadLatest(ctx context.Context) (*snapshot.Snapshot, error)
	ListSnapshots(ctx context.Context, limit int) ([]SnapshotInfo, error)
	Prune(ctx context.Context, keep int) (int64, error)

	// Source runs
	RecordSourceRuns(ctx context.Context, runs []SourceRun) error
	GetSourceRuns(ctx context.Context, filter RunFilter) ([]SourceRun, error)
	GetLastSuccess(ctx context.Context, src models.Source) (time.Time, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// SnapshotInfo is the header of a stored snapshot.
type SnapshotInfo struct {
	Version     uint64    `json:"version"`
	CycleID     uuid.UUID `json:"cycle_id"`
	Profile     string    `json:"profile"`
	AsOf        time.Time `json:"as_of"`
	CommittedAt time.Time `json:"committed_at"`
	Tickers     int       `json:"tickers"`
	Events      int       `json:"events"`
}

// SourceRun is the outcome of one source within one cycle.
type SourceRun struct {
	CycleID  uuid.UUID     `json:"cycle_id"`
	Source   models.Source `json:"source"`
	OK       bool          `json:"ok"`
	Reused   bool          `json:"reused,omitempty"`
	Events   int           `json:"events"`
	Dropped  int           `json:"dropped"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	RunAt    time.Time     `json:"run_at"`
}

// RunFilter represents filters for querying source runs.
type RunFilter struct {
	Source     models.Source
	FailedOnly bool
	Since      time.Time
	Limit      int
}

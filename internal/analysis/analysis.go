// Package analysis defines the contracts between the normalizer, scorer and
// aggregator stages of the conviction engine.
package analysis

import (
	"context"
	"time"

	"conviction-engine/internal/models"
)

// Collector fetches raw provider records of one shape. Collectors live
// outside the engine; only this boundary is specified here.
type Collector[R any] interface {
	Collect(ctx context.Context) ([]R, error)
}

// CollectorFunc is a function adapter for Collector.
type CollectorFunc[R any] func(ctx context.Context) ([]R, error)

func (f CollectorFunc[R]) Collect(ctx context.Context) ([]R, error) {
	return f(ctx)
}

// Normalizer converts one source's raw records into SignalEvents.
type Normalizer interface {
	Source() models.Source
	// Normalize fetches and parses the source. A returned error means the
	// whole source is unavailable; bad individual records are only counted.
	Normalize(ctx context.Context, now time.Time) (Batch, error)
}

// Batch is the output of one source run.
type Batch struct {
	Source  models.Source
	Events  []models.SignalEvent
	Total   int // raw records seen
	Dropped int // raw records or events rejected as malformed
}

// WeightProfile combines per-source scores into a base score.
type WeightProfile interface {
	Name() string
	Combine(scores map[models.Source]float64) float64
}

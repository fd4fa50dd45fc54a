// Package pipeline runs aggregation cycles: every source is normalized and
// scored in isolation, the results are fused per ticker, and the outcome is
// published as a new snapshot.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"conviction-engine/internal/analysis"
	"conviction-engine/internal/analysis/confluence"
	"conviction-engine/internal/analysis/scoring"
	"conviction-engine/internal/config"
	apperrors "conviction-engine/internal/errors"
	"conviction-engine/internal/logging"
	"conviction-engine/internal/models"
	"conviction-engine/internal/resilience"
	"conviction-engine/internal/snapshot"
	"conviction-engine/internal/store"
)

// Stale source policies.
const (
	PolicyDrop     = "drop"
	PolicyLastGood = "last_good"
)

const persistTimeout = 10 * time.Second

// Persister is the part of the snapshot store a cycle writes to.
type Persister interface {
	SaveSnapshot(ctx context.Context, snap *snapshot.Snapshot) error
	RecordSourceRuns(ctx context.Context, runs []store.SourceRun) error
}

// Options configures a pipeline.
type Options struct {
	CycleTimeout      time.Duration
	SourceTimeout     time.Duration
	StaleSourcePolicy string
	Breaker           resilience.BreakerConfig
	Retry             resilience.RetryConfig
	Conventions       scoring.Conventions
	Aggregation       confluence.Config
	Profile           analysis.WeightProfile
}

// OptionsFromConfig builds pipeline options from the application config.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	profile, err := scoring.ProfileByName(cfg.Engine.Profile, cfg.CrisisWeights())
	if err != nil {
		return Options{}, err
	}
	squeeze, err := models.ParseDirection(cfg.ShortInterest.SqueezeDirection)
	if err != nil {
		return Options{}, err
	}
	return Options{
		CycleTimeout:      cfg.Engine.CycleTimeout,
		SourceTimeout:     cfg.Engine.SourceTimeout,
		StaleSourcePolicy: cfg.Engine.StaleSourcePolicy,
		Breaker: resilience.BreakerConfig{
			FailureThreshold: cfg.Engine.BreakerFailures,
			Cooldown:         cfg.Engine.BreakerCooldown,
		},
		Retry: resilience.RetryConfig{
			MaxAttempts:   cfg.Engine.RetryAttempts,
			InitialDelay:  cfg.Engine.RetryDelay,
			MaxDelay:      cfg.Engine.SourceTimeout,
			BackoffFactor: 2,
		},
		Conventions: scoring.NewConventions(squeeze),
		Aggregation: confluence.ConfigFrom(cfg),
		Profile:     profile,
	}, nil
}

// Pipeline owns the normalizers and publishes into a snapshot store.
// Cycles never overlap.
type Pipeline struct {
	opts        Options
	normalizers []analysis.Normalizer
	scorer      *scoring.Scorer
	aggregator  *confluence.Aggregator
	breakers    *resilience.Registry
	snapshots   *snapshot.Store
	persist     Persister
	logger      zerolog.Logger

	mu       sync.Mutex
	lastGood map[models.Source]analysis.Batch
}

// New creates a pipeline. Normalizers run in the order given; the breaker
// clock may be nil.
func New(opts Options, normalizers []analysis.Normalizer, snapshots *snapshot.Store, clock func() time.Time, logger zerolog.Logger) *Pipeline {
	if opts.Profile == nil {
		opts.Profile = scoring.GeneralProfile{}
	}
	if opts.StaleSourcePolicy == "" {
		opts.StaleSourcePolicy = PolicyDrop
	}
	return &Pipeline{
		opts:        opts,
		normalizers: normalizers,
		scorer:      scoring.NewScorer(opts.Conventions, logger),
		aggregator:  confluence.NewAggregator(opts.Aggregation),
		breakers:    resilience.NewRegistry(opts.Breaker, clock),
		snapshots:   snapshots,
		logger:      logger,
		lastGood:    make(map[models.Source]analysis.Batch),
	}
}

// WithPersistence makes every published snapshot durable. Persistence
// failures are logged and never fail a cycle.
func (p *Pipeline) WithPersistence(persist Persister) *Pipeline {
	p.persist = persist
	return p
}

// Breakers exposes the per-source circuit breakers.
func (p *Pipeline) Breakers() *resilience.Registry {
	return p.breakers
}

// Snapshots returns the store the pipeline publishes to.
func (p *Pipeline) Snapshots() *snapshot.Store {
	return p.snapshots
}

// sourceResult is the outcome of one source within a cycle.
type sourceResult struct {
	source   models.Source
	batch    analysis.Batch
	err      error
	duration time.Duration
}

// RunCycle runs one aggregation cycle as of now and publishes the result.
// When the cycle times out the previous snapshot stays current and is
// marked stale. When no source produces data nothing is published.
func (p *Pipeline) RunCycle(ctx context.Context, now time.Time) (*snapshot.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	cycleID := uuid.New()
	logger := logging.WithCycle(p.logger, cycleID.String())

	parent := ctx
	ctx, cancel := context.WithTimeout(logging.WithLogger(ctx, logger), p.opts.CycleTimeout)
	defer cancel()

	results := p.collect(ctx, now)
	if err := parent.Err(); err != nil {
		return nil, p.abandon(logger, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, p.fail(ctx, logger, fmt.Errorf("%w: %w", apperrors.ErrAggregationTimeout, err))
	}

	meta := snapshot.CycleMeta{Dropped: make(map[models.Source]int)}
	var events []models.SignalEvent
	runs := make([]store.SourceRun, 0, len(results))

	for _, r := range results {
		run := store.SourceRun{
			CycleID:  cycleID,
			Source:   r.source,
			Duration: r.duration,
			RunAt:    now.UTC(),
		}

		if r.err != nil {
			err := apperrors.NewSourceError(string(r.source), "normalize", r.err)
			logging.LogSourceResult(logger, string(r.source), 0, 0, r.duration, err)
			meta.SourcesUnavailable = append(meta.SourcesUnavailable, r.source)
			run.Error = err.Error()

			if good, ok := p.lastGood[r.source]; ok && p.opts.StaleSourcePolicy == PolicyLastGood {
				meta.SourcesReused = append(meta.SourcesReused, r.source)
				events = append(events, good.Events...)
				run.OK, run.Reused, run.Events = true, true, len(good.Events)
				logger.Info().Str("source", string(r.source)).Int("events", len(good.Events)).Msg("Reusing last good batch")
			}
			runs = append(runs, run)
			continue
		}

		logging.LogSourceResult(logger, string(r.source), len(r.batch.Events), r.batch.Dropped, r.duration, nil)
		meta.SourcesOK = append(meta.SourcesOK, r.source)
		meta.Dropped[r.source] = r.batch.Dropped
		events = append(events, r.batch.Events...)
		p.lastGood[r.source] = r.batch

		run.OK, run.Events, run.Dropped = true, len(r.batch.Events), r.batch.Dropped
		runs = append(runs, run)
	}

	if len(meta.SourcesOK) == 0 {
		p.record(ctx, logger, runs)
		return nil, p.fail(ctx, logger, apperrors.ErrNoSources)
	}

	convictions, err := p.aggregator.Aggregate(ctx, events, now, p.opts.Profile)
	if err != nil {
		p.record(ctx, logger, runs)
		if perr := parent.Err(); perr != nil {
			return nil, p.abandon(logger, perr)
		}
		return nil, p.fail(ctx, logger, err)
	}

	sort.Slice(events, func(i, j int) bool { return events[i].Less(events[j]) })
	meta.EventCount = len(events)
	meta.Duration = time.Since(start)

	published := p.snapshots.Publish(&snapshot.Snapshot{
		CycleID:     cycleID,
		Profile:     p.opts.Profile.Name(),
		AsOf:        now.UTC(),
		Convictions: convictions,
		Events:      events,
		Meta:        meta,
	})

	p.record(ctx, logger, runs)
	p.save(ctx, logger, published)

	logging.LogCycle(logger, published.Version, len(convictions), len(events), len(meta.SourcesUnavailable), meta.Duration)
	return published, nil
}

// collect runs every normalizer concurrently, each under its own timeout
// and circuit breaker. Transient failures are retried inside the breaker.
// Results are in normalizer order.
func (p *Pipeline) collect(ctx context.Context, now time.Time) []sourceResult {
	results := make([]sourceResult, len(p.normalizers))

	var g errgroup.Group
	for i, n := range p.normalizers {
		g.Go(func() error {
			srcCtx, cancel := context.WithTimeout(ctx, p.opts.SourceTimeout)
			defer cancel()

			started := time.Now()
			batch, err := resilience.Call(srcCtx, p.breakers.For(n.Source()), func(ctx context.Context) (analysis.Batch, error) {
				return resilience.Retry(ctx, p.opts.Retry, func(ctx context.Context) (analysis.Batch, error) {
					return n.Normalize(ctx, now)
				})
			})
			if err == nil {
				batch = p.scorer.Score(batch)
			}

			results[i] = sourceResult{
				source:   n.Source(),
				batch:    batch,
				err:      err,
				duration: time.Since(started),
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// fail marks the current snapshot stale and returns err.
// abandon ends a cycle the caller cancelled. The current snapshot stays
// fresh because no source or aggregation step failed.
func (p *Pipeline) abandon(logger zerolog.Logger, err error) error {
	logger.Info().Err(err).Msg("Aggregation cycle cancelled")
	return fmt.Errorf("cycle cancelled: %w", err)
}

func (p *Pipeline) fail(ctx context.Context, logger zerolog.Logger, err error) error {
	p.snapshots.MarkFailed(err)
	logger.Error().Err(err).Msg("Aggregation cycle failed")

	if current, cerr := p.snapshots.Current(); cerr == nil {
		p.save(ctx, logger, current)
	}
	return err
}

func (p *Pipeline) save(ctx context.Context, logger zerolog.Logger, snap *snapshot.Snapshot) {
	if p.persist == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := p.persist.SaveSnapshot(ctx, snap); err != nil {
		logger.Warn().Err(err).Uint64("version", snap.Version).Msg("Failed to persist snapshot")
	}
}

func (p *Pipeline) record(ctx context.Context, logger zerolog.Logger, runs []store.SourceRun) {
	if p.persist == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := p.persist.RecordSourceRuns(ctx, runs); err != nil {
		logger.Warn().Err(err).Msg("Failed to record source runs")
	}
}

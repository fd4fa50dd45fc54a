package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conviction-engine/internal/analysis"
	"conviction-engine/internal/config"
	apperrors "conviction-engine/internal/errors"
	"conviction-engine/internal/models"
	"conviction-engine/internal/resilience"
	"conviction-engine/internal/snapshot"
	"conviction-engine/internal/store"
)

var (
	testNow     = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	errProvider = errors.New("provider down")
)

type fakeNormalizer struct {
	src models.Source

	mu       sync.Mutex
	events   []models.SignalEvent
	err      error
	block    bool
	calls    int
	failures int // leading calls that fail before err applies
}

func (f *fakeNormalizer) Source() models.Source { return f.src }

func (f *fakeNormalizer) Normalize(ctx context.Context, now time.Time) (analysis.Batch, error) {
	f.mu.Lock()
	f.calls++
	block, err := f.block, f.err
	if f.failures > 0 {
		f.failures--
		err = errProvider
	}
	events := append([]models.SignalEvent(nil), f.events...)
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return analysis.Batch{}, ctx.Err()
	}
	if err != nil {
		return analysis.Batch{}, err
	}
	return analysis.Batch{Source: f.src, Events: events, Total: len(events) + 1, Dropped: 1}, nil
}

func (f *fakeNormalizer) set(err error, block bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err, f.block = err, block
}

func (f *fakeNormalizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func buy(src models.Source, ticker string, score float64) models.SignalEvent {
	return models.SignalEvent{
		ID:          string(src) + "-" + ticker,
		Ticker:      ticker,
		Source:      src,
		Action:      models.ActionBuy,
		EventDate:   testNow.AddDate(0, 0, -2),
		SubScore:    score,
		Description: "purchase",
	}
}

type fakePersister struct {
	mu    sync.Mutex
	saved []snapshot.Snapshot
	runs  []store.SourceRun
}

func (f *fakePersister) SaveSnapshot(_ context.Context, snap *snapshot.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, *snap)
	return nil
}

func (f *fakePersister) RecordSourceRuns(_ context.Context, runs []store.SourceRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, runs...)
	return nil
}

func testOptions(t *testing.T) Options {
	t.Helper()
	opts, err := OptionsFromConfig(config.Default())
	require.NoError(t, err)
	opts.CycleTimeout = 5 * time.Second
	opts.SourceTimeout = time.Second
	opts.Breaker = resilience.BreakerConfig{FailureThreshold: 10, Cooldown: time.Hour}
	opts.Retry = resilience.RetryConfig{}
	return opts
}

func newPipeline(t *testing.T, opts Options, normalizers ...analysis.Normalizer) *Pipeline {
	t.Helper()
	return New(opts, normalizers, snapshot.NewStore(), nil, zerolog.Nop())
}

func TestRunCyclePublishes(t *testing.T) {
	congress := &fakeNormalizer{src: models.SourceCongress, events: []models.SignalEvent{buy(models.SourceCongress, "XYZ", 70)}}
	insider := &fakeNormalizer{src: models.SourceInsider, events: []models.SignalEvent{
		buy(models.SourceInsider, "XYZ", 60),
		buy(models.SourceInsider, "ABC", 30),
	}}
	p := newPipeline(t, testOptions(t), congress, insider)

	snap, err := p.RunCycle(context.Background(), testNow)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), snap.Version)
	assert.Equal(t, "general", snap.Profile)
	assert.True(t, snap.AsOf.Equal(testNow))
	assert.Equal(t, []models.Source{models.SourceCongress, models.SourceInsider}, snap.Meta.SourcesOK)
	assert.Empty(t, snap.Meta.SourcesUnavailable)
	assert.Equal(t, 1, snap.Meta.Dropped[models.SourceInsider])
	assert.Equal(t, 3, snap.Meta.EventCount)

	require.Len(t, snap.Convictions, 2)
	xyz, ok := snap.Conviction("XYZ")
	require.True(t, ok)
	assert.Equal(t, 2, xyz.SourceCount)
	assert.Equal(t, models.Bullish, xyz.Direction)
	assert.Equal(t, 20.0, xyz.MultiSourceBonus)

	// Events are stored scored and in canonical order.
	for _, ev := range snap.Events {
		assert.Equal(t, models.Bullish, ev.Direction)
		assert.NotEmpty(t, ev.Significance)
	}
	assert.Equal(t, models.SourceCongress, snap.Events[0].Source)

	current, err := p.Snapshots().Current()
	require.NoError(t, err)
	assert.Same(t, snap, current)
}

func TestRunCycleFailedSourceIsUnavailable(t *testing.T) {
	congress := &fakeNormalizer{src: models.SourceCongress, events: []models.SignalEvent{buy(models.SourceCongress, "XYZ", 70)}}
	ark := &fakeNormalizer{src: models.SourceARK, err: errProvider}
	p := newPipeline(t, testOptions(t), congress, ark)

	snap, err := p.RunCycle(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, []models.Source{models.SourceCongress}, snap.Meta.SourcesOK)
	assert.Equal(t, []models.Source{models.SourceARK}, snap.Meta.SourcesUnavailable)
	require.Len(t, snap.Convictions, 1)
	assert.Equal(t, 1, snap.Convictions[0].SourceCount)
}

func TestRunCycleNoSources(t *testing.T) {
	congress := &fakeNormalizer{src: models.SourceCongress, err: errProvider}
	ark := &fakeNormalizer{src: models.SourceARK, err: errProvider}
	p := newPipeline(t, testOptions(t), congress, ark)

	_, err := p.RunCycle(context.Background(), testNow)
	assert.ErrorIs(t, err, apperrors.ErrNoSources)

	_, err = p.Snapshots().Current()
	assert.ErrorIs(t, err, apperrors.ErrNoSnapshot)
	assert.ErrorIs(t, p.Snapshots().LastFailure(), apperrors.ErrNoSources)
}

func TestRunCycleTimeoutKeepsPreviousSnapshot(t *testing.T) {
	congress := &fakeNormalizer{src: models.SourceCongress, events: []models.SignalEvent{buy(models.SourceCongress, "XYZ", 70)}}
	opts := testOptions(t)
	opts.CycleTimeout = 50 * time.Millisecond
	p := newPipeline(t, opts, congress)

	first, err := p.RunCycle(context.Background(), testNow)
	require.NoError(t, err)

	congress.set(nil, true)
	_, err = p.RunCycle(context.Background(), testNow.Add(time.Hour))
	require.ErrorIs(t, err, apperrors.ErrAggregationTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	current, err := p.Snapshots().Current()
	require.NoError(t, err)
	assert.Equal(t, first.Version, current.Version)
	assert.True(t, current.Stale)
	assert.Contains(t, current.LastError, "aggregation timed out")
	assert.False(t, first.Stale, "published snapshot must not change")
}

func TestRunCycleCallerCancelKeepsSnapshotFresh(t *testing.T) {
	congress := &fakeNormalizer{src: models.SourceCongress, events: []models.SignalEvent{buy(models.SourceCongress, "XYZ", 70)}}
	persist := &fakePersister{}
	p := newPipeline(t, testOptions(t), congress).WithPersistence(persist)

	first, err := p.RunCycle(context.Background(), testNow)
	require.NoError(t, err)
	require.Len(t, persist.saved, 1)

	congress.set(nil, true)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err = p.RunCycle(ctx, testNow.Add(time.Hour))
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, apperrors.ErrAggregationTimeout)

	current, err := p.Snapshots().Current()
	require.NoError(t, err)
	assert.Equal(t, first.Version, current.Version)
	assert.False(t, current.Stale)
	assert.Empty(t, current.LastError)
	assert.Len(t, persist.saved, 1, "cancelled cycle must not persist a stale copy")
}

func TestRunCycleStaleSourcePolicy(t *testing.T) {
	tests := []struct {
		name        string
		policy      string
		wantSources int
		wantReused  []models.Source
	}{
		{name: "drop", policy: PolicyDrop, wantSources: 1},
		{name: "last good", policy: PolicyLastGood, wantSources: 2, wantReused: []models.Source{models.SourceInsider}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			congress := &fakeNormalizer{src: models.SourceCongress, events: []models.SignalEvent{buy(models.SourceCongress, "XYZ", 70)}}
			insider := &fakeNormalizer{src: models.SourceInsider, events: []models.SignalEvent{buy(models.SourceInsider, "XYZ", 60)}}
			opts := testOptions(t)
			opts.StaleSourcePolicy = tt.policy
			p := newPipeline(t, opts, congress, insider)

			_, err := p.RunCycle(context.Background(), testNow)
			require.NoError(t, err)

			insider.set(errProvider, false)
			snap, err := p.RunCycle(context.Background(), testNow.Add(time.Hour))
			require.NoError(t, err)

			assert.Equal(t, uint64(2), snap.Version)
			assert.Equal(t, []models.Source{models.SourceInsider}, snap.Meta.SourcesUnavailable)
			assert.Equal(t, tt.wantReused, snap.Meta.SourcesReused)
			xyz, ok := snap.Conviction("XYZ")
			require.True(t, ok)
			assert.Equal(t, tt.wantSources, xyz.SourceCount)
		})
	}
}

func TestRunCycleLastGoodNeedsOneLiveSource(t *testing.T) {
	insider := &fakeNormalizer{src: models.SourceInsider, events: []models.SignalEvent{buy(models.SourceInsider, "XYZ", 60)}}
	opts := testOptions(t)
	opts.StaleSourcePolicy = PolicyLastGood
	p := newPipeline(t, opts, insider)

	_, err := p.RunCycle(context.Background(), testNow)
	require.NoError(t, err)

	insider.set(errProvider, false)
	_, err = p.RunCycle(context.Background(), testNow.Add(time.Hour))
	assert.ErrorIs(t, err, apperrors.ErrNoSources)

	current, err := p.Snapshots().Current()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), current.Version)
	assert.True(t, current.Stale)
}

func TestRunCycleOpenBreakerSkipsSource(t *testing.T) {
	congress := &fakeNormalizer{src: models.SourceCongress, events: []models.SignalEvent{buy(models.SourceCongress, "XYZ", 70)}}
	ark := &fakeNormalizer{src: models.SourceARK, err: errProvider}
	opts := testOptions(t)
	opts.Breaker = resilience.BreakerConfig{FailureThreshold: 1, Cooldown: time.Hour}
	p := newPipeline(t, opts, congress, ark)

	for i := 0; i < 3; i++ {
		_, err := p.RunCycle(context.Background(), testNow)
		require.NoError(t, err)
	}

	assert.Equal(t, 1, ark.callCount(), "open breaker should skip the source")
	assert.Equal(t, resilience.CircuitOpen, p.Breakers().For(models.SourceARK).State())
	assert.Equal(t, 3, congress.callCount())
}

func TestRunCycleRetriesTransientFailure(t *testing.T) {
	insider := &fakeNormalizer{src: models.SourceInsider, events: []models.SignalEvent{buy(models.SourceInsider, "XYZ", 60)}, failures: 1}
	opts := testOptions(t)
	opts.Retry = resilience.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond}
	p := newPipeline(t, opts, insider)

	snap, err := p.RunCycle(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, []models.Source{models.SourceInsider}, snap.Meta.SourcesOK)
	assert.Equal(t, 2, insider.callCount())

	stats := p.Breakers().For(models.SourceInsider).Stats()
	assert.Equal(t, resilience.CircuitClosed, stats.State)
	assert.Zero(t, stats.TotalFailures)
}

func TestRunCyclePersists(t *testing.T) {
	congress := &fakeNormalizer{src: models.SourceCongress, events: []models.SignalEvent{buy(models.SourceCongress, "XYZ", 70)}}
	ark := &fakeNormalizer{src: models.SourceARK, err: errProvider}
	persist := &fakePersister{}
	p := newPipeline(t, testOptions(t), congress, ark).WithPersistence(persist)

	snap, err := p.RunCycle(context.Background(), testNow)
	require.NoError(t, err)

	require.Len(t, persist.saved, 1)
	assert.Equal(t, snap.Version, persist.saved[0].Version)

	require.Len(t, persist.runs, 2)
	assert.True(t, persist.runs[0].OK)
	assert.Equal(t, 1, persist.runs[0].Events)
	assert.Equal(t, snap.CycleID, persist.runs[0].CycleID)
	assert.False(t, persist.runs[1].OK)
	assert.Contains(t, persist.runs[1].Error, "provider down")

	// A failed cycle persists the stale flag.
	congress.set(errProvider, false)
	_, err = p.RunCycle(context.Background(), testNow)
	require.ErrorIs(t, err, apperrors.ErrNoSources)
	require.Len(t, persist.saved, 2)
	assert.True(t, persist.saved[1].Stale)
	assert.Equal(t, snap.Version, persist.saved[1].Version)
}

type countingRunner struct {
	calls atomic.Int32
}

func (r *countingRunner) RunCycle(ctx context.Context, now time.Time) (*snapshot.Snapshot, error) {
	r.calls.Add(1)
	return nil, nil
}

func TestSchedulerRunsImmediatelyAndOnInterval(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, 10*time.Millisecond, func() time.Time { return testNow }, zerolog.Nop())

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return runner.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	stopped := runner.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, runner.calls.Load(), "no cycles after stop")
}

package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"conviction-engine/internal/snapshot"
)

// CycleRunner runs one aggregation cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context, now time.Time) (*snapshot.Snapshot, error)
}

// Scheduler runs a cycle on start and then once per interval.
type Scheduler struct {
	runner   CycleRunner
	interval time.Duration
	clock    func() time.Time
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler. A nil clock uses time.Now.
func NewScheduler(runner CycleRunner, interval time.Duration, clock func() time.Time, logger zerolog.Logger) *Scheduler {
	if clock == nil {
		clock = time.Now
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		clock:    clock,
		logger:   logger,
	}
}

// Start begins the scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run()

	s.logger.Info().Dur("interval", s.interval).Msg("Scheduler started")
	return nil
}

// Stop cancels the running cycle and waits for the loop to exit.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on start.
	s.runOnce()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runOnce()
		}
	}
}

func (s *Scheduler) runOnce() {
	// Errors are logged by the pipeline; the previous snapshot keeps serving.
	_, _ = s.runner.RunCycle(s.ctx, s.clock())
}

// Package scheduler runs periodic full rebuilds of the published segments
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amirphl/company-segments/app/logger"
	businessflow "github.com/amirphl/company-segments/business_flow"
)

// RebuildScheduler periodically rebuilds every published segment
type RebuildScheduler struct {
	flow     businessflow.SegmentRebuildFlow
	opts     businessflow.RebuildOptions
	interval time.Duration
	logger   *logger.Logger

	running atomic.Bool
	wg      sync.WaitGroup

	mu   sync.Mutex
	last *businessflow.RebuildReport
}

func NewRebuildScheduler(
	flow businessflow.SegmentRebuildFlow,
	opts businessflow.RebuildOptions,
	interval time.Duration,
	log *logger.Logger,
) *RebuildScheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	if log == nil {
		log = logger.Nop()
	}
	// scheduled runs are always full runs
	opts.SegmentID = 0
	opts.MaxItems = nil

	return &RebuildScheduler{
		flow:     flow,
		opts:     opts,
		interval: interval,
		logger:   log.Component("scheduler"),
	}
}

// Start launches the scheduler loop in a background goroutine and returns a stop function.
// Stop cancels the current run at its next batch boundary and waits for it to return.
func (s *RebuildScheduler) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.runOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()

	return func() {
		cancel()
		s.wg.Wait()
	}
}

// Running reports whether a rebuild is in progress
func (s *RebuildScheduler) Running() bool {
	return s.running.Load()
}

// LastReport returns the report of the last finished run, or nil
func (s *RebuildScheduler) LastReport() *businessflow.RebuildReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *RebuildScheduler) runOnce(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn().Msg("Previous rebuild still running, skipping tick")
		return
	}
	defer s.running.Store(false)

	report, err := s.flow.Rebuild(ctx, s.opts)
	if report != nil {
		s.mu.Lock()
		s.last = report
		s.mu.Unlock()
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("Scheduled rebuild failed")
		return
	}

	s.logger.Info().
		Str("run_id", report.RunID).
		Int("segments", len(report.Outcomes)).
		Int("failed", report.Failed()).
		Int64("changed", report.Changed()).
		Dur("duration", report.Total).
		Msg("Scheduled rebuild finished")
}

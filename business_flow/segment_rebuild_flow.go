package businessflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/company-segments/app/locks"
	"github.com/amirphl/company-segments/app/logger"
	"github.com/amirphl/company-segments/app/metrics"
	"github.com/amirphl/company-segments/app/segments"
	"github.com/amirphl/company-segments/models"
	"github.com/amirphl/company-segments/repository"
	"github.com/amirphl/company-segments/utils"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// RebuildOptions selects and bounds one rebuild invocation
type RebuildOptions struct {
	// SegmentID rebuilds one segment; zero rebuilds every published segment
	SegmentID  uint   `validate:"omitempty,gt=0"`
	BatchSize  int    `validate:"gt=0"`
	MaxItems   *int   `validate:"omitempty,gt=0"`
	ExcludeIDs []uint `validate:"dive,gt=0"`
	Timing     bool
}

// OutcomeStatus is the result of one segment in a run
type OutcomeStatus string

const (
	OutcomeRebuilt     OutcomeStatus = "rebuilt"
	OutcomePartial     OutcomeStatus = "partial"
	OutcomeSkipped     OutcomeStatus = "skipped"
	OutcomeFailed      OutcomeStatus = "failed"
	OutcomeInterrupted OutcomeStatus = "interrupted"
)

// SegmentOutcome reports one segment of a run
type SegmentOutcome struct {
	SegmentID uint
	Alias     string
	Status    OutcomeStatus
	Added     int64
	Removed   int64
	Duration  time.Duration
	Err       error
	ErrorKind string
}

// Changed returns the number of companies whose membership changed
func (o SegmentOutcome) Changed() int64 {
	return o.Added + o.Removed
}

// RebuildReport collects every segment outcome of a run
type RebuildReport struct {
	RunID       string
	StartedAt   time.Time
	Outcomes    []SegmentOutcome
	Total       time.Duration
	Interrupted bool
}

// Failed counts failed segments
func (r *RebuildReport) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == OutcomeFailed {
			n++
		}
	}
	return n
}

// Changed sums membership changes over all segments
func (r *RebuildReport) Changed() int64 {
	var n int64
	for _, o := range r.Outcomes {
		n += o.Changed()
	}
	return n
}

// SegmentRebuildFlow rebuilds segment membership in batches
type SegmentRebuildFlow interface {
	Rebuild(ctx context.Context, opts RebuildOptions) (*RebuildReport, error)
}

// RebuildFlowOption configures the rebuild flow
type RebuildFlowOption func(*SegmentRebuildFlowImpl)

// WithWriteRate caps applied batches per second; zero or less disables throttling
func WithWriteRate(batchesPerSecond float64) RebuildFlowOption {
	return func(f *SegmentRebuildFlowImpl) {
		if batchesPerSecond > 0 {
			f.throttle = rate.NewLimiter(rate.Limit(batchesPerSecond), 1)
		}
	}
}

// WithRebuildClock overrides the run clock
func WithRebuildClock(now func() time.Time) RebuildFlowOption {
	return func(f *SegmentRebuildFlowImpl) {
		f.now = now
	}
}

type SegmentRebuildFlowImpl struct {
	segmentRepo repository.SegmentRepository
	reconciler  *segments.MembershipReconciler
	resolver    *segments.DependencyResolver
	locker      locks.Locker
	throttle    *rate.Limiter
	validate    *validator.Validate
	log         *logger.Logger
	now         func() time.Time
}

func NewSegmentRebuildFlow(
	segmentRepo repository.SegmentRepository,
	reconciler *segments.MembershipReconciler,
	locker locks.Locker,
	log *logger.Logger,
	opts ...RebuildFlowOption,
) SegmentRebuildFlow {
	if locker == nil {
		locker = locks.NewMemoryLocker()
	}
	if log == nil {
		log = logger.Nop()
	}
	f := &SegmentRebuildFlowImpl{
		segmentRepo: segmentRepo,
		reconciler:  reconciler,
		resolver:    segments.NewDependencyResolver(segmentRepo),
		locker:      locker,
		validate:    newValidator(),
		log:         log.Component("rebuild"),
		now:         utils.UTCNow,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

var rebuildOptionErrors = map[string]error{
	"SegmentID":  ErrInvalidSegmentID,
	"BatchSize":  ErrInvalidBatchSize,
	"MaxItems":   ErrInvalidMaxItems,
	"ExcludeIDs": ErrInvalidExcludeID,
}

// ValidateRebuildOptions checks rebuild options without touching any store, so
// callers can reject bad input before connecting
func ValidateRebuildOptions(opts RebuildOptions) error {
	return validateRebuildOptions(newValidator(), opts)
}

func validateRebuildOptions(v *validator.Validate, opts RebuildOptions) error {
	if err := v.Struct(&opts); err != nil {
		return validationError(err, rebuildOptionErrors)
	}
	return nil
}

// Rebuild validates the options, selects segments and rebuilds each one. Option errors
// and a missing single segment are returned before anything is written; per-segment
// failures are reported in the outcomes. A cancelled context stops the run at the next
// batch boundary and the partial report is returned with the context error.
func (f *SegmentRebuildFlowImpl) Rebuild(ctx context.Context, opts RebuildOptions) (*RebuildReport, error) {
	if err := validateRebuildOptions(f.validate, opts); err != nil {
		metrics.RebuildRunsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	report := &RebuildReport{RunID: uuid.NewString(), StartedAt: f.now()}
	log := f.log.WithRun(report.RunID)

	targets, err := f.selectSegments(ctx, opts)
	if err != nil {
		metrics.RebuildRunsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	targets = f.orderByDependencies(ctx, log, targets)

	log.Info().
		Int("segments", len(targets)).
		Int("batch_size", opts.BatchSize).
		Bool("bounded", opts.MaxItems != nil).
		Msg("Rebuild started")

	f.reconciler.Reset()
	for _, seg := range targets {
		if ctx.Err() != nil {
			report.Interrupted = true
			break
		}
		outcome := f.rebuildSegment(ctx, log, seg, opts)
		report.Outcomes = append(report.Outcomes, outcome)
		if outcome.Status == OutcomeInterrupted {
			report.Interrupted = true
			break
		}
	}
	report.Total = f.now().Sub(report.StartedAt)

	runOutcome := "ok"
	if report.Failed() > 0 || report.Interrupted {
		runOutcome = "failed"
	}
	metrics.RebuildRunsTotal.WithLabelValues(runOutcome).Inc()

	log.Info().
		Int("segments", len(report.Outcomes)).
		Int("failed", report.Failed()).
		Int64("changed", report.Changed()).
		Dur("duration", report.Total).
		Bool("interrupted", report.Interrupted).
		Msg("Rebuild finished")

	if report.Interrupted {
		return report, fmt.Errorf("rebuild %s interrupted: %w", report.RunID, context.Cause(ctx))
	}
	return report, nil
}

func (f *SegmentRebuildFlowImpl) selectSegments(ctx context.Context, opts RebuildOptions) ([]*models.Segment, error) {
	if opts.SegmentID != 0 {
		seg, err := f.segmentRepo.ByID(ctx, opts.SegmentID)
		if err != nil {
			return nil, NewBusinessError("SEGMENT_LOAD_FAILED", "Failed to load segment", err)
		}
		if seg == nil {
			return nil, NewBusinessErrorf("SEGMENT_NOT_FOUND", "Segment %d not found", ErrSegmentNotFound, opts.SegmentID)
		}
		return []*models.Segment{seg}, nil
	}

	list, err := f.segmentRepo.ListPublished(ctx, opts.ExcludeIDs)
	if err != nil {
		return nil, NewBusinessError("SEGMENT_LIST_FAILED", "Failed to list published segments", err)
	}
	return list, nil
}

// orderByDependencies moves every target after the targets it references, so a
// reference always reads membership rebuilt earlier in the same run. Targets keep
// their id order otherwise. A target whose references cannot be planned stays in
// place; compiling it fails again and only that segment is reported.
func (f *SegmentRebuildFlowImpl) orderByDependencies(ctx context.Context, log *logger.Logger, targets []*models.Segment) []*models.Segment {
	if len(targets) < 2 {
		return targets
	}
	byID := make(map[uint]*models.Segment, len(targets))
	for _, seg := range targets {
		byID[seg.ID] = seg
	}

	ordered := make([]*models.Segment, 0, len(targets))
	placed := make(map[uint]bool, len(targets))
	place := func(id uint) {
		if seg, ok := byID[id]; ok && !placed[id] {
			placed[id] = true
			ordered = append(ordered, seg)
		}
	}

	for _, seg := range targets {
		if placed[seg.ID] {
			continue
		}
		plan, err := f.resolver.Plan(ctx, seg)
		if err != nil {
			log.Debug().Err(err).Uint("segment_id", seg.ID).Msg("Dependency plan failed; keeping id order")
			place(seg.ID)
			continue
		}
		for _, id := range plan {
			place(id)
		}
	}
	return ordered
}

// rebuildSegment runs VALIDATE, COMPILE and RECONCILE_BATCHES for one segment and
// records build stats when the run was complete
func (f *SegmentRebuildFlowImpl) rebuildSegment(ctx context.Context, runLog *logger.Logger, seg *models.Segment, opts RebuildOptions) (outcome SegmentOutcome) {
	outcome = SegmentOutcome{SegmentID: seg.ID, Alias: seg.Alias}
	if !seg.IsPublished {
		outcome.Status = OutcomeSkipped
		outcome.Err = ErrSegmentUnpublished
		return outcome
	}

	log := runLog.WithSegment(seg.ID)
	start := f.now()
	defer func() {
		outcome.Duration = f.now().Sub(start)
		metrics.SegmentRebuildDuration.WithLabelValues(string(outcome.Status)).Observe(outcome.Duration.Seconds())
		if outcome.Status == OutcomeFailed {
			metrics.SegmentErrorsTotal.WithLabelValues(outcome.ErrorKind).Inc()
		}
		log.LogSegmentRebuild(seg.ID, outcome.Added, outcome.Removed, outcome.Duration, outcome.Err)
	}()

	fail := func(kind string, err error) SegmentOutcome {
		outcome.Status = OutcomeFailed
		outcome.ErrorKind = kind
		outcome.Err = err
		return outcome
	}

	lease, err := f.locker.Acquire(ctx, seg.ID)
	if err != nil {
		if errors.Is(err, locks.ErrLockHeld) {
			metrics.SegmentsLockedTotal.Inc()
			return fail("locked", fmt.Errorf("segment %d: %w", seg.ID, ErrSegmentLocked))
		}
		return fail("lock", err)
	}
	defer func() {
		if rerr := lease.Release(context.WithoutCancel(ctx)); rerr != nil {
			log.Warn().Err(rerr).Msg("Failed to release segment lock")
		}
	}()

	f.reconciler.Forget(seg.ID)
	if _, err := f.reconciler.Prepare(ctx, seg); err != nil {
		return fail(segments.ErrorKind(err), err)
	}

	// Companies created after the run started wait for the next run
	asOf := start
	bounds := models.BatchLimiter{BatchSize: opts.BatchSize, MaxItems: opts.MaxItems}
	processed := 0

	added, err := f.drain(ctx, log, seg, lease, bounds, "new", &asOf, &processed)
	outcome.Added = added
	if err != nil {
		return f.stopped(ctx, outcome, err)
	}

	removed, err := f.drain(ctx, log, seg, lease, bounds, "orphaned", nil, &processed)
	outcome.Removed = removed
	if err != nil {
		return f.stopped(ctx, outcome, err)
	}

	if bounds.Bounded() {
		outcome.Status = OutcomePartial
		return outcome
	}

	seconds := f.now().Sub(start).Seconds()
	if err := f.segmentRepo.UpdateBuildStats(ctx, seg.ID, start.Truncate(time.Second), seconds); err != nil {
		return fail("store", fmt.Errorf("segment %d: failed to record build stats: %w", seg.ID, err))
	}
	metrics.SegmentLastBuilt.WithLabelValues(metrics.SegmentLabel(seg.ID)).Set(float64(start.Unix()))
	outcome.Status = OutcomeRebuilt
	return outcome
}

// stopped classifies an error raised while draining batches
func (f *SegmentRebuildFlowImpl) stopped(ctx context.Context, outcome SegmentOutcome, err error) SegmentOutcome {
	outcome.Err = err
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		outcome.Status = OutcomeInterrupted
		return outcome
	}
	outcome.Status = OutcomeFailed
	outcome.ErrorKind = segments.ErrorKind(err)
	if errors.Is(err, locks.ErrLockLost) {
		outcome.ErrorKind = "locked"
	}
	return outcome
}

// drain applies one phase batch by batch in increasing id order. Every batch commits on
// its own, so stopping between batches leaves a consistent state. The lease is
// refreshed before each batch; losing it stops the segment before the next write.
func (f *SegmentRebuildFlowImpl) drain(
	ctx context.Context,
	log *logger.Logger,
	seg *models.Segment,
	lease locks.Lease,
	bounds models.BatchLimiter,
	phase string,
	asOf *time.Time,
	processed *int,
) (int64, error) {
	limiter := bounds
	limiter.AsOf = asOf

	var snapshot repository.CountResult
	var err error
	if phase == "new" {
		snapshot, err = f.reconciler.CountNew(ctx, seg, &limiter)
	} else {
		snapshot, err = f.reconciler.CountOrphaned(ctx, seg, &limiter)
	}
	if err != nil {
		return 0, err
	}
	if snapshot.Count == 0 {
		return 0, nil
	}
	limiter.MinID = snapshot.MinID
	limiter.MaxID = snapshot.MaxID

	var changed int64
	for {
		size := limiter.PageSize(*processed)
		if size == 0 {
			return changed, nil
		}
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		if f.throttle != nil {
			if err := f.throttle.Wait(ctx); err != nil {
				return changed, err
			}
		}
		if err := lease.Refresh(ctx); err != nil {
			return changed, fmt.Errorf("segment %d: %w", seg.ID, err)
		}

		batchStart := f.now()
		var ids []int64
		if phase == "new" {
			ids, err = f.reconciler.FetchNew(ctx, seg, &limiter, size)
		} else {
			ids, err = f.reconciler.FetchOrphaned(ctx, seg, &limiter, size)
		}
		if err != nil {
			return changed, err
		}
		if len(ids) == 0 {
			return changed, nil
		}

		var res segments.ApplyResult
		if phase == "new" {
			res, err = f.reconciler.Apply(ctx, seg, ids, nil)
		} else {
			res, err = f.reconciler.Apply(ctx, seg, nil, ids)
		}
		if err != nil {
			return changed, err
		}

		changed += res.Changed()
		*processed += int(res.Changed())
		metrics.BatchesTotal.WithLabelValues(phase).Inc()
		log.LogBatch(seg.ID, phase, len(ids), res.Changed(), f.now().Sub(batchStart))

		limiter = limiter.After(ids[len(ids)-1])
	}
}

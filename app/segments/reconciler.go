package segments

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/amirphl/company-segments/app/events"
	"github.com/amirphl/company-segments/app/logger"
	"github.com/amirphl/company-segments/models"
	"github.com/amirphl/company-segments/repository"
	"github.com/amirphl/company-segments/utils"
	"gorm.io/gorm"
)

// ApplyResult counts the rows one Apply call changed
type ApplyResult struct {
	Added   int64
	Removed int64
}

// Changed returns added plus removed
func (r ApplyResult) Changed() int64 {
	return r.Added + r.Removed
}

// MembershipReconciler diffs compiled predicates against persisted membership and
// is the only writer of computed membership rows
type MembershipReconciler struct {
	db       *gorm.DB
	members  repository.SegmentMemberRepository
	compiler *PredicateCompiler
	events   *events.Dispatcher
	log      *logger.Logger
	now      func() time.Time

	mu         sync.Mutex
	predicates map[uint]*Predicate
}

// NewMembershipReconciler creates a reconciler. dispatcher may be nil.
func NewMembershipReconciler(
	db *gorm.DB,
	members repository.SegmentMemberRepository,
	compiler *PredicateCompiler,
	dispatcher *events.Dispatcher,
	log *logger.Logger,
) *MembershipReconciler {
	if log == nil {
		log = logger.Nop()
	}
	if dispatcher == nil {
		dispatcher = events.NewDispatcher(log)
	}
	return &MembershipReconciler{
		db:         db,
		members:    members,
		compiler:   compiler,
		events:     dispatcher,
		log:        log.Component("reconciler"),
		now:        func() time.Time { return time.Now().UTC() },
		predicates: make(map[uint]*Predicate),
	}
}

// Prepare compiles seg and caches the unrestricted predicate until Forget or Reset
func (r *MembershipReconciler) Prepare(ctx context.Context, seg *models.Segment) (*Predicate, error) {
	r.mu.Lock()
	p, ok := r.predicates[seg.ID]
	r.mu.Unlock()
	if ok {
		return p, nil
	}

	p, err := r.compiler.Compile(ctx, seg, nil, false)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.predicates[seg.ID] = p
	r.mu.Unlock()
	return p, nil
}

// Forget drops the cached predicate of one segment
func (r *MembershipReconciler) Forget(segmentID uint) {
	r.mu.Lock()
	delete(r.predicates, segmentID)
	r.mu.Unlock()
}

// Reset drops every cached predicate
func (r *MembershipReconciler) Reset() {
	r.mu.Lock()
	r.predicates = make(map[uint]*Predicate)
	r.mu.Unlock()
}

// CountAll counts every company matching the segment's predicate
func (r *MembershipReconciler) CountAll(ctx context.Context, seg *models.Segment) (repository.CountResult, error) {
	p, err := r.Prepare(ctx, seg)
	if err != nil {
		return repository.CountResult{}, err
	}
	return r.members.CountMatching(ctx, p.Match())
}

// CountNew counts matching companies without a membership row, inside the limiter window
func (r *MembershipReconciler) CountNew(ctx context.Context, seg *models.Segment, limiter *models.BatchLimiter) (repository.CountResult, error) {
	p, err := r.Prepare(ctx, seg)
	if err != nil {
		return repository.CountResult{}, err
	}
	return r.members.CountCandidates(ctx, seg.ID, p.Restrict(limiter).Match())
}

// FetchNew returns the next page of new company ids in ascending order
func (r *MembershipReconciler) FetchNew(ctx context.Context, seg *models.Segment, limiter *models.BatchLimiter, pageSize int) ([]int64, error) {
	p, err := r.Prepare(ctx, seg)
	if err != nil {
		return nil, err
	}
	return r.members.ListCandidateIDs(ctx, seg.ID, p.Restrict(limiter).Match(), pageSize)
}

// CountOrphaned counts computed members that no longer match, inside the limiter id window
func (r *MembershipReconciler) CountOrphaned(ctx context.Context, seg *models.Segment, limiter *models.BatchLimiter) (repository.CountResult, error) {
	p, err := r.Prepare(ctx, seg)
	if err != nil {
		return repository.CountResult{}, err
	}
	return r.members.CountOrphaned(ctx, seg.ID, p.Match(), idRange(limiter))
}

// FetchOrphaned returns the next page of computed members that no longer match
func (r *MembershipReconciler) FetchOrphaned(ctx context.Context, seg *models.Segment, limiter *models.BatchLimiter, pageSize int) ([]int64, error) {
	p, err := r.Prepare(ctx, seg)
	if err != nil {
		return nil, err
	}
	return r.members.ListOrphanedIDs(ctx, seg.ID, p.Match(), idRange(limiter), pageSize)
}

// Apply writes one batch in a single transaction. New rows are inserted as computed
// members and existing rows keep their override flags. Only computed rows are
// deleted. An id present in both lists is removed.
func (r *MembershipReconciler) Apply(ctx context.Context, seg *models.Segment, toAdd, toRemove []int64) (ApplyResult, error) {
	var result ApplyResult

	remove := utils.BitmapOf(toRemove)
	add := utils.BitmapOf(toAdd)
	add.AndNot(remove)
	if add.IsEmpty() && remove.IsEmpty() {
		return result, nil
	}

	now := r.now().Truncate(time.Second)
	var added, removed []int64

	err := repository.WithTransaction(ctx, r.db, func(txCtx context.Context) error {
		var err error
		if !add.IsEmpty() {
			added, err = r.insert(txCtx, seg.ID, add, now)
			if err != nil {
				return err
			}
		}
		if !remove.IsEmpty() {
			removed, err = r.delete(txCtx, seg.ID, remove)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ApplyResult{}, fmt.Errorf("apply membership batch of segment %d: %w", seg.ID, err)
	}

	result.Added = int64(len(added))
	result.Removed = int64(len(removed))

	if err := r.events.Notify(ctx,
		events.ChangeEvent{Kind: events.KindAdded, SegmentID: seg.ID, CompanyIDs: added, Source: events.SourceRebuild, OccurredAt: now},
		events.ChangeEvent{Kind: events.KindRemoved, SegmentID: seg.ID, CompanyIDs: removed, Source: events.SourceRebuild, OccurredAt: now},
	); err != nil {
		r.log.Warn().Err(err).Uint("segment_id", seg.ID).Msg("Membership notification failed")
	}
	return result, nil
}

func (r *MembershipReconciler) insert(ctx context.Context, segmentID uint, add *roaring64.Bitmap, at time.Time) ([]int64, error) {
	existing, err := r.members.ExistingCompanyIDs(ctx, segmentID, utils.BitmapIDs(add))
	if err != nil {
		return nil, err
	}
	missing := add.Clone()
	missing.AndNot(utils.BitmapOf(existing))
	if missing.IsEmpty() {
		return nil, nil
	}

	ids := utils.BitmapIDs(missing)
	if _, err := r.members.InsertComputed(ctx, segmentID, ids, at); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *MembershipReconciler) delete(ctx context.Context, segmentID uint, remove *roaring64.Bitmap) ([]int64, error) {
	computed := false
	rows, err := r.members.ByFilter(ctx, models.SegmentMemberFilter{
		SegmentID:       &segmentID,
		CompanyIDs:      utils.BitmapIDs(remove),
		ManuallyAdded:   &computed,
		ManuallyRemoved: &computed,
	}, "", 0, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.CompanyID)
	}
	if _, err := r.members.DeleteComputed(ctx, segmentID, ids); err != nil {
		return nil, err
	}
	slices.Sort(ids)
	return ids, nil
}

func idRange(limiter *models.BatchLimiter) repository.IDRange {
	if limiter == nil {
		return repository.IDRange{}
	}
	return repository.IDRange{MinID: limiter.MinID, MaxID: limiter.MaxID}
}

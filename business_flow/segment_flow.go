package businessflow

import (
	"context"

	"github.com/amirphl/company-segments/app/segments"
	"github.com/amirphl/company-segments/models"
	"github.com/amirphl/company-segments/repository"
)

// SegmentFlow covers segment level operations around dependencies
type SegmentFlow interface {
	// CanDelete reports whether no other segment references segmentID, and which ones do
	CanDelete(ctx context.Context, segmentID uint) (bool, []*models.Segment, error)
	// Delete removes a segment that nothing references; its membership rows go with it
	Delete(ctx context.Context, segmentID uint) error
	// Plan returns the dependency order of a segment, dependencies first
	Plan(ctx context.Context, segmentID uint) ([]uint, error)
}

type SegmentFlowImpl struct {
	segmentRepo repository.SegmentRepository
	resolver    *segments.DependencyResolver
}

func NewSegmentFlow(segmentRepo repository.SegmentRepository) SegmentFlow {
	return &SegmentFlowImpl{
		segmentRepo: segmentRepo,
		resolver:    segments.NewDependencyResolver(segmentRepo),
	}
}

func (f *SegmentFlowImpl) CanDelete(ctx context.Context, segmentID uint) (bool, []*models.Segment, error) {
	seg, err := f.segmentRepo.ByID(ctx, segmentID)
	if err != nil {
		return false, nil, NewBusinessError("SEGMENT_LOAD_FAILED", "Failed to load segment", err)
	}
	if seg == nil {
		return false, nil, NewBusinessErrorf("SEGMENT_NOT_FOUND", "Segment %d not found", ErrSegmentNotFound, segmentID)
	}

	dependents, err := f.segmentRepo.ListReferencing(ctx, segmentID)
	if err != nil {
		return false, nil, NewBusinessError("SEGMENT_DEPENDENTS_FAILED", "Failed to list dependent segments", err)
	}
	return len(dependents) == 0, dependents, nil
}

func (f *SegmentFlowImpl) Delete(ctx context.Context, segmentID uint) error {
	ok, dependents, err := f.CanDelete(ctx, segmentID)
	if err != nil {
		return err
	}
	if !ok {
		return NewBusinessErrorf("SEGMENT_REFERENCED", "Segment %d is used by %d other segment(s)", ErrSegmentReferenced, segmentID, len(dependents))
	}
	if err := f.segmentRepo.Delete(ctx, segmentID); err != nil {
		return NewBusinessError("SEGMENT_DELETE_FAILED", "Failed to delete segment", err)
	}
	return nil
}

func (f *SegmentFlowImpl) Plan(ctx context.Context, segmentID uint) ([]uint, error) {
	order, err := f.resolver.PlanByID(ctx, segmentID)
	if err != nil {
		return nil, NewBusinessError("SEGMENT_PLAN_FAILED", "Failed to resolve segment dependencies", err)
	}
	return order, nil
}

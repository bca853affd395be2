package businessflow

import (
	"context"
	"time"

	"github.com/amirphl/company-segments/app/events"
	"github.com/amirphl/company-segments/app/logger"
	"github.com/amirphl/company-segments/repository"
	"github.com/amirphl/company-segments/utils"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// UpdateMembershipRequest adds and removes companies of one segment by hand
type UpdateMembershipRequest struct {
	SegmentID uint    `validate:"required,gt=0"`
	Add       []int64 `validate:"dive,gt=0"`
	Remove    []int64 `validate:"dive,gt=0"`
}

// MembershipChange reports what a manual update wrote
type MembershipChange struct {
	SegmentID uint
	Added     []int64
	Removed   []int64
	// Unknown lists requested ids that match no company
	Unknown []int64
}

// SegmentMembershipFlow applies manual overrides
type SegmentMembershipFlow interface {
	AddCompanies(ctx context.Context, segmentID uint, companyIDs []int64) (*MembershipChange, error)
	RemoveCompanies(ctx context.Context, segmentID uint, companyIDs []int64) (*MembershipChange, error)
	UpdateMembership(ctx context.Context, req UpdateMembershipRequest) (*MembershipChange, error)
}

type SegmentMembershipFlowImpl struct {
	db          *gorm.DB
	segmentRepo repository.SegmentRepository
	companyRepo repository.CompanyRepository
	memberRepo  repository.SegmentMemberRepository
	events      *events.Dispatcher
	validate    *validator.Validate
	log         *logger.Logger
}

func NewSegmentMembershipFlow(
	db *gorm.DB,
	segmentRepo repository.SegmentRepository,
	companyRepo repository.CompanyRepository,
	memberRepo repository.SegmentMemberRepository,
	dispatcher *events.Dispatcher,
	log *logger.Logger,
) SegmentMembershipFlow {
	if log == nil {
		log = logger.Nop()
	}
	if dispatcher == nil {
		dispatcher = events.NewDispatcher(log)
	}
	return &SegmentMembershipFlowImpl{
		db:          db,
		segmentRepo: segmentRepo,
		companyRepo: companyRepo,
		memberRepo:  memberRepo,
		events:      dispatcher,
		validate:    newValidator(),
		log:         log.Component("membership"),
	}
}

// AddCompanies marks companies as manually added
func (f *SegmentMembershipFlowImpl) AddCompanies(ctx context.Context, segmentID uint, companyIDs []int64) (*MembershipChange, error) {
	return f.UpdateMembership(ctx, UpdateMembershipRequest{SegmentID: segmentID, Add: companyIDs})
}

// RemoveCompanies marks companies as manually removed
func (f *SegmentMembershipFlowImpl) RemoveCompanies(ctx context.Context, segmentID uint, companyIDs []int64) (*MembershipChange, error) {
	return f.UpdateMembership(ctx, UpdateMembershipRequest{SegmentID: segmentID, Remove: companyIDs})
}

var membershipRequestErrors = map[string]error{
	"SegmentID": ErrInvalidSegmentID,
	"Add":       ErrInvalidCompanyIDs,
	"Remove":    ErrInvalidCompanyIDs,
}

// UpdateMembership writes both lists in one transaction. Removals are written after
// additions, so an id present in both lists ends up removed.
func (f *SegmentMembershipFlowImpl) UpdateMembership(ctx context.Context, req UpdateMembershipRequest) (*MembershipChange, error) {
	if err := f.validate.Struct(&req); err != nil {
		return nil, validationError(err, membershipRequestErrors)
	}
	if len(req.Add) == 0 && len(req.Remove) == 0 {
		return nil, NewBusinessError("VALIDATION_ERROR", "Nothing to update", ErrNothingToUpdate)
	}

	seg, err := f.segmentRepo.ByID(ctx, req.SegmentID)
	if err != nil {
		return nil, NewBusinessError("SEGMENT_LOAD_FAILED", "Failed to load segment", err)
	}
	if seg == nil {
		return nil, NewBusinessErrorf("SEGMENT_NOT_FOUND", "Segment %d not found", ErrSegmentNotFound, req.SegmentID)
	}

	requested := utils.BitmapOf(req.Add, req.Remove)
	existing, err := f.companyRepo.ExistingIDs(ctx, utils.BitmapIDs(requested))
	if err != nil {
		return nil, NewBusinessError("COMPANY_LOOKUP_FAILED", "Failed to look up companies", err)
	}
	known := utils.BitmapOf(existing)

	remove := utils.BitmapOf(req.Remove)
	remove.And(known)
	add := utils.BitmapOf(req.Add)
	add.And(known)
	add.AndNot(remove)

	unknown := requested.Clone()
	unknown.AndNot(known)

	change := &MembershipChange{
		SegmentID: seg.ID,
		Added:     utils.BitmapIDs(add),
		Removed:   utils.BitmapIDs(remove),
		Unknown:   utils.BitmapIDs(unknown),
	}

	now := utils.UTCNow().Truncate(time.Second)
	err = repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		if err := f.memberRepo.MarkManuallyAdded(txCtx, seg.ID, change.Added, now); err != nil {
			return err
		}
		return f.memberRepo.MarkManuallyRemoved(txCtx, seg.ID, change.Removed, now)
	})
	if err != nil {
		return nil, NewBusinessError("MEMBERSHIP_UPDATE_FAILED", "Failed to update segment membership", err)
	}

	if err := f.events.Notify(ctx,
		events.ChangeEvent{Kind: events.KindAdded, SegmentID: seg.ID, CompanyIDs: change.Added, Source: events.SourceManual, OccurredAt: now},
		events.ChangeEvent{Kind: events.KindRemoved, SegmentID: seg.ID, CompanyIDs: change.Removed, Source: events.SourceManual, OccurredAt: now},
	); err != nil {
		f.log.Warn().Err(err).Uint("segment_id", seg.ID).Msg("Membership notification failed")
	}

	f.log.Info().
		Uint("segment_id", seg.ID).
		Int("added", len(change.Added)).
		Int("removed", len(change.Removed)).
		Int("unknown", len(change.Unknown)).
		Msg("Manual membership updated")

	return change, nil
}

// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/amirphl/company-segments/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
}

// CompanyMatch is a compiled boolean condition over the companies table aliased as Alias
type CompanyMatch struct {
	Alias     string
	Condition string
	Args      []any
}

// IDRange bounds company ids; nil ends are open
type IDRange struct {
	MinID *int64
	MaxID *int64
}

// CountResult is the size and id span of a company set
type CountResult struct {
	Count int64
	MinID *int64
	MaxID *int64
}

// MemberRow is one exported membership joined with its company
type MemberRow struct {
	CompanyID       int64     `gorm:"column:company_id"`
	Name            string    `gorm:"column:companyname"`
	Email           *string   `gorm:"column:companyemail"`
	City            *string   `gorm:"column:companycity"`
	Country         *string   `gorm:"column:companycountry"`
	DateAdded       time.Time `gorm:"column:date_added"`
	ManuallyAdded   bool      `gorm:"column:manually_added"`
}

// SegmentRepository defines operations for segments
type SegmentRepository interface {
	Repository[models.Segment, models.SegmentFilter]
	ByAlias(ctx context.Context, alias string) (*models.Segment, error)
	ListByIDs(ctx context.Context, ids []uint) ([]*models.Segment, error)
	ListPublished(ctx context.Context, excludeIDs []uint) ([]*models.Segment, error)
	ListReferencing(ctx context.Context, segmentID uint) ([]*models.Segment, error)
	UpdateBuildStats(ctx context.Context, segmentID uint, builtAt time.Time, seconds float64) error
	Update(ctx context.Context, segment *models.Segment) error
	Delete(ctx context.Context, segmentID uint) error
}

// CompanyRepository defines operations for companies
type CompanyRepository interface {
	Repository[models.Company, models.CompanyFilter]
	ExistingIDs(ctx context.Context, ids []int64) ([]int64, error)
	Update(ctx context.Context, company *models.Company) error
}

// SegmentMemberRepository defines operations for segment membership rows.
// Predicate reads take a compiled CompanyMatch; writes never evaluate predicates.
type SegmentMemberRepository interface {
	Repository[models.SegmentMember, models.SegmentMemberFilter]
	Count(ctx context.Context, filter models.SegmentMemberFilter) (int64, error)

	CountMatching(ctx context.Context, match CompanyMatch) (CountResult, error)
	CountCandidates(ctx context.Context, segmentID uint, match CompanyMatch) (CountResult, error)
	ListCandidateIDs(ctx context.Context, segmentID uint, match CompanyMatch, limit int) ([]int64, error)
	CountOrphaned(ctx context.Context, segmentID uint, match CompanyMatch, ids IDRange) (CountResult, error)
	ListOrphanedIDs(ctx context.Context, segmentID uint, match CompanyMatch, ids IDRange, limit int) ([]int64, error)

	ExistingCompanyIDs(ctx context.Context, segmentID uint, companyIDs []int64) ([]int64, error)
	InsertComputed(ctx context.Context, segmentID uint, companyIDs []int64, dateAdded time.Time) (int64, error)
	DeleteComputed(ctx context.Context, segmentID uint, companyIDs []int64) (int64, error)
	MarkManuallyAdded(ctx context.Context, segmentID uint, companyIDs []int64, at time.Time) error
	MarkManuallyRemoved(ctx context.Context, segmentID uint, companyIDs []int64, at time.Time) error

	ActiveCompanyIDs(ctx context.Context, segmentID uint) ([]int64, error)
	CountActive(ctx context.Context, segmentID uint) (int64, error)
	ListMembers(ctx context.Context, segmentID uint, afterCompanyID int64, limit int) ([]MemberRow, error)
}

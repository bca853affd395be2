package testing

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/company-segments/models"
	"github.com/amirphl/company-segments/repository"
	"github.com/amirphl/company-segments/utils"
	"gorm.io/gorm"
)

// TestFixtures provides helper methods for creating test data through the repositories
type TestFixtures struct {
	DB  *gorm.DB
	Now time.Time

	companies repository.CompanyRepository
	segments  repository.SegmentRepository
	members   repository.SegmentMemberRepository
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *gorm.DB) *TestFixtures {
	return &TestFixtures{
		DB:        db,
		Now:       utils.UTCNow().Add(-time.Hour).Truncate(time.Second),
		companies: repository.NewCompanyRepository(db),
		segments:  repository.NewSegmentRepository(db),
		members:   repository.NewSegmentMemberRepository(db),
	}
}

// CompanyOption customizes a fixture company
type CompanyOption func(*models.Company)

// WithRevenue sets the company revenue
func WithRevenue(v float64) CompanyOption {
	return func(c *models.Company) { c.Revenue = &v }
}

// WithCountry sets the company country
func WithCountry(v string) CompanyOption {
	return func(c *models.Company) { c.Country = &v }
}

// WithCity sets the company city
func WithCity(v string) CompanyOption {
	return func(c *models.Company) { c.City = &v }
}

// WithDateAdded sets the company creation time
func WithDateAdded(t time.Time) CompanyOption {
	return func(c *models.Company) { c.DateAdded = t.UTC() }
}

func (tf *TestFixtures) newCompany(name string, opts ...CompanyOption) *models.Company {
	c := &models.Company{
		Name:        name,
		Email:       utils.ToPtr(fmt.Sprintf("info@%s.example.com", name)),
		IsPublished: true,
		DateAdded:   tf.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateCompany inserts a published company
func (tf *TestFixtures) CreateCompany(name string, opts ...CompanyOption) (*models.Company, error) {
	c := tf.newCompany(name, opts...)
	if err := tf.companies.Save(context.Background(), c); err != nil {
		return nil, fmt.Errorf("failed to insert company %s: %w", name, err)
	}
	return c, nil
}

// CreateCompanies inserts n companies named prefix-1..prefix-n in one batch
func (tf *TestFixtures) CreateCompanies(prefix string, n int, opts ...CompanyOption) ([]*models.Company, error) {
	out := make([]*models.Company, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, tf.newCompany(fmt.Sprintf("%s-%d", prefix, i), opts...))
	}
	if err := tf.companies.SaveBatch(context.Background(), out); err != nil {
		return nil, fmt.Errorf("failed to insert companies %s: %w", prefix, err)
	}
	return out, nil
}

// SetRevenue rewrites the revenue of a stored company
func (tf *TestFixtures) SetRevenue(c *models.Company, v float64) error {
	c.Revenue = &v
	return tf.companies.Update(context.Background(), c)
}

// CreateSegment inserts a segment with the given filters
func (tf *TestFixtures) CreateSegment(alias string, published bool, filters ...models.FilterNode) (*models.Segment, error) {
	s := &models.Segment{
		Name:        alias,
		Alias:       alias,
		IsPublished: published,
		Filters:     models.FilterList(filters),
	}
	if s.Filters == nil {
		s.Filters = models.FilterList{}
	}
	if err := tf.segments.Save(context.Background(), s); err != nil {
		return nil, fmt.Errorf("failed to insert segment %s: %w", alias, err)
	}
	return s, nil
}

// SetFilters replaces the filters of a stored segment
func (tf *TestFixtures) SetFilters(s *models.Segment, filters ...models.FilterNode) error {
	s.Filters = models.FilterList(filters)
	if s.Filters == nil {
		s.Filters = models.FilterList{}
	}
	return tf.segments.Update(context.Background(), s)
}

// CreateMember inserts a membership row directly
func (tf *TestFixtures) CreateMember(segmentID uint, companyID int64, manuallyAdded, manuallyRemoved bool) error {
	m := &models.SegmentMember{
		SegmentID:       segmentID,
		CompanyID:       companyID,
		DateAdded:       tf.Now,
		ManuallyAdded:   manuallyAdded,
		ManuallyRemoved: manuallyRemoved,
	}
	return tf.members.Save(context.Background(), m)
}

// RevenueAtLeast builds a company revenue filter
func RevenueAtLeast(v string) models.FilterNode {
	return models.FilterNode{
		Field:    "companyrevenue",
		Object:   models.FilterObjectCompany,
		Operator: models.OpGte,
		Value:    models.ScalarValue(v),
		Glue:     models.FilterGlueAnd,
	}
}

// MemberOf builds a segment-reference filter
func MemberOf(op models.FilterOperator, segmentIDs ...uint) models.FilterNode {
	values := make([]string, 0, len(segmentIDs))
	for _, id := range segmentIDs {
		values = append(values, fmt.Sprintf("%d", id))
	}
	return models.FilterNode{
		Field:    models.SegmentReferenceField,
		Object:   models.FilterObjectSegment,
		Operator: op,
		Value:    models.ListValue(values...),
		Glue:     models.FilterGlueAnd,
	}
}

package repository

import (
	"context"
	"errors"

	"github.com/amirphl/company-segments/models"
	"gorm.io/gorm"
)

// CompanyRepositoryImpl implements CompanyRepository interface
type CompanyRepositoryImpl struct {
	*BaseRepository[models.Company, models.CompanyFilter]
}

// NewCompanyRepository creates a new company repository
func NewCompanyRepository(db *gorm.DB) CompanyRepository {
	return &CompanyRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Company, models.CompanyFilter](db),
	}
}

// ByID retrieves a company by its ID
func (r *CompanyRepositoryImpl) ByID(ctx context.Context, id uint) (*models.Company, error) {
	db := r.getDB(ctx)
	var row models.Company
	if err := db.First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// ExistingIDs returns the subset of ids that exist, ascending
func (r *CompanyRepositoryImpl) ExistingIDs(ctx context.Context, ids []int64) ([]int64, error) {
	out := []int64{}
	if len(ids) == 0 {
		return out, nil
	}
	db := r.getDB(ctx)
	if err := db.Model(&models.Company{}).Where("id IN ?", ids).Order("id ASC").Pluck("id", &out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// applyFilter applies filter criteria to a GORM query
func (r *CompanyRepositoryImpl) applyFilter(query *gorm.DB, filter models.CompanyFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if len(filter.IDs) > 0 {
		query = query.Where("id IN ?", filter.IDs)
	}
	if filter.Name != nil {
		query = query.Where("companyname = ?", *filter.Name)
	}
	if filter.Country != nil {
		query = query.Where("companycountry = ?", *filter.Country)
	}
	if filter.IsPublished != nil {
		query = query.Where("is_published = ?", *filter.IsPublished)
	}
	if filter.AddedAfter != nil {
		query = query.Where("date_added > ?", *filter.AddedAfter)
	}
	if filter.AddedBefore != nil {
		query = query.Where("date_added < ?", *filter.AddedBefore)
	}
	return query
}

// ByFilter retrieves companies based on filter criteria
func (r *CompanyRepositoryImpl) ByFilter(ctx context.Context, filter models.CompanyFilter, orderBy string, limit, offset int) ([]*models.Company, error) {
	db := r.getDB(ctx)
	query := db.Model(&models.Company{})

	query = r.applyFilter(query, filter)

	if orderBy == "" {
		orderBy = "id ASC"
	}
	query = query.Order(orderBy)

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var rows []*models.Company
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/amirphl/company-segments/models"
	"gorm.io/gorm"
)

// SegmentRepositoryImpl implements SegmentRepository interface
type SegmentRepositoryImpl struct {
	*BaseRepository[models.Segment, models.SegmentFilter]
}

// NewSegmentRepository creates a new segment repository
func NewSegmentRepository(db *gorm.DB) SegmentRepository {
	return &SegmentRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Segment, models.SegmentFilter](db),
	}
}

// ByID retrieves a segment by its ID
func (r *SegmentRepositoryImpl) ByID(ctx context.Context, id uint) (*models.Segment, error) {
	db := r.getDB(ctx)
	var row models.Segment
	if err := db.First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// ByAlias retrieves a segment by alias
func (r *SegmentRepositoryImpl) ByAlias(ctx context.Context, alias string) (*models.Segment, error) {
	rows, err := r.ByFilter(ctx, models.SegmentFilter{Alias: &alias}, "", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// ListByIDs retrieves segments for a list of ids ordered by id
func (r *SegmentRepositoryImpl) ListByIDs(ctx context.Context, ids []uint) ([]*models.Segment, error) {
	if len(ids) == 0 {
		return []*models.Segment{}, nil
	}
	return r.ByFilter(ctx, models.SegmentFilter{IDs: ids}, "id ASC", 0, 0)
}

// ListPublished retrieves published segments ordered by id, minus the excluded ids
func (r *SegmentRepositoryImpl) ListPublished(ctx context.Context, excludeIDs []uint) ([]*models.Segment, error) {
	published := true
	return r.ByFilter(ctx, models.SegmentFilter{IsPublished: &published, ExcludeIDs: excludeIDs}, "id ASC", 0, 0)
}

// ListReferencing returns the segments whose filters reference segmentID
func (r *SegmentRepositoryImpl) ListReferencing(ctx context.Context, segmentID uint) ([]*models.Segment, error) {
	db := r.getDB(ctx)

	var rows []*models.Segment
	err := db.Model(&models.Segment{}).
		Where("id <> ? AND CAST(filters AS TEXT) LIKE ?", segmentID, "%"+models.SegmentReferenceField+"%").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list referencing segments: %w", err)
	}

	out := make([]*models.Segment, 0, len(rows))
	for _, row := range rows {
		ids, err := row.Filters.ReferencedSegmentIDs()
		if err != nil {
			// A broken filter still blocks nothing; it fails on its own rebuild.
			continue
		}
		if slices.Contains(ids, segmentID) {
			out = append(out, row)
		}
	}
	return out, nil
}

// UpdateBuildStats stamps the last full rebuild time and duration
func (r *SegmentRepositoryImpl) UpdateBuildStats(ctx context.Context, segmentID uint, builtAt time.Time, seconds float64) error {
	db := r.getDB(ctx)
	res := db.Model(&models.Segment{}).
		Where("id = ?", segmentID).
		Updates(map[string]any{
			"last_built_date": builtAt,
			"last_built_time": seconds,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update build stats of segment %d: %w", segmentID, res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Delete removes a segment; membership rows cascade
func (r *SegmentRepositoryImpl) Delete(ctx context.Context, segmentID uint) (err error) {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return err
	}
	defer func() { err = finish(db, shouldCommit, err) }()

	// Explicit cleanup keeps SQLite without foreign_keys pragma consistent
	if err = db.Where("segment_id = ?", segmentID).Delete(&models.SegmentMember{}).Error; err != nil {
		return fmt.Errorf("failed to delete memberships of segment %d: %w", segmentID, err)
	}
	if err = db.Delete(&models.Segment{}, segmentID).Error; err != nil {
		return fmt.Errorf("failed to delete segment %d: %w", segmentID, err)
	}
	return nil
}

// applyFilter applies filter criteria to a GORM query
func (r *SegmentRepositoryImpl) applyFilter(query *gorm.DB, filter models.SegmentFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if len(filter.IDs) > 0 {
		query = query.Where("id IN ?", filter.IDs)
	}
	if len(filter.ExcludeIDs) > 0 {
		query = query.Where("id NOT IN ?", filter.ExcludeIDs)
	}
	if filter.Alias != nil {
		query = query.Where("alias = ?", *filter.Alias)
	}
	if filter.IsPublished != nil {
		query = query.Where("is_published = ?", *filter.IsPublished)
	}
	if filter.IsGlobal != nil {
		query = query.Where("is_global = ?", *filter.IsGlobal)
	}
	return query
}

// ByFilter retrieves segments based on filter criteria
func (r *SegmentRepositoryImpl) ByFilter(ctx context.Context, filter models.SegmentFilter, orderBy string, limit, offset int) ([]*models.Segment, error) {
	db := r.getDB(ctx)
	query := db.Model(&models.Segment{})

	query = r.applyFilter(query, filter)

	if orderBy == "" {
		orderBy = "id DESC"
	}
	query = query.Order(orderBy)

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var rows []*models.Segment
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

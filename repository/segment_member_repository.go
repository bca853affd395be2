package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/amirphl/company-segments/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const memberWriteBatchSize = 500

// SegmentMemberRepositoryImpl implements SegmentMemberRepository interface
type SegmentMemberRepositoryImpl struct {
	*BaseRepository[models.SegmentMember, models.SegmentMemberFilter]
}

// NewSegmentMemberRepository creates a new segment membership repository
func NewSegmentMemberRepository(db *gorm.DB) SegmentMemberRepository {
	return &SegmentMemberRepositoryImpl{
		BaseRepository: NewBaseRepository[models.SegmentMember, models.SegmentMemberFilter](db),
	}
}

type countRow struct {
	Count int64
	MinID *int64
	MaxID *int64
}

func (c countRow) result() CountResult {
	return CountResult{Count: c.Count, MinID: c.MinID, MaxID: c.MaxID}
}

func matchAlias(match CompanyMatch) string {
	if match.Alias == "" {
		return "c"
	}
	return match.Alias
}

// candidateQuery selects companies matching the condition that have no membership row at all,
// including manually removed tombstones
func candidateQuery(selectList string, segmentID uint, match CompanyMatch) (string, []any) {
	alias := matchAlias(match)
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM companies %s WHERE (%s)", selectList, alias, match.Condition)
	fmt.Fprintf(&sb, " AND NOT EXISTS (SELECT 1 FROM company_segment_members cand_m WHERE cand_m.segment_id = ? AND cand_m.company_id = %s.id)", alias)

	args := make([]any, 0, len(match.Args)+1)
	args = append(args, match.Args...)
	args = append(args, segmentID)
	return sb.String(), args
}

// orphanQuery selects computed membership rows whose company no longer matches the condition
func orphanQuery(selectList string, segmentID uint, match CompanyMatch, ids IDRange) (string, []any) {
	alias := matchAlias(match)
	var sb strings.Builder
	args := []any{segmentID, false, false}

	fmt.Fprintf(&sb, "SELECT %s FROM company_segment_members orph_m", selectList)
	sb.WriteString(" WHERE orph_m.segment_id = ? AND orph_m.manually_added = ? AND orph_m.manually_removed = ?")
	if ids.MinID != nil {
		sb.WriteString(" AND orph_m.company_id >= ?")
		args = append(args, *ids.MinID)
	}
	if ids.MaxID != nil {
		sb.WriteString(" AND orph_m.company_id <= ?")
		args = append(args, *ids.MaxID)
	}
	fmt.Fprintf(&sb, " AND NOT EXISTS (SELECT 1 FROM companies %s WHERE %s.id = orph_m.company_id AND (%s))", alias, alias, match.Condition)
	args = append(args, match.Args...)
	return sb.String(), args
}

// CountMatching counts all companies matching the condition
func (r *SegmentMemberRepositoryImpl) CountMatching(ctx context.Context, match CompanyMatch) (CountResult, error) {
	db := r.getDB(ctx)
	alias := matchAlias(match)

	sql := fmt.Sprintf("SELECT COUNT(%[1]s.id) AS count, MIN(%[1]s.id) AS min_id, MAX(%[1]s.id) AS max_id FROM companies %[1]s WHERE (%[2]s)",
		alias, match.Condition)

	var row countRow
	if err := db.Raw(sql, match.Args...).Scan(&row).Error; err != nil {
		return CountResult{}, fmt.Errorf("failed to count matching companies: %w", err)
	}
	return row.result(), nil
}

// CountCandidates counts matching companies not yet recorded for the segment
func (r *SegmentMemberRepositoryImpl) CountCandidates(ctx context.Context, segmentID uint, match CompanyMatch) (CountResult, error) {
	db := r.getDB(ctx)
	alias := matchAlias(match)

	sql, args := candidateQuery(fmt.Sprintf("COUNT(%[1]s.id) AS count, MIN(%[1]s.id) AS min_id, MAX(%[1]s.id) AS max_id", alias), segmentID, match)

	var row countRow
	if err := db.Raw(sql, args...).Scan(&row).Error; err != nil {
		return CountResult{}, fmt.Errorf("failed to count new members of segment %d: %w", segmentID, err)
	}
	return row.result(), nil
}

// ListCandidateIDs returns up to limit candidate company ids in ascending order
func (r *SegmentMemberRepositoryImpl) ListCandidateIDs(ctx context.Context, segmentID uint, match CompanyMatch, limit int) ([]int64, error) {
	ids := []int64{}
	if limit <= 0 {
		return ids, nil
	}
	db := r.getDB(ctx)
	alias := matchAlias(match)

	sql, args := candidateQuery(alias+".id", segmentID, match)
	sql += fmt.Sprintf(" ORDER BY %s.id ASC LIMIT ?", alias)
	args = append(args, limit)

	if err := db.Raw(sql, args...).Scan(&ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list new members of segment %d: %w", segmentID, err)
	}
	return ids, nil
}

// CountOrphaned counts computed members that no longer match the condition
func (r *SegmentMemberRepositoryImpl) CountOrphaned(ctx context.Context, segmentID uint, match CompanyMatch, ids IDRange) (CountResult, error) {
	db := r.getDB(ctx)

	sql, args := orphanQuery("COUNT(orph_m.company_id) AS count, MIN(orph_m.company_id) AS min_id, MAX(orph_m.company_id) AS max_id", segmentID, match, ids)

	var row countRow
	if err := db.Raw(sql, args...).Scan(&row).Error; err != nil {
		return CountResult{}, fmt.Errorf("failed to count orphaned members of segment %d: %w", segmentID, err)
	}
	return row.result(), nil
}

// ListOrphanedIDs returns up to limit orphaned company ids in ascending order
func (r *SegmentMemberRepositoryImpl) ListOrphanedIDs(ctx context.Context, segmentID uint, match CompanyMatch, ids IDRange, limit int) ([]int64, error) {
	out := []int64{}
	if limit <= 0 {
		return out, nil
	}
	db := r.getDB(ctx)

	sql, args := orphanQuery("orph_m.company_id", segmentID, match, ids)
	sql += " ORDER BY orph_m.company_id ASC LIMIT ?"
	args = append(args, limit)

	if err := db.Raw(sql, args...).Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list orphaned members of segment %d: %w", segmentID, err)
	}
	return out, nil
}

// ExistingCompanyIDs returns which of companyIDs already have a row for the segment
func (r *SegmentMemberRepositoryImpl) ExistingCompanyIDs(ctx context.Context, segmentID uint, companyIDs []int64) ([]int64, error) {
	out := []int64{}
	if len(companyIDs) == 0 {
		return out, nil
	}
	db := r.getDB(ctx)
	err := db.Model(&models.SegmentMember{}).
		Where("segment_id = ? AND company_id IN ?", segmentID, companyIDs).
		Order("company_id ASC").
		Pluck("company_id", &out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load existing members of segment %d: %w", segmentID, err)
	}
	return out, nil
}

// InsertComputed creates computed rows; rows that already exist are left untouched
func (r *SegmentMemberRepositoryImpl) InsertComputed(ctx context.Context, segmentID uint, companyIDs []int64, dateAdded time.Time) (n int64, err error) {
	if len(companyIDs) == 0 {
		return 0, nil
	}

	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { err = finish(db, shouldCommit, err) }()

	rows := make([]models.SegmentMember, 0, len(companyIDs))
	for _, id := range companyIDs {
		rows = append(rows, models.SegmentMember{SegmentID: segmentID, CompanyID: id, DateAdded: dateAdded})
	}

	res := db.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&rows, memberWriteBatchSize)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to insert members of segment %d: %w", segmentID, res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteComputed deletes rows without any manual override
func (r *SegmentMemberRepositoryImpl) DeleteComputed(ctx context.Context, segmentID uint, companyIDs []int64) (n int64, err error) {
	if len(companyIDs) == 0 {
		return 0, nil
	}

	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { err = finish(db, shouldCommit, err) }()

	res := db.Where("segment_id = ? AND company_id IN ? AND manually_added = ? AND manually_removed = ?", segmentID, companyIDs, false, false).
		Delete(&models.SegmentMember{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete members of segment %d: %w", segmentID, res.Error)
	}
	return res.RowsAffected, nil
}

// MarkManuallyAdded upserts rows with the add override set and the remove override cleared
func (r *SegmentMemberRepositoryImpl) MarkManuallyAdded(ctx context.Context, segmentID uint, companyIDs []int64, at time.Time) error {
	return r.upsertOverride(ctx, segmentID, companyIDs, at, (*models.SegmentMember).MarkManuallyAdded)
}

// MarkManuallyRemoved upserts rows with the remove override set and the add override cleared
func (r *SegmentMemberRepositoryImpl) MarkManuallyRemoved(ctx context.Context, segmentID uint, companyIDs []int64, at time.Time) error {
	return r.upsertOverride(ctx, segmentID, companyIDs, at, (*models.SegmentMember).MarkManuallyRemoved)
}

func (r *SegmentMemberRepositoryImpl) upsertOverride(ctx context.Context, segmentID uint, companyIDs []int64, at time.Time, mark func(*models.SegmentMember)) (err error) {
	if len(companyIDs) == 0 {
		return nil
	}

	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return err
	}
	defer func() { err = finish(db, shouldCommit, err) }()

	rows := make([]models.SegmentMember, 0, len(companyIDs))
	for _, id := range companyIDs {
		row := models.SegmentMember{SegmentID: segmentID, CompanyID: id, DateAdded: at}
		mark(&row)
		rows = append(rows, row)
	}

	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "segment_id"}, {Name: "company_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"manually_added", "manually_removed"}),
	}).CreateInBatches(&rows, memberWriteBatchSize).Error
	if err != nil {
		return fmt.Errorf("failed to write overrides of segment %d: %w", segmentID, err)
	}
	return nil
}

// ActiveCompanyIDs lists company ids currently in the segment, ascending
func (r *SegmentMemberRepositoryImpl) ActiveCompanyIDs(ctx context.Context, segmentID uint) ([]int64, error) {
	out := []int64{}
	db := r.getDB(ctx)
	err := db.Model(&models.SegmentMember{}).
		Where("segment_id = ? AND manually_removed = ?", segmentID, false).
		Order("company_id ASC").
		Pluck("company_id", &out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CountActive counts companies currently in the segment
func (r *SegmentMemberRepositoryImpl) CountActive(ctx context.Context, segmentID uint) (int64, error) {
	removed := false
	return r.Count(ctx, models.SegmentMemberFilter{SegmentID: &segmentID, ManuallyRemoved: &removed})
}

// ListMembers returns one keyset page of active members joined with their company
func (r *SegmentMemberRepositoryImpl) ListMembers(ctx context.Context, segmentID uint, afterCompanyID int64, limit int) ([]MemberRow, error) {
	db := r.getDB(ctx)

	var rows []MemberRow
	err := db.Raw(`
		SELECT m.company_id, c.companyname, c.companyemail, c.companycity, c.companycountry,
			m.date_added, m.manually_added
		FROM company_segment_members m
		JOIN companies c ON c.id = m.company_id
		WHERE m.segment_id = ? AND m.manually_removed = ? AND m.company_id > ?
		ORDER BY m.company_id ASC
		LIMIT ?
	`, segmentID, false, afterCompanyID, limit).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list members of segment %d: %w", segmentID, err)
	}
	return rows, nil
}

// applyFilter applies filter criteria to a GORM query
func (r *SegmentMemberRepositoryImpl) applyFilter(query *gorm.DB, filter models.SegmentMemberFilter) *gorm.DB {
	if filter.SegmentID != nil {
		query = query.Where("segment_id = ?", *filter.SegmentID)
	}
	if len(filter.CompanyIDs) > 0 {
		query = query.Where("company_id IN ?", filter.CompanyIDs)
	}
	if filter.ManuallyAdded != nil {
		query = query.Where("manually_added = ?", *filter.ManuallyAdded)
	}
	if filter.ManuallyRemoved != nil {
		query = query.Where("manually_removed = ?", *filter.ManuallyRemoved)
	}
	if filter.AddedAfter != nil {
		query = query.Where("date_added > ?", *filter.AddedAfter)
	}
	if filter.AddedBefore != nil {
		query = query.Where("date_added < ?", *filter.AddedBefore)
	}
	return query
}

// ByFilter retrieves membership rows based on filter criteria
func (r *SegmentMemberRepositoryImpl) ByFilter(ctx context.Context, filter models.SegmentMemberFilter, orderBy string, limit, offset int) ([]*models.SegmentMember, error) {
	db := r.getDB(ctx)
	query := db.Model(&models.SegmentMember{})

	query = r.applyFilter(query, filter)

	if orderBy == "" {
		orderBy = "company_id ASC"
	}
	query = query.Order(orderBy)

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var rows []*models.SegmentMember
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Count returns the number of membership rows matching the filter
func (r *SegmentMemberRepositoryImpl) Count(ctx context.Context, filter models.SegmentMemberFilter) (int64, error) {
	db := r.getDB(ctx)
	query := db.Model(&models.SegmentMember{})
	query = r.applyFilter(query, filter)

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

package businessflow

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/company-segments/models"
	"github.com/amirphl/company-segments/repository"
	"github.com/amirphl/company-segments/utils"
	"github.com/go-playground/validator/v10"
	"github.com/xuri/excelize/v2"
)

// ExportRequest selects a segment by id or alias
type ExportRequest struct {
	SegmentID uint   `validate:"omitempty,gt=0"`
	Alias     string `validate:"omitempty,segment_alias"`
	PageSize  int    `validate:"omitempty,gt=0"`
}

// SegmentExportFlow writes segment members to spreadsheets
type SegmentExportFlow interface {
	ExportMembersExcel(ctx context.Context, req ExportRequest) (string, []byte, error)
}

type SegmentExportFlowImpl struct {
	segmentRepo repository.SegmentRepository
	memberRepo  repository.SegmentMemberRepository
	validate    *validator.Validate
}

func NewSegmentExportFlow(segmentRepo repository.SegmentRepository, memberRepo repository.SegmentMemberRepository) SegmentExportFlow {
	return &SegmentExportFlowImpl{
		segmentRepo: segmentRepo,
		memberRepo:  memberRepo,
		validate:    newValidator(),
	}
}

var exportRequestErrors = map[string]error{
	"SegmentID": ErrInvalidSegmentID,
	"Alias":     ErrInvalidAlias,
}

// summarySheet cannot collide with a member sheet since aliases never contain spaces
const summarySheet = "Export Summary"

// ExportMembersExcel returns the file name and content of an xlsx with every current member
func (f *SegmentExportFlowImpl) ExportMembersExcel(ctx context.Context, req ExportRequest) (string, []byte, error) {
	if err := f.validate.Struct(&req); err != nil {
		return "", nil, validationError(err, exportRequestErrors)
	}
	if req.SegmentID == 0 && req.Alias == "" {
		return "", nil, NewBusinessError("VALIDATION_ERROR", "Segment id or alias is required", ErrInvalidSegmentID)
	}

	seg, err := f.loadSegment(ctx, req)
	if err != nil {
		return "", nil, err
	}

	total, err := f.memberRepo.CountActive(ctx, seg.ID)
	if err != nil {
		return "", nil, NewBusinessError("COUNT_MEMBERS_FAILED", "Failed to count segment members", err)
	}

	pageSize := req.PageSize
	if pageSize == 0 {
		pageSize = utils.DefaultExportPageSize
	}

	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	sheet := sanitizeSheetName(seg.Alias)
	xl.SetSheetName(xl.GetSheetName(0), sheet)

	header := []string{"company_id", "name", "email", "city", "country", "date_added", "manually_added"}
	_ = xl.SetSheetRow(sheet, "A1", &header)

	row := 2
	var after int64
	for {
		members, err := f.memberRepo.ListMembers(ctx, seg.ID, after, pageSize)
		if err != nil {
			return "", nil, NewBusinessError("FETCH_MEMBERS_FAILED", "Failed to fetch segment members", err)
		}
		for _, m := range members {
			record := []string{
				strconv.FormatInt(m.CompanyID, 10),
				m.Name,
				deref(m.Email),
				deref(m.City),
				deref(m.Country),
				m.DateAdded.UTC().Format(time.RFC3339),
				strconv.FormatBool(m.ManuallyAdded),
			}
			cellRef, _ := excelize.CoordinatesToCellName(1, row)
			_ = xl.SetSheetRow(sheet, cellRef, &record)
			row++
		}
		if len(members) < pageSize {
			break
		}
		after = members[len(members)-1].CompanyID
	}

	// The summary sheet records the member count seen before paging started
	if _, err := xl.NewSheet(summarySheet); err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to add summary sheet", err)
	}
	summary := [][]any{
		{"segment_id", seg.ID},
		{"alias", seg.Alias},
		{"members", total},
		{"exported", row - 2},
	}
	for i, r := range summary {
		cellRef, _ := excelize.CoordinatesToCellName(1, i+1)
		_ = xl.SetSheetRow(summarySheet, cellRef, &r)
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}
	filename := fmt.Sprintf("segment_%s_members.xlsx", seg.Alias)
	return filename, buf.Bytes(), nil
}

func (f *SegmentExportFlowImpl) loadSegment(ctx context.Context, req ExportRequest) (*models.Segment, error) {
	var seg *models.Segment
	var err error
	if req.SegmentID != 0 {
		seg, err = f.segmentRepo.ByID(ctx, req.SegmentID)
	} else {
		seg, err = f.segmentRepo.ByAlias(ctx, req.Alias)
	}
	if err != nil {
		return nil, NewBusinessError("SEGMENT_LOAD_FAILED", "Failed to load segment", err)
	}
	if seg == nil {
		return nil, NewBusinessError("SEGMENT_NOT_FOUND", "Segment not found", ErrSegmentNotFound)
	}
	return seg, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func sanitizeSheetName(name string) string {
	// Excel sheet names cannot contain: : \\ / ? * [ ] and must be <= 31 chars
	replacer := strings.NewReplacer(":", "_", "\\", "_", "/", "_", "?", "_", "*", "_", "[", "_", "]", "_")
	safe := replacer.Replace(name)
	return truncateSheetName(strings.TrimSpace(safe))
}

func truncateSheetName(name string) string {
	if len(name) > 31 {
		return name[:31]
	}
	if name == "" {
		return "Sheet"
	}
	return name
}

package models

import "time"

// SegmentMember is the persisted membership fact of one company in one segment.
// Table: company_segment_members
// ManuallyAdded and ManuallyRemoved are mutually exclusive overrides; rows with
// both flags false are computed from the segment filters
type SegmentMember struct {
	SegmentID       uint      `gorm:"primaryKey;autoIncrement:false" json:"segment_id"`
	CompanyID       int64     `gorm:"primaryKey;autoIncrement:false;index:idx_company_segment_members_company" json:"company_id"`
	DateAdded       time.Time `gorm:"not null" json:"date_added"`
	ManuallyAdded   bool      `gorm:"not null" json:"manually_added"`
	ManuallyRemoved bool      `gorm:"not null" json:"manually_removed"`
}

func (SegmentMember) TableName() string { return "company_segment_members" }

// MarkManuallyAdded sets the add override and clears the remove override
func (m *SegmentMember) MarkManuallyAdded() {
	m.ManuallyAdded = true
	m.ManuallyRemoved = false
}

// MarkManuallyRemoved sets the remove override and clears the add override
func (m *SegmentMember) MarkManuallyRemoved() {
	m.ManuallyRemoved = true
	m.ManuallyAdded = false
}

// IsComputed reports whether the row carries no manual override
func (m *SegmentMember) IsComputed() bool {
	return !m.ManuallyAdded && !m.ManuallyRemoved
}

// SegmentMemberFilter represents filter criteria for membership queries
type SegmentMemberFilter struct {
	SegmentID       *uint
	CompanyIDs      []int64
	ManuallyAdded   *bool
	ManuallyRemoved *bool
	AddedAfter      *time.Time
	AddedBefore     *time.Time
}

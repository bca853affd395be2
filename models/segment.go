package models

import "time"

// Segment is a named, dynamically defined group of companies selected by its filters.
// Table: company_segments
// Alias is unique and slug shaped; last_built_* are written only by full rebuilds
type Segment struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	Name          string     `gorm:"size:255;not null" json:"name"`
	Alias         string     `gorm:"size:191;not null;uniqueIndex:uk_company_segments_alias" json:"alias"`
	Description   *string    `gorm:"type:text" json:"description,omitempty"`
	IsPublished   bool       `gorm:"not null;index:idx_company_segments_is_published" json:"is_published"`
	IsGlobal      bool       `gorm:"not null" json:"is_global"`
	Filters       FilterList `gorm:"type:jsonb;not null" json:"filters"`
	LastBuiltAt   *time.Time `gorm:"column:last_built_date" json:"last_built_date,omitempty"`
	LastBuiltTime *float64   `gorm:"column:last_built_time" json:"last_built_time,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (Segment) TableName() string { return "company_segments" }

// IsManualOnly reports whether membership comes from manual overrides only
func (s *Segment) IsManualOnly() bool {
	return len(s.Filters) == 0
}

// SegmentFilter represents filter criteria for segment queries
type SegmentFilter struct {
	ID          *uint
	IDs         []uint
	ExcludeIDs  []uint
	Alias       *string
	IsPublished *bool
	IsGlobal    *bool
}

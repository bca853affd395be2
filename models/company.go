package models

import "time"

// Company is the entity that segments group.
// Table: companies
// Column names follow the CRM import layout (companyname, companycity, ...)
type Company struct {
	ID                int64      `gorm:"primaryKey" json:"id"`
	Name              string     `gorm:"column:companyname;size:255;not null" json:"companyname"`
	Email             *string    `gorm:"column:companyemail;size:255" json:"companyemail,omitempty"`
	Phone             *string    `gorm:"column:companyphone;size:64" json:"companyphone,omitempty"`
	Website           *string    `gorm:"column:companywebsite;size:255" json:"companywebsite,omitempty"`
	Address1          *string    `gorm:"column:companyaddress1;size:255" json:"companyaddress1,omitempty"`
	City              *string    `gorm:"column:companycity;size:255;index:idx_companies_city" json:"companycity,omitempty"`
	State             *string    `gorm:"column:companystate;size:255" json:"companystate,omitempty"`
	ZipCode           *string    `gorm:"column:companyzipcode;size:32" json:"companyzipcode,omitempty"`
	Country           *string    `gorm:"column:companycountry;size:255;index:idx_companies_country" json:"companycountry,omitempty"`
	Industry          *string    `gorm:"column:companyindustry;size:255" json:"companyindustry,omitempty"`
	Revenue           *float64   `gorm:"column:companyrevenue;type:numeric(16,2)" json:"companyrevenue,omitempty"`
	NumberOfEmployees *int64     `gorm:"column:companynumber_of_employees" json:"companynumber_of_employees,omitempty"`
	Description       *string    `gorm:"column:companydescription;type:text" json:"companydescription,omitempty"`
	IsPublished       bool       `gorm:"not null" json:"is_published"`
	DateAdded         time.Time  `gorm:"not null;index:idx_companies_date_added" json:"date_added"`
	DateModified      *time.Time `json:"date_modified,omitempty"`
}

func (Company) TableName() string { return "companies" }

// CompanyFilter represents filter criteria for company queries
type CompanyFilter struct {
	ID          *int64
	IDs         []int64
	Name        *string
	Country     *string
	IsPublished *bool
	AddedAfter  *time.Time
	AddedBefore *time.Time
}

package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NAMCandidate is one recognized identifier-like token tied to a specific
// page of an extraction job. Rows are created in batch during the
// recognition stage; the validity columns are filled during validation;
// Excluded and ExportIncluded are written later by the operator and the
// export pass respectively.
type NAMCandidate struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	JobID          uuid.UUID      `gorm:"type:uuid;not null;index" json:"job_id"`
	Job            *ExtractionJob `gorm:"constraint:OnDelete:CASCADE;foreignKey:JobID;references:ID" json:"-"`
	PageNumber     int            `gorm:"column:page_number;not null" json:"page_number"`
	RawToken       string         `gorm:"column:raw_token;not null" json:"raw_token"`
	Token          string         `gorm:"column:token;not null" json:"token"`
	FormatValid    bool           `gorm:"column:format_valid;not null;default:false" json:"format_valid"`
	FormatReason   string         `gorm:"column:format_reason" json:"format_reason,omitempty"`
	VisitDate      *string        `gorm:"column:visit_date" json:"visit_date,omitempty"`
	DateValid      bool           `gorm:"column:date_valid;not null;default:false" json:"date_valid"`
	DateReason     string         `gorm:"column:date_reason" json:"date_reason,omitempty"`
	VisitTime      string         `gorm:"column:visit_time;not null;default:'08:00'" json:"visit_time"`
	TimeValid      bool           `gorm:"column:time_valid;not null;default:false" json:"time_valid"`
	TimeReason     string         `gorm:"column:time_reason" json:"time_reason,omitempty"`
	Excluded       bool           `gorm:"column:excluded;not null;default:false" json:"excluded"`
	ExportIncluded bool           `gorm:"column:export_included;not null;default:false" json:"export_included"`
	CreatedAt      time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (NAMCandidate) TableName() string { return "nam_candidate" }

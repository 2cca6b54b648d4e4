package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

const (
	StageTextExtraction = "text_extraction"
	StageRecognition    = "recognition"
	StageValidation     = "validation"
)

// ExtractionJob is one end-to-end run of the NAM extraction pipeline for one
// uploaded scan. Only the pipeline worker mutates status/stage/progress; once
// the job reaches a terminal status the row is read-only apart from the
// candidate curation flags living on nam_candidate.
type ExtractionJob struct {
	ID              uuid.UUID         `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerUserID     uuid.UUID         `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	FilePath        string            `gorm:"column:file_path;not null" json:"file_path"`
	OriginalName    string            `gorm:"column:original_name" json:"original_name"`
	UploadMeta      datatypes.JSONMap `gorm:"column:upload_meta;type:jsonb" json:"upload_meta,omitempty"`
	Status          string            `gorm:"column:status;not null;default:'queued';index" json:"status"`
	Stage           *string           `gorm:"column:stage" json:"stage,omitempty"`
	Progress        int               `gorm:"column:progress;not null;default:0" json:"progress"`
	PageCount       int               `gorm:"column:page_count;not null;default:0" json:"page_count"`
	FoundCount      int               `gorm:"column:found_count;not null;default:0" json:"found_count"`
	ValidCount      int               `gorm:"column:valid_count;not null;default:0" json:"valid_count"`
	CancelRequested bool              `gorm:"column:cancel_requested;not null;default:false" json:"cancel_requested"`
	FaultCategory   string            `gorm:"column:fault_category" json:"fault_category,omitempty"`
	FaultMessage    string            `gorm:"column:fault_message" json:"fault_message,omitempty"`
	FaultDetail     string            `gorm:"column:fault_detail" json:"fault_detail,omitempty"`
	StartedAt       *time.Time        `gorm:"column:started_at" json:"started_at,omitempty"`
	FinishedAt      *time.Time        `gorm:"column:finished_at" json:"finished_at,omitempty"`
	CreatedAt       time.Time         `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt       time.Time         `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt       gorm.DeletedAt    `gorm:"index" json:"deleted_at,omitempty"`
}

func (ExtractionJob) TableName() string { return "extraction_job" }

// Terminal reports whether the job can no longer transition.
func (j *ExtractionJob) Terminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

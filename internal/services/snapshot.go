package services

import (
	"github.com/google/uuid"

	"github.com/montignypatrik/facnet-validator-sub009/internal/types"
)

// JobStatusSnapshot is the single status shape served by both the polling
// endpoint and the SSE stream. Both must always describe the same persisted
// state, so everything here comes straight off the job row.
type JobStatusSnapshot struct {
	JobID         uuid.UUID `json:"job_id"`
	Status        string    `json:"status"`
	Stage         *string   `json:"stage,omitempty"`
	Progress      int       `json:"progress"`
	PageCount     int       `json:"page_count"`
	FoundCount    int       `json:"found_count"`
	ValidCount    int       `json:"valid_count"`
	FaultCategory string    `json:"fault_category,omitempty"`
	FaultMessage  string    `json:"fault_message,omitempty"`
}

func SnapshotOf(job *types.ExtractionJob) JobStatusSnapshot {
	return JobStatusSnapshot{
		JobID:         job.ID,
		Status:        job.Status,
		Stage:         job.Stage,
		Progress:      job.Progress,
		PageCount:     job.PageCount,
		FoundCount:    job.FoundCount,
		ValidCount:    job.ValidCount,
		FaultCategory: job.FaultCategory,
		FaultMessage:  job.FaultMessage,
	}
}

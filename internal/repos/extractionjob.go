package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/montignypatrik/facnet-validator-sub009/internal/faults"
	"github.com/montignypatrik/facnet-validator-sub009/internal/logger"
	"github.com/montignypatrik/facnet-validator-sub009/internal/types"
)

type ExtractionJobRepo interface {
	Create(ctx context.Context, tx *gorm.DB, job *types.ExtractionJob) (*types.ExtractionJob, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ExtractionJob, error)
	// ClaimNextQueued picks the oldest queued job and marks it running
	// (SKIP LOCKED). Returns nil when nothing is runnable. Single attempt
	// only: failed jobs are never reclaimed here.
	ClaimNextQueued(ctx context.Context, tx *gorm.DB) (*types.ExtractionJob, error)
	SetStageProgress(ctx context.Context, tx *gorm.DB, id uuid.UUID, stage string, progress int, counters map[string]interface{}) error
	MarkCompleted(ctx context.Context, tx *gorm.DB, id uuid.UUID, validCount int) error
	MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, stage string, fault faults.Fault) error
	MarkCancelled(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	// CancelIfQueued flips a still-queued job straight to cancelled.
	// Returns false when the job was no longer queued.
	CancelIfQueued(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error)
	// RequestCancel sets the best-effort cancellation flag on a running job.
	RequestCancel(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	// CancelRequested re-reads only the cancellation flag.
	CancelRequested(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error)
}

type extractionJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewExtractionJobRepo(db *gorm.DB, baseLog *logger.Logger) ExtractionJobRepo {
	return &extractionJobRepo{
		db:  db,
		log: baseLog.With("repo", "ExtractionJobRepo"),
	}
}

func (r *extractionJobRepo) Create(ctx context.Context, tx *gorm.DB, job *types.ExtractionJob) (*types.ExtractionJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if job == nil {
		return nil, errors.New("nil job")
	}
	if err := transaction.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *extractionJobRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ExtractionJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var job types.ExtractionJob
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *extractionJobRepo) ClaimNextQueued(ctx context.Context, tx *gorm.DB) (*types.ExtractionJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var claimed *types.ExtractionJob
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var job types.ExtractionJob
		qErr := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", types.JobStatusQueued).
			Order("created_at ASC").
			First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		now := time.Now()
		updates := map[string]interface{}{
			"status":     types.JobStatusRunning,
			"started_at": now,
			"updated_at": now,
		}
		if uErr := txx.Model(&types.ExtractionJob{}).
			Where("id = ?", job.ID).
			Updates(updates).Error; uErr != nil {
			return uErr
		}
		job.Status = types.JobStatusRunning
		job.StartedAt = &now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *extractionJobRepo) SetStageProgress(ctx context.Context, tx *gorm.DB, id uuid.UUID, stage string, progress int, counters map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	updates := map[string]interface{}{
		"stage":      stage,
		"progress":   progress,
		"updated_at": time.Now(),
	}
	for k, v := range counters {
		updates[k] = v
	}
	return transaction.WithContext(ctx).
		Model(&types.ExtractionJob{}).
		Where("id = ? AND status = ?", id, types.JobStatusRunning).
		Updates(updates).Error
}

func (r *extractionJobRepo) MarkCompleted(ctx context.Context, tx *gorm.DB, id uuid.UUID, validCount int) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.ExtractionJob{}).
		Where("id = ? AND status = ?", id, types.JobStatusRunning).
		Updates(map[string]interface{}{
			"status":      types.JobStatusCompleted,
			"stage":       nil,
			"progress":    100,
			"valid_count": validCount,
			"finished_at": now,
			"updated_at":  now,
		}).Error
}

func (r *extractionJobRepo) MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, stage string, fault faults.Fault) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	r.log.Warn("Marking job failed", "job_id", id, "stage", stage, "category", fault.Category, "detail", fault.Detail)
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.ExtractionJob{}).
		Where("id = ? AND status = ?", id, types.JobStatusRunning).
		Updates(map[string]interface{}{
			"status":         types.JobStatusFailed,
			"stage":          nil,
			"fault_category": string(fault.Category),
			"fault_message":  fault.Message,
			"fault_detail":   fault.Detail,
			"finished_at":    now,
			"updated_at":     now,
		}).Error
}

func (r *extractionJobRepo) MarkCancelled(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.ExtractionJob{}).
		Where("id = ? AND status = ?", id, types.JobStatusRunning).
		Updates(map[string]interface{}{
			"status":      types.JobStatusCancelled,
			"stage":       nil,
			"finished_at": now,
			"updated_at":  now,
		}).Error
}

func (r *extractionJobRepo) CancelIfQueued(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	res := transaction.WithContext(ctx).
		Model(&types.ExtractionJob{}).
		Where("id = ? AND status = ?", id, types.JobStatusQueued).
		Updates(map[string]interface{}{
			"status":      types.JobStatusCancelled,
			"finished_at": now,
			"updated_at":  now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *extractionJobRepo) RequestCancel(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.ExtractionJob{}).
		Where("id = ? AND status = ?", id, types.JobStatusRunning).
		Updates(map[string]interface{}{
			"cancel_requested": true,
			"updated_at":       time.Now(),
		}).Error
}

func (r *extractionJobRepo) CancelRequested(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var job types.ExtractionJob
	err := transaction.WithContext(ctx).
		Select("cancel_requested").
		Where("id = ?", id).
		First(&job).Error
	if err != nil {
		return false, err
	}
	return job.CancelRequested, nil
}

package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/montignypatrik/facnet-validator-sub009/internal/logger"
	"github.com/montignypatrik/facnet-validator-sub009/internal/types"
)

type NAMCandidateRepo interface {
	CreateBatch(ctx context.Context, tx *gorm.DB, candidates []*types.NAMCandidate) ([]*types.NAMCandidate, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.NAMCandidate, error)
	ListByJobID(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) ([]*types.NAMCandidate, error)
	UpdateValidity(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	// ToggleExcluded flips the stored flag and returns the new value. Each
	// call writes; two calls are a net no-op.
	ToggleExcluded(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.NAMCandidate, error)
	// MarkExportIncluded sets export_included on the given candidates,
	// scoped to one job. Append-only: it never clears the flag elsewhere.
	MarkExportIncluded(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, ids []uuid.UUID) error
}

type namCandidateRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewNAMCandidateRepo(db *gorm.DB, baseLog *logger.Logger) NAMCandidateRepo {
	return &namCandidateRepo{
		db:  db,
		log: baseLog.With("repo", "NAMCandidateRepo"),
	}
}

func (r *namCandidateRepo) CreateBatch(ctx context.Context, tx *gorm.DB, candidates []*types.NAMCandidate) ([]*types.NAMCandidate, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(candidates) == 0 {
		return []*types.NAMCandidate{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&candidates).Error; err != nil {
		return nil, err
	}
	return candidates, nil
}

func (r *namCandidateRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.NAMCandidate, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var cand types.NAMCandidate
	if err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&cand).Error; err != nil {
		return nil, err
	}
	return &cand, nil
}

func (r *namCandidateRepo) ListByJobID(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) ([]*types.NAMCandidate, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.NAMCandidate
	if err := transaction.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("page_number ASC, created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *namCandidateRepo) UpdateValidity(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now()
	return transaction.WithContext(ctx).
		Model(&types.NAMCandidate{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *namCandidateRepo) ToggleExcluded(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.NAMCandidate, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).
		Model(&types.NAMCandidate{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"excluded":   gorm.Expr("NOT excluded"),
			"updated_at": time.Now(),
		}).Error; err != nil {
		return nil, err
	}
	return r.GetByID(ctx, transaction, id)
}

func (r *namCandidateRepo) MarkExportIncluded(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, ids []uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(ids) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.NAMCandidate{}).
		Where("job_id = ? AND id IN ?", jobID, ids).
		Updates(map[string]interface{}{
			"export_included": true,
			"updated_at":      time.Now(),
		}).Error
}

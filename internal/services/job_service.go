package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/montignypatrik/facnet-validator-sub009/internal/logger"
	"github.com/montignypatrik/facnet-validator-sub009/internal/repos"
	"github.com/montignypatrik/facnet-validator-sub009/internal/types"
)

var ErrJobNotFound = errors.New("extraction job not found")

// JobService is the submission/query/curation façade over the job store.
// It never runs pipeline stages itself; submission only persists a queued
// row that the orchestrator's claim loop will pick up out of band.
type JobService interface {
	Submit(ctx context.Context, ownerUserID uuid.UUID, filePath string, originalName string, meta datatypes.JSONMap) (*types.ExtractionJob, error)
	GetByID(ctx context.Context, jobID uuid.UUID) (*types.ExtractionJob, error)
	ListCandidates(ctx context.Context, jobID uuid.UUID) ([]*types.NAMCandidate, error)
	ToggleExclusion(ctx context.Context, candidateID uuid.UUID) (*types.NAMCandidate, error)
	Cancel(ctx context.Context, jobID uuid.UUID) (*types.ExtractionJob, error)
}

type jobService struct {
	log        *logger.Logger
	jobs       repos.ExtractionJobRepo
	candidates repos.NAMCandidateRepo
	notify     JobNotifier
}

func NewJobService(baseLog *logger.Logger, jobs repos.ExtractionJobRepo, candidates repos.NAMCandidateRepo, notify JobNotifier) JobService {
	return &jobService{
		log:        baseLog.With("service", "JobService"),
		jobs:       jobs,
		candidates: candidates,
		notify:     notify,
	}
}

func (s *jobService) Submit(ctx context.Context, ownerUserID uuid.UUID, filePath string, originalName string, meta datatypes.JSONMap) (*types.ExtractionJob, error) {
	if ownerUserID == uuid.Nil {
		return nil, fmt.Errorf("missing owner_user_id")
	}
	if filePath == "" {
		return nil, fmt.Errorf("missing file path")
	}
	job := &types.ExtractionJob{
		OwnerUserID:  ownerUserID,
		FilePath:     filePath,
		OriginalName: originalName,
		UploadMeta:   meta,
		Status:       types.JobStatusQueued,
	}
	created, err := s.jobs.Create(ctx, nil, job)
	if err != nil {
		return nil, err
	}
	s.notify.JobQueued(ctx, created)
	s.log.Info("Extraction job queued", "job_id", created.ID, "owner_user_id", ownerUserID, "file", originalName)
	return created, nil
}

func (s *jobService) GetByID(ctx context.Context, jobID uuid.UUID) (*types.ExtractionJob, error) {
	job, err := s.jobs.GetByID(ctx, nil, jobID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *jobService) ListCandidates(ctx context.Context, jobID uuid.UUID) ([]*types.NAMCandidate, error) {
	if _, err := s.GetByID(ctx, jobID); err != nil {
		return nil, err
	}
	return s.candidates.ListByJobID(ctx, nil, jobID)
}

func (s *jobService) ToggleExclusion(ctx context.Context, candidateID uuid.UUID) (*types.NAMCandidate, error) {
	cand, err := s.candidates.ToggleExcluded(ctx, nil, candidateID)
	if err != nil {
		return nil, err
	}
	s.log.Debug("Candidate exclusion toggled", "candidate_id", candidateID, "excluded", cand.Excluded)
	return cand, nil
}

// Cancel removes a queued job from the pending set, or flags a running job
// for best-effort cancellation observed between stages. Terminal jobs are
// returned unchanged.
func (s *jobService) Cancel(ctx context.Context, jobID uuid.UUID) (*types.ExtractionJob, error) {
	job, err := s.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case types.JobStatusQueued:
		flipped, err := s.jobs.CancelIfQueued(ctx, nil, jobID)
		if err != nil {
			return nil, err
		}
		if flipped {
			job.Status = types.JobStatusCancelled
			s.notify.JobCancelled(ctx, job)
			return job, nil
		}
		// Claimed between the read and the update; fall through to the
		// running path.
		fallthrough
	case types.JobStatusRunning:
		if err := s.jobs.RequestCancel(ctx, nil, jobID); err != nil {
			return nil, err
		}
		job.CancelRequested = true
		s.log.Info("Cancellation requested for running job", "job_id", jobID)
		return job, nil
	default:
		return job, nil
	}
}

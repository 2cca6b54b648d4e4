package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/montignypatrik/facnet-validator-sub009/internal/logger"
	"github.com/montignypatrik/facnet-validator-sub009/internal/types"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

// memJobRepo is a stateful variant of stubJobRepo for exercising the
// cancel transitions.
type memJobRepo struct {
	stubJobRepo
	claimRace bool // simulate a worker claiming the job mid-cancel
}

func (r *memJobRepo) CancelIfQueued(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error) {
	if r.job == nil || r.job.ID != id || r.job.Status != types.JobStatusQueued {
		return false, nil
	}
	if r.claimRace {
		r.job.Status = types.JobStatusRunning
		return false, nil
	}
	r.job.Status = types.JobStatusCancelled
	return true, nil
}

func (r *memJobRepo) RequestCancel(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	if r.job != nil && r.job.ID == id {
		r.job.CancelRequested = true
	}
	return nil
}

// memCandidateRepo is a stateful variant of stubCandidateRepo holding a
// single candidate for exercising curation.
type memCandidateRepo struct {
	stubCandidateRepo
	candidate *types.NAMCandidate
}

func (r *memCandidateRepo) ToggleExcluded(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.NAMCandidate, error) {
	if r.candidate == nil || r.candidate.ID != id {
		return nil, gorm.ErrRecordNotFound
	}
	r.candidate.Excluded = !r.candidate.Excluded
	copied := *r.candidate
	return &copied, nil
}

type eventNotifier struct {
	events []string
}

func (n *eventNotifier) JobQueued(ctx context.Context, job *types.ExtractionJob) {
	n.events = append(n.events, "queued")
}

func (n *eventNotifier) JobProgress(ctx context.Context, job *types.ExtractionJob) {
	n.events = append(n.events, "progress")
}

func (n *eventNotifier) JobCompleted(ctx context.Context, job *types.ExtractionJob) {
	n.events = append(n.events, "completed")
}

func (n *eventNotifier) JobFailed(ctx context.Context, job *types.ExtractionJob) {
	n.events = append(n.events, "failed")
}

func (n *eventNotifier) JobCancelled(ctx context.Context, job *types.ExtractionJob) {
	n.events = append(n.events, "cancelled")
}

func newJobServiceFixture(t *testing.T, job *types.ExtractionJob) (JobService, *memJobRepo, *eventNotifier) {
	t.Helper()
	log := testLogger(t)
	repo := &memJobRepo{stubJobRepo: stubJobRepo{job: job}}
	notify := &eventNotifier{}
	svc := NewJobService(log, repo, &stubCandidateRepo{}, notify)
	return svc, repo, notify
}

func TestCancel_QueuedJob(t *testing.T) {
	job := &types.ExtractionJob{ID: uuid.New(), Status: types.JobStatusQueued}
	svc, repo, notify := newJobServiceFixture(t, job)

	out, err := svc.Cancel(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if out.Status != types.JobStatusCancelled {
		t.Fatalf("status = %q, want cancelled", out.Status)
	}
	if repo.job.Status != types.JobStatusCancelled {
		t.Fatalf("stored status = %q, want cancelled", repo.job.Status)
	}
	if len(notify.events) != 1 || notify.events[0] != "cancelled" {
		t.Fatalf("events = %v, want [cancelled]", notify.events)
	}
}

func TestCancel_QueuedClaimedMidCancel(t *testing.T) {
	job := &types.ExtractionJob{ID: uuid.New(), Status: types.JobStatusQueued}
	svc, repo, notify := newJobServiceFixture(t, job)
	repo.claimRace = true

	out, err := svc.Cancel(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !out.CancelRequested {
		t.Fatalf("cancel must fall back to flagging the now-running job")
	}
	if !repo.job.CancelRequested {
		t.Fatalf("stored cancel_requested flag not set")
	}
	if len(notify.events) != 0 {
		t.Fatalf("no cancelled event before the worker observes the flag, got %v", notify.events)
	}
}

func TestCancel_RunningJobSetsFlagOnly(t *testing.T) {
	job := &types.ExtractionJob{ID: uuid.New(), Status: types.JobStatusRunning}
	svc, repo, notify := newJobServiceFixture(t, job)

	out, err := svc.Cancel(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if out.Status != types.JobStatusRunning {
		t.Fatalf("status = %q; a running job stays running until the flag is observed", out.Status)
	}
	if !repo.job.CancelRequested {
		t.Fatalf("cancel_requested flag not set")
	}
	if len(notify.events) != 0 {
		t.Fatalf("unexpected events %v", notify.events)
	}
}

func TestCancel_TerminalJobUnchanged(t *testing.T) {
	for _, status := range []string{
		types.JobStatusCompleted,
		types.JobStatusFailed,
		types.JobStatusCancelled,
	} {
		job := &types.ExtractionJob{ID: uuid.New(), Status: status}
		svc, repo, notify := newJobServiceFixture(t, job)

		out, err := svc.Cancel(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("status %q: cancel: %v", status, err)
		}
		if out.Status != status {
			t.Fatalf("terminal status %q changed to %q", status, out.Status)
		}
		if repo.job.CancelRequested {
			t.Fatalf("terminal job must not be flagged for cancellation")
		}
		if len(notify.events) != 0 {
			t.Fatalf("terminal cancel emitted events %v", notify.events)
		}
	}
}

func TestCancel_UnknownJob(t *testing.T) {
	svc, _, _ := newJobServiceFixture(t, nil)

	_, err := svc.Cancel(context.Background(), uuid.New())
	if !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestSubmit_CreatesQueuedJobAndNotifies(t *testing.T) {
	svc, _, notify := newJobServiceFixture(t, nil)

	owner := uuid.New()
	meta := datatypes.JSONMap{"size_bytes": int64(2048), "content_type": "application/pdf"}
	job, err := svc.Submit(context.Background(), owner, "/uploads/abc.pdf", "scan.pdf", meta)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.UploadMeta["content_type"] != "application/pdf" {
		t.Fatalf("upload meta not carried: %v", job.UploadMeta)
	}
	if job.Status != types.JobStatusQueued {
		t.Fatalf("status = %q, want queued", job.Status)
	}
	if job.OwnerUserID != owner {
		t.Fatalf("owner = %s, want %s", job.OwnerUserID, owner)
	}
	if len(notify.events) != 1 || notify.events[0] != "queued" {
		t.Fatalf("events = %v, want [queued]", notify.events)
	}
}

func TestToggleExclusion_RoundTrip(t *testing.T) {
	cand := &types.NAMCandidate{ID: uuid.New(), JobID: uuid.New(), Token: "ABCD12345678"}
	repo := &memCandidateRepo{candidate: cand}
	svc := NewJobService(testLogger(t), &stubJobRepo{}, repo, &eventNotifier{})

	first, err := svc.ToggleExclusion(context.Background(), cand.ID)
	if err != nil {
		t.Fatalf("first toggle: %v", err)
	}
	if !first.Excluded {
		t.Fatalf("first toggle should exclude the candidate")
	}

	second, err := svc.ToggleExclusion(context.Background(), cand.ID)
	if err != nil {
		t.Fatalf("second toggle: %v", err)
	}
	if second.Excluded {
		t.Fatalf("second toggle must restore the original value")
	}
	if repo.candidate.Excluded {
		t.Fatalf("stored candidate not restored after double toggle")
	}
}

func TestToggleExclusion_UnknownCandidate(t *testing.T) {
	svc := NewJobService(testLogger(t), &stubJobRepo{}, &memCandidateRepo{}, &eventNotifier{})

	if _, err := svc.ToggleExclusion(context.Background(), uuid.New()); err == nil {
		t.Fatalf("expected error for unknown candidate")
	}
}

func TestSubmit_RejectsMissingOwner(t *testing.T) {
	svc, _, notify := newJobServiceFixture(t, nil)

	if _, err := svc.Submit(context.Background(), uuid.Nil, "/uploads/abc.pdf", "scan.pdf", nil); err == nil {
		t.Fatalf("expected error for missing owner")
	}
	if len(notify.events) != 0 {
		t.Fatalf("rejected submit must not notify, got %v", notify.events)
	}
}

package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/montignypatrik/facnet-validator-sub009/internal/faults"
	"github.com/montignypatrik/facnet-validator-sub009/internal/logger"
	"github.com/montignypatrik/facnet-validator-sub009/internal/services"
	"github.com/montignypatrik/facnet-validator-sub009/internal/types"
)

// ---- in-memory fakes ----

type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*types.ExtractionJob
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[uuid.UUID]*types.ExtractionJob)}
}

func (r *fakeJobRepo) Create(ctx context.Context, tx *gorm.DB, job *types.ExtractionJob) (*types.ExtractionJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = types.JobStatusQueued
	}
	r.jobs[job.ID] = job
	return job, nil
}

func (r *fakeJobRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ExtractionJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *job
	return &copied, nil
}

func (r *fakeJobRepo) ClaimNextQueued(ctx context.Context, tx *gorm.DB) (*types.ExtractionJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.jobs {
		if job.Status == types.JobStatusQueued {
			job.Status = types.JobStatusRunning
			copied := *job
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeJobRepo) SetStageProgress(ctx context.Context, tx *gorm.DB, id uuid.UUID, stage string, progress int, counters map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != types.JobStatusRunning {
		return nil
	}
	s := stage
	job.Stage = &s
	job.Progress = progress
	if v, ok := counters["page_count"]; ok {
		job.PageCount = v.(int)
	}
	if v, ok := counters["found_count"]; ok {
		job.FoundCount = v.(int)
	}
	return nil
}

func (r *fakeJobRepo) MarkCompleted(ctx context.Context, tx *gorm.DB, id uuid.UUID, validCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobs[id]
	job.Status = types.JobStatusCompleted
	job.Stage = nil
	job.Progress = 100
	job.ValidCount = validCount
	return nil
}

func (r *fakeJobRepo) MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, stage string, fault faults.Fault) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobs[id]
	job.Status = types.JobStatusFailed
	job.Stage = nil
	job.FaultCategory = string(fault.Category)
	job.FaultMessage = fault.Message
	job.FaultDetail = fault.Detail
	return nil
}

func (r *fakeJobRepo) MarkCancelled(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobs[id]
	job.Status = types.JobStatusCancelled
	job.Stage = nil
	return nil
}

func (r *fakeJobRepo) CancelIfQueued(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != types.JobStatusQueued {
		return false, nil
	}
	job.Status = types.JobStatusCancelled
	return true, nil
}

func (r *fakeJobRepo) RequestCancel(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok {
		job.CancelRequested = true
	}
	return nil
}

func (r *fakeJobRepo) CancelRequested(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return false, gorm.ErrRecordNotFound
	}
	return job.CancelRequested, nil
}

type fakeCandidateRepo struct {
	mu         sync.Mutex
	candidates []*types.NAMCandidate
}

func (r *fakeCandidateRepo) CreateBatch(ctx context.Context, tx *gorm.DB, candidates []*types.NAMCandidate) ([]*types.NAMCandidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range candidates {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		r.candidates = append(r.candidates, c)
	}
	return candidates, nil
}

func (r *fakeCandidateRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.NAMCandidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.candidates {
		if c.ID == id {
			copied := *c
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeCandidateRepo) ListByJobID(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) ([]*types.NAMCandidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.NAMCandidate
	for _, c := range r.candidates {
		if c.JobID == jobID {
			copied := *c
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeCandidateRepo) UpdateValidity(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.candidates {
		if c.ID != id {
			continue
		}
		if v, ok := updates["token"]; ok {
			c.Token = v.(string)
		}
		if v, ok := updates["format_valid"]; ok {
			c.FormatValid = v.(bool)
		}
		if v, ok := updates["format_reason"]; ok {
			c.FormatReason = v.(string)
		}
		if v, ok := updates["visit_date"]; ok {
			if d, ok := v.(*string); ok {
				c.VisitDate = d
			}
		}
		if v, ok := updates["date_valid"]; ok {
			c.DateValid = v.(bool)
		}
		if v, ok := updates["date_reason"]; ok {
			c.DateReason = v.(string)
		}
		if v, ok := updates["visit_time"]; ok {
			c.VisitTime = v.(string)
		}
		if v, ok := updates["time_valid"]; ok {
			c.TimeValid = v.(bool)
		}
		if v, ok := updates["time_reason"]; ok {
			c.TimeReason = v.(string)
		}
		return nil
	}
	return gorm.ErrRecordNotFound
}

func (r *fakeCandidateRepo) ToggleExcluded(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.NAMCandidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.candidates {
		if c.ID == id {
			c.Excluded = !c.Excluded
			copied := *c
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeCandidateRepo) MarkExportIncluded(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, ids []uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idSet := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}
	for _, c := range r.candidates {
		if c.JobID == jobID && idSet[c.ID] {
			c.ExportIncluded = true
		}
	}
	return nil
}

type fakeOCR struct {
	pages []services.PageText
	err   error
}

func (f *fakeOCR) ExtractPages(ctx context.Context, filePath string) ([]services.PageText, error) {
	return f.pages, f.err
}

func (f *fakeOCR) Close() error { return nil }

type fakeRecognizer struct {
	candidates []services.RawCandidate
	err        error
	// onCall runs before returning, used to flip cancellation mid-run.
	onCall func()
}

func (f *fakeRecognizer) RecognizeCandidates(ctx context.Context, pages []services.PageText) ([]services.RawCandidate, error) {
	if f.onCall != nil {
		f.onCall()
	}
	return f.candidates, f.err
}

type recorderNotifier struct {
	mu        sync.Mutex
	snapshots []services.JobStatusSnapshot
}

func (n *recorderNotifier) record(job *types.ExtractionJob) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.snapshots = append(n.snapshots, services.SnapshotOf(job))
}

func (n *recorderNotifier) JobQueued(ctx context.Context, job *types.ExtractionJob)    { n.record(job) }
func (n *recorderNotifier) JobProgress(ctx context.Context, job *types.ExtractionJob)  { n.record(job) }
func (n *recorderNotifier) JobCompleted(ctx context.Context, job *types.ExtractionJob) { n.record(job) }
func (n *recorderNotifier) JobFailed(ctx context.Context, job *types.ExtractionJob)    { n.record(job) }
func (n *recorderNotifier) JobCancelled(ctx context.Context, job *types.ExtractionJob) { n.record(job) }

// ---- helpers ----

func newTestOrchestrator(t *testing.T, jobRepo *fakeJobRepo, candRepo *fakeCandidateRepo, ocr services.VisionProviderService, rec services.RecognitionProviderService, notify *recorderNotifier) *Orchestrator {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return NewOrchestrator(log, jobRepo, candRepo, ocr, rec, notify, Config{})
}

func queueJob(t *testing.T, repo *fakeJobRepo) *types.ExtractionJob {
	t.Helper()
	job, err := repo.Create(context.Background(), nil, &types.ExtractionJob{
		OwnerUserID: uuid.New(),
		FilePath:    "/uploads/scan.pdf",
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

// ---- tests ----

func TestProcess_EndToEnd(t *testing.T) {
	jobRepo := newFakeJobRepo()
	candRepo := &fakeCandidateRepo{}
	notify := &recorderNotifier{}

	ocr := &fakeOCR{pages: []services.PageText{
		{PageNumber: 1, Text: "NAM: ABCD12345678 visite 2025-03-15"},
		{PageNumber: 2, Text: "NAM: XYZ1234567"},
		{PageNumber: 3, Text: "rien ici"},
	}}
	rec := &fakeRecognizer{candidates: []services.RawCandidate{
		{Token: "ABCD12345678", Page: 1, DateText: "2025-03-15"},
		{Token: "XYZ1234567", Page: 2},
	}}

	o := newTestOrchestrator(t, jobRepo, candRepo, ocr, rec, notify)
	job := queueJob(t, jobRepo)
	claimed, _ := jobRepo.ClaimNextQueued(context.Background(), nil)
	o.Process(context.Background(), claimed)

	final, err := jobRepo.GetByID(context.Background(), nil, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if final.Status != types.JobStatusCompleted {
		t.Fatalf("status = %q, want completed (fault: %s / %s)", final.Status, final.FaultCategory, final.FaultDetail)
	}
	if final.PageCount != 3 {
		t.Fatalf("page_count = %d, want 3", final.PageCount)
	}
	if final.FoundCount != 2 {
		t.Fatalf("found_count = %d, want 2", final.FoundCount)
	}
	if final.ValidCount != 1 {
		t.Fatalf("valid_count = %d, want 1", final.ValidCount)
	}
	if final.Progress != 100 {
		t.Fatalf("progress = %d, want 100", final.Progress)
	}
	if final.Stage != nil {
		t.Fatalf("stage should be nil at terminal state, got %q", *final.Stage)
	}

	cands, _ := candRepo.ListByJobID(context.Background(), nil, job.ID)
	if len(cands) != 2 {
		t.Fatalf("candidates = %d, want 2", len(cands))
	}
	for _, c := range cands {
		switch c.PageNumber {
		case 1:
			if !c.FormatValid {
				t.Fatalf("page 1 candidate should be format-valid: %+v", c)
			}
			if c.VisitDate == nil || *c.VisitDate != "2025-03-15" || !c.DateValid {
				t.Fatalf("page 1 candidate should carry valid visit date: %+v", c)
			}
			if c.VisitTime != "08:00" || !c.TimeValid {
				t.Fatalf("page 1 candidate should default to valid 08:00: %+v", c)
			}
		case 2:
			if c.FormatValid {
				t.Fatalf("page 2 candidate should be invalid (11 chars): %+v", c)
			}
			if c.FormatReason == "" {
				t.Fatalf("invalid candidate needs a reason")
			}
		default:
			t.Fatalf("unexpected candidate page %d", c.PageNumber)
		}
	}
}

func TestProcess_ProgressMonotonic(t *testing.T) {
	jobRepo := newFakeJobRepo()
	candRepo := &fakeCandidateRepo{}
	notify := &recorderNotifier{}
	ocr := &fakeOCR{pages: []services.PageText{{PageNumber: 1, Text: "x"}}}
	rec := &fakeRecognizer{}

	o := newTestOrchestrator(t, jobRepo, candRepo, ocr, rec, notify)
	queueJob(t, jobRepo)
	claimed, _ := jobRepo.ClaimNextQueued(context.Background(), nil)
	o.Process(context.Background(), claimed)

	last := -1
	for _, snap := range notify.snapshots {
		if snap.Progress < last {
			t.Fatalf("progress went backwards: %d after %d", snap.Progress, last)
		}
		last = snap.Progress
	}
	if last != 100 {
		t.Fatalf("final published progress = %d, want 100", last)
	}
}

func TestProcess_OCRFailureClassifiedAsInput(t *testing.T) {
	jobRepo := newFakeJobRepo()
	candRepo := &fakeCandidateRepo{}
	notify := &recorderNotifier{}
	ocr := &fakeOCR{err: errors.New("read source file: open /uploads/x.pdf: no such file or directory")}
	rec := &fakeRecognizer{}

	o := newTestOrchestrator(t, jobRepo, candRepo, ocr, rec, notify)
	job := queueJob(t, jobRepo)
	claimed, _ := jobRepo.ClaimNextQueued(context.Background(), nil)
	o.Process(context.Background(), claimed)

	final, _ := jobRepo.GetByID(context.Background(), nil, job.ID)
	if final.Status != types.JobStatusFailed {
		t.Fatalf("status = %q, want failed", final.Status)
	}
	if final.FaultCategory != string(faults.CategoryInput) {
		t.Fatalf("fault category = %q, want input", final.FaultCategory)
	}
	if final.FaultMessage == "" || final.FaultDetail == "" {
		t.Fatalf("fault message and detail must both be recorded: %+v", final)
	}
	if len(candRepo.candidates) != 0 {
		t.Fatalf("no candidates may exist after a terminal failure before recognition")
	}
}

func TestProcess_RecognitionTimeoutClassifiedAsOrchestration(t *testing.T) {
	jobRepo := newFakeJobRepo()
	candRepo := &fakeCandidateRepo{}
	notify := &recorderNotifier{}
	ocr := &fakeOCR{pages: []services.PageText{{PageNumber: 1, Text: "x"}}}
	rec := &fakeRecognizer{err: errors.New("recognition request timed out")}

	o := newTestOrchestrator(t, jobRepo, candRepo, ocr, rec, notify)
	job := queueJob(t, jobRepo)
	claimed, _ := jobRepo.ClaimNextQueued(context.Background(), nil)
	o.Process(context.Background(), claimed)

	final, _ := jobRepo.GetByID(context.Background(), nil, job.ID)
	if final.Status != types.JobStatusFailed {
		t.Fatalf("status = %q, want failed", final.Status)
	}
	if final.FaultCategory != string(faults.CategoryOrchestration) {
		t.Fatalf("fault category = %q, want orchestration", final.FaultCategory)
	}
}

func TestProcess_CancellationObservedBetweenStages(t *testing.T) {
	jobRepo := newFakeJobRepo()
	candRepo := &fakeCandidateRepo{}
	notify := &recorderNotifier{}
	ocr := &fakeOCR{pages: []services.PageText{{PageNumber: 1, Text: "x"}}}

	rec := &fakeRecognizer{}

	o := newTestOrchestrator(t, jobRepo, candRepo, ocr, rec, notify)
	job := queueJob(t, jobRepo)
	claimed, _ := jobRepo.ClaimNextQueued(context.Background(), nil)
	if err := jobRepo.RequestCancel(context.Background(), nil, job.ID); err != nil {
		t.Fatalf("request cancel: %v", err)
	}
	o.Process(context.Background(), claimed)

	final, _ := jobRepo.GetByID(context.Background(), nil, job.ID)
	if final.Status != types.JobStatusCancelled {
		t.Fatalf("status = %q, want cancelled", final.Status)
	}
	// The pipeline stopped before recognition: no candidates were created.
	if len(candRepo.candidates) != 0 {
		t.Fatalf("cancelled job must not create candidates, got %d", len(candRepo.candidates))
	}
}

func TestProcess_NoAutomaticRetryAfterFailure(t *testing.T) {
	jobRepo := newFakeJobRepo()
	candRepo := &fakeCandidateRepo{}
	notify := &recorderNotifier{}
	ocr := &fakeOCR{err: errors.New("connection refused")}
	rec := &fakeRecognizer{}

	o := newTestOrchestrator(t, jobRepo, candRepo, ocr, rec, notify)
	queueJob(t, jobRepo)
	claimed, _ := jobRepo.ClaimNextQueued(context.Background(), nil)
	o.Process(context.Background(), claimed)

	// A failed job is terminal: the claim loop must find nothing runnable.
	next, err := jobRepo.ClaimNextQueued(context.Background(), nil)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if next != nil {
		t.Fatalf("failed job was reclaimed; single-attempt policy violated")
	}
}

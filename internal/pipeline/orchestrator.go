package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/montignypatrik/facnet-validator-sub009/internal/faults"
	"github.com/montignypatrik/facnet-validator-sub009/internal/observability"
	"github.com/montignypatrik/facnet-validator-sub009/internal/logger"
	"github.com/montignypatrik/facnet-validator-sub009/internal/nam"
	"github.com/montignypatrik/facnet-validator-sub009/internal/repos"
	"github.com/montignypatrik/facnet-validator-sub009/internal/services"
	"github.com/montignypatrik/facnet-validator-sub009/internal/types"
)

const (
	progressAfterTextExtraction = 33
	progressAfterRecognition    = 66
	progressAfterValidation     = 100
)

// Config bounds the orchestrator. Retry policy is deliberately not a knob:
// every job gets exactly one attempt, and resubmission is the caller's
// responsibility.
type Config struct {
	Workers            int
	PollInterval       time.Duration
	OCRTimeout         time.Duration
	RecognitionTimeout time.Duration
}

// Orchestrator drives queued extraction jobs through the three ordered
// stages. One worker owns one job at a time; distinct jobs run concurrently
// up to Config.Workers. Every stage transition is persisted before the next
// stage begins and published to the notifier, so polling and streaming
// always describe the same state.
type Orchestrator struct {
	log        *logger.Logger
	jobs       repos.ExtractionJobRepo
	candidates repos.NAMCandidateRepo
	ocr        services.VisionProviderService
	recognizer services.RecognitionProviderService
	notify     services.JobNotifier
	cfg        Config
}

func NewOrchestrator(
	baseLog *logger.Logger,
	jobs repos.ExtractionJobRepo,
	candidates repos.NAMCandidateRepo,
	ocr services.VisionProviderService,
	recognizer services.RecognitionProviderService,
	notify services.JobNotifier,
	cfg Config,
) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 1 * time.Second
	}
	if cfg.OCRTimeout <= 0 {
		cfg.OCRTimeout = 120 * time.Second
	}
	if cfg.RecognitionTimeout <= 0 {
		cfg.RecognitionTimeout = 90 * time.Second
	}
	return &Orchestrator{
		log:        baseLog.With("component", "PipelineOrchestrator"),
		jobs:       jobs,
		candidates: candidates,
		ocr:        ocr,
		recognizer: recognizer,
		notify:     notify,
		cfg:        cfg,
	}
}

// Start launches the claim loop. It returns immediately; the loop stops
// when ctx is cancelled, after in-flight jobs finish their current stage.
func (o *Orchestrator) Start(ctx context.Context) {
	sem := semaphore.NewWeighted(int64(o.cfg.Workers))
	go func() {
		ticker := time.NewTicker(o.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := sem.Acquire(ctx, 1); err != nil {
					return
				}
				job, err := o.jobs.ClaimNextQueued(ctx, nil)
				if err != nil {
					o.log.Warn("ClaimNextQueued failed", "error", err)
					sem.Release(1)
					continue
				}
				if job == nil {
					sem.Release(1)
					continue
				}
				go func() {
					defer sem.Release(1)
					o.Process(ctx, job)
				}()
			}
		}
	}()
}

// Process runs one claimed job to a terminal state.
func (o *Orchestrator) Process(ctx context.Context, job *types.ExtractionJob) {
	log := o.log.With("job_id", job.ID)

	tracer := otel.Tracer(observability.ServiceName)
	ctx, span := tracer.Start(ctx, "pipeline.process")
	span.SetAttributes(attribute.String("job_id", job.ID.String()))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			log.Error("Pipeline panic", "panic", r)
			o.fail(ctx, job, faults.Classify(fmt.Sprintf("panic: %v", r)))
		}
	}()

	// Stage 1: text extraction.
	if !o.enterStage(ctx, job, types.StageTextExtraction, job.Progress) {
		return
	}
	ocrCtx, ocrSpan := tracer.Start(ctx, "pipeline.text_extraction")
	ocrCtx, cancelOCR := context.WithTimeout(ocrCtx, o.cfg.OCRTimeout)
	pages, err := o.ocr.ExtractPages(ocrCtx, job.FilePath)
	cancelOCR()
	ocrSpan.End()
	if err != nil {
		o.fail(ctx, job, faults.ClassifyErr(err))
		return
	}
	job.PageCount = len(pages)
	job.Progress = progressAfterTextExtraction
	if err := o.jobs.SetStageProgress(ctx, nil, job.ID, types.StageTextExtraction, job.Progress, map[string]interface{}{
		"page_count": job.PageCount,
	}); err != nil {
		o.fail(ctx, job, faults.ClassifyErr(err))
		return
	}
	o.notify.JobProgress(ctx, job)
	log.Info("Text extraction complete", "pages", job.PageCount)
	if o.cancelled(ctx, job) {
		return
	}

	// Stage 2: recognition.
	if !o.enterStage(ctx, job, types.StageRecognition, job.Progress) {
		return
	}
	recCtx, recSpan := tracer.Start(ctx, "pipeline.recognition")
	recCtx, cancelRec := context.WithTimeout(recCtx, o.cfg.RecognitionTimeout)
	rawCandidates, err := o.recognizer.RecognizeCandidates(recCtx, pages)
	cancelRec()
	recSpan.End()
	if err != nil {
		o.fail(ctx, job, faults.ClassifyErr(err))
		return
	}
	rows := make([]*types.NAMCandidate, 0, len(rawCandidates))
	for _, rc := range rawCandidates {
		res := nam.Validate(rc.Token, rc.DateText, rc.TimeText)
		rows = append(rows, &types.NAMCandidate{
			JobID:      job.ID,
			PageNumber: rc.Page,
			RawToken:   rc.Token,
			Token:      res.Token,
		})
	}
	if _, err := o.candidates.CreateBatch(ctx, nil, rows); err != nil {
		o.fail(ctx, job, faults.ClassifyErr(err))
		return
	}
	job.FoundCount = len(rows)
	job.Progress = progressAfterRecognition
	if err := o.jobs.SetStageProgress(ctx, nil, job.ID, types.StageRecognition, job.Progress, map[string]interface{}{
		"found_count": job.FoundCount,
	}); err != nil {
		o.fail(ctx, job, faults.ClassifyErr(err))
		return
	}
	o.notify.JobProgress(ctx, job)
	log.Info("Recognition complete", "candidates", job.FoundCount)
	if o.cancelled(ctx, job) {
		return
	}

	// Stage 3: validation. Pure per-candidate checks; an invalid candidate
	// is ordinary output, never a stage failure.
	if !o.enterStage(ctx, job, types.StageValidation, job.Progress) {
		return
	}
	validCount := 0
	for i, rc := range rawCandidates {
		res := nam.Validate(rc.Token, rc.DateText, rc.TimeText)
		if res.FormatValid {
			validCount++
		}
		updates := map[string]interface{}{
			"token":         res.Token,
			"format_valid":  res.FormatValid,
			"format_reason": res.FormatReason,
			"visit_date":    res.VisitDate,
			"date_valid":    res.DateValid,
			"date_reason":   res.DateReason,
			"visit_time":    res.VisitTime,
			"time_valid":    res.TimeValid,
			"time_reason":   res.TimeReason,
		}
		if err := o.candidates.UpdateValidity(ctx, nil, rows[i].ID, updates); err != nil {
			o.fail(ctx, job, faults.ClassifyErr(err))
			return
		}
	}
	job.ValidCount = validCount
	if err := o.jobs.MarkCompleted(ctx, nil, job.ID, validCount); err != nil {
		o.fail(ctx, job, faults.ClassifyErr(err))
		return
	}
	job.Status = types.JobStatusCompleted
	job.Stage = nil
	job.Progress = progressAfterValidation
	o.notify.JobCompleted(ctx, job)
	log.Info("Job completed", "found", job.FoundCount, "valid", job.ValidCount)
}

// enterStage persists the stage transition before any stage work starts.
func (o *Orchestrator) enterStage(ctx context.Context, job *types.ExtractionJob, stage string, progress int) bool {
	if err := o.jobs.SetStageProgress(ctx, nil, job.ID, stage, progress, nil); err != nil {
		o.fail(ctx, job, faults.ClassifyErr(err))
		return false
	}
	job.Stage = &stage
	job.Progress = progress
	o.notify.JobProgress(ctx, job)
	return true
}

// cancelled checks the best-effort cancellation flag between stages. The
// in-flight adapter call is never interrupted; once it returns the flag
// short-circuits the job to cancelled instead of advancing.
func (o *Orchestrator) cancelled(ctx context.Context, job *types.ExtractionJob) bool {
	requested, err := o.jobs.CancelRequested(ctx, nil, job.ID)
	if err != nil {
		o.log.Warn("Cancellation check failed", "job_id", job.ID, "error", err)
		return false
	}
	if !requested {
		return false
	}
	if err := o.jobs.MarkCancelled(ctx, nil, job.ID); err != nil {
		o.log.Warn("MarkCancelled failed", "job_id", job.ID, "error", err)
		return false
	}
	job.Status = types.JobStatusCancelled
	job.Stage = nil
	o.notify.JobCancelled(ctx, job)
	o.log.Info("Job cancelled", "job_id", job.ID)
	return true
}

func (o *Orchestrator) fail(ctx context.Context, job *types.ExtractionJob, fault faults.Fault) {
	stage := ""
	if job.Stage != nil {
		stage = *job.Stage
	}
	if err := o.jobs.MarkFailed(ctx, nil, job.ID, stage, fault); err != nil {
		o.log.Error("MarkFailed failed", "job_id", job.ID, "error", err)
	}
	job.Status = types.JobStatusFailed
	job.Stage = nil
	job.FaultCategory = string(fault.Category)
	job.FaultMessage = fault.Message
	job.FaultDetail = fault.Detail
	o.notify.JobFailed(ctx, job)
}

package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/montignypatrik/facnet-validator-sub009/internal/logger"
	"github.com/montignypatrik/facnet-validator-sub009/internal/services"
)

type ExtractionHandler struct {
	log       *logger.Logger
	jobs      services.JobService
	exports   services.ExportService
	uploadDir string
}

func NewExtractionHandler(log *logger.Logger, jobs services.JobService, exports services.ExportService, uploadDir string) *ExtractionHandler {
	return &ExtractionHandler{
		log:       log.With("handler", "ExtractionHandler"),
		jobs:      jobs,
		exports:   exports,
		uploadDir: uploadDir,
	}
}

// POST /api/extractions
// Accepts a multipart scan plus the owning user id, writes the file under
// the upload dir and queues an extraction job. Returns immediately; all
// later faults are asynchronous and observable via status/stream only.
func (h *ExtractionHandler) SubmitExtraction(c *gin.Context) {
	ownerID, err := uuid.Parse(c.PostForm("owner_user_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_owner_user_id", err)
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		RespondError(c, http.StatusBadRequest, "missing_file", err)
		return
	}
	if file.Size == 0 {
		RespondError(c, http.StatusBadRequest, "empty_file", errors.New("uploaded file is empty"))
		return
	}

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		RespondError(c, http.StatusInternalServerError, "upload_dir", err)
		return
	}
	dst := filepath.Join(h.uploadDir, uuid.New().String()+filepath.Ext(file.Filename))
	if err := c.SaveUploadedFile(file, dst); err != nil {
		RespondError(c, http.StatusInternalServerError, "save_failed", err)
		return
	}

	meta := datatypes.JSONMap{
		"size_bytes":   file.Size,
		"content_type": file.Header.Get("Content-Type"),
		"extension":    filepath.Ext(file.Filename),
	}
	job, err := h.jobs.Submit(c.Request.Context(), ownerID, dst, file.Filename, meta)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "submit_failed", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID, "status": job.Status})
}

// GET /api/extractions/:id
func (h *ExtractionHandler) GetExtractionStatus(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.jobs.GetByID(c.Request.Context(), jobID)
	if errors.Is(err, services.ErrJobNotFound) {
		RespondError(c, http.StatusNotFound, "job_not_found", err)
		return
	}
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "job_lookup_failed", err)
		return
	}
	RespondOK(c, services.SnapshotOf(job))
}

// GET /api/extractions/:id/candidates
func (h *ExtractionHandler) ListCandidates(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	candidates, err := h.jobs.ListCandidates(c.Request.Context(), jobID)
	if errors.Is(err, services.ErrJobNotFound) {
		RespondError(c, http.StatusNotFound, "job_not_found", err)
		return
	}
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "candidate_list_failed", err)
		return
	}
	RespondOK(c, gin.H{"candidates": candidates})
}

// POST /api/candidates/:id/toggle-exclusion
func (h *ExtractionHandler) ToggleCandidateExclusion(c *gin.Context) {
	candidateID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_candidate_id", err)
		return
	}
	cand, err := h.jobs.ToggleExclusion(c.Request.Context(), candidateID)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "toggle_failed", err)
		return
	}
	RespondOK(c, gin.H{"candidate": cand})
}

// POST /api/extractions/:id/cancel
func (h *ExtractionHandler) CancelExtraction(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.jobs.Cancel(c.Request.Context(), jobID)
	if errors.Is(err, services.ErrJobNotFound) {
		RespondError(c, http.StatusNotFound, "job_not_found", err)
		return
	}
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "cancel_failed", err)
		return
	}
	RespondOK(c, services.SnapshotOf(job))
}

// POST /api/extractions/:id/export
func (h *ExtractionHandler) ExportExtraction(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}

	var req struct {
		IncludeInvalid bool `json:"include_invalid"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_body", err)
			return
		}
	}

	result, err := h.exports.Generate(c.Request.Context(), jobID, req.IncludeInvalid)
	if errors.Is(err, services.ErrJobNotCompleted) || errors.Is(err, services.ErrNoEligibleCandidates) {
		RespondError(c, http.StatusConflict, "export_rejected", err)
		return
	}
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "export_failed", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, result.Filename))
	c.Data(http.StatusOK, result.ContentType, result.Payload)
}

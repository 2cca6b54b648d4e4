package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/montignypatrik/facnet-validator-sub009/internal/logger"
	"github.com/montignypatrik/facnet-validator-sub009/internal/services"
	"github.com/montignypatrik/facnet-validator-sub009/internal/sse"
)

type StreamHandler struct {
	log  *logger.Logger
	hub  *sse.SSEHub
	jobs services.JobService
}

func NewStreamHandler(log *logger.Logger, hub *sse.SSEHub, jobs services.JobService) *StreamHandler {
	return &StreamHandler{
		log:  log.With("handler", "StreamHandler"),
		hub:  hub,
		jobs: jobs,
	}
}

// GET /api/extractions/:id/stream
// Long-lived SSE stream for one job. A subscriber attaching after the job
// is terminal receives the final snapshot and the connection closes. The
// first event is always a store snapshot, and the store is re-read after
// subscribing, so no transition between snapshot and subscription is lost.
func (h *StreamHandler) StreamExtraction(c *gin.Context) {
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

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		RespondError(c, http.StatusInternalServerError, "streaming_unsupported", errors.New("streaming unsupported"))
		return
	}

	writeSnapshot := func(event sse.SSEEvent, snap services.JobStatusSnapshot) {
		payload, err := json.Marshal(sse.SSEMessage{
			Channel: sse.JobChannel(jobID),
			Event:   event,
			Data:    snap,
		})
		if err != nil {
			h.log.Warn("Failed to marshal SSE message", "error", err)
			return
		}
		fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload)
		flusher.Flush()
	}

	eventFor := func(status string) sse.SSEEvent {
		switch status {
		case "completed":
			return sse.SSEEventJobCompleted
		case "failed":
			return sse.SSEEventJobFailed
		case "cancelled":
			return sse.SSEEventJobCancelled
		case "queued":
			return sse.SSEEventJobQueued
		default:
			return sse.SSEEventJobProgress
		}
	}

	writeSnapshot(eventFor(job.Status), services.SnapshotOf(job))
	if job.Terminal() {
		return
	}

	client := h.hub.NewSSEClient()
	h.hub.AddChannel(client, sse.JobChannel(jobID))
	defer h.hub.CloseClient(client)

	// The job may have gone terminal between the snapshot read and the
	// subscription; re-read once so the terminal state is never missed.
	if job, err = h.jobs.GetByID(c.Request.Context(), jobID); err == nil && job.Terminal() {
		writeSnapshot(eventFor(job.Status), services.SnapshotOf(job))
		return
	}

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Debug("SSE client context done", "clientID", client.ID, "err", ctx.Err())
			return
		case <-client.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case msg := <-client.Outbound:
			snap, ok := msg.Data.(services.JobStatusSnapshot)
			if !ok {
				// Bus-forwarded messages arrive as decoded JSON; fall back
				// to a store read for a consistent snapshot.
				job, err := h.jobs.GetByID(ctx, jobID)
				if err != nil {
					continue
				}
				snap = services.SnapshotOf(job)
			}
			writeSnapshot(msg.Event, snap)
			if msg.Terminal() {
				return
			}
		}
	}
}

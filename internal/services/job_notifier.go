package services

import (
	"context"

	"github.com/montignypatrik/facnet-validator-sub009/internal/sse"
	"github.com/montignypatrik/facnet-validator-sub009/internal/types"
)

// JobNotifier publishes job state transitions to every configured emitter
// (in-process hub, and the Redis bus when one is wired). Publishing is
// fire-and-forget; a slow or absent subscriber never blocks the pipeline.
type JobNotifier interface {
	JobQueued(ctx context.Context, job *types.ExtractionJob)
	JobProgress(ctx context.Context, job *types.ExtractionJob)
	JobCompleted(ctx context.Context, job *types.ExtractionJob)
	JobFailed(ctx context.Context, job *types.ExtractionJob)
	JobCancelled(ctx context.Context, job *types.ExtractionJob)
}

type jobNotifier struct {
	emitters []SSEEmitter
}

func NewJobNotifier(emitters ...SSEEmitter) JobNotifier {
	return &jobNotifier{emitters: emitters}
}

func (n *jobNotifier) emit(ctx context.Context, event sse.SSEEvent, job *types.ExtractionJob) {
	msg := sse.SSEMessage{
		Channel: sse.JobChannel(job.ID),
		Event:   event,
		Data:    SnapshotOf(job),
	}
	for _, e := range n.emitters {
		e.Emit(ctx, msg)
	}
}

func (n *jobNotifier) JobQueued(ctx context.Context, job *types.ExtractionJob) {
	n.emit(ctx, sse.SSEEventJobQueued, job)
}

func (n *jobNotifier) JobProgress(ctx context.Context, job *types.ExtractionJob) {
	n.emit(ctx, sse.SSEEventJobProgress, job)
}

func (n *jobNotifier) JobCompleted(ctx context.Context, job *types.ExtractionJob) {
	n.emit(ctx, sse.SSEEventJobCompleted, job)
}

func (n *jobNotifier) JobFailed(ctx context.Context, job *types.ExtractionJob) {
	n.emit(ctx, sse.SSEEventJobFailed, job)
}

func (n *jobNotifier) JobCancelled(ctx context.Context, job *types.ExtractionJob) {
	n.emit(ctx, sse.SSEEventJobCancelled, job)
}

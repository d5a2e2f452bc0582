package transcode

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/zack-mcginnis/drone-video-analysis-server/internal/models"
	"github.com/zack-mcginnis/drone-video-analysis-server/pkg/queue"
)

// QueueRunner hands jobs to the Redis-backed queue for a separate worker
// process to execute. Status is served from the broker record the worker
// maintains, so the API process can answer polls without sharing memory.
type QueueRunner struct {
	queue  *queue.Queue
	logger *zap.Logger
}

// NewQueueRunner creates the queue-backed strategy.
func NewQueueRunner(q *queue.Queue, logger *zap.Logger) *QueueRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueRunner{queue: q, logger: logger}
}

// Submit enqueues the job and seeds its broker status record. An unreachable
// broker yields ErrQueueUnavailable.
func (r *QueueRunner) Submit(ctx context.Context, job *Job) error {
	jobID, err := r.queue.EnqueueTranscode(ctx, queue.TranscodePayload{RecordingID: job.RecordingID()})
	if err != nil {
		return fmt.Errorf("enqueue transcode: %w: %v", ErrQueueUnavailable, err)
	}
	st := queue.JobStatus{JobID: jobID, Status: models.TranscodeStatusQueued}
	if err := r.queue.SetStatus(ctx, job.RecordingID(), st); err != nil {
		// The job is already queued; a missing status record only degrades
		// polling until the worker writes its own.
		r.logger.Warn("could not seed broker status", zap.Int64("recording_id", job.RecordingID()), zap.Error(err))
	}
	return nil
}

// Status maps the broker record to the tracker's vocabulary. Returns
// (nil, nil) when the broker has no record for the recording.
func (r *QueueRunner) Status(ctx context.Context, recordingID int64) (*JobStatus, error) {
	st, err := r.queue.GetStatus(ctx, recordingID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, nil
	}
	out := &JobStatus{
		RecordingID: recordingID,
		JobID:       st.JobID,
		Status:      st.Status,
		Error:       st.Error,
		CanRetry:    st.Status == models.TranscodeStatusFailed,
	}
	if t, err := time.Parse(time.RFC3339, st.StartedAt); err == nil {
		out.StartedAt = &t
	}
	if t, err := time.Parse(time.RFC3339, st.CompletedAt); err == nil {
		out.CompletedAt = &t
	}
	return out, nil
}

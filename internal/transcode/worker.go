package transcode

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/zack-mcginnis/drone-video-analysis-server/internal/models"
	"github.com/zack-mcginnis/drone-video-analysis-server/pkg/queue"
)

// Worker is the queue-strategy consumer: it drains transcode jobs from Redis
// and runs them through the shared pipeline, mirroring progress into the
// broker status record so the API process can answer polls.
type Worker struct {
	pipeline *Pipeline
	queue    *queue.Queue
	logger   *zap.Logger
}

// NewWorker creates a transcode worker.
func NewWorker(pipeline *Pipeline, q *queue.Queue, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{pipeline: pipeline, queue: q, logger: logger}
}

// Process executes one transcode job. Pipeline failures are final: the
// outcome is already persisted to the recording's metadata, so the job is
// never requeued for them. Only errors before the pipeline ran are retryable.
func (w *Worker) Process(ctx context.Context, job *queue.Job) (retryable bool, err error) {
	if job.Type != queue.JobTypeTranscode {
		return false, fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.TranscodePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return false, fmt.Errorf("unmarshal payload: %w", err)
	}

	started := time.Now().UTC().Format(time.RFC3339)
	w.setStatus(ctx, payload.RecordingID, queue.JobStatus{
		JobID:     job.ID,
		Status:    models.TranscodeStatusProcessing,
		StartedAt: started,
	})

	_, perr := w.pipeline.Process(ctx, payload.RecordingID)
	completed := time.Now().UTC().Format(time.RFC3339)
	if perr != nil {
		// A shutdown mid-encode is not a verdict on the job; hand it back to
		// the queue for another worker instead of recording a failure.
		if ctx.Err() != nil {
			return true, perr
		}
		w.setStatus(ctx, payload.RecordingID, queue.JobStatus{
			JobID:       job.ID,
			Status:      models.TranscodeStatusFailed,
			StartedAt:   started,
			CompletedAt: completed,
			Error:       perr.Error(),
		})
		return false, perr
	}

	w.setStatus(ctx, payload.RecordingID, queue.JobStatus{
		JobID:       job.ID,
		Status:      models.TranscodeStatusCompleted,
		StartedAt:   started,
		CompletedAt: completed,
	})
	return false, nil
}

func (w *Worker) setStatus(ctx context.Context, recordingID int64, st queue.JobStatus) {
	if err := w.queue.SetStatus(ctx, recordingID, st); err != nil {
		w.logger.Warn("could not update broker status", zap.Int64("recording_id", recordingID), zap.Error(err))
	}
}

// Run starts the worker loop: dequeue, process, retry transient failures.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("transcode worker stopping")
			return
		default:
		}

		job, _, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("transcode worker stopping")
				return
			}
			w.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		w.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		retryable, err := w.Process(ctx, job)
		if err == nil {
			continue
		}
		w.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
		if !retryable {
			continue
		}
		// Requeue outside the worker context so shutdown does not lose the job.
		reCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if _, reErr := w.queue.Retry(reCtx, job); reErr != nil {
			w.logger.Error("retry enqueue failed", zap.Error(reErr))
		}
		cancel()
		if ctx.Err() == nil {
			time.Sleep(queue.RetryBackoff)
		}
	}
}

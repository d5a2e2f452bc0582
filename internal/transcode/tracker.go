package transcode

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zack-mcginnis/drone-video-analysis-server/internal/models"
)

// Runner is a pluggable job-execution strategy. Submit must return promptly:
// the encode itself never runs on the caller's goroutine. Status reports the
// strategy's own view of a job when it keeps one outside the tracker (the
// queue strategy's broker record); strategies whose state lives only in the
// tracker return (nil, nil).
type Runner interface {
	Submit(ctx context.Context, job *Job) error
	Status(ctx context.Context, recordingID int64) (*JobStatus, error)
}

// Tracker is the in-process registry of transcode jobs: it assigns job
// identity, collapses duplicate submissions per recording, and answers status
// queries with a normalized vocabulary regardless of runner strategy.
type Tracker struct {
	runner     Runner
	repo       RecordingStore
	reconciler *Reconciler
	ttl        time.Duration
	logger     *zap.Logger

	mu   sync.Mutex
	jobs map[int64]*Job
}

// NewTracker creates a job tracker. Terminal jobs are evicted from memory ttl
// after completion; their state remains discoverable through the recording's
// persisted metadata.
func NewTracker(runner Runner, repo RecordingStore, reconciler *Reconciler, ttl time.Duration, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Tracker{
		runner:     runner,
		repo:       repo,
		reconciler: reconciler,
		ttl:        ttl,
		logger:     logger,
		jobs:       make(map[int64]*Job),
	}
}

// Submit creates a transcode job for the recording, or returns the status of
// the already-active one. Exactly one execution proceeds for concurrent
// submissions of the same recording. Terminal jobs do not block resubmission.
func (t *Tracker) Submit(ctx context.Context, recordingID int64) (JobStatus, error) {
	if active, ok := t.activeJob(recordingID); ok {
		// A queue-strategy job may have finished in the worker process; check
		// the broker before treating it as still active.
		broker, err := t.runner.Status(ctx, recordingID)
		if err == nil && broker != nil && broker.Terminal() {
			t.adoptBrokerState(active, broker)
		} else {
			snap := active.Snapshot()
			t.logger.Info("job already active for recording",
				zap.Int64("recording_id", recordingID), zap.String("job_id", snap.JobID))
			return snap, nil
		}
	}

	// A restarted API process has no memory of a job the worker may still be
	// running; the broker record covers that window.
	if broker, err := t.runner.Status(ctx, recordingID); err == nil && broker != nil && !broker.Terminal() {
		t.logger.Info("job already active in broker",
			zap.Int64("recording_id", recordingID), zap.String("job_id", broker.JobID))
		return *broker, nil
	}

	t.mu.Lock()
	if existing, ok := t.jobs[recordingID]; ok && !existing.Terminal() {
		snap := existing.Snapshot()
		t.mu.Unlock()
		return snap, nil
	}
	job := newJob(recordingID)
	t.jobs[recordingID] = job
	t.mu.Unlock()

	if err := t.runner.Submit(ctx, job); err != nil {
		// Degrade instead of hanging the caller: the job fails immediately
		// and the failure is written straight to the recording's metadata so
		// it outlives this process.
		job.MarkFailed(err)
		if recErr := t.reconciler.MarkFailed(ctx, recordingID, err); recErr != nil {
			t.logger.Error("could not persist hand-off failure", zap.Int64("recording_id", recordingID), zap.Error(recErr))
		}
		t.logger.Error("job hand-off failed", zap.Int64("recording_id", recordingID), zap.Error(err))
		return job.Snapshot(), nil
	}

	t.logger.Info("submitted transcode job", zap.Int64("recording_id", recordingID), zap.String("job_id", job.ID()))
	return job.Snapshot(), nil
}

// Status answers "does a job exist and what is its state" for a recording.
// Resolution order: in-memory job, runner/broker record, persisted recording
// metadata. Returns ErrNoJob when none of those know the recording;
// repository errors (including a missing recording) pass through.
func (t *Tracker) Status(ctx context.Context, recordingID int64) (JobStatus, error) {
	t.mu.Lock()
	job, ok := t.jobs[recordingID]
	t.mu.Unlock()

	if ok {
		snap := job.Snapshot()
		if snap.Terminal() {
			t.evictExpired(recordingID, job)
			return snap, nil
		}
		// Non-terminal in-memory state can be stale under the queue strategy;
		// prefer the broker's view when it has one.
		if broker, err := t.runner.Status(ctx, recordingID); err == nil && broker != nil {
			if broker.Terminal() {
				t.adoptBrokerState(job, broker)
			}
			return *broker, nil
		}
		return snap, nil
	}

	if broker, err := t.runner.Status(ctx, recordingID); err == nil && broker != nil {
		return *broker, nil
	}

	rec, err := t.repo.GetByID(ctx, recordingID)
	if err != nil {
		return JobStatus{}, err
	}
	if st := StatusFromRecording(rec); st != nil {
		return *st, nil
	}
	return JobStatus{}, ErrNoJob
}

func (t *Tracker) activeJob(recordingID int64) (*Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[recordingID]
	if !ok || job.Terminal() {
		return nil, false
	}
	return job, true
}

// adoptBrokerState folds a broker-reported terminal outcome into the
// in-memory job so de-duplication unblocks resubmission.
func (t *Tracker) adoptBrokerState(job *Job, broker *JobStatus) {
	switch broker.Status {
	case models.TranscodeStatusCompleted:
		job.MarkCompleted(&Result{OutputLocation: broker.OutputLocation, Info: broker.VideoInfo})
	case models.TranscodeStatusFailed:
		job.MarkFailed(errors.New(broker.Error))
	}
}

// evictExpired drops a terminal job from memory once its TTL passed, keeping
// the table bounded. The persisted metadata remains the durable record.
func (t *Tracker) evictExpired(recordingID int64, job *Job) {
	completed := job.CompletedAt()
	if completed.IsZero() || time.Since(completed) < t.ttl {
		return
	}
	t.mu.Lock()
	if current, ok := t.jobs[recordingID]; ok && current == job {
		delete(t.jobs, recordingID)
	}
	t.mu.Unlock()
	t.logger.Debug("evicted terminal job", zap.Int64("recording_id", recordingID), zap.String("job_id", job.ID()))
}

// ActiveJobs reports how many non-terminal jobs are tracked (for diagnostics).
func (t *Tracker) ActiveJobs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, j := range t.jobs {
		if !j.Terminal() {
			n++
		}
	}
	return n
}

package transcode

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zack-mcginnis/drone-video-analysis-server/internal/models"
)

// ErrQueueUnavailable marks a job hand-off that could not happen because the
// execution backend (worker pool or broker) is down or saturated.
var ErrQueueUnavailable = errors.New("transcode queue unavailable")

// ErrNoJob is returned by status queries when no job, broker record, or
// persisted transcode state exists for the recording.
var ErrNoJob = errors.New("no transcode job for recording")

// JobStatus is the normalized view handed to polling clients, regardless of
// which runner strategy produced it.
type JobStatus struct {
	RecordingID    int64             `json:"recording_id"`
	JobID          string            `json:"job_id,omitempty"`
	Status         string            `json:"status"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	Error          string            `json:"error,omitempty"`
	CanRetry       bool              `json:"can_retry,omitempty"`
	OutputLocation string            `json:"output_location,omitempty"`
	VideoInfo      *models.MediaInfo `json:"video_info,omitempty"`
}

// Terminal reports whether the status is final.
func (s *JobStatus) Terminal() bool {
	return s.Status == models.TranscodeStatusCompleted || s.Status == models.TranscodeStatusFailed
}

// Job is one execution of the transcode pipeline for one recording. Its
// identity is opaque to callers; lookup is always by recording ID.
type Job struct {
	mu          sync.Mutex
	id          string
	recordingID int64
	status      string
	startedAt   time.Time
	completedAt time.Time
	errMsg      string
	outputDir   string
	info        *models.MediaInfo
}

func newJob(recordingID int64) *Job {
	return &Job{
		id:          uuid.New().String(),
		recordingID: recordingID,
		status:      models.TranscodeStatusQueued,
	}
}

// RecordingID returns the owning recording identifier.
func (j *Job) RecordingID() int64 { return j.recordingID }

// ID returns the opaque job identifier.
func (j *Job) ID() string { return j.id }

// MarkProcessing transitions queued → processing.
func (j *Job) MarkProcessing() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == models.TranscodeStatusQueued {
		j.status = models.TranscodeStatusProcessing
		j.startedAt = time.Now()
	}
}

// MarkCompleted transitions to the completed terminal state.
func (j *Job) MarkCompleted(res *Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.terminalLocked() {
		return
	}
	j.status = models.TranscodeStatusCompleted
	j.completedAt = time.Now()
	if res != nil {
		j.outputDir = res.OutputLocation
		if res.Info != nil {
			infoCopy := *res.Info
			j.info = &infoCopy
		}
	}
}

// MarkFailed transitions to the failed terminal state.
func (j *Job) MarkFailed(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.terminalLocked() {
		return
	}
	j.status = models.TranscodeStatusFailed
	j.completedAt = time.Now()
	if err != nil {
		j.errMsg = err.Error()
	}
}

func (j *Job) terminalLocked() bool {
	return j.status == models.TranscodeStatusCompleted || j.status == models.TranscodeStatusFailed
}

// Terminal reports whether the job reached a final state.
func (j *Job) Terminal() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.terminalLocked()
}

// CompletedAt returns the terminal timestamp (zero while active).
func (j *Job) CompletedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.completedAt
}

// Snapshot returns a consistent copy of the job state for polling clients.
func (j *Job) Snapshot() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	st := JobStatus{
		RecordingID:    j.recordingID,
		JobID:          j.id,
		Status:         j.status,
		Error:          j.errMsg,
		CanRetry:       j.status == models.TranscodeStatusFailed,
		OutputLocation: j.outputDir,
	}
	if !j.startedAt.IsZero() {
		t := j.startedAt
		st.StartedAt = &t
	}
	if !j.completedAt.IsZero() {
		t := j.completedAt
		st.CompletedAt = &t
	}
	if j.info != nil {
		infoCopy := *j.info
		st.VideoInfo = &infoCopy
	}
	return st
}

package transcode

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zack-mcginnis/drone-video-analysis-server/internal/models"
)

// fakeRunner records hand-offs without executing anything, so tests control
// job state transitions explicitly.
type fakeRunner struct {
	mu      sync.Mutex
	submits []*Job
	err     error
	broker  map[int64]*JobStatus
}

func (r *fakeRunner) Submit(_ context.Context, job *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.submits = append(r.submits, job)
	return nil
}

func (r *fakeRunner) Status(_ context.Context, recordingID int64) (*JobStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.broker == nil {
		return nil, nil
	}
	return r.broker[recordingID], nil
}

func (r *fakeRunner) submitCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.submits)
}

func (r *fakeRunner) lastJob() *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.submits) == 0 {
		return nil
	}
	return r.submits[len(r.submits)-1]
}

func newTestTracker(runner Runner, store *fakeStore, ttl time.Duration) *Tracker {
	return NewTracker(runner, store, NewReconciler(store, nil), ttl, nil)
}

func TestTracker_SubmitDeduplicatesActiveJobs(t *testing.T) {
	store := newFakeStore(&models.Recording{ID: 5, Environment: models.EnvironmentLocal})
	runner := &fakeRunner{}
	tracker := newTestTracker(runner, store, time.Hour)

	first, err := tracker.Submit(context.Background(), 5)
	require.NoError(t, err)

	second, err := tracker.Submit(context.Background(), 5)
	require.NoError(t, err)

	assert.Equal(t, 1, runner.submitCount(), "duplicate submit must not re-run the pipeline")
	assert.Equal(t, first.JobID, second.JobID)
}

func TestTracker_ConcurrentSubmitsRunOnce(t *testing.T) {
	store := newFakeStore(&models.Recording{ID: 5, Environment: models.EnvironmentLocal})
	runner := &fakeRunner{}
	tracker := newTestTracker(runner, store, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tracker.Submit(context.Background(), 5)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, runner.submitCount())
	assert.Equal(t, 1, tracker.ActiveJobs())
}

func TestTracker_ResubmissionAllowedAfterFailure(t *testing.T) {
	store := newFakeStore(&models.Recording{ID: 5, Environment: models.EnvironmentLocal})
	runner := &fakeRunner{}
	tracker := newTestTracker(runner, store, time.Hour)

	_, err := tracker.Submit(context.Background(), 5)
	require.NoError(t, err)
	runner.lastJob().MarkFailed(errors.New("encode blew up"))

	st, err := tracker.Submit(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 2, runner.submitCount())
	assert.Equal(t, models.TranscodeStatusQueued, st.Status)
}

func TestTracker_HandOffFailureDegradesToFailedStatus(t *testing.T) {
	store := newFakeStore(&models.Recording{ID: 5, Environment: models.EnvironmentLocal})
	runner := &fakeRunner{err: ErrQueueUnavailable}
	tracker := newTestTracker(runner, store, time.Hour)

	st, err := tracker.Submit(context.Background(), 5)
	require.NoError(t, err, "hand-off failure is reported as a failed job, not an error")
	assert.Equal(t, models.TranscodeStatusFailed, st.Status)
	assert.True(t, st.CanRetry)

	// The failure is persisted, not just in memory.
	assert.Equal(t, models.TranscodeStatusFailed, store.meta(5, models.MetaTranscodingStatus))
}

func TestTracker_StatusFromMemory(t *testing.T) {
	store := newFakeStore(&models.Recording{ID: 5, Environment: models.EnvironmentLocal})
	runner := &fakeRunner{}
	tracker := newTestTracker(runner, store, time.Hour)

	_, err := tracker.Submit(context.Background(), 5)
	require.NoError(t, err)

	st, err := tracker.Status(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, models.TranscodeStatusQueued, st.Status)

	runner.lastJob().MarkProcessing()
	st, err = tracker.Status(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, models.TranscodeStatusProcessing, st.Status)
	assert.NotNil(t, st.StartedAt)
}

func TestTracker_TerminalStateImmutableOnRepeatedPolls(t *testing.T) {
	store := newFakeStore(&models.Recording{ID: 5, Environment: models.EnvironmentLocal})
	runner := &fakeRunner{}
	tracker := newTestTracker(runner, store, time.Hour)

	_, err := tracker.Submit(context.Background(), 5)
	require.NoError(t, err)
	job := runner.lastJob()
	job.MarkCompleted(&Result{OutputLocation: "/hls/5"})
	job.MarkFailed(errors.New("late failure must not stick"))

	for i := 0; i < 3; i++ {
		st, err := tracker.Status(context.Background(), 5)
		require.NoError(t, err)
		assert.Equal(t, models.TranscodeStatusCompleted, st.Status)
		assert.Empty(t, st.Error)
	}
}

func TestTracker_StatusFallsBackToBroker(t *testing.T) {
	store := newFakeStore(&models.Recording{ID: 5, Environment: models.EnvironmentLocal})
	runner := &fakeRunner{broker: map[int64]*JobStatus{
		5: {RecordingID: 5, JobID: "q-1", Status: models.TranscodeStatusProcessing},
	}}
	tracker := newTestTracker(runner, store, time.Hour)

	st, err := tracker.Status(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "q-1", st.JobID)
	assert.Equal(t, models.TranscodeStatusProcessing, st.Status)
}

func TestTracker_StatusFallsBackToPersistedMetadata(t *testing.T) {
	store := newFakeStore(&models.Recording{
		ID:          5,
		Environment: models.EnvironmentLocal,
		Metadata: map[string]interface{}{
			models.MetaTranscodingStatus: models.TranscodeStatusCompleted,
			models.MetaHLSPath:           "/recordings/hls/5",
		},
	})
	tracker := newTestTracker(&fakeRunner{}, store, time.Hour)

	st, err := tracker.Status(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, models.TranscodeStatusCompleted, st.Status)
	assert.Equal(t, "/recordings/hls/5", st.OutputLocation)
}

func TestTracker_StatusLegacyProcessedFlag(t *testing.T) {
	store := newFakeStore(&models.Recording{
		ID:          5,
		Environment: models.EnvironmentLocal,
		Metadata:    map[string]interface{}{models.MetaProcessed: true},
	})
	tracker := newTestTracker(&fakeRunner{}, store, time.Hour)

	st, err := tracker.Status(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, models.TranscodeStatusCompleted, st.Status)
}

func TestTracker_StatusNoJob(t *testing.T) {
	store := newFakeStore(&models.Recording{ID: 5, Environment: models.EnvironmentLocal})
	tracker := newTestTracker(&fakeRunner{}, store, time.Hour)

	_, err := tracker.Status(context.Background(), 5)
	require.ErrorIs(t, err, ErrNoJob)
}

func TestTracker_TerminalJobsEvictedAfterTTL(t *testing.T) {
	store := newFakeStore(&models.Recording{ID: 5, Environment: models.EnvironmentLocal})
	runner := &fakeRunner{}
	tracker := newTestTracker(runner, store, time.Millisecond)

	_, err := tracker.Submit(context.Background(), 5)
	require.NoError(t, err)
	runner.lastJob().MarkCompleted(nil)
	time.Sleep(5 * time.Millisecond)

	// The eviction read still answers from the job before dropping it.
	st, err := tracker.Status(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, models.TranscodeStatusCompleted, st.Status)
	assert.Zero(t, tracker.ActiveJobs())

	// The next submit starts fresh.
	st, err = tracker.Submit(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, models.TranscodeStatusQueued, st.Status)
	assert.Equal(t, 2, runner.submitCount())
}

func TestTracker_SubmitDefersToBrokerActiveJob(t *testing.T) {
	store := newFakeStore(&models.Recording{ID: 5, Environment: models.EnvironmentLocal})
	runner := &fakeRunner{broker: map[int64]*JobStatus{
		5: {RecordingID: 5, JobID: "q-9", Status: models.TranscodeStatusProcessing},
	}}
	tracker := newTestTracker(runner, store, time.Hour)

	// Fresh process, empty memory: the worker already owns this recording.
	st, err := tracker.Submit(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "q-9", st.JobID)
	assert.Equal(t, models.TranscodeStatusProcessing, st.Status)
	assert.Zero(t, runner.submitCount(), "no duplicate enqueue while the worker owns the job")
}

func TestTracker_SubmitAdoptsBrokerTerminalState(t *testing.T) {
	store := newFakeStore(&models.Recording{ID: 5, Environment: models.EnvironmentLocal})
	runner := &fakeRunner{}
	tracker := newTestTracker(runner, store, time.Hour)

	_, err := tracker.Submit(context.Background(), 5)
	require.NoError(t, err)

	// Worker process finished the job; only the broker knows.
	runner.mu.Lock()
	runner.broker = map[int64]*JobStatus{
		5: {RecordingID: 5, Status: models.TranscodeStatusCompleted},
	}
	runner.mu.Unlock()

	st, err := tracker.Submit(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 2, runner.submitCount(), "terminal broker state must unblock resubmission")
	assert.Equal(t, models.TranscodeStatusQueued, st.Status)
}

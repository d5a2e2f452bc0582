package transcode

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zack-mcginnis/drone-video-analysis-server/internal/models"
)

func TestReconciler_MarkProcessingPatch(t *testing.T) {
	store := newFakeStore(&models.Recording{ID: 3, Environment: models.EnvironmentLocal})
	r := NewReconciler(store, nil)

	require.NoError(t, r.MarkProcessing(context.Background(), 3))

	assert.Equal(t, models.TranscodeStatusProcessing, store.meta(3, models.MetaTranscodingStatus))
	startedAt, ok := store.meta(3, models.MetaTranscodingStartedAt).(string)
	require.True(t, ok)
	_, err := time.Parse(time.RFC3339, startedAt)
	assert.NoError(t, err, "started_at must be RFC3339")
}

func TestReconciler_MarkCompletedLocalOutput(t *testing.T) {
	store := newFakeStore(&models.Recording{ID: 3, Environment: models.EnvironmentLocal})
	r := NewReconciler(store, nil)

	info := models.MediaInfo{Width: 640, Height: 480, Codec: "h264"}
	res := &Result{OutputLocation: "/recordings/hls/3", Info: &info}
	require.NoError(t, r.MarkCompleted(context.Background(), 3, res))

	assert.Equal(t, models.TranscodeStatusCompleted, store.meta(3, models.MetaTranscodingStatus))
	assert.Equal(t, true, store.meta(3, models.MetaProcessed))
	assert.Equal(t, false, store.meta(3, models.MetaCanRetry))
	assert.Equal(t, "/recordings/hls/3", store.meta(3, models.MetaHLSPath))
	assert.Nil(t, store.meta(3, models.MetaHLSS3Path), "local output must not claim an S3 location")

	store.mu.Lock()
	assert.Equal(t, "/recordings/hls/3", store.recs[3].LocalHLSPath)
	store.mu.Unlock()
}

func TestReconciler_MarkCompletedS3Output(t *testing.T) {
	store := newFakeStore(&models.Recording{ID: 3, Environment: models.EnvironmentAWS})
	r := NewReconciler(store, nil)

	res := &Result{OutputLocation: "s3://bucket/hls/3"}
	require.NoError(t, r.MarkCompleted(context.Background(), 3, res))

	assert.Equal(t, "s3://bucket/hls/3", store.meta(3, models.MetaHLSS3Path))
	store.mu.Lock()
	assert.Equal(t, "s3://bucket/hls/3", store.recs[3].S3HLSPath)
	store.mu.Unlock()
}

func TestReconciler_MarkFailedPatch(t *testing.T) {
	store := newFakeStore(&models.Recording{ID: 3, Environment: models.EnvironmentLocal})
	r := NewReconciler(store, nil)

	require.NoError(t, r.MarkFailed(context.Background(), 3, errors.New("source fetch failed: key not found")))

	assert.Equal(t, models.TranscodeStatusFailed, store.meta(3, models.MetaTranscodingStatus))
	assert.Equal(t, true, store.meta(3, models.MetaCanRetry))
	assert.Equal(t, "source fetch failed: key not found", store.meta(3, models.MetaTranscodingError))
}

func TestReconciler_MergeErrorPropagates(t *testing.T) {
	store := newFakeStore(&models.Recording{ID: 3, Environment: models.EnvironmentLocal})
	store.mergeErr = errors.New("deadlock detected")
	r := NewReconciler(store, nil)

	err := r.MarkProcessing(context.Background(), 3)
	require.Error(t, err)
}

func TestStatusFromRecording_NoTranscodeState(t *testing.T) {
	assert.Nil(t, StatusFromRecording(nil))
	assert.Nil(t, StatusFromRecording(&models.Recording{ID: 1}))
	assert.Nil(t, StatusFromRecording(&models.Recording{
		ID:       1,
		Metadata: map[string]interface{}{"unrelated": "value"},
	}))
}

func TestStatusFromRecording_DecodesJSONBVideoInfo(t *testing.T) {
	// Metadata read back from JSONB arrives as generic maps.
	rec := &models.Recording{
		ID:          4,
		Environment: models.EnvironmentLocal,
		Metadata: map[string]interface{}{
			models.MetaTranscodingStatus: models.TranscodeStatusCompleted,
			models.MetaVideoInfo: map[string]interface{}{
				"width":    float64(1920),
				"height":   float64(1080),
				"duration": 12.5,
				"codec":    "h264",
			},
		},
	}

	st := StatusFromRecording(rec)
	require.NotNil(t, st)
	require.NotNil(t, st.VideoInfo)
	assert.Equal(t, 1920, st.VideoInfo.Width)
	assert.Equal(t, 1080, st.VideoInfo.Height)
	assert.InDelta(t, 12.5, st.VideoInfo.Duration, 0.001)
	assert.Equal(t, "h264", st.VideoInfo.Codec)
}

func TestStatusFromRecording_FailedWithTimestamps(t *testing.T) {
	started := time.Now().Add(-time.Minute).UTC().Truncate(time.Second)
	completed := time.Now().UTC().Truncate(time.Second)
	rec := &models.Recording{
		ID:          4,
		Environment: models.EnvironmentLocal,
		Metadata: map[string]interface{}{
			models.MetaTranscodingStatus:      models.TranscodeStatusFailed,
			models.MetaTranscodingStartedAt:   started.Format(time.RFC3339),
			models.MetaTranscodingCompletedAt: completed.Format(time.RFC3339),
			models.MetaTranscodingError:       "timeout exceeded",
			models.MetaCanRetry:               true,
		},
	}

	st := StatusFromRecording(rec)
	require.NotNil(t, st)
	assert.Equal(t, models.TranscodeStatusFailed, st.Status)
	assert.True(t, st.CanRetry)
	assert.Equal(t, "timeout exceeded", st.Error)
	require.NotNil(t, st.StartedAt)
	require.NotNil(t, st.CompletedAt)
	assert.True(t, st.StartedAt.Equal(started))
	assert.True(t, st.CompletedAt.Equal(completed))
}

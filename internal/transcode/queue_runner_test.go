package transcode

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zack-mcginnis/drone-video-analysis-server/internal/models"
	"github.com/zack-mcginnis/drone-video-analysis-server/pkg/queue"
)

func TestQueueRunner_SubmitEnqueuesAndSeedsStatus(t *testing.T) {
	q := setupWorkerQueue(t)
	r := NewQueueRunner(q, nil)

	job := newJob(33)
	require.NoError(t, r.Submit(context.Background(), job))

	queued, _, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.NotNil(t, queued)
	assert.Equal(t, queue.JobTypeTranscode, queued.Type)

	st, err := r.Status(context.Background(), 33)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, models.TranscodeStatusQueued, st.Status)
	assert.NotEmpty(t, st.JobID)
}

func TestQueueRunner_StatusMapsBrokerRecord(t *testing.T) {
	q := setupWorkerQueue(t)
	r := NewQueueRunner(q, nil)

	started := time.Now().UTC().Truncate(time.Second)
	completed := started.Add(90 * time.Second)
	require.NoError(t, q.SetStatus(context.Background(), 33, queue.JobStatus{
		JobID:       "job-9",
		Status:      models.TranscodeStatusFailed,
		StartedAt:   started.Format(time.RFC3339),
		CompletedAt: completed.Format(time.RFC3339),
		Error:       "encoder exit 1",
	}))

	st, err := r.Status(context.Background(), 33)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "job-9", st.JobID)
	assert.Equal(t, models.TranscodeStatusFailed, st.Status)
	assert.True(t, st.CanRetry)
	assert.Equal(t, "encoder exit 1", st.Error)
	require.NotNil(t, st.StartedAt)
	require.NotNil(t, st.CompletedAt)
	assert.True(t, st.StartedAt.Equal(started))
	assert.True(t, st.CompletedAt.Equal(completed))
}

func TestQueueRunner_StatusNilWhenBrokerHasNoRecord(t *testing.T) {
	q := setupWorkerQueue(t)
	r := NewQueueRunner(q, nil)

	st, err := r.Status(context.Background(), 404)
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestQueueRunner_SubmitBrokerDownIsQueueUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	mr.Close() // broker gone before the submit

	r := NewQueueRunner(queue.NewQueue(client, nil), nil)
	err := r.Submit(context.Background(), newJob(33))
	require.ErrorIs(t, err, ErrQueueUnavailable)
}

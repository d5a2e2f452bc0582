package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zack-mcginnis/drone-video-analysis-server/internal/models"
)

// fakeDownloader fails a configurable number of times before succeeding.
type fakeDownloader struct {
	failures   int
	calls      int
	content    []byte
	missing    bool // object does not exist
	headBroken bool // existence check fails with a transport error
	heads      int
}

func (d *fakeDownloader) DownloadToFile(_ context.Context, _, localPath string) error {
	d.calls++
	if d.calls <= d.failures {
		return errors.New("connection reset")
	}
	return os.WriteFile(localPath, d.content, 0o644)
}

func (d *fakeDownloader) ObjectExists(_ context.Context, _ string) (bool, error) {
	d.heads++
	if d.headBroken {
		return false, errors.New("head timeout")
	}
	return !d.missing, nil
}

func localRecording(path string) *models.Recording {
	return &models.Recording{ID: 7, Environment: models.EnvironmentLocal, LocalMP4Path: path}
}

func TestFetchLocal_RelativePathUnderRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "stream_1.mp4"), []byte("x"), 0o644))

	f := NewFetcher(root, nil, nil)
	path, cleanup, err := f.Fetch(context.Background(), localRecording("stream_1.mp4"))
	require.NoError(t, err)
	defer cleanup()

	assert.Equal(t, filepath.Join(root, "stream_1.mp4"), path)
}

func TestFetchLocal_RejectsTraversal(t *testing.T) {
	root := t.TempDir()
	f := NewFetcher(root, nil, nil)

	for _, stored := range []string{
		"../../etc/passwd",
		"subdir/../../outside.mp4",
		"/etc/passwd",
	} {
		_, _, err := f.Fetch(context.Background(), localRecording(stored))
		assert.ErrorIs(t, err, ErrSourceNotFound, "stored path %q must be rejected", stored)
	}
}

func TestFetchLocal_MissingFile(t *testing.T) {
	f := NewFetcher(t.TempDir(), nil, nil)
	_, _, err := f.Fetch(context.Background(), localRecording("gone.mp4"))
	require.ErrorIs(t, err, ErrSourceNotFound)
}

func TestFetchLocal_EmptyPath(t *testing.T) {
	f := NewFetcher(t.TempDir(), nil, nil)
	_, _, err := f.Fetch(context.Background(), localRecording(""))
	require.ErrorIs(t, err, ErrSourceNotFound)
}

func awsRecording(s3Path string) *models.Recording {
	return &models.Recording{ID: 9, Environment: models.EnvironmentAWS, S3MP4Path: s3Path}
}

func TestFetchRemote_DownloadsToTempAndCleansUp(t *testing.T) {
	dl := &fakeDownloader{content: []byte("mp4 bytes")}
	f := NewFetcher(t.TempDir(), dl, nil)

	path, cleanup, err := f.Fetch(context.Background(), awsRecording("s3://bucket/recordings/9.mp4"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("mp4 bytes"), data)

	cleanup()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "temp file must be removed by cleanup")
}

func TestFetchRemote_RetriesTransientFailures(t *testing.T) {
	dl := &fakeDownloader{failures: 2, content: []byte("ok")}
	f := NewFetcher(t.TempDir(), dl, nil)
	f.backoff = 0

	path, cleanup, err := f.Fetch(context.Background(), awsRecording("bucket/key.mp4"))
	require.NoError(t, err)
	defer cleanup()

	assert.Equal(t, 3, dl.calls)
	assert.FileExists(t, path)
}

func TestFetchRemote_ExhaustedRetriesRemoveTempFile(t *testing.T) {
	dl := &fakeDownloader{failures: downloadAttempts}
	f := NewFetcher(t.TempDir(), dl, nil)
	f.backoff = 0

	_, _, err := f.Fetch(context.Background(), awsRecording("bucket/key.mp4"))
	var fErr *FetchError
	require.ErrorAs(t, err, &fErr)
	assert.Equal(t, downloadAttempts, dl.calls)
}

func TestFetchRemote_MissingObjectFailsWithoutRetrying(t *testing.T) {
	dl := &fakeDownloader{missing: true}
	f := NewFetcher(t.TempDir(), dl, nil)
	f.backoff = 0

	_, _, err := f.Fetch(context.Background(), awsRecording("bucket/gone.mp4"))
	require.ErrorIs(t, err, ErrSourceNotFound)
	assert.Equal(t, 1, dl.heads)
	assert.Zero(t, dl.calls, "no download attempts for a missing object")
}

func TestFetchRemote_BrokenExistenceCheckFallsThroughToDownload(t *testing.T) {
	dl := &fakeDownloader{headBroken: true, content: []byte("ok")}
	f := NewFetcher(t.TempDir(), dl, nil)

	path, cleanup, err := f.Fetch(context.Background(), awsRecording("bucket/key.mp4"))
	require.NoError(t, err)
	defer cleanup()
	assert.FileExists(t, path)
}

func TestFetchRemote_NoStorageConfigured(t *testing.T) {
	f := NewFetcher(t.TempDir(), nil, nil)
	_, _, err := f.Fetch(context.Background(), awsRecording("bucket/key.mp4"))
	var fErr *FetchError
	require.ErrorAs(t, err, &fErr)
}

func TestFetchRemote_MissingS3Path(t *testing.T) {
	f := NewFetcher(t.TempDir(), &fakeDownloader{}, nil)
	_, _, err := f.Fetch(context.Background(), awsRecording(""))
	var fErr *FetchError
	require.ErrorAs(t, err, &fErr)
}

func TestFetchRemote_ContextCancelledBetweenAttempts(t *testing.T) {
	dl := &fakeDownloader{failures: downloadAttempts}
	f := NewFetcher(t.TempDir(), dl, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := f.Fetch(ctx, awsRecording("bucket/key.mp4"))
	var fErr *FetchError
	require.ErrorAs(t, err, &fErr)
	assert.Equal(t, 1, dl.calls, "no retry after cancellation")
}

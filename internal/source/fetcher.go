package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zack-mcginnis/drone-video-analysis-server/internal/models"
)

// ErrSourceNotFound marks a local source that is absent or whose stored path
// escapes the recordings root.
var ErrSourceNotFound = errors.New("source not found")

// FetchError wraps a remote-storage transport or access failure.
type FetchError struct {
	Cause error
}

func (e *FetchError) Error() string { return fmt.Sprintf("source fetch failed: %v", e.Cause) }
func (e *FetchError) Unwrap() error { return e.Cause }

// ObjectDownloader is the storage collaborator surface the fetcher needs.
// *storage.S3 satisfies it.
type ObjectDownloader interface {
	DownloadToFile(ctx context.Context, s3Path, localPath string) error
	ObjectExists(ctx context.Context, s3Path string) (bool, error)
}

const (
	downloadAttempts = 3
	downloadBackoff  = 2 * time.Second
)

// Fetcher resolves a recording's source media into a local file path ready
// for probing: either a validated pre-existing local path, or a remote object
// downloaded into a temporary file.
type Fetcher struct {
	recordingsRoot string
	store          ObjectDownloader
	backoff        time.Duration
	logger         *zap.Logger
}

// NewFetcher creates a fetcher rooted at recordingsRoot. store may be nil
// when the deployment has no remote storage; fetching an aws-environment
// recording then fails cleanly.
func NewFetcher(recordingsRoot string, store ObjectDownloader, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		recordingsRoot: filepath.Clean(recordingsRoot),
		store:          store,
		backoff:        downloadBackoff,
		logger:         logger,
	}
}

// Fetch returns a local path for the recording's raw media plus a cleanup
// function that must be called once the caller is done with the file.
func (f *Fetcher) Fetch(ctx context.Context, rec *models.Recording) (string, func(), error) {
	switch rec.Environment {
	case models.EnvironmentAWS:
		return f.fetchRemote(ctx, rec)
	default:
		return f.fetchLocal(rec)
	}
}

func (f *Fetcher) fetchLocal(rec *models.Recording) (string, func(), error) {
	noop := func() {}
	stored := rec.SourcePath()
	if stored == "" {
		return "", noop, fmt.Errorf("%w: recording %d has no local path", ErrSourceNotFound, rec.ID)
	}

	p := stored
	if !filepath.IsAbs(p) {
		p = filepath.Join(f.recordingsRoot, p)
	}
	p = filepath.Clean(p)
	if p != f.recordingsRoot && !strings.HasPrefix(p, f.recordingsRoot+string(filepath.Separator)) {
		f.logger.Warn("rejected path escaping recordings root", zap.String("stored_path", stored), zap.Int64("recording_id", rec.ID))
		return "", noop, fmt.Errorf("%w: path %q escapes recordings root", ErrSourceNotFound, stored)
	}

	if _, err := os.Stat(p); err != nil {
		return "", noop, fmt.Errorf("%w: %v", ErrSourceNotFound, err)
	}
	return p, noop, nil
}

func (f *Fetcher) fetchRemote(ctx context.Context, rec *models.Recording) (string, func(), error) {
	noop := func() {}
	srcPath := rec.SourcePath()
	if srcPath == "" {
		return "", noop, &FetchError{Cause: fmt.Errorf("recording %d has no S3 path", rec.ID)}
	}
	if f.store == nil {
		return "", noop, &FetchError{Cause: errors.New("remote storage not configured")}
	}

	// A permanently missing object should fail once, not burn the retry
	// budget; transient head failures fall through to the download loop.
	if exists, err := f.store.ObjectExists(ctx, srcPath); err == nil && !exists {
		return "", noop, fmt.Errorf("%w: object %s does not exist", ErrSourceNotFound, srcPath)
	}

	tmp, err := os.CreateTemp("", "recording-*.mp4")
	if err != nil {
		return "", noop, &FetchError{Cause: fmt.Errorf("create temp file: %w", err)}
	}
	tmpPath := tmp.Name()
	tmp.Close()
	cleanup := func() { os.Remove(tmpPath) }

	var lastErr error
	for attempt := 0; attempt < downloadAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				cleanup()
				return "", noop, &FetchError{Cause: ctx.Err()}
			case <-time.After(f.backoff << (attempt - 1)):
			}
			f.logger.Info("retrying download", zap.Int("attempt", attempt+1), zap.Int64("recording_id", rec.ID))
		}
		if lastErr = f.store.DownloadToFile(ctx, srcPath, tmpPath); lastErr == nil {
			return tmpPath, cleanup, nil
		}
		if ctx.Err() != nil {
			break
		}
	}

	cleanup()
	return "", noop, &FetchError{Cause: lastErr}
}

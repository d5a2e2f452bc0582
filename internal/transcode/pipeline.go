package transcode

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/zack-mcginnis/drone-video-analysis-server/internal/models"
)

// reconcileWriteTimeout bounds a terminal-state metadata write once the job's
// own deadline no longer applies.
const reconcileWriteTimeout = 30 * time.Second

// RecordingStore is the read surface the pipeline needs from the datastore.
type RecordingStore interface {
	GetByID(ctx context.Context, id int64) (*models.Recording, error)
}

// SourceFetcher resolves a recording into a local file path plus a cleanup
// function. *source.Fetcher satisfies it.
type SourceFetcher interface {
	Fetch(ctx context.Context, rec *models.Recording) (string, func(), error)
}

// MediaProcessor probes and transcodes source files. *media.FFmpeg satisfies it.
type MediaProcessor interface {
	Probe(ctx context.Context, path string) (models.MediaInfo, error)
	Transcode(ctx context.Context, inputPath, outputDir string) (string, error)
}

// HLSPublisher copies a finished HLS output directory to object storage.
// *storage.S3 satisfies it. May be nil for local-only deployments.
type HLSPublisher interface {
	UploadHLSDir(ctx context.Context, recordingID int64, dir string) (string, error)
}

// Result summarizes a completed job.
type Result struct {
	OutputLocation string
	PlaylistPath   string
	Info           *models.MediaInfo
}

// Pipeline is the job business logic shared by both runner strategies:
// load recording → fetch source → probe → transcode → reconcile outcome.
type Pipeline struct {
	repo        RecordingStore
	fetcher     SourceFetcher
	media       MediaProcessor
	reconciler  *Reconciler
	publisher   HLSPublisher
	hlsRoot     string
	softTimeout time.Duration
	logger      *zap.Logger
}

// NewPipeline creates the shared job pipeline. softTimeout bounds one full
// job (fetch, probe, encode); the media layer's kill grace provides the hard
// limit past it.
func NewPipeline(repo RecordingStore, fetcher SourceFetcher, media MediaProcessor, reconciler *Reconciler, publisher HLSPublisher, hlsRoot string, softTimeout time.Duration, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if softTimeout <= 0 {
		softTimeout = 50 * time.Minute
	}
	return &Pipeline{
		repo:        repo,
		fetcher:     fetcher,
		media:       media,
		reconciler:  reconciler,
		publisher:   publisher,
		hlsRoot:     hlsRoot,
		softTimeout: softTimeout,
		logger:      logger,
	}
}

// OutputDir returns the per-recording HLS output directory.
func (p *Pipeline) OutputDir(recordingID int64) string {
	return filepath.Join(p.hlsRoot, strconv.FormatInt(recordingID, 10))
}

// Process executes one job end to end and reconciles the outcome into the
// recording's metadata. All pipeline failures are captured into the failed
// state; the returned error is informational for the runner's own tracking
// and never propagates further.
func (p *Pipeline) Process(ctx context.Context, recordingID int64) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.softTimeout)
	defer cancel()

	p.logger.Info("processing recording", zap.Int64("recording_id", recordingID))
	if err := p.reconciler.MarkProcessing(ctx, recordingID); err != nil {
		// A vanished recording is a defined failure, not a crash.
		return nil, fmt.Errorf("recording %d: %w", recordingID, err)
	}

	res, err := p.run(ctx, recordingID)

	// Terminal state is written on a context detached from the job deadline:
	// a job that hit the soft limit (ctx already expired) must still be able
	// to persist its failed state, or the metadata stays "processing" forever.
	writeCtx, cancelWrite := context.WithTimeout(context.WithoutCancel(ctx), reconcileWriteTimeout)
	defer cancelWrite()

	if err != nil {
		p.logger.Error("processing failed", zap.Int64("recording_id", recordingID), zap.Error(err))
		if recErr := p.reconciler.MarkFailed(writeCtx, recordingID, err); recErr != nil {
			p.logger.Error("could not persist failure state", zap.Int64("recording_id", recordingID), zap.Error(recErr))
		}
		return nil, err
	}

	if recErr := p.reconciler.MarkCompleted(writeCtx, recordingID, res); recErr != nil {
		p.logger.Error("could not persist completed state", zap.Int64("recording_id", recordingID), zap.Error(recErr))
	}
	p.logger.Info("processing completed",
		zap.Int64("recording_id", recordingID),
		zap.String("output", res.OutputLocation),
	)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, recordingID int64) (*Result, error) {
	rec, err := p.repo.GetByID(ctx, recordingID)
	if err != nil {
		return nil, fmt.Errorf("load recording %d: %w", recordingID, err)
	}

	// The rtmp ingest may already have produced HLS on the S3 side; adopt it
	// instead of re-encoding.
	if rec.Environment == models.EnvironmentAWS {
		if s3HLS := rec.MetaString(models.MetaHLSS3Path); s3HLS != "" {
			p.logger.Info("recording already has HLS files in S3, skipping encode",
				zap.Int64("recording_id", recordingID), zap.String("hls_s3_path", s3HLS))
			return &Result{OutputLocation: s3HLS}, nil
		}
	}

	srcPath, cleanup, err := p.fetcher.Fetch(ctx, rec)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	info, err := p.media.Probe(ctx, srcPath)
	if err != nil {
		return nil, err
	}

	outDir := p.OutputDir(recordingID)
	playlist, err := p.media.Transcode(ctx, srcPath, outDir)
	if err != nil {
		return nil, err
	}

	location := outDir
	if rec.Environment == models.EnvironmentAWS {
		if p.publisher == nil {
			return nil, fmt.Errorf("recording %d: object storage not configured for aws recordings", recordingID)
		}
		location, err = p.publisher.UploadHLSDir(ctx, recordingID, outDir)
		if err != nil {
			return nil, fmt.Errorf("publish hls output: %w", err)
		}
	}

	return &Result{
		OutputLocation: location,
		PlaylistPath:   playlist,
		Info:           &info,
	}, nil
}

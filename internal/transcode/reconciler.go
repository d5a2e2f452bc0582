package transcode

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zack-mcginnis/drone-video-analysis-server/internal/models"
)

// MetadataStore is the datastore surface the reconciler writes through.
// *recordings.Repository satisfies it.
type MetadataStore interface {
	MergeTranscodeState(ctx context.Context, id int64, patch map[string]interface{}, hlsOutput string) error
}

// Reconciler is the single place that maps job state onto the recording's
// persisted metadata, so polling and playback clients see a consistent view
// regardless of which runner produced the result.
type Reconciler struct {
	store  MetadataStore
	logger *zap.Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(store MetadataStore, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: store, logger: logger}
}

// MarkProcessing records that a job started working on the recording.
func (r *Reconciler) MarkProcessing(ctx context.Context, recordingID int64) error {
	patch := map[string]interface{}{
		models.MetaTranscodingStatus:    models.TranscodeStatusProcessing,
		models.MetaTranscodingStartedAt: time.Now().Format(time.RFC3339),
	}
	return r.merge(ctx, recordingID, patch, "")
}

// MarkCompleted persists the job outcome: output location, probe info, legacy
// processed flag, completion timestamp.
func (r *Reconciler) MarkCompleted(ctx context.Context, recordingID int64, res *Result) error {
	patch := map[string]interface{}{
		models.MetaTranscodingStatus:      models.TranscodeStatusCompleted,
		models.MetaTranscodingCompletedAt: time.Now().Format(time.RFC3339),
		models.MetaProcessed:              true,
		models.MetaCanRetry:               false,
	}
	hlsOutput := ""
	if res != nil {
		hlsOutput = res.OutputLocation
		patch[models.MetaHLSPath] = res.OutputLocation
		if strings.HasPrefix(res.OutputLocation, "s3://") {
			// Marks the recording so a resubmission adopts the existing
			// S3-side output instead of re-encoding.
			patch[models.MetaHLSS3Path] = res.OutputLocation
		}
		if res.Info != nil {
			patch[models.MetaVideoInfo] = res.Info
		}
	}
	return r.merge(ctx, recordingID, patch, hlsOutput)
}

// MarkFailed persists the failure cause. can_retry signals that the
// de-duplication check no longer blocks resubmission.
func (r *Reconciler) MarkFailed(ctx context.Context, recordingID int64, cause error) error {
	msg := "transcoding failed"
	if cause != nil {
		msg = cause.Error()
	}
	patch := map[string]interface{}{
		models.MetaTranscodingStatus:      models.TranscodeStatusFailed,
		models.MetaTranscodingCompletedAt: time.Now().Format(time.RFC3339),
		models.MetaTranscodingError:       msg,
		models.MetaCanRetry:               true,
	}
	return r.merge(ctx, recordingID, patch, "")
}

func (r *Reconciler) merge(ctx context.Context, recordingID int64, patch map[string]interface{}, hlsOutput string) error {
	if err := r.store.MergeTranscodeState(ctx, recordingID, patch, hlsOutput); err != nil {
		r.logger.Error("reconcile metadata failed",
			zap.Int64("recording_id", recordingID),
			zap.Any("status", patch[models.MetaTranscodingStatus]),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// StatusFromRecording synthesizes a job status from persisted recording
// metadata. It understands both the transcoding_status field and the legacy
// boolean processed flag. Returns nil when the recording carries no transcode
// state at all.
func StatusFromRecording(rec *models.Recording) *JobStatus {
	if rec == nil {
		return nil
	}
	status := rec.MetaString(models.MetaTranscodingStatus)
	if status == "" && rec.MetaBool(models.MetaProcessed) {
		status = models.TranscodeStatusCompleted
	}
	if status == "" {
		return nil
	}

	st := &JobStatus{
		RecordingID:    rec.ID,
		Status:         status,
		Error:          rec.MetaString(models.MetaTranscodingError),
		CanRetry:       rec.MetaBool(models.MetaCanRetry),
		OutputLocation: rec.MetaString(models.MetaHLSPath),
	}
	if st.OutputLocation == "" {
		if rec.Environment == models.EnvironmentAWS {
			st.OutputLocation = rec.S3HLSPath
		} else {
			st.OutputLocation = rec.LocalHLSPath
		}
	}
	if ts, err := time.Parse(time.RFC3339, rec.MetaString(models.MetaTranscodingStartedAt)); err == nil {
		st.StartedAt = &ts
	}
	if ts, err := time.Parse(time.RFC3339, rec.MetaString(models.MetaTranscodingCompletedAt)); err == nil {
		st.CompletedAt = &ts
	}
	if raw, ok := rec.Metadata[models.MetaVideoInfo]; ok {
		if info := decodeMediaInfo(raw); info != nil {
			st.VideoInfo = info
		}
	}
	return st
}

// decodeMediaInfo tolerates both a typed MediaInfo (in-process write) and a
// generic map (round-tripped through JSONB).
func decodeMediaInfo(raw interface{}) *models.MediaInfo {
	switch v := raw.(type) {
	case *models.MediaInfo:
		infoCopy := *v
		return &infoCopy
	case models.MediaInfo:
		return &v
	case map[string]interface{}:
		info := &models.MediaInfo{}
		if f, ok := v["width"].(float64); ok {
			info.Width = int(f)
		}
		if f, ok := v["height"].(float64); ok {
			info.Height = int(f)
		}
		if f, ok := v["duration"].(float64); ok {
			info.Duration = f
		}
		if f, ok := v["bitrate"].(float64); ok {
			info.Bitrate = int64(f)
		}
		if s, ok := v["format"].(string); ok {
			info.Format = s
		}
		if s, ok := v["codec"].(string); ok {
			info.Codec = s
		}
		if f, ok := v["size"].(float64); ok {
			info.Size = int64(f)
		}
		return info
	default:
		return nil
	}
}

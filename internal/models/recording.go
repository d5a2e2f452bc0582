package models

import (
	"time"
)

// Recording environments. Environment decides which source path is
// authoritative and which fetch strategy applies.
const (
	EnvironmentLocal = "local"
	EnvironmentAWS   = "aws"
)

// Transcoding status vocabulary exposed to polling clients.
const (
	TranscodeStatusQueued     = "queued"
	TranscodeStatusProcessing = "processing"
	TranscodeStatusCompleted  = "completed"
	TranscodeStatusFailed     = "failed"
)

// Metadata keys written by the transcode subsystem. The metadata map is the
// only job-mutable surface of a recording; everything else is set once at
// creation.
const (
	MetaTranscodingStatus      = "transcoding_status"
	MetaTranscodingStartedAt   = "transcoding_started_at"
	MetaTranscodingCompletedAt = "transcoding_completed_at"
	MetaTranscodingError       = "transcoding_error"
	MetaCanRetry               = "can_retry"
	MetaProcessed              = "processed" // legacy boolean flag
	MetaHLSPath                = "hls_path"
	MetaHLSS3Path              = "hls_s3_path"
	MetaVideoInfo              = "video_info"
)

// Recording is one captured media asset delivered by the RTMP ingest.
// Exactly one of LocalMP4Path / S3MP4Path is populated, per Environment.
type Recording struct {
	ID           int64                  `json:"id"`
	StreamName   string                 `json:"stream_name"`
	Environment  string                 `json:"environment"`
	LocalMP4Path string                 `json:"local_mp4_path,omitempty"`
	S3MP4Path    string                 `json:"s3_mp4_path,omitempty"`
	LocalHLSPath string                 `json:"local_hls_path,omitempty"`
	S3HLSPath    string                 `json:"s3_hls_path,omitempty"`
	FileSize     int64                  `json:"file_size"`
	Duration     int                    `json:"duration"`
	Metadata     map[string]interface{} `json:"recording_metadata"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// SourcePath returns the environment-authoritative raw media location.
func (r *Recording) SourcePath() string {
	if r.Environment == EnvironmentAWS {
		return r.S3MP4Path
	}
	return r.LocalMP4Path
}

// MetaString returns a string metadata value, or "" when absent.
func (r *Recording) MetaString(key string) string {
	if r.Metadata == nil {
		return ""
	}
	if v, ok := r.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// MetaBool returns a boolean metadata value, or false when absent.
func (r *Recording) MetaBool(key string) bool {
	if r.Metadata == nil {
		return false
	}
	if v, ok := r.Metadata[key].(bool); ok {
		return v
	}
	return false
}

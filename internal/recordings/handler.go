package recordings

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zack-mcginnis/drone-video-analysis-server/internal/models"
	"github.com/zack-mcginnis/drone-video-analysis-server/internal/transcode"
	"github.com/zack-mcginnis/drone-video-analysis-server/pkg/response"
	"github.com/zack-mcginnis/drone-video-analysis-server/pkg/storage"
)

// Handler handles recording HTTP endpoints.
type Handler struct {
	repo    *Repository
	tracker *transcode.Tracker
	s3      *storage.S3 // optional: nil disables aws-environment playback/download
	hlsRoot string
	logger  *zap.Logger
}

// NewHandler creates a recordings handler.
func NewHandler(repo *Repository, tracker *transcode.Tracker, s3 *storage.S3, hlsRoot string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, tracker: tracker, s3: s3, hlsRoot: hlsRoot, logger: logger}
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "invalid recording id")
		return 0, false
	}
	return id, true
}

// List handles GET /recordings with skip/limit pagination and an optional
// stream_name filter.
func (h *Handler) List(c *gin.Context) {
	skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if skip < 0 {
		skip = 0
	}

	list, err := h.repo.List(c.Request.Context(), skip, limit, c.Query("stream_name"))
	if err != nil {
		h.logger.Error("list recordings failed", zap.Error(err))
		response.Internal(c, "failed to list recordings")
		return
	}
	if list == nil {
		list = []models.Recording{}
	}
	response.OK(c, list)
}

// Get handles GET /recordings/:id.
func (h *Handler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	rec, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "recording not found")
			return
		}
		h.logger.Error("get recording failed", zap.Error(err), zap.Int64("recording_id", id))
		response.Internal(c, "failed to get recording")
		return
	}
	response.OK(c, rec)
}

type createRecordingRequest struct {
	StreamName   string `json:"stream_name" binding:"required"`
	Environment  string `json:"environment"`
	LocalMP4Path string `json:"local_mp4_path"`
	S3MP4Path    string `json:"s3_mp4_path"`
	FileSize     int64  `json:"file_size"`
	Duration     int    `json:"duration"`
}

// Create handles POST /recordings: registration by the rtmp ingest.
func (h *Handler) Create(c *gin.Context) {
	var req createRecordingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	env := req.Environment
	if env == "" {
		env = models.EnvironmentLocal
	}
	if env != models.EnvironmentLocal && env != models.EnvironmentAWS {
		response.BadRequest(c, "environment must be local or aws")
		return
	}
	if env == models.EnvironmentLocal && req.LocalMP4Path == "" {
		response.BadRequest(c, "local_mp4_path required for local recordings")
		return
	}
	if env == models.EnvironmentAWS && req.S3MP4Path == "" {
		response.BadRequest(c, "s3_mp4_path required for aws recordings")
		return
	}

	rec := &models.Recording{
		StreamName:   req.StreamName,
		Environment:  env,
		LocalMP4Path: req.LocalMP4Path,
		S3MP4Path:    req.S3MP4Path,
		FileSize:     req.FileSize,
		Duration:     req.Duration,
		Metadata:     map[string]interface{}{},
	}
	if err := h.repo.Create(c.Request.Context(), rec); err != nil {
		h.logger.Error("create recording failed", zap.Error(err), zap.String("stream_name", req.StreamName))
		response.Internal(c, "failed to create recording")
		return
	}
	h.logger.Info("recording registered", zap.Int64("recording_id", rec.ID), zap.String("stream_name", rec.StreamName))
	response.Created(c, rec)
}

// Delete handles DELETE /recordings/:id. The source object of an aws
// recording is removed best-effort after the row: an orphaned object only
// wastes bucket space, it never blocks the delete.
func (h *Handler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	rec, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "recording not found")
			return
		}
		h.logger.Error("get recording failed", zap.Error(err), zap.Int64("recording_id", id))
		response.Internal(c, "failed to delete recording")
		return
	}

	deleted, err := h.repo.Delete(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("delete recording failed", zap.Error(err), zap.Int64("recording_id", id))
		response.Internal(c, "failed to delete recording")
		return
	}
	if !deleted {
		response.NotFound(c, "recording not found")
		return
	}

	if rec.Environment == models.EnvironmentAWS && h.s3 != nil && rec.S3MP4Path != "" {
		_, key := h.s3.ParsePath(rec.S3MP4Path)
		if err := h.s3.DeleteObject(c.Request.Context(), key); err != nil {
			h.logger.Warn("could not delete source object", zap.Error(err), zap.Int64("recording_id", id), zap.String("key", key))
		}
	}
	response.OK(c, gin.H{"deleted": true})
}

// Process handles POST /recordings/:id/process: submits a transcode job and
// answers 202 with the job's status. Resubmitting while a job is active
// returns the active job's status instead of starting another.
func (h *Handler) Process(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if _, err := h.repo.GetByID(c.Request.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "recording not found")
			return
		}
		h.logger.Error("load recording failed", zap.Error(err), zap.Int64("recording_id", id))
		response.Internal(c, "failed to load recording")
		return
	}

	st, err := h.tracker.Submit(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("submit transcode failed", zap.Error(err), zap.Int64("recording_id", id))
		response.Internal(c, "failed to submit transcode job")
		return
	}
	response.Accepted(c, st)
}

// ProcessStatus handles GET /recordings/:id/process/status.
func (h *Handler) ProcessStatus(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	st, err := h.tracker.Status(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			response.NotFound(c, "recording not found")
		case errors.Is(err, transcode.ErrNoJob):
			response.NotFound(c, "no transcode job for recording")
		default:
			h.logger.Error("status lookup failed", zap.Error(err), zap.Int64("recording_id", id))
			response.Internal(c, "failed to look up job status")
		}
		return
	}
	response.OK(c, st)
}

// PlaybackInfo handles GET /recordings/:id/playback-info: the playback
// options a client can use right now, depending on environment and whether
// the transcode finished.
func (h *Handler) PlaybackInfo(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	rec, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "recording not found")
			return
		}
		h.logger.Error("get recording failed", zap.Error(err), zap.Int64("recording_id", id))
		response.Internal(c, "failed to get recording")
		return
	}

	info := gin.H{
		"recording_id": rec.ID,
		"stream_name":  rec.StreamName,
		"environment":  rec.Environment,
		"processed":    hasHLS(rec),
	}
	if hasHLS(rec) {
		info["hls_url"] = "/api/v1/recordings/hls/" + strconv.FormatInt(rec.ID, 10) + "/playlist.m3u8"
	}
	if rec.Environment == models.EnvironmentAWS && h.s3 != nil && rec.S3MP4Path != "" {
		url, err := h.s3.GeneratePresignedDownloadURL(c.Request.Context(), rec.S3MP4Path, h.s3.PresignExpire())
		if err != nil {
			h.logger.Warn("presign mp4 failed", zap.Error(err), zap.Int64("recording_id", rec.ID))
		} else {
			info["mp4_url"] = url
		}
	}
	response.OK(c, info)
}

// ServeHLS handles GET /recordings/hls/:id/:file: the playlist or a segment,
// from local disk or streamed out of S3 per environment. Playlists are served
// no-cache so in-progress edits propagate; segments are immutable.
func (h *Handler) ServeHLS(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	file := filepath.Base(c.Param("file"))
	if !strings.HasSuffix(file, ".m3u8") && !strings.HasSuffix(file, ".ts") {
		response.BadRequest(c, "unsupported file type")
		return
	}

	rec, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "recording not found")
			return
		}
		h.logger.Error("get recording failed", zap.Error(err), zap.Int64("recording_id", id))
		response.Internal(c, "failed to get recording")
		return
	}
	if !hasHLS(rec) {
		response.NotFound(c, "recording has not been processed")
		return
	}

	if strings.HasSuffix(file, ".m3u8") {
		c.Header("Cache-Control", "no-cache")
	} else {
		c.Header("Cache-Control", "public, max-age=31536000, immutable")
	}

	if rec.Environment == models.EnvironmentAWS {
		h.streamHLSFromS3(c, rec, file)
		return
	}

	local := filepath.Join(h.hlsRoot, strconv.FormatInt(rec.ID, 10), file)
	if _, err := os.Stat(local); err != nil {
		response.NotFound(c, "hls file not found")
		return
	}
	c.File(local)
}

func (h *Handler) streamHLSFromS3(c *gin.Context, rec *models.Recording, file string) {
	if h.s3 == nil {
		response.Internal(c, "object storage not configured")
		return
	}
	s3Path := rec.S3HLSPath
	if s3Path == "" {
		s3Path = rec.MetaString(models.MetaHLSS3Path)
	}
	if s3Path == "" {
		response.NotFound(c, "hls output not found")
		return
	}
	body, contentType, err := h.s3.GetObjectStream(c.Request.Context(), strings.TrimSuffix(s3Path, "/")+"/"+file)
	if err != nil {
		h.logger.Warn("hls object fetch failed", zap.Error(err), zap.Int64("recording_id", rec.ID), zap.String("file", file))
		response.NotFound(c, "hls file not found")
		return
	}
	defer body.Close()
	if contentType == "" {
		if strings.HasSuffix(file, ".m3u8") {
			contentType = "application/vnd.apple.mpegurl"
		} else {
			contentType = "video/mp2t"
		}
	}
	c.Header("Content-Type", contentType)
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, body); err != nil {
		h.logger.Debug("hls stream interrupted", zap.Error(err), zap.Int64("recording_id", rec.ID))
	}
}

// GenerateDownloadURL handles GET /recordings/:id/download-url: a presigned
// S3 GET for the raw mp4 (aws recordings only).
func (h *Handler) GenerateDownloadURL(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	rec, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "recording not found")
			return
		}
		h.logger.Error("get recording failed", zap.Error(err), zap.Int64("recording_id", id))
		response.Internal(c, "failed to get recording")
		return
	}
	if rec.Environment != models.EnvironmentAWS || rec.S3MP4Path == "" {
		response.BadRequest(c, "recording is not stored in S3")
		return
	}
	if h.s3 == nil {
		response.Internal(c, "object storage not configured")
		return
	}
	expire := h.s3.PresignExpire()
	url, err := h.s3.GeneratePresignedDownloadURL(c.Request.Context(), rec.S3MP4Path, expire)
	if err != nil {
		h.logger.Error("presign download failed", zap.Error(err), zap.Int64("recording_id", id))
		response.Internal(c, "failed to generate download URL")
		return
	}
	response.OK(c, gin.H{"download_url": url, "expires_in": int(expire.Seconds())})
}

// hasHLS reports whether the recording has usable HLS output, from either
// path column or the metadata written by the transcode subsystem.
func hasHLS(rec *models.Recording) bool {
	if rec.LocalHLSPath != "" || rec.S3HLSPath != "" {
		return true
	}
	return rec.MetaString(models.MetaHLSPath) != "" || rec.MetaString(models.MetaHLSS3Path) != ""
}

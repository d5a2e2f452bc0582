package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/zack-mcginnis/drone-video-analysis-server/internal/models"
)

type ffprobeStream struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

type ffprobeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	BitRate    string `json:"bit_rate"`
	Size       string `json:"size"`
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

// Probe inspects a source file's video stream. It fails with
// ErrMediaUnreadable when the file is missing, unreadable, or carries no
// video stream.
func (f *FFmpeg) Probe(ctx context.Context, path string) (models.MediaInfo, error) {
	var info models.MediaInfo

	if _, err := os.Stat(path); err != nil {
		return info, fmt.Errorf("%w: %v", ErrMediaUnreadable, err)
	}

	stdout, stderr, err := f.run(ctx, f.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	)
	if err != nil {
		return info, fmt.Errorf("%w: ffprobe: %v (%s)", ErrMediaUnreadable, err, stderrTail(stderr, 512))
	}

	var probe ffprobeOutput
	if err := json.Unmarshal(stdout, &probe); err != nil {
		return info, fmt.Errorf("%w: parse ffprobe output: %v", ErrMediaUnreadable, err)
	}

	var video *ffprobeStream
	for i := range probe.Streams {
		if probe.Streams[i].CodecType == "video" {
			video = &probe.Streams[i]
			break
		}
	}
	if video == nil {
		return info, fmt.Errorf("%w: no video stream in %s", ErrMediaUnreadable, path)
	}

	info = models.MediaInfo{
		Width:  video.Width,
		Height: video.Height,
		Format: probe.Format.FormatName,
		Codec:  video.CodecName,
	}
	if d, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
		info.Duration = d
	}
	if b, err := strconv.ParseInt(probe.Format.BitRate, 10, 64); err == nil {
		info.Bitrate = b
	}
	if s, err := strconv.ParseInt(probe.Format.Size, 10, 64); err == nil {
		info.Size = s
	}

	f.logger.Debug("probed media",
		zap.String("path", path),
		zap.Int("width", info.Width),
		zap.Int("height", info.Height),
		zap.Float64("duration", info.Duration),
		zap.String("codec", info.Codec),
	)
	return info, nil
}

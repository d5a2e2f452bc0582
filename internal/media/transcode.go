package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// PlaylistName is the fixed playlist filename inside each output directory.
const PlaylistName = "playlist.m3u8"

// Transcode converts the input file into a single-rendition H.264/AAC HLS
// segment set under outputDir and returns the playlist path.
//
// If a playlist already exists at the target location the existing path is
// returned without re-encoding. Callers that suspect the source changed must
// clear the output directory first.
func (f *FFmpeg) Transcode(ctx context.Context, inputPath, outputDir string) (string, error) {
	playlistPath := filepath.Join(outputDir, PlaylistName)
	if _, err := os.Stat(playlistPath); err == nil {
		f.logger.Info("playlist already exists, skipping encode", zap.String("playlist", playlistPath))
		return playlistPath, nil
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	segmentPattern := filepath.Join(outputDir, "segment_%03d.ts")
	args := []string{
		"-y",
		"-i", inputPath,
		"-c:v", "libx264",
		"-c:a", "aac",
		"-f", "hls",
		"-hls_time", fmt.Sprintf("%d", f.segmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_list_size", "0",
		"-hls_flags", "independent_segments",
		"-hls_segment_filename", segmentPattern,
		playlistPath,
	}

	_, stderr, err := f.run(ctx, f.ffmpegPath, args...)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(ctx.Err(), context.Canceled) {
			return "", fmt.Errorf("%w: %v", ErrTimeoutExceeded, ctx.Err())
		}
		return "", &TranscodeError{ExitCode: exitCode(err), Stderr: stderrTail(stderr, 1024)}
	}

	// Zero exit but no playlist: partial or corrupt encoder behavior.
	if _, err := os.Stat(playlistPath); err != nil {
		return "", &TranscodeError{ExitCode: 0, Stderr: fmt.Sprintf("playlist missing after encode: %v", err)}
	}

	f.logger.Info("hls playlist created", zap.String("playlist", playlistPath))
	return playlistPath, nil
}

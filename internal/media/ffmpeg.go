package media

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// CommandRunner executes an external command and returns its stdout, stderr
// and error. Pluggable so tests can count invocations without ffmpeg installed.
type CommandRunner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

// Options configures the FFmpeg prober/transcoder.
type Options struct {
	FFmpegPath     string // default "ffmpeg"
	FFprobePath    string // default "ffprobe"
	SegmentSeconds int    // default 10
	// KillGrace is how long a command may linger after cooperative abort
	// (SIGTERM) before it is killed outright.
	KillGrace time.Duration
	// Run overrides command execution; nil uses the real binaries.
	Run CommandRunner
}

// FFmpeg probes source files and produces single-rendition HLS segment sets
// by invoking the external ffmpeg/ffprobe toolchain. It writes files under
// the output directory and never touches the datastore.
type FFmpeg struct {
	ffmpegPath     string
	ffprobePath    string
	segmentSeconds int
	killGrace      time.Duration
	run            CommandRunner
	logger         *zap.Logger
}

// NewFFmpeg creates the prober/transcoder.
func NewFFmpeg(opts Options, logger *zap.Logger) *FFmpeg {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.FFprobePath == "" {
		opts.FFprobePath = "ffprobe"
	}
	if opts.SegmentSeconds <= 0 {
		opts.SegmentSeconds = 10
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = 30 * time.Second
	}
	f := &FFmpeg{
		ffmpegPath:     opts.FFmpegPath,
		ffprobePath:    opts.FFprobePath,
		segmentSeconds: opts.SegmentSeconds,
		killGrace:      opts.KillGrace,
		logger:         logger,
	}
	f.run = opts.Run
	if f.run == nil {
		f.run = f.runCommand
	}
	return f
}

// runCommand executes a command bounded by ctx. Context cancellation sends
// SIGTERM first so ffmpeg can flush; WaitDelay kills it after the grace
// period.
func (f *FFmpeg) runCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = f.killGrace

	f.logger.Debug("exec", zap.String("cmd", name), zap.String("args", strings.Join(args, " ")))
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// stderrTail keeps error strings readable: ffmpeg stderr can run to megabytes.
func stderrTail(b []byte, max int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

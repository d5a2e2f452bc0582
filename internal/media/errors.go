package media

import (
	"errors"
	"fmt"
)

// ErrMediaUnreadable marks a source file that is missing, unreadable, or has
// no video stream.
var ErrMediaUnreadable = errors.New("media unreadable")

// ErrTimeoutExceeded marks a transcode that outlived its time limit and was
// aborted.
var ErrTimeoutExceeded = errors.New("transcode timeout exceeded")

// TranscodeError reports a failed encoder run. ExitCode is zero when the
// encoder exited cleanly but left no playlist behind.
type TranscodeError struct {
	ExitCode int
	Stderr   string
}

func (e *TranscodeError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("transcode failed: exit code %d", e.ExitCode)
	}
	return fmt.Sprintf("transcode failed: exit code %d: %s", e.ExitCode, e.Stderr)
}

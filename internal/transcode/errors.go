package transcode

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrEmptyManifest is returned when Concat is asked to join zero clips.
var ErrEmptyManifest = errors.New("concat manifest is empty")

// ProcessError describes one failed external invocation.
type ProcessError struct {
	Op         string
	ExitCode   int
	TimedOut   bool
	StderrTail string
	Err        error
}

func (e *ProcessError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("%s: timed out", e.Op)
	}
	msg := fmt.Sprintf("%s: exit code %d", e.Op, e.ExitCode)
	if line := lastLine(e.StderrTail); line != "" {
		msg += ": " + line
	}
	return msg
}

func (e *ProcessError) Unwrap() error { return e.Err }

func newProcessError(op string, res RunResult) *ProcessError {
	return &ProcessError{
		Op:         op,
		ExitCode:   res.ExitCode,
		TimedOut:   res.TimedOut,
		StderrTail: res.StderrTail,
		Err:        res.Err,
	}
}

// Attempt is one strategy tried by the normalizer.
type Attempt struct {
	Strategy string
	Err      error
}

// NormalizeError is returned once every normalize strategy has failed.
type NormalizeError struct {
	Ordinal  int
	Attempts []Attempt
}

func (e *NormalizeError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("normalize segment %d: no strategies attempted", e.Ordinal)
	}
	last := e.Attempts[len(e.Attempts)-1]
	return fmt.Sprintf("normalize segment %d: %d strategies failed, last (%s): %v",
		e.Ordinal, len(e.Attempts), last.Strategy, last.Err)
}

func (e *NormalizeError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

// TimedOut reports whether the final attempt hit its deadline.
func (e *NormalizeError) TimedOut() bool {
	var pe *ProcessError
	return errors.As(e, &pe) && pe.TimedOut
}

// ConcatError is returned when a clip-level or batch-level join fails.
type ConcatError struct {
	Stage  string
	Inputs int
	Err    error
}

func (e *ConcatError) Error() string {
	return fmt.Sprintf("concat %s (%d inputs): %v", e.Stage, e.Inputs, e.Err)
}

func (e *ConcatError) Unwrap() error { return e.Err }

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

var reTimestampIssue = regexp.MustCompile(
	`(?i)Non-monotonous DTS|non monotonically increasing dts|` +
		`DTS .*out of order|PTS .*out of order|` +
		`pts has no value|missing PTS|Timestamps are unset`)

// matchTimestampIssue reports whether stderr shows a timestamp discontinuity
// that regenerated PTS can repair.
func matchTimestampIssue(stderr string) bool {
	return reTimestampIssue.MatchString(stderr)
}

// Package transcode drives the external ffmpeg/ffprobe binaries: per-segment
// normalization, stream-copy concatenation, probing and capability checks.
// Every invocation runs under its own deadline and is killed, together with
// any children, when that deadline passes.
package transcode

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"time"
)

const (
	maxStderrBytes = 8 * 1024        // 8 KB tail of stderr kept for diagnostics
	maxStdoutBytes = 4 * 1024 * 1024 // ffprobe JSON and -encoders listings
	waitDelay      = 5 * time.Second
)

// RunResult is the structured outcome of one external process.
type RunResult struct {
	ExitCode   int
	Stdout     []byte
	StderrTail string
	Duration   time.Duration
	TimedOut   bool
	Err        error
}

// IsSuccess returns true when the process exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 && r.Err == nil }

// Runner executes one external command. Implementations must enforce
// timeout themselves rather than rely on the tool.
type Runner interface {
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) RunResult
}

// ExecRunner is the production Runner built on os/exec.
type ExecRunner struct {
	logger *slog.Logger
}

func NewExecRunner(logger *slog.Logger) *ExecRunner {
	return &ExecRunner{logger: logger}
}

// Run starts name with args in a fresh process group. When the deadline
// expires the whole group receives SIGKILL; the tool has no graceful cancel.
func (r *ExecRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) RunResult {
	start := time.Now()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	configureProcess(cmd)
	cmd.WaitDelay = waitDelay

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &capWriter{w: &stdoutBuf, limit: maxStdoutBytes}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}

	r.logger.Debug("executing transcoder command",
		"cmd", name,
		"args", args,
		"timeout_ms", timeout.Milliseconds(),
	)

	err := cmd.Run()
	elapsed := time.Since(start)

	result := RunResult{
		Stdout:     stdoutBuf.Bytes(),
		StderrTail: stderrBuf.String(),
		Duration:   elapsed,
		TimedOut:   errors.Is(ctx.Err(), context.DeadlineExceeded),
	}

	if err != nil {
		result.Err = err
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
		if result.ExitCode == 0 {
			// Killed by signal or WaitDelay expiry after a clean exit.
			result.ExitCode = -1
		}
	}

	if !result.IsSuccess() {
		r.logger.Warn("transcoder command failed",
			"cmd", name,
			"exit_code", result.ExitCode,
			"timed_out", result.TimedOut,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(result.StderrTail, 512),
		)
	} else {
		r.logger.Debug("transcoder command succeeded",
			"cmd", name,
			"duration_ms", elapsed.Milliseconds(),
		)
	}

	return result
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		tail := make([]byte, lw.limit)
		copy(tail, b[len(b)-lw.limit:])
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}

// capWriter keeps the first `limit` bytes and drops the rest.
type capWriter struct {
	w     *bytes.Buffer
	limit int
}

func (cw *capWriter) Write(p []byte) (int, error) {
	n := len(p)
	if room := cw.limit - cw.w.Len(); room > 0 {
		if len(p) > room {
			p = p[:room]
		}
		cw.w.Write(p)
	}
	return n, nil
}

package transcode

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Concat stages.
const (
	StageClips   = "clips"
	StageBatches = "batches"
)

// Concatenator joins normalized files with the concat demuxer in stream-copy
// mode and lays soundtracks under finished output.
type Concatenator struct {
	runner  Runner
	ffmpeg  string
	timeout time.Duration
	logger  *slog.Logger
}

func NewConcatenator(runner Runner, ffmpegPath string, timeout time.Duration, logger *slog.Logger) *Concatenator {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Concatenator{runner: runner, ffmpeg: ffmpegPath, timeout: timeout, logger: logger}
}

// Concat writes a manifest at manifestPath listing inputs by ordinal and
// joins them into output. The manifest is removed before returning; output
// is removed on failure.
func (c *Concatenator) Concat(ctx context.Context, stage string, inputs []ConcatInput, manifestPath, output string) error {
	if err := WriteManifest(manifestPath, inputs); err != nil {
		return &ConcatError{Stage: stage, Inputs: len(inputs), Err: err}
	}
	defer os.Remove(manifestPath)

	res := c.runner.Run(ctx, c.timeout, c.ffmpeg, ConcatArgs(manifestPath, output, false)...)
	if !res.IsSuccess() && !res.TimedOut && matchTimestampIssue(res.StderrTail) && ctx.Err() == nil {
		c.logger.Info("concat hit timestamp discontinuity, retrying with regenerated pts",
			"stage", stage,
			"inputs", len(inputs),
		)
		os.Remove(output)
		res = c.runner.Run(ctx, c.timeout, c.ffmpeg, ConcatArgs(manifestPath, output, true)...)
	}

	var err error
	if !res.IsSuccess() {
		err = newProcessError("concat", res)
	} else {
		err = checkOutput(output)
	}
	if err != nil {
		os.Remove(output)
		return &ConcatError{Stage: stage, Inputs: len(inputs), Err: err}
	}
	return nil
}

// MuxSoundtrack writes video with audio as its only audio stream to output.
func (c *Concatenator) MuxSoundtrack(ctx context.Context, video, audio, output string, spec TargetSpec) error {
	res := c.runner.Run(ctx, c.timeout, c.ffmpeg, SoundtrackArgs(video, audio, output, spec)...)
	if !res.IsSuccess() {
		os.Remove(output)
		return newProcessError("soundtrack", res)
	}
	if err := checkOutput(output); err != nil {
		os.Remove(output)
		return err
	}
	return nil
}

// Package compose runs the batched fetch, normalize and concatenate pipeline
// that turns a timeline of remote clips into one video. Segment and batch
// failures are isolated and counted; only an empty timeline or a run where
// nothing survives fails the whole pipeline.
package compose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/heimdex/heimdex-composer/internal/fetch"
	"github.com/heimdex/heimdex-composer/internal/logging"
	"github.com/heimdex/heimdex-composer/internal/scratch"
	"github.com/heimdex/heimdex-composer/internal/timeline"
	"github.com/heimdex/heimdex-composer/internal/transcode"
)

// Fetcher downloads one source. Satisfied by *fetch.Client.
type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request) (*fetch.File, error)
}

// Normalizer re-encodes one fetched source. Satisfied by *transcode.Normalizer.
type Normalizer interface {
	Normalize(ctx context.Context, req transcode.NormalizeRequest) (*transcode.Clip, error)
}

// Concatenator joins normalized files and lays soundtracks. Satisfied by
// *transcode.Concatenator.
type Concatenator interface {
	Concat(ctx context.Context, stage string, inputs []transcode.ConcatInput, manifestPath, output string) error
	MuxSoundtrack(ctx context.Context, video, audio, output string, spec transcode.TargetSpec) error
}

// Orchestrator executes pipeline runs. It holds no per-run state and is
// safe for concurrent use.
type Orchestrator struct {
	cfg        Config
	fetcher    Fetcher
	normalizer Normalizer
	concat     Concatenator
	logger     *slog.Logger
}

// New validates cfg and creates an orchestrator.
func New(cfg Config, fetcher Fetcher, normalizer Normalizer, concat Concatenator, logger *slog.Logger) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid compose config: %w", err)
	}
	if fetcher == nil || normalizer == nil || concat == nil {
		return nil, errors.New("fetcher, normalizer and concatenator are required")
	}
	return &Orchestrator{
		cfg:        cfg,
		fetcher:    fetcher,
		normalizer: normalizer,
		concat:     concat,
		logger:     logging.WithComponent(logger, "compose"),
	}, nil
}

// run is the mutable state of one pipeline execution. It is only touched by
// the goroutine executing Run; segment workers write to their own slots.
type run struct {
	id       string
	state    State
	observer Observer
	scratch  *scratch.Run
	spec     transcode.TargetSpec
	policy   transcode.RetryPolicy
	logger   *slog.Logger

	counts   Counts
	outputs  []batchOutput
	failures []SegmentFailure
}

func (r *run) transition(to State) {
	from := r.state
	if !from.CanTransition(to) {
		// A bug in the orchestrator, not a runtime condition.
		r.logger.Error("illegal state transition", "from", from, "to", to)
	}
	r.state = to
	r.logger.Debug("state transition", "from", from, "to", to)
	r.observer.StateChanged(r.id, from, to)
}

func (r *run) fail(err error) *RunError {
	r.transition(StateFailed)
	r.logger.Error("compose run failed",
		"error", err,
		"segments_attempted", r.counts.SegmentsAttempted,
		"batches_attempted", r.counts.BatchesAttempted,
	)
	if r.scratch != nil {
		r.scratch.Cleanup()
	}
	return &RunError{RunID: r.id, State: StateFailed, Counts: r.counts, Err: err}
}

// BatchSize returns the batch size a run requesting override will use: the
// configured default when override is not positive, clamped to MaxBatchSize.
func (o *Orchestrator) BatchSize(override int) int {
	return o.cfg.batchSize(override)
}

// Run composes tl. On success the caller owns the returned Result and must
// Close it. On failure the error is a *RunError and no artifact remains.
func (o *Orchestrator) Run(ctx context.Context, tl *timeline.Timeline, opts RunOptions) (*Result, error) {
	start := time.Now()

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	r := &run{
		id:       runID,
		state:    StateInit,
		observer: observer,
		spec:     o.cfg.Spec,
		policy:   o.cfg.Policy,
		logger:   logging.WithRunID(o.logger, runID),
	}
	if opts.Spec != nil {
		r.spec = *opts.Spec
	}
	if opts.Policy != nil {
		r.policy = *opts.Policy
	}
	r.spec = r.spec.WithDefaults()

	if tl == nil || tl.Empty() {
		return nil, r.fail(ErrEmptyTimeline)
	}
	r.counts.SegmentsAttempted = tl.Len()

	if limit := o.cfg.maxSegments(opts.MaxSegments); limit > 0 && tl.Len() > limit {
		return nil, r.fail(fmt.Errorf("%w: %d segments, limit %d", ErrTimelineTooLong, tl.Len(), limit))
	}
	if err := r.spec.Validate(); err != nil {
		return nil, r.fail(fmt.Errorf("invalid target spec: %w", err))
	}

	sr, err := o.cfg.Scratch.NewRun(runID)
	if err != nil {
		return nil, r.fail(err)
	}
	r.scratch = sr

	r.transition(StateBatching)
	batchSize := o.BatchSize(opts.BatchSize)
	batches := timeline.Partition(tl.Segments, batchSize)
	r.counts.BatchesAttempted = len(batches)

	r.logger.Info("compose run started",
		"segments", tl.Len(),
		"batches", len(batches),
		"batch_size", batchSize,
		"target", fmt.Sprintf("%dx%d@%d", r.spec.Width, r.spec.Height, r.spec.FrameRate),
	)

	for _, b := range batches {
		if ctx.Err() != nil {
			break
		}
		o.processBatch(ctx, r, b)
	}

	r.transition(StateFinalAssembly)
	if err := ctx.Err(); err != nil {
		return nil, r.fail(err)
	}

	result, err := o.assemble(ctx, r)
	if err != nil {
		return nil, r.fail(err)
	}

	if tl.Soundtrack != "" {
		o.applySoundtrack(ctx, r, tl.Soundtrack, result)
	}

	info, err := os.Stat(result.OutputPath)
	if err != nil {
		return nil, r.fail(fmt.Errorf("stat output: %w", err))
	}
	result.OutputSize = info.Size()
	result.Elapsed = time.Since(start)

	r.transition(StateDone)
	r.logger.Info("compose run finished",
		"segments_attempted", r.counts.SegmentsAttempted,
		"segments_succeeded", r.counts.SegmentsSucceeded,
		"batches_attempted", r.counts.BatchesAttempted,
		"batches_succeeded", r.counts.BatchesSucceeded,
		"final_merge", result.FinalMerge,
		"output_bytes", result.OutputSize,
		"duration_ms", result.Elapsed.Milliseconds(),
	)
	return result, nil
}

// assemble produces the final artifact from the surviving batch outputs.
func (o *Orchestrator) assemble(ctx context.Context, r *run) (*Result, error) {
	if len(r.outputs) == 0 {
		return nil, ErrNoSegmentsProcessed
	}

	result := &Result{
		RunID:    r.id,
		Failures: r.failures,
		run:      r.scratch,
	}

	var offset time.Duration
	for _, out := range r.outputs {
		for _, p := range out.placements {
			p.OutputStart = offset
			offset += p.Duration
			result.Placements = append(result.Placements, p)
		}
	}
	result.DurationEstimate = offset

	if len(r.outputs) == 1 {
		result.OutputPath = r.outputs[0].path
		result.Counts = r.counts
		return result, nil
	}

	inputs := make([]transcode.ConcatInput, len(r.outputs))
	for i, out := range r.outputs {
		inputs[i] = transcode.ConcatInput{Path: out.path, Ordinal: out.index}
	}
	final := r.scratch.Path("final.mp4")
	manifest := r.scratch.Path("batches.txt")
	err := o.concat.Concat(ctx, transcode.StageBatches, inputs, manifest, final)
	r.scratch.Remove(manifest)
	for _, out := range r.outputs {
		r.scratch.Remove(out.path)
	}
	if err != nil {
		return nil, fmt.Errorf("final assembly: %w", err)
	}

	result.OutputPath = final
	result.FinalMerge = true
	result.Counts = r.counts
	return result, nil
}

// applySoundtrack lays the soundtrack under the output. Any failure keeps
// the silent-but-complete output.
func (o *Orchestrator) applySoundtrack(ctx context.Context, r *run, url string, result *Result) {
	dest := r.scratch.Path("soundtrack.bin")
	defer r.scratch.Remove(dest)

	f, err := o.fetcher.Fetch(ctx, fetch.Request{
		URL:      url,
		Dest:     dest,
		Timeout:  o.cfg.FetchTimeout,
		MaxBytes: o.cfg.FetchMaxBytes,
		Attempts: r.policy.FetchAttempts,
	})
	if err != nil {
		r.logger.Warn("soundtrack fetch failed, keeping source audio",
			"url", logging.SanitizeURL(url),
			"error", err,
		)
		return
	}

	scored := r.scratch.Path("scored.mp4")
	if err := o.concat.MuxSoundtrack(ctx, result.OutputPath, f.Path, scored, r.spec); err != nil {
		r.scratch.Remove(scored)
		r.logger.Warn("soundtrack mux failed, keeping source audio", "error", err)
		return
	}

	r.scratch.Remove(result.OutputPath)
	result.OutputPath = scored
	result.SoundtrackApplied = true
}

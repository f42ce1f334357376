package compose

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/heimdex/heimdex-composer/internal/fetch"
	"github.com/heimdex/heimdex-composer/internal/logging"
	"github.com/heimdex/heimdex-composer/internal/timeline"
	"github.com/heimdex/heimdex-composer/internal/transcode"
)

// batchOutput is one successful batch's concatenated file.
type batchOutput struct {
	index      int
	path       string
	placements []Placement
}

// segmentWork is one worker's private slot. Workers only write their own
// slot; the batch reduces the slice after the phase's WaitGroup returns.
type segmentWork struct {
	index   int
	segment timeline.Segment
	fetched *fetch.File
	clip    *transcode.Clip
	failure *SegmentFailure
}

// processBatch fetches, normalizes and joins one batch. It never returns an
// error: segment failures are recorded and a batch with no survivors is
// counted and skipped.
func (o *Orchestrator) processBatch(ctx context.Context, r *run, b timeline.Batch) {
	logger := logging.WithBatch(r.logger, b.Index+1)
	work := make([]segmentWork, len(b.Segments))
	for i, seg := range b.Segments {
		work[i] = segmentWork{index: i, segment: seg}
	}

	r.transition(StateFetching)
	o.fetchAll(ctx, r, b.Index, work)

	if countPending(work) > 0 {
		r.transition(StateNormalizing)
		o.normalizeAll(ctx, r, b.Index, work)
	}

	var clips []segmentWork
	for _, w := range work {
		if w.failure != nil {
			r.failures = append(r.failures, *w.failure)
			logger.Warn("segment skipped",
				"ordinal", w.failure.Ordinal,
				"stage", w.failure.Stage,
				"error", w.failure.Err,
			)
			continue
		}
		clips = append(clips, w)
	}

	report := BatchReport{Index: b.Index, Attempted: len(b.Segments)}
	if len(clips) == 0 {
		report.Err = fmt.Errorf("batch %d: all %d segments failed", b.Index+1, len(b.Segments))
		logger.Warn("batch produced no clips", "segments", len(b.Segments))
		r.observer.BatchFinished(r.id, report)
		return
	}

	r.transition(StateBatchConcat)
	out, err := o.joinBatch(ctx, r, b.Index, clips)
	if err != nil {
		for _, c := range clips {
			r.failures = append(r.failures, SegmentFailure{
				Ordinal: c.segment.Ordinal,
				Batch:   b.Index,
				Stage:   StageConcat,
				Err:     err,
			})
		}
		report.Err = err
		logger.Warn("batch concat failed", "clips", len(clips), "error", err)
		r.observer.BatchFinished(r.id, report)
		return
	}

	r.outputs = append(r.outputs, *out)
	r.counts.BatchesSucceeded++
	r.counts.SegmentsSucceeded += len(clips)
	report.OK = true
	report.Succeeded = len(clips)
	logger.Info("batch complete",
		"segments", len(b.Segments),
		"clips", len(clips),
	)
	r.observer.BatchFinished(r.id, report)
}

func countPending(work []segmentWork) int {
	n := 0
	for _, w := range work {
		if w.failure == nil {
			n++
		}
	}
	return n
}

// runEach runs fn for every pending slot on its own goroutine and waits. The
// batch size bounds the goroutine count. A panicking worker fails its own
// segment only.
func runEach(work []segmentWork, stage string, batch int, logger *slog.Logger, fn func(w *segmentWork)) {
	var wg sync.WaitGroup
	for i := range work {
		if work[i].failure != nil {
			continue
		}
		wg.Add(1)
		go func(w *segmentWork) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("segment worker panic", "ordinal", w.segment.Ordinal, "panic", rec)
					w.failure = &SegmentFailure{
						Ordinal: w.segment.Ordinal,
						Batch:   batch,
						Stage:   stage,
						Err:     fmt.Errorf("panic: %v", rec),
					}
				}
			}()
			fn(w)
		}(&work[i])
	}
	wg.Wait()
}

func (o *Orchestrator) fetchAll(ctx context.Context, r *run, batch int, work []segmentWork) {
	runEach(work, StageFetch, batch, r.logger, func(w *segmentWork) {
		dest := r.scratch.SegmentPath("src", batch, w.index, ".bin")
		f, err := o.fetcher.Fetch(ctx, fetch.Request{
			URL:      w.segment.Source,
			Dest:     dest,
			Timeout:  o.cfg.FetchTimeout,
			MaxBytes: o.cfg.FetchMaxBytes,
			Attempts: r.policy.FetchAttempts,
		})
		if err != nil {
			r.scratch.Remove(dest)
			w.failure = &SegmentFailure{Ordinal: w.segment.Ordinal, Batch: batch, Stage: StageFetch, Err: err}
			return
		}
		w.fetched = f
	})
}

func (o *Orchestrator) normalizeAll(ctx context.Context, r *run, batch int, work []segmentWork) {
	runEach(work, StageNormalize, batch, r.logger, func(w *segmentWork) {
		out := r.scratch.SegmentPath("norm", batch, w.index, ".mp4")
		clip, err := o.normalizer.Normalize(ctx, transcode.NormalizeRequest{
			Input:    w.fetched.Path,
			Output:   out,
			Ordinal:  w.segment.Ordinal,
			Duration: w.segment.TargetDuration,
			Spec:     r.spec,
			Policy:   r.policy,
		})
		r.scratch.Remove(w.fetched.Path)
		if err != nil {
			r.scratch.Remove(out)
			w.failure = &SegmentFailure{Ordinal: w.segment.Ordinal, Batch: batch, Stage: StageNormalize, Err: err}
			return
		}
		w.clip = clip
	})
}

// joinBatch concatenates the batch's clips in ordinal order. A single clip
// is already the batch output.
func (o *Orchestrator) joinBatch(ctx context.Context, r *run, batch int, clips []segmentWork) (*batchOutput, error) {
	out := &batchOutput{index: batch}
	for _, c := range clips {
		out.placements = append(out.placements, Placement{
			Ordinal:       c.segment.Ordinal,
			Source:        c.segment.Source,
			Batch:         batch,
			TimelineStart: c.segment.StartOffset,
			Duration:      c.segment.TargetDuration,
			Strategy:      c.clip.Strategy,
		})
	}

	if len(clips) == 1 {
		out.path = clips[0].clip.Path
		return out, nil
	}

	inputs := make([]transcode.ConcatInput, len(clips))
	for i, c := range clips {
		inputs[i] = transcode.ConcatInput{Path: c.clip.Path, Ordinal: c.segment.Ordinal}
	}
	path := r.scratch.BatchPath("batch", batch, ".mp4")
	manifest := r.scratch.BatchPath("clips", batch, ".txt")
	err := o.concat.Concat(ctx, transcode.StageClips, inputs, manifest, path)
	r.scratch.Remove(manifest)
	for _, c := range clips {
		r.scratch.Remove(c.clip.Path)
	}
	if err != nil {
		r.scratch.Remove(path)
		return nil, err
	}
	out.path = path
	return out, nil
}

package runs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/heimdex/heimdex-composer/internal/compose"
)

const (
	writeTimeout = 2 * time.Second
	defaultKeep  = 500
)

// Recorder writes run progress to the ledger. It implements
// compose.Observer. Ledger failures are logged and never affect a run.
type Recorder struct {
	repo   Repository
	keep   int
	logger *slog.Logger
}

func NewRecorder(repo Repository, logger *slog.Logger) *Recorder {
	return &Recorder{repo: repo, keep: defaultKeep, logger: logger}
}

func (r *Recorder) write(op string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		r.logger.Warn("run ledger write failed", "op", op, "error", err)
	}
}

// Start inserts the run row.
func (r *Recorder) Start(run *Run) {
	r.write("create", func(ctx context.Context) error {
		return r.repo.CreateRun(ctx, run)
	})
}

func (r *Recorder) StateChanged(runID string, _, to compose.State) {
	if to.Terminal() {
		return
	}
	r.write("stage", func(ctx context.Context) error {
		return r.repo.UpdateStage(ctx, runID, string(to))
	})
}

func (r *Recorder) BatchFinished(runID string, report compose.BatchReport) {
	r.write("batch", func(ctx context.Context) error {
		return r.repo.AddBatch(ctx, runID, report.Succeeded, report.OK)
	})
}

// Succeeded writes the final counters of a successful run.
func (r *Recorder) Succeeded(runID string, res *compose.Result) {
	r.finish(runID, Outcome{
		Status:            StatusSucceeded,
		SegmentsAttempted: res.SegmentsAttempted,
		SegmentsSucceeded: res.SegmentsSucceeded,
		BatchesAttempted:  res.BatchesAttempted,
		BatchesSucceeded:  res.BatchesSucceeded,
		OutputBytes:       res.OutputSize,
		DurationMs:        res.Elapsed.Milliseconds(),
	})
}

// Failed writes a failed run, keeping the counters the run reached.
func (r *Recorder) Failed(runID string, err error, elapsed time.Duration) {
	o := Outcome{
		Status:     StatusFailed,
		DurationMs: elapsed.Milliseconds(),
		Error:      err.Error(),
	}
	var rerr *compose.RunError
	if errors.As(err, &rerr) {
		o.SegmentsAttempted = rerr.Counts.SegmentsAttempted
		o.SegmentsSucceeded = rerr.Counts.SegmentsSucceeded
		o.BatchesAttempted = rerr.Counts.BatchesAttempted
		o.BatchesSucceeded = rerr.Counts.BatchesSucceeded
		o.Error = rerr.Err.Error()
	}
	r.finish(runID, o)
}

func (r *Recorder) finish(runID string, o Outcome) {
	r.write("finish", func(ctx context.Context) error {
		return r.repo.FinishRun(ctx, runID, o)
	})
	r.write("prune", func(ctx context.Context) error {
		_, err := r.repo.PruneRuns(ctx, r.keep)
		return err
	})
}

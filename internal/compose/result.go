package compose

import (
	"os"
	"time"

	"github.com/heimdex/heimdex-composer/internal/scratch"
)

// Counts are tracked at both segment and batch granularity so callers can
// report partial success.
type Counts struct {
	SegmentsAttempted int `json:"segments_attempted"`
	SegmentsSucceeded int `json:"segments_succeeded"`
	BatchesAttempted  int `json:"batches_attempted"`
	BatchesSucceeded  int `json:"batches_succeeded"`
}

// Placement is where one surviving segment landed in the output.
type Placement struct {
	Ordinal       int           `json:"ordinal"`
	Source        string        `json:"source"`
	Batch         int           `json:"batch"`
	TimelineStart time.Duration `json:"timeline_start"`
	OutputStart   time.Duration `json:"output_start"`
	Duration      time.Duration `json:"duration"`
	Strategy      string        `json:"strategy"`
}

// Result is a successful run. The artifact at OutputPath lives in the run's
// scratch directory until Close is called.
type Result struct {
	Counts

	RunID            string
	DurationEstimate time.Duration

	// FinalMerge is true only when batch outputs were concatenated. A run
	// with one surviving batch returns that batch's output untouched.
	FinalMerge        bool
	SoundtrackApplied bool

	Placements []Placement
	Failures   []SegmentFailure

	OutputPath string
	OutputSize int64
	Elapsed    time.Duration

	run *scratch.Run
}

// Open opens the artifact for reading.
func (r *Result) Open() (*os.File, error) {
	return os.Open(r.OutputPath)
}

// Close deletes the artifact and the run's scratch directory.
func (r *Result) Close() error {
	if r.run != nil {
		r.run.Cleanup()
	}
	return nil
}

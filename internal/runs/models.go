// Package runs keeps a ledger of compose runs: status, current stage and
// the attempted/succeeded counters reported by the orchestrator.
package runs

import "time"

const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"

	ShapeTracks = "tracks"
	ShapeURLs   = "urls"
)

type Run struct {
	ID                string    `json:"id"`
	Status            string    `json:"status"`
	Stage             string    `json:"stage"`
	Shape             string    `json:"shape"`
	Preset            string    `json:"preset"`
	BatchSize         int       `json:"batch_size"`
	SegmentsAttempted int       `json:"segments_attempted"`
	SegmentsSucceeded int       `json:"segments_succeeded"`
	BatchesAttempted  int       `json:"batches_attempted"`
	BatchesSucceeded  int       `json:"batches_succeeded"`
	OutputBytes       int64     `json:"output_bytes"`
	DurationMs        int64     `json:"duration_ms"`
	Error             string    `json:"error,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Outcome is the final state written when a run ends.
type Outcome struct {
	Status            string
	SegmentsAttempted int
	SegmentsSucceeded int
	BatchesAttempted  int
	BatchesSucceeded  int
	OutputBytes       int64
	DurationMs        int64
	Error             string
}

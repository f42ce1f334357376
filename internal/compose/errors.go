package compose

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyTimeline is returned when a run has no segments to process.
	ErrEmptyTimeline = errors.New("timeline is empty")

	// ErrNoSegmentsProcessed is returned when every batch failed.
	ErrNoSegmentsProcessed = errors.New("no segments processed")

	// ErrTimelineTooLong is returned when a timeline exceeds the caller's
	// segment cap. Timelines are never silently truncated.
	ErrTimelineTooLong = errors.New("timeline exceeds segment limit")
)

// RunError is a pipeline-fatal failure. It carries the counts reached
// before the run stopped; no artifact exists.
type RunError struct {
	RunID  string
	State  State
	Counts Counts
	Err    error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s failed in %s: %v", e.RunID, e.State, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Segment failure stages.
const (
	StageFetch     = "fetch"
	StageNormalize = "normalize"
	StageConcat    = "concat"
)

// SegmentFailure records why one segment is missing from the output.
type SegmentFailure struct {
	Ordinal int    `json:"ordinal"`
	Batch   int    `json:"batch"`
	Stage   string `json:"stage"`
	Err     error  `json:"-"`
}

func (f SegmentFailure) Error() string {
	return fmt.Sprintf("segment %d (batch %d) %s: %v", f.Ordinal, f.Batch, f.Stage, f.Err)
}

// Message is the error text, for encoding.
func (f SegmentFailure) Message() string {
	if f.Err == nil {
		return ""
	}
	return f.Err.Error()
}

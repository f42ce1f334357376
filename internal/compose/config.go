package compose

import (
	"errors"
	"fmt"
	"time"

	"github.com/heimdex/heimdex-composer/internal/scratch"
	"github.com/heimdex/heimdex-composer/internal/transcode"
)

// Config is everything the orchestrator needs that is not per-run.
type Config struct {
	Scratch *scratch.Space

	// BatchSize is the default number of segments processed concurrently.
	BatchSize int
	// MaxBatchSize clamps per-run overrides. Zero means no clamp.
	MaxBatchSize int
	// MaxSegments rejects longer timelines. Zero means unlimited.
	MaxSegments int

	FetchTimeout  time.Duration
	FetchMaxBytes int64

	Spec   transcode.TargetSpec
	Policy transcode.RetryPolicy
}

func (c Config) Validate() error {
	var errs []error
	if c.Scratch == nil {
		errs = append(errs, errors.New("scratch space is required"))
	}
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch size must be at least 1, got %d", c.BatchSize))
	}
	if c.MaxBatchSize != 0 && c.MaxBatchSize < c.BatchSize {
		errs = append(errs, fmt.Errorf("max batch size %d below batch size %d", c.MaxBatchSize, c.BatchSize))
	}
	if c.MaxSegments < 0 {
		errs = append(errs, fmt.Errorf("max segments must not be negative, got %d", c.MaxSegments))
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, errors.New("fetch timeout is required"))
	}
	return errors.Join(errs...)
}

// RunOptions are per-run overrides. Zero values take the Config default.
type RunOptions struct {
	RunID       string
	BatchSize   int
	MaxSegments int
	Spec        *transcode.TargetSpec
	Policy      *transcode.RetryPolicy
	Observer    Observer
}

func (c Config) batchSize(override int) int {
	size := c.BatchSize
	if override > 0 {
		size = override
	}
	if c.MaxBatchSize > 0 && size > c.MaxBatchSize {
		size = c.MaxBatchSize
	}
	return size
}

// maxSegments returns the tighter of the configured and requested caps.
func (c Config) maxSegments(override int) int {
	switch {
	case override <= 0:
		return c.MaxSegments
	case c.MaxSegments <= 0 || override < c.MaxSegments:
		return override
	default:
		return c.MaxSegments
	}
}

// Package scratch manages the shared scratch directory used by pipeline runs.
// Each run gets its own subdirectory and every file it allocates is tracked
// so it can be removed on both success and failure paths.
package scratch

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/shirou/gopsutil/v4/disk"
)

// Space is the root scratch directory shared by all runs.
type Space struct {
	root   string
	logger *slog.Logger
}

// New creates the scratch root if absent.
func New(root string, logger *slog.Logger) (*Space, error) {
	if root == "" {
		return nil, fmt.Errorf("scratch root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid scratch root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch root: %w", err)
	}
	return &Space{root: abs, logger: logger}, nil
}

func (s *Space) Root() string {
	return s.root
}

// Free reports the bytes available to unprivileged users on the scratch
// filesystem.
func (s *Space) Free() (uint64, error) {
	usage, err := disk.Usage(s.root)
	if err != nil {
		return 0, fmt.Errorf("failed to stat scratch filesystem: %w", err)
	}
	return usage.Free, nil
}

// EnsureFree returns an *InsufficientSpaceError when less than min bytes are
// available. A zero min always passes.
func (s *Space) EnsureFree(min uint64) error {
	if min == 0 {
		return nil
	}
	free, err := s.Free()
	if err != nil {
		return err
	}
	if free < min {
		return &InsufficientSpaceError{Free: free, Required: min}
	}
	return nil
}

// InsufficientSpaceError reports a scratch filesystem below the configured floor.
type InsufficientSpaceError struct {
	Free     uint64
	Required uint64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("scratch space low: %d bytes free, %d required", e.Free, e.Required)
}

// NewRun creates the run's private directory. The run ID namespaces every
// file the run allocates.
func (s *Space) NewRun(runID string) (*Run, error) {
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	dir := filepath.Join(s.root, "run-"+runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run dir: %w", err)
	}
	return &Run{
		id:     runID,
		dir:    dir,
		files:  make(map[string]struct{}),
		logger: s.logger,
	}, nil
}

// Run owns the scratch files of one pipeline run. Methods are safe for
// concurrent use by the run's segment workers.
type Run struct {
	id     string
	dir    string
	logger *slog.Logger

	mu     sync.Mutex
	files  map[string]struct{}
	closed bool
}

func (r *Run) ID() string {
	return r.id
}

func (r *Run) Dir() string {
	return r.dir
}

// SegmentPath names the scratch file for one segment stage, qualified by
// batch and segment index so concurrent workers never collide.
func (r *Run) SegmentPath(stage string, batch, segment int, ext string) string {
	return r.track(fmt.Sprintf("%s-b%03d-s%03d%s", stage, batch, segment, ext))
}

// BatchPath names a per-batch scratch file.
func (r *Run) BatchPath(stage string, batch int, ext string) string {
	return r.track(fmt.Sprintf("%s-b%03d%s", stage, batch, ext))
}

// Path names a run-level scratch file.
func (r *Run) Path(name string) string {
	return r.track(name)
}

func (r *Run) track(name string) string {
	p := filepath.Join(r.dir, r.id+"-"+name)
	r.mu.Lock()
	r.files[p] = struct{}{}
	r.mu.Unlock()
	return p
}

// Remove deletes one tracked file. Missing files are not an error.
func (r *Run) Remove(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) && r.logger != nil {
		r.logger.Warn("failed to remove scratch file", "path", path, "error", err)
	}
	r.mu.Lock()
	delete(r.files, path)
	r.mu.Unlock()
}

// Tracked returns the paths still owned by the run, sorted.
func (r *Run) Tracked() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.files))
	for p := range r.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Cleanup removes every tracked file and, if nothing else is left in it, the
// run directory. It is idempotent and best effort.
func (r *Run) Cleanup() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	paths := make([]string, 0, len(r.files))
	for p := range r.files {
		paths = append(paths, p)
	}
	r.files = make(map[string]struct{})
	r.mu.Unlock()

	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && r.logger != nil {
			r.logger.Warn("failed to remove scratch file", "path", p, "error", err)
		}
	}
	// Fails harmlessly while a kept artifact still lives in the directory.
	_ = os.Remove(r.dir)
}

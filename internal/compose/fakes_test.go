package compose

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/heimdex/heimdex-composer/internal/fetch"
	"github.com/heimdex/heimdex-composer/internal/transcode"
)

// fakeFetcher writes the URL itself as the fetched content.
type fakeFetcher struct {
	fail  map[string]error
	delay map[string]time.Duration

	inflight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, req fetch.Request) (*fetch.File, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if d := f.delay[req.URL]; d > 0 {
		time.Sleep(d)
	}
	if err, ok := f.fail[req.URL]; ok {
		return nil, &fetch.FetchError{URL: req.URL, Reason: fetch.ReasonStatus, StatusCode: 404, Err: err}
	}
	if err := os.WriteFile(req.Dest, []byte(req.URL), 0644); err != nil {
		return nil, err
	}
	return &fetch.File{Path: req.Dest, Size: int64(len(req.URL)), URL: req.URL}, nil
}

// fakeNormalizer brackets the fetched content and removes the input.
type fakeNormalizer struct {
	fail map[int]bool

	mu    sync.Mutex
	specs []transcode.TargetSpec
}

func (n *fakeNormalizer) Normalize(_ context.Context, req transcode.NormalizeRequest) (*transcode.Clip, error) {
	defer os.Remove(req.Input)

	n.mu.Lock()
	n.specs = append(n.specs, req.Spec)
	n.mu.Unlock()

	if n.fail[req.Ordinal] {
		return nil, &transcode.NormalizeError{
			Ordinal:  req.Ordinal,
			Attempts: []transcode.Attempt{{Strategy: transcode.StrategyPrimary, Err: errors.New("exit 1")}},
		}
	}
	data, err := os.ReadFile(req.Input)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(req.Output, []byte("["+string(data)+"]"), 0644); err != nil {
		return nil, err
	}
	return &transcode.Clip{Path: req.Output, Ordinal: req.Ordinal, Duration: req.Duration, Strategy: transcode.StrategyPrimary, Attempts: 1}, nil
}

// fakeConcat writes a real manifest and joins the listed files in manifest
// order, so ordering bugs show up in the output bytes.
type fakeConcat struct {
	failStage  map[string]bool
	failMux    bool
	failBatchN int // 1-based batch whose clip-level concat fails

	mu     sync.Mutex
	stages []string
	muxed  int
}

func (c *fakeConcat) Concat(_ context.Context, stage string, inputs []transcode.ConcatInput, manifestPath, output string) error {
	c.mu.Lock()
	c.stages = append(c.stages, stage)
	c.mu.Unlock()

	if err := transcode.WriteManifest(manifestPath, inputs); err != nil {
		return &transcode.ConcatError{Stage: stage, Inputs: len(inputs), Err: err}
	}
	defer os.Remove(manifestPath)

	if c.failStage[stage] || (c.failBatchN > 0 && strings.Contains(output, fmt.Sprintf("-b%03d", c.failBatchN-1))) {
		return &transcode.ConcatError{Stage: stage, Inputs: len(inputs), Err: errors.New("exit 1")}
	}

	f, err := os.Open(manifestPath)
	if err != nil {
		return err
	}
	defer f.Close()

	var joined strings.Builder
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		path := strings.TrimSuffix(strings.TrimPrefix(scanner.Text(), "file '"), "'")
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		joined.Write(data)
	}
	return os.WriteFile(output, []byte(joined.String()), 0644)
}

func (c *fakeConcat) MuxSoundtrack(_ context.Context, video, audio, output string, _ transcode.TargetSpec) error {
	c.mu.Lock()
	c.muxed++
	c.mu.Unlock()
	if c.failMux {
		return errors.New("mux failed")
	}
	v, err := os.ReadFile(video)
	if err != nil {
		return err
	}
	a, err := os.ReadFile(audio)
	if err != nil {
		return err
	}
	return os.WriteFile(output, []byte(string(v)+"+"+string(a)), 0644)
}

func (c *fakeConcat) Stages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.stages...)
}

// recordingObserver captures transitions and batch reports.
type recordingObserver struct {
	mu          sync.Mutex
	transitions []State
	batches     []BatchReport
}

func (o *recordingObserver) StateChanged(_ string, _, to State) {
	o.mu.Lock()
	o.transitions = append(o.transitions, to)
	o.mu.Unlock()
}

func (o *recordingObserver) BatchFinished(_ string, report BatchReport) {
	o.mu.Lock()
	o.batches = append(o.batches, report)
	o.mu.Unlock()
}

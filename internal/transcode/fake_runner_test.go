package transcode

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"
)

// fakeRunner records invocations and answers through handle. When handle is
// nil every ffmpeg call succeeds and writes its output file.
type fakeRunner struct {
	mu     sync.Mutex
	calls  [][]string
	handle func(name string, args []string) RunResult
}

func (f *fakeRunner) Run(_ context.Context, _ time.Duration, name string, args ...string) RunResult {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()
	if f.handle == nil {
		writeOutput(args)
		return RunResult{}
	}
	return f.handle(name, args)
}

func (f *fakeRunner) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// writeOutput creates the last argument as a non-empty file, the way
// ffmpeg would.
func writeOutput(args []string) {
	if len(args) == 0 {
		return
	}
	os.WriteFile(args[len(args)-1], []byte("media"), 0644)
}

func failed(stderr string) RunResult {
	return RunResult{ExitCode: 1, StderrTail: stderr}
}

func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func joined(args []string) string { return strings.Join(args, " ") }

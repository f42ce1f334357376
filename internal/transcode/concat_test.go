package transcode

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heimdex/heimdex-composer/internal/logging"
)

func newTestConcatenator(r Runner) *Concatenator {
	return NewConcatenator(r, "ffmpeg", time.Second, logging.Discard())
}

func TestConcat_Success(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "list.txt")
	out := filepath.Join(dir, "out.mp4")

	var seenManifest string
	r := &fakeRunner{handle: func(name string, args []string) RunResult {
		data, _ := os.ReadFile(argValue(args, "-i"))
		seenManifest = string(data)
		writeOutput(args)
		return RunResult{}
	}}

	inputs := []ConcatInput{
		{Path: filepath.Join(dir, "b.mp4"), Ordinal: 2},
		{Path: filepath.Join(dir, "a.mp4"), Ordinal: 1},
	}
	err := newTestConcatenator(r).Concat(context.Background(), StageClips, inputs, manifest, out)
	require.NoError(t, err)

	assert.Equal(t, "file '"+filepath.Join(dir, "a.mp4")+"'\nfile '"+filepath.Join(dir, "b.mp4")+"'\n", seenManifest)
	assertRemoved(t, manifest)
	_, statErr := os.Stat(out)
	assert.NoError(t, statErr)

	calls := r.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, joined(calls[0]), "-f concat -safe 0")
}

func TestConcat_EmptyInputs(t *testing.T) {
	r := &fakeRunner{}
	dir := t.TempDir()

	err := newTestConcatenator(r).Concat(context.Background(), StageBatches, nil, filepath.Join(dir, "l.txt"), filepath.Join(dir, "o.mp4"))
	var cerr *ConcatError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, StageBatches, cerr.Stage)
	assert.True(t, errors.Is(err, ErrEmptyManifest))
	assert.Empty(t, r.Calls())
}

func TestConcat_FailureRemovesOutput(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.mp4")
	r := &fakeRunner{handle: func(name string, args []string) RunResult {
		writeOutput(args)
		return failed("Error opening input files")
	}}

	err := newTestConcatenator(r).Concat(context.Background(), StageClips,
		[]ConcatInput{{Path: "x.mp4"}}, filepath.Join(dir, "l.txt"), out)
	var cerr *ConcatError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, 1, cerr.Inputs)
	assertRemoved(t, out)
	assert.Len(t, r.Calls(), 1, "non-timestamp failures are not retried")
}

func TestConcat_RetriesTimestampIssue(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRunner{handle: func(name string, args []string) RunResult {
		if argValue(args, "-fflags") == "" {
			return failed("Non-monotonous DTS in output stream 0:0")
		}
		writeOutput(args)
		return RunResult{}
	}}

	err := newTestConcatenator(r).Concat(context.Background(), StageBatches,
		[]ConcatInput{{Path: "a.mp4"}, {Path: "b.mp4", Ordinal: 1}}, filepath.Join(dir, "l.txt"), filepath.Join(dir, "o.mp4"))
	require.NoError(t, err)

	calls := r.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "+genpts", argValue(calls[1], "-fflags"))
	assert.Equal(t, "copy", argValue(calls[1], "-c:v"))
}

func TestMuxSoundtrack(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "scored.mp4")
	r := &fakeRunner{}

	require.NoError(t, newTestConcatenator(r).MuxSoundtrack(context.Background(), "v.mp4", "a.m4a", out, testSpec()))
	calls := r.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, joined(calls[0]), "-shortest")

	failing := &fakeRunner{handle: func(string, []string) RunResult { return failed("no audio") }}
	err := newTestConcatenator(failing).MuxSoundtrack(context.Background(), "v.mp4", "a.m4a", out, testSpec())
	var perr *ProcessError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "soundtrack", perr.Op)
	assertRemoved(t, out)
}

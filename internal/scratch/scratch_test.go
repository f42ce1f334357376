package scratch

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heimdex/heimdex-composer/internal/logging"
)

func newTestSpace(t *testing.T) *Space {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "scratch"), logging.Discard())
	require.NoError(t, err)
	return s
}

func TestNew_CreatesRoot(t *testing.T) {
	s := newTestSpace(t)
	info, err := os.Stat(s.Root())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNew_RequiresRoot(t *testing.T) {
	_, err := New("", nil)
	assert.Error(t, err)
}

func TestRun_PathsAreNamespaced(t *testing.T) {
	s := newTestSpace(t)
	a, err := s.NewRun("aaaa")
	require.NoError(t, err)
	b, err := s.NewRun("bbbb")
	require.NoError(t, err)

	pa := a.SegmentPath("fetch", 1, 2, ".bin")
	pb := b.SegmentPath("fetch", 1, 2, ".bin")
	assert.NotEqual(t, pa, pb)
	assert.True(t, strings.HasPrefix(filepath.Base(pa), "aaaa-fetch-b001-s002"))
	assert.NotEqual(t, a.SegmentPath("fetch", 1, 3, ".bin"), pa)
	assert.NotEqual(t, a.SegmentPath("fetch", 2, 2, ".bin"), pa)
}

func TestRun_CleanupRemovesTrackedFiles(t *testing.T) {
	s := newTestSpace(t)
	run, err := s.NewRun("cleanup")
	require.NoError(t, err)

	var paths []string
	for i := 0; i < 3; i++ {
		p := run.SegmentPath("clip", 0, i, ".mp4")
		require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
		paths = append(paths, p)
	}
	// Allocated but never written must not break cleanup.
	run.BatchPath("batch", 0, ".mp4")

	run.Cleanup()
	for _, p := range paths {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), "expected %s removed", p)
	}
	_, err = os.Stat(run.Dir())
	assert.True(t, os.IsNotExist(err), "run dir should be removed when empty")

	run.Cleanup()
}

func TestRun_RemoveUntracks(t *testing.T) {
	s := newTestSpace(t)
	run, err := s.NewRun("remove")
	require.NoError(t, err)

	p := run.Path("tmp.txt")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
	run.Remove(p)

	_, err = os.Stat(p)
	assert.True(t, os.IsNotExist(err))
	assert.Empty(t, run.Tracked())

	run.Remove(p)
	run.Remove("")
}

func TestRun_ConcurrentAllocation(t *testing.T) {
	s := newTestSpace(t)
	run, err := s.NewRun("conc")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := run.SegmentPath("fetch", i/4, i%4, ".bin")
			_ = os.WriteFile(p, []byte("x"), 0644)
		}(i)
	}
	wg.Wait()
	assert.Len(t, run.Tracked(), 16)
	run.Cleanup()
}

func TestSpace_EnsureFree(t *testing.T) {
	s := newTestSpace(t)

	assert.NoError(t, s.EnsureFree(0))
	assert.NoError(t, s.EnsureFree(1))

	err := s.EnsureFree(math.MaxUint64)
	var spaceErr *InsufficientSpaceError
	require.True(t, errors.As(err, &spaceErr), "got %v", err)
	assert.Equal(t, uint64(math.MaxUint64), spaceErr.Required)
}

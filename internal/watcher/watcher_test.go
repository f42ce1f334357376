package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heimdex/heimdex-composer/internal/logging"
)

func TestFileWatcher_ReportsModify(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "presets.yaml")
	other := filepath.Join(dir, "other.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1"), 0644))

	w := NewFileWatcher(logging.Discard())
	w.debounce = 20 * time.Millisecond
	events := make(chan string, 10)
	w.OnChange(func(p string, e EventType) { events <- p })

	require.NoError(t, w.Watch(context.Background(), path))
	defer w.Stop()

	require.NoError(t, os.WriteFile(other, []byte("ignored"), 0644))
	require.NoError(t, os.WriteFile(path, []byte("a: 2"), 0644))

	select {
	case got := <-events:
		assert.Equal(t, path, got)
	case <-time.After(3 * time.Second):
		t.Fatal("no change event")
	}
}

func TestFileWatcher_Debounces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "presets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	w := NewFileWatcher(logging.Discard())
	w.debounce = 200 * time.Millisecond
	events := make(chan EventType, 10)
	w.OnChange(func(_ string, e EventType) { events <- e })
	require.NoError(t, w.Watch(context.Background(), path))
	defer w.Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte{byte('a' + i)}, 0644))
	}

	select {
	case <-events:
	case <-time.After(3 * time.Second):
		t.Fatal("no change event")
	}
	select {
	case e := <-events:
		t.Fatalf("unexpected second event %s", e)
	case <-time.After(400 * time.Millisecond):
	}
}

func TestFileWatcher_StopIsIdempotent(t *testing.T) {
	w := NewFileWatcher(logging.Discard())
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
	assert.Error(t, w.Watch(context.Background(), filepath.Join(t.TempDir(), "x")))
}

func TestEventType_String(t *testing.T) {
	assert.Equal(t, "create", EventCreate.String())
	assert.Equal(t, "modify", EventModify.String())
	assert.Equal(t, "delete", EventDelete.String())
}

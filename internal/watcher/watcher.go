// Package watcher reports changes to individual files, debounced so an
// editor's write-rename-chmod sequence produces one callback.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

type Watcher interface {
	Watch(ctx context.Context, path string) error
	Stop() error
	OnChange(callback func(path string, event EventType))
}

type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
)

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	default:
		return "unknown"
	}
}

const defaultDebounce = 250 * time.Millisecond

// FileWatcher watches files through their parent directories so atomic
// replace-by-rename saves are seen.
type FileWatcher struct {
	logger   *slog.Logger
	debounce time.Duration

	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	files    map[string]struct{}
	timers   map[string]*time.Timer
	callback func(path string, event EventType)
	done     chan struct{}
	stopped  bool
}

func NewFileWatcher(logger *slog.Logger) *FileWatcher {
	return &FileWatcher{
		logger:   logger,
		debounce: defaultDebounce,
		files:    make(map[string]struct{}),
		timers:   make(map[string]*time.Timer),
	}
}

// OnChange sets the callback. It runs on a timer goroutine.
func (w *FileWatcher) OnChange(callback func(path string, event EventType)) {
	w.mu.Lock()
	w.callback = callback
	w.mu.Unlock()
}

// Watch starts reporting changes to path until ctx is done or Stop is
// called. It may be called for several files.
func (w *FileWatcher) Watch(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("invalid watch path: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return errors.New("watcher stopped")
	}
	if w.fsw == nil {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create fsnotify watcher: %w", err)
		}
		w.fsw = fsw
		w.done = make(chan struct{})
		go w.loop(ctx, fsw, w.done)
	}
	if err := w.fsw.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	w.files[abs] = struct{}{}
	w.logger.Info("watching file", "path", abs)
	return nil
}

// Stop ends watching and cancels pending callbacks. It is idempotent.
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	for _, t := range w.timers {
		t.Stop()
	}
	fsw, done := w.fsw, w.done
	w.mu.Unlock()

	if fsw == nil {
		return nil
	}
	err := fsw.Close()
	<-done
	return err
}

func (w *FileWatcher) loop(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)
		case <-ctx.Done():
			go w.Stop()
			return
		}
	}
}

func (w *FileWatcher) handle(event fsnotify.Event) {
	var kind EventType
	switch {
	case event.Has(fsnotify.Create):
		kind = EventCreate
	case event.Has(fsnotify.Write):
		kind = EventModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		kind = EventDelete
	default:
		return
	}

	path := filepath.Clean(event.Name)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.files[path]; !ok || w.stopped {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		cb := w.callback
		delete(w.timers, path)
		stopped := w.stopped
		w.mu.Unlock()
		if cb != nil && !stopped {
			cb(path, kind)
		}
	})
}

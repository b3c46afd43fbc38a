// Package watcher triggers an aggregate refresh when the dataset file changes.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"crop-rotation/pkg/logging"
)

// DefaultDebounce collapses the burst of events an editor save produces.
const DefaultDebounce = 500 * time.Millisecond

// Stats counts watcher activity.
type Stats struct {
	Events    int
	Triggers  int
	Errors    int
	LastEvent time.Time
}

// DatasetWatcher watches the directory holding one file, because editors
// and atomic writers replace the file rather than writing it in place.
type DatasetWatcher struct {
	path     string
	debounce time.Duration
	onChange func(context.Context)
	logger   *logging.StructuredLogger

	mu    sync.Mutex
	stats Stats
}

// New creates a watcher for path. onChange runs on the watcher goroutine,
// at most once per debounce window.
func New(path string, debounce time.Duration, onChange func(context.Context), logger *logging.StructuredLogger) (*DatasetWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &DatasetWatcher{
		path:     abs,
		debounce: debounce,
		onChange: onChange,
		logger:   logger,
	}, nil
}

// Run watches until ctx is cancelled. It returns nil on cancellation.
func (w *DatasetWatcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fsw.Close()

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w.logger.Info(ctx, "[WATCHER_START] Watching dataset for changes", logging.Fields{
		"path":        w.path,
		"debounce_ms": w.debounce.Milliseconds(),
	})

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "[WATCHER_STOP] Dataset watcher stopped", logging.Fields{
				"path": w.path,
			})
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.record(func(s *Stats) {
				s.Events++
				s.LastEvent = time.Now()
			})
			w.logger.Debug(ctx, "[WATCHER_EVENT] Dataset changed", logging.Fields{
				"path": event.Name,
				"op":   event.Op.String(),
			})
			timer.Reset(w.debounce)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.record(func(s *Stats) { s.Errors++ })
			w.logger.Warn(ctx, "[WATCHER_ERROR] Filesystem watcher error", logging.Fields{
				"error": err.Error(),
			})

		case <-timer.C:
			w.record(func(s *Stats) { s.Triggers++ })
			w.onChange(ctx)
		}
	}
}

func (w *DatasetWatcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename)
}

func (w *DatasetWatcher) record(fn func(*Stats)) {
	w.mu.Lock()
	fn(&w.stats)
	w.mu.Unlock()
}

// Stats returns a snapshot of the counters.
func (w *DatasetWatcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

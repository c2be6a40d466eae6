package cli

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/unklstewy/skycapture/internal/capture"
)

const defaultReloadDebounce = 500 * time.Millisecond

// Reloader is the part of the sequencer the watcher needs.
type Reloader interface {
	Status() capture.Status
	LoadSequence(path string) error
}

// SequenceWatcher reloads the queue when its sequence file changes on disk.
// Changes are ignored while the sequence is running or paused.
type SequenceWatcher struct {
	path     string
	seq      Reloader
	log      *slog.Logger
	debounce time.Duration
}

// NewSequenceWatcher creates a watcher for path.
func NewSequenceWatcher(path string, seq Reloader, logger *slog.Logger) *SequenceWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SequenceWatcher{
		path:     path,
		seq:      seq,
		log:      logger.With("component", "watcher"),
		debounce: defaultReloadDebounce,
	}
}

// Run watches the file's directory until ctx is cancelled. Editors often
// replace a file instead of writing it, so the directory is watched rather
// than the file.
func (w *SequenceWatcher) Run(ctx context.Context) error {
	abs, err := filepath.Abs(w.path)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	w.log.Info("watching sequence file", "path", abs)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(w.debounce)

		case <-pending:
			pending = nil
			w.reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watcher error", "error", err)
		}
	}
}

func (w *SequenceWatcher) reload() {
	switch status := w.seq.Status(); status {
	case capture.StatusIdle, capture.StatusComplete, capture.StatusAborted:
	default:
		w.log.Info("sequence file changed, not reloading while busy", "status", status.String())
		return
	}
	if err := w.seq.LoadSequence(w.path); err != nil {
		w.log.Error("failed to reload sequence file", "path", w.path, "error", err)
		return
	}
	w.log.Info("sequence file reloaded", "path", w.path)
}

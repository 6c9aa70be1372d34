package vectorize

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/spetr/semindex/pkg/types"
)

// Watcher triggers vector regeneration when entity files under a model
// root change on disk. Only meaningful for the localdisk strategy.
//
// Regeneration rewrites envelopes under the watched root; the follow-up
// pass sees unchanged content hashes and settles without further writes.
type Watcher struct {
	orchestrator *Orchestrator
	location     string
	root         string

	watcher *fsnotify.Watcher

	// Debouncing
	pendingMu    sync.Mutex
	pending      map[string]time.Time
	debounceTime time.Duration
}

// WatcherConfig contains watcher configuration.
type WatcherConfig struct {
	Orchestrator *Orchestrator
	Location     string        // model location passed to Generate
	Root         string        // model root directory on disk
	DebounceTime time.Duration // Default: 500ms
}

// NewWatcher creates a new model root watcher.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	debounceTime := cfg.DebounceTime
	if debounceTime == 0 {
		debounceTime = 500 * time.Millisecond
	}

	return &Watcher{
		orchestrator: cfg.Orchestrator,
		location:     cfg.Location,
		root:         cfg.Root,
		watcher:      watcher,
		pending:      make(map[string]time.Time),
		debounceTime: debounceTime,
	}, nil
}

// Watch starts watching for entity file changes.
// It blocks until the context is cancelled.
func (w *Watcher) Watch(ctx context.Context) error {
	if err := w.addWatchDirs(); err != nil {
		return err
	}

	slog.Info("watching model root", "root", w.root, "debounce", w.debounceTime)

	go w.processDebounced(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping watcher")
			return w.watcher.Close()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watcher error", "error", err)
		}
	}
}

// addWatchDirs adds the model root and its kind subfolders to the watch.
func (w *Watcher) addWatchDirs() error {
	return filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != w.root {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			slog.Warn("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

// handleEvent records a relevant file system event for debounced
// processing.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) {
		return
	}

	path := event.Name

	// Watch kind subfolders created after startup.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if err := w.watcher.Add(path); err != nil {
				slog.Warn("failed to watch directory", "path", path, "error", err)
			}
			return
		}
	}

	// Entity files and the model index are json; atomic-write temp
	// files are not.
	if filepath.Ext(path) != ".json" {
		return
	}

	w.pendingMu.Lock()
	w.pending[path] = time.Now()
	w.pendingMu.Unlock()

	relPath, err := filepath.Rel(w.root, path)
	if err != nil {
		relPath = path
	}
	slog.Debug("model file changed", "path", relPath, "op", event.Op.String())
}

// processDebounced regenerates once pending changes have been stable
// for the debounce period.
func (w *Watcher) processDebounced(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processPending(ctx)
		}
	}
}

func (w *Watcher) processPending(ctx context.Context) {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	now := time.Now()
	for _, changedAt := range w.pending {
		if now.Sub(changedAt) < w.debounceTime {
			// Still settling; check again on the next tick.
			w.pendingMu.Unlock()
			return
		}
	}
	changed := len(w.pending)
	w.pending = make(map[string]time.Time)
	w.pendingMu.Unlock()

	w.regenerate(ctx, changed)
}

// regenerate runs a hash-gated generation pass; unchanged entities are
// skipped inside the orchestrator, so a full pass is cheap.
func (w *Watcher) regenerate(ctx context.Context, changed int) {
	slog.Info("regenerating after change", "files", changed)

	result, err := w.orchestrator.Generate(ctx, w.location, &types.GenerateRequest{})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("regeneration failed", "error", err)
		return
	}

	slog.Info("regeneration complete",
		"processed", result.Processed,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
}

// Close closes the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

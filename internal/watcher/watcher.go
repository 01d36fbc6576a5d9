// Package watcher keeps a project's index live by re-running incremental
// index passes when files under the project root change.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/ncrowell/codeatlas/internal/extract"
	"github.com/ncrowell/codeatlas/internal/indexer"
	"github.com/ncrowell/codeatlas/internal/job"
)

// Runner triggers an index pass. *indexer.Indexer satisfies it.
type Runner interface {
	Run(ctx context.Context, opts indexer.Options) (*job.Snapshot, error)
	Tracker() *job.Tracker
}

// Watcher debounces file system events and coalesces them into incremental
// index runs. Change detection decides what actually gets reprocessed, so
// one run per burst of events is enough.
type Watcher struct {
	root   string
	runner Runner
	opts   indexer.Options

	debounce     map[string]fsnotify.Op
	debounceMu   sync.Mutex
	debounceTime time.Duration

	onEvent func(event string, path string)
}

// Option configures the watcher.
type Option func(*Watcher)

// WithDebounceTime sets the debounce duration for batching events.
func WithDebounceTime(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounceTime = d
	}
}

// WithEventCallback sets a callback invoked once per triggered run.
func WithEventCallback(fn func(event string, path string)) Option {
	return func(w *Watcher) {
		w.onEvent = fn
	}
}

// New creates a watcher over opts.RootPath.
func New(runner Runner, opts indexer.Options, wopts ...Option) (*Watcher, error) {
	absRoot, err := filepath.Abs(opts.RootPath)
	if err != nil {
		return nil, err
	}
	opts.RootPath = absRoot

	w := &Watcher{
		root:         absRoot,
		runner:       runner,
		opts:         opts,
		debounce:     make(map[string]fsnotify.Op),
		debounceTime: 500 * time.Millisecond,
		onEvent:      func(string, string) {},
	}

	for _, o := range wopts {
		o(w)
	}

	return w, nil
}

// Start begins watching for file changes. Blocks until the context is
// cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := w.addDirectories(fw); err != nil {
		return err
	}

	log.Info("Watching for file changes", "root", w.root)

	go w.processDebounced(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event, fw)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Error("Watcher error", "error", err)
		}
	}
}

// addDirectories recursively adds all directories under the root.
func (w *Watcher) addDirectories(fw *fsnotify.Watcher) error {
	return filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}

		name := d.Name()
		if strings.HasPrefix(name, ".") && path != w.root {
			return filepath.SkipDir
		}
		if shouldSkipDir(name) {
			return filepath.SkipDir
		}

		if err := fw.Add(path); err != nil {
			log.Debug("Failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func shouldSkipDir(name string) bool {
	skipDirs := []string{
		"node_modules", "vendor", "dist", "build", "out", "target",
		"bin", "obj", ".git", ".idea", ".vscode", "__pycache__",
		"coverage", ".nyc_output",
	}
	for _, skip := range skipDirs {
		if name == skip {
			return true
		}
	}
	return false
}

// handleEvent queues a single file system event for the next flush.
func (w *Watcher) handleEvent(event fsnotify.Event, fw *fsnotify.Watcher) {
	path := event.Name

	if strings.HasPrefix(filepath.Base(path), ".") {
		return
	}

	// New directories get watched; their files arrive as later events.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if !shouldSkipDir(filepath.Base(path)) {
				fw.Add(path)
				log.Debug("Added directory to watch", "path", path)
			}
			return
		}
	}

	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return
	}

	// Removes cannot be stat'd, so they pass through on extension alone.
	if !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) && !w.isIndexableFile(path) {
		return
	}
	if extract.DetectLanguage(path) == extract.LangUnknown {
		return
	}

	w.debounceMu.Lock()
	w.debounce[path] = event.Op
	w.debounceMu.Unlock()
}

// isIndexableFile checks whether a file is worth triggering a run for.
func (w *Watcher) isIndexableFile(path string) bool {
	if extract.DetectLanguage(path) == extract.LangUnknown {
		return false
	}

	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if w.opts.MaxFileSize > 0 && info.Size() > w.opts.MaxFileSize {
		return false
	}
	return true
}

// processDebounced flushes pending events on a fixed tick.
func (w *Watcher) processDebounced(ctx context.Context) {
	ticker := time.NewTicker(w.debounceTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.flushDebounced(ctx)
		}
	}
}

// flushDebounced coalesces all pending events into one incremental run.
// If a run cannot start because a job is already active, the events are
// requeued for the next tick.
func (w *Watcher) flushDebounced(ctx context.Context) {
	w.debounceMu.Lock()
	if len(w.debounce) == 0 {
		w.debounceMu.Unlock()
		return
	}
	events := w.debounce
	w.debounce = make(map[string]fsnotify.Op)
	w.debounceMu.Unlock()

	log.Debug("Flushing file events", "pending", len(events))

	snap, err := w.runner.Run(ctx, w.opts)
	if err != nil {
		log.Warn("Watch-triggered run failed", "error", err)
		w.requeue(events)
		return
	}

	// Return the tracker to idle so the next flush can start a run.
	if t := w.runner.Tracker(); t != nil {
		if err := t.Reset(); err != nil {
			log.Warn("Failed to reset job state", "error", err)
		}
	}

	for path := range events {
		relPath, _ := filepath.Rel(w.root, path)
		w.onEvent("index", relPath)
	}

	log.Info("Re-indexed after changes",
		"processed", snap.ProcessedFiles,
		"skipped", snap.SkippedFiles,
		"failed", snap.FailedFiles)
}

func (w *Watcher) requeue(events map[string]fsnotify.Op) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	for path, op := range events {
		if _, exists := w.debounce[path]; !exists {
			w.debounce[path] = op
		}
	}
}

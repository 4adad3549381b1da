package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/docdex/docdex/internal/indexer"
	"github.com/docdex/docdex/internal/parser"
	"github.com/docdex/docdex/pkg/types"
)

// DefaultDebounce is how long a path must stay quiet before its pending
// change is indexed. Editors commonly emit several write events per save;
// the debounce collapses each burst into one indexing pass.
const DefaultDebounce = 300 * time.Millisecond

// Watcher keeps the index synchronized with filesystem changes under the
// watched source roots. One watcher runs per state directory, enforced by
// a PID lock file.
type Watcher struct {
	pipeline *indexer.Pipeline
	root     string
	sources  []types.Source
	stateDir string
	debounce time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New creates a watcher over the Watch-enabled sources. root is the
// project root document ids are resolved against; stateDir holds the lock
// file.
func New(pipeline *indexer.Pipeline, root, stateDir string, sources []types.Source, logger *slog.Logger) *Watcher {
	watched := make([]types.Source, 0, len(sources))
	for _, src := range sources {
		if src.Watch {
			watched = append(watched, src)
		}
	}
	return &Watcher{
		pipeline: pipeline,
		root:     root,
		sources:  watched,
		stateDir: stateDir,
		debounce: DefaultDebounce,
		logger:   logger,
		timers:   make(map[string]*time.Timer),
	}
}

// Run acquires the watcher lock and processes file change events until ctx
// is cancelled. It returns types.ErrWatcherLocked when another live
// watcher process holds the lock.
func (w *Watcher) Run(ctx context.Context) error {
	lock, err := acquireLock(w.stateDir)
	if err != nil {
		return err
	}
	defer func() {
		if releaseErr := lock.release(); releaseErr != nil {
			w.logger.Warn("lock release failed", "error", releaseErr)
		}
	}()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = fw.Close() }()

	for _, src := range w.sources {
		if err := addDirsRecursive(fw, src.Path); err != nil {
			return err
		}
		w.logger.Info("watching source", "name", src.Name, "path", src.Path)
	}

	for {
		select {
		case <-ctx.Done():
			w.cancelTimers()
			w.logger.Info("watcher stopped")
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				w.cancelTimers()
				return nil
			}
			w.handleEvent(ctx, fw, ev)

		case watchErr, ok := <-fw.Errors:
			if !ok {
				w.cancelTimers()
				return nil
			}
			w.logger.Error("watch error", "error", watchErr)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, fw *fsnotify.Watcher, ev fsnotify.Event) {
	path := ev.Name

	// New directories join the watch list; their existing files arrive as
	// Create events on most platforms, and the next source run catches the
	// rest.
	if ev.Op&fsnotify.Create != 0 {
		if info, statErr := os.Stat(path); statErr == nil && info.IsDir() {
			if addErr := addDirsRecursive(fw, path); addErr != nil {
				w.logger.Warn("watch new dir failed", "path", path, "error", addErr)
			}
			return
		}
	}

	if !w.supported(path) {
		return
	}

	switch {
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		w.schedule(path, func() {
			result := w.pipeline.IndexFile(ctx, path)
			switch {
			case result.Error != "":
				w.logger.Warn("watch index failed", "path", result.Path, "error", result.Error)
			case result.Skipped:
				w.logger.Debug("watch index unchanged", "path", result.Path)
			default:
				w.logger.Info("watch indexed", "path", result.Path, "chunks", result.Chunks)
			}
		})

	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		// A rename fires on the old path; the new path follows as its own
		// Create event. Either way the old document id is gone.
		w.cancelTimer(path)
		docID, err := w.docID(path)
		if err != nil {
			return
		}
		removed, delErr := w.pipeline.DeleteDocument(ctx, docID)
		if delErr != nil {
			w.logger.Warn("watch delete failed", "path", docID, "error", delErr)
		} else if removed {
			w.logger.Info("watch deleted", "path", docID)
		}
	}
}

// schedule arms (or re-arms) the per-path debounce timer. Each new event
// for the same path pushes the pending work out by the full debounce
// window.
func (w *Watcher) schedule(path string, fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		fn()
	})
}

func (w *Watcher) cancelTimer(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
		delete(w.timers, path)
	}
}

func (w *Watcher) cancelTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

// supported reports whether path belongs to a watched source and has an
// indexable format.
func (w *Watcher) supported(path string) bool {
	if !parser.Supported(path) {
		return false
	}
	for _, src := range w.sources {
		if rel, err := filepath.Rel(src.Path, path); err == nil && fs.ValidPath(filepath.ToSlash(rel)) {
			return true
		}
	}
	return false
}

func (w *Watcher) docID(path string) (string, error) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
}

package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/semindex-mcp/internal/treebuilder"
)

const (
	// DefaultDebounce is how long the watcher waits after the last event
	// before flushing a batch.
	DefaultDebounce = 500 * time.Millisecond

	// DefaultBufferSize bounds the pending-event channel. Events arriving
	// while the buffer is full are dropped; a later full index cycle
	// reconciles anything missed.
	DefaultBufferSize = 1024
)

// Handler receives one debounced batch of workspace-relative paths.
type Handler func(paths []string)

// Config controls debouncing and which paths produce events.
type Config struct {
	Debounce   time.Duration      // default: DefaultDebounce
	BufferSize int                // default: DefaultBufferSize
	Filter     treebuilder.Config // same rules the scanner applies
}

// Watcher monitors a workspace recursively and feeds batched change
// notifications to a handler. The handler is called from a single goroutine.
type Watcher struct {
	workspacePath string
	filter        *treebuilder.Builder
	handler       Handler
	fs            *fsnotify.Watcher
	debounce      time.Duration

	events   chan string
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a watcher rooted at workspacePath. Call Start to begin
// delivering events.
func New(workspacePath string, handler Handler, config Config) (*Watcher, error) {
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBufferSize
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		workspacePath: workspacePath,
		filter:        treebuilder.New(workspacePath, config.Filter),
		handler:       handler,
		fs:            fsw,
		debounce:      config.Debounce,
		events:        make(chan string, config.BufferSize),
		done:          make(chan struct{}),
	}, nil
}

// Start registers the workspace tree with the operating system watcher and
// launches the event and debounce loops. The loops exit when ctx is cancelled
// or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.workspacePath); err != nil {
		_ = w.fs.Close()
		return err
	}
	go w.readEvents(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Close stops the watcher. Safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fs.Close()
	})
	return err
}

// addRecursive watches root and every eligible subdirectory. Unreadable
// directories are skipped, not fatal.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel := w.relPath(path)
		if rel != "" && !w.filter.IncludesDir(rel) {
			return filepath.SkipDir
		}
		return w.fs.Add(path)
	})
}

// relPath converts an absolute event path to a normalized workspace-relative
// path, or "" when the path is the root or falls outside the workspace.
func (w *Watcher) relPath(abs string) string {
	rel, err := filepath.Rel(w.workspacePath, abs)
	if err != nil {
		return ""
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "../") || rel == ".." {
		return ""
	}
	return rel
}

// readEvents filters raw notifications and feeds eligible paths into the
// debounce channel.
func (w *Watcher) readEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case _, ok := <-w.fs.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	rel := w.relPath(event.Name)
	if rel == "" {
		return
	}

	switch {
	case event.Op.Has(fsnotify.Create):
		if isDir(event.Name) {
			if w.filter.IncludesDir(rel) {
				// Contents may have landed before the watch was in
				// place; the enqueued directory path triggers a rescan
				// of the subtree.
				_ = w.addRecursive(event.Name)
				w.enqueue(rel)
			}
			return
		}
		if w.filter.IncludesPath(rel) {
			w.enqueue(rel)
		}
	case event.Op.Has(fsnotify.Write):
		if w.filter.IncludesPath(rel) {
			w.enqueue(rel)
		}
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		// The path is gone, so whether it was a file or a directory is
		// unknowable here. Anything not excluded passes through; paths
		// the index never tracked reconcile to no-ops downstream.
		if !hidden(rel) && !w.filter.Excluded(rel) {
			w.enqueue(rel)
		}
	}
}

func (w *Watcher) enqueue(rel string) {
	select {
	case w.events <- rel:
	default:
	}
}

// debounceLoop batches paths and calls the handler once the debounce window
// expires without new events.
func (w *Watcher) debounceLoop(ctx context.Context) {
	batch := make(map[string]struct{})
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(batch) > 0 && w.handler != nil {
			paths := make([]string, 0, len(batch))
			for path := range batch {
				paths = append(paths, path)
			}
			sort.Strings(paths)
			clear(batch)
			w.handler(paths)
		}
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-w.done:
			flush()
			return
		case rel := <-w.events:
			batch[rel] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			flush()
		}
	}
}

// hidden reports whether any path segment starts with a dot.
func hidden(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

func isDir(abs string) bool {
	info, err := os.Stat(abs)
	return err == nil && info.IsDir()
}

package reconcile

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rupertsworld/stash/internal/stash"
)

// Default timing knobs (§6 "Environment knob"), overridable per instance.
const (
	DefaultStabilizeWindow = 200 * time.Millisecond
	DefaultStabilizePoll   = 50 * time.Millisecond
	DefaultRenameWindow    = 500 * time.Millisecond
)

// diskSnapshot is the last content observed to be in sync with disk for a
// text file (§3 "Shared state", diskSnapshots: path -> content_text).
type diskSnapshot struct {
	content string
}

// pendingDelete buffers an unlink for up to renameWindow to detect a
// matching create as a rename (§3 "Pending delete"). correlationID ties
// together the unlink and its eventual create-or-finalize log lines, since
// the two events can land in either order relative to other paths' churn.
type pendingDelete struct {
	path          string
	docID         string
	contentHash   string
	correlationID string
	timer         *time.Timer
}

// Reconciler bridges one stash's working tree and its CRDT state (C7). It
// is the sole owner of the watcher handle, the disk-snapshots map, and
// the pending-deletes map (§3 "Ownership").
type Reconciler struct {
	stash *stash.Stash
	root  string

	logger *slog.Logger

	watcherFactory  func() (FsWatcher, error)
	watcher         FsWatcher
	stabilizeWindow time.Duration
	stabilizePoll   time.Duration
	renameWindow    time.Duration

	mu             sync.Mutex
	diskSnapshots  map[string]diskSnapshot
	pendingDeletes map[string]*pendingDelete
	writing        atomic.Bool

	debounce map[string]*time.Timer

	done chan struct{}
}

// New returns a Reconciler for s, rooted at s.Path().
func New(s *stash.Stash, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Reconciler{
		stash:           s,
		root:            s.Path(),
		logger:          logger.With(slog.String("stash", s.Name())),
		watcherFactory:  newFsnotifyWatcher,
		stabilizeWindow: DefaultStabilizeWindow,
		stabilizePoll:   DefaultStabilizePoll,
		renameWindow:    DefaultRenameWindow,
		diskSnapshots:   make(map[string]diskSnapshot),
		pendingDeletes:  make(map[string]*pendingDelete),
		debounce:        make(map[string]*time.Timer),
		done:            make(chan struct{}),
	}
}

// excluded reports whether a disk path (relative to root) should be
// ignored: anything under .stash/, or any dotfile/dotdirectory component
// (§4.4 "Watcher setup").
func excluded(relPath string) bool {
	for _, part := range strings.Split(relPath, string(filepath.Separator)) {
		if part == "" {
			continue
		}

		if part == ".stash" || strings.HasPrefix(part, ".") {
			return true
		}
	}

	return false
}

// Start begins watching root recursively and runs the event loop until
// ctx is canceled or Close is called.
func (r *Reconciler) Start(ctx context.Context) error {
	w, err := r.watcherFactory()
	if err != nil {
		return err
	}

	r.watcher = w

	if err := r.addRecursive(r.root); err != nil {
		return err
	}

	go r.loop(ctx)

	return nil
}

// Close releases the watcher handle.
func (r *Reconciler) Close() error {
	close(r.done)

	if r.watcher != nil {
		return r.watcher.Close()
	}

	return nil
}

func (r *Reconciler) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best-effort walk, missing entries are skipped
		}

		if !d.IsDir() {
			return nil
		}

		rel, relErr := filepath.Rel(r.root, path)
		if relErr == nil && excluded(rel) && rel != "." {
			return filepath.SkipDir
		}

		return r.watcher.Add(path)
	})
}

func (r *Reconciler) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case ev, ok := <-r.watcher.Events():
			if !ok {
				return
			}

			r.handleEvent(ev)
		case err, ok := <-r.watcher.Errors():
			if !ok {
				return
			}

			r.logger.Warn("watcher error", slog.Any("err", err))
		}
	}
}

// handleEvent debounces bursts of writes to the same path until quiescent
// for stabilizeWindow (§4.4 "Stabilization"), then dispatches to the
// matching handler.
func (r *Reconciler) handleEvent(ev fsnotify.Event) {
	rel, err := filepath.Rel(r.root, ev.Name)
	if err != nil || excluded(rel) {
		return
	}

	if ev.Has(fsnotify.Create) {
		if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
			_ = r.watcher.Add(ev.Name)
			return
		}
	}

	r.mu.Lock()
	if t, ok := r.debounce[rel]; ok {
		t.Stop()
	}

	r.debounce[rel] = time.AfterFunc(r.stabilizeWindow, func() {
		r.dispatch(ev.Op, rel, ev.Name)
	})
	r.mu.Unlock()
}

func (r *Reconciler) dispatch(op fsnotify.Op, rel, abs string) {
	if r.writing.Load() {
		return
	}

	var err error

	switch {
	case op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename):
		err = r.onUnlink(rel)
	case op.Has(fsnotify.Create):
		err = r.onAdd(rel)
	case op.Has(fsnotify.Write):
		err = r.onChange(rel)
	}

	if err != nil {
		r.logger.Warn("reconciler handler failed", slog.String("path", rel), slog.Any("err", err))
	}
}

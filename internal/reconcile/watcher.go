// Package reconcile implements C7, the reconciler: the filesystem ↔ CRDT
// bridge, including rename detection, the binary/text dichotomy,
// tombstone logic, and the resurrection rule (reconciliation-algorithm.md
// §4.4, "the central algorithm").
package reconcile

import (
	"github.com/fsnotify/fsnotify"
)

// FsWatcher abstracts filesystem event monitoring around *fsnotify.Watcher
// so tests can inject a fake.
type FsWatcher interface {
	Add(name string) error
	Remove(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWrapper struct{ w *fsnotify.Watcher }

func newFsnotifyWatcher() (FsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &fsnotifyWrapper{w: w}, nil
}

func (fw *fsnotifyWrapper) Add(name string) error         { return fw.w.Add(name) }
func (fw *fsnotifyWrapper) Remove(name string) error      { return fw.w.Remove(name) }
func (fw *fsnotifyWrapper) Close() error                  { return fw.w.Close() }
func (fw *fsnotifyWrapper) Events() <-chan fsnotify.Event { return fw.w.Events }
func (fw *fsnotifyWrapper) Errors() <-chan error          { return fw.w.Errors }

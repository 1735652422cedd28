package stash

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/rupertsworld/stash/internal/crdtdoc"
	"github.com/rupertsworld/stash/internal/stasherr"
)

// Write sets path's content to text, creating a new text file doc if path
// is absent or tombstoned (resurrection always allocates a fresh docId,
// §4.1), or replacing the content of the existing doc otherwise. Schedules
// a background save and a debounced sync.
func (s *Stash) Write(p, text string) error {
	s.mu.Lock()

	entry, ok, err := s.structure.Entry(p)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("stash: write %q: %w", p, err)
	}

	if ok && !entry.Deleted {
		doc, exists := s.fileDocs[entry.DocID]
		if !exists {
			s.mu.Unlock()
			return stasherr.NewCorruptState("stash: write "+p+": dangling file-doc reference", nil)
		}

		if err := doc.SetContent(text); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("stash: write %q: %w", p, err)
		}
	} else {
		doc, err := crdtdoc.CreateText(s.actorID, text)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("stash: write %q: %w", p, err)
		}

		docID, err := s.structure.Add(p, "", nowMillis())
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("stash: write %q: %w", p, err)
		}

		s.fileDocs[docID] = doc
		s.knownPaths[p] = struct{}{}
	}

	s.mu.Unlock()

	s.scheduleBackgroundSave()
	s.ScheduleSync()

	return nil
}

// WriteBinary sets path to a binary file doc referencing hash/size,
// resurrecting with a fresh docId if path is absent or tombstoned.
func (s *Stash) WriteBinary(p, hash string, size int64) error {
	s.mu.Lock()

	entry, ok, err := s.structure.Entry(p)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("stash: writeBinary %q: %w", p, err)
	}

	var docID string

	if ok && !entry.Deleted {
		docID = entry.DocID
	} else {
		docID, err = s.structure.Add(p, "", nowMillis())
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("stash: writeBinary %q: %w", p, err)
		}
	}

	doc, err := crdtdoc.CreateBinary(s.actorID, hash, size)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("stash: writeBinary %q: %w", p, err)
	}

	s.fileDocs[docID] = doc
	s.knownPaths[p] = struct{}{}

	s.mu.Unlock()

	s.scheduleBackgroundSave()
	s.ScheduleSync()

	return nil
}

// Patch applies a CRDT-position range replace to the text doc at path
// (§4.2 applyPatch). Fails if path is absent, tombstoned, or binary.
func (s *Stash) Patch(p string, start, end int, text string) error {
	s.mu.Lock()

	_, doc, err := s.activeEntryAndDoc(p)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	if err := doc.ApplyPatch(start, end, text); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("stash: patch %q: %w", p, err)
	}

	s.mu.Unlock()

	s.scheduleBackgroundSave()
	s.ScheduleSync()

	return nil
}

// Delete tombstones path (§4.1 remove()). Fails with stasherr.NotFound if
// path has no entry.
func (s *Stash) Delete(p string) error {
	s.mu.Lock()

	if err := s.structure.Remove(p); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("stash: delete %q: %w", p, err)
	}

	s.mu.Unlock()

	s.scheduleBackgroundSave()
	s.ScheduleSync()

	return nil
}

// Move relocates from to to, preserving docId and created (§4.1 move()).
func (s *Stash) Move(from, to string) error {
	s.mu.Lock()

	if err := s.structure.Move(from, to); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("stash: move %q -> %q: %w", from, to, err)
	}

	delete(s.knownPaths, from)
	s.knownPaths[to] = struct{}{}

	s.mu.Unlock()

	s.scheduleBackgroundSave()
	s.ScheduleSync()

	return nil
}

// SetFileDoc installs doc as the file doc for docID, used by the
// reconciler when it merges a CRDT branch built outside the stash's own
// mutating methods (§4.3 "setFileDoc(path, doc) for reconciler-managed
// merges"). path is used only for known-paths bookkeeping and logging.
func (s *Stash) SetFileDoc(p, docID string, doc *crdtdoc.FileDoc) {
	s.mu.Lock()
	s.fileDocs[docID] = doc
	s.knownPaths[p] = struct{}{}
	s.mu.Unlock()

	s.logger.Debug("file doc installed by reconciler merge", slog.String("path", p), slog.String("docId", docID))

	s.scheduleBackgroundSave()
	s.ScheduleSync()
}

// DropFileDoc removes docID from the in-memory doc map (after GC has
// determined it is unreferenced).
func (s *Stash) DropFileDoc(docID string) {
	s.mu.Lock()
	delete(s.fileDocs, docID)
	s.mu.Unlock()
}

func nowMillis() int64 { return time.Now().UnixMilli() }

package reconcile

import (
	"log/slog"
	"os"
	"path/filepath"
)

// Flush performs CRDT-to-disk reconciliation (§4.4 "flush()"), then an
// orphan-cleanup pass, then a final reconcile pass for any path whose
// snapshot still differs from disk (races with the reconciler's own
// writes).
func (r *Reconciler) Flush() error {
	active, err := r.stash.ListActiveFiles()
	if err != nil {
		return err
	}

	for _, p := range active {
		if err := r.flushOne(p); err != nil {
			r.logger.Warn("flush failed", slog.String("path", p), slog.Any("err", err))
		}
	}

	if err := r.cleanupOrphans(); err != nil {
		return err
	}

	for _, p := range active {
		r.mu.Lock()
		snap, ok := r.diskSnapshots[p]
		r.mu.Unlock()

		if !ok {
			continue
		}

		absPath := filepath.Join(r.root, p)

		data, err := os.ReadFile(absPath)
		if err != nil {
			continue
		}

		if string(data) != snap.content {
			if err := r.onChange(p); err != nil {
				r.logger.Warn("reconcile pass failed", slog.String("path", p), slog.Any("err", err))
			}
		}
	}

	return nil
}

func (r *Reconciler) flushOne(p string) error {
	docID, ok, err := r.stash.GetDocID(p)
	if err != nil || !ok {
		return nil
	}

	doc, ok := r.stash.GetFileDoc(docID)
	if !ok {
		return nil
	}

	absPath := filepath.Join(r.root, p)

	isText, err := doc.IsText()
	if err != nil {
		return err
	}

	if isText {
		return r.flushText(p, absPath, doc)
	}

	return r.flushBinary(p, absPath, doc)
}

func (r *Reconciler) flushText(p, absPath string, doc interface {
	GetContent() (string, error)
}) error {
	r.mu.Lock()
	snap, hadSnapshot := r.diskSnapshots[p]
	r.mu.Unlock()

	diskData, diskErr := os.ReadFile(absPath)
	diskExists := diskErr == nil

	if !diskExists && hadSnapshot {
		// user deleted during the flush window: tombstone instead of
		// recreating (§4.4 "flush(), Text").
		docID, _, _ := r.stash.GetDocID(p)
		return r.finalizeDelete(p, docID)
	}

	if diskExists && hadSnapshot && string(diskData) != snap.content {
		// user edited during flush: reroute through on change.
		return r.onChange(p)
	}

	content, err := doc.GetContent()
	if err != nil {
		return err
	}

	if diskExists && string(diskData) == content {
		r.mu.Lock()
		r.diskSnapshots[p] = diskSnapshot{content: content}
		r.mu.Unlock()

		return nil
	}

	if err := r.writeDiskLocked(absPath, content); err != nil {
		return err
	}

	r.mu.Lock()
	r.diskSnapshots[p] = diskSnapshot{content: content}
	r.mu.Unlock()

	return nil
}

func (r *Reconciler) flushBinary(p, absPath string, doc interface {
	Hash() (string, error)
}) error {
	hash, err := doc.Hash()
	if err != nil {
		return err
	}

	if _, statErr := os.Stat(absPath); statErr != nil {
		if r.stash.IsKnownPath(p) {
			docID, _, _ := r.stash.GetDocID(p)
			return r.finalizeDelete(p, docID)
		}

		return r.copyBlob(absPath, hash)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return err
	}

	if contentHash(data) != hash {
		return r.copyBlob(absPath, hash)
	}

	return nil
}

func (r *Reconciler) copyBlob(absPath, hash string) error {
	data, err := r.stash.Blobs().Get(hash)
	if err != nil {
		return err
	}

	r.writing.Store(true)
	defer r.writing.Store(false)

	if err := os.MkdirAll(filepath.Dir(absPath), 0o700); err != nil {
		return err
	}

	return os.WriteFile(absPath, data, 0o600)
}

// cleanupOrphans walks disk and dispatches every untracked file
// (§4.4 "Then cleanup orphans"): tombstoned & known -> honor delete;
// tombstoned & not known -> resurrect; not tombstoned & not tracked ->
// import.
func (r *Reconciler) cleanupOrphans() error {
	return filepath.WalkDir(r.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best-effort walk
		}

		rel, relErr := filepath.Rel(r.root, path)
		if relErr != nil || rel == "." {
			return nil
		}

		if excluded(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if d.IsDir() {
			return nil
		}

		slashRel := filepath.ToSlash(rel)

		_, tracked, _ := r.stash.GetDocID(slashRel)
		if tracked {
			deleted, err := r.stash.IsDeleted(slashRel)
			if err == nil && !deleted {
				return nil
			}
		}

		return r.dispatchOrphan(slashRel)
	})
}

func (r *Reconciler) dispatchOrphan(p string) error {
	docID, wasTracked, _ := r.stash.GetDocID(p)

	deleted, err := r.stash.IsDeleted(p)
	if err == nil && wasTracked && deleted {
		if r.stash.IsKnownPath(p) {
			return r.honorDelete(p, docID)
		}

		return r.resurrect(p)
	}

	return r.onAdd(p)
}

func (r *Reconciler) honorDelete(p, docID string) error {
	absPath := filepath.Join(r.root, p)

	r.writing.Store(true)
	if err := os.Remove(absPath); err != nil {
		r.writing.Store(false)
		return err
	}
	r.writing.Store(false)

	r.stash.RemoveKnownPath(p)

	if err := removeEmptyParents(absPath, r.root); err != nil {
		r.logger.Warn("pruning empty parents failed", slog.Any("err", err))
	}

	return r.saveAndSchedule()
}

func (r *Reconciler) resurrect(p string) error {
	return r.onAdd(p)
}

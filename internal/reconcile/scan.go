package reconcile

import (
	"log/slog"
	"os"
	"path/filepath"
)

// Scan performs disk-to-CRDT reconciliation (§4.4 "scan()"): every disk
// path not tracked in structure is imported as new; every tracked path no
// longer on disk is tombstoned (GC'ing its blob if binary and
// unreferenced). Runs Save() at the end. Intended to run once at
// reconciler startup, and callable again for a forced rescan.
func (r *Reconciler) Scan() error {
	onDisk := make(map[string]struct{})

	err := filepath.WalkDir(r.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best-effort walk
		}

		rel, relErr := filepath.Rel(r.root, path)
		if relErr != nil {
			return nil
		}

		if rel == "." {
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

		onDisk[filepath.ToSlash(rel)] = struct{}{}

		if _, ok, _ := r.stash.GetDocID(filepath.ToSlash(rel)); !ok {
			if err := r.onAdd(filepath.ToSlash(rel)); err != nil {
				r.logger.Warn("scan import failed", slog.String("path", rel), slog.Any("err", err))
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	active, err := r.stash.ListActiveFiles()
	if err != nil {
		return err
	}

	for _, p := range active {
		if _, ok := onDisk[p]; ok {
			continue
		}

		docID, _, _ := r.stash.GetDocID(p)

		if err := r.finalizeDelete(p, docID); err != nil {
			r.logger.Warn("scan tombstone failed", slog.String("path", p), slog.Any("err", err))
		}
	}

	return r.stash.Save()
}

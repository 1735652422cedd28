package reconcile

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/rupertsworld/stash/internal/crdtdoc"
)

// detectText reports whether data decodes as UTF-8 without producing the
// replacement character U+FFFD (§4.4 "on add" text-vs-binary test).
func detectText(data []byte) bool {
	if !utf8.Valid(data) {
		return false
	}

	return !bytes.ContainsRune(data, utf8.RuneError)
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// onAdd handles a filesystem create event (§4.4 "on add").
func (r *Reconciler) onAdd(relPath string) error {
	if r.writing.Load() {
		return nil
	}

	absPath := filepath.Join(r.root, relPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil //nolint:nilerr // file vanished before we got to it; a later event will settle it
	}

	isText := detectText(data)
	hash := contentHash(data)

	r.mu.Lock()
	pending, ok := r.pendingDeletes[hash]
	if ok && filepath.Base(pending.path) == filepath.Base(relPath) {
		delete(r.pendingDeletes, hash)
		pending.timer.Stop()
	} else {
		ok = false
	}
	r.mu.Unlock()

	if ok {
		r.logger.Debug("rename detected",
			slog.String("correlationId", pending.correlationID),
			slog.String("from", pending.path), slog.String("to", relPath))

		if err := r.stash.Move(pending.path, relPath); err != nil {
			return err
		}

		r.mu.Lock()
		if snap, existed := r.diskSnapshots[pending.path]; existed {
			delete(r.diskSnapshots, pending.path)
			r.diskSnapshots[relPath] = snap
		} else if isText {
			r.diskSnapshots[relPath] = diskSnapshot{content: string(data)}
		}
		r.mu.Unlock()

		if err := r.stash.FlushSave(); err != nil {
			r.logger.Warn("save after rename failed", slog.Any("err", err))
		}

		r.stash.ScheduleSync()

		return nil
	}

	if isText {
		if err := r.stash.Write(relPath, string(data)); err != nil {
			return err
		}

		r.mu.Lock()
		r.diskSnapshots[relPath] = diskSnapshot{content: string(data)}
		r.mu.Unlock()
	} else {
		blobHash, err := r.stash.Blobs().Put(data)
		if err != nil {
			return err
		}

		if err := r.stash.WriteBinary(relPath, blobHash, int64(len(data))); err != nil {
			return err
		}
	}

	r.stash.AddKnownPath(relPath)

	if err := r.stash.FlushSave(); err != nil {
		r.logger.Warn("save after add failed", slog.Any("err", err))
	}

	r.stash.ScheduleSync()

	return nil
}

// onChange handles a filesystem write event (§4.4 "on change").
func (r *Reconciler) onChange(relPath string) error {
	if r.writing.Load() {
		return nil
	}

	absPath := filepath.Join(r.root, relPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil //nolint:nilerr // transient, unlink handler (or a later change) will settle it
	}

	docID, ok, err := r.stash.GetDocID(relPath)
	if err != nil || !ok {
		return r.onAdd(relPath)
	}

	doc, ok := r.stash.GetFileDoc(docID)
	if !ok {
		return r.onAdd(relPath)
	}

	isText := detectText(data)

	wasText, _ := doc.IsText()

	if isText != wasText {
		// type change: overwrite with a fresh variant (§4.4 "on type
		// change overwrite the file doc with a fresh variant").
		if isText {
			fresh, ferr := crdtdoc.CreateText(r.stash.ActorID(), string(data))
			if ferr != nil {
				return ferr
			}

			r.stash.SetFileDoc(relPath, docID, fresh)

			r.mu.Lock()
			r.diskSnapshots[relPath] = diskSnapshot{content: string(data)}
			r.mu.Unlock()
		} else {
			blobHash, berr := r.stash.Blobs().Put(data)
			if berr != nil {
				return berr
			}

			fresh, ferr := crdtdoc.CreateBinary(r.stash.ActorID(), blobHash, int64(len(data)))
			if ferr != nil {
				return ferr
			}

			r.stash.SetFileDoc(relPath, docID, fresh)

			r.mu.Lock()
			delete(r.diskSnapshots, relPath)
			r.mu.Unlock()
		}

		return r.saveAndSchedule()
	}

	if !isText {
		// binary content changed on disk: re-hash and re-store, no CRDT
		// merge (binaries are not CRDTs, §9 "Binary CRDT").
		blobHash, berr := r.stash.Blobs().Put(data)
		if berr != nil {
			return berr
		}

		fresh, ferr := crdtdoc.CreateBinary(r.stash.ActorID(), blobHash, int64(len(data)))
		if ferr != nil {
			return ferr
		}

		r.stash.SetFileDoc(relPath, docID, fresh)

		return r.saveAndSchedule()
	}

	r.mu.Lock()
	snap, hadSnapshot := r.diskSnapshots[relPath]
	r.mu.Unlock()

	prior := ""
	if hadSnapshot {
		prior = snap.content
	}

	if applyLineDiff(doc, prior, string(data)) != nil {
		return nil
	}

	merged, err := doc.GetContent()
	if err != nil {
		return err
	}

	if err := r.writeDiskLocked(absPath, merged); err != nil {
		return err
	}

	r.mu.Lock()
	r.diskSnapshots[relPath] = diskSnapshot{content: merged}
	r.mu.Unlock()

	return r.saveAndSchedule()
}

// onUnlink handles a filesystem remove event (§4.4 "on unlink").
func (r *Reconciler) onUnlink(relPath string) error {
	if r.writing.Load() {
		return nil
	}

	docID, ok, err := r.stash.GetDocID(relPath)
	if err != nil || !ok {
		return nil
	}

	var hash string

	if doc, ok := r.stash.GetFileDoc(docID); ok {
		if isText, _ := doc.IsText(); isText {
			content, cerr := doc.GetContent()
			if cerr == nil {
				hash = contentHash([]byte(content))
			}
		} else {
			hash, _ = doc.Hash()
		}
	}

	pd := &pendingDelete{path: relPath, docID: docID, contentHash: hash, correlationID: uuid.NewString()}

	r.mu.Lock()
	r.pendingDeletes[hash] = pd
	r.mu.Unlock()

	r.logger.Debug("pending delete buffered",
		slog.String("correlationId", pd.correlationID), slog.String("path", relPath))

	pd.timer = time.AfterFunc(r.renameWindow, func() {
		r.mu.Lock()
		_, stillPending := r.pendingDeletes[hash]
		if stillPending {
			delete(r.pendingDeletes, hash)
		}
		r.mu.Unlock()

		if stillPending {
			if err := r.finalizeDelete(relPath, docID); err != nil {
				r.logger.Warn("finalize delete failed",
					slog.String("correlationId", pd.correlationID),
					slog.String("path", relPath), slog.Any("err", err))
			}
		}
	})

	return nil
}

func (r *Reconciler) finalizeDelete(relPath, docID string) error {
	if err := r.stash.Delete(relPath); err != nil {
		return err
	}

	if doc, ok := r.stash.GetFileDoc(docID); ok {
		if isText, _ := doc.IsText(); !isText {
			hash, herr := doc.Hash()
			if herr == nil {
				r.gcBlobIfUnreferenced(hash)
			}
		}
	}

	r.mu.Lock()
	delete(r.diskSnapshots, relPath)
	r.mu.Unlock()

	if err := removeEmptyParents(filepath.Join(r.root, relPath), r.root); err != nil {
		r.logger.Warn("pruning empty parents failed", slog.Any("err", err))
	}

	return r.saveAndSchedule()
}

// gcBlobIfUnreferenced runs the blob store's GC rule for a single hash
// (§3 "Blob store", GC at finalize-delete).
func (r *Reconciler) gcBlobIfUnreferenced(hash string) {
	referenced := referencedHashes(r.stash)
	if _, stillUsed := referenced[hash]; stillUsed {
		return
	}

	if err := r.stash.Blobs().Delete(hash); err != nil {
		r.logger.Warn("blob gc delete failed", slog.String("hash", hash), slog.Any("err", err))
	}
}

func referencedHashes(s interface {
	FileDocsSnapshot() map[string]*crdtdoc.FileDoc
}) map[string]struct{} {
	out := make(map[string]struct{})

	for _, doc := range s.FileDocsSnapshot() {
		isText, err := doc.IsText()
		if err != nil || isText {
			continue
		}

		if hash, herr := doc.Hash(); herr == nil {
			out[hash] = struct{}{}
		}
	}

	return out
}

// removeEmptyParents unlinks each parent directory of path that is now
// empty, stopping at (but never crossing) root (§4.4 "Empty-directory
// pruning").
func removeEmptyParents(path, root string) error {
	dir := filepath.Dir(path)

	for {
		rel, err := filepath.Rel(root, dir)
		if err != nil || rel == "." || rel == ".." {
			return nil
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil //nolint:nilerr // already gone, or inaccessible, nothing left to prune
		}

		if len(entries) > 0 {
			return nil
		}

		if err := os.Remove(dir); err != nil {
			return err
		}

		dir = filepath.Dir(dir)
	}
}

// writeDiskLocked writes content to absPath under the writing guard, so
// the resulting fsnotify event is not reinterpreted as a user edit
// (§4.4 "writing: bool").
func (r *Reconciler) writeDiskLocked(absPath, content string) error {
	r.writing.Store(true)
	defer r.writing.Store(false)

	return os.WriteFile(absPath, []byte(content), 0o600)
}

func (r *Reconciler) saveAndSchedule() error {
	if err := r.stash.FlushSave(); err != nil {
		r.logger.Warn("save failed", slog.Any("err", err))
	}

	r.stash.ScheduleSync()

	return nil
}

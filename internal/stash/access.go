package stash

import (
	"log/slog"

	"github.com/rupertsworld/stash/internal/blobstore"
	"github.com/rupertsworld/stash/internal/crdtdoc"
	"github.com/rupertsworld/stash/internal/transport"
)

// The accessors below expose the internals the sync controller (package
// syncctl) needs. syncctl depends on *Stash; Stash depends back on it only
// through the SyncRunner interface (sync.go), so these stay plain getters
// rather than growing into a second mutation surface.

// Structure returns the stash's structure document.
func (s *Stash) Structure() *crdtdoc.StructureDoc {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.structure
}

// FileDocsSnapshot returns a shallow copy of the docId -> FileDoc map.
func (s *Stash) FileDocsSnapshot() map[string]*crdtdoc.FileDoc {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*crdtdoc.FileDoc, len(s.fileDocs))
	for k, v := range s.fileDocs {
		out[k] = v
	}

	return out
}

// Blobs returns the stash's blob store.
func (s *Stash) Blobs() *blobstore.Store { return s.blobs }

// LastPushedSnapshot returns the last snapshot successfully pushed, or
// nil if the stash has never pushed.
func (s *Stash) LastPushedSnapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lastPushedSnapshot
}

// SetLastPushedSnapshot records snap as the new last-pushed snapshot
// (§4.5 step 7 "on success, update lastPushedSnapshot = currentSnapshot").
func (s *Stash) SetLastPushedSnapshot(snap *Snapshot) {
	s.mu.Lock()
	s.lastPushedSnapshot = snap
	s.mu.Unlock()

	s.scheduleBackgroundSave()
}

// ProviderRemote returns the configured transport.Remote (zero value if
// none configured, callers check CanCreate/CanDelete and nil Fetcher/
// Pusher before use).
func (s *Stash) ProviderRemote() transport.Remote {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.provider
}

// ReplaceStructure adopts remote wholesale, discarding the local
// structure document (§4.5 "fresh join: adopt remote structure").
func (s *Stash) ReplaceStructure(remote *crdtdoc.StructureDoc) {
	s.mu.Lock()
	s.structure = remote
	s.mu.Unlock()

	s.scheduleBackgroundSave()
}

// ReplaceFileDocs discards the in-memory file-doc map and installs docs
// wholesale (§4.5 "fresh join: replace file-doc map with remote docs").
func (s *Stash) ReplaceFileDocs(docs map[string]*crdtdoc.FileDoc) {
	s.mu.Lock()
	s.fileDocs = docs
	s.mu.Unlock()

	s.scheduleBackgroundSave()
}

// MarkAllActiveKnown adds every currently-active path to known-paths
// (§4.5 "mark every active path as known").
func (s *Stash) MarkAllActiveKnown() error {
	paths, err := s.ListActiveFiles()
	if err != nil {
		return err
	}

	s.mu.Lock()
	for _, p := range paths {
		s.knownPaths[p] = struct{}{}
	}
	s.mu.Unlock()

	s.scheduleBackgroundSave()

	return nil
}

// ProviderState returns the opaque provider-persisted sync state blob.
func (s *Stash) ProviderState() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.providerState
}

// SetProviderState records provider-opaque sync state, persisted
// alongside the sync snapshot.
func (s *Stash) SetProviderState(state map[string]any) {
	s.mu.Lock()
	s.providerState = state
	s.mu.Unlock()

	s.scheduleBackgroundSave()
}

// Meta returns a copy of the stash's metadata record.
func (s *Stash) Meta() Meta {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.meta
}

// Logger returns the stash's logger, for use by collaborating packages
// that want consistent attribution (e.g. the reconciler, sync controller).
func (s *Stash) Logger() *slog.Logger {
	return s.logger
}

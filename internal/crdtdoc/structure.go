package crdtdoc

import (
	"fmt"
	"sort"

	"github.com/rupertsworld/stash/internal/stasherr"
)

// structure document field names (data-model.md §3 "Structure document").
const (
	fieldDocID   = "docId"
	fieldCreated = "created"
	fieldDeleted = "deleted"
)

// Entry is one structure-document record: a path's file-doc identity and
// tombstone state.
type Entry struct {
	Path    string
	DocID   string
	Created int64 // ms epoch
	Deleted bool
}

// StructureDoc is the CRDT mapping from path to {docId, created, deleted?}
// (C1). Add, move, remove, and the listing reads are its only operations;
// concurrent add/remove at the same path resolve via the underlying CRDT's
// last-writer-wins per-field tie-break (§4.1), the sync controller (C5)
// is responsible for correcting spurious tombstones via content-wins.
type StructureDoc struct {
	inner *amDoc
}

// NewStructureDoc creates an empty structure document authored by actorHex.
func NewStructureDoc(actorHex string) (*StructureDoc, error) {
	d, err := newAmDoc(actorHex)
	if err != nil {
		return nil, err
	}

	return &StructureDoc{inner: d}, nil
}

// LoadStructureDoc deserializes a structure document from its saved bytes.
func LoadStructureDoc(data []byte) (*StructureDoc, error) {
	d, err := loadAmDoc(data)
	if err != nil {
		return nil, err
	}

	return &StructureDoc{inner: d}, nil
}

// Save serializes the document for <stash>/.stash/structure.automerge.
func (s *StructureDoc) Save() ([]byte, error) { return s.inner.save() }

// Heads returns the document's current CRDT heads as a sorted slice, stored
// as-is in the sync-snapshot "structure" field (§3).
func (s *StructureDoc) Heads() []string { return s.inner.heads() }

// HeadsFingerprint is the comma-joined form stored in the sync snapshot.
func (s *StructureDoc) HeadsFingerprint() string { return s.inner.headsFingerprint() }

// Merge folds remote's changes into s in place.
func (s *StructureDoc) Merge(remote *StructureDoc) error { return s.inner.merge(remote.inner) }

// Fork returns an independent copy sharing history.
func (s *StructureDoc) Fork() *StructureDoc { return &StructureDoc{inner: s.inner.fork()} }

// Add inserts path with a fresh or caller-supplied docId, clearing any
// tombstone (§4.1 add()). createdMs is the creation timestamp in ms epoch.
func (s *StructureDoc) Add(path string, docID string, createdMs int64) (string, error) {
	if docID == "" {
		docID = NewDocID()
	}

	m, err := ensureNestedMap(s.inner.rootMap(), path)
	if err != nil {
		return "", fmt.Errorf("crdtdoc: add %q: %w", path, err)
	}

	if setErr := m.Set(fieldDocID, docID); setErr != nil {
		return "", fmt.Errorf("crdtdoc: add %q: setting docId: %w", path, setErr)
	}

	if setErr := m.Set(fieldCreated, createdMs); setErr != nil {
		return "", fmt.Errorf("crdtdoc: add %q: setting created: %w", path, setErr)
	}

	if setErr := m.Set(fieldDeleted, false); setErr != nil {
		return "", fmt.Errorf("crdtdoc: add %q: clearing deleted: %w", path, setErr)
	}

	s.inner.commit("add " + path)

	return docID, nil
}

// Remove tombstones path, preserving docId/created (§4.1 remove()).
// Returns stasherr.NotFound if path has no entry.
func (s *StructureDoc) Remove(path string) error {
	entry, ok, err := s.Entry(path)
	if err != nil {
		return err
	}

	if !ok {
		return stasherr.NewNotFound("crdtdoc: remove "+path, nil)
	}

	m, err := ensureNestedMap(s.inner.rootMap(), path)
	if err != nil {
		return fmt.Errorf("crdtdoc: remove %q: %w", path, err)
	}

	if setErr := m.Set(fieldDeleted, true); setErr != nil {
		return fmt.Errorf("crdtdoc: remove %q: %w", path, setErr)
	}

	_ = entry // docId/created untouched, only deleted flips

	s.inner.commit("remove " + path)

	return nil
}

// Move relocates the entry at from to to, preserving docId and created.
// The key at from is physically removed rather than tombstoned: move is
// local-only at this layer (§4.1 move()). Returns stasherr.NotFound if
// from is absent.
func (s *StructureDoc) Move(from, to string) error {
	entry, ok, err := s.Entry(from)
	if err != nil {
		return err
	}

	if !ok {
		return stasherr.NewNotFound("crdtdoc: move "+from, nil)
	}

	m, mErr := ensureNestedMap(s.inner.rootMap(), to)
	if mErr != nil {
		return fmt.Errorf("crdtdoc: move %q -> %q: %w", from, to, mErr)
	}

	if err := m.Set(fieldDocID, entry.DocID); err != nil {
		return fmt.Errorf("crdtdoc: move %q -> %q: %w", from, to, err)
	}

	if err := m.Set(fieldCreated, entry.Created); err != nil {
		return fmt.Errorf("crdtdoc: move %q -> %q: %w", from, to, err)
	}

	if err := m.Set(fieldDeleted, false); err != nil {
		return fmt.Errorf("crdtdoc: move %q -> %q: %w", from, to, err)
	}

	if err := s.inner.rootMap().Delete(from); err != nil {
		return fmt.Errorf("crdtdoc: move %q -> %q: deleting source key: %w", from, to, err)
	}

	s.inner.commit("move " + from + " -> " + to)

	return nil
}

// IsDeleted reports whether path is tombstoned. Returns stasherr.NotFound
// if path has no entry at all.
func (s *StructureDoc) IsDeleted(path string) (bool, error) {
	e, ok, err := s.Entry(path)
	if err != nil {
		return false, err
	}

	if !ok {
		return false, stasherr.NewNotFound("crdtdoc: isDeleted "+path, nil)
	}

	return e.Deleted, nil
}

// Entry returns the structure entry for path, or ok=false if absent.
func (s *StructureDoc) Entry(path string) (Entry, bool, error) {
	v, err := s.inner.rootMap().Get(path)
	if err != nil {
		return Entry{}, false, fmt.Errorf("crdtdoc: reading %q: %w", path, err)
	}

	if v == nil {
		return Entry{}, false, nil
	}

	m := v.Map()
	if m == nil {
		return Entry{}, false, nil
	}

	docID, ok, err := mapGetString(m, fieldDocID)
	if err != nil {
		return Entry{}, false, fmt.Errorf("crdtdoc: entry %q: %w", path, err)
	}

	if !ok {
		return Entry{}, false, nil
	}

	created, _, err := mapGetInt64(m, fieldCreated)
	if err != nil {
		return Entry{}, false, fmt.Errorf("crdtdoc: entry %q: %w", path, err)
	}

	deleted, _, err := mapGetBool(m, fieldDeleted)
	if err != nil {
		return Entry{}, false, fmt.Errorf("crdtdoc: entry %q: %w", path, err)
	}

	return Entry{Path: path, DocID: docID, Created: created, Deleted: deleted}, true, nil
}

// ListActive returns all non-tombstoned paths' entries, sorted by path.
func (s *StructureDoc) ListActive() ([]Entry, error) {
	return s.list(func(e Entry) bool { return !e.Deleted })
}

// ListDeleted returns all tombstoned entries, sorted by path.
func (s *StructureDoc) ListDeleted() ([]Entry, error) {
	return s.list(func(e Entry) bool { return e.Deleted })
}

// ListAllIncludingDeleted returns every entry, sorted by path.
func (s *StructureDoc) ListAllIncludingDeleted() ([]Entry, error) {
	return s.list(func(Entry) bool { return true })
}

func (s *StructureDoc) list(keep func(Entry) bool) ([]Entry, error) {
	keys, err := mapKeys(s.inner.rootMap())
	if err != nil {
		return nil, fmt.Errorf("crdtdoc: listing structure: %w", err)
	}

	out := make([]Entry, 0, len(keys))

	for _, k := range keys {
		e, ok, err := s.Entry(k)
		if err != nil {
			return nil, err
		}

		if ok && keep(e) {
			out = append(out, e)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })

	return out, nil
}

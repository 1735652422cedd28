package stash

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/rupertsworld/stash/internal/crdtdoc"
	"github.com/rupertsworld/stash/internal/stasherr"
)

// Read returns path's current text content. Fails with stasherr.NotFound
// if path is absent or tombstoned (§4.3 "Reads on tombstoned paths fail
// with NotFound"), or stasherr.Validation if the doc is binary.
func (s *Stash) Read(p string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, doc, err := s.activeEntryAndDoc(p)
	if err != nil {
		return "", err
	}

	_ = entry

	return doc.GetContent()
}

// ReadBinary returns the hash and size of path's binary content. Fails
// with stasherr.NotFound if absent/tombstoned, stasherr.Validation if
// the doc is text.
func (s *Stash) ReadBinary(p string) (hash string, size int64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, doc, err := s.activeEntryAndDoc(p)
	if err != nil {
		return "", 0, err
	}

	hash, err = doc.Hash()
	if err != nil {
		return "", 0, err
	}

	size, err = doc.Size()
	if err != nil {
		return "", 0, err
	}

	return hash, size, nil
}

// activeEntryAndDoc resolves p to its structure entry and file doc,
// rejecting tombstoned or dangling-reference entries. Caller must hold
// s.mu (read or write).
func (s *Stash) activeEntryAndDoc(p string) (crdtdoc.Entry, *crdtdoc.FileDoc, error) {
	entry, ok, err := s.structure.Entry(p)
	if err != nil {
		return crdtdoc.Entry{}, nil, fmt.Errorf("stash: reading %q: %w", p, err)
	}

	if !ok || entry.Deleted {
		return crdtdoc.Entry{}, nil, stasherr.NewNotFound("stash: read "+p, nil)
	}

	doc, ok := s.fileDocs[entry.DocID]
	if !ok {
		return crdtdoc.Entry{}, nil, stasherr.NewCorruptState("stash: read "+p+": dangling file-doc reference", nil)
	}

	return entry, doc, nil
}

// IsDeleted reports whether path is currently tombstoned.
func (s *Stash) IsDeleted(p string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.structure.IsDeleted(p)
}

// GetDocID returns the docId tracked at path, including tombstoned paths.
func (s *Stash) GetDocID(p string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok, err := s.structure.Entry(p)
	if err != nil || !ok {
		return "", ok, err
	}

	return entry.DocID, true, nil
}

// GetFileDoc returns the in-memory file doc for docID, or ok=false if not
// loaded (a dangling reference, repaired at the next sync).
func (s *Stash) GetFileDoc(docID string) (*crdtdoc.FileDoc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.fileDocs[docID]
	return doc, ok
}

// ListActiveFiles returns the sorted paths of all non-tombstoned entries.
func (s *Stash) ListActiveFiles() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := s.structure.ListActive()
	if err != nil {
		return nil, err
	}

	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}

	return out, nil
}

// List returns the active entries directly beneath dir (non-recursive).
// dir="" lists the stash root.
func (s *Stash) List(dir string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := s.structure.ListActive()
	if err != nil {
		return nil, err
	}

	prefix := ""
	if dir != "" {
		prefix = strings.TrimSuffix(dir, "/") + "/"
	}

	seen := make(map[string]struct{})

	var out []string

	for _, e := range entries {
		if !strings.HasPrefix(e.Path, prefix) {
			continue
		}

		rest := strings.TrimPrefix(e.Path, prefix)
		if rest == "" {
			continue
		}

		head := rest
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			head = rest[:idx]
		}

		name := prefix + head
		if _, ok := seen[name]; ok {
			continue
		}

		seen[name] = struct{}{}
		out = append(out, name)
	}

	sort.Strings(out)

	return out, nil
}

// Glob returns the sorted active paths matching a shell glob pattern
// (path.Match semantics, applied against the full forward-slash path).
func (s *Stash) Glob(pattern string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := s.structure.ListActive()
	if err != nil {
		return nil, err
	}

	var out []string

	for _, e := range entries {
		matched, err := path.Match(pattern, e.Path)
		if err != nil {
			return nil, stasherr.NewValidation("stash: glob: bad pattern "+pattern, err)
		}

		if matched {
			out = append(out, e.Path)
		}
	}

	sort.Strings(out)

	return out, nil
}

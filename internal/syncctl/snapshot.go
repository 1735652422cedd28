package syncctl

import (
	"fmt"
	"sort"

	"github.com/rupertsworld/stash/internal/stash"
)

// computeSnapshot builds the current in-memory fingerprint triple (§3
// "Sync snapshot"): structure heads, per-doc heads, per-path content
// fingerprint (text: CRDT heads joined; binary: content hash).
func computeSnapshot(s *stash.Stash) (stash.Snapshot, error) {
	structureHeads := s.Structure().Heads()

	docs := s.FileDocsSnapshot()
	docHeads := make(map[string]string, len(docs))

	for docID, doc := range docs {
		docHeads[docID] = doc.HeadsFingerprint()
	}

	entries, err := s.Structure().ListActive()
	if err != nil {
		return stash.Snapshot{}, fmt.Errorf("syncctl: computing snapshot: %w", err)
	}

	files := make(map[string]string, len(entries))

	for _, e := range entries {
		doc, ok := docs[e.DocID]
		if !ok {
			continue // dangling ref, repaired before this point in the algorithm
		}

		fp, err := doc.Fingerprint()
		if err != nil {
			return stash.Snapshot{}, fmt.Errorf("syncctl: fingerprinting %q: %w", e.Path, err)
		}

		files[e.Path] = fp
	}

	return stash.Snapshot{Structure: structureHeads, Docs: docHeads, Files: files}, nil
}

func snapshotsEqual(a, b *stash.Snapshot) bool {
	if a == nil || b == nil {
		return a == b
	}

	return joinHeads(a.Structure) == joinHeads(b.Structure) &&
		mapsEqual(a.Docs, b.Docs) &&
		mapsEqual(a.Files, b.Files)
}

func joinHeads(heads []string) string {
	cp := append([]string(nil), heads...)
	sort.Strings(cp)

	out := ""
	for _, h := range cp {
		out += h + ","
	}

	return out
}

func mapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}

	for k, v := range a {
		if b[k] != v {
			return false
		}
	}

	return true
}

// changedPaths diffs current against last, returning the set of logical
// paths (plus the virtual .stash/... paths) whose fingerprint changed
// (§4.5 step 7).
func changedPaths(current, last *stash.Snapshot) []string {
	var out []string

	if last == nil || joinHeads(current.Structure) != joinHeads(last.Structure) {
		out = append(out, ".stash/structure.automerge")
	}

	lastDocs := map[string]string{}
	if last != nil {
		lastDocs = last.Docs
	}

	for docID, heads := range current.Docs {
		if lastDocs[docID] != heads {
			out = append(out, ".stash/docs/"+docID+".automerge")
		}
	}

	lastFiles := map[string]string{}
	if last != nil {
		lastFiles = last.Files
	}

	for path, fp := range current.Files {
		if lastFiles[path] != fp {
			out = append(out, path)
		}
	}

	sort.Strings(out)

	return out
}

// tombstonedPaths returns every tombstoned path in the structure doc
// (§4.5 step 7 "pathsToDelete: all tombstoned paths").
func tombstonedPaths(s *stash.Stash) ([]string, error) {
	entries, err := s.Structure().ListDeleted()
	if err != nil {
		return nil, err
	}

	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}

	return out, nil
}

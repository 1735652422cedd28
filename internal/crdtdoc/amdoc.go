// Package crdtdoc wraps github.com/automerge/automerge-go behind the two
// narrow document types the reconciliation engine needs: StructureDoc (C1)
// and FileDoc (C2). All direct automerge-go calls are confined to this file
// (amDoc) so that the rest of the engine programs against plain Go types:
// "accept interfaces, return structs" applied to a CRDT dependency.
package crdtdoc

import (
	"fmt"
	"sort"
	"strings"

	"github.com/automerge/automerge-go"

	"github.com/rupertsworld/stash/internal/stasherr"
)

// amDoc wraps a single *automerge.Doc and the path-based map/text helpers
// StructureDoc and FileDoc are built from.
type amDoc struct {
	doc *automerge.Doc
}

// newAmDoc creates an empty document authored by actorHex (64 hex chars).
func newAmDoc(actorHex string) (*amDoc, error) {
	actor, err := automerge.NewActorID(actorHex)
	if err != nil {
		return nil, fmt.Errorf("crdtdoc: invalid actor id %q: %w", actorHex, err)
	}

	return &amDoc{doc: automerge.NewWithActor(actor)}, nil
}

// loadAmDoc deserializes a document saved by Save().
func loadAmDoc(data []byte) (*amDoc, error) {
	doc, err := automerge.Load(data)
	if err != nil {
		return nil, fmt.Errorf("crdtdoc: loading document: %w", err)
	}

	return &amDoc{doc: doc}, nil
}

// save serializes the document's full history to a compact binary form
// suitable for writing to <path>.automerge (§6).
func (d *amDoc) save() ([]byte, error) {
	data, err := d.doc.Save()
	if err != nil {
		return nil, fmt.Errorf("crdtdoc: saving document: %w", err)
	}

	return data, nil
}

// commit finalizes pending local changes under a single change hash. Every
// mutating helper below calls this; automerge-go batches same-actor writes
// that occur without an intervening commit, but committing per logical
// operation keeps Heads() meaningful for the sync snapshot (§3 "Sync
// snapshot").
func (d *amDoc) commit(message string) {
	d.doc.Commit(message)
}

// merge folds other's changes into d in place (CRDT merge, §4.5).
func (d *amDoc) merge(other *amDoc) error {
	if err := d.doc.Merge(other.doc); err != nil {
		return fmt.Errorf("crdtdoc: merging document: %w", err)
	}

	return nil
}

// heads returns the document's current change-hash frontier as a
// deterministically ordered slice of hex strings (comma-joined in the
// sync snapshot per §3).
func (d *amDoc) heads() []string {
	raw := d.doc.Heads()
	out := make([]string, 0, len(raw))

	for _, h := range raw {
		out = append(out, h.String())
	}

	sort.Strings(out)

	return out
}

func (d *amDoc) headsFingerprint() string {
	return strings.Join(d.heads(), ",")
}

// fork returns an independent copy sharing history.
func (d *amDoc) fork() *amDoc {
	return &amDoc{doc: d.doc.Fork()}
}

// --- map helpers -----------------------------------------------------------

// rootMap returns the document's root map.
func (d *amDoc) rootMap() *automerge.Map {
	return d.doc.RootMap()
}

// ensureNestedMap returns the map value at key within parent, creating an
// empty nested map if the key is absent or not already a map.
func ensureNestedMap(parent *automerge.Map, key string) (*automerge.Map, error) {
	v, err := parent.Get(key)
	if err == nil && v != nil {
		if m := v.Map(); m != nil {
			return m, nil
		}
	}

	if err := parent.Set(key, automerge.NewMap()); err != nil {
		return nil, fmt.Errorf("crdtdoc: creating nested map %q: %w", key, err)
	}

	v, err = parent.Get(key)
	if err != nil {
		return nil, fmt.Errorf("crdtdoc: reading back nested map %q: %w", key, err)
	}

	return v.Map(), nil
}

// mapGetString reads a string field, returning ("", false, nil) if absent.
func mapGetString(m *automerge.Map, key string) (string, bool, error) {
	v, err := m.Get(key)
	if err != nil || v == nil {
		return "", false, nil //nolint:nilerr // absent key is not an error
	}

	s, err := v.Str()
	if err != nil {
		return "", false, fmt.Errorf("crdtdoc: field %q is not a string: %w", key, err)
	}

	return s, true, nil
}

// mapGetInt64 reads an int64 field, returning (0, false, nil) if absent.
func mapGetInt64(m *automerge.Map, key string) (int64, bool, error) {
	v, err := m.Get(key)
	if err != nil || v == nil {
		return 0, false, nil //nolint:nilerr
	}

	n, err := v.Int64()
	if err != nil {
		return 0, false, fmt.Errorf("crdtdoc: field %q is not an int64: %w", key, err)
	}

	return n, true, nil
}

// mapGetBool reads a bool field, returning (false, false, nil) if absent.
func mapGetBool(m *automerge.Map, key string) (bool, bool, error) {
	v, err := m.Get(key)
	if err != nil || v == nil {
		return false, false, nil //nolint:nilerr
	}

	b, err := v.Bool()
	if err != nil {
		return false, false, fmt.Errorf("crdtdoc: field %q is not a bool: %w", key, err)
	}

	return b, true, nil
}

// mapKeys lists the keys of m in the map's native (insertion-independent)
// iteration order.
func mapKeys(m *automerge.Map) ([]string, error) {
	keys, err := m.Keys()
	if err != nil {
		return nil, fmt.Errorf("crdtdoc: listing map keys: %w", err)
	}

	return keys, nil
}

// --- text helpers ------------------------------------------------------

// ensureText returns the Text object at key within parent, creating one
// with the given initial content if absent.
func ensureText(parent *automerge.Map, key, initial string) (*automerge.Text, error) {
	v, err := parent.Get(key)
	if err == nil && v != nil {
		if t := v.Text(); t != nil {
			return t, nil
		}
	}

	if err := parent.Set(key, automerge.NewText(initial)); err != nil {
		return nil, fmt.Errorf("crdtdoc: creating text field %q: %w", key, err)
	}

	v, err = parent.Get(key)
	if err != nil {
		return nil, fmt.Errorf("crdtdoc: reading back text field %q: %w", key, err)
	}

	return v.Text(), nil
}

// textGet returns a text object's current string content.
func textGet(t *automerge.Text) (string, error) {
	s, err := t.Get()
	if err != nil {
		return "", fmt.Errorf("crdtdoc: reading text content: %w", err)
	}

	return s, nil
}

// textSplice deletes deleteCount elements at pos and inserts insert there.
// Every caller in this codebase (textSetAll, FileDoc.ApplyPatch, and the
// reconciler's diff) counts pos and deleteCount in runes (Unicode code
// points) (§4.2, §9 open question "text indices").
func textSplice(t *automerge.Text, pos, deleteCount int, insert string) error {
	if err := t.Splice(pos, deleteCount, insert); err != nil {
		return fmt.Errorf("crdtdoc: splicing text: %w", err)
	}

	return nil
}

// textSetAll replaces a text object's entire content by diffing against the
// current value and issuing a single splice, used by setContent (§4.2).
func textSetAll(t *automerge.Text, content string) error {
	current, err := textGet(t)
	if err != nil {
		return err
	}

	if current == content {
		return nil
	}

	return textSplice(t, 0, len([]rune(current)), content)
}

var errFieldMissing = stasherr.NewCorruptState("crdtdoc", fmt.Errorf("required field missing"))

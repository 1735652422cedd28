package crdtdoc

import (
	"fmt"

	"github.com/automerge/automerge-go"

	"github.com/rupertsworld/stash/internal/stasherr"
)

// file document field names (data-model.md §3 "File document", §4.2).
const (
	fieldVariant  = "variant"
	fieldText     = "text"
	fieldHash     = "hash"
	fieldByteSize = "size"
)

const (
	variantText   = "text"
	variantBinary = "binary"
)

// FileDoc is the per-path tagged-variant CRDT (C2): either a character-level
// sequence CRDT (text) or an immutable {hash, size} metadata record
// (binary, §4.2). The blob bytes for a binary doc live outside this
// document, in the content-addressed blob store (C3).
type FileDoc struct {
	inner *amDoc
}

// CreateText creates a new text-variant file document seeded with content.
func CreateText(actorHex, content string) (*FileDoc, error) {
	d, err := newAmDoc(actorHex)
	if err != nil {
		return nil, err
	}

	root := d.rootMap()

	if err := root.Set(fieldVariant, variantText); err != nil {
		return nil, fmt.Errorf("crdtdoc: createText: %w", err)
	}

	if err := root.Set(fieldText, automerge.NewText(content)); err != nil {
		return nil, fmt.Errorf("crdtdoc: createText: %w", err)
	}

	d.commit("create text")

	return &FileDoc{inner: d}, nil
}

// CreateBinary creates a new binary-variant file document referencing a
// content-addressed blob by hash (64-hex SHA-256) and its byte size.
func CreateBinary(actorHex, hash string, size int64) (*FileDoc, error) {
	d, err := newAmDoc(actorHex)
	if err != nil {
		return nil, err
	}

	root := d.rootMap()

	if err := root.Set(fieldVariant, variantBinary); err != nil {
		return nil, fmt.Errorf("crdtdoc: createBinary: %w", err)
	}

	if err := root.Set(fieldHash, hash); err != nil {
		return nil, fmt.Errorf("crdtdoc: createBinary: %w", err)
	}

	if err := root.Set(fieldByteSize, size); err != nil {
		return nil, fmt.Errorf("crdtdoc: createBinary: %w", err)
	}

	d.commit("create binary")

	return &FileDoc{inner: d}, nil
}

// LoadFileDoc deserializes a file document from its saved bytes.
func LoadFileDoc(data []byte) (*FileDoc, error) {
	d, err := loadAmDoc(data)
	if err != nil {
		return nil, err
	}

	return &FileDoc{inner: d}, nil
}

// Save serializes the document for <stash>/.stash/docs/<docId>.automerge.
func (f *FileDoc) Save() ([]byte, error) { return f.inner.save() }

// Heads returns the document's current CRDT heads.
func (f *FileDoc) Heads() []string { return f.inner.heads() }

// HeadsFingerprint is the text-variant fingerprint used in the sync
// snapshot ("heads.join(',')", §3 "Sync snapshot").
func (f *FileDoc) HeadsFingerprint() string { return f.inner.headsFingerprint() }

// Merge folds remote's changes into f in place.
func (f *FileDoc) Merge(remote *FileDoc) error { return f.inner.merge(remote.inner) }

// Fork returns an independent copy sharing history.
func (f *FileDoc) Fork() *FileDoc { return &FileDoc{inner: f.inner.fork()} }

func (f *FileDoc) variant() (string, error) {
	v, ok, err := mapGetString(f.inner.rootMap(), fieldVariant)
	if err != nil {
		return "", fmt.Errorf("crdtdoc: reading variant: %w", err)
	}

	if !ok {
		return "", stasherr.NewCorruptState("crdtdoc: file doc missing variant", nil)
	}

	return v, nil
}

// IsText reports whether the document is the text variant.
func (f *FileDoc) IsText() (bool, error) {
	v, err := f.variant()
	if err != nil {
		return false, err
	}

	return v == variantText, nil
}

// IsBinary reports whether the document is the binary variant.
func (f *FileDoc) IsBinary() (bool, error) {
	v, err := f.variant()
	if err != nil {
		return false, err
	}

	return v == variantBinary, nil
}

func (f *FileDoc) requireText(op string) (*automerge.Text, error) {
	v, err := f.variant()
	if err != nil {
		return nil, err
	}

	if v != variantText {
		return nil, stasherr.NewValidation(fmt.Sprintf("crdtdoc: %s: not a text document (variant %q)", op, v), nil)
	}

	val, err := f.inner.rootMap().Get(fieldText)
	if err != nil || val == nil {
		return nil, stasherr.NewCorruptState("crdtdoc: "+op+": missing text field", err)
	}

	t := val.Text()
	if t == nil {
		return nil, stasherr.NewCorruptState("crdtdoc: "+op+": text field is not a Text object", nil)
	}

	return t, nil
}

// GetContent returns the current text content. Fails with
// stasherr.Validation if the document's variant is not text (§4.2
// "getContent(doc) fails if variant != text").
func (f *FileDoc) GetContent() (string, error) {
	t, err := f.requireText("getContent")
	if err != nil {
		return "", err
	}

	return textGet(t)
}

// SetContent replaces the entire text content (§4.2 setContent).
func (f *FileDoc) SetContent(content string) error {
	t, err := f.requireText("setContent")
	if err != nil {
		return err
	}

	if err := textSetAll(t, content); err != nil {
		return fmt.Errorf("crdtdoc: setContent: %w", err)
	}

	f.inner.commit("setContent")

	return nil
}

// ApplyPatch deletes end-start elements at start, then inserts text's
// elements (§4.2 applyPatch). Out-of-range indices fail.
func (f *FileDoc) ApplyPatch(start, end int, text string) error {
	if start < 0 || end < start {
		return stasherr.NewValidation(fmt.Sprintf("crdtdoc: applyPatch: invalid range [%d,%d)", start, end), nil)
	}

	t, err := f.requireText("applyPatch")
	if err != nil {
		return err
	}

	current, err := textGet(t)
	if err != nil {
		return err
	}

	if end > len([]rune(current)) {
		return stasherr.NewValidation(fmt.Sprintf("crdtdoc: applyPatch: range [%d,%d) exceeds length %d", start, end, len([]rune(current))), nil)
	}

	if err := textSplice(t, start, end-start, text); err != nil {
		return fmt.Errorf("crdtdoc: applyPatch: %w", err)
	}

	f.inner.commit("patch")

	return nil
}

// Hash returns the binary variant's content hash (64-hex SHA-256). Fails
// if the document is not the binary variant.
func (f *FileDoc) Hash() (string, error) {
	v, err := f.variant()
	if err != nil {
		return "", err
	}

	if v != variantBinary {
		return "", stasherr.NewValidation(fmt.Sprintf("crdtdoc: hash: not a binary document (variant %q)", v), nil)
	}

	h, ok, err := mapGetString(f.inner.rootMap(), fieldHash)
	if err != nil {
		return "", fmt.Errorf("crdtdoc: reading hash: %w", err)
	}

	if !ok {
		return "", stasherr.NewCorruptState("crdtdoc: binary doc missing hash", nil)
	}

	return h, nil
}

// Size returns the binary variant's byte size. Fails if the document is
// not the binary variant.
func (f *FileDoc) Size() (int64, error) {
	v, err := f.variant()
	if err != nil {
		return 0, err
	}

	if v != variantBinary {
		return 0, stasherr.NewValidation(fmt.Sprintf("crdtdoc: size: not a binary document (variant %q)", v), nil)
	}

	n, ok, err := mapGetInt64(f.inner.rootMap(), fieldByteSize)
	if err != nil {
		return 0, fmt.Errorf("crdtdoc: reading size: %w", err)
	}

	if !ok {
		return 0, stasherr.NewCorruptState("crdtdoc: binary doc missing size", nil)
	}

	return n, nil
}

// Fingerprint returns the sync-snapshot fingerprint for this doc: for text,
// the comma-joined CRDT heads; for binary, the content hash (§3 "files").
func (f *FileDoc) Fingerprint() (string, error) {
	isText, err := f.IsText()
	if err != nil {
		return "", err
	}

	if isText {
		return f.HeadsFingerprint(), nil
	}

	return f.Hash()
}

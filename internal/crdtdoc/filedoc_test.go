package crdtdoc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileDocTextSetAndGetContent(t *testing.T) {
	doc, err := CreateText(testActor, "hello")
	require.NoError(t, err)

	isText, err := doc.IsText()
	require.NoError(t, err)
	assert.True(t, isText)

	content, err := doc.GetContent()
	require.NoError(t, err)
	assert.Equal(t, "hello", content)

	require.NoError(t, doc.SetContent("goodbye"))

	content, err = doc.GetContent()
	require.NoError(t, err)
	assert.Equal(t, "goodbye", content)
}

func TestFileDocApplyPatch(t *testing.T) {
	doc, err := CreateText(testActor, "hello world")
	require.NoError(t, err)

	require.NoError(t, doc.ApplyPatch(6, 11, "there"))

	content, err := doc.GetContent()
	require.NoError(t, err)
	assert.Equal(t, "hello there", content)
}

func TestFileDocApplyPatchRejectsOutOfRange(t *testing.T) {
	doc, err := CreateText(testActor, "hi")
	require.NoError(t, err)

	err = doc.ApplyPatch(0, 10, "x")
	assert.Error(t, err)
}

func TestFileDocBinaryHashAndSize(t *testing.T) {
	doc, err := CreateBinary(testActor, "deadbeef", 4)
	require.NoError(t, err)

	isBinary, err := doc.IsBinary()
	require.NoError(t, err)
	assert.True(t, isBinary)

	hash, err := doc.Hash()
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", hash)

	size, err := doc.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(4), size)

	_, err = doc.GetContent()
	assert.Error(t, err, "getContent must fail on a binary doc")
}

func TestFileDocFingerprintDiffersByVariant(t *testing.T) {
	text, err := CreateText(testActor, "a")
	require.NoError(t, err)

	fp, err := text.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, text.HeadsFingerprint(), fp)

	binary, err := CreateBinary(testActor, "abc123", 3)
	require.NoError(t, err)

	fp, err = binary.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, "abc123", fp)
}

func TestFileDocSaveLoadRoundTrip(t *testing.T) {
	doc, err := CreateText(testActor, "persisted")
	require.NoError(t, err)

	data, err := doc.Save()
	require.NoError(t, err)

	loaded, err := LoadFileDoc(data)
	require.NoError(t, err)

	content, err := loaded.GetContent()
	require.NoError(t, err)
	assert.Equal(t, "persisted", content)
}

func TestFileDocMergeConcurrentEdits(t *testing.T) {
	base, err := CreateText(testActor, "base")
	require.NoError(t, err)

	data, err := base.Save()
	require.NoError(t, err)

	other, err := LoadFileDoc(data)
	require.NoError(t, err)

	require.NoError(t, base.SetContent("base-local"))
	require.NoError(t, other.SetContent("base-remote"))

	require.NoError(t, base.Merge(other))

	content, err := base.GetContent()
	require.NoError(t, err)
	assert.NotEmpty(t, content, "merge converges to some deterministic value")
}

package crdtdoc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testActor = "0000000000000000000000000000000000000000000000000000000000000001"

func TestStructureDocAddListRemove(t *testing.T) {
	doc, err := NewStructureDoc(testActor)
	require.NoError(t, err)

	docID, err := doc.Add("notes.txt", "", 1000)
	require.NoError(t, err)
	assert.NotEmpty(t, docID)

	entry, ok, err := doc.Entry("notes.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, docID, entry.DocID)
	assert.False(t, entry.Deleted)

	active, err := doc.ListActive()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "notes.txt", active[0].Path)

	require.NoError(t, doc.Remove("notes.txt"))

	deleted, err := doc.IsDeleted("notes.txt")
	require.NoError(t, err)
	assert.True(t, deleted)

	active, err = doc.ListActive()
	require.NoError(t, err)
	assert.Empty(t, active)

	entry, ok, err = doc.Entry("notes.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, docID, entry.DocID, "docId survives tombstoning")
}

func TestStructureDocAddAfterRemoveGetsFreshDocID(t *testing.T) {
	doc, err := NewStructureDoc(testActor)
	require.NoError(t, err)

	first, err := doc.Add("a.txt", "", 1000)
	require.NoError(t, err)
	require.NoError(t, doc.Remove("a.txt"))

	second, err := doc.Add("a.txt", "", 2000)
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "resurrection must mint a new docId")

	entry, ok, err := doc.Entry("a.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, entry.Deleted)
}

func TestStructureDocMovePreservesDocIDAndCreated(t *testing.T) {
	doc, err := NewStructureDoc(testActor)
	require.NoError(t, err)

	docID, err := doc.Add("old/path.txt", "", 1234)
	require.NoError(t, err)

	require.NoError(t, doc.Move("old/path.txt", "new/path.txt"))

	_, ok, err := doc.Entry("old/path.txt")
	require.NoError(t, err)
	assert.False(t, ok, "source key is physically removed, not tombstoned")

	entry, ok, err := doc.Entry("new/path.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, docID, entry.DocID)
	assert.Equal(t, int64(1234), entry.Created)
}

func TestStructureDocSaveLoadRoundTrip(t *testing.T) {
	doc, err := NewStructureDoc(testActor)
	require.NoError(t, err)

	_, err = doc.Add("a.txt", "", 1)
	require.NoError(t, err)

	data, err := doc.Save()
	require.NoError(t, err)

	loaded, err := LoadStructureDoc(data)
	require.NoError(t, err)

	active, err := loaded.ListActive()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "a.txt", active[0].Path)
}

func TestStructureDocMergeUnionsEntries(t *testing.T) {
	a, err := NewStructureDoc(testActor)
	require.NoError(t, err)

	b, err := NewStructureDoc("0000000000000000000000000000000000000000000000000000000000000002")
	require.NoError(t, err)

	_, err = a.Add("from-a.txt", "", 1)
	require.NoError(t, err)

	_, err = b.Add("from-b.txt", "", 2)
	require.NoError(t, err)

	require.NoError(t, a.Merge(b))

	all, err := a.ListActive()
	require.NoError(t, err)
	require.Len(t, all, 2)
}

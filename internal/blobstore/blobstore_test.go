package blobstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rupertsworld/stash/internal/stasherr"
)

func TestPutGetRoundTrip(t *testing.T) {
	store := New(t.TempDir())

	hash, err := store.Put([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, Hash([]byte("hello world")), hash)

	data, err := store.Get(hash)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestPutIsIdempotent(t *testing.T) {
	store := New(t.TempDir())

	h1, err := store.Put([]byte("same content"))
	require.NoError(t, err)

	h2, err := store.Put([]byte("same content"))
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	store := New(t.TempDir())

	_, err := store.Get("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd")

	var se *stasherr.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, stasherr.KindNotFound, se.Kind)
}

func TestHasReflectsPresence(t *testing.T) {
	store := New(t.TempDir())

	hash, err := store.Put([]byte("data"))
	require.NoError(t, err)

	assert.True(t, store.Has(hash))
	assert.False(t, store.Has("deadbeef"))
}

func TestDeleteIsTolerantOfAbsence(t *testing.T) {
	store := New(t.TempDir())

	assert.NoError(t, store.Delete("never-existed"))

	hash, err := store.Put([]byte("bye"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(hash))
	assert.False(t, store.Has(hash))
}

func TestGCRemovesUnreferencedBlobs(t *testing.T) {
	store := New(t.TempDir())

	keep, err := store.Put([]byte("keep me"))
	require.NoError(t, err)

	drop, err := store.Put([]byte("drop me"))
	require.NoError(t, err)

	removed, err := store.GC(map[string]struct{}{keep: {}})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{drop}, removed)
	assert.True(t, store.Has(keep))
	assert.False(t, store.Has(drop))
}

package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFetchBeforeCreateReturnsRemoteMissing(t *testing.T) {
	m := NewMemory()

	_, err := m.Fetch(context.Background())
	assert.True(t, errors.Is(err, ErrRemoteMissing))
}

func TestMemoryPushThenFetchRoundTrips(t *testing.T) {
	m := NewMemory()

	err := m.Push(context.Background(), PushRequest{
		Docs:  map[string][]byte{"structure": []byte("s1")},
		Files: map[string][]byte{"a.txt": []byte("hello")},
	})
	require.NoError(t, err)

	res, err := m.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("s1"), res.Docs["structure"])
}

func TestMemoryUnchangedReflectsPushSincePriorFetch(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Create(context.Background()))

	res, err := m.Fetch(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Unchanged, "no push has landed yet")

	require.NoError(t, m.Push(context.Background(), PushRequest{Docs: map[string][]byte{"structure": []byte("v2")}}))

	res, err = m.Fetch(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Unchanged, "a push landed since the last fetch")

	res, err = m.Fetch(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Unchanged, "the dirty flag clears after being observed once")
}

func TestMemoryPushHonorsChangedPathsSubset(t *testing.T) {
	m := NewMemory()

	err := m.Push(context.Background(), PushRequest{
		Docs:         map[string][]byte{"structure": []byte("s1")},
		Files:        map[string][]byte{"a.txt": []byte("a"), "b.txt": []byte("b")},
		ChangedPaths: []string{"a.txt"},
	})
	require.NoError(t, err)

	res, err := m.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Docs, 1)
	assert.Contains(t, m.files, "a.txt")
	assert.NotContains(t, m.files, "b.txt")
}

func TestMemoryPushDeletesPathsToDelete(t *testing.T) {
	m := NewMemory()

	require.NoError(t, m.Push(context.Background(), PushRequest{
		Docs:  map[string][]byte{"structure": []byte("s1")},
		Files: map[string][]byte{"a.txt": []byte("a")},
	}))

	require.NoError(t, m.Push(context.Background(), PushRequest{
		Docs:          map[string][]byte{"structure": []byte("s2")},
		PathsToDelete: []string{"a.txt"},
	}))

	assert.NotContains(t, m.files, "a.txt")
}

func TestMemoryDeleteClearsEverything(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Push(context.Background(), PushRequest{Docs: map[string][]byte{"structure": []byte("s1")}}))

	require.NoError(t, m.Delete(context.Background()))

	_, err := m.Fetch(context.Background())
	assert.True(t, errors.Is(err, ErrRemoteMissing))
}

func TestRemoteCapabilityChecks(t *testing.T) {
	m := NewMemory()
	r := m.AsRemote()

	assert.True(t, r.CanCreate())
	assert.True(t, r.CanDelete())

	bare := Remote{Fetcher: m, Pusher: m}
	assert.False(t, bare.CanCreate())
	assert.False(t, bare.CanDelete())
}

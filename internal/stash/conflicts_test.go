package stash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordConflictAppendsEvent(t *testing.T) {
	s := newTestStash(t)

	s.RecordConflict("notes/a.txt")

	log := s.ConflictLog()
	require.Len(t, log, 1)
	assert.Equal(t, "notes/a.txt", log[0].Path)
	assert.NotEmpty(t, log[0].ID)
	assert.NotZero(t, log[0].ClearedAt)
}

func TestRecordConflictCapsAtMaxConflictLog(t *testing.T) {
	s := newTestStash(t)

	for i := 0; i < maxConflictLog+10; i++ {
		s.RecordConflict("a.txt")
	}

	assert.Len(t, s.ConflictLog(), maxConflictLog)
}

func TestConflictLogRoundTripsThroughSaveAndLoad(t *testing.T) {
	dir := t.TempDir()

	s, err := Create("teststash", dir, testActor, "", "", testLogger(t))
	require.NoError(t, err)

	s.RecordConflict("notes/a.txt")
	require.NoError(t, s.Save())

	loaded, err := Load("teststash", dir, testActor, testLogger(t))
	require.NoError(t, err)

	log := loaded.ConflictLog()
	require.Len(t, log, 1)
	assert.Equal(t, "notes/a.txt", log[0].Path)
}

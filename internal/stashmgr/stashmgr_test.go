package stashmgr

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rupertsworld/stash/internal/transport"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestValidateNameAcceptsOrdinaryNames(t *testing.T) {
	assert.NoError(t, ValidateName("work"))
	assert.NoError(t, ValidateName("my_project-2024.bak"))
}

func TestValidateNameRejectsDotAndDotDot(t *testing.T) {
	assert.Error(t, ValidateName("."))
	assert.Error(t, ValidateName(".."))
}

func TestValidateNameRejectsLeadingDotOrDash(t *testing.T) {
	assert.Error(t, ValidateName(".hidden"))
	assert.Error(t, ValidateName("-flag"))
}

func TestValidateNameRejectsPathSeparatorsAndEmpty(t *testing.T) {
	assert.Error(t, ValidateName("a/b"))
	assert.Error(t, ValidateName(""))
}

func TestLoadWithEmptyConfigYieldsNoStashes(t *testing.T) {
	base := t.TempDir()

	m, err := Load(base, testLogger(t))
	require.NoError(t, err)
	assert.Empty(t, m.List())
}

func TestCreateRegistersAndLoadsStash(t *testing.T) {
	base := t.TempDir()
	stashPath := filepath.Join(base, "work")
	require.NoError(t, os.MkdirAll(stashPath, 0o700))

	m, err := Load(base, testLogger(t))
	require.NoError(t, err)

	s, err := m.Create("work", stashPath, "", "a work stash")
	require.NoError(t, err)
	assert.Equal(t, "work", s.Name())
	assert.Contains(t, m.List(), "work")

	reloaded, err := Load(base, testLogger(t))
	require.NoError(t, err)
	assert.Contains(t, reloaded.List(), "work")
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	base := t.TempDir()
	stashPath := filepath.Join(base, "work")
	require.NoError(t, os.MkdirAll(stashPath, 0o700))

	m, err := Load(base, testLogger(t))
	require.NoError(t, err)

	_, err = m.Create("work", stashPath, "", "")
	require.NoError(t, err)

	_, err = m.Create("work", stashPath, "", "")
	assert.Error(t, err)
}

func TestCreateRejectsInvalidName(t *testing.T) {
	base := t.TempDir()

	m, err := Load(base, testLogger(t))
	require.NoError(t, err)

	_, err = m.Create("../escape", base, "", "")
	assert.Error(t, err)
}

func TestDifferentStashesGetDifferentActorIDs(t *testing.T) {
	base := t.TempDir()

	m, err := Load(base, testLogger(t))
	require.NoError(t, err)

	assert.NotEqual(t, m.actorID("work"), m.actorID("personal"))
}

func TestGetReturnsNotFoundForUnknownStash(t *testing.T) {
	base := t.TempDir()

	m, err := Load(base, testLogger(t))
	require.NoError(t, err)

	_, err = m.Get("nope")
	assert.Error(t, err)
}

func TestDeleteRemovesFromManagerAndRegistry(t *testing.T) {
	base := t.TempDir()
	stashPath := filepath.Join(base, "work")
	require.NoError(t, os.MkdirAll(stashPath, 0o700))

	m, err := Load(base, testLogger(t))
	require.NoError(t, err)

	_, err = m.Create("work", stashPath, "", "")
	require.NoError(t, err)

	require.NoError(t, m.Delete(context.Background(), "work", false))
	assert.NotContains(t, m.List(), "work")

	_, err = m.Get("work")
	assert.Error(t, err)
}

func TestDeleteWithRemoteCallsDeleterWhenCapable(t *testing.T) {
	base := t.TempDir()
	stashPath := filepath.Join(base, "work")
	require.NoError(t, os.MkdirAll(stashPath, 0o700))

	m, err := Load(base, testLogger(t))
	require.NoError(t, err)

	s, err := m.Create("work", stashPath, "", "")
	require.NoError(t, err)

	mem := transport.NewMemory()
	require.NoError(t, mem.Create(context.Background()))
	s.SetProvider(mem.AsRemote())

	require.NoError(t, m.Delete(context.Background(), "work", true))

	_, fetchErr := mem.Fetch(context.Background())
	assert.ErrorIs(t, fetchErr, transport.ErrRemoteMissing)
}

func TestSyncFansOutAcrossAllStashes(t *testing.T) {
	base := t.TempDir()

	m, err := Load(base, testLogger(t))
	require.NoError(t, err)

	for _, name := range []string{"a", "b"} {
		p := filepath.Join(base, name)
		require.NoError(t, os.MkdirAll(p, 0o700))
		_, err := m.Create(name, p, "", "")
		require.NoError(t, err)
	}

	assert.NoError(t, m.Sync(context.Background()))
}

func TestReloadIfStaleThrottlesRepeatedCalls(t *testing.T) {
	base := t.TempDir()

	m, err := Load(base, testLogger(t))
	require.NoError(t, err)

	stashPath := filepath.Join(base, "work")
	require.NoError(t, os.MkdirAll(stashPath, 0o700))
	require.NoError(t, m.cfg.RegisterStash("work", stashPath))

	require.NoError(t, m.ReloadIfStale())
	firstReload := m.lastReload

	require.NoError(t, m.ReloadIfStale())
	assert.Equal(t, firstReload, m.lastReload, "a call within the throttle window must not refresh lastReload")
}

func TestReloadIfStaleLoadsNewlyRegisteredStash(t *testing.T) {
	base := t.TempDir()

	m, err := Load(base, testLogger(t))
	require.NoError(t, err)

	other, err := Load(t.TempDir(), testLogger(t))
	require.NoError(t, err)

	stashPath := filepath.Join(base, "work")
	require.NoError(t, os.MkdirAll(stashPath, 0o700))

	_, err = other.Create("work", stashPath, "", "")
	require.NoError(t, err)

	require.NoError(t, m.cfg.RegisterStash("work", stashPath))

	m.lastReload = time.Time{}
	require.NoError(t, m.ReloadIfStale())

	assert.Contains(t, m.List(), "work")
}

package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePIDFileWritesCurrentPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")

	cleanup, err := writePIDFile(path)
	require.NoError(t, err)
	defer cleanup()

	pid, err := readPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestWritePIDFileRejectsSecondOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")

	cleanup, err := writePIDFile(path)
	require.NoError(t, err)
	defer cleanup()

	_, err = writePIDFile(path)
	assert.Error(t, err, "a second caller must not acquire the same lock")
}

func TestWritePIDFileCleanupReleasesLockForNextOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")

	cleanup, err := writePIDFile(path)
	require.NoError(t, err)

	cleanup()

	cleanup2, err := writePIDFile(path)
	require.NoError(t, err)
	defer cleanup2()

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
}

func TestReadPIDFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0o600))

	_, err := readPIDFile(path)
	assert.Error(t, err)
}

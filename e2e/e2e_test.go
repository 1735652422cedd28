//go:build e2e

package e2e

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rupertsworld/stash/testutil"
)

var binaryPath string

func TestMain(m *testing.M) {
	tmpDir, err := os.MkdirTemp("", "stashd-e2e-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating temp dir: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(tmpDir)

	binaryPath = filepath.Join(tmpDir, "stashd")

	cmd := exec.Command("go", "build", "-o", binaryPath, ".")
	cmd.Dir = testutil.FindModuleRoot(".")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "building stashd: %v\n", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func runStashd(t *testing.T, baseDir string, args ...string) (string, error) {
	t.Helper()

	fullArgs := append([]string{"--base-dir", baseDir}, args...)

	cmd := exec.Command(binaryPath, fullArgs...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()

	return out.String(), err
}

// TestStashLifecycle exercises the thin CLI admin surface end to end:
// create registers a stash and lays down its .stash/ directory (§6),
// list shows it, delete unregisters it.
func TestStashLifecycle(t *testing.T) {
	baseDir := t.TempDir()
	workTree := t.TempDir()

	out, err := runStashd(t, baseDir, "stash", "create", "notes", "--path", workTree, "--description", "test stash")
	require.NoError(t, err, out)
	assert.Contains(t, out, "notes")

	assert.DirExists(t, filepath.Join(workTree, ".stash"))
	assert.FileExists(t, filepath.Join(workTree, ".stash", "meta.json"))
	assert.FileExists(t, filepath.Join(workTree, ".stash", "structure.automerge"))

	out, err = runStashd(t, baseDir, "stash", "list")
	require.NoError(t, err, out)
	assert.True(t, strings.Contains(out, "notes"))

	out, err = runStashd(t, baseDir, "stash", "delete", "notes")
	require.NoError(t, err, out)

	out, err = runStashd(t, baseDir, "stash", "list")
	require.NoError(t, err, out)
	assert.NotContains(t, out, "notes")
}

// TestStashCreateRejectsInvalidName verifies the name-validation path
// surfaces as a CLI error (data-model.md §3 name invariants).
func TestStashCreateRejectsInvalidName(t *testing.T) {
	baseDir := t.TempDir()
	workTree := t.TempDir()

	_, err := runStashd(t, baseDir, "stash", "create", "../escape", "--path", workTree)
	assert.Error(t, err)
}

package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rupertsworld/stash/internal/reconcile"
	"github.com/rupertsworld/stash/internal/stashmgr"
)

func newTestManager(t *testing.T) (*stashmgr.Manager, string) {
	t.Helper()

	baseDir := t.TempDir()

	manager, err := stashmgr.Load(baseDir, testLogger(t))
	require.NoError(t, err)

	return manager, baseDir
}

// TestFlushReconcilersMaterializesCRDTStateToDisk covers the wiring gap
// where sync pulls remote content into a stash's CRDT state but nothing
// ever wrote it back to the working tree: flushReconcilers is what the
// daemon calls after every sync cycle to close that gap.
func TestFlushReconcilersMaterializesCRDTStateToDisk(t *testing.T) {
	manager, baseDir := newTestManager(t)
	workTree := t.TempDir()

	s, err := manager.Create("notes", workTree, "", "")
	require.NoError(t, err)

	// simulate a remote-originated change landing in the CRDT doc without
	// ever touching disk, the way a merge during sync would.
	require.NoError(t, s.Write("file.txt", "hello from remote"))

	h := &Host{
		baseDir:     baseDir,
		logger:      testLogger(t),
		manager:     manager,
		reconcilers: map[string]*reconcile.Reconciler{"notes": reconcile.New(s, testLogger(t))},
	}

	h.flushReconcilers()

	data, err := os.ReadFile(filepath.Join(workTree, "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello from remote", string(data))
}

// TestFlushReconcilersHonorsRemoteTombstone covers flush's orphan cleanup
// removing a file whose path was tombstoned by a merge, even though the
// file itself is still sitting on disk.
func TestFlushReconcilersHonorsRemoteTombstone(t *testing.T) {
	manager, baseDir := newTestManager(t)
	workTree := t.TempDir()

	s, err := manager.Create("notes", workTree, "", "")
	require.NoError(t, err)

	require.NoError(t, s.Write("file.txt", "will be deleted remotely"))
	require.NoError(t, s.Save())

	r := reconcile.New(s, testLogger(t))
	require.NoError(t, r.Flush())

	assert.FileExists(t, filepath.Join(workTree, "file.txt"))

	// simulate a remote delete merged into the CRDT state; the reconciler
	// never saw a filesystem event for it, so the file is still on disk.
	// The path is known to this replica, so orphan cleanup honors the
	// tombstone instead of resurrecting the file.
	require.NoError(t, s.Delete("file.txt"))
	s.AddKnownPath("file.txt")

	h := &Host{
		baseDir:     baseDir,
		logger:      testLogger(t),
		manager:     manager,
		reconcilers: map[string]*reconcile.Reconciler{"notes": r},
	}

	h.flushReconcilers()

	assert.NoFileExists(t, filepath.Join(workTree, "file.txt"))
}

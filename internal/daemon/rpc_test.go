package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeSurface struct {
	status      []StashStatus
	names       []string
	syncErr     error
	syncCalls   int
}

func (f *fakeSurface) Status(context.Context) ([]StashStatus, error) { return f.status, nil }

func (f *fakeSurface) SyncNow(context.Context) error {
	f.syncCalls++
	return f.syncErr
}

func (f *fakeSurface) ListStashes(context.Context) ([]string, error) { return f.names, nil }

func startTestRPCServer(t *testing.T, surface ControlSurface) (*rpcServer, string) {
	t.Helper()

	socketPath := filepath.Join(t.TempDir(), "daemon.sock")
	s := newRPCServer(socketPath, surface, testLogger(t))
	require.NoError(t, s.start())

	t.Cleanup(func() { s.close() })

	return s, socketPath
}

func rpcRoundTrip(t *testing.T, socketPath string, method string) rpcResponse {
	t.Helper()

	conn, err := net.DialTimeout("unix", socketPath, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, json.NewEncoder(conn).Encode(rpcRequest{Method: method}))

	scanner := bufio.NewScanner(conn)
	require.True(t, scanner.Scan())

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))

	return resp
}

func TestRPCStatusRoundTrip(t *testing.T) {
	surface := &fakeSurface{status: []StashStatus{{Name: "work", Path: "/x"}}}
	_, socketPath := startTestRPCServer(t, surface)

	resp := rpcRoundTrip(t, socketPath, "status")

	assert.True(t, resp.OK)
	require.Len(t, resp.Status, 1)
	assert.Equal(t, "work", resp.Status[0].Name)
}

func TestRPCSyncRoundTrip(t *testing.T) {
	surface := &fakeSurface{}
	_, socketPath := startTestRPCServer(t, surface)

	resp := rpcRoundTrip(t, socketPath, "sync")

	assert.True(t, resp.OK)
	assert.Equal(t, 1, surface.syncCalls)
}

func TestRPCSyncPropagatesError(t *testing.T) {
	surface := &fakeSurface{syncErr: errors.New("sync failed")}
	_, socketPath := startTestRPCServer(t, surface)

	resp := rpcRoundTrip(t, socketPath, "sync")

	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "sync failed")
}

func TestRPCListRoundTrip(t *testing.T) {
	surface := &fakeSurface{names: []string{"a", "b"}}
	_, socketPath := startTestRPCServer(t, surface)

	resp := rpcRoundTrip(t, socketPath, "list")

	assert.True(t, resp.OK)
	assert.Equal(t, []string{"a", "b"}, resp.Names)
}

func TestRPCUnknownMethod(t *testing.T) {
	surface := &fakeSurface{}
	_, socketPath := startTestRPCServer(t, surface)

	resp := rpcRoundTrip(t, socketPath, "bogus")

	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "unknown method")
}

func TestRPCServerSocketHasOwnerOnlyPermissions(t *testing.T) {
	_, socketPath := startTestRPCServer(t, &fakeSurface{})

	info, err := os.Stat(socketPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// pidFilePermissions and pidDirPermissions match the owner-only
// permissions the on-disk layout requires for baseDir/daemon.pid
// (external-interfaces.md §6 "Daemon host").
const (
	pidFilePermissions = 0o600
	pidDirPermissions  = 0o700
)

// writePIDFile writes the current process id to path under an exclusive
// flock. The returned cleanup removes the file and releases the lock; if
// the lock cannot be acquired, another daemon already owns this baseDir.
func writePIDFile(path string) (cleanup func(), err error) {
	if path == "" {
		return nil, fmt.Errorf("daemon: pid file path is empty")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, pidDirPermissions); err != nil {
		return nil, fmt.Errorf("daemon: creating pid file directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, pidFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("daemon: opening pid file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		return nil, fmt.Errorf("daemon: another daemon already owns %s", filepath.Dir(path))
	}

	if err := f.Truncate(0); err != nil {
		f.Close()

		return nil, fmt.Errorf("daemon: truncating pid file: %w", err)
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()

		return nil, fmt.Errorf("daemon: writing pid file: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()

		return nil, fmt.Errorf("daemon: syncing pid file: %w", err)
	}

	return func() {
		os.Remove(path)
		f.Close()
	}, nil
}

// readPIDFile reads the pid from path.
func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("daemon: reading pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("daemon: invalid pid in %s: %w", path, err)
	}

	return pid, nil
}

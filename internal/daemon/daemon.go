// Package daemon implements C9, the daemon host: a long-running process
// supervising one reconciler per stash, a periodic sync ticker, a PID
// file, graceful shutdown, and a control surface for an external tool
// adapter (spec.md §4.8).
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rupertsworld/stash/internal/reconcile"
	"github.com/rupertsworld/stash/internal/stashmgr"
)

// SyncTickInterval is the periodic sync-ticker safety net (§4.8, §6
// "Environment knob: daemon sync ticker (30 s)").
const SyncTickInterval = 30 * time.Second

// Host is the single-process supervisor: C9.
type Host struct {
	baseDir string
	logger  *slog.Logger

	manager *stashmgr.Manager

	mu          sync.Mutex
	reconcilers map[string]*reconcile.Reconciler

	scheduler gocron.Scheduler
	rpc       *rpcServer
	metrics   *metrics

	pidCleanup func()
}

// New constructs a Host rooted at baseDir, loading the stash registry via
// stashmgr.Load.
func New(baseDir string, logger *slog.Logger) (*Host, error) {
	if logger == nil {
		logger = slog.Default()
	}

	manager, err := stashmgr.Load(baseDir, logger)
	if err != nil {
		return nil, fmt.Errorf("daemon: loading stash manager: %w", err)
	}

	return &Host{
		baseDir:     baseDir,
		logger:      logger,
		manager:     manager,
		reconcilers: make(map[string]*reconcile.Reconciler),
		metrics:     newMetrics(prometheus.DefaultRegisterer),
	}, nil
}

// pidFilePath returns baseDir/daemon.pid.
func (h *Host) pidFilePath() string { return filepath.Join(h.baseDir, "daemon.pid") }

// socketPath returns baseDir/daemon.sock.
func (h *Host) socketPath() string { return filepath.Join(h.baseDir, "daemon.sock") }

// Run blocks until ctx is canceled or a termination signal arrives,
// supervising every registered stash's reconciler and running the
// periodic sync ticker, the PID file, and the control surface
// (§4.8: "A long-running process with: per-stash reconciler (started +
// initial scan); a periodic sync ticker at 30 s; a PID file … SIGTERM/
// SIGINT -> gracefully close reconcilers and remove the PID file;
// exposes the tool-adapter RPC").
func (h *Host) Run(ctx context.Context) error {
	cleanup, err := writePIDFile(h.pidFilePath())
	if err != nil {
		return err
	}

	h.pidCleanup = cleanup
	defer cleanup()

	ctx = shutdownContext(ctx, h.logger)

	if err := h.startReconcilers(ctx); err != nil {
		h.stopReconcilers()
		return err
	}
	defer h.stopReconcilers()

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("daemon: creating scheduler: %w", err)
	}

	h.scheduler = scheduler

	_, err = scheduler.NewJob(
		gocron.DurationJob(SyncTickInterval),
		gocron.NewTask(func() { h.syncAll(ctx) }),
	)
	if err != nil {
		return fmt.Errorf("daemon: scheduling sync ticker: %w", err)
	}

	scheduler.Start()
	defer scheduler.Shutdown() //nolint:errcheck

	rpc := newRPCServer(h.socketPath(), h, h.logger)
	if err := rpc.start(); err != nil {
		return fmt.Errorf("daemon: starting control surface: %w", err)
	}

	h.rpc = rpc
	defer rpc.close() //nolint:errcheck

	h.logger.Info("daemon started", slog.String("baseDir", h.baseDir), slog.Int("stashes", len(h.manager.List())))

	<-ctx.Done()

	h.logger.Info("daemon shutting down")

	return nil
}

func (h *Host) startReconcilers(ctx context.Context) error {
	for _, name := range h.manager.List() {
		s, err := h.manager.Get(name)
		if err != nil {
			continue
		}

		r := reconcile.New(s, h.logger)
		if err := r.Scan(); err != nil {
			h.logger.Warn("initial scan failed", slog.String("stash", name), slog.Any("err", err))
		}

		if err := r.Flush(); err != nil {
			h.logger.Warn("initial flush failed", slog.String("stash", name), slog.Any("err", err))
		}

		if err := r.Start(ctx); err != nil {
			return fmt.Errorf("daemon: starting reconciler for %q: %w", name, err)
		}

		h.mu.Lock()
		h.reconcilers[name] = r
		h.mu.Unlock()
	}

	return nil
}

func (h *Host) stopReconcilers() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for name, r := range h.reconcilers {
		if err := r.Close(); err != nil {
			h.logger.Warn("closing reconciler failed", slog.String("stash", name), slog.Any("err", err))
		}
	}
}

func (h *Host) syncAll(ctx context.Context) {
	h.metrics.syncCycles.Inc()

	if err := h.manager.Sync(ctx); err != nil {
		h.metrics.syncErrors.Inc()
		h.logger.Warn("periodic sync cycle had errors", slog.Any("err", err))
	}

	h.flushReconcilers()
}

// flushReconcilers materializes every stash's merged CRDT state back onto
// its working tree (§4.4 "flush()"), so remote-originated adds, edits, and
// deletes pulled in by sync actually reach disk.
func (h *Host) flushReconcilers() {
	h.mu.Lock()
	reconcilers := make(map[string]*reconcile.Reconciler, len(h.reconcilers))
	for name, r := range h.reconcilers {
		reconcilers[name] = r
	}
	h.mu.Unlock()

	for name, r := range reconcilers {
		if err := r.Flush(); err != nil {
			h.logger.Warn("flush after sync failed", slog.String("stash", name), slog.Any("err", err))
		}
	}
}

// Status implements ControlSurface.
func (h *Host) Status(_ context.Context) ([]StashStatus, error) {
	names := h.manager.List()
	out := make([]StashStatus, 0, len(names))

	for _, name := range names {
		s, err := h.manager.Get(name)
		if err != nil {
			continue
		}

		out = append(out, StashStatus{
			Name:    s.Name(),
			Path:    s.Path(),
			Remote:  s.Meta().Remote,
			Syncing: s.IsSyncing(),
		})
	}

	return out, nil
}

// SyncNow implements ControlSurface, forcing an immediate fan-out sync.
func (h *Host) SyncNow(ctx context.Context) error {
	h.metrics.syncCycles.Inc()

	err := h.manager.Sync(ctx)
	if err != nil {
		h.metrics.syncErrors.Inc()
	}

	h.flushReconcilers()

	return err
}

// ListStashes implements ControlSurface.
func (h *Host) ListStashes(_ context.Context) ([]string, error) {
	return h.manager.List(), nil
}

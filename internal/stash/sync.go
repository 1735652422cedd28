package stash

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rupertsworld/stash/internal/crdtdoc"
)

// SyncRunner executes the fetch/merge/push algorithm (C5) against a stash.
// Defined here, implemented in package syncctl, so that the sync
// controller can depend on *Stash without Stash depending back on it.
type SyncRunner interface {
	Sync(ctx context.Context, s *Stash) error
}

// SetSyncRunner installs the sync controller implementation. Called once
// by the wiring layer (stash manager / daemon) after constructing the
// stash and its provider.
func (s *Stash) SetSyncRunner(r SyncRunner) {
	s.mu.Lock()
	s.syncRunner = r
	s.mu.Unlock()
}

// IsSyncing reports whether a sync is currently in flight.
func (s *Stash) IsSyncing() bool {
	locked := s.syncing.TryLock()
	if locked {
		s.syncing.Unlock()
	}

	return !locked
}

// Sync runs the sync controller against this stash. Single-flight: a
// concurrent call observes the in-flight run and returns its result
// without starting a second one (§4.3 "sync() is single-flight").
func (s *Stash) Sync(ctx context.Context) error {
	s.mu.RLock()
	runner := s.syncRunner
	s.mu.RUnlock()

	if runner == nil {
		return fmt.Errorf("stash: sync %q: no sync runner configured", s.name)
	}

	_, err, _ := s.syncGroup.Do("sync", func() (any, error) {
		s.syncing.Lock()
		defer s.syncing.Unlock()

		return nil, runner.Sync(ctx, s)
	})

	return err
}

// ScheduleSync debounces a background Sync call (§4.3 scheduleSync(),
// default window §6 "sync debounce (2s)"). Any later call within the
// window coalesces into the same eventual run.
func (s *Stash) ScheduleSync() {
	s.syncTimerMu.Lock()
	defer s.syncTimerMu.Unlock()

	if s.syncTimer != nil {
		s.syncTimer.Stop()
	}

	s.syncTimer = time.AfterFunc(ScheduleSyncDebounce, func() {
		if err := s.Sync(context.Background()); err != nil {
			s.logger.Warn("scheduled sync failed", slog.Any("err", err))
		}
	})
}

// RepairDanglingRefs synthesizes an empty text doc for every structure
// entry whose file doc is missing from memory, logging a warning for
// each (§4.3 invariant, §4.5 step 1 "repair dangling refs"). Returns the
// number of entries repaired.
func (s *Stash) RepairDanglingRefs() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.structure.ListAllIncludingDeleted()
	if err != nil {
		return 0, fmt.Errorf("stash: repair: listing structure: %w", err)
	}

	repaired := 0

	for _, e := range entries {
		if _, ok := s.fileDocs[e.DocID]; ok {
			continue
		}

		doc, err := crdtdoc.CreateText(s.actorID, "")
		if err != nil {
			return repaired, fmt.Errorf("stash: repair %q: %w", e.Path, err)
		}

		s.fileDocs[e.DocID] = doc
		repaired++

		s.logger.Warn("repaired dangling structure reference",
			slog.String("path", e.Path), slog.String("docId", e.DocID))
	}

	return repaired, nil
}

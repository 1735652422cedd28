package stash

import (
	"time"

	"github.com/google/uuid"
)

// RecordConflict appends a ConflictEvent for path to the capped conflict
// history. Called by the sync controller when its content-wins rule
// clears a spurious tombstone; never read back by the algorithm, only by
// an observability consumer.
func (s *Stash) RecordConflict(path string) {
	event := ConflictEvent{
		ID:        uuid.NewString(),
		Path:      path,
		ClearedAt: time.Now().UnixMilli(),
	}

	s.mu.Lock()
	s.conflictLog = append(s.conflictLog, event)
	if len(s.conflictLog) > maxConflictLog {
		s.conflictLog = s.conflictLog[len(s.conflictLog)-maxConflictLog:]
	}
	s.mu.Unlock()

	s.scheduleBackgroundSave()
}

// ConflictLog returns a copy of the recorded conflict history, oldest
// first.
func (s *Stash) ConflictLog() []ConflictEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ConflictEvent, len(s.conflictLog))
	copy(out, s.conflictLog)

	return out
}

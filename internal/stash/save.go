package stash

import (
	"log/slog"
	"time"
)

// scheduleBackgroundSave debounces saveNow behind backgroundSaveDebounce,
// coalescing bursts of writes into one save. A generation counter ensures
// the save is only considered to have captured "all writes up to now":
// if a new write arrives after a save starts, the next debounce cycle
// runs again rather than being skipped (§4.3 "the dirty flag is cleared
// only if no new write arrived after the save was scheduled").
func (s *Stash) scheduleBackgroundSave() {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.saveGen++
	gen := s.saveGen

	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}

	s.saveTimer = time.AfterFunc(backgroundSaveDebounce, func() {
		s.runBackgroundSave(gen)
	})
}

func (s *Stash) runBackgroundSave(gen int64) {
	if err := s.saveNow(); err != nil {
		s.logger.Warn("background save failed", slog.Any("err", err))
		return
	}

	s.saveMu.Lock()
	if gen >= s.savedGen {
		s.savedGen = gen
	}

	dirty := s.saveGen != s.savedGen
	s.saveMu.Unlock()

	if dirty {
		// A write raced in after saveNow read its state;
		// scheduleBackgroundSave was already called for it, so nothing
		// further to do here.
		return
	}
}

// FlushSave cancels any pending debounced background save and performs an
// immediate save of all current state. It does not wait for a background
// save that is already running.
func (s *Stash) FlushSave() error {
	s.saveMu.Lock()
	timer := s.saveTimer
	s.saveMu.Unlock()

	if timer != nil {
		timer.Stop()
	}

	return s.saveNow()
}

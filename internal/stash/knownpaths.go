package stash

// IsKnownPath reports whether path has ever been locally observed by this
// replica (§3 "Known-paths side-index").
func (s *Stash) IsKnownPath(p string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.knownPaths[p]
	return ok
}

// AddKnownPath records path as locally observed.
func (s *Stash) AddKnownPath(p string) {
	s.mu.Lock()
	s.knownPaths[p] = struct{}{}
	s.mu.Unlock()

	s.scheduleBackgroundSave()
}

// RemoveKnownPath drops path from the known-paths set, called when a
// known-and-deleted tombstone is honored (§3 "Lifecycle").
func (s *Stash) RemoveKnownPath(p string) {
	s.mu.Lock()
	delete(s.knownPaths, p)
	s.mu.Unlock()

	s.scheduleBackgroundSave()
}

// ClearKnownPaths empties the known-paths set. Fresh join does not call
// it: MarkAllActiveKnown there adds to whatever set is already held.
func (s *Stash) ClearKnownPaths() {
	s.mu.Lock()
	s.knownPaths = make(map[string]struct{})
	s.mu.Unlock()

	s.scheduleBackgroundSave()
}

package transport

import (
	"context"
	"sync"
)

// Memory is an in-memory Remote test double: round-trips Fetch/Push/
// Create/Delete against a map held in the process. It is the reference
// implementation exercised by the sync controller's tests (P2, P3, P4, P6
// in reconciliation-algorithm.md §8), never a concrete provider.
type Memory struct {
	mu      sync.Mutex
	docs    map[string][]byte
	files   map[string][]byte
	created bool
	dirty   bool // true once any Push has landed since the last Fetch
}

// NewMemory returns an empty in-memory remote.
func NewMemory() *Memory {
	return &Memory{
		docs:  make(map[string][]byte),
		files: make(map[string][]byte),
	}
}

// AsRemote adapts m into a Remote exposing all four capabilities.
func (m *Memory) AsRemote() Remote {
	return Remote{
		Fetcher: m,
		Pusher:  m,
		Creator: m,
		Deleter: m,
	}
}

// Fetch returns the current document set. Unchanged is true iff no Push
// has landed since the previous Fetch, a cheap stand-in for a
// provider-side revision token (§4.6 syncStateHint, kept as internal
// state here rather than threaded through the interface).
func (m *Memory) Fetch(_ context.Context) (FetchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.created {
		return FetchResult{}, ErrRemoteMissing
	}

	unchanged := !m.dirty
	m.dirty = false

	out := make(map[string][]byte, len(m.docs))
	for k, v := range m.docs {
		cp := make([]byte, len(v))
		copy(cp, v)
		out[k] = cp
	}

	return FetchResult{Docs: out, Unchanged: unchanged}, nil
}

// Push stores docs and files, honoring ChangedPaths as the advisory subset
// to write (pushing all of docs regardless, since the "MUST NOT push
// less" obligation binds files, not the doc set itself) and removes
// PathsToDelete.
func (m *Memory) Push(_ context.Context, req PushRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.created = true

	for k, v := range req.Docs {
		cp := make([]byte, len(v))
		copy(cp, v)
		m.docs[k] = cp
	}

	if len(req.ChangedPaths) == 0 {
		for k, v := range req.Files {
			cp := make([]byte, len(v))
			copy(cp, v)
			m.files[k] = cp
		}
	} else {
		changed := make(map[string]struct{}, len(req.ChangedPaths))
		for _, p := range req.ChangedPaths {
			changed[p] = struct{}{}
		}

		for k, v := range req.Files {
			if _, ok := changed[k]; !ok {
				continue
			}

			cp := make([]byte, len(v))
			copy(cp, v)
			m.files[k] = cp
		}
	}

	for _, p := range req.PathsToDelete {
		delete(m.files, p)
	}

	m.dirty = true

	return nil
}

// Create marks the remote coordinate as provisioned. Idempotent.
func (m *Memory) Create(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.created = true

	return nil
}

// Delete clears the remote coordinate entirely.
func (m *Memory) Delete(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.created = false
	m.docs = make(map[string][]byte)
	m.files = make(map[string][]byte)
	m.dirty = false

	return nil
}

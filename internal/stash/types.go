// Package stash implements C4, the Stash: the owner of one structure
// document, its file documents, metadata, the known-paths side-index, the
// sync snapshot, and their durable persistence (data-model.md §3, §4.3).
package stash

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rupertsworld/stash/internal/blobstore"
	"github.com/rupertsworld/stash/internal/crdtdoc"
	"github.com/rupertsworld/stash/internal/transport"
)

// backgroundSaveDebounce batches bursts of mutating stash operations into
// one save (§4.3 "background save").
const backgroundSaveDebounce = 150 * time.Millisecond

// ScheduleSyncDebounce is the default debounce before a scheduled sync
// actually runs (§6 "sync debounce (2s)").
const ScheduleSyncDebounce = 2 * time.Second

// Meta is the stash's identity record, persisted at .stash/meta.json (§6).
type Meta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Remote      string `json:"remote,omitempty"`
}

// KnownPaths is the known-paths side-index persisted at
// .stash/known-paths.json (§3 "Known-paths side-index"). Never synced.
type KnownPaths struct {
	Paths []string `json:"paths"`
}

// Snapshot is the sync snapshot fingerprint triple (§3 "Sync snapshot").
type Snapshot struct {
	Structure []string          `json:"structure"`
	Docs      map[string]string `json:"docs"`  // docId -> heads fingerprint
	Files     map[string]string `json:"files"` // path -> content fingerprint
}

// syncState is the persisted form at .stash/sync-state.json (§6). Provider
// opaque state (syncStateHint, §4.6) rides alongside under ProviderState.
type syncState struct {
	LastPushedSnapshot *Snapshot       `json:"lastPushedSnapshot"`
	ProviderState       map[string]any `json:"providerState,omitempty"`
}

// maxConflictLog caps the append-only conflict history; oldest entries
// are dropped once exceeded.
const maxConflictLog = 200

// ConflictEvent records one content-wins tombstone clear for
// observability. Never consulted by the sync algorithm itself, only a
// durable log of what the deterministic content-wins rule decided.
type ConflictEvent struct {
	ID        string `json:"id"`
	Path      string `json:"path"`
	ClearedAt int64  `json:"clearedAt"` // unix millis
}

// conflictLogFile is the persisted form at .stash/conflicts.json.
type conflictLogFile struct {
	Events []ConflictEvent `json:"events"`
}

// Stash owns one structure document, its file documents, metadata, the
// known-paths side-index, and the sync snapshot (§4.3). All mutating
// operations go through its exported methods; the reconciler (C7) holds a
// mutating reference to exactly one Stash.
type Stash struct {
	mu sync.RWMutex

	name     string
	path     string // absolute on-disk path
	actorID  string
	provider transport.Remote // nil if the stash has no configured remote

	meta       Meta
	structure  *crdtdoc.StructureDoc
	fileDocs   map[string]*crdtdoc.FileDoc // docId -> doc
	knownPaths map[string]struct{}

	lastPushedSnapshot *Snapshot
	providerState      map[string]any

	conflictLog []ConflictEvent

	blobs *blobstore.Store

	logger *slog.Logger

	saveGen     int64 // generation counter, §4.3 "background save"
	savedGen    int64
	saveMu      sync.Mutex
	saveTimer   *time.Timer
	syncGroup   singleflight.Group
	syncTimer   *time.Timer
	syncTimerMu sync.Mutex
	syncing     sync.Mutex // held only to report IsSyncing via TryLock
	syncRunner  SyncRunner
}

// Name returns the stash's validated name.
func (s *Stash) Name() string { return s.name }

// Path returns the stash's absolute on-disk path.
func (s *Stash) Path() string { return s.path }

// ActorID returns the CRDT actor id this replica writes with.
func (s *Stash) ActorID() string { return s.actorID }

// Provider returns the configured remote transport, or nil.
func (s *Stash) Provider() transport.Remote { return s.provider }

// SetProvider attaches or replaces the remote transport used by sync.
func (s *Stash) SetProvider(p transport.Remote) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.provider = p
}

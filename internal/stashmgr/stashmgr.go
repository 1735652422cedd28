// Package stashmgr implements C8, the stash manager: the registry of
// named stashes, load/create/connect/delete, name validation, the
// stale-reload throttle, and fan-out sync (reconciliation-algorithm.md
// §4.7).
package stashmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rupertsworld/stash/internal/crdtdoc"
	"github.com/rupertsworld/stash/internal/globalconfig"
	"github.com/rupertsworld/stash/internal/stash"
	"github.com/rupertsworld/stash/internal/stasherr"
	"github.com/rupertsworld/stash/internal/syncctl"
	"github.com/rupertsworld/stash/internal/transport"
)

// reloadThrottle is the stale-reload debounce window (§4.7
// "reloadIfStale(): skip if called again within 2s").
const reloadThrottle = 2 * time.Second

var nameRE = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// ValidateName checks a stash name against §3's rules: 1..64 chars from
// [A-Za-z0-9._-], not "." or "..", no path separators, not starting
// with "." or "-".
func ValidateName(name string) error {
	if !nameRE.MatchString(name) {
		return stasherr.NewValidation("stashmgr: invalid name "+name, nil)
	}

	if name == "." || name == ".." {
		return stasherr.NewValidation("stashmgr: invalid name "+name, nil)
	}

	if name[0] == '.' || name[0] == '-' {
		return stasherr.NewValidation("stashmgr: invalid name "+name, nil)
	}

	return nil
}

// Manager owns the registry of loaded stashes for one baseDir.
type Manager struct {
	mu      sync.RWMutex
	stashes map[string]*stash.Stash
	cfg     *globalconfig.Holder
	baseDir string
	logger  *slog.Logger

	lastReload time.Time
}

// actorID derives this replica's per-stash CRDT actor id
// (data-model.md §4.1 SUPPLEMENT: hostname + baseDir + stash name).
func (m *Manager) actorID(name string) string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	return crdtdoc.DeriveActorID(hostname, m.baseDir, name)
}

// Load constructs a Manager from baseDir, reading <baseDir>/config.json
// and eagerly loading every registered stash (§4.7 "load(baseDir)").
func Load(baseDir string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := globalconfig.Load(baseDir + "/config.json")
	if err != nil {
		return nil, fmt.Errorf("stashmgr: load: %w", err)
	}

	m := &Manager{
		stashes: make(map[string]*stash.Stash),
		cfg:     cfg,
		baseDir: baseDir,
		logger:  logger,
	}

	// config.json's top-level actorId records this host's identity for
	// display/debugging; per-stash CRDT actor ids are derived separately
	// via actorID() so that distinct stashes never share one (§4.1).
	if cfg.Config().ActorID == "" {
		if err := cfg.SetActorID(m.actorID("host")); err != nil {
			logger.Warn("failed to persist host actor id", slog.Any("err", err))
		}
	}

	for name, path := range cfg.Config().Stashes {
		s, err := stash.Load(name, path, m.actorID(name), logger)
		if err != nil {
			logger.Warn("failed to load registered stash, skipping", slog.String("name", name), slog.Any("err", err))
			continue
		}

		s.SetSyncRunner(syncctl.New())
		m.stashes[name] = s
	}

	return m, nil
}

// List returns the sorted names of every loaded stash.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.stashes))
	for name := range m.stashes {
		out = append(out, name)
	}

	sort.Strings(out)

	return out
}

// Get returns the stash named name, or stasherr.NotFound.
func (m *Manager) Get(name string) (*stash.Stash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.stashes[name]
	if !ok {
		return nil, stasherr.NewNotFound("stashmgr: get "+name, nil)
	}

	return s, nil
}

// Create validates name, creates a new stash on disk at path, registers
// it in the global config, and adds it to the manager (§4.7 "create").
func (m *Manager) Create(name, path, remote, description string) (*stash.Stash, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if _, exists := m.stashes[name]; exists {
		m.mu.Unlock()
		return nil, stasherr.NewAlreadyExists("stashmgr: create "+name, nil)
	}
	m.mu.Unlock()

	s, err := stash.Create(name, path, m.actorID(name), remote, description, m.logger)
	if err != nil {
		return nil, fmt.Errorf("stashmgr: create %q: %w", name, err)
	}

	s.SetSyncRunner(syncctl.New())

	m.mu.Lock()
	m.stashes[name] = s
	m.mu.Unlock()

	if err := m.cfg.RegisterStash(name, path); err != nil {
		return nil, fmt.Errorf("stashmgr: create %q: registering: %w", name, err)
	}

	return s, nil
}

// Connect loads an existing stash and attaches remote, then runs an
// initial sync (§4.7 "connect (local + initial sync)").
func (m *Manager) Connect(ctx context.Context, name, path string, remote transport.Remote) (*stash.Stash, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	s, err := stash.Load(name, path, m.actorID(name), m.logger)
	if err != nil {
		return nil, fmt.Errorf("stashmgr: connect %q: %w", name, err)
	}

	s.SetSyncRunner(syncctl.New())
	s.SetProvider(remote)

	m.mu.Lock()
	m.stashes[name] = s
	m.mu.Unlock()

	if err := m.cfg.RegisterStash(name, path); err != nil {
		return nil, fmt.Errorf("stashmgr: connect %q: registering: %w", name, err)
	}

	if err := s.Sync(ctx); err != nil {
		return s, fmt.Errorf("stashmgr: connect %q: initial sync: %w", name, err)
	}

	return s, nil
}

// Delete removes name from the manager and the registry. If deleteRemote
// is true and the stash's provider supports Delete, the remote coordinate
// is removed too (§4.7 "delete(name, deleteRemote?)").
func (m *Manager) Delete(ctx context.Context, name string, deleteRemote bool) error {
	m.mu.Lock()
	s, ok := m.stashes[name]
	if !ok {
		m.mu.Unlock()
		return stasherr.NewNotFound("stashmgr: delete "+name, nil)
	}

	delete(m.stashes, name)
	m.mu.Unlock()

	if deleteRemote {
		remote := s.ProviderRemote()
		if remote.CanDelete() {
			if err := remote.Deleter.Delete(ctx); err != nil {
				return fmt.Errorf("stashmgr: delete %q: remote: %w", name, err)
			}
		}
	}

	return m.cfg.UnregisterStash(name)
}

// Sync fans sync out across every loaded stash concurrently, aggregating
// per-stash errors (§4.7 "sync(): fan-out; aggregated errors").
func (m *Manager) Sync(ctx context.Context) error {
	m.mu.RLock()
	stashes := make([]*stash.Stash, 0, len(m.stashes))
	for _, s := range m.stashes {
		stashes = append(stashes, s)
	}
	m.mu.RUnlock()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)

	for _, s := range stashes {
		s := s
		g.Go(func() error {
			if err := s.Sync(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("stash %q: %w", s.Name(), err))
				mu.Unlock()
			}

			return nil
		})
	}

	_ = g.Wait()

	return errors.Join(errs...)
}

// ReloadIfStale re-reads the global config and loads any newly-registered
// stashes, but no-ops if called again within reloadThrottle
// (§4.7 "reloadIfStale(): skip if called again within 2s").
func (m *Manager) ReloadIfStale() error {
	m.mu.Lock()
	if time.Since(m.lastReload) < reloadThrottle {
		m.mu.Unlock()
		return nil
	}

	m.lastReload = time.Now()
	m.mu.Unlock()

	for name, path := range m.cfg.Config().Stashes {
		m.mu.RLock()
		_, loaded := m.stashes[name]
		m.mu.RUnlock()

		if loaded {
			continue
		}

		s, err := stash.Load(name, path, m.actorID(name), m.logger)
		if err != nil {
			m.logger.Warn("reload: failed to load stash", slog.String("name", name), slog.Any("err", err))
			continue
		}

		s.SetSyncRunner(syncctl.New())

		m.mu.Lock()
		m.stashes[name] = s
		m.mu.Unlock()
	}

	return nil
}

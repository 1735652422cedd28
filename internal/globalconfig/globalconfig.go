// Package globalconfig owns <baseDir>/config.json, the process-wide
// registry of actor id, provider credential keys, and the stash name to
// path mapping (external-interfaces.md §6 "Global config"). Credential
// values themselves are out of scope, this package stores only opaque
// keys (purpose-scope.md §1 "credential storage … treated as an opaque
// key/value side-store").
package globalconfig

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/rupertsworld/stash/internal/atomicfile"
	"github.com/rupertsworld/stash/internal/stasherr"
)

// Config is the on-disk shape of <baseDir>/config.json (§6).
type Config struct {
	ActorID   string            `json:"actorId"`
	Providers map[string]string `json:"providers,omitempty"`
	Stashes   map[string]string `json:"stashes"` // name -> absolute path
}

// Holder guards the current Config and its file path with a mutex; every
// mutation updates the one Config value in place and then persists it.
type Holder struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

// Load reads path, creating an empty Config at that path if it doesn't
// exist yet.
func Load(path string) (*Holder, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := &Config{Stashes: make(map[string]string)}
		h := &Holder{cfg: cfg, path: path}

		return h, h.save()
	}

	if err != nil {
		return nil, stasherr.NewIO("globalconfig: load", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, stasherr.NewCorruptState("globalconfig: load: decoding "+path, err)
	}

	if cfg.Stashes == nil {
		cfg.Stashes = make(map[string]string)
	}

	return &Holder{cfg: &cfg, path: path}, nil
}

// Config returns the held Config itself, not a copy: later RegisterStash,
// UnregisterStash and SetActorID calls modify the returned value.
func (h *Holder) Config() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.cfg
}

// Path returns the config file path.
func (h *Holder) Path() string { return h.path }

// RegisterStash adds or updates a stash's path in the registry and
// persists the change.
func (h *Holder) RegisterStash(name, path string) error {
	h.mu.Lock()
	h.cfg.Stashes[name] = path
	h.mu.Unlock()

	return h.save()
}

// UnregisterStash removes a stash from the registry and persists the
// change.
func (h *Holder) UnregisterStash(name string) error {
	h.mu.Lock()
	delete(h.cfg.Stashes, name)
	h.mu.Unlock()

	return h.save()
}

// SetActorID updates the process-wide actor id and persists the change.
func (h *Holder) SetActorID(actorID string) error {
	h.mu.Lock()
	h.cfg.ActorID = actorID
	h.mu.Unlock()

	return h.save()
}

func (h *Holder) save() error {
	h.mu.RLock()
	data, err := json.MarshalIndent(h.cfg, "", "  ")
	h.mu.RUnlock()

	if err != nil {
		return err
	}

	if err := atomicfile.Write(h.path, data); err != nil {
		return stasherr.NewIO("globalconfig: save", err)
	}

	return nil
}

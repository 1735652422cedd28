// Package blobstore implements C3, the content-addressed on-disk store for
// binary file payloads (data-model.md §3 "Blob store"). Blobs live at
// <stash>/.stash/blobs/<hash>.bin, keyed by the 64-hex SHA-256 of their
// contents.
package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rupertsworld/stash/internal/atomicfile"
	"github.com/rupertsworld/stash/internal/stasherr"
)

// Store is a content-addressed blob store rooted at a stash's
// .stash/blobs/ directory.
type Store struct {
	dir string
}

// New returns a Store rooted at dir (typically <stash>/.stash/blobs).
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Hash returns the 64-hex SHA-256 content hash used as a blob's key.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (s *Store) path(hash string) string {
	return filepath.Join(s.dir, hash+".bin")
}

// Put writes data under its content hash, returning the hash. Writing the
// same content twice is a no-op beyond the first (content-addressed
// storage is naturally idempotent).
func (s *Store) Put(data []byte) (string, error) {
	hash := Hash(data)

	if _, err := os.Stat(s.path(hash)); err == nil {
		return hash, nil
	}

	if err := atomicfile.Write(s.path(hash), data); err != nil {
		return "", stasherr.NewIO("blobstore: put "+hash, err)
	}

	return hash, nil
}

// Get reads the blob stored under hash. Returns stasherr.NotFound if
// absent.
func (s *Store) Get(hash string) ([]byte, error) {
	data, err := os.ReadFile(s.path(hash))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, stasherr.NewNotFound("blobstore: get "+hash, err)
		}

		return nil, stasherr.NewIO("blobstore: get "+hash, err)
	}

	return data, nil
}

// Has reports whether a blob exists under hash.
func (s *Store) Has(hash string) bool {
	_, err := os.Stat(s.path(hash))
	return err == nil
}

// Delete unlinks the blob stored under hash. It is not an error if the
// blob is already absent, GC may race with a concurrent delete of the
// same now-unreferenced hash.
func (s *Store) Delete(hash string) error {
	if err := os.Remove(s.path(hash)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return stasherr.NewIO("blobstore: delete "+hash, err)
	}

	return nil
}

// GC removes every stored blob whose hash is not present in referenced
// (the set of hashes still pointed to by any active-or-tombstoned binary
// file document, §3 "Blob store" GC rule). It runs at three points:
// finalize-delete, reconciler scan, and after sync on reference changes.
// Returns the hashes actually removed.
func (s *Store) GC(referenced map[string]struct{}) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, stasherr.NewIO("blobstore: gc: listing "+s.dir, err)
	}

	var removed []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		hash := stripBinExt(entry.Name())
		if hash == "" {
			continue
		}

		if _, keep := referenced[hash]; keep {
			continue
		}

		if err := s.Delete(hash); err != nil {
			return removed, fmt.Errorf("blobstore: gc: %w", err)
		}

		removed = append(removed, hash)
	}

	return removed, nil
}

func stripBinExt(name string) string {
	const suffix = ".bin"
	if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
		return ""
	}

	return name[:len(name)-len(suffix)]
}

package stash

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/rupertsworld/stash/internal/atomicfile"
	"github.com/rupertsworld/stash/internal/blobstore"
	"github.com/rupertsworld/stash/internal/crdtdoc"
	"github.com/rupertsworld/stash/internal/stasherr"
)

const (
	dotStashDir   = ".stash"
	metaFile      = "meta.json"
	structureFile = "structure.automerge"
	docsDir       = "docs"
	blobsDir      = "blobs"
	knownPathFile = "known-paths.json"
	syncStateFile = "sync-state.json"
	conflictsFile = "conflicts.json"
)

func dotStash(stashPath string) string { return filepath.Join(stashPath, dotStashDir) }

// Create initializes a brand-new stash on disk (§4.3 "create(name, path,
// actorId, provider?, remote?, desc?)").
func Create(name, path, actorID string, remote, description string, logger *slog.Logger) (*Stash, error) {
	if logger == nil {
		logger = slog.Default()
	}

	structureDoc, err := crdtdoc.NewStructureDoc(actorID)
	if err != nil {
		return nil, fmt.Errorf("stash: create %q: %w", name, err)
	}

	s := &Stash{
		name:       name,
		path:       path,
		actorID:    actorID,
		meta:       Meta{Name: name, Description: description, Remote: remote},
		structure:  structureDoc,
		fileDocs:   make(map[string]*crdtdoc.FileDoc),
		knownPaths: make(map[string]struct{}),
		blobs:      blobstore.New(filepath.Join(dotStash(path), blobsDir)),
		logger:     logger.With(slog.String("stash", name)),
	}

	if err := s.saveNow(); err != nil {
		return nil, fmt.Errorf("stash: create %q: %w", name, err)
	}

	return s, nil
}

// Load reads a stash's durable state from <path>/.stash/ (§4.3 "load").
func Load(name, path, actorID string, logger *slog.Logger) (*Stash, error) {
	if logger == nil {
		logger = slog.Default()
	}

	root := dotStash(path)

	metaBytes, err := os.ReadFile(filepath.Join(root, metaFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, stasherr.NewNotFound("stash: load "+name, err)
		}

		return nil, stasherr.NewIO("stash: load "+name, err)
	}

	var meta Meta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, stasherr.NewCorruptState("stash: load "+name+": meta.json", err)
	}

	structureBytes, err := os.ReadFile(filepath.Join(root, structureFile))
	if err != nil {
		return nil, stasherr.NewCorruptState("stash: load "+name+": structure.automerge", err)
	}

	structureDoc, err := crdtdoc.LoadStructureDoc(structureBytes)
	if err != nil {
		return nil, stasherr.NewCorruptState("stash: load "+name+": decoding structure", err)
	}

	s := &Stash{
		name:       name,
		path:       path,
		actorID:    actorID,
		meta:       meta,
		structure:  structureDoc,
		fileDocs:   make(map[string]*crdtdoc.FileDoc),
		knownPaths: make(map[string]struct{}),
		blobs:      blobstore.New(filepath.Join(root, blobsDir)),
		logger:     logger.With(slog.String("stash", name)),
	}

	entries, err := s.structure.ListAllIncludingDeleted()
	if err != nil {
		return nil, stasherr.NewCorruptState("stash: load "+name+": listing structure", err)
	}

	for _, e := range entries {
		docBytes, err := os.ReadFile(filepath.Join(root, docsDir, e.DocID+".automerge"))
		if err != nil {
			s.logger.Warn("missing file doc on load, will repair at next sync",
				slog.String("path", e.Path), slog.String("docId", e.DocID))

			continue
		}

		doc, err := crdtdoc.LoadFileDoc(docBytes)
		if err != nil {
			s.logger.Warn("corrupt file doc on load, will repair at next sync",
				slog.String("path", e.Path), slog.String("docId", e.DocID), slog.Any("err", err))

			continue
		}

		s.fileDocs[e.DocID] = doc
	}

	if kp, err := readKnownPaths(filepath.Join(root, knownPathFile)); err == nil {
		for _, p := range kp.Paths {
			s.knownPaths[p] = struct{}{}
		}
	}

	if snap, provState, err := readSyncState(filepath.Join(root, syncStateFile)); err == nil {
		s.lastPushedSnapshot = snap
		s.providerState = provState
	}

	if cl, err := readConflictLog(filepath.Join(root, conflictsFile)); err == nil {
		s.conflictLog = cl.Events
	}

	return s, nil
}

func readKnownPaths(path string) (KnownPaths, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return KnownPaths{}, err
	}

	var kp KnownPaths
	if err := json.Unmarshal(data, &kp); err != nil {
		return KnownPaths{}, err
	}

	return kp, nil
}

func readSyncState(path string) (*Snapshot, map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	var st syncState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, nil, err
	}

	return st.LastPushedSnapshot, st.ProviderState, nil
}

func readConflictLog(path string) (conflictLogFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return conflictLogFile{}, err
	}

	var cl conflictLogFile
	if err := json.Unmarshal(data, &cl); err != nil {
		return conflictLogFile{}, err
	}

	return cl, nil
}

// saveNow writes every artifact atomically: meta.json, structure.automerge,
// docs/<docId>.automerge, known-paths.json, sync-state.json (§4.3 "save()
// writes all artifacts atomically"), plus conflicts.json. saveNow takes
// s.mu for reading while it copies the in-memory state, so callers must not
// already hold s.mu; the filesystem I/O runs after the lock is released.
func (s *Stash) saveNow() error {
	s.mu.RLock()

	root := dotStash(s.path)

	metaBytes, err := json.MarshalIndent(s.meta, "", "  ")
	if err != nil {
		s.mu.RUnlock()
		return fmt.Errorf("stash: marshaling meta: %w", err)
	}

	structureBytes, err := s.structure.Save()
	if err != nil {
		s.mu.RUnlock()
		return fmt.Errorf("stash: saving structure doc: %w", err)
	}

	type docWrite struct {
		docID string
		data  []byte
	}

	docWrites := make([]docWrite, 0, len(s.fileDocs))

	for docID, doc := range s.fileDocs {
		data, err := doc.Save()
		if err != nil {
			s.mu.RUnlock()
			return fmt.Errorf("stash: saving file doc %q: %w", docID, err)
		}

		docWrites = append(docWrites, docWrite{docID: docID, data: data})
	}

	knownPaths := make([]string, 0, len(s.knownPaths))
	for p := range s.knownPaths {
		knownPaths = append(knownPaths, p)
	}

	sort.Strings(knownPaths)

	knownBytes, err := json.MarshalIndent(KnownPaths{Paths: knownPaths}, "", "  ")
	if err != nil {
		s.mu.RUnlock()
		return fmt.Errorf("stash: marshaling known-paths: %w", err)
	}

	syncBytes, err := json.MarshalIndent(syncState{
		LastPushedSnapshot: s.lastPushedSnapshot,
		ProviderState:      s.providerState,
	}, "", "  ")
	if err != nil {
		s.mu.RUnlock()
		return fmt.Errorf("stash: marshaling sync-state: %w", err)
	}

	conflictBytes, err := json.MarshalIndent(conflictLogFile{Events: s.conflictLog}, "", "  ")
	if err != nil {
		s.mu.RUnlock()
		return fmt.Errorf("stash: marshaling conflict log: %w", err)
	}

	s.mu.RUnlock()

	if err := atomicfile.Write(filepath.Join(root, metaFile), metaBytes); err != nil {
		return stasherr.NewIO("stash: save meta.json", err)
	}

	if err := atomicfile.Write(filepath.Join(root, structureFile), structureBytes); err != nil {
		return stasherr.NewIO("stash: save structure.automerge", err)
	}

	for _, dw := range docWrites {
		if err := atomicfile.Write(filepath.Join(root, docsDir, dw.docID+".automerge"), dw.data); err != nil {
			return stasherr.NewIO("stash: save doc "+dw.docID, err)
		}
	}

	if err := atomicfile.Write(filepath.Join(root, knownPathFile), knownBytes); err != nil {
		return stasherr.NewIO("stash: save known-paths.json", err)
	}

	if err := atomicfile.Write(filepath.Join(root, syncStateFile), syncBytes); err != nil {
		return stasherr.NewIO("stash: save sync-state.json", err)
	}

	if err := atomicfile.Write(filepath.Join(root, conflictsFile), conflictBytes); err != nil {
		return stasherr.NewIO("stash: save conflicts.json", err)
	}

	return nil
}

// Save performs an immediate, synchronous save of every artifact, bypassing
// the background-save debounce. Used by tests and by callers that need a
// durability guarantee before proceeding (e.g. P1 round-trip).
func (s *Stash) Save() error {
	return s.saveNow()
}

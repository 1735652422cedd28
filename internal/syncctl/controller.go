// Package syncctl implements C5, the sync controller: the fetch/merge/push
// pipeline, the content-wins conflict rule, incremental push planning, and
// the retry policy (reconciliation-algorithm.md §4.5).
package syncctl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rupertsworld/stash/internal/crdtdoc"
	"github.com/rupertsworld/stash/internal/stash"
	"github.com/rupertsworld/stash/internal/stasherr"
	"github.com/rupertsworld/stash/internal/transport"
)

const structureKey = "structure"

// Controller implements stash.SyncRunner: it is installed on every stash
// via Stash.SetSyncRunner so that stash.Sync() drives this algorithm
// under the stash's own single-flight guard.
type Controller struct{}

// New returns a Controller. Stateless: all state lives on the stash
// passed to Sync.
func New() *Controller { return &Controller{} }

// Sync runs the full fetch/merge/push decision table against s (§4.5).
func (c *Controller) Sync(ctx context.Context, s *stash.Stash) error {
	logger := s.Logger()

	if _, err := s.RepairDanglingRefs(); err != nil {
		return fmt.Errorf("syncctl: repair dangling refs: %w", err)
	}

	remote := s.ProviderRemote()
	if remote.Fetcher == nil || remote.Pusher == nil {
		logger.Debug("sync skipped: no provider configured")
		return nil
	}

	currentSnapshot, err := computeSnapshot(s)
	if err != nil {
		return fmt.Errorf("syncctl: computing local snapshot: %w", err)
	}

	hasLocalChanges := !snapshotsEqual(&currentSnapshot, s.LastPushedSnapshot())

	var fetchResult transport.FetchResult

	remoteMissing := false

	err = withRetry(ctx, func() error {
		res, ferr := remote.Fetcher.Fetch(ctx)
		if ferr != nil {
			if errors.Is(ferr, transport.ErrRemoteMissing) {
				remoteMissing = true
				return nil
			}

			return toSyncError("syncctl: fetch", ferr)
		}

		fetchResult = res

		return nil
	})
	if err != nil {
		return fmt.Errorf("syncctl: fetch: %w", err)
	}

	remoteDocsEmpty := remoteMissing || len(fetchResult.Docs) == 0
	unchanged := !remoteMissing && fetchResult.Unchanged

	switch {
	case unchanged && !hasLocalChanges:
		logger.Debug("sync: no-op, nothing changed")
		return nil

	case unchanged && hasLocalChanges:
		return c.push(ctx, s, currentSnapshot, logger)

	case !unchanged && remoteDocsEmpty:
		return c.push(ctx, s, currentSnapshot, logger)

	case !unchanged && !remoteDocsEmpty && !hasLocalChanges:
		if err := c.merge(s, fetchResult, logger); err != nil {
			return fmt.Errorf("syncctl: merge: %w", err)
		}

		merged, err := computeSnapshot(s)
		if err != nil {
			return fmt.Errorf("syncctl: computing merged snapshot: %w", err)
		}

		s.SetLastPushedSnapshot(&merged)

		return s.Save()

	default: // !unchanged && !remoteDocsEmpty && hasLocalChanges
		if err := c.merge(s, fetchResult, logger); err != nil {
			return fmt.Errorf("syncctl: merge: %w", err)
		}

		merged, err := computeSnapshot(s)
		if err != nil {
			return fmt.Errorf("syncctl: computing merged snapshot: %w", err)
		}

		return c.push(ctx, s, merged, logger)
	}
}

// merge implements mergeWithRemote (§4.5 step 5): fresh join when the
// local structure is empty and remote has one, else the normal three-way
// merge with same-path-resurrection protection, followed by the
// content-wins rule (§4.5 step 6).
func (c *Controller) merge(s *stash.Stash, fetch transport.FetchResult, logger *slog.Logger) error {
	remoteStructureBytes, ok := fetch.Docs[structureKey]
	if !ok {
		return nil // nothing to merge
	}

	remoteStructure, err := crdtdoc.LoadStructureDoc(remoteStructureBytes)
	if err != nil {
		return fmt.Errorf("decoding remote structure: %w", err)
	}

	localActive, err := s.Structure().ListActive()
	if err != nil {
		return err
	}

	if len(localActive) == 0 {
		return c.freshJoin(s, remoteStructure, fetch, logger)
	}

	return c.normalMerge(s, remoteStructure, fetch, logger)
}

func (c *Controller) freshJoin(s *stash.Stash, remoteStructure *crdtdoc.StructureDoc, fetch transport.FetchResult, logger *slog.Logger) error {
	s.ReplaceStructure(remoteStructure)

	docs := make(map[string]*crdtdoc.FileDoc)

	for key, data := range fetch.Docs {
		if key == structureKey {
			continue
		}

		doc, err := crdtdoc.LoadFileDoc(data)
		if err != nil {
			logger.Warn("skipping undecodable remote file doc on fresh join", slog.String("docId", key), slog.Any("err", err))
			continue
		}

		docs[key] = doc
	}

	s.ReplaceFileDocs(docs)

	return s.MarkAllActiveKnown()
}

func (c *Controller) normalMerge(s *stash.Stash, remoteStructure *crdtdoc.StructureDoc, fetch transport.FetchResult, logger *slog.Logger) error {
	localEntries, err := s.Structure().ListAllIncludingDeleted()
	if err != nil {
		return err
	}

	localByPath := make(map[string]string, len(localEntries))
	for _, e := range localEntries {
		localByPath[e.Path] = e.DocID
	}

	// Same-path resurrection: local and remote disagree on the docId at
	// a shared path. Snapshot the local doc's content so it survives a
	// concurrent remote tombstone, then restore it with add() after the
	// structure merge (§4.5 step 5).
	type resurrection struct {
		path     string
		docID    string
		isText   bool
		text     string
		hash     string
		size     int64
	}

	var toRestore []resurrection

	localDocs := s.FileDocsSnapshot()

	remoteEntries, err := remoteStructure.ListAllIncludingDeleted()
	if err != nil {
		return err
	}

	for _, re := range remoteEntries {
		localDocID, ok := localByPath[re.Path]
		if !ok || localDocID == re.DocID {
			continue
		}

		doc, ok := localDocs[localDocID]
		if !ok {
			continue
		}

		isText, err := doc.IsText()
		if err != nil {
			return err
		}

		r := resurrection{path: re.Path, docID: localDocID, isText: isText}

		if isText {
			content, err := doc.GetContent()
			if err != nil {
				return err
			}

			r.text = content
		} else {
			hash, err := doc.Hash()
			if err != nil {
				return err
			}

			size, err := doc.Size()
			if err != nil {
				return err
			}

			r.hash, r.size = hash, size
		}

		toRestore = append(toRestore, r)
	}

	if err := s.Structure().Merge(remoteStructure); err != nil {
		return fmt.Errorf("merging structure docs: %w", err)
	}

	for _, r := range toRestore {
		if _, err := s.Structure().Add(r.path, r.docID, 0); err != nil {
			return fmt.Errorf("restoring resurrected %q: %w", r.path, err)
		}

		if r.isText {
			doc, err := crdtdoc.CreateText(s.ActorID(), r.text)
			if err != nil {
				return err
			}

			s.SetFileDoc(r.path, r.docID, doc)
		} else {
			doc, err := crdtdoc.CreateBinary(s.ActorID(), r.hash, r.size)
			if err != nil {
				return err
			}

			s.SetFileDoc(r.path, r.docID, doc)
		}
	}

	mergedDocs := s.FileDocsSnapshot()

	for key, data := range fetch.Docs {
		if key == structureKey {
			continue
		}

		remoteDoc, err := crdtdoc.LoadFileDoc(data)
		if err != nil {
			logger.Warn("skipping undecodable remote file doc", slog.String("docId", key), slog.Any("err", err))
			continue
		}

		if localDoc, ok := mergedDocs[key]; ok {
			if err := localDoc.Merge(remoteDoc); err != nil {
				return fmt.Errorf("merging file doc %q: %w", key, err)
			}
		} else {
			s.SetFileDoc(pathForDocID(remoteStructure, key), key, remoteDoc)
		}
	}

	if err := c.contentWins(s, logger); err != nil {
		return fmt.Errorf("applying content-wins: %w", err)
	}

	return s.MarkAllActiveKnown()
}

func pathForDocID(structureDoc *crdtdoc.StructureDoc, docID string) string {
	entries, err := structureDoc.ListAllIncludingDeleted()
	if err != nil {
		return ""
	}

	for _, e := range entries {
		if e.DocID == docID {
			return e.Path
		}
	}

	return ""
}

// contentWins implements §4.5 step 6: for each tombstoned path, if local
// content is non-empty and the local doc's heads differ from what was
// last agreed with the remote (i.e. real divergence, not a no-op merge of
// already-agreed content), the tombstone is spurious, so clear it.
func (c *Controller) contentWins(s *stash.Stash, logger *slog.Logger) error {
	tombstoned, err := s.Structure().ListDeleted()
	if err != nil {
		return err
	}

	docs := s.FileDocsSnapshot()
	lastPushed := s.LastPushedSnapshot()

	for _, e := range tombstoned {
		doc, ok := docs[e.DocID]
		if !ok {
			continue
		}

		isText, err := doc.IsText()
		if err != nil || !isText {
			continue // binary CRDT tie-break only, no content-wins (§9)
		}

		content, err := doc.GetContent()
		if err != nil || content == "" {
			continue
		}

		if lastPushed != nil && lastPushed.Docs[e.DocID] == doc.HeadsFingerprint() {
			continue // unchanged since what we last agreed, nothing to resurrect
		}

		if _, err := s.Structure().Add(e.Path, e.DocID, e.Created); err != nil {
			return err
		}

		logger.Info("content-wins: cleared spurious tombstone", slog.String("path", e.Path))
		s.RecordConflict(e.Path)
	}

	return nil
}

// push implements pushCurrentState (§4.5 step 7): build the docs/files
// payload, compute the advisory changedPaths hint and pathsToDelete, and
// call the provider.
func (c *Controller) push(ctx context.Context, s *stash.Stash, current stash.Snapshot, logger *slog.Logger) error {
	remote := s.ProviderRemote()

	docsPayload := make(map[string][]byte)

	structureBytes, err := s.Structure().Save()
	if err != nil {
		return fmt.Errorf("syncctl: saving structure for push: %w", err)
	}

	docsPayload[structureKey] = structureBytes

	fileDocs := s.FileDocsSnapshot()
	for docID, doc := range fileDocs {
		data, err := doc.Save()
		if err != nil {
			return fmt.Errorf("syncctl: saving doc %q for push: %w", docID, err)
		}

		docsPayload[docID] = data
	}

	active, err := s.Structure().ListActive()
	if err != nil {
		return err
	}

	filesPayload := make(map[string][]byte, len(active))

	for _, e := range active {
		doc, ok := fileDocs[e.DocID]
		if !ok {
			continue
		}

		isText, err := doc.IsText()
		if err != nil {
			return err
		}

		if isText {
			content, err := doc.GetContent()
			if err != nil {
				return err
			}

			filesPayload[e.Path] = []byte(content)
		} else {
			hash, err := doc.Hash()
			if err != nil {
				return err
			}

			blob, err := s.Blobs().Get(hash)
			if err == nil {
				filesPayload[e.Path] = blob
			}
		}
	}

	toDelete, err := tombstonedPaths(s)
	if err != nil {
		return err
	}

	req := transport.PushRequest{
		Docs:          docsPayload,
		Files:         filesPayload,
		ChangedPaths:  changedPaths(&current, s.LastPushedSnapshot()),
		PathsToDelete: toDelete,
	}

	if err := withRetry(ctx, func() error {
		if perr := remote.Pusher.Push(ctx, req); perr != nil {
			return toSyncError("syncctl: push", perr)
		}

		return nil
	}); err != nil {
		return fmt.Errorf("syncctl: push: %w", err)
	}

	s.SetLastPushedSnapshot(&current)
	logger.Info("sync pushed", slog.Int("changedPaths", len(req.ChangedPaths)), slog.Int("deleted", len(req.PathsToDelete)))

	return s.Save()
}

// toSyncError wraps a raw transport error as stasherr.SyncError unless
// it is already tagged. Providers that don't classify retryability are
// treated as non-retryable by default, since retrying a non-idempotent
// auth failure would be worse than surfacing it.
func toSyncError(op string, err error) error {
	var tagged *stasherr.Error
	if errors.As(err, &tagged) {
		return err
	}

	return stasherr.NewSync(op, false, err)
}


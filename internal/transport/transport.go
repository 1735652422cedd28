// Package transport defines the abstract remote contract (C6) consumed by
// the sync controller, plus an in-memory test-double implementation.
// Concrete providers (a versioned-tree store such as a Git host) are
// explicitly out of scope (purpose-scope.md §1), only the interface and
// a reference test double live here.
package transport

import (
	"context"
	"errors"
)

// ErrRemoteMissing is the distinguished "remote does not exist yet" signal
// Fetch must return instead of an empty-but-successful result (§4.6:
// "a distinguished NotFound, not an error-code pun with empty docs").
var ErrRemoteMissing = errors.New("transport: remote missing")

// FetchResult is the outcome of Fetch (§4.6).
type FetchResult struct {
	Docs      map[string][]byte // "structure" or docId -> automerge save bytes
	Unchanged bool              // true: provider guarantees nothing changed since last fetch
}

// PushRequest is the payload passed to Push (§4.5 step 7, §4.6).
type PushRequest struct {
	Docs          map[string][]byte // "structure" or docId -> automerge save bytes
	Files         map[string][]byte // path -> rendered bytes (text or blob) for active entries
	ChangedPaths  []string          // advisory hint: MAY push more, MUST NOT push less
	PathsToDelete []string          // user-visible paths to remove remotely
}

// Remote is the capability set a stash's configured provider implements
// (§4.6, §9 "dynamic dispatch … tagged-variant / trait-object approach").
// Create and Delete are optional (some providers are read-only or
// permanent); a provider that doesn't support one leaves that field nil,
// and CanCreate/CanDelete report it.
type Remote struct {
	Fetcher Fetcher
	Pusher  Pusher
	Creator Creator // may be nil
	Deleter Deleter // may be nil
}

// Fetcher retrieves the remote's current CRDT document set. Any opaque
// revision token the provider uses to compute Unchanged (§4.6
// syncStateHint) is the provider's own internal state, never threaded
// through this interface.
type Fetcher interface {
	Fetch(ctx context.Context) (FetchResult, error)
}

// Pusher writes the local state to the remote.
type Pusher interface {
	Push(ctx context.Context, req PushRequest) error
}

// Creator idempotently provisions the remote coordinate.
type Creator interface {
	Create(ctx context.Context) error
}

// Deleter removes the remote coordinate.
type Deleter interface {
	Delete(ctx context.Context) error
}

// CanCreate reports whether r supports Create.
func (r Remote) CanCreate() bool { return r.Creator != nil }

// CanDelete reports whether r supports Delete.
func (r Remote) CanDelete() bool { return r.Deleter != nil }

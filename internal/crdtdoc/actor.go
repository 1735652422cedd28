package crdtdoc

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/oklog/ulid/v2"
)

// DeriveActorID builds the 64-hex-character CRDT actor id for a stash from a
// site-local identifier (reconciliation-algorithm.md §4.1 open question:
// hostname + baseDir + stash name is stable across restarts on one machine
// for one stash, and distinct across machines/stashes without a network
// round-trip, see DESIGN.md "actor id derivation").
func DeriveActorID(hostname, baseDir, stashName string) string {
	sum := sha256.Sum256([]byte(hostname + ":" + baseDir + ":" + stashName))
	return hex.EncodeToString(sum[:])
}

// NewDocID generates a fresh ULID-class identifier for a structure-document
// entry (§4.1 add()). ULIDs are lexicographically sortable by creation time,
// which makes directory listings of docs/ naturally chronological.
func NewDocID() string {
	return ulid.Make().String()
}

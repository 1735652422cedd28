package reconcile

import (
	"github.com/rupertsworld/stash/internal/crdtdoc"
)

// applyLineDiff translates the difference between prior (the last known
// disk snapshot) and next (the freshly read disk content) into a single
// CRDT patch, a delete of the differing middle range followed by an
// insert of next's middle range (§4.4 "on change": "translate the diff
// into a sequence of (delete at i, count)/(insert at i, text) CRDT
// operations, applied in order with a running offset"). A common-prefix/
// common-suffix split is the minimal diff that satisfies that contract
// for the common case of a contiguous local edit; it degenerates to a
// full replace when prior and next share no common affix.
func applyLineDiff(doc *crdtdoc.FileDoc, prior, next string) error {
	if prior == next {
		return nil
	}

	priorRunes := []rune(prior)
	nextRunes := []rune(next)

	prefix := commonPrefixLen(priorRunes, nextRunes)
	suffix := commonSuffixLen(priorRunes[prefix:], nextRunes[prefix:])

	deleteEnd := len(priorRunes) - suffix
	insertEnd := len(nextRunes) - suffix

	return doc.ApplyPatch(prefix, deleteEnd, string(nextRunes[prefix:insertEnd]))
}

func commonPrefixLen(a, b []rune) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	i := 0
	for i < n && a[i] == b[i] {
		i++
	}

	return i
}

func commonSuffixLen(a, b []rune) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	i := 0
	for i < n && a[len(a)-1-i] == b[len(b)-1-i] {
		i++
	}

	return i
}

// Package stasherr defines the tagged error kinds shared across the stash
// engine (reconciliation-algorithm.md §7). Retryability and other
// dispositions live on the error value itself, never inferred from
// message text, so callers can branch with errors.As.
package stasherr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for programmatic handling.
type Kind string

// Error kinds per §7.
const (
	KindNotFound      Kind = "not_found"
	KindAlreadyExists Kind = "already_exists"
	KindValidation    Kind = "validation"
	KindSync          Kind = "sync"
	KindCorruptState  Kind = "corrupt_state"
	KindIO            Kind = "io"
)

// Error is a tagged stash error. Sync errors additionally carry a
// Retryable flag observable by the caller without parsing Error().
type Error struct {
	Kind      Kind
	Op        string // package/operation that raised it, e.g. "stash: load"
	Retryable bool   // only meaningful when Kind == KindSync
	Err       error  // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, stasherr.NotFound) style sentinel checks by
// comparing Kind, ignoring Op/Err/Retryable.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}

	return e.Kind == other.Kind
}

// NotFound is a sentinel for errors.Is(err, stasherr.NotFound).
var NotFound = &Error{Kind: KindNotFound}

// AlreadyExists is a sentinel for errors.Is(err, stasherr.AlreadyExists).
var AlreadyExists = &Error{Kind: KindAlreadyExists}

// Validation is a sentinel for errors.Is(err, stasherr.Validation).
var Validation = &Error{Kind: KindValidation}

// CorruptState is a sentinel for errors.Is(err, stasherr.CorruptState).
var CorruptState = &Error{Kind: KindCorruptState}

// NewNotFound builds a KindNotFound error.
func NewNotFound(op string, err error) *Error {
	return &Error{Kind: KindNotFound, Op: op, Err: err}
}

// NewAlreadyExists builds a KindAlreadyExists error.
func NewAlreadyExists(op string, err error) *Error {
	return &Error{Kind: KindAlreadyExists, Op: op, Err: err}
}

// NewValidation builds a KindValidation error.
func NewValidation(op string, err error) *Error {
	return &Error{Kind: KindValidation, Op: op, Err: err}
}

// NewCorruptState builds a KindCorruptState error. Callers repair and log a
// warning rather than treating this as fatal (§7 "Propagation").
func NewCorruptState(op string, err error) *Error {
	return &Error{Kind: KindCorruptState, Op: op, Err: err}
}

// NewIO builds a KindIO error for unexpected filesystem failures.
func NewIO(op string, err error) *Error {
	return &Error{Kind: KindIO, Op: op, Err: err}
}

// NewSync builds a KindSync transport error. retryable must reflect the
// transport's own classification (auth/permission failures are never
// retryable; transient network/timeout/5xx are).
func NewSync(op string, retryable bool, err error) *Error {
	return &Error{Kind: KindSync, Op: op, Retryable: retryable, Err: err}
}

// IsRetryableSync reports whether err is a KindSync error with Retryable set.
func IsRetryableSync(err error) bool {
	var se *Error
	if !errors.As(err, &se) {
		return false
	}

	return se.Kind == KindSync && se.Retryable
}

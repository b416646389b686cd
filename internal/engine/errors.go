package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a sync failure for containment decisions.
type ErrorKind string

const (
	// KindTransient covers network failures, timeouts and rate limits.
	// Contained per note; the note is retried next cycle.
	KindTransient ErrorKind = "transient"

	// KindAuth means a credential was rejected by an adapter. Cycle-fatal:
	// remaining actions would fail identically, so the cycle aborts. The
	// scheduler still proceeds to the next tick since credentials may be
	// rotated externally between cycles.
	KindAuth ErrorKind = "auth"

	// KindContentIntegrity means note content was unreadable or unhashable.
	// Contained per note; the record is left in its prior state.
	KindContentIntegrity ErrorKind = "content_integrity"

	// KindStateStore means a durable write failed. Cycle-fatal: the engine
	// cannot safely continue without consistent bookkeeping.
	KindStateStore ErrorKind = "state_store"
)

// SyncError attaches an ErrorKind to an underlying error.
type SyncError struct {
	Kind ErrorKind
	Err  error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a per-note transient failure.
func Transient(err error) error {
	return &SyncError{Kind: KindTransient, Err: err}
}

// AuthError wraps err as a cycle-fatal authentication failure.
func AuthError(err error) error {
	return &SyncError{Kind: KindAuth, Err: err}
}

// IntegrityError wraps err as a per-note content integrity failure.
func IntegrityError(err error) error {
	return &SyncError{Kind: KindContentIntegrity, Err: err}
}

// StateStoreError wraps err as a cycle-fatal state store failure.
func StateStoreError(err error) error {
	return &SyncError{Kind: KindStateStore, Err: err}
}

// KindOf returns the classification of err. Unclassified errors are treated
// as transient: retrying next cycle is always safe, re-uploading unchanged
// content is not.
func KindOf(err error) ErrorKind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindTransient
}

// IsCycleFatal reports whether err must abort the remaining actions of the
// current cycle.
func IsCycleFatal(err error) bool {
	k := KindOf(err)
	return k == KindAuth || k == KindStateStore
}

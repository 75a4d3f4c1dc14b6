package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a terminal task failure. The orchestrator uses the
// kind to decide whether a whole-task retry is worthwhile.
type ErrorKind string

const (
	KindNetworkError         ErrorKind = "network_error"
	KindChallengeUnsupported ErrorKind = "challenge_unsupported"
	KindStepFailed           ErrorKind = "step_failed"
	KindUnlockRejected       ErrorKind = "unlock_rejected"
	KindTimeout              ErrorKind = "timeout"
	KindCancelled            ErrorKind = "cancelled"
)

// ResolveError carries the error kind through the resolution pipeline so the
// state machine can report the originating failure class.
type ResolveError struct {
	Kind ErrorKind
	Err  error
}

func (e *ResolveError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// NewResolveError wraps err with a kind.
func NewResolveError(kind ErrorKind, err error) *ResolveError {
	return &ResolveError{Kind: kind, Err: err}
}

// Errorf builds a kinded error from a format string.
func Errorf(kind ErrorKind, format string, args ...any) *ResolveError {
	return &ResolveError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the ErrorKind from err, defaulting to KindNetworkError for
// plain transport-level errors that were never classified.
func KindOf(err error) ErrorKind {
	var re *ResolveError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindNetworkError
}

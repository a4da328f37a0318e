package domain

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is returned when a device key is missing or unknown.
var ErrUnauthorized = errors.New("unauthorized")

// ValidationError rejects a malformed reading before any side effects.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid field %q: %s", e.Field, e.Reason)
}

// PersistenceError wraps a store failure. The core never retries these:
// retrying mints new document identifiers, so the decision to accept
// possible duplicates belongs to the caller.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// RangeTooLargeError rejects an export window before any store read.
type RangeTooLargeError struct {
	RequestedDays int
	MaxDays       int
}

func (e *RangeTooLargeError) Error() string {
	return fmt.Sprintf("export range of %d days exceeds maximum of %d days", e.RequestedDays, e.MaxDays)
}

// PartialCommitError reports an ingestion request where some batch groups
// committed and others did not. FailedGroups lets the caller decide whether
// to retry the whole request; a retry may duplicate the groups that did
// commit, which the export path tolerates.
type PartialCommitError struct {
	FailedGroups []GroupKey
	Err          error
}

func (e *PartialCommitError) Error() string {
	return fmt.Sprintf("partial commit: %d group(s) failed: %v", len(e.FailedGroups), e.Err)
}

func (e *PartialCommitError) Unwrap() error { return e.Err }

// Package errs defines the error kinds ZipTag surfaces to callers.
//
// Sentinel errors (ErrNotFound, ErrConflictStaleParent, ErrCancelled) are
// matched with errors.Is. The kinds that carry structured fields
// (QueryParseError, ValidationError, DurabilityCorrupt, DurabilityIOFailed)
// are typed structs so callers can errors.As into them for position/offset
// detail, the way storage.ErrInvalidEdge-style sentinels aren't enough once
// a caller needs "where did it go wrong".
package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors matched with errors.Is.
var (
	// ErrConflictStaleParent is returned by Tx.Commit when a staged removal
	// or unlink targets an entity that no longer exists at current_rev.
	ErrConflictStaleParent = errors.New("ziptag: conflict: stale parent revision")

	// ErrCancelled is surfaced when a query's context is cancelled between
	// plan operators or at a join-partition boundary.
	ErrCancelled = errors.New("ziptag: query cancelled")

	// ErrNotFound is the sentinel for an explicit lookup miss. No function
	// in this module returns it: lookups report a miss with an ok=false
	// result, and filters treat a miss as an empty set.
	ErrNotFound = errors.New("ziptag: not found")

	// ErrTxClosed is returned by any Tx operation performed after Commit
	// or Abort has already run.
	ErrTxClosed = errors.New("ziptag: transaction already closed")
)

// QueryTypeError is raised when a query references an unknown ttype and
// the store is configured with StrictTypes. Otherwise such a reference is
// silently treated as an empty set.
type QueryTypeError struct {
	TType string
}

func (e *QueryTypeError) Error() string {
	return fmt.Sprintf("ziptag: unknown ttype %q", e.TType)
}

// QueryParseError reports a DSL syntax error or unknown function reference.
type QueryParseError struct {
	Reason     string
	Position   int
	Suggestion string
}

func (e *QueryParseError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("ziptag: parse error at %d: %s (%s)", e.Position, e.Reason, e.Suggestion)
	}
	return fmt.Sprintf("ziptag: parse error at %d: %s", e.Position, e.Reason)
}

// ValidationError reports an oversize value, a malformed ttype identifier,
// or a self-link attempt on the write path.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ziptag: validation failed for %s: %s", e.Field, e.Reason)
}

// DurabilityError is a generic durability failure wrapping a cause. The
// WAL and snapshot code return DurabilityCorrupt or DurabilityIOFailed
// directly, not wrapped in a DurabilityError, so callers errors.As into
// those two for WAL/snapshot failures.
type DurabilityError struct {
	Cause error
}

func (e *DurabilityError) Error() string { return fmt.Sprintf("ziptag: durability error: %v", e.Cause) }
func (e *DurabilityError) Unwrap() error { return e.Cause }

// DurabilityCorrupt reports a CRC mismatch mid-log at the given byte offset.
// A truncated trailing record is NOT this error — it is treated as
// end-of-log during recovery.
type DurabilityCorrupt struct {
	Offset int64
}

func (e *DurabilityCorrupt) Error() string {
	return fmt.Sprintf("ziptag: wal corrupt at offset %d", e.Offset)
}

// DurabilityIOFailed wraps an underlying I/O failure from the WAL or
// snapshot writer (disk full, permission denied, etc).
type DurabilityIOFailed struct {
	Cause error
}

func (e *DurabilityIOFailed) Error() string {
	return fmt.Sprintf("ziptag: durability i/o failed: %v", e.Cause)
}
func (e *DurabilityIOFailed) Unwrap() error { return e.Cause }

package statusdb

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates no record matches the key.
	ErrNotFound = errors.New("record not found")

	// ErrConflict indicates the record revision changed since it was read.
	ErrConflict = errors.New("revision conflict")

	// ErrUnavailable indicates the backend could not be reached.
	ErrUnavailable = errors.New("status store unavailable")
)

// StoreError wraps backend errors with operation context.
type StoreError struct {
	// Op is the operation that failed (e.g., "find", "update").
	Op string

	// Backend is the store backend name.
	Backend string

	// Key is the record key or query, if any.
	Key string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s %s: %v", e.Backend, e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if err indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if err indicates a revision conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsUnavailable returns true if err indicates an unreachable backend.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// Store is a status record backend.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Find returns the record for k. Numeric lanes also match records whose
	// lane was stored as a number. Returns ErrNotFound if absent.
	Find(ctx context.Context, k Key) (*Record, error)

	// Create persists a new record and sets its ID and Rev.
	Create(ctx context.Context, r *Record) error

	// Update persists r if r.Rev is still current, then sets the new Rev.
	// Returns ErrConflict otherwise.
	Update(ctx context.Context, r *Record) error

	// ListByRun returns the records of a run, optionally limited to a project,
	// ordered by project, lane and sample.
	ListByRun(ctx context.Context, runID, project string) ([]*Record, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

/*
errors.go - Centralized error types for the recurrence engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The API layer maps these onto HTTP status codes.

ERROR CATEGORIES:
  1. Configuration errors - invalid frequency/anchor combinations; fail
     fast, no writes attempted
  2. Not-found errors - missing recurrence/occurrence; surfaced, no writes
  3. Storage errors - batch commit failures; safely retryable because
     writes are atomic and dedup is idempotent
  4. Integrity warnings - dedup heuristics found nothing where existing
     occurrences were expected; logged, never fatal

USAGE:
  if errors.Is(err, engine.ErrConfiguration) {
      // 400, never retried
  }

SEE ALSO:
  - date.go: Raises ConfigurationError from schedule validation
  - materialize.go: Logs the integrity warning path
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrConfiguration is returned for invalid frequency/anchor combinations,
	// including FreqNone passed to a recurring operation. Never retried.
	ErrConfiguration = errors.New("invalid recurrence configuration")

	// ErrRecurrenceNotFound is returned when a recurrence id does not exist.
	ErrRecurrenceNotFound = errors.New("recurrence not found")

	// ErrOccurrenceNotFound is returned when an occurrence id does not exist.
	ErrOccurrenceNotFound = errors.New("occurrence not found")

	// ErrStorage is returned when a storage batch fails to commit. Because
	// writes are all-or-nothing and generation is idempotent, the same
	// operation is safe to re-invoke.
	ErrStorage = errors.New("storage operation failed")

	// ErrDuplicateInstance is returned when an occurrence with the same
	// instance key already exists. This is the write-time dedup re-check
	// for stores without transactional isolation.
	ErrDuplicateInstance = errors.New("occurrence instance already exists")

	// ErrVersionOrder is returned when a new version's effective date does
	// not advance past the active version's.
	ErrVersionOrder = errors.New("version effective date must advance")

	// ErrImmutableOccurrence is returned when a caller asks the engine to
	// mutate a settled or user-overridden occurrence.
	ErrImmutableOccurrence = errors.New("occurrence is settled or overridden")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConfigurationError describes an invalid frequency/anchor combination.
type ConfigurationError struct {
	Frequency Frequency
	Field     string
	Message   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration (%s, %s): %s", e.Frequency, e.Field, e.Message)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// StorageError wraps a storage-layer failure with the operation that failed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return ErrStorage }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if re-invoking the same operation might succeed.
// Configuration and not-found errors are never retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorage)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrVersionOrder) ||
		errors.Is(err, ErrImmutableOccurrence) ||
		errors.Is(err, ErrDuplicateInstance)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecurrenceNotFound) ||
		errors.Is(err, ErrOccurrenceNotFound)
}

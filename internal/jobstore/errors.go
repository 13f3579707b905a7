package jobstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

// Sentinel errors for job store operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDuplicateJob indicates a job with the same job_id already exists.
	ErrDuplicateJob = errors.New("job already exists")

	// ErrNotFound indicates the requested job does not exist.
	ErrNotFound = errors.New("job not found")

	// ErrConflict indicates a transaction conflict from concurrent writes.
	// The orchestrator treats this as retryable.
	ErrConflict = errors.New("transaction conflict")

	// ErrInvalidTransition indicates a status update the state machine does
	// not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// wrapQueryError inspects a SurrealDB error and wraps it with the appropriate
// sentinel error if it's a known query error type. Returns the original error
// if it doesn't match known patterns.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}

	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) {
		msg := queryErr.Message
		if strings.Contains(msg, "already exists") {
			return fmt.Errorf("%w: %s", ErrDuplicateJob, msg)
		}
		if strings.Contains(msg, "Transaction conflict") {
			return fmt.Errorf("%w: %s", ErrConflict, msg)
		}
	}

	return err
}

// IsRetryable reports whether an error belongs to the small set of transient
// storage errors that justify requeueing a job.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

package store

import (
	"fmt"

	"github.com/rfaguiar/courier/internal/status"
)

// ValidationError rejects a malformed input before it enters the store.
// Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError is returned by mutations referencing an unknown message id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("message %s not found", e.ID)
}

// InvalidTransitionError is returned when a status mutation violates the
// delivery transition table. The mutation is a no-op.
type InvalidTransitionError struct {
	ID   string
	From status.Status
	To   status.Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("message %s: invalid transition %s -> %s", e.ID, e.From, e.To)
}

// StorageError wraps a local persistence failure. Fatal to the current
// operation; callers surface it rather than papering over a corrupt store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

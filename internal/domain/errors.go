package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks structurally invalid input. Never retried.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks a missing durable record.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a write rejected by the current record state.
	ErrConflict = errors.New("conflict")

	// ErrUnrecoverable marks a job failure the queue must not retry.
	ErrUnrecoverable = errors.New("unrecoverable")
)

// Unrecoverable wraps err so the queue drops the job instead of retrying it.
func Unrecoverable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnrecoverable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnrecoverable, err)
}

// IsUnrecoverable reports whether the job carrying err must not be retried.
func IsUnrecoverable(err error) bool {
	return errors.Is(err, ErrUnrecoverable)
}

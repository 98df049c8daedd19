package access

import (
	"errors"
	"fmt"
)

// Domain errors for the access package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, access.ErrValidation) {
//	    // client-fixable input problem
//	}
var (
	// ErrValidation is the parent of every field-level validation failure.
	ErrValidation = errors.New("access: validation failed")

	// ErrNotFound is the parent of every unknown-id error.
	ErrNotFound = errors.New("access: not found")

	// ErrUserNotFound is returned when a user ID does not exist.
	ErrUserNotFound = fmt.Errorf("%w: user", ErrNotFound)

	// ErrScheduleNotFound is returned when a schedule ID does not exist.
	ErrScheduleNotFound = fmt.Errorf("%w: schedule", ErrNotFound)

	// ErrEncryption is returned when the cipher is given unusable input.
	ErrEncryption = errors.New("access: encryption failed")

	// ErrInternalInconsistency means a stored invariant was found broken,
	// e.g. two users matched the same code. It must never occur in correct
	// operation.
	ErrInternalInconsistency = errors.New("access: internal inconsistency")

	// ErrStorage is the parent of every persistence failure.
	ErrStorage = errors.New("access: storage failure")
)

// UserValidationError reports the first invalid user field.
type UserValidationError struct {
	Field   string
	Message string
}

func (e *UserValidationError) Error() string {
	return fmt.Sprintf("user %s: %s", e.Field, e.Message)
}

// Unwrap allows errors.Is(err, ErrValidation).
func (e *UserValidationError) Unwrap() error { return ErrValidation }

// ScheduleValidationError reports the first invalid schedule field.
type ScheduleValidationError struct {
	Field   string
	Message string
}

func (e *ScheduleValidationError) Error() string {
	return fmt.Sprintf("schedule %s: %s", e.Field, e.Message)
}

// Unwrap allows errors.Is(err, ErrValidation).
func (e *ScheduleValidationError) Unwrap() error { return ErrValidation }

// StorageError wraps a persistence failure. The in-memory state it refers to
// has already been applied; only the flush failed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("access: storage %s: %v", e.Op, e.Err)
}

// Unwrap exposes both ErrStorage and the underlying cause.
func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

func userInvalid(field, format string, args ...any) error {
	return &UserValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func scheduleInvalid(field, format string, args ...any) error {
	return &ScheduleValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

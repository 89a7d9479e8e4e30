package calendar

import (
	"errors"
	"fmt"

	"calmerge/internal/model"
)

var (
	// ErrValidation marks malformed input rejected before storage is touched.
	ErrValidation = errors.New("validation failed")
	// ErrSourceUnavailable marks a failed SourceReader call. Retryable.
	ErrSourceUnavailable = errors.New("event source unavailable")
	// ErrOwnershipViolation marks a mutation aimed at a read-only source.
	// It indicates a caller bug and is never retryable.
	ErrOwnershipViolation = errors.New("event source is read-only")
	// ErrWriteConflict marks a write rejected after optimistic apply. Retryable.
	ErrWriteConflict = errors.New("write rejected")
	// ErrNotFound marks an unknown event or exception.
	ErrNotFound = errors.New("not found")
	// ErrOrgMismatch marks a reader that leaked rows of another organization.
	ErrOrgMismatch = errors.New("row belongs to another organization")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

type SourceUnavailableError struct {
	Source model.SourceType
	Err    error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source %s unavailable: %v", e.Source, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error {
	return e.Err
}

func (e *SourceUnavailableError) Is(target error) bool {
	return target == ErrSourceUnavailable
}

type OwnershipViolationError struct {
	SourceType model.SourceType
	ID         string
}

func (e *OwnershipViolationError) Error() string {
	return fmt.Sprintf("cannot mutate %s event %q: only %s events are writable", e.SourceType, e.ID, model.SourceManual)
}

func (e *OwnershipViolationError) Is(target error) bool {
	return target == ErrOwnershipViolation
}

type WriteConflictError struct {
	Op  string
	ID  string
	Err error
}

func (e *WriteConflictError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s rejected: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %q rejected: %v", e.Op, e.ID, e.Err)
}

func (e *WriteConflictError) Unwrap() error {
	return e.Err
}

func (e *WriteConflictError) Is(target error) bool {
	return target == ErrWriteConflict
}

// IsRetryable reports whether the caller may retry the same request.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrOwnershipViolation) || errors.Is(err, ErrValidation) {
		return false
	}
	return errors.Is(err, ErrSourceUnavailable) || errors.Is(err, ErrWriteConflict)
}

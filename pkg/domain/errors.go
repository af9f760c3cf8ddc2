package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is matched by NotFoundError via errors.Is.
var ErrNotFound = errors.New("not found")

// ValidationError lists every business-rule violation found in one payload.
type ValidationError struct {
	Messages []string
}

func (e ValidationError) Error() string {
	switch len(e.Messages) {
	case 0:
		return "validation failed"
	case 1:
		return "validation failed: " + e.Messages[0]
	}
	return fmt.Sprintf("validation failed (%d problems): %s", len(e.Messages), strings.Join(e.Messages, "; "))
}

// NewValidationError builds a ValidationError from one or more messages.
func NewValidationError(messages ...string) ValidationError {
	return ValidationError{Messages: append([]string(nil), messages...)}
}

// ConflictError reports that the per-event lock could not be acquired in time.
// Callers may retry.
type ConflictError struct {
	EventID int64
	Wait    time.Duration
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("event %d is being modified by another request (waited %s)", e.EventID, e.Wait)
}

// NotFoundError reports a missing record addressed directly by the caller.
type NotFoundError struct {
	Entity EntityType
	ID     int64
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// Is makes errors.Is(err, ErrNotFound) succeed.
func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ReferenceError reports a record whose parent or sibling cannot be resolved.
type ReferenceError struct {
	Entity   EntityType
	ID       int64
	Parent   EntityType
	ParentID int64
}

func (e ReferenceError) Error() string {
	if e.ID == 0 {
		return fmt.Sprintf("%s references missing %s %d", e.Entity, e.Parent, e.ParentID)
	}
	return fmt.Sprintf("%s %d references missing %s %d", e.Entity, e.ID, e.Parent, e.ParentID)
}

// ConfigurationError reports required reference rows that are absent.
type ConfigurationError struct {
	Missing []string
}

func (e ConfigurationError) Error() string {
	return "configuration incomplete: missing " + strings.Join(e.Missing, ", ")
}

// InvariantError wraps a failure of the consistency pipeline on trusted data.
// It is an internal error, not a user-facing validation failure.
type InvariantError struct {
	Op  string
	Err error
}

func (e InvariantError) Error() string {
	return fmt.Sprintf("invariant maintenance failed during %s: %v", e.Op, e.Err)
}

func (e InvariantError) Unwrap() error { return e.Err }

// Package errors provides the error taxonomy shared by the zoostore engine.
//
// Errors fall into three classes:
//   - consistency faults (ErrConsistency): an internal invariant of the
//     cache or the indexes was violated. The transaction is unusable and
//     must be rolled back or the session closed.
//   - state errors (ErrInvalidState): the caller used the API in a way the
//     current lifecycle does not allow. Nothing was modified.
//   - everything else: I/O, parse and validation failures wrapped with context.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases
var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput indicates invalid input or validation failure
	ErrInvalidInput = errors.New("invalid input")
	// ErrAlreadyExists indicates a resource already exists
	ErrAlreadyExists = errors.New("already exists")
	// ErrUnsupported indicates an unsupported operation or format
	ErrUnsupported = errors.New("unsupported")
	// ErrConsistency indicates a broken cache or index invariant
	ErrConsistency = errors.New("consistency fault")
	// ErrInvalidState indicates an operation not allowed in the current lifecycle state
	ErrInvalidState = errors.New("invalid state")
	// ErrClosed indicates use of a closed store or session
	ErrClosed = errors.New("closed")
)

// NotFoundError represents a resource not found error with context
type NotFoundError struct {
	Resource string // Type of resource (e.g., "object", "class", "page")
	ID       string // Identifier of the resource
	Err      error  // Underlying error, if any
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e *NotFoundError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrNotFound
}

// ValidationError represents an input validation error with context
type ValidationError struct {
	Field   string // Field name that failed validation
	Value   string // Value that failed validation
	Message string // Human-readable error message
	Err     error  // Underlying error, if any
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidInput
}

// IOError represents an I/O operation error with context
type IOError struct {
	Operation string // Operation being performed (e.g., "read page", "sync")
	Path      string // File involved, empty for in-memory stores
	Err       error  // Underlying error
}

func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("failed to %s %s: %v", e.Operation, e.Path, e.Err)
	}
	return fmt.Sprintf("failed to %s: %v", e.Operation, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// ParseError represents a decoding error of a binary or textual record
type ParseError struct {
	Format  string // Format being parsed (e.g., "schema record", "header")
	Path    string // File path, if applicable
	Message string // Error details
	Err     error  // Underlying error, if any
}

func (e *ParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("failed to parse %s at %s: %s", e.Format, e.Path, e.Message)
	}
	return fmt.Sprintf("failed to parse %s: %s", e.Format, e.Message)
}

func (e *ParseError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidInput
}

// UnsupportedError represents an unsupported feature or format
type UnsupportedError struct {
	Feature string // Feature or format that is unsupported
	Reason  string // Why it's not supported
	Err     error  // Underlying error, if any
}

func (e *UnsupportedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unsupported %s: %s", e.Feature, e.Reason)
	}
	return fmt.Sprintf("unsupported %s", e.Feature)
}

func (e *UnsupportedError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrUnsupported
}

// ConsistencyError reports a violated cache or index invariant.
// It always indicates a bug in the engine, never a caller mistake.
type ConsistencyError struct {
	Op     string // Operation that detected the fault
	Detail string // What was found
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency fault in %s: %s", e.Op, e.Detail)
}

func (e *ConsistencyError) Unwrap() error {
	return ErrConsistency
}

// StateError reports an API call that the current lifecycle does not permit.
type StateError struct {
	Op     string // Operation that was attempted
	Reason string // Why it was rejected
	Err    error  // Underlying sentinel, defaults to ErrInvalidState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s: %s", e.Op, e.Reason)
}

func (e *StateError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidState
}

// Helper functions for creating common errors

// NewNotFound creates a NotFoundError
func NewNotFound(resource, id string) *NotFoundError {
	return &NotFoundError{
		Resource: resource,
		ID:       id,
	}
}

// NewValidation creates a ValidationError
func NewValidation(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewIO creates an IOError
func NewIO(operation, path string, err error) *IOError {
	return &IOError{
		Operation: operation,
		Path:      path,
		Err:       err,
	}
}

// NewParse creates a ParseError
func NewParse(format, path, message string) *ParseError {
	return &ParseError{
		Format:  format,
		Path:    path,
		Message: message,
	}
}

// NewUnsupported creates an UnsupportedError
func NewUnsupported(feature, reason string) *UnsupportedError {
	return &UnsupportedError{
		Feature: feature,
		Reason:  reason,
	}
}

// NewConsistency creates a ConsistencyError with a formatted detail.
func NewConsistency(op, format string, args ...interface{}) *ConsistencyError {
	return &ConsistencyError{
		Op:     op,
		Detail: fmt.Sprintf(format, args...),
	}
}

// NewState creates a StateError
func NewState(op, reason string) *StateError {
	return &StateError{
		Op:     op,
		Reason: reason,
	}
}

// NewClosed creates a StateError that unwraps to ErrClosed.
func NewClosed(op, what string) *StateError {
	return &StateError{
		Op:     op,
		Reason: what + " is closed",
		Err:    ErrClosed,
	}
}

// Wrap adds context to an error. If err is nil, returns nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf adds formatted context to an error. If err is nil, returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// Is wraps errors.Is for convenience
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As for convenience
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// IsConsistency reports whether err is (or wraps) a consistency fault.
func IsConsistency(err error) bool {
	return errors.Is(err, ErrConsistency)
}

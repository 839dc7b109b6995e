// Package errors provides the error taxonomy for perfkit.
//
// This file provides:
// - Reply codes used by the CLI and HTTP surfaces
// - Sentinel errors for all error conditions
// - Error category checking functions
// - ErrorToCode mapping
// - Error wrapping utilities

package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Reply codes - carried in CLI and HTTP replies
// ============================================================================

const (
	CodeOK                int32 = 0
	CodeUnknown           int32 = 1
	CodeInvalidRequest    int32 = 2
	CodeNotFound          int32 = 3
	CodeAlreadyExists     int32 = 4
	CodeInvalidHandle     int32 = 5
	CodeUnsupported       int32 = 6
	CodeResourceExhausted int32 = 7
	CodeDataLoss          int32 = 8
	CodeInternal          int32 = 9
	CodeAborted           int32 = 10
	CodePermissionDenied  int32 = 11
)

// CodeName returns a human-readable name for a reply code.
func CodeName(code int32) string {
	switch code {
	case CodeOK:
		return "OK"
	case CodeUnknown:
		return "Unknown"
	case CodeInvalidRequest:
		return "InvalidRequest"
	case CodeNotFound:
		return "NotFound"
	case CodeAlreadyExists:
		return "AlreadyExists"
	case CodeInvalidHandle:
		return "InvalidHandle"
	case CodeUnsupported:
		return "Unsupported"
	case CodeResourceExhausted:
		return "ResourceExhausted"
	case CodeDataLoss:
		return "DataLoss"
	case CodeInternal:
		return "Internal"
	case CodeAborted:
		return "Aborted"
	case CodePermissionDenied:
		return "PermissionDenied"
	default:
		return fmt.Sprintf("Code(%d)", code)
	}
}

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Counter errors
	ErrInvalidHandle        = errors.New("invalid counter handle")
	ErrDuplicateName        = errors.New("duplicate counter name")
	ErrUnsupportedOperation = errors.New("operation not supported by counter type")
	ErrInvalidPercentile    = errors.New("invalid percentile")
	ErrInvalidKind          = errors.New("invalid counter type")
	ErrRegistryFull         = errors.New("counter registry is full")

	// Not found / already exists
	ErrNotFound        = errors.New("not found")
	ErrCommandNotFound = errors.New("command not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrCommandExists   = errors.New("command already registered")

	// Validation errors
	ErrInvalidName   = errors.New("invalid name")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingField  = errors.New("missing required field")
	ErrInvalidArgs   = errors.New("invalid arguments")

	// Data integrity errors
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrCorruptRecord    = errors.New("corrupt record")
	ErrTruncated        = errors.New("truncated data")

	// Lifecycle errors
	ErrWriterClosed   = errors.New("writer is closed")
	ErrAlreadyRunning = errors.New("already running")

	// ErrAbort marks an unrecoverable invariant break. It is handed to the
	// process-control hook installed in the logging package and is never
	// returned by the counter or checksum code.
	ErrAbort = errors.New("fatal assertion")

	ErrInternal = errors.New("internal error")

	// Access errors
	ErrPermissionDenied = errors.New("permission denied")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// New is a convenience wrapper for errors.New
var New = errors.New

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrCommandNotFound)
}

// IsAlreadyExists returns true if err is an already-exists error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrDuplicateName) ||
		errors.Is(err, ErrCommandExists)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidName) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidArgs) ||
		errors.Is(err, ErrInvalidPercentile) ||
		errors.Is(err, ErrInvalidKind)
}

// IsCounterError returns true if err came from a counter operation that the
// caller can recover from.
func IsCounterError(err error) bool {
	return errors.Is(err, ErrInvalidHandle) ||
		errors.Is(err, ErrDuplicateName) ||
		errors.Is(err, ErrUnsupportedOperation)
}

// IsIntegrity returns true if err reports damaged on-disk data.
func IsIntegrity(err error) bool {
	return errors.Is(err, ErrChecksumMismatch) ||
		errors.Is(err, ErrCorruptRecord) ||
		errors.Is(err, ErrTruncated)
}

// IsAbort returns true if err is a fatal assertion.
func IsAbort(err error) bool {
	return errors.Is(err, ErrAbort)
}

// ============================================================================
// Error to reply code mapping
// ============================================================================

// ErrorToCode maps an error to its reply code.
func ErrorToCode(err error) int32 {
	if err == nil {
		return CodeOK
	}

	switch {
	case Is(err, ErrAbort):
		return CodeAborted
	case Is(err, ErrInvalidHandle):
		return CodeInvalidHandle
	case Is(err, ErrUnsupportedOperation):
		return CodeUnsupported
	case Is(err, ErrRegistryFull):
		return CodeResourceExhausted
	case Is(err, ErrPermissionDenied):
		return CodePermissionDenied
	case IsNotFound(err):
		return CodeNotFound
	case IsAlreadyExists(err):
		return CodeAlreadyExists
	case IsValidation(err):
		return CodeInvalidRequest
	case IsIntegrity(err):
		return CodeDataLoss
	default:
		return CodeInternal
	}
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewNotFound creates a not-found error with context.
func NewNotFound(entityType, identifier string) error {
	return fmt.Errorf("%s '%s': %w", entityType, identifier, ErrNotFound)
}

// NewDuplicate creates a duplicate-name error for a counter key.
func NewDuplicate(key string) error {
	return fmt.Errorf("counter '%s': %w", key, ErrDuplicateName)
}

// NewUnsupported creates an unsupported-operation error.
func NewUnsupported(op, kind string) error {
	return fmt.Errorf("%s on %s counter: %w", op, kind, ErrUnsupportedOperation)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrInvalidConfig)
}

// NewAbort creates a fatal assertion error.
func NewAbort(expr, message string) error {
	if message == "" {
		return fmt.Errorf("%w: %s", ErrAbort, expr)
	}
	return fmt.Errorf("%w: %s: %s", ErrAbort, expr, message)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the collected errors for errors.Is/As support.
func (v *ValidationErrors) Unwrap() []error {
	return v.Errors
}

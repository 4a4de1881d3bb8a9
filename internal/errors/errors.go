package errors

import (
	"fmt"
)

// SyncError is the structured error type for vmrag.
// It carries the stable code surfaced through the tool façade plus context
// for logging and user presentation.
type SyncError struct {
	// Code is the stable error code (e.g., "UNCOMMITTED_CHANGES").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Precondition, Guard, External, ...).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs
	// (branch, commit, counts per change kind).
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried as-is.
	Retryable bool

	// Suggestions are actionable next steps for the caller.
	Suggestions []string
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *SyncError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with SyncError.
func (e *SyncError) Is(target error) bool {
	if t, ok := target.(*SyncError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *SyncError) WithDetail(key, value string) *SyncError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion appends an actionable suggestion for the caller.
// Returns the error for method chaining.
func (e *SyncError) WithSuggestion(suggestion string) *SyncError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// New creates a new SyncError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *SyncError {
	return &SyncError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Newf creates a new SyncError with a formatted message and no cause.
func Newf(code string, format string, args ...any) *SyncError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates a SyncError from an existing error.
// The error's message becomes the SyncError message. If err is already a
// SyncError its code wins and err is returned unchanged.
func Wrap(code string, err error) *SyncError {
	if err == nil {
		return nil
	}
	if se, ok := err.(*SyncError); ok {
		return se
	}
	return New(code, err.Error(), err)
}

// WithOperation annotates an error with the operation it interrupted
// (operation type, branch, commit) before it propagates.
func WithOperation(err *SyncError, operation, branch, commit string) *SyncError {
	if err == nil {
		return nil
	}
	err.WithDetail("operation", operation)
	if branch != "" {
		err.WithDetail("branch", branch)
	}
	if commit != "" {
		err.WithDetail("commit", commit)
	}
	return err
}

// ValidationError creates an input-validation error.
func ValidationError(message string, cause error) *SyncError {
	return New(CodeInvalidInput, message, cause)
}

// OperationError creates a generic operation failure.
func OperationError(message string, cause error) *SyncError {
	return New(CodeOperationFailed, message, cause)
}

// Is reports whether err carries the given stable code.
func Is(err error, code string) bool {
	if err == nil {
		return false
	}
	return GetCode(err) == code
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if se, ok := err.(*SyncError); ok {
		return se.Retryable
	}
	return false
}

// GetCode extracts the error code from a SyncError.
// Returns OPERATION_FAILED for non-nil foreign errors and "" for nil.
func GetCode(err error) string {
	if err == nil {
		return ""
	}
	if se, ok := err.(*SyncError); ok {
		return se.Code
	}
	return CodeOperationFailed
}

// GetCategory extracts the category from a SyncError.
// Returns empty string if not a SyncError.
func GetCategory(err error) Category {
	if se, ok := err.(*SyncError); ok {
		return se.Category
	}
	return ""
}

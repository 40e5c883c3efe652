// Package errors provides structured error types for the event buffer.
// All errors include a category, code, message, and retryable flag so callers
// can branch on failure classes instead of matching strings.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by subsystem.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryCapacity   ErrorCategory = "CAPACITY"
	ErrCategoryCorruption ErrorCategory = "CORRUPTION"
	ErrCategoryArchive    ErrorCategory = "ARCHIVE"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Codes, grouped by category.
const (
	// Validation codes
	CodeInvalidPayload = "INVALID_PAYLOAD"
	CodeEmptyBatch     = "EMPTY_BATCH"
	CodeUnknownTable   = "UNKNOWN_TABLE"
	CodeInvalidLimit   = "INVALID_LIMIT"

	// Storage codes
	CodeUpdateFailed = "UPDATE_FAILED"
	CodeReadFailed   = "READ_FAILED"
	CodeDeleteFailed = "DELETE_FAILED"

	// Capacity codes
	CodeOutOfSpace = "OUT_OF_SPACE"

	// Corruption codes
	CodeChecksumMismatch = "CHECKSUM_MISMATCH"
	CodeMalformedRecord  = "MALFORMED_RECORD"

	// Archive codes
	CodePutFailed      = "PUT_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// StoreError is the structured error type used throughout the buffer.
type StoreError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error formats the error as [CATEGORY:CODE] message.
func (e *StoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the engine or I/O error that caused this one.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// Is matches on category and code only.
func (e *StoreError) Is(target error) bool {
	var t *StoreError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new StoreError.
func New(category ErrorCategory, code, message string) *StoreError {
	return &StoreError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new StoreError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *StoreError {
	return &StoreError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy carrying details.
func (e *StoreError) WithDetails(details map[string]interface{}) *StoreError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable reports whether a retry of the failed operation may succeed.
func IsRetryable(err error) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// GetCategory returns the category of the first StoreError in err's chain.
// Returns empty string if the error is not a StoreError.
func GetCategory(err error) ErrorCategory {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// GetCode returns the code of the first StoreError in err's chain, or "".
func GetCode(err error) string {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// isRetryable reports which failures may succeed on a later attempt.
// Engine failures are usually transient (locked database, full WAL); running
// out of space may clear once the uploader drains the queue.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUpdateFailed:
		return true
	case category == ErrCategoryStorage && code == CodeReadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDeleteFailed:
		return true
	case category == ErrCategoryCapacity && code == CodeOutOfSpace:
		return true
	case category == ErrCategoryArchive && code == CodePutFailed:
		return true
	default:
		return false
	}
}

// Sentinels for errors.Is comparisons. Only category and code are compared.
var (
	ErrOutOfSpace     = New(ErrCategoryCapacity, CodeOutOfSpace, "out of space")
	ErrUpdateFailed   = New(ErrCategoryStorage, CodeUpdateFailed, "update failed")
	ErrReadFailed     = New(ErrCategoryStorage, CodeReadFailed, "read failed")
	ErrDeleteFailed   = New(ErrCategoryStorage, CodeDeleteFailed, "delete failed")
	ErrInvalidPayload = New(ErrCategoryValidation, CodeInvalidPayload, "invalid payload")
)

// Constructors used by the queue, session and archive packages.

func NewValidationError(code, message string) *StoreError {
	return New(ErrCategoryValidation, code, message)
}

func NewStorageError(code, message string, cause error) *StoreError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewCapacityError(message string, cause error) *StoreError {
	return Wrap(ErrCategoryCapacity, CodeOutOfSpace, message, cause)
}

func NewCorruptionError(code, message string) *StoreError {
	return New(ErrCategoryCorruption, code, message)
}

func NewArchiveError(code, message string, cause error) *StoreError {
	return Wrap(ErrCategoryArchive, code, message, cause)
}

func NewInternalError(message string, cause error) *StoreError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}

package errors

import (
	"errors"
	"fmt"
)

// ErrorCode identifies an error category with a stable string value,
// usable in tests and user-facing messages.
type ErrorCode string

const (
	// General errors
	ErrUnknown  ErrorCode = "UNKNOWN"
	ErrInternal ErrorCode = "INTERNAL"

	// Configuration errors
	ErrConfigMissing ErrorCode = "CONFIG_MISSING"
	ErrConfigCorrupt ErrorCode = "CONFIG_CORRUPT"
	ErrAlreadyInit   ErrorCode = "ALREADY_INITIALIZED"

	// Entry errors
	ErrEntryNotFound ErrorCode = "ENTRY_NOT_FOUND"
	ErrEntryExists   ErrorCode = "ENTRY_EXISTS"

	// Ingestion and path errors
	ErrFileNotFound ErrorCode = "FILE_NOT_FOUND"
	ErrInvalidPath  ErrorCode = "INVALID_PATH"

	// Deployment errors
	ErrCorruptState  ErrorCode = "CORRUPT_STATE"
	ErrSymlinkCreate ErrorCode = "SYMLINK_CREATE"

	// Remote synchronization errors
	ErrRemoteDivergence ErrorCode = "REMOTE_DIVERGENCE"
	ErrMergeConflict    ErrorCode = "MERGE_CONFLICT"
	ErrPushRejected     ErrorCode = "PUSH_REJECTED"
	ErrOrphanedFile     ErrorCode = "ORPHANED_FILE"

	// Infrastructure errors
	ErrGitOperation ErrorCode = "GIT_OPERATION"
	ErrLockHeld     ErrorCode = "LOCK_HELD"
	ErrAuth         ErrorCode = "AUTH"
	ErrHostAPI      ErrorCode = "HOST_API"
)

// TetherError is a structured error carrying a code, a message, and
// optional key/value details for context.
type TetherError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Wrapped error
}

// Error implements the error interface.
func (e *TetherError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements the errors.Unwrap interface.
func (e *TetherError) Unwrap() error {
	return e.Wrapped
}

// Is reports whether target is a TetherError with the same code.
func (e *TetherError) Is(target error) bool {
	var targetErr *TetherError
	if errors.As(target, &targetErr) {
		return e.Code == targetErr.Code
	}
	return false
}

// New creates a new TetherError with the given code and message.
func New(code ErrorCode, message string) *TetherError {
	return &TetherError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// Newf creates a new TetherError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *TetherError {
	return &TetherError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Details: make(map[string]interface{}),
	}
}

// Wrap wraps an existing error with a TetherError. Returns nil if err is nil.
func Wrap(err error, code ErrorCode, message string) *TetherError {
	if err == nil {
		return nil
	}
	return &TetherError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Wrapped: err,
	}
}

// Wrapf wraps an existing error with a formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *TetherError {
	if err == nil {
		return nil
	}
	return &TetherError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Details: make(map[string]interface{}),
		Wrapped: err,
	}
}

// WithDetail adds a detail to the error.
func (e *TetherError) WithDetail(key string, value interface{}) *TetherError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsErrorCode checks if an error has a specific error code.
func IsErrorCode(err error, code ErrorCode) bool {
	var terr *TetherError
	if errors.As(err, &terr) {
		return terr.Code == code
	}
	return false
}

// GetErrorCode returns the error code from an error, or ErrUnknown if it
// is not a TetherError.
func GetErrorCode(err error) ErrorCode {
	var terr *TetherError
	if errors.As(err, &terr) {
		return terr.Code
	}
	return ErrUnknown
}

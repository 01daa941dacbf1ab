package spreadsheet

import (
	"errors"
	"fmt"
)

// AppErrorCode represents gRPC-style error codes for application-level errors.
// note that we are skipping error codes that don't make sense for our use-case,
// like unauthenticated, or permission denied.
type AppErrorCode int

const (
	// OK indicates the operation completed successfully.
	OK AppErrorCode = 0

	// Unknown error. Errors raised by APIs that do not return enough error
	// information may be converted to this error.
	Unknown AppErrorCode = 2

	// InvalidArgument indicates client specified an invalid argument.
	InvalidArgument AppErrorCode = 3

	// NotFound means some requested entity (e.g., sheet or named expression)
	// was not found.
	NotFound AppErrorCode = 5

	// AlreadyExists means an attempt to create an entity failed because one
	// already exists.
	AlreadyExists AppErrorCode = 6

	// FailedPrecondition indicates operation was rejected because the
	// system is not in a state required for the operation's execution.
	FailedPrecondition AppErrorCode = 9

	// OutOfRange means operation was attempted past the valid range.
	OutOfRange AppErrorCode = 11

	// Internal errors. Means some invariants expected by underlying
	// system has been broken.
	Internal AppErrorCode = 13
)

var appErrorCodeNames = map[AppErrorCode]string{
	OK:                 "OK",
	Unknown:            "Unknown",
	InvalidArgument:    "InvalidArgument",
	NotFound:           "NotFound",
	AlreadyExists:      "AlreadyExists",
	FailedPrecondition: "FailedPrecondition",
	OutOfRange:         "OutOfRange",
	Internal:           "Internal",
}

func (c AppErrorCode) String() string {
	if name, ok := appErrorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("AppErrorCode(%d)", int(c))
}

// AppError represents errors at the application level (not
// spreadsheet formula errors)
type AppError struct {
	Code    AppErrorCode
	Message string
}

func (e *AppError) Error() string {
	return e.Message
}

// Is matches any *AppError carrying the same code, so callers can write
// errors.Is(err, &AppError{Code: NotFound}).
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewApplicationError creates a new application error
func NewApplicationError(code AppErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// structural errors surfaced by the facade

func ErrSheetNameAlreadyTaken(name string) *AppError {
	return NewApplicationError(AlreadyExists, fmt.Sprintf("sheet name %q is already taken", name))
}

func ErrSheetNotFound(sheet any) *AppError {
	return NewApplicationError(NotFound, fmt.Sprintf("sheet %v not found", sheet))
}

func ErrInvalidArgument(format string, args ...any) *AppError {
	return NewApplicationError(InvalidArgument, fmt.Sprintf(format, args...))
}

func ErrOutOfRange(format string, args ...any) *AppError {
	return NewApplicationError(OutOfRange, fmt.Sprintf(format, args...))
}

func ErrFailedPrecondition(format string, args ...any) *AppError {
	return NewApplicationError(FailedPrecondition, fmt.Sprintf(format, args...))
}

func ErrNamedExpressionNameIsInvalid(name string) *AppError {
	return NewApplicationError(InvalidArgument, fmt.Sprintf("%q is not a valid named expression name", name))
}

func ErrNamedExpressionDoesNotExist(name string) *AppError {
	return NewApplicationError(NotFound, fmt.Sprintf("named expression %q does not exist", name))
}

func ErrNamedExpressionAlreadyExists(name string) *AppError {
	return NewApplicationError(AlreadyExists, fmt.Sprintf("named expression %q already exists", name))
}

// IsAppError reports whether err is an *AppError with the given code
func IsAppError(err error, code AppErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

package fundval

import (
	"errors"
	"fmt"
)

// ErrorCode defines error classification codes for structured error handling.
type ErrorCode string

// Error codes for different error categories.
const (
	ErrCodeInvalidInput        ErrorCode = "INVALID_INPUT"
	ErrCodeUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	ErrCodeParse               ErrorCode = "PARSE_ERROR"
	ErrCodeCacheUnavailable    ErrorCode = "CACHE_UNAVAILABLE"
	ErrCodeInternal            ErrorCode = "INTERNAL_ERROR"
)

// Sentinel errors. Any *Error matches the sentinel with the same code under errors.Is.
var (
	// ErrUpstreamUnavailable indicates network, timeout or non-2xx failures after retries.
	ErrUpstreamUnavailable = NewError(ErrCodeUpstreamUnavailable, "upstream unavailable")
	// ErrParse indicates the upstream response did not have the expected shape.
	ErrParse = NewError(ErrCodeParse, "unrecognized upstream response")
	// ErrCacheUnavailable indicates the cache store could not be reached.
	ErrCacheUnavailable = NewError(ErrCodeCacheUnavailable, "cache store unavailable")
	// ErrInvalidInput indicates a malformed request value.
	ErrInvalidInput = NewError(ErrCodeInvalidInput, "invalid input")
)

// Error represents a structured error with classification code.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Is and errors.As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError wraps an existing error with classification code and additional context.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the code of the outermost *Error in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

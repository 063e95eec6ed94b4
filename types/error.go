package types

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorCode represents a unified error code across the module.
type ErrorCode string

// Transport error codes. These are produced by the classifier at the
// transport boundary and are the only codes the retry coordinator retries.
const (
	ErrResourceExhausted  ErrorCode = "RESOURCE_EXHAUSTED"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrDeadlineExceeded   ErrorCode = "DEADLINE_EXCEEDED"
	ErrCancelled          ErrorCode = "CANCELLED"
	ErrTimeout            ErrorCode = "TIMEOUT"
)

// Terminal error codes
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrContentBlocked     ErrorCode = "CONTENT_BLOCKED"
	ErrRateLimitExhausted ErrorCode = "RATE_LIMIT_EXHAUSTED"
	ErrBudgetExceeded     ErrorCode = "BUDGET_EXCEEDED"
	ErrUnsupportedModel   ErrorCode = "UNSUPPORTED_MODEL"
	ErrInvalidConfig      ErrorCode = "INVALID_CONFIG"
	ErrUpstreamError      ErrorCode = "UPSTREAM_ERROR"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
)

// Context cache error codes
const (
	ErrCacheRateLimited   ErrorCode = "CACHE_RATE_LIMITED"
	ErrCacheCreationError ErrorCode = "CACHE_CREATION_FAILED"
)

// ErrorKind is the closed set of failure categories callers branch on.
// It is derived from the ErrorCode and never set independently.
type ErrorKind string

const (
	KindTransient          ErrorKind = "transient"
	KindContentBlocked     ErrorKind = "content_blocked"
	KindBudget             ErrorKind = "budget"
	KindConfig             ErrorKind = "config"
	KindRateLimitExhausted ErrorKind = "rate_limit_exhausted"
	KindCache              ErrorKind = "cache"
	KindUnknown            ErrorKind = "unknown"
)

// Kind maps an error code onto its ErrorKind.
func (c ErrorCode) Kind() ErrorKind {
	switch c {
	case ErrResourceExhausted, ErrServiceUnavailable, ErrDeadlineExceeded, ErrCancelled, ErrTimeout:
		return KindTransient
	case ErrContentBlocked:
		return KindContentBlocked
	case ErrBudgetExceeded:
		return KindBudget
	case ErrUnsupportedModel, ErrInvalidConfig:
		return KindConfig
	case ErrRateLimitExhausted:
		return KindRateLimitExhausted
	case ErrCacheRateLimited, ErrCacheCreationError:
		return KindCache
	default:
		return KindUnknown
	}
}

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Model      string    `json:"model,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Kind returns the category of the error.
func (e *Error) Kind() ErrorKind {
	return e.Code.Kind()
}

// NewError creates a new Error with the given code and message.
// Transient codes are marked retryable by default.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: code.Kind() == KindTransient}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable overrides the retryable flag.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithModel sets the model identifier.
func (e *Error) WithModel(model string) *Error {
	e.Model = model
	return e
}

// AsError extracts the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
// Errors without a code are mapped by localErrorCode; anything else is "".
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return localErrorCode(err)
}

// localErrorCode maps locally raised failures onto transport codes.
// A local deadline is TIMEOUT; DEADLINE_EXCEEDED is reserved for the
// service reporting its own deadline.
func localErrorCode(err error) ErrorCode {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, context.Canceled):
		return ErrCancelled
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	return ""
}

// KindOf returns the ErrorKind of err, KindUnknown when it carries no code.
func KindOf(err error) ErrorKind {
	return GetErrorCode(err).Kind()
}

// IsKind reports whether err belongs to the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

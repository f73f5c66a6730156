// Package errors provides the error taxonomy shared by the scorer and the
// sandbox client.
//
// Errors carry a Kind so callers can tell input problems (missing or
// oversized files) from transport, protocol and timeout failures without
// string matching.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// =============================================================================
// Base Error Types
// =============================================================================

// Error is the base error type for filescan errors.
type Error struct {
	// Kind indicates the category of error
	Kind Kind

	// Op is the operation being performed (e.g., "sandbox.Scan")
	Op string

	// Message is a human-readable description
	Message string

	// Err is the underlying error
	Err error
}

// Kind represents the kind/category of error.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindNotFound
	KindTooLarge
	KindAuthentication
	KindAuthorization
	KindRateLimit
	KindNetwork
	KindProtocol
	KindTimeout
	KindServer
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindTooLarge:
		return "too_large"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindRateLimit:
		return "rate_limit"
	case KindNetwork:
		return "network"
	case KindProtocol:
		return "protocol"
	case KindTimeout:
		return "timeout"
	case KindServer:
		return "server"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op != "" {
		switch {
		case e.Message == "" && e.Err != nil:
			return fmt.Sprintf("%s: %v", e.Op, e.Err)
		case e.Err != nil:
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target by Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// =============================================================================
// API Error
// =============================================================================

// APIError is a non-2xx response from the sandbox service.
type APIError struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	RequestID  string `json:"request_id,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	code := e.Code
	if code == "" {
		code = "http_" + fmt.Sprint(e.StatusCode)
	}
	if e.RequestID != "" {
		return fmt.Sprintf("[%s] %s: %s (request_id: %s)", code, http.StatusText(e.StatusCode), e.Message, e.RequestID)
	}
	return fmt.Sprintf("[%s] %s: %s", code, http.StatusText(e.StatusCode), e.Message)
}

// =============================================================================
// Timeout Error
// =============================================================================

// TimeoutError reports an analysis job that did not finish before its
// deadline. JobID is always set so the caller can resume instead of
// resubmitting.
type TimeoutError struct {
	JobID   string
	Elapsed time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("analysis %s timed out after %s", e.JobID, e.Elapsed.Round(time.Second))
}

// Is matches ErrTimeout and any other KindTimeout error.
func (e *TimeoutError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == KindTimeout
}

// =============================================================================
// Constructors
// =============================================================================

// E constructs an Error from the given arguments.
// Arguments can be: Kind, string (Op first, then Message), error.
func E(args ...interface{}) error {
	e := &Error{}
	for _, arg := range args {
		switch a := arg.(type) {
		case Kind:
			e.Kind = a
		case string:
			if e.Op == "" {
				e.Op = a
			} else {
				e.Message = a
			}
		case error:
			e.Err = a
		}
	}
	return e
}

// New creates a new simple error.
func New(message string) error {
	return &Error{Message: message}
}

// Wrap wraps an error with the operation name.
func Wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: GetKind(err), Err: err}
}

// =============================================================================
// Error Checkers
// =============================================================================

// GetKind returns the Kind of the error, or KindUnknown.
// APIErrors are mapped to a Kind from their status code.
func GetKind(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) && e.Kind != KindUnknown {
		return e.Kind
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return KindTimeout
	}
	if apiErr, ok := IsAPIError(err); ok {
		return kindFromStatus(apiErr.StatusCode)
	}
	return KindUnknown
}

func kindFromStatus(status int) Kind {
	switch {
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusUnauthorized:
		return KindAuthentication
	case status == http.StatusForbidden:
		return KindAuthorization
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusRequestEntityTooLarge:
		return KindTooLarge
	case status >= 500:
		return KindServer
	case status >= 400:
		return KindInvalidInput
	default:
		return KindUnknown
	}
}

// IsAPIError checks if err is an APIError and returns it.
func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsTimeoutError returns the TimeoutError carried by err, if any.
func IsTimeoutError(err error) (*TimeoutError, bool) {
	var te *TimeoutError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// IsNotFoundError checks if the error is a not found error.
func IsNotFoundError(err error) bool {
	return GetKind(err) == KindNotFound
}

// IsTooLargeError checks if the error is a size-limit error.
func IsTooLargeError(err error) bool {
	return GetKind(err) == KindTooLarge
}

// IsAuthenticationError checks if the error is an authentication error.
func IsAuthenticationError(err error) bool {
	return GetKind(err) == KindAuthentication
}

// IsRateLimitError checks if the error is a rate limit error.
func IsRateLimitError(err error) bool {
	return GetKind(err) == KindRateLimit
}

// IsNetworkError checks if the error is a network error.
func IsNetworkError(err error) bool {
	return GetKind(err) == KindNetwork
}

// IsProtocolError checks if the error is a protocol error.
func IsProtocolError(err error) bool {
	return GetKind(err) == KindProtocol
}

// IsRetryable reports whether err is transient: a later identical request
// may succeed.
func IsRetryable(err error) bool {
	switch GetKind(err) {
	case KindNetwork, KindRateLimit, KindServer:
		return true
	}
	return false
}

// =============================================================================
// Common Errors
// =============================================================================

var (
	// ErrNotFound is returned when a file or remote object does not exist.
	ErrNotFound = &Error{Kind: KindNotFound, Message: "not found"}

	// ErrTooLarge is returned when a file exceeds a size ceiling.
	ErrTooLarge = &Error{Kind: KindTooLarge, Message: "file too large"}

	// ErrTimeout matches every timeout error.
	ErrTimeout = &Error{Kind: KindTimeout, Message: "operation timed out"}

	// ErrInvalidConfig is returned for invalid configuration.
	ErrInvalidConfig = &Error{Kind: KindInvalidInput, Message: "invalid configuration"}

	// ErrMissingAPIKey is returned when the API key is absent or a placeholder.
	ErrMissingAPIKey = &Error{Kind: KindAuthentication, Message: "API key is required"}
)

package api

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failed operation. Callers branch on Kind rather than on
// HTTP status codes or error strings.
type Kind string

const (
	KindBadInput            Kind = "BAD_INPUT"
	KindDisconnected        Kind = "DISCONNECTED"
	KindAuthUnsupported     Kind = "AUTH_UNSUPPORTED"
	KindAuthFailed          Kind = "AUTH_FAILED"
	KindNotFound            Kind = "NOT_FOUND"
	KindRateLimited         Kind = "RATE_LIMITED"
	KindUpstreamUnavailable Kind = "UPSTREAM_UNAVAILABLE"
	KindTimeout             Kind = "TIMEOUT"
	KindNetwork             Kind = "NETWORK"
	KindInvalidResponse     Kind = "INVALID_RESPONSE"
	KindUnknown             Kind = "UNKNOWN"
)

// Error is the single error type crossing package boundaries. The wrapped
// cause may carry upstream detail; SafeMessage never does.
type Error struct {
	Kind          Kind
	Endpoint      string
	UserContextID string
	Retryable     bool
	RetryAfter    time.Duration // server-supplied hint, only for RATE_LIMITED
	cause         error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Endpoint)
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.cause }

// SafeMessage is a user-presentable summary: no keys, no URLs, no upstream
// response bodies.
func (e *Error) SafeMessage() string {
	switch e.Kind {
	case KindBadInput:
		return "The request was malformed."
	case KindDisconnected:
		return "No Coinbase account is connected."
	case KindAuthUnsupported:
		return "The stored Coinbase credentials are in an unsupported format."
	case KindAuthFailed:
		return "Coinbase rejected the stored credentials."
	case KindNotFound:
		return "The requested Coinbase resource was not found."
	case KindRateLimited:
		return "Coinbase is rate limiting requests."
	case KindUpstreamUnavailable:
		return "Coinbase is temporarily unavailable."
	case KindTimeout:
		return "The request to Coinbase timed out."
	case KindNetwork:
		return "Could not reach Coinbase."
	case KindInvalidResponse:
		return "Coinbase returned a response that could not be understood."
	default:
		return "An unexpected error occurred while talking to Coinbase."
	}
}

// Guidance tells the caller what to do next.
func (e *Error) Guidance() string {
	switch e.Kind {
	case KindBadInput:
		return "Check the symbol or parameters and try again."
	case KindDisconnected:
		return "Connect a Coinbase account in integration settings."
	case KindAuthUnsupported:
		return "Spot prices still work; re-link the Coinbase account to restore portfolio and transaction access."
	case KindAuthFailed:
		return "Re-link the Coinbase account to refresh its API key."
	case KindRateLimited:
		if e.RetryAfter > 0 {
			return fmt.Sprintf("Wait %s before retrying.", e.RetryAfter)
		}
		return "Wait a moment before retrying."
	case KindUpstreamUnavailable, KindTimeout, KindNetwork:
		return "Try again shortly."
	case KindNotFound:
		return "Verify the resource exists on this account."
	default:
		return "Try again, and report the issue if it persists."
	}
}

// NewError builds an *Error with the retryable flag derived from the kind.
// The service layer uses it for failures that never reach the wire, such as
// input validation and disconnected users.
func NewError(kind Kind, endpoint, userContextID string, cause error) *Error {
	return &Error{
		Kind:          kind,
		Endpoint:      endpoint,
		UserContextID: userContextID,
		Retryable:     kindRetryable(kind),
		cause:         cause,
	}
}

func newError(kind Kind, endpoint, user string, cause error) *Error {
	return NewError(kind, endpoint, user, cause)
}

func kindRetryable(kind Kind) bool {
	switch kind {
	case KindRateLimited, KindUpstreamUnavailable, KindTimeout, KindNetwork:
		return true
	default:
		return false
	}
}

// KindOf extracts the Kind from any error, defaulting to UNKNOWN.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether the error is transient.
func IsRetryable(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	return false
}

// RetryAfterHint returns the server's Retry-After, or zero when absent.
func RetryAfterHint(err error) time.Duration {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}

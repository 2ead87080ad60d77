// Package apperr classifies errors crossing the proxy's component
// boundaries. Each error carries a Kind that the HTTP layer maps onto the
// Anthropic error envelope; components in the middle only wrap and re-tag.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a failure class.
type Kind string

const (
	// Validation covers malformed requests and conversation-flow violations.
	Validation Kind = "validation"
	// Mapping covers model-lookup failures.
	Mapping Kind = "mapping"
	// UpstreamTransport covers network failures and malformed upstream bodies.
	UpstreamTransport Kind = "upstream_transport"
	// UpstreamStatus covers non-2xx responses from the upstream provider.
	UpstreamStatus Kind = "upstream_status"
	// Conversion covers unexpected shapes that could not be degraded in place.
	Conversion Kind = "conversion"
	// Stream covers chunk decoding failures mid-stream.
	Stream Kind = "stream"
	// Cancelled covers caller disconnects and deadline expiry.
	Cancelled Kind = "cancelled"
)

// Error is a classified error. Status is only meaningful for UpstreamStatus.
type Error struct {
	Kind   Kind
	Status int
	msg    string
	err    error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// New creates a classified error.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...), err: err}
}

// Upstream creates an UpstreamStatus error for an HTTP status code.
func Upstream(status int, format string, args ...any) *Error {
	return &Error{Kind: UpstreamStatus, Status: status, msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind on err's chain, or UpstreamTransport for plain
// errors (the conservative default for anything unclassified).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Cancelled
	}
	return UpstreamTransport
}

// HTTPStatus maps an error to the status code surfaced to the caller.
func HTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		switch e.Kind {
		case Validation:
			return http.StatusBadRequest
		case Mapping, Conversion:
			return http.StatusInternalServerError
		case UpstreamStatus:
			return translateUpstreamStatus(e.Status)
		case UpstreamTransport:
			return http.StatusBadGateway
		case Stream:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}

// WireType maps an error to the Anthropic error envelope type string.
func WireType(err error) string {
	switch HTTPStatus(err) {
	case http.StatusBadRequest:
		return "invalid_request_error"
	case http.StatusUnauthorized:
		return "authentication_error"
	case http.StatusForbidden:
		return "permission_error"
	case http.StatusNotFound:
		return "not_found_error"
	case http.StatusTooManyRequests:
		return "rate_limit_error"
	case http.StatusServiceUnavailable:
		return "overloaded_error"
	default:
		return "api_error"
	}
}

// translateUpstreamStatus keeps caller-meaningful 4xx codes and folds
// everything else into 502.
func translateUpstreamStatus(status int) int {
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
		http.StatusNotFound, http.StatusTooManyRequests:
		return status
	case http.StatusServiceUnavailable:
		return http.StatusServiceUnavailable
	case http.StatusGatewayTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

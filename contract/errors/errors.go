package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error codes for the bus contracts. Keep stable; used across adapters, router and handlers.
const (
	ErrCodeHandlerExists       = "servicebus.handler_exists"
	ErrCodeEnqueueFailed       = "servicebus.enqueue_failed"
	ErrCodePublishFailed       = "servicebus.publish_failed"
	ErrCodeSerializationFailed = "servicebus.serialization_failed"
	ErrCodeConnectionLost      = "servicebus.connection_lost"

	ErrCodeProtocol         = "api.protocol_error"
	ErrCodeRouteNotFound    = "api.route_not_found"
	ErrCodeMethodNotAllowed = "api.method_not_allowed"
	ErrCodeNotFound         = "api.not_found"
	ErrCodeValidation       = "api.validation_failed"
	ErrCodeConflict         = "api.conflict"
	ErrCodeDuplicateRequest = "api.duplicate_request"
	ErrCodeUnauthorized     = "api.unauthorized"
	ErrCodeRateLimited      = "api.rate_limited"
	ErrCodeUpstream         = "api.upstream_failed"
	ErrCodeInternal         = "api.internal"
)

// Code returns an error value that carries only a code string.
// It implements error by returning the code string in Error().
func Code(code string) error { return codedError(code) }

type codedError string

func (e codedError) Error() string { return string(e) }

var (
	ErrHandlerExists       = Code(ErrCodeHandlerExists)
	ErrEnqueueFailed       = Code(ErrCodeEnqueueFailed)
	ErrPublishFailed       = Code(ErrCodePublishFailed)
	ErrSerializationFailed = Code(ErrCodeSerializationFailed)
	ErrConnectionLost      = Code(ErrCodeConnectionLost)

	ErrProtocol         = Code(ErrCodeProtocol)
	ErrRouteNotFound    = Code(ErrCodeRouteNotFound)
	ErrMethodNotAllowed = Code(ErrCodeMethodNotAllowed)
	ErrNotFound         = Code(ErrCodeNotFound)
	ErrValidation       = Code(ErrCodeValidation)
	ErrConflict         = Code(ErrCodeConflict)
	ErrDuplicateRequest = Code(ErrCodeDuplicateRequest)
	ErrUnauthorized     = Code(ErrCodeUnauthorized)
	ErrRateLimited      = Code(ErrCodeRateLimited)
	ErrUpstream         = Code(ErrCodeUpstream)
	ErrInternal         = Code(ErrCodeInternal)
)

// Error pairs a coded kind with a message that is safe to return to the caller.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

// Newf builds a caller-facing error of the given kind.
func Newf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Status maps an error to the status code placed in the response envelope.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	case stderrors.Is(err, ErrProtocol),
		stderrors.Is(err, ErrValidation):
		return http.StatusBadRequest

	case stderrors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized

	case stderrors.Is(err, ErrRouteNotFound),
		stderrors.Is(err, ErrNotFound):
		return http.StatusNotFound

	case stderrors.Is(err, ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed

	case stderrors.Is(err, ErrConflict),
		stderrors.Is(err, ErrDuplicateRequest):
		return http.StatusConflict

	case stderrors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests

	case stderrors.Is(err, ErrUpstream),
		stderrors.Is(err, context.DeadlineExceeded):
		return http.StatusBadGateway

	default:
		return http.StatusInternalServerError
	}
}

// Message returns the text that may be exposed to the caller. Anything that is not a
// caller-facing *Error collapses to a generic message for its status.
func Message(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if stderrors.As(err, &e) {
		return e.Message
	}

	switch Status(err) {
	case http.StatusInternalServerError:
		return "Internal server error"
	case http.StatusBadGateway:
		return "Upstream dependency failed"
	default:
		return http.StatusText(Status(err))
	}
}

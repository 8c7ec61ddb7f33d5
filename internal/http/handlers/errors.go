// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP responses
// (via the `fail()` helper in this package). These codes provide clients with a stable,
// machine-readable error taxonomy that supplements human-readable messages.
//
// Conventions:
//   - Codes are lowercase, snake_case, and domain-agnostic unless explicitly noted.
//   - Generic codes (e.g., bad_request, unauthorized, conflict) mirror common HTTP
//     status semantics to aid interoperability.
//   - Domain-specific codes (e.g., invalid_flow, dispatch_failed) are reserved for
//     business logic errors that cannot be conveyed by status alone.
//   - All error responses must include both an HTTP status and one of these codes.
//
// The webhook endpoints are the exception: the provider contract fixes their
// bodies ({"status":"received"}, {"code":"forbidden"}, ...), so they are
// produced by the WebhookGateway and written verbatim.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "invalid_state_transition",
//	  "message": "execution is not paused"
//	}
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/chatflow-gateway/internal/flow"
	"github.com/tbourn/chatflow-gateway/internal/services"
	"github.com/tbourn/chatflow-gateway/internal/session"
)

const (
	ErrCodeBadRequest      = "bad_request"
	ErrCodeUnauthorized    = "unauthorized"
	ErrCodeForbidden       = "forbidden"
	ErrCodeNotFound        = "not_found"
	ErrCodeConflict        = "conflict"
	ErrCodeRateLimited     = "too_many_requests"
	ErrCodeInternal        = "internal_error"
	ErrCodePayloadTooLarge = "payload_too_large"
	ErrCodeUnavailable     = "unavailable"

	// Domain-specific:
	ErrCodeInvalidFlow       = "invalid_flow"
	ErrCodeInvalidTransition = "invalid_state_transition"
	ErrCodeFlowInactive      = "flow_inactive"
	ErrCodeChatClosed        = "chat_closed"
	ErrCodeDispatchFailed    = "dispatch_failed"
	ErrCodeCreateFailed      = "create_failed"
	ErrCodeListFailed        = "list_failed"
	ErrCodeMethodNotAllowed  = "method_not_allowed"
)

// failErr maps service and engine errors onto the HTTP taxonomy above.
// Unrecognised errors become 500 with the given fallback code.
func failErr(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, services.ErrInvalidFlow):
		fail(c, http.StatusUnprocessableEntity, ErrCodeInvalidFlow, err.Error())
	case errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, services.ErrEmptyContent),
		errors.Is(err, services.ErrTooLong),
		errors.Is(err, flow.ErrInvalidPhone):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrChatNotFound),
		errors.Is(err, services.ErrFlowNotFound),
		errors.Is(err, services.ErrConnectionNotFound),
		errors.Is(err, services.ErrMessageNotFound),
		errors.Is(err, session.ErrChatNotFound),
		errors.Is(err, flow.ErrFlowNotFound),
		errors.Is(err, flow.ErrNoActiveExecution):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, flow.ErrInvalidStateTransition):
		fail(c, http.StatusConflict, ErrCodeInvalidTransition, err.Error())
	case errors.Is(err, flow.ErrFlowInactive):
		fail(c, http.StatusConflict, ErrCodeFlowInactive, err.Error())
	case errors.Is(err, services.ErrChatClosed):
		fail(c, http.StatusConflict, ErrCodeChatClosed, err.Error())
	case errors.Is(err, services.ErrFlowInUse),
		errors.Is(err, services.ErrConnectionInUse),
		errors.Is(err, flow.ErrFlowConflict):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, flow.ErrChatBusy), errors.Is(err, context.DeadlineExceeded):
		c.Header("Retry-After", "1")
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "chat is busy, retry shortly")
	default:
		fail(c, http.StatusInternalServerError, fallback, err.Error())
	}
}

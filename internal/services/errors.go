// Package services holds the application use cases that sit between the HTTP
// handlers and the lower layers: webhook ingestion, inbound processing, flow
// administration, agent messaging and connection management.
//
// This file centralizes service-level error values so callers can match them
// with errors.Is. Translation into HTTP statuses happens in the handlers.
package services

import "errors"

// Lookup errors.
var (
	// ErrChatNotFound indicates that the requested chat does not exist.
	ErrChatNotFound = errors.New("chat not found")

	// ErrFlowNotFound indicates that the requested flow does not exist.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrConnectionNotFound indicates that the requested connection does not
	// exist.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrMessageNotFound is returned when an idempotency record points at a
	// message that no longer exists.
	ErrMessageNotFound = errors.New("message not found")
)

// Input validation errors.
var (
	// ErrInvalidInput wraps any request that fails validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidFlow is returned when a flow definition fails graph or
	// trigger validation.
	ErrInvalidFlow = errors.New("invalid flow definition")

	// ErrEmptyContent is returned when an agent message has no text, media
	// or buttons to send.
	ErrEmptyContent = errors.New("message content is empty")

	// ErrTooLong is returned when an agent message exceeds the configured
	// length limit.
	ErrTooLong = errors.New("message too long")
)

// State errors.
var (
	// ErrFlowInUse is returned when deleting a flow that still has live
	// executions.
	ErrFlowInUse = errors.New("flow has active executions")

	// ErrConnectionInUse is returned when deleting a connection that still
	// has active chats.
	ErrConnectionInUse = errors.New("connection has active chats")

	// ErrChatClosed is returned when an agent sends into a closed chat.
	ErrChatClosed = errors.New("chat is closed")
)

package flow

import (
	"errors"
	"fmt"

	"github.com/tbourn/chatflow-gateway/internal/domain"
)

var (
	// ErrFlowConflict is returned by StartFlow when the chat already runs a
	// different flow.
	ErrFlowConflict = errors.New("chat already has an active flow execution")

	// ErrInvalidStateTransition matches every *InvalidStateTransitionError.
	ErrInvalidStateTransition = errors.New("invalid execution state transition")

	// ErrNoActiveExecution indicates the chat has no non-terminal execution.
	ErrNoActiveExecution = errors.New("no active flow execution")

	// ErrFlowNotFound indicates the flow does not exist.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrFlowInactive is returned when starting a flow that is not active.
	ErrFlowInactive = errors.New("flow is not active")

	// ErrInvalidPhone is returned when a phone number has no digits.
	ErrInvalidPhone = errors.New("invalid phone number")

	// ErrChatBusy is returned when the per-chat lock could not be acquired
	// before the context expired.
	ErrChatBusy = errors.New("chat is locked by another step")
)

// InvalidStateTransitionError reports a rejected pause or resume.
type InvalidStateTransitionError struct {
	ExecutionID string
	From        domain.ExecutionStatus
	To          domain.ExecutionStatus
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("execution %s: cannot move from %s to %s", e.ExecutionID, e.From, e.To)
}

func (e *InvalidStateTransitionError) Is(target error) bool {
	return target == ErrInvalidStateTransition
}

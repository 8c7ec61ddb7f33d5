// Package provider contains the outbound messaging API clients. Each Sender
// turns a validated OutboundMessage into one provider call and reports the
// provider's message id or a classified *Error.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/tbourn/chatflow-gateway/internal/domain"
)

// OutboundMessage is a provider-independent outbound payload.
type OutboundMessage struct {
	To        string // E.164 with leading "+"
	Type      string // domain.OutboundText | OutboundMedia | OutboundInteractive
	Text      string
	MediaURL  string
	MediaKind string // image | audio | video | document
	Caption   string
	Buttons   []domain.Button
}

// Sender delivers one message through a provider account.
type Sender interface {
	Name() string
	Send(ctx context.Context, conn *domain.Connection, msg OutboundMessage) (providerMessageID string, err error)
}

// Error is a classified provider failure.
type Error struct {
	Code       string
	Message    string
	StatusCode int
	Retryable  bool
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Message)
	}
	return e.Code + ": " + e.Message
}

// ErrUnsupported is returned for message shapes a provider cannot express.
var ErrUnsupported = errors.New("unsupported by provider")

// Classify turns any send error into a *Error. Context expiry is a
// retryable timeout.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Code: "timeout", Message: err.Error(), Retryable: true}
	case errors.Is(err, context.Canceled):
		return &Error{Code: "canceled", Message: err.Error(), Retryable: true}
	case errors.Is(err, ErrUnsupported):
		return &Error{Code: "unsupported", Message: err.Error()}
	}
	return &Error{Code: "transport", Message: err.Error(), Retryable: true}
}

// retryableStatus reports whether an HTTP status is worth retrying.
func retryableStatus(code int) bool {
	return code == 429 || code >= 500
}

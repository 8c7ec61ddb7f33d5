// Package dispatch validates outbound messages and hands them to the
// provider configured on their connection. It never retries: a failed send
// is reported once as a *DispatchError and recorded on the Message.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/tbourn/chatflow-gateway/internal/domain"
	"github.com/tbourn/chatflow-gateway/internal/observability"
	"github.com/tbourn/chatflow-gateway/internal/provider"
	"github.com/tbourn/chatflow-gateway/internal/repo"
)

// Limits enforced before any provider call.
const (
	MaxTextRunes        = 4096
	MaxButtons          = 3
	MaxButtonTitleRunes = 20
)

var mediaKinds = map[string]bool{
	domain.MessageImage:    true,
	domain.MessageAudio:    true,
	domain.MessageVideo:    true,
	domain.MessageDocument: true,
}

// Error codes carried by DispatchError.
const (
	CodeValidation        = "validation_error"
	CodeUnknownConn       = "connection_not_found"
	CodeUnknownProvider   = "provider_not_configured"
	CodeConnectionOffline = "connection_disconnected"
)

// DispatchError describes a failed send.
type DispatchError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e *DispatchError) Error() string { return e.Code + ": " + e.Message }

// ErrValidation matches every validation DispatchError via errors.Is.
var ErrValidation = errors.New("invalid outbound message")

func (e *DispatchError) Is(target error) bool {
	return target == ErrValidation && e.Code == CodeValidation
}

// SendRequest is one outbound message addressed to a phone number through a
// connection.
type SendRequest struct {
	ConnectionID string          `json:"connection_id"`
	PhoneNumber  string          `json:"phone_number"`
	Type         string          `json:"type"` // text | media | interactive
	Content      string          `json:"content"`
	MediaURL     string          `json:"media_url,omitempty"`
	MediaKind    string          `json:"media_kind,omitempty"`
	Caption      string          `json:"caption,omitempty"`
	Buttons      []domain.Button `json:"buttons,omitempty"`
}

// SendResult is the outcome of Send.
type SendResult struct {
	Success           bool           `json:"success"`
	ProviderMessageID string         `json:"provider_message_id,omitempty"`
	Error             *DispatchError `json:"error,omitempty"`
}

// ConnectionSource resolves connections by id.
type ConnectionSource interface {
	Connection(ctx context.Context, id string) (*domain.Connection, error)
}

// Recorder persists outbound messages into a chat.
type Recorder interface {
	AppendMessage(ctx context.Context, chatID string, m *domain.Message) (*domain.Message, error)
}

// DBConnections is a ConnectionSource over the connections table.
type DBConnections struct{ DB *gorm.DB }

func (d DBConnections) Connection(ctx context.Context, id string) (*domain.Connection, error) {
	return repo.GetConnection(ctx, d.DB, id)
}

// Options tune a Dispatcher. Zero values select the defaults.
type Options struct {
	Timeout time.Duration // per provider call, default 10s
	RPS     float64       // per-connection sends per second, 0 disables throttling
	Burst   int
}

// Dispatcher routes sends to providers by connection.
type Dispatcher struct {
	conns     ConnectionSource
	providers map[domain.Provider]provider.Sender
	recorder  Recorder
	opts      Options

	limiters sync.Map // connection id -> *rate.Limiter
}

// New builds a Dispatcher. recorder may be nil when SendAndRecord is unused.
func New(conns ConnectionSource, recorder Recorder, opts Options, senders ...provider.Sender) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	m := make(map[domain.Provider]provider.Sender, len(senders))
	for _, s := range senders {
		m[domain.Provider(s.Name())] = s
	}
	return &Dispatcher{conns: conns, providers: m, recorder: recorder, opts: opts}
}

// Validate checks req against the per-type rules without sending.
func Validate(req SendRequest) *DispatchError {
	bad := func(format string, args ...any) *DispatchError {
		return &DispatchError{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
	}
	if strings.TrimSpace(req.PhoneNumber) == "" {
		return bad("phone_number is required")
	}
	switch req.Type {
	case domain.OutboundText, "":
		if strings.TrimSpace(req.Content) == "" {
			return bad("text content is required")
		}
		if n := utf8.RuneCountInString(req.Content); n > MaxTextRunes {
			return bad("text content exceeds %d characters (%d)", MaxTextRunes, n)
		}
	case domain.OutboundMedia:
		if strings.TrimSpace(req.MediaURL) == "" {
			return bad("media_url is required")
		}
		if !mediaKinds[req.MediaKind] {
			return bad("media_kind %q is not one of image, audio, video, document", req.MediaKind)
		}
	case domain.OutboundInteractive:
		if strings.TrimSpace(req.Content) == "" {
			return bad("interactive body is required")
		}
		if len(req.Buttons) == 0 || len(req.Buttons) > MaxButtons {
			return bad("interactive messages need 1 to %d buttons", MaxButtons)
		}
		seen := make(map[string]bool, len(req.Buttons))
		for _, b := range req.Buttons {
			if b.ID == "" || seen[b.ID] {
				return bad("button ids must be unique and non-empty")
			}
			seen[b.ID] = true
			if b.Title == "" || utf8.RuneCountInString(b.Title) > MaxButtonTitleRunes {
				return bad("button %q title must be 1 to %d characters", b.ID, MaxButtonTitleRunes)
			}
		}
	default:
		return bad("unknown message type %q", req.Type)
	}
	return nil
}

func (d *Dispatcher) limiter(connID string) *rate.Limiter {
	if v, ok := d.limiters.Load(connID); ok {
		return v.(*rate.Limiter)
	}
	v, _ := d.limiters.LoadOrStore(connID, rate.NewLimiter(rate.Limit(d.opts.RPS), d.opts.Burst))
	return v.(*rate.Limiter)
}

// Send validates req, waits for the connection's outbound throttle and calls
// the provider once under the configured timeout.
func (d *Dispatcher) Send(ctx context.Context, req SendRequest) SendResult {
	ctx, span := otel.Tracer("dispatch/Dispatcher").Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("connection.id", req.ConnectionID),
			attribute.String("message.type", req.Type),
		))
	defer span.End()

	if req.Type == "" {
		req.Type = domain.OutboundText
	}
	if derr := Validate(req); derr != nil {
		observability.DispatchTotal.WithLabelValues("none", "invalid").Inc()
		return SendResult{Error: derr}
	}

	conn, err := d.conns.Connection(ctx, req.ConnectionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return SendResult{Error: &DispatchError{Code: CodeUnknownConn, Message: "connection " + req.ConnectionID + " not found"}}
		}
		return SendResult{Error: &DispatchError{Code: "internal", Message: err.Error(), Retryable: true}}
	}
	if conn.Status == domain.ConnectionDisconnected {
		return SendResult{Error: &DispatchError{Code: CodeConnectionOffline, Message: "connection is disconnected"}}
	}
	sender, ok := d.providers[conn.Provider]
	if !ok {
		return SendResult{Error: &DispatchError{Code: CodeUnknownProvider, Message: fmt.Sprintf("no sender for provider %q", conn.Provider)}}
	}

	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	if d.opts.RPS > 0 {
		if err := d.limiter(conn.ID).Wait(ctx); err != nil {
			observability.DispatchTotal.WithLabelValues(sender.Name(), "throttled").Inc()
			return SendResult{Error: &DispatchError{Code: "throttled", Message: err.Error(), Retryable: true}}
		}
	}

	msg := provider.OutboundMessage{
		To:        req.PhoneNumber,
		Type:      req.Type,
		Text:      req.Content,
		MediaURL:  req.MediaURL,
		MediaKind: req.MediaKind,
		Caption:   req.Caption,
		Buttons:   req.Buttons,
	}
	start := time.Now()
	id, err := sender.Send(ctx, conn, msg)
	observability.DispatchLatency.WithLabelValues(sender.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		pe := provider.Classify(err)
		observability.DispatchTotal.WithLabelValues(sender.Name(), "error").Inc()
		log.Warn().
			Str("component", "dispatch").
			Str("connection_id", conn.ID).
			Str("provider", sender.Name()).
			Str("code", pe.Code).
			Bool("retryable", pe.Retryable).
			Msg("outbound send failed")
		return SendResult{Error: &DispatchError{Code: pe.Code, Message: pe.Message, Retryable: pe.Retryable}}
	}
	observability.DispatchTotal.WithLabelValues(sender.Name(), "sent").Inc()
	return SendResult{Success: true, ProviderMessageID: id}
}

// SendAndRecord sends req and appends the outbound Message to chatID with
// status sent or failed. Validation failures are not recorded.
func (d *Dispatcher) SendAndRecord(ctx context.Context, chatID string, req SendRequest) (SendResult, *domain.Message, error) {
	res := d.Send(ctx, req)
	if res.Error != nil && res.Error.Code == CodeValidation {
		return res, nil, nil
	}
	if d.recorder == nil {
		return res, nil, errors.New("dispatch: no recorder configured")
	}

	m := &domain.Message{
		Direction:   domain.DirectionOutbound,
		Content:     req.Content,
		MessageType: messageType(req),
		MediaURL:    req.MediaURL,
		Status:      domain.MessageSent,
	}
	if req.Type == domain.OutboundMedia {
		m.Content = req.Caption
	}
	if len(req.Buttons) > 0 {
		if raw, err := json.Marshal(map[string]any{"buttons": req.Buttons}); err == nil {
			m.Metadata = raw
		}
	}
	if res.Success {
		m.ProviderMessageID = domain.StringPtr(res.ProviderMessageID)
	} else {
		m.Status = domain.MessageFailed
		m.Error = res.Error.Error()
	}

	// The provider call may have consumed the caller's deadline; the record
	// must still land.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	saved, err := d.recorder.AppendMessage(recCtx, chatID, m)
	if err != nil {
		return res, nil, fmt.Errorf("record outbound message: %w", err)
	}
	return res, saved, nil
}

func messageType(req SendRequest) string {
	switch req.Type {
	case domain.OutboundMedia:
		return req.MediaKind
	case domain.OutboundInteractive:
		return domain.MessageInteractive
	}
	return domain.MessageText
}

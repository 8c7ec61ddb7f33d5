// Package services – MessageService
//
// MessageService covers messages an operator sends from the dashboard and the
// paginated message history of a chat. Agent sends go through the same
// dispatcher as flow-driven sends, so they are validated, throttled and
// recorded the same way. A request carrying an Idempotency-Key is recorded
// per (subject, chat, key), and a retry replays the stored message instead of
// sending again.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// chat identifiers and pagination parameters where applicable.

package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/chatflow-gateway/internal/dispatch"
	"github.com/tbourn/chatflow-gateway/internal/domain"
	"github.com/tbourn/chatflow-gateway/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// OutboundSender sends and records one message in a chat.
type OutboundSender interface {
	SendAndRecord(ctx context.Context, chatID string, req dispatch.SendRequest) (dispatch.SendResult, *domain.Message, error)
}

// SendInput is an agent-composed message.
type SendInput struct {
	Type      string          `json:"type"` // text | media | interactive, default text
	Content   string          `json:"content"`
	MediaURL  string          `json:"media_url,omitempty"`
	MediaKind string          `json:"media_kind,omitempty"`
	Caption   string          `json:"caption,omitempty"`
	Buttons   []domain.Button `json:"buttons,omitempty"`
}

// SendOutcome is the result of MessageService.Send. Status is the HTTP
// status the send maps to; a replay reports the originally stored status.
type SendOutcome struct {
	Message  *domain.Message
	Result   dispatch.SendResult
	Status   int
	Replayed bool
}

// MessageService coordinates agent sends and message listing.
type MessageService struct {
	DB  *gorm.DB
	Out OutboundSender

	// MaxContentRunes caps agent text; 0 uses the dispatcher limit.
	MaxContentRunes int
	// IdempotencyTTL is how long a replayable record is kept.
	IdempotencyTTL time.Duration

	Now func() time.Time
}

// NewMessageService wires a MessageService.
func NewMessageService(db *gorm.DB, out OutboundSender, idemTTL time.Duration) *MessageService {
	if idemTTL <= 0 {
		idemTTL = 24 * time.Hour
	}
	return &MessageService{
		DB:              db,
		Out:             out,
		MaxContentRunes: dispatch.MaxTextRunes,
		IdempotencyTTL:  idemTTL,
		Now:             time.Now,
	}
}

func (s *MessageService) validate(in *SendInput) error {
	in.Type = strings.ToLower(strings.TrimSpace(in.Type))
	if in.Type == "" {
		in.Type = domain.OutboundText
	}
	in.Content = strings.TrimSpace(in.Content)
	switch in.Type {
	case domain.OutboundText, domain.OutboundInteractive:
		if in.Content == "" {
			return ErrEmptyContent
		}
	case domain.OutboundMedia:
		if strings.TrimSpace(in.MediaURL) == "" {
			return ErrEmptyContent
		}
	default:
		return fmt.Errorf("%w: unknown message type %q", ErrInvalidInput, in.Type)
	}
	if s.MaxContentRunes > 0 && utf8.RuneCountInString(in.Content) > s.MaxContentRunes {
		return ErrTooLong
	}
	return nil
}

// Send dispatches an agent message into chatID. subject scopes the
// idempotency key; an empty key disables replay.
func (s *MessageService) Send(ctx context.Context, subject, chatID, idemKey string, in SendInput) (*SendOutcome, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.Bool("idempotent", idemKey != ""),
		),
	)
	defer span.End()

	if err := s.validate(&in); err != nil {
		return nil, err
	}

	chat, err := repo.GetChat(ctx, s.DB, chatID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, err
	}
	if chat.Status == domain.ChatClosed {
		return nil, ErrChatClosed
	}

	if idemKey != "" {
		if out, err := s.replay(ctx, subject, chatID, idemKey); err != nil || out != nil {
			return out, err
		}
	}

	req := dispatch.SendRequest{
		ConnectionID: chat.ConnectionID,
		PhoneNumber:  chat.PhoneNumber,
		Type:         in.Type,
		Content:      in.Content,
		MediaURL:     in.MediaURL,
		MediaKind:    in.MediaKind,
		Caption:      in.Caption,
		Buttons:      in.Buttons,
	}
	if in.Type == domain.OutboundMedia && req.Caption == "" {
		req.Caption = in.Content
	}
	res, msg, err := s.Out.SendAndRecord(ctx, chat.ID, req)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, res.Error.Message)
	}

	out := &SendOutcome{Message: msg, Result: res, Status: http.StatusCreated}
	if !res.Success {
		out.Status = http.StatusBadGateway
	}
	if idemKey != "" {
		if _, err := repo.CreateIdempotency(ctx, s.DB, subject, chatID, idemKey, msg.ID, out.Status, s.IdempotencyTTL); err != nil {
			// A concurrent request with the same key won the insert.
			log.Warn().Err(err).Str("component", "messages").Str("chat_id", chatID).Msg("store idempotency record")
		}
	}
	return out, nil
}

func (s *MessageService) replay(ctx context.Context, subject, chatID, key string) (*SendOutcome, error) {
	rec, err := repo.GetIdempotency(ctx, s.DB, subject, chatID, key, s.Now().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	msg, err := repo.GetMessage(ctx, s.DB, rec.MessageID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	res := dispatch.SendResult{Success: msg.Status != domain.MessageFailed}
	if msg.ProviderMessageID != nil {
		res.ProviderMessageID = *msg.ProviderMessageID
	}
	return &SendOutcome{Message: msg, Result: res, Status: rec.Status, Replayed: true}, nil
}

// ListPage returns paginated messages for a chat.
func (s *MessageService) ListPage(ctx context.Context, chatID string, page, pageSize int) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	// Ensure chat exists
	var chatCount int64
	if err := s.DB.WithContext(ctx).Model(&domain.Chat{}).Where("id = ?", chatID).Count(&chatCount).Error; err != nil {
		return nil, 0, err
	}
	if chatCount == 0 {
		return nil, 0, ErrChatNotFound
	}

	total, err := repo.CountMessages(ctx, s.DB, chatID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}

	items, err := repo.ListMessagesPage(ctx, s.DB, chatID, offset, pageSize)
	return items, total, err
}

// Stats returns the message count and newest update time of a chat, used to
// derive the listing ETag.
func (s *MessageService) Stats(ctx context.Context, chatID string) (int64, *time.Time, error) {
	return repo.MessagesStats(ctx, s.DB, chatID)
}

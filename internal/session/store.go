// Package session owns chat conversations: it finds or creates the chat for
// an inbound sender, appends messages with their denormalized chat summary,
// and keeps the pointer to the chat's single active flow execution.
//
// Observability: all public methods are OpenTelemetry-instrumented.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/chatflow-gateway/internal/domain"
	"github.com/tbourn/chatflow-gateway/internal/repo"
)

var (
	// ErrDuplicateMessage is returned by AppendMessage when the provider
	// message id was already stored.
	ErrDuplicateMessage = errors.New("duplicate message")

	// ErrChatNotFound indicates the chat does not exist.
	ErrChatNotFound = errors.New("chat not found")
)

// previewRunes bounds Chat.LastMessage.
const previewRunes = 255

// Store is the gorm-backed chat session store.
type Store struct {
	DB *gorm.DB

	group singleflight.Group
}

// New returns a Store over db.
func New(db *gorm.DB) *Store { return &Store{DB: db} }

func tracer() trace.Tracer { return otel.Tracer("session/Store") }

// FindOrCreateChat returns the chat for (connectionID, phone), creating an
// active one when absent. Concurrent callers for the same pair share one
// lookup; across processes the unique index decides and the loser re-reads.
func (s *Store) FindOrCreateChat(ctx context.Context, connectionID, phone, contactName string) (*domain.Chat, error) {
	ctx, span := tracer().Start(ctx, "FindOrCreateChat",
		trace.WithAttributes(attribute.String("connection.id", connectionID)))
	defer span.End()

	// The flight is shared, so it must outlive the caller that started it.
	fctx := context.WithoutCancel(ctx)
	v, err, _ := s.group.Do(connectionID+"|"+phone, func() (any, error) {
		c, err := repo.FindChat(fctx, s.DB, connectionID, phone)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
		c, err = repo.CreateChat(fctx, s.DB, connectionID, phone, contactName)
		if errors.Is(err, repo.ErrDuplicate) {
			return repo.FindChat(fctx, s.DB, connectionID, phone)
		}
		return c, err
	})
	if err != nil {
		return nil, err
	}
	// Callers sharing a flight must not share the struct.
	chat := *(v.(*domain.Chat))

	if contactName != "" && chat.ContactName != contactName {
		if err := repo.UpdateChatFields(ctx, s.DB, chat.ID, map[string]any{"contact_name": contactName}); err == nil {
			chat.ContactName = contactName
		}
	}
	return &chat, nil
}

// GetChat returns a chat by id.
func (s *Store) GetChat(ctx context.Context, chatID string) (*domain.Chat, error) {
	c, err := repo.GetChat(ctx, s.DB, chatID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrChatNotFound
	}
	return c, err
}

// AppendMessage inserts m into chatID and updates the chat's last-message
// fields in the same transaction. A repeated provider message id yields
// ErrDuplicateMessage and changes nothing.
func (s *Store) AppendMessage(ctx context.Context, chatID string, m *domain.Message) (*domain.Message, error) {
	ctx, span := tracer().Start(ctx, "AppendMessage",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("message.direction", m.Direction),
		))
	defer span.End()

	m.ChatID = chatID
	if m.MessageType == "" {
		m.MessageType = domain.MessageText
	}
	if m.Status == "" {
		if m.Direction == domain.DirectionInbound {
			m.Status = domain.MessageReceived
		} else {
			m.Status = domain.MessageSent
		}
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.CreateMessage(ctx, tx, m); err != nil {
			return err
		}
		return repo.TouchChatLastMessage(ctx, tx, chatID, preview(m), m.CreatedAt, m.Direction == domain.DirectionInbound)
	})
	if errors.Is(err, repo.ErrDuplicate) {
		return nil, ErrDuplicateMessage
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func preview(m *domain.Message) string {
	text := strings.TrimSpace(m.Content)
	if text == "" && m.MessageType != domain.MessageText {
		text = "[" + m.MessageType + "]"
	}
	if utf8.RuneCountInString(text) > previewRunes {
		text = string([]rune(text)[:previewRunes])
	}
	return text
}

// GetActiveFlowExecution returns the chat's non-terminal execution, or
// (nil, nil) when there is none.
func (s *Store) GetActiveFlowExecution(ctx context.Context, chatID string) (*domain.FlowExecution, error) {
	chat, err := s.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat.ActiveExecutionID == nil {
		return nil, nil
	}
	e, err := repo.GetExecution(ctx, s.DB, *chat.ActiveExecutionID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !e.Status.Active() {
		return nil, nil
	}
	return e, nil
}

// SetActiveFlowExecution persists exec (inserting it when new) and points
// the chat at it. A nil exec clears the pointer.
func (s *Store) SetActiveFlowExecution(ctx context.Context, chatID string, exec *domain.FlowExecution) error {
	ctx, span := tracer().Start(ctx, "SetActiveFlowExecution",
		trace.WithAttributes(attribute.String("chat.id", chatID)))
	defer span.End()

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if exec == nil {
			return repo.SetActiveExecutionID(ctx, tx, chatID, nil)
		}
		exec.ChatID = chatID
		if exec.ID == "" {
			if err := repo.CreateExecution(ctx, tx, exec); err != nil {
				return err
			}
		} else if err := repo.SaveExecution(ctx, tx, exec); err != nil {
			return err
		}
		id := exec.ID
		return repo.SetActiveExecutionID(ctx, tx, chatID, &id)
	})
}

// SaveExecution persists exec. Once it reaches a terminal state the chat's
// pointer is cleared if it still references exec.
func (s *Store) SaveExecution(ctx context.Context, exec *domain.FlowExecution) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.SaveExecution(ctx, tx, exec); err != nil {
			return err
		}
		if !exec.Status.Terminal() {
			return nil
		}
		return tx.Model(&domain.Chat{}).
			Where("id = ? AND active_execution_id = ?", exec.ChatID, exec.ID).
			Updates(map[string]any{"active_execution_id": nil, "updated_at": time.Now().UTC()}).Error
	})
}

// ApplyStatusUpdate advances the delivery status of the outbound message
// with the given provider id. Unknown ids and backward moves are ignored.
func (s *Store) ApplyStatusUpdate(ctx context.Context, providerMessageID, status, errText string) (bool, error) {
	m, err := repo.GetMessageByProviderID(ctx, s.DB, providerMessageID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return repo.AdvanceMessageStatus(ctx, s.DB, m.ID, m.Status, status, errText)
}

// MarkRead flags all inbound messages of the chat as read.
func (s *Store) MarkRead(ctx context.Context, chatID string) (int64, error) {
	if _, err := s.GetChat(ctx, chatID); err != nil {
		return 0, err
	}
	return repo.MarkChatRead(ctx, s.DB, chatID)
}

// CloseChat sets the chat status to closed.
func (s *Store) CloseChat(ctx context.Context, chatID string) error {
	return s.setFields(ctx, chatID, map[string]any{"status": domain.ChatClosed})
}

// AssignAgent records the human agent responsible for the chat.
func (s *Store) AssignAgent(ctx context.Context, chatID, agent string) error {
	return s.setFields(ctx, chatID, map[string]any{"assigned_agent": agent})
}

// TagChat adds tag to the chat's metadata tags, keeping insertion order and
// ignoring duplicates.
func (s *Store) TagChat(ctx context.Context, chatID, tag string) error {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return nil
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chat, err := repo.GetChat(ctx, tx, chatID)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrChatNotFound
		}
		if err != nil {
			return err
		}
		tags := chat.Tags()
		for _, t := range tags {
			if t == tag {
				return nil
			}
		}
		meta := chat.MetadataMap()
		meta["tags"] = append(tags, tag)
		raw, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		return repo.UpdateChatFields(ctx, tx, chatID, map[string]any{"metadata": datatypes.JSON(raw)})
	})
}

// ListMessages returns one page of a chat's messages plus the total count.
func (s *Store) ListMessages(ctx context.Context, chatID string, offset, limit int) ([]domain.Message, int64, error) {
	ctx, span := tracer().Start(ctx, "ListMessages",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.Int("offset", offset),
			attribute.Int("limit", limit),
		))
	defer span.End()

	if _, err := s.GetChat(ctx, chatID); err != nil {
		return nil, 0, err
	}
	total, err := repo.CountMessages(ctx, s.DB, chatID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}
	items, err := repo.ListMessagesPage(ctx, s.DB, chatID, offset, limit)
	return items, total, err
}

func (s *Store) setFields(ctx context.Context, chatID string, fields map[string]any) error {
	fields["updated_at"] = time.Now().UTC()
	err := repo.UpdateChatFields(ctx, s.DB, chatID, fields)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrChatNotFound
	}
	return err
}

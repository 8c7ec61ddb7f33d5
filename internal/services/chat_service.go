// Package services – ChatService
//
// ChatService exposes the admin-side chat operations: paginated listing per
// connection, lookup, mark-read, close, agent assignment and tagging. Chats
// themselves are created by inbound traffic or by starting a flow, never
// through this service.
//
// Store-level "not found" errors are translated to ErrChatNotFound so the
// handlers can map them consistently.
package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/tbourn/chatflow-gateway/internal/domain"
	"github.com/tbourn/chatflow-gateway/internal/session"
)

// ChatRepo defines the read-side repository contract required by
// ChatService.
type ChatRepo interface {
	// GetChat fetches a chat by id.
	GetChat(ctx context.Context, db *gorm.DB, id string) (*domain.Chat, error)

	// CountChats returns the number of chats of a connection.
	CountChats(ctx context.Context, db *gorm.DB, connectionID string) (int64, error)

	// ListChatsPage returns a page of a connection's chats, most recently
	// active first.
	ListChatsPage(ctx context.Context, db *gorm.DB, connectionID string, offset, limit int) ([]domain.Chat, error)
}

// ChatMutator is the session store surface for chat mutations.
type ChatMutator interface {
	MarkRead(ctx context.Context, chatID string) (int64, error)
	CloseChat(ctx context.Context, chatID string) error
	AssignAgent(ctx context.Context, chatID, agent string) error
	TagChat(ctx context.Context, chatID, tag string) error
}

// ChatService provides chat-level admin operations.
type ChatService struct {
	// DB is the GORM handle used for reads.
	DB *gorm.DB
	// Repo is the chat repository used by this service.
	Repo ChatRepo
	// Sessions applies mutations.
	Sessions ChatMutator

	// AgentMaxLen caps assigned agent ids by rune length.
	AgentMaxLen int
	// TagMaxLen caps tags by rune length.
	TagMaxLen int
}

// NewChatService constructs a ChatService with default limits.
func NewChatService(db *gorm.DB, r ChatRepo, sessions ChatMutator) *ChatService {
	return &ChatService{
		DB:          db,
		Repo:        r,
		Sessions:    sessions,
		AgentMaxLen: 64,
		TagMaxLen:   40,
	}
}

func chatErr(err error) error {
	if errors.Is(err, session.ErrChatNotFound) || errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrChatNotFound
	}
	return err
}

// Get returns one chat.
func (s *ChatService) Get(ctx context.Context, chatID string) (*domain.Chat, error) {
	c, err := s.Repo.GetChat(ctx, s.DB, chatID)
	if err != nil {
		return nil, chatErr(err)
	}
	return c, nil
}

// ListPage returns a page of a connection's chats (paginated).
// It applies defaults for invalid page/pageSize and returns total count.
func (s *ChatService) ListPage(ctx context.Context, connectionID string, page, pageSize int) ([]domain.Chat, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := s.Repo.CountChats(ctx, s.DB, connectionID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Chat{}, 0, nil
	}

	items, err := s.Repo.ListChatsPage(ctx, s.DB, connectionID, offset, pageSize)
	return items, total, err
}

// MarkRead flags every inbound message of the chat as read and returns how
// many changed.
func (s *ChatService) MarkRead(ctx context.Context, chatID string) (int64, error) {
	n, err := s.Sessions.MarkRead(ctx, chatID)
	return n, chatErr(err)
}

// Close closes the chat. The next inbound message reopens it.
func (s *ChatService) Close(ctx context.Context, chatID string) error {
	return chatErr(s.Sessions.CloseChat(ctx, chatID))
}

// Assign records the human agent handling the chat. A blank agent clears
// the assignment.
func (s *ChatService) Assign(ctx context.Context, chatID, agent string) error {
	return chatErr(s.Sessions.AssignAgent(ctx, chatID, clip(normalizeLabel(agent), s.AgentMaxLen)))
}

// Tag adds a tag to the chat.
func (s *ChatService) Tag(ctx context.Context, chatID, tag string) error {
	tag = clip(normalizeLabel(tag), s.TagMaxLen)
	if tag == "" {
		return fmt.Errorf("%w: tag is empty", ErrInvalidInput)
	}
	return chatErr(s.Sessions.TagChat(ctx, chatID, tag))
}

// clip truncates s to max runes; max <= 0 disables the limit.
func clip(s string, max int) string {
	if max > 0 && utf8.RuneCountInString(s) > max {
		return string([]rune(s)[:max])
	}
	return s
}

// normalizeLabel trims whitespace and collapses multiple spaces to one.
func normalizeLabel(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)

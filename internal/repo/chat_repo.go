// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Chat model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a chat is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - A unique (connection_id, phone_number) collision on insert is reported
//     as ErrDuplicate so callers can re-read the winner.
//   - On other DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/chatflow-gateway/internal/domain"
)

// CreateChat inserts a new active chat for (connectionID, phone).
func CreateChat(ctx context.Context, db *gorm.DB, connectionID, phone, contactName string) (*domain.Chat, error) {
	now := time.Now().UTC()
	c := &domain.Chat{
		ID:           uuid.NewString(),
		ConnectionID: connectionID,
		PhoneNumber:  phone,
		ContactName:  contactName,
		Status:       domain.ChatActive,
		Metadata:     datatypes.JSON(`{}`),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return c, nil
}

// GetChat fetches a chat by id or returns ErrNotFound.
func GetChat(ctx context.Context, db *gorm.DB, id string) (*domain.Chat, error) {
	var c domain.Chat
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// FindChat fetches the chat for (connectionID, phone) or returns ErrNotFound.
func FindChat(ctx context.Context, db *gorm.DB, connectionID, phone string) (*domain.Chat, error) {
	var c domain.Chat
	err := db.WithContext(ctx).
		Where("connection_id = ? AND phone_number = ?", connectionID, phone).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateChatFields applies a column map to one chat; ErrNotFound when no row
// matched.
func UpdateChatFields(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	res := db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("id = ?", id).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchChatLastMessage denormalizes the most recent message onto the chat.
// With reopen set, a closed chat becomes active again.
func TouchChatLastMessage(ctx context.Context, db *gorm.DB, id, preview string, at time.Time, reopen bool) error {
	fields := map[string]any{
		"last_message":    preview,
		"last_message_at": at,
		"updated_at":      time.Now().UTC(),
	}
	if reopen {
		fields["status"] = gorm.Expr("CASE WHEN status = ? THEN ? ELSE status END", domain.ChatClosed, domain.ChatActive)
	}
	return db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("id = ?", id).
		Updates(fields).Error
}

// SetActiveExecutionID points the chat at an execution (or clears it when
// execID is nil).
func SetActiveExecutionID(ctx context.Context, db *gorm.DB, chatID string, execID *string) error {
	return UpdateChatFields(ctx, db, chatID, map[string]any{
		"active_execution_id": execID,
		"updated_at":          time.Now().UTC(),
	})
}

// ListChatsPage returns chats of a connection ordered by recent activity.
func ListChatsPage(ctx context.Context, db *gorm.DB, connectionID string, offset, limit int) ([]domain.Chat, error) {
	var out []domain.Chat
	err := db.WithContext(ctx).
		Where("connection_id = ?", connectionID).
		Order("last_message_at DESC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountChats returns how many chats a connection has.
func CountChats(ctx context.Context, db *gorm.DB, connectionID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("connection_id = ?", connectionID).
		Count(&n).Error
	return n, err
}

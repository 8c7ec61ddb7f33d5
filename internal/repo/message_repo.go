// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message model.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/chatflow-gateway/internal/domain"
)

// CreateMessage inserts m, assigning an id and CreatedAt when missing.
// A repeated provider_message_id is reported as ErrDuplicate.
func CreateMessage(ctx context.Context, db *gorm.DB, m *domain.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Omit("Chat").Create(m).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetMessage fetches a message by ID.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMessageByProviderID fetches a message by provider_message_id.
func GetMessageByProviderID(ctx context.Context, db *gorm.DB, providerID string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("provider_message_id = ?", providerID).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(ctx context.Context, db *gorm.DB, chatID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw("SELECT COUNT(*) FROM messages WHERE chat_id = ?", chatID).Scan(&total).Error
	return total, err
}

// ListMessagesPage returns a paginated slice ordered (CreatedAt ASC, ID ASC).
func ListMessagesPage(ctx context.Context, db *gorm.DB, chatID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// AdvanceMessageStatus moves a message to status when allowed by the
// delivery ordering. It reports whether a row changed.
func AdvanceMessageStatus(ctx context.Context, db *gorm.DB, id, from, to, errText string) (bool, error) {
	if !domain.CanAdvanceStatus(from, to) {
		return false, nil
	}
	fields := map[string]any{"status": to, "updated_at": time.Now().UTC()}
	if errText != "" {
		fields["error"] = errText
	}
	// Conditional on the observed status so a concurrent update cannot be
	// overwritten by an older one.
	res := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ? AND status = ?", id, from).
		Updates(fields)
	return res.RowsAffected > 0, res.Error
}

// MarkChatRead flags every inbound message of a chat as read.
func MarkChatRead(ctx context.Context, db *gorm.DB, chatID string) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("chat_id = ? AND direction = ? AND is_read = ?", chatID, domain.DirectionInbound, false).
		Updates(map[string]any{"is_read": true, "updated_at": time.Now().UTC()})
	return res.RowsAffected, res.Error
}

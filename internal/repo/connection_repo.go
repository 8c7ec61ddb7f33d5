package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/chatflow-gateway/internal/domain"
)

// ErrInUse is returned when a row cannot be deleted because live records
// still reference it.
var ErrInUse = errors.New("in use")

// CreateConnection inserts c, assigning an id and timestamps when missing.
func CreateConnection(ctx context.Context, db *gorm.DB, c *domain.Connection) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = domain.ConnectionPending
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(c).Error
}

// GetConnection fetches a connection by id or returns ErrNotFound.
func GetConnection(ctx context.Context, db *gorm.DB, id string) (*domain.Connection, error) {
	var c domain.Connection
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// FindConnectionByPhoneNumberID resolves the connection addressed by a
// provider callback's metadata.phone_number_id.
func FindConnectionByPhoneNumberID(ctx context.Context, db *gorm.DB, phoneNumberID string) (*domain.Connection, error) {
	var c domain.Connection
	err := db.WithContext(ctx).
		Where("phone_number_id = ?", phoneNumberID).
		Order("created_at ASC").
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateConnectionStatus sets the status column; ErrNotFound when no row matched.
func UpdateConnectionStatus(ctx context.Context, db *gorm.DB, id, status string) error {
	res := db.WithContext(ctx).
		Model(&domain.Connection{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteConnection removes a connection unless a chat that is not closed
// still references it.
func DeleteConnection(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&domain.Chat{}).
			Where("connection_id = ? AND status <> ?", id, domain.ChatClosed).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrInUse
		}
		res := tx.Where("id = ?", id).Delete(&domain.Connection{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

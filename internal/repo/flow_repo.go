package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/chatflow-gateway/internal/domain"
)

// CreateFlow inserts f, assigning an id and timestamps when missing.
func CreateFlow(ctx context.Context, db *gorm.DB, f *domain.Flow) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.Status == "" {
		f.Status = domain.FlowDraft
	}
	now := time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	if f.IsActive && f.ActivatedAt == nil {
		f.ActivatedAt = &now
	}
	return db.WithContext(ctx).Create(f).Error
}

// GetFlow fetches a flow by id or returns ErrNotFound.
func GetFlow(ctx context.Context, db *gorm.DB, id string) (*domain.Flow, error) {
	var f domain.Flow
	if err := db.WithContext(ctx).Where("id = ?", id).First(&f).Error; err != nil {
		return nil, err
	}
	return &f, nil
}

// SetFlowStatus updates status and is_active. Activation stamps
// activated_at with now, which drives trigger precedence.
func SetFlowStatus(ctx context.Context, db *gorm.DB, id, status string, now time.Time) error {
	fields := map[string]any{
		"status":     status,
		"is_active":  status == domain.FlowActive,
		"updated_at": now,
	}
	if status == domain.FlowActive {
		fields["activated_at"] = now
	}
	res := db.WithContext(ctx).Model(&domain.Flow{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateFlow overwrites the flow's name, graph and trigger conditions.
// Executions keep running against the new graph; there is no version history.
func UpdateFlow(ctx context.Context, db *gorm.DB, id, name string, structure, triggers []byte, now time.Time) error {
	fields := map[string]any{
		"name":               name,
		"structure":          datatypes.JSON(structure),
		"trigger_conditions": nil,
		"updated_at":         now,
	}
	if len(triggers) > 0 {
		fields["trigger_conditions"] = datatypes.JSON(triggers)
	}
	res := db.WithContext(ctx).Model(&domain.Flow{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActiveFlows returns active flows for a user ordered by trigger
// precedence: most recently activated first, ties by id ascending.
func ListActiveFlows(ctx context.Context, db *gorm.DB, userID string) ([]domain.Flow, error) {
	var out []domain.Flow
	err := db.WithContext(ctx).
		Where("user_id = ? AND is_active = ? AND status = ?", userID, true, domain.FlowActive).
		Order("activated_at DESC, id ASC").
		Find(&out).Error
	return out, err
}

// DeleteFlow removes a flow unless a non-terminal execution references it.
func DeleteFlow(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&domain.FlowExecution{}).
			Where("flow_id = ? AND status IN ?", id, activeStatuses()).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrInUse
		}
		res := tx.Where("id = ?", id).Delete(&domain.Flow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func activeStatuses() []domain.ExecutionStatus {
	return []domain.ExecutionStatus{domain.ExecPending, domain.ExecRunning, domain.ExecWaiting, domain.ExecPaused}
}

package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/chatflow-gateway/internal/domain"
)

// CreateExecution inserts e, assigning an id and StartedAt when missing.
func CreateExecution(ctx context.Context, db *gorm.DB, e *domain.FlowExecution) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now().UTC()
	}
	if len(e.Variables) == 0 {
		e.SetVars(nil)
	}
	return db.WithContext(ctx).Create(e).Error
}

// GetExecution fetches an execution by id or returns ErrNotFound.
func GetExecution(ctx context.Context, db *gorm.DB, id string) (*domain.FlowExecution, error) {
	var e domain.FlowExecution
	if err := db.WithContext(ctx).Where("id = ?", id).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

// SaveExecution writes every column of e.
func SaveExecution(ctx context.Context, db *gorm.DB, e *domain.FlowExecution) error {
	e.UpdatedAt = time.Now().UTC()
	return db.WithContext(ctx).Save(e).Error
}

// ListDueExecutions returns waiting executions whose deadline is at or
// before now, oldest deadline first.
func ListDueExecutions(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.FlowExecution, error) {
	var out []domain.FlowExecution
	q := db.WithContext(ctx).
		Where("status = ? AND wait_until IS NOT NULL AND wait_until <= ?", domain.ExecWaiting, now).
		Order("wait_until ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// CountActiveExecutions counts non-terminal executions of a flow.
func CountActiveExecutions(ctx context.Context, db *gorm.DB, flowID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.FlowExecution{}).
		Where("flow_id = ? AND status IN ?", flowID, activeStatuses()).
		Count(&n).Error
	return n, err
}

package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/chatflow-gateway/internal/domain"
)

// EnqueueJob inserts a pending job runnable immediately.
func EnqueueJob(ctx context.Context, db *gorm.DB, kind, connectionID string, payload []byte) (*domain.Job, error) {
	now := time.Now().UTC()
	j := &domain.Job{
		ID:           uuid.NewString(),
		Kind:         kind,
		ConnectionID: connectionID,
		Payload:      payload,
		Status:       domain.JobPending,
		RunAfter:     now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := db.WithContext(ctx).Create(j).Error; err != nil {
		return nil, err
	}
	return j, nil
}

// ClaimJob leases the oldest runnable job until now+lease. A job is runnable
// when it is pending and due, or processing with an expired lease. Returns
// (nil, nil) when nothing is claimable.
//
// The claim is an optimistic conditional update, so concurrent workers on
// any driver can race without double-claiming.
func ClaimJob(ctx context.Context, db *gorm.DB, now time.Time, lease time.Duration) (*domain.Job, error) {
	const runnable = "((status = ? AND run_after <= ?) OR (status = ? AND locked_until <= ?))"
	args := []any{domain.JobPending, now, domain.JobProcessing, now}

	for attempt := 0; attempt < 3; attempt++ {
		var cand domain.Job
		err := db.WithContext(ctx).
			Where(runnable, args...).
			Order("run_after ASC, id ASC").
			First(&cand).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		until := now.Add(lease)
		res := db.WithContext(ctx).
			Model(&domain.Job{}).
			Where("id = ?", cand.ID).
			Where(runnable, args...).
			Updates(map[string]any{
				"status":       domain.JobProcessing,
				"locked_until": until,
				"attempts":     gorm.Expr("attempts + 1"),
				"updated_at":   now,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			cand.Status = domain.JobProcessing
			cand.LockedUntil = &until
			cand.Attempts++
			return &cand, nil
		}
	}
	return nil, nil
}

// CompleteJob marks a job done.
func CompleteJob(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       domain.JobDone,
			"locked_until": nil,
			"last_error":   "",
			"updated_at":   time.Now().UTC(),
		}).Error
}

// FailJob records a failed attempt. The job is rescheduled at retryAt, or
// marked failed for good when retryAt is nil.
func FailJob(ctx context.Context, db *gorm.DB, id, errText string, retryAt *time.Time) error {
	fields := map[string]any{
		"last_error":   errText,
		"locked_until": nil,
		"updated_at":   time.Now().UTC(),
	}
	if retryAt != nil {
		fields["status"] = domain.JobPending
		fields["run_after"] = *retryAt
	} else {
		fields["status"] = domain.JobFailed
	}
	return db.WithContext(ctx).Model(&domain.Job{}).Where("id = ?", id).Updates(fields).Error
}

// PurgeDoneJobs deletes completed jobs last touched before cutoff.
func PurgeDoneJobs(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", domain.JobDone, cutoff).
		Delete(&domain.Job{})
	return res.RowsAffected, res.Error
}

// CountJobs returns the number of jobs in a given status.
func CountJobs(ctx context.Context, db *gorm.DB, status string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Job{}).Where("status = ?", status).Count(&n).Error
	return n, err
}

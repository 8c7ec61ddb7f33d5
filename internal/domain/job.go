package domain

import "time"

// Job kinds.
const (
	JobWebhookPayload = "webhook_payload"
)

// Job statuses.
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobDone       = "done"
	JobFailed     = "failed"
)

// Job is a durable unit of background work. A processing job whose
// LockedUntil has passed is considered abandoned and may be claimed again.
type Job struct {
	ID           string     `json:"id"            gorm:"type:char(36);primaryKey"`
	Kind         string     `json:"kind"          gorm:"type:varchar(32);not null"`
	ConnectionID string     `json:"connection_id" gorm:"type:varchar(64)"`
	Payload      []byte     `json:"-"             gorm:"not null"`
	Status       string     `json:"status"        gorm:"type:varchar(16);not null;index:idx_jobs_claim,priority:1"`
	Attempts     int        `json:"attempts"      gorm:"not null;default:0"`
	LastError    string     `json:"last_error"    gorm:"type:text"`
	RunAfter     time.Time  `json:"run_after"     gorm:"not null;index:idx_jobs_claim,priority:2"`
	LockedUntil  *time.Time `json:"locked_until"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Job.
func (Job) TableName() string { return "jobs" }

package domain

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// ExecutionStatus is the lifecycle state of a FlowExecution.
type ExecutionStatus string

const (
	ExecPending   ExecutionStatus = "pending"
	ExecRunning   ExecutionStatus = "running"
	ExecWaiting   ExecutionStatus = "waiting"
	ExecPaused    ExecutionStatus = "paused"
	ExecCompleted ExecutionStatus = "completed"
	ExecFailed    ExecutionStatus = "failed"
)

var transitions = map[ExecutionStatus][]ExecutionStatus{
	ExecPending: {ExecRunning, ExecFailed},
	ExecRunning: {ExecWaiting, ExecCompleted, ExecFailed, ExecPaused},
	ExecWaiting: {ExecRunning, ExecPaused, ExecFailed, ExecCompleted},
	ExecPaused:  {ExecRunning, ExecWaiting},
}

// CanTransition reports whether from → to is a legal lifecycle move.
func CanTransition(from, to ExecutionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Active reports whether the status occupies the chat's single execution slot.
func (s ExecutionStatus) Active() bool {
	switch s {
	case ExecPending, ExecRunning, ExecWaiting, ExecPaused:
		return true
	}
	return false
}

// Terminal reports whether no further automatic progress is possible.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecCompleted || s == ExecFailed
}

// FlowExecution is the runtime instance of a Flow bound to one chat.
//
// PausedFrom remembers the state to restore on resume (running or waiting).
// WaitUntil is set only while waiting on a node with a timeout.
type FlowExecution struct {
	ID            string          `json:"id"              gorm:"type:char(36);primaryKey"`
	ChatID        string          `json:"chat_id"         gorm:"type:char(36);not null;index"`
	FlowID        string          `json:"flow_id"         gorm:"type:char(36);not null;index"`
	CurrentNodeID string          `json:"current_node_id" gorm:"type:varchar(64)"`
	Variables     datatypes.JSON  `json:"variables"`
	Status        ExecutionStatus `json:"status"          gorm:"type:varchar(16);not null;index:idx_exec_wait,priority:1"`
	PausedFrom    ExecutionStatus `json:"paused_from,omitempty" gorm:"type:varchar(16)"`
	WaitUntil     *time.Time      `json:"wait_until,omitempty"  gorm:"index:idx_exec_wait,priority:2"`
	LastError     string          `json:"last_error,omitempty"  gorm:"type:text"`
	StartedAt     time.Time       `json:"started_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
}

// TableName returns the database table name for FlowExecution.
func (FlowExecution) TableName() string { return "flow_executions" }

// Vars decodes Variables into a fresh map.
func (e *FlowExecution) Vars() map[string]string {
	out := map[string]string{}
	if len(e.Variables) > 0 {
		_ = json.Unmarshal(e.Variables, &out)
	}
	return out
}

// SetVars encodes vars into Variables.
func (e *FlowExecution) SetVars(vars map[string]string) {
	if vars == nil {
		vars = map[string]string{}
	}
	b, _ := json.Marshal(vars)
	e.Variables = datatypes.JSON(b)
}

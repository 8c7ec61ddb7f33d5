// Package services – FlowService
//
// FlowService owns flow definitions: it validates graphs and trigger
// conditions before they are stored, manages activation (which also sets
// trigger precedence) and fronts the engine's per-chat controls for the
// admin API.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/chatflow-gateway/internal/domain"
	"github.com/tbourn/chatflow-gateway/internal/flow"
	"github.com/tbourn/chatflow-gateway/internal/repo"
)

// FlowRunner is the engine surface used by the admin API.
type FlowRunner interface {
	StartFlow(ctx context.Context, req flow.StartRequest) (*flow.ExecutionResult, error)
	PauseFlow(ctx context.Context, chatID string) (*flow.ExecutionResult, error)
	ResumeFlow(ctx context.Context, chatID string) (*flow.ExecutionResult, error)
	Execution(ctx context.Context, chatID string) (*domain.FlowExecution, error)
}

// FlowDefinition is the authoring form of a flow, accepted as JSON by the
// admin API and as YAML by the import command.
type FlowDefinition struct {
	Name     string        `json:"name"               yaml:"name"`
	Status   string        `json:"status,omitempty"   yaml:"status,omitempty"`
	Graph    domain.Graph  `json:"graph"              yaml:"graph"`
	Triggers []domain.Expr `json:"triggers,omitempty" yaml:"triggers,omitempty"`
}

// FlowService manages flow definitions.
type FlowService struct {
	DB     *gorm.DB
	Runner FlowRunner
	Now    func() time.Time
}

// NewFlowService wires a FlowService.
func NewFlowService(db *gorm.DB, runner FlowRunner) *FlowService {
	return &FlowService{DB: db, Runner: runner, Now: time.Now}
}

func validFlowStatus(s string) bool {
	switch s {
	case domain.FlowDraft, domain.FlowActive, domain.FlowPaused:
		return true
	}
	return false
}

// Validate checks a definition without storing it.
func (d *FlowDefinition) Validate() error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidFlow)
	}
	if d.Status == "" {
		d.Status = domain.FlowDraft
	}
	if !validFlowStatus(d.Status) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidFlow, d.Status)
	}
	if err := d.Graph.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFlow, err)
	}
	for i, t := range d.Triggers {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("%w: trigger %d: %v", ErrInvalidFlow, i, err)
		}
	}
	return nil
}

// Create validates def and stores it for userID.
func (s *FlowService) Create(ctx context.Context, userID string, def FlowDefinition) (*domain.Flow, error) {
	ctx, span := otel.Tracer("services/FlowService").Start(ctx, "Create",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	structure, err := json.Marshal(def.Graph)
	if err != nil {
		return nil, err
	}
	f := &domain.Flow{
		UserID:    userID,
		Name:      def.Name,
		Structure: structure,
		Status:    def.Status,
		IsActive:  def.Status == domain.FlowActive,
	}
	if len(def.Triggers) > 0 {
		if f.TriggerConditions, err = json.Marshal(def.Triggers); err != nil {
			return nil, err
		}
	}
	if f.IsActive {
		now := s.Now().UTC()
		f.ActivatedAt = &now
	}
	if err := repo.CreateFlow(ctx, s.DB, f); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("flow.id", f.ID))
	return f, nil
}

// Update validates def and overwrites the structure, name and triggers of
// flow id. An empty status leaves the current one; a different status is
// applied as SetStatus would. Live executions continue on the new graph and
// fail if their current node was removed.
func (s *FlowService) Update(ctx context.Context, id string, def FlowDefinition) (*domain.Flow, error) {
	ctx, span := otel.Tracer("services/FlowService").Start(ctx, "Update",
		trace.WithAttributes(attribute.String("flow.id", id)))
	defer span.End()

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	keepStatus := strings.TrimSpace(def.Status) == ""
	if keepStatus {
		def.Status = current.Status
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	structure, err := json.Marshal(def.Graph)
	if err != nil {
		return nil, err
	}
	var triggers []byte
	if len(def.Triggers) > 0 {
		if triggers, err = json.Marshal(def.Triggers); err != nil {
			return nil, err
		}
	}
	now := s.Now().UTC()
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.UpdateFlow(ctx, tx, id, def.Name, structure, triggers, now); err != nil {
			return err
		}
		if def.Status != current.Status {
			return repo.SetFlowStatus(ctx, tx, id, def.Status, now)
		}
		return nil
	})
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrFlowNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Get returns a flow by id.
func (s *FlowService) Get(ctx context.Context, id string) (*domain.Flow, error) {
	f, err := repo.GetFlow(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrFlowNotFound
	}
	return f, err
}

// SetStatus moves a flow between draft, active and paused. Activating stamps
// activated_at, making the flow the first candidate for trigger matching.
func (s *FlowService) SetStatus(ctx context.Context, id, status string) (*domain.Flow, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if !validFlowStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	err := repo.SetFlowStatus(ctx, s.DB, id, status, s.Now().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrFlowNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Delete removes a flow that has no live executions.
func (s *FlowService) Delete(ctx context.Context, id string) error {
	err := repo.DeleteFlow(ctx, s.DB, id)
	switch {
	case errors.Is(err, repo.ErrInUse):
		return ErrFlowInUse
	case errors.Is(err, repo.ErrNotFound):
		return ErrFlowNotFound
	}
	return err
}

// Start runs flowID for a phone number on one of the owner's connections.
func (s *FlowService) Start(ctx context.Context, req flow.StartRequest) (*flow.ExecutionResult, error) {
	f, err := s.Get(ctx, req.FlowID)
	if err != nil {
		return nil, err
	}
	conn, err := repo.GetConnection(ctx, s.DB, req.ConnectionID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrConnectionNotFound
	}
	if err != nil {
		return nil, err
	}
	if conn.UserID != f.UserID {
		return nil, fmt.Errorf("%w: connection belongs to another user", ErrInvalidInput)
	}
	return s.Runner.StartFlow(ctx, req)
}

// Execution returns the chat's active execution, or nil.
func (s *FlowService) Execution(ctx context.Context, chatID string) (*domain.FlowExecution, error) {
	return s.Runner.Execution(ctx, chatID)
}

// Pause suspends the chat's execution.
func (s *FlowService) Pause(ctx context.Context, chatID string) (*flow.ExecutionResult, error) {
	return s.Runner.PauseFlow(ctx, chatID)
}

// Resume continues a paused execution.
func (s *FlowService) Resume(ctx context.Context, chatID string) (*flow.ExecutionResult, error) {
	return s.Runner.ResumeFlow(ctx, chatID)
}

// Package flow runs automation flows against chats. An Engine walks a flow's
// node graph for one chat at a time, sending messages through the
// dispatcher, branching on conditions, performing actions and suspending on
// wait nodes until the next reply or a timer.
//
// Every mutation of a chat's execution happens under the chat's lock, so two
// inbound messages for the same chat can never advance the same node twice.
package flow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/chatflow-gateway/internal/dispatch"
	"github.com/tbourn/chatflow-gateway/internal/domain"
	"github.com/tbourn/chatflow-gateway/internal/kvstore"
	"github.com/tbourn/chatflow-gateway/internal/observability"
	"github.com/tbourn/chatflow-gateway/internal/repo"
	"github.com/tbourn/chatflow-gateway/internal/webhook"
)

// Sessions is the chat store the engine reads and writes.
type Sessions interface {
	FindOrCreateChat(ctx context.Context, connectionID, phone, contactName string) (*domain.Chat, error)
	GetChat(ctx context.Context, chatID string) (*domain.Chat, error)
	GetActiveFlowExecution(ctx context.Context, chatID string) (*domain.FlowExecution, error)
	SetActiveFlowExecution(ctx context.Context, chatID string, exec *domain.FlowExecution) error
	SaveExecution(ctx context.Context, exec *domain.FlowExecution) error
	TagChat(ctx context.Context, chatID, tag string) error
	AssignAgent(ctx context.Context, chatID, agent string) error
	CloseChat(ctx context.Context, chatID string) error
}

// Outbound sends a message and records it in the chat.
type Outbound interface {
	SendAndRecord(ctx context.Context, chatID string, req dispatch.SendRequest) (dispatch.SendResult, *domain.Message, error)
}

// Outcomes reported in ExecutionResult.
const (
	OutcomeNoMatch   = "no_match"
	OutcomeStarted   = "started"
	OutcomeResumed   = "resumed"
	OutcomeContinued = "continued"
	OutcomePaused    = "paused"
	OutcomeIdle      = "idle"
	OutcomeDuplicate = "duplicate"
	OutcomeExisting  = "existing"
	OutcomeTimedOut  = "timed_out"
)

// ExecutionResult summarizes one engine call.
type ExecutionResult struct {
	ChatID      string                 `json:"chat_id"`
	ExecutionID string                 `json:"execution_id,omitempty"`
	FlowID      string                 `json:"flow_id,omitempty"`
	Status      domain.ExecutionStatus `json:"status,omitempty"`
	NodeID      string                 `json:"current_node_id,omitempty"`
	Outcome     string                 `json:"outcome"`
	Steps       int                    `json:"steps"`
	Sent        int                    `json:"sent"`
}

// Options tune an Engine.
type Options struct {
	StepTimeout time.Duration // bound on one advance, default 30s
	MaxSteps    int           // nodes visited per advance, default 100
	TriggerTTL  time.Duration // how long processed trigger ids are remembered, default 24h
}

// Engine executes flows.
type Engine struct {
	DB       *gorm.DB
	Sessions Sessions
	Out      Outbound
	KV       kvstore.Store
	Locker   *ChatLocker

	// Now is the engine clock; tests replace it.
	Now func() time.Time
	// HTTPClient serves webhook actions.
	HTTPClient *http.Client

	opts Options
	log  zerolog.Logger
}

// New wires an Engine. The chat lock TTL is StepTimeout plus a 5s margin.
func New(db *gorm.DB, sessions Sessions, out Outbound, kv kvstore.Store, opts Options) *Engine {
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 30 * time.Second
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = 100
	}
	if opts.TriggerTTL <= 0 {
		opts.TriggerTTL = 24 * time.Hour
	}
	return &Engine{
		DB:         db,
		Sessions:   sessions,
		Out:        out,
		KV:         kv,
		Locker:     NewChatLocker(kv, opts.StepTimeout+5*time.Second),
		Now:        func() time.Time { return time.Now().UTC() },
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		opts:       opts,
		log:        log.With().Str("component", "flow").Logger(),
	}
}

func tracer() trace.Tracer { return otel.Tracer("flow/Engine") }

func (e *Engine) now() time.Time { return e.Now().UTC() }

// setStatus moves exec to `to` and counts the transition.
func (e *Engine) setStatus(exec *domain.FlowExecution, to domain.ExecutionStatus) {
	if exec.Status == to {
		return
	}
	if !domain.CanTransition(exec.Status, to) {
		e.log.Warn().
			Str("execution_id", exec.ID).
			Str("from", string(exec.Status)).
			Str("to", string(to)).
			Msg("unexpected execution transition")
	}
	exec.Status = to
	if to.Terminal() {
		t := e.now()
		exec.FinishedAt = &t
		exec.WaitUntil = nil
	}
	observability.FlowTransitions.WithLabelValues(string(to)).Inc()
}

func result(chatID string, exec *domain.FlowExecution, outcome string) *ExecutionResult {
	r := &ExecutionResult{ChatID: chatID, Outcome: outcome}
	if exec != nil {
		r.ExecutionID = exec.ID
		r.FlowID = exec.FlowID
		r.Status = exec.Status
		r.NodeID = exec.CurrentNodeID
	}
	return r
}

func triggerKey(chatID, providerMessageID string) string {
	return "flow:trigger:" + chatID + ":" + providerMessageID
}

// Advance processes one inbound trigger (or a nil trigger for a plain
// re-evaluation) for chatID:
//
//   - a waiting execution consumes the trigger as its reply;
//   - a paused execution ignores it;
//   - with no execution, the highest-precedence active flow whose trigger
//     conditions match is started.
//
// A trigger whose provider message id was already processed for the chat is
// a no-op, so redelivered or raced callbacks never send twice.
func (e *Engine) Advance(ctx context.Context, chatID string, trig *Trigger) (*ExecutionResult, error) {
	ctx, span := tracer().Start(ctx, "Advance",
		trace.WithAttributes(attribute.String("chat.id", chatID)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.opts.StepTimeout)
	defer cancel()

	unlock, err := e.Locker.Lock(ctx, chatID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if trig != nil && trig.ProviderMessageID != "" {
		if _, seen, err := e.KV.Get(ctx, triggerKey(chatID, trig.ProviderMessageID)); err == nil && seen {
			return result(chatID, nil, OutcomeDuplicate), nil
		}
	}

	res, err := e.advanceLocked(ctx, chatID, trig)
	if err != nil {
		return nil, err
	}

	if trig != nil && trig.ProviderMessageID != "" {
		if _, err := e.KV.SetNX(context.WithoutCancel(ctx), triggerKey(chatID, trig.ProviderMessageID), "1", e.opts.TriggerTTL); err != nil {
			e.log.Warn().Err(err).Str("chat_id", chatID).Msg("could not remember processed trigger")
		}
	}
	span.SetAttributes(attribute.String("flow.outcome", res.Outcome))
	return res, nil
}

func (e *Engine) advanceLocked(ctx context.Context, chatID string, trig *Trigger) (*ExecutionResult, error) {
	chat, err := e.Sessions.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	exec, err := e.Sessions.GetActiveFlowExecution(ctx, chatID)
	if err != nil {
		return nil, err
	}

	if exec != nil {
		switch exec.Status {
		case domain.ExecPaused:
			return result(chatID, exec, OutcomePaused), nil
		case domain.ExecWaiting:
			if trig == nil {
				return result(chatID, exec, OutcomeIdle), nil
			}
			return e.resumeWithReply(ctx, chat, exec, trig)
		default:
			// A running or pending execution outside the lock was left by a
			// holder that died mid-walk; continue from its current node.
			return e.walkAndSave(ctx, chat, exec, trig, OutcomeContinued)
		}
	}

	if trig == nil {
		return result(chatID, nil, OutcomeIdle), nil
	}
	flow, err := e.matchFlow(ctx, chat, trig)
	if err != nil {
		return nil, err
	}
	if flow == nil {
		return result(chatID, nil, OutcomeNoMatch), nil
	}
	return e.start(ctx, chat, flow, nil, trig)
}

// matchFlow returns the first active flow of the connection's owner whose
// trigger conditions match. Flows are scanned most recently activated first,
// ties by id.
func (e *Engine) matchFlow(ctx context.Context, chat *domain.Chat, trig *Trigger) (*domain.Flow, error) {
	conn, err := repo.GetConnection(ctx, e.DB, chat.ConnectionID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	flows, err := repo.ListActiveFlows(ctx, e.DB, conn.UserID)
	if err != nil {
		return nil, err
	}
	ev := env{trigger: trig, chat: chat}
	for i := range flows {
		conds, err := flows[i].Triggers()
		if err != nil {
			e.log.Warn().Err(err).Str("flow_id", flows[i].ID).Msg("skipping flow with unreadable trigger conditions")
			continue
		}
		if matchesAny(conds, ev) {
			return &flows[i], nil
		}
	}
	return nil, nil
}

func (e *Engine) start(ctx context.Context, chat *domain.Chat, flow *domain.Flow, vars map[string]string, trig *Trigger) (*ExecutionResult, error) {
	g, err := flow.Graph()
	if err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if vars == nil {
		vars = map[string]string{}
	}
	exec := &domain.FlowExecution{
		ChatID:        chat.ID,
		FlowID:        flow.ID,
		CurrentNodeID: g.Start,
		Status:        domain.ExecPending,
		StartedAt:     e.now(),
	}
	exec.SetVars(vars)
	if err := e.Sessions.SetActiveFlowExecution(ctx, chat.ID, exec); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}
	observability.FlowTransitions.WithLabelValues(string(domain.ExecPending)).Inc()
	e.log.Info().Str("chat_id", chat.ID).Str("flow_id", flow.ID).Str("execution_id", exec.ID).Msg("flow started")

	e.setStatus(exec, domain.ExecRunning)
	return e.runAndSave(ctx, chat, exec, g, trig, OutcomeStarted)
}

func (e *Engine) resumeWithReply(ctx context.Context, chat *domain.Chat, exec *domain.FlowExecution, trig *Trigger) (*ExecutionResult, error) {
	g, err := e.graphFor(ctx, exec)
	if err != nil {
		return e.failAndSave(ctx, chat, exec, err.Error())
	}
	node, ok := g.Node(exec.CurrentNodeID)
	if !ok || node.Kind != domain.NodeWait {
		return e.failAndSave(ctx, chat, exec, fmt.Sprintf("waiting on non-wait node %q", exec.CurrentNodeID))
	}

	vars := exec.Vars()
	vars[varLastReply] = trig.Body
	if node.Wait.Variable != "" {
		vars[node.Wait.Variable] = trig.Body
	}
	exec.SetVars(vars)
	exec.WaitUntil = nil
	e.setStatus(exec, domain.ExecRunning)

	edge, ok := replyEdge(g, node.ID)
	if !ok {
		e.setStatus(exec, domain.ExecCompleted)
		return e.saveResult(ctx, chat.ID, exec, OutcomeResumed, 0, 0)
	}
	exec.CurrentNodeID = edge.To
	return e.runAndSave(ctx, chat, exec, g, trig, OutcomeResumed)
}

// replyEdge picks the "reply" edge, else the first unlabeled edge.
func replyEdge(g *domain.Graph, nodeID string) (domain.Edge, bool) {
	if edge, ok := g.EdgeLabelled(nodeID, domain.EdgeReply); ok {
		return edge, true
	}
	return g.EdgeLabelled(nodeID, "")
}

func (e *Engine) walkAndSave(ctx context.Context, chat *domain.Chat, exec *domain.FlowExecution, trig *Trigger, outcome string) (*ExecutionResult, error) {
	g, err := e.graphFor(ctx, exec)
	if err != nil {
		return e.failAndSave(ctx, chat, exec, err.Error())
	}
	e.setStatus(exec, domain.ExecRunning)
	return e.runAndSave(ctx, chat, exec, g, trig, outcome)
}

func (e *Engine) graphFor(ctx context.Context, exec *domain.FlowExecution) (*domain.Graph, error) {
	flow, err := repo.GetFlow(ctx, e.DB, exec.FlowID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrFlowNotFound
	}
	if err != nil {
		return nil, err
	}
	return flow.Graph()
}

func (e *Engine) runAndSave(ctx context.Context, chat *domain.Chat, exec *domain.FlowExecution, g *domain.Graph, trig *Trigger, outcome string) (*ExecutionResult, error) {
	steps, sent := e.run(ctx, chat, exec, g, trig)
	return e.saveResult(ctx, chat.ID, exec, outcome, steps, sent)
}

func (e *Engine) failAndSave(ctx context.Context, chat *domain.Chat, exec *domain.FlowExecution, reason string) (*ExecutionResult, error) {
	exec.LastError = reason
	e.setStatus(exec, domain.ExecFailed)
	e.log.Error().Str("chat_id", chat.ID).Str("execution_id", exec.ID).Str("reason", reason).Msg("flow execution failed")
	return e.saveResult(ctx, chat.ID, exec, OutcomeContinued, 0, 0)
}

// saveResult persists exec even when ctx has expired, so a timed-out step
// still leaves a consistent execution behind.
func (e *Engine) saveResult(ctx context.Context, chatID string, exec *domain.FlowExecution, outcome string, steps, sent int) (*ExecutionResult, error) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.Sessions.SaveExecution(sctx, exec); err != nil {
		return nil, fmt.Errorf("save execution: %w", err)
	}
	r := result(chatID, exec, outcome)
	r.Steps = steps
	r.Sent = sent
	return r, nil
}

func sentKey(execID, triggerID, nodeID string, visit int) string {
	return fmt.Sprintf("flow:sent:%s:%s:%s:%d", execID, triggerID, nodeID, visit)
}

// run walks nodes from exec.CurrentNodeID until the execution waits or
// terminates. Progress is checkpointed after every node with a side effect,
// and sends made for a trigger are remembered, so a retried trigger resumes
// without repeating messages.
func (e *Engine) run(ctx context.Context, chat *domain.Chat, exec *domain.FlowExecution, g *domain.Graph, trig *Trigger) (steps, sent int) {
	vars := exec.Vars()
	defer func() { exec.SetVars(vars) }()

	triggerID := ""
	if trig != nil {
		triggerID = trig.ProviderMessageID
	}
	visits := map[string]int{}

	// checkpoint persists the position reached so far. A failure is logged
	// and the walk goes on; the final save retries it.
	checkpoint := func() {
		exec.SetVars(vars)
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := e.Sessions.SaveExecution(sctx, exec); err != nil {
			e.log.Warn().Err(err).
				Str("chat_id", chat.ID).
				Str("execution_id", exec.ID).
				Str("node_id", exec.CurrentNodeID).
				Msg("execution checkpoint failed")
		}
	}

	fail := func(format string, args ...any) {
		exec.LastError = fmt.Sprintf(format, args...)
		e.setStatus(exec, domain.ExecFailed)
		e.log.Warn().
			Str("chat_id", chat.ID).
			Str("execution_id", exec.ID).
			Str("node_id", exec.CurrentNodeID).
			Str("reason", exec.LastError).
			Msg("flow execution failed")
	}
	// follow moves along edge, or completes the execution when there is none.
	follow := func(edge domain.Edge, ok bool) {
		if !ok {
			e.setStatus(exec, domain.ExecCompleted)
			return
		}
		exec.CurrentNodeID = edge.To
	}
	// failOver takes the node's failure edge or fails the execution.
	failOver := func(nodeID, reason string) {
		exec.LastError = reason
		if edge, ok := g.EdgeLabelled(nodeID, domain.EdgeFailure); ok {
			exec.CurrentNodeID = edge.To
			return
		}
		fail("node %q: %s", nodeID, reason)
	}

	for exec.Status == domain.ExecRunning {
		if steps >= e.opts.MaxSteps {
			fail("step limit of %d exceeded", e.opts.MaxSteps)
			return
		}
		if err := ctx.Err(); err != nil {
			fail("step timeout: %v", err)
			return
		}
		steps++

		node, ok := g.Node(exec.CurrentNodeID)
		if !ok {
			fail("node %q not found", exec.CurrentNodeID)
			return
		}
		ev := env{trigger: trig, chat: chat, vars: vars}

		switch node.Kind {
		case domain.NodeMessage:
			visits[node.ID]++
			key := ""
			if triggerID != "" {
				key = sentKey(exec.ID, triggerID, node.ID, visits[node.ID])
				if _, done, err := e.KV.Get(ctx, key); err == nil && done {
					follow(g.Next(node.ID))
					checkpoint()
					continue
				}
			}
			req := e.messageRequest(chat, node.Message, ev)
			res, rec, err := e.Out.SendAndRecord(ctx, chat.ID, req)
			if err != nil {
				e.log.Error().Err(err).Str("chat_id", chat.ID).Str("node_id", node.ID).Msg("outbound message not recorded")
			}
			if res.Success {
				sent++
				if rec != nil {
					vars["last_message_id"] = rec.ID
				}
				if key != "" {
					if _, err := e.KV.SetNX(context.WithoutCancel(ctx), key, "1", e.opts.TriggerTTL); err != nil {
						e.log.Warn().Err(err).Str("chat_id", chat.ID).Str("node_id", node.ID).Msg("could not remember sent message")
					}
				}
				follow(g.Next(node.ID))
				checkpoint()
			} else {
				reason := "send failed"
				if res.Error != nil {
					reason = res.Error.Error()
				}
				failOver(node.ID, reason)
			}

		case domain.NodeCondition:
			label := branch(node.Condition, ev)
			if edge, ok := g.EdgeLabelled(node.ID, label); ok {
				exec.CurrentNodeID = edge.To
			} else if edge, ok := g.EdgeLabelled(node.ID, domain.EdgeDefault); ok {
				exec.CurrentNodeID = edge.To
			} else {
				fail("condition %q: no edge for %q and no default", node.ID, label)
			}

		case domain.NodeWait:
			if node.Wait.TimeoutSeconds > 0 {
				t := e.now().Add(time.Duration(node.Wait.TimeoutSeconds) * time.Second)
				exec.WaitUntil = &t
			} else {
				exec.WaitUntil = nil
			}
			e.setStatus(exec, domain.ExecWaiting)
			return

		case domain.NodeAction:
			if err := e.perform(ctx, chat, exec, node.Action, ev); err != nil {
				failOver(node.ID, err.Error())
			} else {
				follow(g.Next(node.ID))
				checkpoint()
			}

		default:
			fail("unknown node kind %q", node.Kind)
		}
	}
	return
}

// branch evaluates a condition node and returns the edge label to take.
func branch(c *domain.ConditionNode, ev env) string {
	if c.Expr != nil {
		if evaluate(*c.Expr, ev) {
			return domain.EdgeTrue
		}
		return domain.EdgeFalse
	}
	for _, cs := range c.Cases {
		if evaluate(cs.When, ev) {
			return cs.Name
		}
	}
	return domain.EdgeDefault
}

func (e *Engine) messageRequest(chat *domain.Chat, m *domain.MessageNode, ev env) dispatch.SendRequest {
	req := dispatch.SendRequest{
		ConnectionID: chat.ConnectionID,
		PhoneNumber:  chat.PhoneNumber,
		Type:         m.Type,
		Content:      render(m.Text, ev),
	}
	switch m.Type {
	case domain.OutboundMedia:
		req.MediaURL = render(m.MediaURL, ev)
		req.MediaKind = m.MediaKind
		req.Caption = render(m.Caption, ev)
	case domain.OutboundInteractive:
		req.Buttons = make([]domain.Button, len(m.Buttons))
		for i, b := range m.Buttons {
			req.Buttons[i] = domain.Button{ID: b.ID, Title: render(b.Title, ev)}
		}
	}
	return req
}

// StartRequest starts a flow for a phone number on a connection.
type StartRequest struct {
	FlowID       string            `json:"flow_id"`
	ConnectionID string            `json:"connection_id"`
	PhoneNumber  string            `json:"phone_number"`
	ContactName  string            `json:"contact_name,omitempty"`
	Variables    map[string]string `json:"variables,omitempty"`
}

// StartFlow starts FlowID for the chat of (ConnectionID, PhoneNumber),
// creating the chat if needed. Starting the flow that is already active on
// the chat returns that execution; any other active execution yields
// ErrFlowConflict.
func (e *Engine) StartFlow(ctx context.Context, req StartRequest) (*ExecutionResult, error) {
	ctx, span := tracer().Start(ctx, "StartFlow",
		trace.WithAttributes(attribute.String("flow.id", req.FlowID)))
	defer span.End()

	flow, err := repo.GetFlow(ctx, e.DB, req.FlowID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrFlowNotFound
	}
	if err != nil {
		return nil, err
	}
	if flow.Status != domain.FlowActive {
		return nil, ErrFlowInactive
	}
	phone := webhook.NormalizePhone(req.PhoneNumber)
	if phone == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPhone, req.PhoneNumber)
	}
	chat, err := e.Sessions.FindOrCreateChat(ctx, req.ConnectionID, phone, req.ContactName)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.StepTimeout)
	defer cancel()
	unlock, err := e.Locker.Lock(ctx, chat.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	exec, err := e.Sessions.GetActiveFlowExecution(ctx, chat.ID)
	if err != nil {
		return nil, err
	}
	if exec != nil {
		if exec.FlowID == flow.ID {
			return result(chat.ID, exec, OutcomeExisting), nil
		}
		return nil, ErrFlowConflict
	}
	vars := make(map[string]string, len(req.Variables))
	for k, v := range req.Variables {
		vars[k] = v
	}
	return e.start(ctx, chat, flow, vars, nil)
}

// PauseFlow suspends the chat's running or waiting execution. Pending
// timers are ignored while paused.
func (e *Engine) PauseFlow(ctx context.Context, chatID string) (*ExecutionResult, error) {
	return e.transitionLocked(ctx, chatID, "PauseFlow", OutcomePaused, func(exec *domain.FlowExecution) error {
		if exec.Status != domain.ExecRunning && exec.Status != domain.ExecWaiting {
			return &InvalidStateTransitionError{ExecutionID: exec.ID, From: exec.Status, To: domain.ExecPaused}
		}
		exec.PausedFrom = exec.Status
		e.setStatus(exec, domain.ExecPaused)
		return nil
	})
}

// ResumeFlow restores a paused execution to the state it was paused from.
// A restored wait whose deadline already passed is picked up by the next
// sweep.
func (e *Engine) ResumeFlow(ctx context.Context, chatID string) (*ExecutionResult, error) {
	return e.transitionLocked(ctx, chatID, "ResumeFlow", OutcomeResumed, func(exec *domain.FlowExecution) error {
		if exec.Status != domain.ExecPaused {
			return &InvalidStateTransitionError{ExecutionID: exec.ID, From: exec.Status, To: domain.ExecRunning}
		}
		to := exec.PausedFrom
		if to != domain.ExecWaiting {
			to = domain.ExecRunning
		}
		exec.PausedFrom = ""
		e.setStatus(exec, to)
		return nil
	})
}

func (e *Engine) transitionLocked(ctx context.Context, chatID, op, outcome string, mutate func(*domain.FlowExecution) error) (*ExecutionResult, error) {
	ctx, span := tracer().Start(ctx, op, trace.WithAttributes(attribute.String("chat.id", chatID)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.opts.StepTimeout)
	defer cancel()
	unlock, err := e.Locker.Lock(ctx, chatID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	chat, err := e.Sessions.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	exec, err := e.Sessions.GetActiveFlowExecution(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, ErrNoActiveExecution
	}
	if err := mutate(exec); err != nil {
		return nil, err
	}
	if exec.Status == domain.ExecRunning {
		// Resumed mid-walk: continue from the current node.
		g, err := e.graphFor(ctx, exec)
		if err != nil {
			return e.failAndSave(ctx, chat, exec, err.Error())
		}
		return e.runAndSave(ctx, chat, exec, g, nil, outcome)
	}
	return e.saveResult(ctx, chatID, exec, outcome, 0, 0)
}

// Execution returns the chat's active execution or ErrNoActiveExecution.
func (e *Engine) Execution(ctx context.Context, chatID string) (*domain.FlowExecution, error) {
	exec, err := e.Sessions.GetActiveFlowExecution(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, ErrNoActiveExecution
	}
	return exec, nil
}

// ResumeDue follows the timeout edge of every waiting execution whose
// deadline is at or before now. Each chat is locked and re-checked first, so
// a pause or reply that won the race cancels the timer. It returns how many
// executions were resumed.
func (e *Engine) ResumeDue(ctx context.Context, now time.Time) (int, error) {
	ctx, span := tracer().Start(ctx, "ResumeDue")
	defer span.End()

	due, err := repo.ListDueExecutions(ctx, e.DB, now.UTC(), 100)
	if err != nil {
		return 0, err
	}
	resumed := 0
	for _, d := range due {
		ok, err := e.resumeTimedOut(ctx, d.ChatID, d.ID, now.UTC())
		if err != nil {
			e.log.Error().Err(err).Str("chat_id", d.ChatID).Str("execution_id", d.ID).Msg("wait timeout handling failed")
			continue
		}
		if ok {
			resumed++
		}
	}
	span.SetAttributes(attribute.Int("flow.resumed", resumed))
	return resumed, nil
}

func (e *Engine) resumeTimedOut(ctx context.Context, chatID, execID string, now time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.StepTimeout)
	defer cancel()
	unlock, err := e.Locker.Lock(ctx, chatID)
	if err != nil {
		return false, err
	}
	defer unlock()

	exec, err := repo.GetExecution(ctx, e.DB, execID)
	if err != nil {
		return false, err
	}
	if exec.Status != domain.ExecWaiting || exec.WaitUntil == nil || exec.WaitUntil.After(now) {
		return false, nil
	}
	chat, err := e.Sessions.GetChat(ctx, chatID)
	if err != nil {
		return false, err
	}
	g, err := e.graphFor(ctx, exec)
	if err != nil {
		_, err = e.failAndSave(ctx, chat, exec, err.Error())
		return err == nil, err
	}

	exec.WaitUntil = nil
	e.setStatus(exec, domain.ExecRunning)
	edge, ok := g.EdgeLabelled(exec.CurrentNodeID, domain.EdgeTimeout)
	if !ok {
		e.setStatus(exec, domain.ExecCompleted)
		_, err = e.saveResult(ctx, chatID, exec, OutcomeTimedOut, 0, 0)
		return err == nil, err
	}
	exec.CurrentNodeID = edge.To
	_, err = e.runAndSave(ctx, chat, exec, g, nil, OutcomeTimedOut)
	return err == nil, err
}

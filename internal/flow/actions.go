package flow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tbourn/chatflow-gateway/internal/domain"
)

var errMissingParam = errors.New("missing action parameter")

func param(a *domain.ActionNode, name string, ev env) (string, error) {
	v := strings.TrimSpace(render(a.Params[name], ev))
	if v == "" {
		return "", fmt.Errorf("%w %q for %s", errMissingParam, name, a.Type)
	}
	return v, nil
}

// perform executes an action node. Variable changes land in ev.vars, which
// aliases the walk's variable map.
func (e *Engine) perform(ctx context.Context, chat *domain.Chat, exec *domain.FlowExecution, a *domain.ActionNode, ev env) error {
	switch a.Type {
	case domain.ActionTag:
		tag, err := param(a, "tag", ev)
		if err != nil {
			return err
		}
		return e.Sessions.TagChat(ctx, chat.ID, tag)

	case domain.ActionSetVariable:
		name := strings.TrimSpace(a.Params["name"])
		if name == "" {
			return fmt.Errorf("%w %q for %s", errMissingParam, "name", a.Type)
		}
		ev.vars[name] = render(a.Params["value"], ev)
		return nil

	case domain.ActionAssignAgent:
		agent, err := param(a, "agent", ev)
		if err != nil {
			return err
		}
		if err := e.Sessions.AssignAgent(ctx, chat.ID, agent); err != nil {
			return err
		}
		chat.AssignedAgent = agent
		return nil

	case domain.ActionCloseChat:
		if err := e.Sessions.CloseChat(ctx, chat.ID); err != nil {
			return err
		}
		chat.Status = domain.ChatClosed
		return nil

	case domain.ActionWebhook:
		url, err := param(a, "url", ev)
		if err != nil {
			return err
		}
		return e.postWebhook(ctx, url, chat, exec, ev.vars)
	}
	return fmt.Errorf("unknown action type %q", a.Type)
}

type webhookEvent struct {
	ChatID      string            `json:"chat_id"`
	ExecutionID string            `json:"execution_id"`
	FlowID      string            `json:"flow_id"`
	NodeID      string            `json:"node_id"`
	Phone       string            `json:"phone"`
	ContactName string            `json:"contact_name,omitempty"`
	Variables   map[string]string `json:"variables"`
}

func (e *Engine) postWebhook(ctx context.Context, url string, chat *domain.Chat, exec *domain.FlowExecution, vars map[string]string) error {
	body, err := json.Marshal(webhookEvent{
		ChatID:      chat.ID,
		ExecutionID: exec.ID,
		FlowID:      exec.FlowID,
		NodeID:      exec.CurrentNodeID,
		Phone:       chat.PhoneNumber,
		ContactName: chat.ContactName,
		Variables:   vars,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook action: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook action: %s returned %d", url, resp.StatusCode)
	}
	return nil
}

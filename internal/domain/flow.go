package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"gorm.io/datatypes"
)

// Flow statuses.
const (
	FlowDraft  = "draft"
	FlowActive = "active"
	FlowPaused = "paused"
)

// Flow is an automation definition owned by a dashboard user. Structure holds
// a serialized Graph and TriggerConditions a serialized []Expr. Updates
// overwrite in place.
type Flow struct {
	ID                string         `json:"id"                 gorm:"type:char(36);primaryKey"`
	UserID            string         `json:"user_id"            gorm:"type:varchar(64);not null;index"`
	Name              string         `json:"name"               gorm:"type:varchar(255);not null"`
	Structure         datatypes.JSON `json:"structure"          gorm:"not null"`
	TriggerConditions datatypes.JSON `json:"trigger_conditions"`
	Status            string         `json:"status"             gorm:"type:varchar(16);not null;default:'draft'"`
	IsActive          bool           `json:"is_active"          gorm:"not null;default:false;index"`
	ActivatedAt       *time.Time     `json:"activated_at"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// TableName returns the database table name for Flow.
func (Flow) TableName() string { return "flows" }

// Graph decodes Structure.
func (f *Flow) Graph() (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(f.Structure, &g); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGraph, err)
	}
	return &g, nil
}

// Triggers decodes TriggerConditions. An empty column yields no triggers.
func (f *Flow) Triggers() ([]Expr, error) {
	if len(f.TriggerConditions) == 0 {
		return nil, nil
	}
	var out []Expr
	if err := json.Unmarshal(f.TriggerConditions, &out); err != nil {
		return nil, fmt.Errorf("%w: trigger_conditions: %v", ErrInvalidGraph, err)
	}
	return out, nil
}

// NodeKind discriminates the payload carried by a Node.
type NodeKind string

const (
	NodeMessage   NodeKind = "message"
	NodeCondition NodeKind = "condition"
	NodeWait      NodeKind = "wait"
	NodeAction    NodeKind = "action"
)

// Edge labels with engine meaning.
const (
	EdgeTrue    = "true"
	EdgeFalse   = "false"
	EdgeDefault = "default"
	EdgeReply   = "reply"
	EdgeTimeout = "timeout"
	EdgeFailure = "failure"
)

// Graph is an arena of nodes plus an edge list referencing nodes by id.
type Graph struct {
	Start string `json:"start" yaml:"start"`
	Nodes []Node `json:"nodes" yaml:"nodes"`
	Edges []Edge `json:"edges" yaml:"edges"`
}

// Edge connects two nodes. Label selects among multiple outgoing edges.
type Edge struct {
	From  string `json:"from"            yaml:"from"`
	To    string `json:"to"              yaml:"to"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
}

// Node is a tagged variant: Kind names which of the payload pointers is set.
type Node struct {
	ID        string         `json:"id"                  yaml:"id"`
	Kind      NodeKind       `json:"kind"                yaml:"kind"`
	Message   *MessageNode   `json:"message,omitempty"   yaml:"message,omitempty"`
	Condition *ConditionNode `json:"condition,omitempty" yaml:"condition,omitempty"`
	Wait      *WaitNode      `json:"wait,omitempty"      yaml:"wait,omitempty"`
	Action    *ActionNode    `json:"action,omitempty"    yaml:"action,omitempty"`
}

// Outbound message subtypes for message nodes and dispatch.
const (
	OutboundText        = "text"
	OutboundMedia       = "media"
	OutboundInteractive = "interactive"
)

// MessageNode renders and sends one outbound message. Text and Caption are
// templates with {{name}} placeholders.
type MessageNode struct {
	Type      string   `json:"type"                 yaml:"type"`
	Text      string   `json:"text,omitempty"       yaml:"text,omitempty"`
	MediaURL  string   `json:"media_url,omitempty"  yaml:"media_url,omitempty"`
	MediaKind string   `json:"media_kind,omitempty" yaml:"media_kind,omitempty"`
	Caption   string   `json:"caption,omitempty"    yaml:"caption,omitempty"`
	Buttons   []Button `json:"buttons,omitempty"    yaml:"buttons,omitempty"`
}

// Button is an interactive reply button.
type Button struct {
	ID    string `json:"id"    yaml:"id"`
	Title string `json:"title" yaml:"title"`
}

// ConditionNode branches either on a single Expr (edges "true"/"false") or
// on the first matching Case (edge labelled with the case name). Unmatched
// evaluation follows the "default" edge.
type ConditionNode struct {
	Expr  *Expr  `json:"expr,omitempty"  yaml:"expr,omitempty"`
	Cases []Case `json:"cases,omitempty" yaml:"cases,omitempty"`
}

// Case is one branch of a multi-way condition.
type Case struct {
	Name string `json:"name" yaml:"name"`
	When Expr   `json:"when" yaml:"when"`
}

// WaitNode suspends the execution until the next inbound message or until
// TimeoutSeconds elapse (0 waits indefinitely). The reply body is stored in
// Variable when set.
type WaitNode struct {
	TimeoutSeconds int    `json:"timeout_seconds"    yaml:"timeout_seconds"`
	Variable       string `json:"variable,omitempty" yaml:"variable,omitempty"`
}

// Action types.
const (
	ActionTag         = "tag"
	ActionSetVariable = "set_variable"
	ActionAssignAgent = "assign_agent"
	ActionCloseChat   = "close_chat"
	ActionWebhook     = "webhook"
)

// ActionNode performs a side effect on the chat or execution. Params are
// looked up by name only.
type ActionNode struct {
	Type   string            `json:"type"             yaml:"type"`
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// Expression operators.
const (
	OpEquals     = "equals"
	OpNotEquals  = "not_equals"
	OpContains   = "contains"
	OpStartsWith = "starts_with"
	OpEndsWith   = "ends_with"
	OpRegex      = "regex"
	OpExists     = "exists"
	OpIn         = "in"
)

// Expr is a boolean predicate over the inbound message and execution
// variables. Exactly one of Op, All, Any or Not is used.
//
// Left names the operand: body, type, phone, contact_name or var.<name>.
type Expr struct {
	Op     string   `json:"op,omitempty"     yaml:"op,omitempty"`
	Left   string   `json:"left,omitempty"   yaml:"left,omitempty"`
	Value  string   `json:"value,omitempty"  yaml:"value,omitempty"`
	Values []string `json:"values,omitempty" yaml:"values,omitempty"`
	All    []Expr   `json:"all,omitempty"    yaml:"all,omitempty"`
	Any    []Expr   `json:"any,omitempty"    yaml:"any,omitempty"`
	Not    *Expr    `json:"not,omitempty"    yaml:"not,omitempty"`
}

// ErrInvalidGraph is returned when a flow structure fails validation.
var ErrInvalidGraph = errors.New("invalid flow graph")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidGraph, fmt.Sprintf(format, args...))
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*Node, bool) {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i], true
		}
	}
	return nil, false
}

// Outgoing returns the edges leaving id in declaration order.
func (g *Graph) Outgoing(id string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.From == id {
			out = append(out, e)
		}
	}
	return out
}

// EdgeLabelled returns the first edge leaving id with the given label.
func (g *Graph) EdgeLabelled(id, label string) (Edge, bool) {
	for _, e := range g.Edges {
		if e.From == id && e.Label == label {
			return e, true
		}
	}
	return Edge{}, false
}

// Next returns the single non-failure edge leaving id, if any.
func (g *Graph) Next(id string) (Edge, bool) {
	for _, e := range g.Edges {
		if e.From == id && e.Label != EdgeFailure {
			return e, true
		}
	}
	return Edge{}, false
}

// Validate checks structural integrity: a known start node, unique ids,
// exactly one payload matching each node's kind, and edges that reference
// existing nodes. Message and action nodes may have at most one outgoing
// edge besides "failure".
func (g *Graph) Validate() error {
	if len(g.Nodes) == 0 {
		return invalid("no nodes")
	}
	ids := make(map[string]struct{}, len(g.Nodes))
	for i, n := range g.Nodes {
		if n.ID == "" {
			return invalid("node %d has empty id", i)
		}
		if _, dup := ids[n.ID]; dup {
			return invalid("duplicate node id %q", n.ID)
		}
		ids[n.ID] = struct{}{}
		if err := n.validate(); err != nil {
			return err
		}
	}
	if g.Start == "" {
		return invalid("missing start node")
	}
	if _, ok := ids[g.Start]; !ok {
		return invalid("start node %q does not exist", g.Start)
	}
	for _, e := range g.Edges {
		if _, ok := ids[e.From]; !ok {
			return invalid("edge from unknown node %q", e.From)
		}
		if _, ok := ids[e.To]; !ok {
			return invalid("edge to unknown node %q", e.To)
		}
	}
	for _, n := range g.Nodes {
		if n.Kind != NodeMessage && n.Kind != NodeAction {
			continue
		}
		count := 0
		for _, e := range g.Outgoing(n.ID) {
			if e.Label != EdgeFailure {
				count++
			}
		}
		if count > 1 {
			return invalid("%s node %q has %d outgoing edges", n.Kind, n.ID, count)
		}
	}
	return nil
}

func (n Node) validate() error {
	set := 0
	for _, p := range []bool{n.Message != nil, n.Condition != nil, n.Wait != nil, n.Action != nil} {
		if p {
			set++
		}
	}
	if set != 1 {
		return invalid("node %q must carry exactly one payload", n.ID)
	}
	switch n.Kind {
	case NodeMessage:
		if n.Message == nil {
			return invalid("node %q: kind message without message payload", n.ID)
		}
		switch n.Message.Type {
		case OutboundText, OutboundMedia, OutboundInteractive:
		default:
			return invalid("node %q: unknown message type %q", n.ID, n.Message.Type)
		}
	case NodeCondition:
		if n.Condition == nil {
			return invalid("node %q: kind condition without condition payload", n.ID)
		}
		if n.Condition.Expr == nil && len(n.Condition.Cases) == 0 {
			return invalid("node %q: condition needs expr or cases", n.ID)
		}
		if n.Condition.Expr != nil {
			if err := n.Condition.Expr.Validate(); err != nil {
				return fmt.Errorf("node %q: %w", n.ID, err)
			}
		}
		for _, c := range n.Condition.Cases {
			if c.Name == "" {
				return invalid("node %q: case without name", n.ID)
			}
			if err := c.When.Validate(); err != nil {
				return fmt.Errorf("node %q case %q: %w", n.ID, c.Name, err)
			}
		}
	case NodeWait:
		if n.Wait == nil {
			return invalid("node %q: kind wait without wait payload", n.ID)
		}
		if n.Wait.TimeoutSeconds < 0 {
			return invalid("node %q: negative timeout", n.ID)
		}
	case NodeAction:
		if n.Action == nil {
			return invalid("node %q: kind action without action payload", n.ID)
		}
		switch n.Action.Type {
		case ActionTag, ActionSetVariable, ActionAssignAgent, ActionCloseChat, ActionWebhook:
		default:
			return invalid("node %q: unknown action type %q", n.ID, n.Action.Type)
		}
	default:
		return invalid("node %q: unknown kind %q", n.ID, n.Kind)
	}
	return nil
}

// Validate checks that an expression is well formed.
func (e Expr) Validate() error {
	forms := 0
	if e.Op != "" {
		forms++
	}
	if len(e.All) > 0 {
		forms++
	}
	if len(e.Any) > 0 {
		forms++
	}
	if e.Not != nil {
		forms++
	}
	if forms != 1 {
		return invalid("expression must use exactly one of op, all, any, not")
	}
	for _, sub := range e.All {
		if err := sub.Validate(); err != nil {
			return err
		}
	}
	for _, sub := range e.Any {
		if err := sub.Validate(); err != nil {
			return err
		}
	}
	if e.Not != nil {
		return e.Not.Validate()
	}
	if e.Op == "" {
		return nil
	}
	if e.Left == "" {
		return invalid("expression %q without left operand", e.Op)
	}
	switch e.Op {
	case OpEquals, OpNotEquals, OpContains, OpStartsWith, OpEndsWith, OpExists:
	case OpIn:
		if len(e.Values) == 0 {
			return invalid("in expression without values")
		}
	case OpRegex:
		if _, err := regexp.Compile(e.Value); err != nil {
			return invalid("bad regex %q: %v", e.Value, err)
		}
	default:
		return invalid("unknown operator %q", e.Op)
	}
	return nil
}

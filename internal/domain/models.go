// Package domain defines the persistence models for messaging connections,
// chats, messages, automation flows and their executions. These types are
// mapped with GORM and shared across the repository, session, flow and
// service layers.
package domain

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Provider identifies the outbound messaging API used by a Connection.
type Provider string

const (
	ProviderWhatsAppCloud Provider = "whatsapp_cloud"
	ProviderTwilio        Provider = "twilio"
)

// Connection statuses.
const (
	ConnectionPending      = "pending"
	ConnectionConnected    = "connected"
	ConnectionDisconnected = "disconnected"
	ConnectionError        = "error"
)

// Connection is a configured messaging channel owned by a dashboard user.
// Secrets never leave the server (json:"-").
//
// Fields:
//   - PhoneNumberID: provider-side id used to route inbound callbacks and to
//     address the WhatsApp Cloud send endpoint.
//   - WebhookSecret: HMAC key for X-Hub-Signature-256 (falls back to the
//     process-wide app secret when empty).
//   - VerifyToken: handshake token for the GET verification endpoint.
type Connection struct {
	ID            string    `json:"id"              gorm:"type:char(36);primaryKey"`
	UserID        string    `json:"user_id"         gorm:"type:varchar(64);not null;index"`
	Name          string    `json:"name"            gorm:"type:varchar(255);not null"`
	Provider      Provider  `json:"provider"        gorm:"type:varchar(32);not null;default:'whatsapp_cloud'"`
	PhoneNumber   string    `json:"phone_number"    gorm:"type:varchar(32);not null"`
	PhoneNumberID string    `json:"phone_number_id" gorm:"type:varchar(64);index"`
	AccessToken   string    `json:"-"               gorm:"type:text"`
	APIVersion    string    `json:"api_version"     gorm:"type:varchar(16);not null;default:'v21.0'"`
	WebhookSecret string    `json:"-"               gorm:"type:varchar(255)"`
	VerifyToken   string    `json:"-"               gorm:"type:varchar(255)"`
	Status        string    `json:"status"          gorm:"type:varchar(16);not null;default:'pending'"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName returns the database table name for Connection.
func (Connection) TableName() string { return "connections" }

// Chat statuses.
const (
	ChatActive = "active"
	ChatPaused = "paused"
	ChatClosed = "closed"
)

// Chat is a conversation identified by (connection_id, phone_number). It
// carries denormalized last-message fields and a pointer to the at most one
// non-terminal FlowExecution bound to it.
type Chat struct {
	ID                string         `json:"id"                   gorm:"type:char(36);primaryKey"`
	ConnectionID      string         `json:"connection_id"        gorm:"type:char(36);not null;uniqueIndex:ux_chat_conn_phone,priority:1"`
	PhoneNumber       string         `json:"phone_number"         gorm:"type:varchar(32);not null;uniqueIndex:ux_chat_conn_phone,priority:2"`
	ContactName       string         `json:"contact_name"         gorm:"type:varchar(255)"`
	Status            string         `json:"status"               gorm:"type:varchar(16);not null;default:'active'"`
	LastMessage       string         `json:"last_message"         gorm:"type:text"`
	LastMessageAt     *time.Time     `json:"last_message_at"      gorm:"index"`
	AssignedAgent     string         `json:"assigned_agent"       gorm:"type:varchar(64)"`
	Metadata          datatypes.JSON `json:"metadata"`
	ActiveExecutionID *string        `json:"active_execution_id"  gorm:"type:char(36)"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// TableName returns the database table name for Chat.
func (Chat) TableName() string { return "chats" }

// MetadataMap decodes Metadata into a map. Invalid or empty metadata yields
// an empty map.
func (c *Chat) MetadataMap() map[string]any {
	out := map[string]any{}
	if len(c.Metadata) > 0 {
		_ = json.Unmarshal(c.Metadata, &out)
	}
	return out
}

// Tags returns the "tags" entry of the chat metadata.
func (c *Chat) Tags() []string {
	raw, ok := c.MetadataMap()["tags"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message types.
const (
	MessageText        = "text"
	MessageImage       = "image"
	MessageAudio       = "audio"
	MessageVideo       = "video"
	MessageDocument    = "document"
	MessageInteractive = "interactive"
	MessageButton      = "button"
	MessageLocation    = "location"
	MessageUnknown     = "unknown"
)

// Message delivery statuses.
const (
	MessageReceived  = "received"
	MessageSent      = "sent"
	MessageDelivered = "delivered"
	MessageRead      = "read"
	MessageFailed    = "failed"
)

// statusRank orders outbound delivery statuses; updates never move backwards.
var statusRank = map[string]int{
	MessageReceived:  0,
	MessageSent:      1,
	MessageDelivered: 2,
	MessageRead:      3,
	MessageFailed:    4,
}

// CanAdvanceStatus reports whether a message may move from status `from` to
// `to`. Failed is terminal; otherwise ranks must strictly increase.
func CanAdvanceStatus(from, to string) bool {
	if from == MessageFailed {
		return false
	}
	rf, okf := statusRank[from]
	rt, okt := statusRank[to]
	if !okf || !okt {
		return false
	}
	return rt > rf
}

// Message is an immutable record within a Chat. Only IsRead and Status are
// ever updated after insert.
//
// ProviderMessageID is unique when present so a redelivered inbound callback
// can never append the same message twice.
type Message struct {
	ID                string         `json:"id"                  gorm:"type:char(36);primaryKey"`
	ChatID            string         `json:"chat_id"             gorm:"type:char(36);not null;index:idx_chat_msgs,priority:1"`
	Direction         string         `json:"direction"           gorm:"type:varchar(16);not null;check:direction IN ('inbound','outbound')"`
	Content           string         `json:"content"             gorm:"type:text;not null"`
	MessageType       string         `json:"message_type"        gorm:"type:varchar(16);not null;default:'text'"`
	MediaURL          string         `json:"media_url,omitempty" gorm:"type:text"`
	Status            string         `json:"status"              gorm:"type:varchar(16);not null"`
	IsRead            bool           `json:"is_read"             gorm:"not null;default:false"`
	ProviderMessageID *string        `json:"provider_message_id" gorm:"type:varchar(128);uniqueIndex"`
	Error             string         `json:"error,omitempty"     gorm:"type:text"`
	Metadata          datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"created_at"          gorm:"index:idx_chat_msgs,priority:2"`
	UpdatedAt         time.Time      `json:"updated_at"`

	// Chat is the parent conversation. Messages are cascade-deleted
	// if their chat is removed.
	Chat Chat `json:"-" gorm:"foreignKey:ChatID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// StringPtr returns nil for empty strings, otherwise a pointer to s. Used for
// nullable unique columns.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

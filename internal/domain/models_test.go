package domain

import (
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:domain_models?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Enforce FKs so cascades actually execute.
	db.Exec("PRAGMA foreign_keys=ON;")
	return db
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		(Connection{}).TableName():    "connections",
		(Chat{}).TableName():          "chats",
		(Message{}).TableName():       "messages",
		(Flow{}).TableName():          "flows",
		(FlowExecution{}).TableName(): "flow_executions",
		(Job{}).TableName():           "jobs",
		(Idempotency{}).TableName():   "idempotency",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestMigrations_Indexes_AndCascades(t *testing.T) {
	db := newDomainDB(t)

	if err := db.AutoMigrate(&Connection{}, &Chat{}, &Message{}, &Flow{}, &FlowExecution{}, &Job{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()

	if !m.HasIndex(&Chat{}, "ux_chat_conn_phone") {
		t.Fatalf("expected unique index ux_chat_conn_phone on chats")
	}
	if !m.HasIndex(&Message{}, "idx_chat_msgs") {
		t.Fatalf("expected index idx_chat_msgs on messages")
	}
	if !m.HasIndex(&FlowExecution{}, "idx_exec_wait") {
		t.Fatalf("expected index idx_exec_wait on flow_executions")
	}

	now := time.Now().UTC()
	ch := &Chat{ID: "c1", ConnectionID: "conn", PhoneNumber: "+5511", Status: ChatActive, CreatedAt: now, UpdatedAt: now}
	if err := db.Create(ch).Error; err != nil {
		t.Fatalf("insert chat: %v", err)
	}
	dup := &Chat{ID: "c2", ConnectionID: "conn", PhoneNumber: "+5511", Status: ChatActive}
	if err := db.Create(dup).Error; err == nil {
		t.Fatalf("expected unique violation on (connection_id, phone_number)")
	}

	pid := "wamid.1"
	m1 := &Message{ID: "m1", ChatID: "c1", Direction: DirectionInbound, Content: "oi", Status: MessageReceived, ProviderMessageID: &pid}
	m2 := &Message{ID: "m2", ChatID: "c1", Direction: DirectionOutbound, Content: "a", Status: MessageSent}
	m3 := &Message{ID: "m3", ChatID: "c1", Direction: DirectionOutbound, Content: "b", Status: MessageSent}
	for _, msg := range []*Message{m1, m2, m3} {
		if err := db.Create(msg).Error; err != nil {
			t.Fatalf("insert %s: %v", msg.ID, err)
		}
	}
	again := &Message{ID: "m4", ChatID: "c1", Direction: DirectionInbound, Content: "oi", Status: MessageReceived, ProviderMessageID: &pid}
	if err := db.Create(again).Error; err == nil {
		t.Fatalf("expected unique violation on provider_message_id")
	}
	bad := &Message{ID: "m5", ChatID: "c1", Direction: "sideways", Content: "x", Status: MessageSent}
	if err := db.Create(bad).Error; err == nil {
		t.Fatalf("expected check violation on direction")
	}

	if err := db.Unscoped().Delete(&Chat{}, "id = ?", "c1").Error; err != nil {
		t.Fatalf("delete chat: %v", err)
	}
	var cnt int64
	if err := db.Model(&Message{}).Where("chat_id = ?", "c1").Count(&cnt).Error; err != nil {
		t.Fatalf("count messages after chat delete: %v", err)
	}
	if cnt != 0 {
		t.Fatalf("expected messages to cascade-delete when chat deleted, got count=%d", cnt)
	}
}

func TestCanAdvanceStatus(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{MessageSent, MessageDelivered, true},
		{MessageSent, MessageRead, true},
		{MessageDelivered, MessageRead, true},
		{MessageRead, MessageDelivered, false},
		{MessageDelivered, MessageSent, false},
		{MessageSent, MessageSent, false},
		{MessageSent, MessageFailed, true},
		{MessageFailed, MessageRead, false},
		{MessageSent, "bogus", false},
	}
	for _, tc := range tests {
		if got := CanAdvanceStatus(tc.from, tc.to); got != tc.want {
			t.Errorf("CanAdvanceStatus(%q,%q) = %v; want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestChatMetadataAndTags(t *testing.T) {
	c := &Chat{}
	if len(c.MetadataMap()) != 0 || c.Tags() != nil {
		t.Fatalf("empty metadata should decode to nothing")
	}
	c.Metadata = datatypes.JSON(`{"tags":["vip","lead",3],"source":"ads"}`)
	tags := c.Tags()
	if len(tags) != 2 || tags[0] != "vip" || tags[1] != "lead" {
		t.Fatalf("tags = %v", tags)
	}
	if c.MetadataMap()["source"] != "ads" {
		t.Fatalf("metadata = %v", c.MetadataMap())
	}
	c.Metadata = datatypes.JSON(`not json`)
	if len(c.MetadataMap()) != 0 {
		t.Fatalf("invalid metadata should yield empty map")
	}
}

func TestStringPtr(t *testing.T) {
	if StringPtr("") != nil {
		t.Fatalf("empty string should be nil")
	}
	if p := StringPtr("x"); p == nil || *p != "x" {
		t.Fatalf("StringPtr(x) = %v", p)
	}
}

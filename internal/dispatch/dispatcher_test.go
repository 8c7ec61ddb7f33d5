package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tbourn/chatflow-gateway/internal/domain"
	"github.com/tbourn/chatflow-gateway/internal/provider"
	"github.com/tbourn/chatflow-gateway/internal/repo"
)

type fakeConns map[string]*domain.Connection

func (f fakeConns) Connection(_ context.Context, id string) (*domain.Connection, error) {
	if c, ok := f[id]; ok {
		return c, nil
	}
	return nil, repo.ErrNotFound
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []provider.OutboundMessage
	err   error
	block bool
}

func (f *fakeSender) Name() string { return string(domain.ProviderWhatsAppCloud) }

func (f *fakeSender) Send(ctx context.Context, _ *domain.Connection, m provider.OutboundMessage) (string, error) {
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, m)
	return "wamid.sent", nil
}

type fakeRecorder struct {
	msgs []*domain.Message
}

func (f *fakeRecorder) AppendMessage(_ context.Context, chatID string, m *domain.Message) (*domain.Message, error) {
	m.ChatID = chatID
	f.msgs = append(f.msgs, m)
	return m, nil
}

func newDispatcher(s *fakeSender, rec Recorder, opts Options) *Dispatcher {
	conns := fakeConns{
		"c1":  {ID: "c1", Provider: domain.ProviderWhatsAppCloud, Status: domain.ConnectionConnected},
		"tw":  {ID: "tw", Provider: domain.ProviderTwilio},
		"off": {ID: "off", Provider: domain.ProviderWhatsAppCloud, Status: domain.ConnectionDisconnected},
	}
	return New(conns, rec, opts, s)
}

func TestValidate(t *testing.T) {
	long := strings.Repeat("é", MaxTextRunes+1)
	btn := func(id, title string) domain.Button { return domain.Button{ID: id, Title: title} }
	cases := []struct {
		name string
		req  SendRequest
		ok   bool
	}{
		{"text ok", SendRequest{PhoneNumber: "+1", Type: "text", Content: "hi"}, true},
		{"text at limit", SendRequest{PhoneNumber: "+1", Type: "text", Content: strings.Repeat("é", MaxTextRunes)}, true},
		{"text too long", SendRequest{PhoneNumber: "+1", Type: "text", Content: long}, false},
		{"text empty", SendRequest{PhoneNumber: "+1", Type: "text", Content: "  "}, false},
		{"no phone", SendRequest{Type: "text", Content: "x"}, false},
		{"media ok", SendRequest{PhoneNumber: "+1", Type: "media", MediaURL: "https://x/a.pdf", MediaKind: "document"}, true},
		{"media no url", SendRequest{PhoneNumber: "+1", Type: "media", MediaKind: "image"}, false},
		{"media bad kind", SendRequest{PhoneNumber: "+1", Type: "media", MediaURL: "u", MediaKind: "sticker"}, false},
		{"interactive ok", SendRequest{PhoneNumber: "+1", Type: "interactive", Content: "Pick", Buttons: []domain.Button{btn("a", "A"), btn("b", "B"), btn("c", "C")}}, true},
		{"interactive 4 buttons", SendRequest{PhoneNumber: "+1", Type: "interactive", Content: "Pick", Buttons: []domain.Button{btn("a", "A"), btn("b", "B"), btn("c", "C"), btn("d", "D")}}, false},
		{"interactive no buttons", SendRequest{PhoneNumber: "+1", Type: "interactive", Content: "Pick"}, false},
		{"interactive dup ids", SendRequest{PhoneNumber: "+1", Type: "interactive", Content: "Pick", Buttons: []domain.Button{btn("a", "A"), btn("a", "B")}}, false},
		{"interactive long title", SendRequest{PhoneNumber: "+1", Type: "interactive", Content: "Pick", Buttons: []domain.Button{btn("a", strings.Repeat("x", 21))}}, false},
		{"interactive no body", SendRequest{PhoneNumber: "+1", Type: "interactive", Buttons: []domain.Button{btn("a", "A")}}, false},
		{"unknown type", SendRequest{PhoneNumber: "+1", Type: "sticker", Content: "x"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.req)
			if (err == nil) != tc.ok {
				t.Fatalf("Validate = %v, want ok=%v", err, tc.ok)
			}
			if err != nil && !errors.Is(err, ErrValidation) {
				t.Fatalf("validation error does not match ErrValidation: %v", err)
			}
		})
	}
}

func TestSend_Success(t *testing.T) {
	s := &fakeSender{}
	d := newDispatcher(s, nil, Options{})
	res := d.Send(context.Background(), SendRequest{ConnectionID: "c1", PhoneNumber: "+5511", Content: "olá"})
	if !res.Success || res.ProviderMessageID != "wamid.sent" || res.Error != nil {
		t.Fatalf("res = %+v", res)
	}
	if len(s.sent) != 1 || s.sent[0].Type != domain.OutboundText || s.sent[0].To != "+5511" {
		t.Fatalf("sent = %+v", s.sent)
	}
}

func TestSend_Failures(t *testing.T) {
	s := &fakeSender{}
	d := newDispatcher(s, nil, Options{})
	ctx := context.Background()

	if res := d.Send(ctx, SendRequest{ConnectionID: "missing", PhoneNumber: "+1", Content: "x"}); res.Error == nil || res.Error.Code != CodeUnknownConn {
		t.Fatalf("missing connection = %+v", res)
	}
	if res := d.Send(ctx, SendRequest{ConnectionID: "tw", PhoneNumber: "+1", Content: "x"}); res.Error == nil || res.Error.Code != CodeUnknownProvider {
		t.Fatalf("unconfigured provider = %+v", res)
	}
	if res := d.Send(ctx, SendRequest{ConnectionID: "off", PhoneNumber: "+1", Content: "x"}); res.Error == nil || res.Error.Code != CodeConnectionOffline {
		t.Fatalf("disconnected = %+v", res)
	}

	s.err = &provider.Error{Code: "graph_131047", Message: "re-engagement required", StatusCode: 400}
	res := d.Send(ctx, SendRequest{ConnectionID: "c1", PhoneNumber: "+1", Content: "x"})
	if res.Success || res.Error.Code != "graph_131047" || res.Error.Retryable {
		t.Fatalf("provider error = %+v", res)
	}
	if len(s.sent) != 0 {
		t.Fatalf("no provider call should have succeeded")
	}
}

func TestSend_TimeoutIsRetryable(t *testing.T) {
	d := newDispatcher(&fakeSender{block: true}, nil, Options{Timeout: 20 * time.Millisecond})
	res := d.Send(context.Background(), SendRequest{ConnectionID: "c1", PhoneNumber: "+1", Content: "x"})
	if res.Success || res.Error == nil || res.Error.Code != "timeout" || !res.Error.Retryable {
		t.Fatalf("res = %+v", res)
	}
}

func TestSend_PerConnectionThrottle(t *testing.T) {
	s := &fakeSender{}
	d := newDispatcher(s, nil, Options{RPS: 1, Burst: 1, Timeout: 50 * time.Millisecond})
	ctx := context.Background()
	if res := d.Send(ctx, SendRequest{ConnectionID: "c1", PhoneNumber: "+1", Content: "a"}); !res.Success {
		t.Fatalf("first = %+v", res)
	}
	// The next token is a second away, beyond the 50ms send deadline.
	res := d.Send(ctx, SendRequest{ConnectionID: "c1", PhoneNumber: "+1", Content: "b"})
	if res.Success || res.Error.Code != "throttled" {
		t.Fatalf("second = %+v", res)
	}
}

func TestSendAndRecord(t *testing.T) {
	s := &fakeSender{}
	rec := &fakeRecorder{}
	d := newDispatcher(s, rec, Options{})
	ctx := context.Background()

	res, m, err := d.SendAndRecord(ctx, "chat-1", SendRequest{ConnectionID: "c1", PhoneNumber: "+1", Content: "hi"})
	if err != nil || !res.Success {
		t.Fatalf("SendAndRecord = %+v, %v", res, err)
	}
	if m.Status != domain.MessageSent || m.ProviderMessageID == nil || *m.ProviderMessageID != "wamid.sent" || m.Direction != domain.DirectionOutbound {
		t.Fatalf("recorded = %+v", m)
	}

	s.err = &provider.Error{Code: "graph_100", Message: "bad param"}
	res, m, err = d.SendAndRecord(ctx, "chat-1", SendRequest{ConnectionID: "c1", PhoneNumber: "+1", Type: "media", MediaURL: "https://x/i.png", MediaKind: "image", Caption: "cap"})
	if err != nil || res.Success {
		t.Fatalf("failed send = %+v, %v", res, err)
	}
	if m.Status != domain.MessageFailed || m.Error == "" || m.MessageType != "image" || m.Content != "cap" || m.ProviderMessageID != nil {
		t.Fatalf("recorded failure = %+v", m)
	}

	res, m, _ = d.SendAndRecord(ctx, "chat-1", SendRequest{ConnectionID: "c1", PhoneNumber: "+1", Type: "text"})
	if res.Error == nil || m != nil {
		t.Fatalf("invalid request must not be recorded: %+v %+v", res, m)
	}
	if len(rec.msgs) != 2 {
		t.Fatalf("recorded %d messages", len(rec.msgs))
	}
}

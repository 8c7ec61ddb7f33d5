package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/tbourn/chatflow-gateway/internal/dispatch"
	"github.com/tbourn/chatflow-gateway/internal/domain"
	"github.com/tbourn/chatflow-gateway/internal/session"
)

// fakeOutbound records through the real session store, the way the
// dispatcher does, without calling a provider.
type fakeOutbound struct {
	store *session.Store
	calls []dispatch.SendRequest
	fail  bool
}

func (f *fakeOutbound) SendAndRecord(ctx context.Context, chatID string, req dispatch.SendRequest) (dispatch.SendResult, *domain.Message, error) {
	f.calls = append(f.calls, req)
	if verr := dispatch.Validate(req); verr != nil {
		return dispatch.SendResult{Error: verr}, nil, nil
	}
	m := &domain.Message{Direction: domain.DirectionOutbound, Content: req.Content, Status: domain.MessageSent}
	res := dispatch.SendResult{Success: true, ProviderMessageID: fmt.Sprintf("wamid.agent.%d", len(f.calls))}
	if f.fail {
		res = dispatch.SendResult{Error: &dispatch.DispatchError{Code: "graph_131047", Message: "re-engagement required"}}
		m.Status = domain.MessageFailed
	} else {
		m.ProviderMessageID = domain.StringPtr(res.ProviderMessageID)
	}
	saved, err := f.store.AppendMessage(ctx, chatID, m)
	return res, saved, err
}

func newMessageService(t *testing.T) (*MessageService, *fakeOutbound, *domain.Chat) {
	t.Helper()
	db := newTestDB(t)
	conn := seedConnection(t, db, nil)
	store := session.New(db)
	chat, err := store.FindOrCreateChat(context.Background(), conn.ID, "+5511911111111", "Ana")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	out := &fakeOutbound{store: store}
	return NewMessageService(db, out, time.Hour), out, chat
}

func TestMessageService_SendValidation(t *testing.T) {
	svc, out, chat := newMessageService(t)
	svc.MaxContentRunes = 5
	ctx := context.Background()

	cases := []struct {
		name string
		in   SendInput
		want error
	}{
		{"empty", SendInput{Content: "  "}, ErrEmptyContent},
		{"too long", SendInput{Content: "abcdef"}, ErrTooLong},
		{"media without url", SendInput{Type: "media"}, ErrEmptyContent},
		{"unknown type", SendInput{Type: "sticker", Content: "x"}, ErrInvalidInput},
	}
	for _, tc := range cases {
		if _, err := svc.Send(ctx, "admin", chat.ID, "", tc.in); !errors.Is(err, tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}
	if _, err := svc.Send(ctx, "admin", "missing", "", SendInput{Content: "hi"}); !errors.Is(err, ErrChatNotFound) {
		t.Errorf("missing chat: %v", err)
	}
	if len(out.calls) != 0 {
		t.Fatalf("validation failures reached the dispatcher: %d", len(out.calls))
	}

	// Rejected by the dispatcher itself (4 buttons).
	btns := []domain.Button{{ID: "1", Title: "a"}, {ID: "2", Title: "b"}, {ID: "3", Title: "c"}, {ID: "4", Title: "d"}}
	if _, err := svc.Send(ctx, "admin", chat.ID, "", SendInput{Type: "interactive", Content: "pick", Buttons: btns}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("dispatch validation = %v", err)
	}
}

func TestMessageService_SendIdempotentReplay(t *testing.T) {
	svc, out, chat := newMessageService(t)
	ctx := context.Background()

	first, err := svc.Send(ctx, "admin", chat.ID, "key-1", SendInput{Content: "hello"})
	if err != nil || first.Status != http.StatusCreated || first.Replayed {
		t.Fatalf("first = %+v, %v", first, err)
	}
	again, err := svc.Send(ctx, "admin", chat.ID, "key-1", SendInput{Content: "hello"})
	if err != nil || !again.Replayed || again.Message.ID != first.Message.ID {
		t.Fatalf("replay = %+v, %v", again, err)
	}
	if again.Result.ProviderMessageID != "wamid.agent.1" {
		t.Fatalf("replayed provider id = %q", again.Result.ProviderMessageID)
	}
	if len(out.calls) != 1 {
		t.Fatalf("dispatch calls = %d, want 1", len(out.calls))
	}

	other, err := svc.Send(ctx, "someone-else", chat.ID, "key-1", SendInput{Content: "hello"})
	if err != nil || other.Replayed {
		t.Fatalf("different subject must not replay: %+v, %v", other, err)
	}
}

func TestMessageService_SendFailureAndClosedChat(t *testing.T) {
	svc, out, chat := newMessageService(t)
	ctx := context.Background()
	out.fail = true

	res, err := svc.Send(ctx, "admin", chat.ID, "k", SendInput{Content: "hi"})
	if err != nil || res.Status != http.StatusBadGateway || res.Message.Status != domain.MessageFailed {
		t.Fatalf("failed send = %+v, %v", res, err)
	}
	replay, _ := svc.Send(ctx, "admin", chat.ID, "k", SendInput{Content: "hi"})
	if replay == nil || replay.Status != http.StatusBadGateway || replay.Result.Success {
		t.Fatalf("replayed failure = %+v", replay)
	}

	if err := session.New(svc.DB).CloseChat(ctx, chat.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := svc.Send(ctx, "admin", chat.ID, "", SendInput{Content: "hi"}); !errors.Is(err, ErrChatClosed) {
		t.Fatalf("closed chat = %v", err)
	}
}

func TestMessageService_ListPageAndStats(t *testing.T) {
	svc, _, chat := newMessageService(t)
	ctx := context.Background()

	for _, c := range []string{"a", "b", "c"} {
		if _, err := svc.Send(ctx, "admin", chat.ID, "", SendInput{Content: c}); err != nil {
			t.Fatalf("send %s: %v", c, err)
		}
	}
	items, total, err := svc.ListPage(ctx, chat.ID, 2, 2)
	if err != nil || total != 3 || len(items) != 1 {
		t.Fatalf("page 2 = %+v, %d, %v", items, total, err)
	}
	if _, _, err := svc.ListPage(ctx, "missing", 1, 10); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("missing chat = %v", err)
	}

	n, ts, err := svc.Stats(ctx, chat.ID)
	if err != nil || n != 3 || ts == nil {
		t.Fatalf("Stats = %d, %v, %v", n, ts, err)
	}
}

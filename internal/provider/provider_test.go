package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	twclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/tbourn/chatflow-gateway/internal/domain"
)

func cloudConn() *domain.Connection {
	return &domain.Connection{
		ID:            "conn-1",
		Provider:      domain.ProviderWhatsAppCloud,
		PhoneNumberID: "10001",
		AccessToken:   "tok",
		APIVersion:    "v21.0",
	}
}

func TestWhatsAppCloud_SendText(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.OUT1"}]}`))
	}))
	defer srv.Close()

	c := NewWhatsAppCloud(srv.URL+"/", nil)
	id, err := c.Send(context.Background(), cloudConn(), OutboundMessage{To: "+5511999", Type: domain.OutboundText, Text: "hello"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != "wamid.OUT1" {
		t.Fatalf("id = %q", id)
	}
	if gotPath != "/v21.0/10001/messages" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("auth = %q", gotAuth)
	}
	if gotBody["to"] != "5511999" || gotBody["type"] != "text" {
		t.Fatalf("body = %v", gotBody)
	}
}

func TestWhatsAppCloud_InteractiveAndMediaBodies(t *testing.T) {
	req, err := buildCloudRequest(OutboundMessage{
		To: "+1", Type: domain.OutboundInteractive, Text: "Pick",
		Buttons: []domain.Button{{ID: "a", Title: "A"}, {ID: "b", Title: "B"}},
	})
	if err != nil {
		t.Fatalf("interactive: %v", err)
	}
	if req.Interactive == nil || len(req.Interactive.Action.Buttons) != 2 || req.Interactive.Action.Buttons[1].Reply.ID != "b" {
		t.Fatalf("interactive = %+v", req.Interactive)
	}

	req, err = buildCloudRequest(OutboundMessage{To: "+1", Type: domain.OutboundMedia, MediaKind: "audio", MediaURL: "https://x/a.ogg", Caption: "ignored"})
	if err != nil || req.Audio == nil || req.Audio.Caption != "" || req.Type != "audio" {
		t.Fatalf("audio = %+v, %v", req, err)
	}
	if _, err := buildCloudRequest(OutboundMessage{Type: domain.OutboundMedia, MediaKind: "sticker"}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestWhatsAppCloud_ErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		code      string
		retryable bool
	}{
		{"auth", 401, `{"error":{"message":"bad token","code":190}}`, "graph_190", false},
		{"throttled", 400, `{"error":{"message":"too many","code":130429}}`, "graph_130429", true},
		{"server", 503, `upstream down`, "provider_error", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewWhatsAppCloud(srv.URL, srv.Client()).Send(context.Background(), cloudConn(), OutboundMessage{To: "+1", Type: domain.OutboundText, Text: "x"})
			pe := Classify(err)
			if pe == nil || pe.Code != tc.code || pe.Retryable != tc.retryable || pe.StatusCode != tc.status {
				t.Fatalf("classified = %+v", pe)
			}
		})
	}
}

func TestWhatsAppCloud_Unconfigured(t *testing.T) {
	conn := cloudConn()
	conn.AccessToken = ""
	_, err := NewWhatsAppCloud("http://unused", nil).Send(context.Background(), conn, OutboundMessage{Type: domain.OutboundText})
	if pe := Classify(err); pe.Code != "not_configured" || pe.Retryable {
		t.Fatalf("classified = %+v", pe)
	}
}

func TestClassify_ContextErrors(t *testing.T) {
	if pe := Classify(context.DeadlineExceeded); pe.Code != "timeout" || !pe.Retryable {
		t.Fatalf("deadline = %+v", pe)
	}
	if pe := Classify(errors.New("dial tcp: refused")); pe.Code != "transport" || !pe.Retryable {
		t.Fatalf("transport = %+v", pe)
	}
	if Classify(nil) != nil {
		t.Fatal("nil error classified")
	}
}

type fakeCreator struct {
	params *twilioApi.CreateMessageParams
	sid    string
	err    error
	delay  time.Duration
}

func (f *fakeCreator) CreateMessage(p *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.params = p
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	sid := f.sid
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

func TestTwilio_SendInteractiveAsNumberedOptions(t *testing.T) {
	fc := &fakeCreator{sid: "SM123"}
	tw := &Twilio{api: fc}
	conn := &domain.Connection{ID: "c", Provider: domain.ProviderTwilio, PhoneNumber: "+14155238886"}

	id, err := tw.Send(context.Background(), conn, OutboundMessage{
		To: "+5511999", Type: domain.OutboundInteractive, Text: "Choose",
		Buttons: []domain.Button{{ID: "y", Title: "Yes"}, {ID: "n", Title: "No"}},
	})
	if err != nil || id != "SM123" {
		t.Fatalf("Send = %q, %v", id, err)
	}
	if *fc.params.From != "whatsapp:+14155238886" || *fc.params.To != "whatsapp:+5511999" {
		t.Fatalf("addresses = %s -> %s", *fc.params.From, *fc.params.To)
	}
	if want := "Choose\n1. Yes\n2. No"; *fc.params.Body != want {
		t.Fatalf("body = %q", *fc.params.Body)
	}
}

func TestTwilio_MediaAndErrors(t *testing.T) {
	fc := &fakeCreator{sid: "SM9"}
	tw := &Twilio{api: fc}
	conn := &domain.Connection{PhoneNumber: "whatsapp:+1"}
	if _, err := tw.Send(context.Background(), conn, OutboundMessage{To: "+2", Type: domain.OutboundMedia, MediaURL: "https://x/i.png", MediaKind: "image"}); err != nil {
		t.Fatalf("media: %v", err)
	}
	if fc.params.MediaUrl == nil || (*fc.params.MediaUrl)[0] != "https://x/i.png" || fc.params.Body != nil {
		t.Fatalf("media params = %+v", fc.params)
	}

	fc.err = &twclient.TwilioRestError{Code: 21211, Message: "invalid To", Status: 400}
	_, err := tw.Send(context.Background(), conn, OutboundMessage{To: "+2", Type: domain.OutboundText, Text: "x"})
	pe := Classify(err)
	if pe.Code != "twilio_21211" || pe.Retryable || pe.StatusCode != 400 {
		t.Fatalf("classified = %+v", pe)
	}
}

func TestTwilio_ContextBoundsSlowCall(t *testing.T) {
	tw := &Twilio{api: &fakeCreator{sid: "late", delay: 200 * time.Millisecond}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := tw.Send(ctx, &domain.Connection{PhoneNumber: "+1"}, OutboundMessage{To: "+2", Type: domain.OutboundText, Text: "x"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	if !strings.Contains(Classify(err).Code, "timeout") {
		t.Fatalf("classify = %+v", Classify(err))
	}
}

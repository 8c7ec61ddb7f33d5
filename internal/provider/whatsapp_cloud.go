package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/chatflow-gateway/internal/domain"
)

// Graph API error codes that signal throttling.
var cloudThrottleCodes = map[int]bool{4: true, 80007: true, 130429: true, 131056: true}

// WhatsAppCloud sends through the Meta Graph API:
// POST {BaseURL}/{version}/{phone_number_id}/messages with a bearer token.
type WhatsAppCloud struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewWhatsAppCloud returns a client for baseURL (e.g. https://graph.facebook.com).
func NewWhatsAppCloud(baseURL string, hc *http.Client) *WhatsAppCloud {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &WhatsAppCloud{BaseURL: strings.TrimRight(baseURL, "/"), HTTPClient: hc}
}

func (w *WhatsAppCloud) Name() string { return string(domain.ProviderWhatsAppCloud) }

type cloudText struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url,omitempty"`
}

type cloudMedia struct {
	Link    string `json:"link"`
	Caption string `json:"caption,omitempty"`
}

type cloudReplyButton struct {
	Type  string `json:"type"`
	Reply struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"reply"`
}

type cloudInteractive struct {
	Type string `json:"type"`
	Body struct {
		Text string `json:"text"`
	} `json:"body"`
	Action struct {
		Buttons []cloudReplyButton `json:"buttons"`
	} `json:"action"`
}

type cloudRequest struct {
	MessagingProduct string            `json:"messaging_product"`
	RecipientType    string            `json:"recipient_type"`
	To               string            `json:"to"`
	Type             string            `json:"type"`
	Text             *cloudText        `json:"text,omitempty"`
	Image            *cloudMedia       `json:"image,omitempty"`
	Audio            *cloudMedia       `json:"audio,omitempty"`
	Video            *cloudMedia       `json:"video,omitempty"`
	Document         *cloudMedia       `json:"document,omitempty"`
	Interactive      *cloudInteractive `json:"interactive,omitempty"`
}

type cloudResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func buildCloudRequest(msg OutboundMessage) (cloudRequest, error) {
	req := cloudRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               strings.TrimPrefix(msg.To, "+"),
	}
	switch msg.Type {
	case domain.OutboundText:
		req.Type = "text"
		req.Text = &cloudText{Body: msg.Text}
	case domain.OutboundMedia:
		m := &cloudMedia{Link: msg.MediaURL}
		if msg.MediaKind != domain.MessageAudio {
			m.Caption = msg.Caption
		}
		req.Type = msg.MediaKind
		switch msg.MediaKind {
		case domain.MessageImage:
			req.Image = m
		case domain.MessageAudio:
			req.Audio = m
		case domain.MessageVideo:
			req.Video = m
		case domain.MessageDocument:
			req.Document = m
		default:
			return req, fmt.Errorf("%w: media kind %q", ErrUnsupported, msg.MediaKind)
		}
	case domain.OutboundInteractive:
		in := &cloudInteractive{Type: "button"}
		in.Body.Text = msg.Text
		for _, b := range msg.Buttons {
			var rb cloudReplyButton
			rb.Type = "reply"
			rb.Reply.ID = b.ID
			rb.Reply.Title = b.Title
			in.Action.Buttons = append(in.Action.Buttons, rb)
		}
		req.Type = "interactive"
		req.Interactive = in
	default:
		return req, fmt.Errorf("%w: message type %q", ErrUnsupported, msg.Type)
	}
	return req, nil
}

// Send posts msg and returns the wamid assigned by the Graph API.
func (w *WhatsAppCloud) Send(ctx context.Context, conn *domain.Connection, msg OutboundMessage) (string, error) {
	ctx, span := otel.Tracer("provider/WhatsAppCloud").Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("connection.id", conn.ID),
			attribute.String("message.type", msg.Type),
		))
	defer span.End()

	if conn.PhoneNumberID == "" || conn.AccessToken == "" {
		return "", &Error{Code: "not_configured", Message: "connection lacks phone_number_id or access token"}
	}
	body, err := buildCloudRequest(msg)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	version := conn.APIVersion
	if version == "" {
		version = "v21.0"
	}
	url := fmt.Sprintf("%s/%s/%s/messages", w.BaseURL, version, conn.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+conn.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out cloudResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	_ = json.Unmarshal(data, &out)

	if resp.StatusCode >= 300 || out.Error != nil {
		pe := &Error{Code: "provider_error", StatusCode: resp.StatusCode, Retryable: retryableStatus(resp.StatusCode)}
		if out.Error != nil {
			pe.Code = fmt.Sprintf("graph_%d", out.Error.Code)
			pe.Message = out.Error.Message
			if cloudThrottleCodes[out.Error.Code] {
				pe.Retryable = true
			}
		} else {
			pe.Message = strings.TrimSpace(string(data))
		}
		return "", pe
	}
	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return "", &Error{Code: "bad_response", Message: "no message id in response", StatusCode: resp.StatusCode}
	}
	return out.Messages[0].ID, nil
}

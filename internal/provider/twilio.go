package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/tbourn/chatflow-gateway/internal/domain"
)

// messageCreator is the subset of the Twilio REST API used here.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Twilio sends WhatsApp messages through Twilio's Messages API. The
// connection's PhoneNumber is the sender.
type Twilio struct {
	api messageCreator
}

// NewTwilio builds a provider from account credentials.
func NewTwilio(accountSID, authToken string) *Twilio {
	c := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &Twilio{api: c.Api}
}

func (t *Twilio) Name() string { return string(domain.ProviderTwilio) }

func whatsappAddr(phone string) string {
	if strings.HasPrefix(phone, "whatsapp:") {
		return phone
	}
	return "whatsapp:" + phone
}

// renderTwilioBody flattens interactive buttons into numbered options, since
// free-form Twilio messages carry no reply buttons.
func renderTwilioBody(msg OutboundMessage) string {
	switch msg.Type {
	case domain.OutboundMedia:
		return msg.Caption
	case domain.OutboundInteractive:
		var b strings.Builder
		b.WriteString(msg.Text)
		for i, btn := range msg.Buttons {
			fmt.Fprintf(&b, "\n%d. %s", i+1, btn.Title)
		}
		return b.String()
	}
	return msg.Text
}

// Send creates the message and returns its SID. The Twilio SDK call is not
// context-aware, so it runs in a goroutine and ctx bounds the wait.
func (t *Twilio) Send(ctx context.Context, conn *domain.Connection, msg OutboundMessage) (string, error) {
	params := &twilioApi.CreateMessageParams{}
	params.SetFrom(whatsappAddr(conn.PhoneNumber))
	params.SetTo(whatsappAddr(msg.To))
	if body := renderTwilioBody(msg); body != "" {
		params.SetBody(body)
	}
	if msg.Type == domain.OutboundMedia {
		params.SetMediaUrl([]string{msg.MediaURL})
	}

	type result struct {
		sid string
		err error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := t.api.CreateMessage(params)
		if err != nil {
			done <- result{err: err}
			return
		}
		if resp == nil || resp.Sid == nil {
			done <- result{err: &Error{Code: "bad_response", Message: "no sid in response"}}
			return
		}
		done <- result{sid: *resp.Sid}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		if r.err != nil {
			return "", classifyTwilio(r.err)
		}
		return r.sid, nil
	}
}

func classifyTwilio(err error) error {
	var te *twclient.TwilioRestError
	if errors.As(err, &te) {
		return &Error{
			Code:       fmt.Sprintf("twilio_%d", te.Code),
			Message:    te.Message,
			StatusCode: te.Status,
			Retryable:  retryableStatus(te.Status),
		}
	}
	return err
}

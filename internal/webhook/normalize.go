// Package webhook turns provider callback envelopes into normalized inbound
// messages and delivery status updates.
//
// The accepted shape is the WhatsApp Cloud API notification:
//
//	{"object":"whatsapp_business_account","entry":[{"changes":[{"value":{
//	  "metadata":{"phone_number_id":"..."},
//	  "contacts":[{"wa_id":"...","profile":{"name":"..."}}],
//	  "messages":[...], "statuses":[...]}}]}]}
//
// Entries are processed independently: a malformed message is reported in
// Batch.Errors and its siblings are still returned.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/chatflow-gateway/internal/domain"
	"github.com/tbourn/chatflow-gateway/internal/sysutil"
)

// ErrMalformedPayload marks a payload or entry that cannot be normalized.
var ErrMalformedPayload = errors.New("malformed payload")

// NormalizedInboundMessage is the provider-independent view of one inbound
// message.
type NormalizedInboundMessage struct {
	ConnectionID      string
	PhoneNumberID     string
	PhoneNumber       string
	ContactName       string
	Type              string
	Body              string
	MediaURL          string
	MediaID           string
	ProviderMessageID string
	Timestamp         time.Time
}

// StatusUpdate reports the delivery state of a previously sent message.
type StatusUpdate struct {
	ConnectionID      string
	PhoneNumberID     string
	ProviderMessageID string
	Status            string
	RecipientID       string
	Timestamp         time.Time
	Error             string
}

// EntryError describes one skipped message.
type EntryError struct {
	EntryIndex        int
	ProviderMessageID string
	Err               error
}

func (e EntryError) Error() string {
	return fmt.Sprintf("entry %d (%s): %v", e.EntryIndex, e.ProviderMessageID, e.Err)
}

func (e EntryError) Unwrap() error { return e.Err }

// Batch is the result of normalizing one payload.
type Batch struct {
	Messages []NormalizedInboundMessage
	Statuses []StatusUpdate
	Errors   []EntryError
}

type envelope struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string      `json:"field"`
			Value changeValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type changeValue struct {
	Metadata struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
		PhoneNumberID      string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
	Messages []rawMessage `json:"messages"`
	Statuses []rawStatus  `json:"statuses"`
}

type rawMedia struct {
	ID       string `json:"id"`
	Link     string `json:"link"`
	URL      string `json:"url"`
	Caption  string `json:"caption"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename"`
}

type rawMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image       *rawMedia `json:"image"`
	Audio       *rawMedia `json:"audio"`
	Video       *rawMedia `json:"video"`
	Document    *rawMedia `json:"document"`
	Sticker     *rawMedia `json:"sticker"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply *struct {
			ID          string `json:"id"`
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"list_reply"`
	} `json:"interactive"`
	Button *struct {
		Text    string `json:"text"`
		Payload string `json:"payload"`
	} `json:"button"`
	Location *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Name      string  `json:"name"`
		Address   string  `json:"address"`
	} `json:"location"`
	Reaction *struct {
		MessageID string `json:"message_id"`
		Emoji     string `json:"emoji"`
	} `json:"reaction"`
}

type rawStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
	Errors      []struct {
		Code  int    `json:"code"`
		Title string `json:"title"`
	} `json:"errors"`
}

// Normalize decodes payload and flattens every message and status in it.
// fallbackConnectionID is stamped on results when the callback arrived on a
// connection-scoped route. Undecodable JSON fails the whole payload.
func Normalize(payload []byte, fallbackConnectionID string) (Batch, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Batch{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	var b Batch
	idx := 0
	for _, entry := range env.Entry {
		for _, ch := range entry.Changes {
			v := ch.Value
			names := make(map[string]string, len(v.Contacts))
			for _, c := range v.Contacts {
				names[NormalizePhone(c.WaID)] = c.Profile.Name
			}
			for _, m := range v.Messages {
				msg, err := normalizeMessage(m)
				if err != nil {
					b.Errors = append(b.Errors, EntryError{EntryIndex: idx, ProviderMessageID: m.ID, Err: err})
					idx++
					continue
				}
				msg.ConnectionID = fallbackConnectionID
				msg.PhoneNumberID = v.Metadata.PhoneNumberID
				msg.ContactName = names[msg.PhoneNumber]
				b.Messages = append(b.Messages, msg)
				idx++
			}
			for _, s := range v.Statuses {
				if s.ID == "" || s.Status == "" {
					b.Errors = append(b.Errors, EntryError{EntryIndex: idx, ProviderMessageID: s.ID, Err: fmt.Errorf("%w: status without id", ErrMalformedPayload)})
					idx++
					continue
				}
				su := StatusUpdate{
					ConnectionID:      fallbackConnectionID,
					PhoneNumberID:     v.Metadata.PhoneNumberID,
					ProviderMessageID: s.ID,
					Status:            strings.ToLower(s.Status),
					RecipientID:       NormalizePhone(s.RecipientID),
					Timestamp:         parseUnix(s.Timestamp),
				}
				if len(s.Errors) > 0 {
					su.Error = fmt.Sprintf("%d: %s", s.Errors[0].Code, s.Errors[0].Title)
				}
				b.Statuses = append(b.Statuses, su)
				idx++
			}
		}
	}
	return b, nil
}

func normalizeMessage(m rawMessage) (NormalizedInboundMessage, error) {
	out := NormalizedInboundMessage{
		PhoneNumber:       NormalizePhone(m.From),
		ProviderMessageID: m.ID,
		Timestamp:         parseUnix(m.Timestamp),
		Type:              domain.MessageUnknown,
	}
	if out.PhoneNumber == "" {
		return out, fmt.Errorf("%w: missing sender", ErrMalformedPayload)
	}

	media := func(kind string, md *rawMedia) {
		out.Type = kind
		out.MediaID = md.ID
		out.MediaURL = sysutil.FirstNonEmpty(md.Link, md.URL)
		out.Body = sysutil.FirstNonEmpty(md.Caption, md.Filename)
	}

	switch {
	case m.Text != nil:
		out.Type = domain.MessageText
		out.Body = m.Text.Body
	case m.Image != nil:
		media(domain.MessageImage, m.Image)
	case m.Audio != nil:
		media(domain.MessageAudio, m.Audio)
	case m.Video != nil:
		media(domain.MessageVideo, m.Video)
	case m.Document != nil:
		media(domain.MessageDocument, m.Document)
	case m.Sticker != nil:
		media(domain.MessageImage, m.Sticker)
	case m.Interactive != nil:
		out.Type = domain.MessageInteractive
		switch {
		case m.Interactive.ButtonReply != nil:
			out.Body = m.Interactive.ButtonReply.Title
		case m.Interactive.ListReply != nil:
			out.Body = m.Interactive.ListReply.Title
		}
	case m.Button != nil:
		out.Type = domain.MessageButton
		out.Body = sysutil.FirstNonEmpty(m.Button.Text, m.Button.Payload)
	case m.Location != nil:
		out.Type = domain.MessageLocation
		out.Body = strconv.FormatFloat(m.Location.Latitude, 'f', -1, 64) + "," +
			strconv.FormatFloat(m.Location.Longitude, 'f', -1, 64)
		if name := sysutil.FirstNonEmpty(m.Location.Name, m.Location.Address); name != "" {
			out.Body += " " + name
		}
	case m.Reaction != nil:
		out.Body = m.Reaction.Emoji
	}

	if strings.TrimSpace(out.Body) == "" && out.MediaID == "" && out.MediaURL == "" {
		return out, fmt.Errorf("%w: no body or media", ErrMalformedPayload)
	}
	return out, nil
}

// NormalizePhone keeps digits only and prefixes "+". Empty input stays empty.
func NormalizePhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "+" + b.String()
}

func parseUnix(s string) time.Time {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}
	}
	return time.Unix(n, 0).UTC()
}

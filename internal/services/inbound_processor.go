// Package services – InboundProcessor
//
// InboundProcessor is the job handler for accepted webhook payloads. It
// normalizes the payload, records each message in its chat, advances the
// chat's flow and applies delivery status callbacks. One bad entry or one
// failing chat never blocks its siblings.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/chatflow-gateway/internal/domain"
	"github.com/tbourn/chatflow-gateway/internal/flow"
	"github.com/tbourn/chatflow-gateway/internal/jobs"
	"github.com/tbourn/chatflow-gateway/internal/repo"
	"github.com/tbourn/chatflow-gateway/internal/session"
	"github.com/tbourn/chatflow-gateway/internal/webhook"
)

// InboundSessions is the chat store surface used while ingesting.
type InboundSessions interface {
	FindOrCreateChat(ctx context.Context, connectionID, phone, contactName string) (*domain.Chat, error)
	AppendMessage(ctx context.Context, chatID string, m *domain.Message) (*domain.Message, error)
	ApplyStatusUpdate(ctx context.Context, providerMessageID, status, errText string) (bool, error)
}

// FlowAdvancer feeds an inbound message to the flow engine.
type FlowAdvancer interface {
	Advance(ctx context.Context, chatID string, trig *flow.Trigger) (*flow.ExecutionResult, error)
}

// InboundReport counts what one payload produced.
type InboundReport struct {
	Messages   int
	Duplicates int
	Advanced   int
	Statuses   int
	Skipped    int
}

// InboundProcessor turns webhook jobs into chat state.
type InboundProcessor struct {
	DB       *gorm.DB
	Sessions InboundSessions
	Flows    FlowAdvancer
}

// NewInboundProcessor wires a processor.
func NewInboundProcessor(db *gorm.DB, sessions InboundSessions, flows FlowAdvancer) *InboundProcessor {
	return &InboundProcessor{DB: db, Sessions: sessions, Flows: flows}
}

// Handle implements jobs.Handler for domain.JobWebhookPayload. An
// undecodable payload fails permanently. Transient per-chat failures are
// joined and returned so the runner retries the job; already stored
// messages are then skipped as duplicates and the engine drops triggers it
// has seen.
func (p *InboundProcessor) Handle(ctx context.Context, job *domain.Job) error {
	_, err := p.Process(ctx, job.Payload, job.ConnectionID)
	return err
}

// Process ingests one payload.
func (p *InboundProcessor) Process(ctx context.Context, payload []byte, connectionID string) (InboundReport, error) {
	ctx, span := otel.Tracer("services/InboundProcessor").Start(ctx, "Process",
		trace.WithAttributes(attribute.String("connection.id", connectionID)))
	defer span.End()

	logger := log.With().Str("component", "inbound").Str("connection_id", connectionID).Logger()

	var rep InboundReport
	batch, err := webhook.Normalize(payload, connectionID)
	if err != nil {
		return rep, fmt.Errorf("%w: %v", jobs.ErrPermanent, err)
	}
	span.SetAttributes(
		attribute.Int("batch.messages", len(batch.Messages)),
		attribute.Int("batch.statuses", len(batch.Statuses)),
		attribute.Int("batch.errors", len(batch.Errors)),
	)

	for _, e := range batch.Errors {
		rep.Skipped++
		logger.Warn().
			Err(e.Err).
			Int("entry_index", e.EntryIndex).
			Str("provider_message_id", e.ProviderMessageID).
			Msg("skipping malformed entry")
	}

	conns := connectionCache{db: p.DB, byKey: map[string]*domain.Connection{}}
	var failures []error
	for _, msg := range batch.Messages {
		if err := p.ingest(ctx, logger, &conns, msg, &rep); err != nil {
			failures = append(failures, err)
		}
	}

	for _, st := range batch.Statuses {
		ok, err := p.Sessions.ApplyStatusUpdate(ctx, st.ProviderMessageID, st.Status, st.Error)
		if err != nil {
			logger.Error().Err(err).Str("provider_message_id", st.ProviderMessageID).Msg("apply status update")
			failures = append(failures, err)
			continue
		}
		if ok {
			rep.Statuses++
		}
	}

	if len(failures) > 0 {
		return rep, fmt.Errorf("inbound: %d of %d items failed: %w",
			len(failures), len(batch.Messages)+len(batch.Statuses), errors.Join(failures...))
	}
	return rep, nil
}

func (p *InboundProcessor) ingest(ctx context.Context, logger zerolog.Logger, conns *connectionCache, msg webhook.NormalizedInboundMessage, rep *InboundReport) error {
	l := logger.With().Str("provider_message_id", msg.ProviderMessageID).Logger()

	conn, err := conns.resolve(ctx, msg.ConnectionID, msg.PhoneNumberID)
	if errors.Is(err, ErrConnectionNotFound) {
		rep.Skipped++
		l.Warn().Str("phone_number_id", msg.PhoneNumberID).Msg("no connection for inbound message")
		return nil
	}
	if err != nil {
		l.Error().Err(err).Msg("resolve connection")
		return err
	}

	chat, err := p.Sessions.FindOrCreateChat(ctx, conn.ID, msg.PhoneNumber, msg.ContactName)
	if err != nil {
		l.Error().Err(err).Msg("find or create chat")
		return err
	}
	l = l.With().Str("chat_id", chat.ID).Logger()

	m := &domain.Message{
		Direction:         domain.DirectionInbound,
		Content:           msg.Body,
		MessageType:       msg.Type,
		MediaURL:          msg.MediaURL,
		Status:            domain.MessageReceived,
		ProviderMessageID: domain.StringPtr(msg.ProviderMessageID),
		Metadata:          inboundMetadata(msg),
	}
	_, err = p.Sessions.AppendMessage(ctx, chat.ID, m)
	switch {
	case errors.Is(err, session.ErrDuplicateMessage):
		// Stored by an earlier attempt; the advance below may still be
		// outstanding.
		rep.Duplicates++
	case err != nil:
		l.Error().Err(err).Msg("append inbound message")
		return err
	default:
		rep.Messages++
	}

	if p.Flows == nil {
		return nil
	}
	res, err := p.Flows.Advance(ctx, chat.ID, &flow.Trigger{
		ConnectionID:      conn.ID,
		PhoneNumber:       msg.PhoneNumber,
		ContactName:       msg.ContactName,
		Type:              msg.Type,
		Body:              msg.Body,
		MediaURL:          msg.MediaURL,
		ProviderMessageID: msg.ProviderMessageID,
	})
	if err != nil {
		l.Error().Err(err).Msg("advance flow")
		return err
	}
	if res != nil && res.Outcome != flow.OutcomeNoMatch && res.Outcome != flow.OutcomeDuplicate {
		rep.Advanced++
	}
	return nil
}

func inboundMetadata(msg webhook.NormalizedInboundMessage) []byte {
	md := map[string]string{}
	if msg.MediaID != "" {
		md["media_id"] = msg.MediaID
	}
	if !msg.Timestamp.IsZero() {
		md["provider_timestamp"] = msg.Timestamp.Format(time.RFC3339)
	}
	if len(md) == 0 {
		return nil
	}
	raw, _ := json.Marshal(md)
	return raw
}

// connectionCache memoizes connection lookups for one payload.
type connectionCache struct {
	db    *gorm.DB
	byKey map[string]*domain.Connection
}

func (c *connectionCache) resolve(ctx context.Context, connectionID, phoneNumberID string) (*domain.Connection, error) {
	key := "id:" + connectionID
	if connectionID == "" {
		key = "pnid:" + phoneNumberID
	}
	if conn, ok := c.byKey[key]; ok {
		return conn, nil
	}

	var (
		conn *domain.Connection
		err  error
	)
	switch {
	case connectionID != "":
		conn, err = repo.GetConnection(ctx, c.db, connectionID)
	case phoneNumberID != "":
		conn, err = repo.FindConnectionByPhoneNumberID(ctx, c.db, phoneNumberID)
	default:
		return nil, ErrConnectionNotFound
	}
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrConnectionNotFound
	}
	if err != nil {
		return nil, err
	}
	c.byKey[key] = conn
	return conn, nil
}

// Package services – WebhookGateway
//
// WebhookGateway is the synchronous half of inbound ingestion. It
// authenticates a provider callback, applies the per-source rate limit,
// drops redeliveries by idempotency key and persists the raw payload as a
// job. Everything else happens in InboundProcessor on a worker.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/chatflow-gateway/internal/config"
	"github.com/tbourn/chatflow-gateway/internal/domain"
	"github.com/tbourn/chatflow-gateway/internal/kvstore"
	"github.com/tbourn/chatflow-gateway/internal/observability"
	"github.com/tbourn/chatflow-gateway/internal/ratelimit"
	"github.com/tbourn/chatflow-gateway/internal/repo"
	"github.com/tbourn/chatflow-gateway/internal/security"
	"github.com/tbourn/chatflow-gateway/internal/webhook"
)

// DedupKeyPrefix namespaces webhook idempotency keys in the KV store.
const DedupKeyPrefix = "webhook:dedup:"

// WebhookRequest is one inbound callback as seen by the HTTP layer.
type WebhookRequest struct {
	RawBody      []byte
	Headers      http.Header
	SourceIP     string
	ConnectionID string
}

// WebhookResponse is what the handler writes back verbatim.
type WebhookResponse struct {
	Status      int
	ContentType string
	Body        []byte
}

// WebhookGateway verifies, limits, dedups and enqueues inbound callbacks.
type WebhookGateway struct {
	DB      *gorm.DB
	KV      kvstore.Store
	Limiter *ratelimit.Limiter
	Cfg     config.WebhookConfig
}

// NewWebhookGateway wires a gateway over db and kv.
func NewWebhookGateway(db *gorm.DB, kv kvstore.Store, cfg config.WebhookConfig) *WebhookGateway {
	return &WebhookGateway{DB: db, KV: kv, Limiter: ratelimit.New(kv), Cfg: cfg}
}

func jsonResponse(status int, body map[string]string) WebhookResponse {
	raw, _ := json.Marshal(body)
	return WebhookResponse{Status: status, ContentType: "application/json; charset=utf-8", Body: raw}
}

var (
	respReceived    = jsonResponse(http.StatusOK, map[string]string{"status": "received"})
	respForbidden   = jsonResponse(http.StatusForbidden, map[string]string{"code": "forbidden"})
	respRateLimited = jsonResponse(http.StatusTooManyRequests, map[string]string{"code": "too_many_requests"})
	respInternal    = jsonResponse(http.StatusInternalServerError, map[string]string{"code": "internal"})
)

// connection resolves the path-addressed connection. An empty id means the
// callback arrived on the shared endpoint.
func (g *WebhookGateway) connection(ctx context.Context, id string) (*domain.Connection, error) {
	if id == "" {
		return nil, nil
	}
	c, err := repo.GetConnection(ctx, g.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrConnectionNotFound
	}
	return c, err
}

// Handle runs one callback through the acceptance pipeline. A signature
// failure never reveals its reason. Once authenticated and within budget,
// the callback is acknowledged with 200 even when the job insert fails, so
// the provider does not amplify an outage with retries.
func (g *WebhookGateway) Handle(ctx context.Context, req WebhookRequest) WebhookResponse {
	ctx, span := otel.Tracer("services/WebhookGateway").Start(ctx, "Handle",
		trace.WithAttributes(
			attribute.String("connection.id", req.ConnectionID),
			attribute.Int("body.bytes", len(req.RawBody)),
		))
	defer span.End()

	logger := log.With().Str("component", "webhook").Str("connection_id", req.ConnectionID).Logger()

	conn, err := g.connection(ctx, req.ConnectionID)
	switch {
	case errors.Is(err, ErrConnectionNotFound):
		observability.WebhooksTotal.WithLabelValues("forbidden").Inc()
		return respForbidden
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "connection lookup")
		logger.Error().Err(err).Msg("connection lookup failed")
		return respInternal
	}

	secret := g.Cfg.AppSecret
	if conn != nil && conn.WebhookSecret != "" {
		secret = conn.WebhookSecret
	}
	if ok, verr := security.Verify(req.RawBody, req.Headers.Get(security.HeaderName), secret, g.Cfg.RequireSignature); !ok {
		observability.WebhooksTotal.WithLabelValues("forbidden").Inc()
		logger.Warn().Err(verr).Str("source_ip", req.SourceIP).Msg("webhook signature rejected")
		return respForbidden
	}

	if g.Limiter != nil && g.Cfg.RateLimit > 0 {
		if allowed, _ := g.Limiter.Allow(ctx, "ip:"+req.SourceIP, g.Cfg.RateLimit, g.Cfg.RateWindow); !allowed {
			observability.WebhooksTotal.WithLabelValues("rate_limited").Inc()
			return respRateLimited
		}
	}

	dedupKey := DedupKeyPrefix + webhook.IdempotencyKey(req.RawBody)
	span.SetAttributes(attribute.String("webhook.dedup_key", dedupKey))
	fresh, err := g.KV.SetNX(ctx, dedupKey, time.Now().UTC().Format(time.RFC3339), g.Cfg.DedupTTL)
	if err != nil {
		// Fail open. Redeliveries are absorbed by the unique provider
		// message id downstream.
		logger.Warn().Err(err).Msg("dedup store unavailable")
		fresh = true
	}
	if !fresh {
		observability.WebhooksTotal.WithLabelValues("duplicate").Inc()
		return respReceived
	}

	job, err := repo.EnqueueJob(ctx, g.DB, domain.JobWebhookPayload, req.ConnectionID, req.RawBody)
	if err != nil {
		span.RecordError(err)
		observability.WebhooksTotal.WithLabelValues("enqueue_failed").Inc()
		observability.WebhookEnqueueFailures.Inc()
		logger.Error().Err(err).Str("dedup_key", dedupKey).Msg("enqueue webhook payload failed")
		// Let a provider redelivery through.
		_ = g.KV.Del(context.WithoutCancel(ctx), dedupKey)
		return respReceived
	}

	observability.WebhooksTotal.WithLabelValues("accepted").Inc()
	logger.Debug().Str("job_id", job.ID).Msg("webhook accepted")
	return respReceived
}

// VerifyChallenge answers the provider's subscription handshake. The token
// is matched against the connection's verify token, falling back to the
// process-wide one. A successful handshake marks a pending connection as
// connected.
func (g *WebhookGateway) VerifyChallenge(ctx context.Context, connectionID, mode, token, challenge string) WebhookResponse {
	conn, err := g.connection(ctx, connectionID)
	switch {
	case errors.Is(err, ErrConnectionNotFound):
		return respForbidden
	case err != nil:
		log.Error().Err(err).Str("component", "webhook").Msg("connection lookup failed")
		return respInternal
	}

	expected := g.Cfg.VerifyToken
	if conn != nil && conn.VerifyToken != "" {
		expected = conn.VerifyToken
	}
	if expected == "" {
		return jsonResponse(http.StatusInternalServerError, map[string]string{"code": "verify_token_unconfigured"})
	}
	if mode != "subscribe" || !security.EqualToken(token, expected) {
		return respForbidden
	}

	if conn != nil && conn.Status == domain.ConnectionPending {
		if err := repo.UpdateConnectionStatus(ctx, g.DB, conn.ID, domain.ConnectionConnected); err != nil {
			log.Warn().Err(err).Str("component", "webhook").Str("connection_id", conn.ID).Msg("mark connection connected")
		}
	}
	return WebhookResponse{Status: http.StatusOK, ContentType: "text/plain; charset=utf-8", Body: []byte(challenge)}
}

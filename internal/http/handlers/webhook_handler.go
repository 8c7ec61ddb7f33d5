// Webhook HTTP handlers.
//
// This file exposes the provider-facing endpoints:
//   - POST /webhooks/whatsapp[/{connection_id}]   (event callback)
//   - GET  /webhooks/whatsapp[/{connection_id}]   (subscription handshake)
//
// The POST handler only reads the raw body; signature verification, rate
// limiting, deduplication and enqueueing happen in the WebhookGateway, whose
// response is written back unchanged.
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/chatflow-gateway/internal/services"
)

// firstQuery returns the first non-empty query value among keys. Meta sends
// dotted names (hub.mode); some proxies rewrite them to underscores.
func firstQuery(c *gin.Context, keys ...string) string {
	for _, k := range keys {
		if v := c.Query(k); v != "" {
			return v
		}
	}
	return ""
}

func writeWebhook(c *gin.Context, resp services.WebhookResponse) {
	c.Data(resp.Status, resp.ContentType, resp.Body)
}

// ReceiveWebhook godoc
// @ID          receiveWebhook
// @Summary     WhatsApp event callback
// @Description Verifies X-Hub-Signature-256 over the raw body, applies the per-source rate limit,
// @Description drops duplicate deliveries and enqueues the payload for asynchronous processing.
// @Description Accepted and duplicate deliveries both return 200.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
//
// @Param       X-Hub-Signature-256  header  string  true   "sha256=<hex HMAC of the raw body>"
// @Param       connection_id        path    string  false  "Connection ID; selects the connection's webhook secret"
//
// @Success     200  {object}  handlers.StatusResponse  "received"
// @Failure     403  {object}  handlers.ErrorResponse   "Bad signature or unknown connection"
// @Failure     413  {object}  handlers.ErrorResponse   "Body too large"
// @Failure     429  {object}  handlers.ErrorResponse   "Rate limited"
// @Router      /webhooks/whatsapp [post]
// @Router      /webhooks/whatsapp/{connection_id} [post]
func (h *Handlers) ReceiveWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "request body too large")
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable body")
		return
	}

	resp := h.webhookSvc.Handle(c.Request.Context(), services.WebhookRequest{
		RawBody:      body,
		Headers:      c.Request.Header,
		SourceIP:     c.ClientIP(),
		ConnectionID: c.Param("connection_id"),
	})
	writeWebhook(c, resp)
}

// VerifyWebhook godoc
// @ID          verifyWebhook
// @Summary     WhatsApp subscription handshake
// @Description Echoes hub.challenge as text/plain when hub.mode is "subscribe" and hub.verify_token matches.
// @Description Underscore spellings (hub_mode, hub_verify_token, hub_challenge) are accepted too.
// @Tags        Webhooks
// @Produce     plain
//
// @Param       hub.mode          query  string  true   "Must be subscribe"
// @Param       hub.verify_token  query  string  true   "Configured verify token"
// @Param       hub.challenge     query  string  true   "Value to echo"
// @Param       connection_id     path   string  false  "Connection ID; selects the connection's verify token"
//
// @Success     200  {string}  string                  "The challenge"
// @Failure     403  {object}  handlers.ErrorResponse  "Mode or token mismatch"
// @Failure     500  {object}  handlers.ErrorResponse  "No verify token configured"
// @Router      /webhooks/whatsapp [get]
// @Router      /webhooks/whatsapp/{connection_id} [get]
func (h *Handlers) VerifyWebhook(c *gin.Context) {
	resp := h.webhookSvc.VerifyChallenge(
		c.Request.Context(),
		c.Param("connection_id"),
		firstQuery(c, "hub.mode", "hub_mode"),
		firstQuery(c, "hub.verify_token", "hub_verify_token"),
		firstQuery(c, "hub.challenge", "hub_challenge"),
	)
	writeWebhook(c, resp)
}

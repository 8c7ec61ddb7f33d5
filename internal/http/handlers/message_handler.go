// Message HTTP handlers.
//
// This file exposes REST endpoints for chat messages:
//   - POST /chats/{id}/messages   (agent send through the dispatcher)
//   - GET  /chats/{id}/messages   (list paginated messages for a chat)
//
// Handlers are transport-thin:
//   - validate & normalize inputs (line endings, blank-line runs)
//   - delegate to application services (MessageService)
//   - implement conditional responses (ETag) and idempotency semantics
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous send exists
// for (subject, chat, key), the handler returns the recorded message with the
// originally returned status and sets `Idempotency-Replayed: true`.
package handlers

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/chatflow-gateway/internal/dispatch"
	"github.com/tbourn/chatflow-gateway/internal/domain"
	"github.com/tbourn/chatflow-gateway/internal/http/middleware"
	"github.com/tbourn/chatflow-gateway/internal/services"
)

//
// DTOs
//

// PostMessageRequest is the JSON payload for an agent-composed message.
//
// Content is normalized by the handler (line endings and excessive blank
// lines) before being passed to the service layer, which enforces the
// provider's length limits.
type PostMessageRequest struct {
	// Type is text (default), media or interactive.
	Type string `json:"type" example:"text" enums:"text,media,interactive"`
	// Content is the message body (button prompt for interactive messages).
	Content string `json:"content" example:"Your order has shipped."`
	// MediaURL is required for media messages.
	MediaURL string `json:"media_url,omitempty" example:"https://cdn.example.com/receipt.pdf"`
	// MediaKind is image, video, audio or document.
	MediaKind string `json:"media_kind,omitempty" example:"document"`
	Caption   string `json:"caption,omitempty"`
	// Buttons holds up to three reply buttons for interactive messages.
	Buttons []domain.Button `json:"buttons,omitempty"`
}

// PostMessageResponse is the JSON envelope for an agent send.
type PostMessageResponse struct {
	// Message is the recorded outbound message (status sent or failed).
	Message *domain.Message `json:"message"`
	// ProviderMessageID is the provider's id for a successful send.
	ProviderMessageID string `json:"provider_message_id,omitempty" example:"wamid.HBgNNTUxMTk4ODg4Nzc3NxUCABEYEjQ2"`
	// Error describes a failed dispatch.
	Error *dispatch.DispatchError `json:"error,omitempty"`
}

// ListMessagesResponse contains a page of chat messages and pagination metadata.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes agent text: CRLF/CR become LF, runs of 3+ LFs
// collapse to two, and surrounding whitespace is trimmed.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// idempotencyKey prefers the key validated by middleware.IdempotencyValidator
// and falls back to the raw header when the middleware is not installed.
func idempotencyKey(c *gin.Context) string {
	if k, found := middleware.GetIdempotencyKey(c); found {
		return k
	}
	return strings.TrimSpace(c.GetHeader(middleware.HeaderIdempotencyKey))
}

//
// Handlers
//

// PostMessage godoc
// @ID          postMessage
// @Summary     Send an agent message
// @Description Sends a message to the chat's contact through the connection's provider and records it.
// @Description Returns 201 when the provider accepted it and 502 (with the failed message) when it did not.
// @Description Supports idempotency via the Idempotency-Key header (same key → same result).
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       id               path    string  true  "Chat ID (UUID)"              format(uuid)
// @Param       body             body    handlers.PostMessageRequest  true  "Message payload"
//
// @Success     201  {object}  handlers.PostMessageResponse  "Sent"
// @Header      201  {string}  Idempotency-Replayed          "true when served from a previous request"
// @Failure     400  {object}  handlers.ErrorResponse        "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse        "Chat not found"
// @Failure     409  {object}  handlers.ErrorResponse        "Chat closed"
// @Failure     502  {object}  handlers.PostMessageResponse  "Provider rejected the message"
// @Router      /chats/{id}/messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	chatID, valid := pathUUID(c, "id")
	if !valid {
		return
	}

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	in := services.SendInput{
		Type:      strings.ToLower(strings.TrimSpace(req.Type)),
		Content:   sanitizeContent(req.Content),
		MediaURL:  strings.TrimSpace(req.MediaURL),
		MediaKind: strings.ToLower(strings.TrimSpace(req.MediaKind)),
		Caption:   sanitizeContent(req.Caption),
		Buttons:   req.Buttons,
	}

	out, err := h.msgSvc.Send(c.Request.Context(), subject(c), chatID, idempotencyKey(c), in)
	if err != nil {
		failErr(c, err, ErrCodeDispatchFailed)
		return
	}

	if out.Replayed {
		c.Header("Idempotency-Replayed", "true")
	}
	resp := PostMessageResponse{
		Message:           out.Message,
		ProviderMessageID: out.Result.ProviderMessageID,
		Error:             out.Result.Error,
	}
	if out.Status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		ev := lg.Warn().Str("chat_id", chatID).Int("status", out.Status)
		if out.Result.Error != nil {
			ev = ev.Str("dispatch_code", out.Result.Error.Code)
		}
		ev.Msg("agent send failed")
	}
	ok(c, out.Status, resp)
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List messages in a chat
// @Description Returns a paginated list of messages for the given chat, oldest first.
// @Description Supports weak ETag via If-None-Match and may return 304.
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
//
// @Param       id             path    string  true  "Chat ID (UUID)"  format(uuid)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListMessagesResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /chats/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	chatID, valid := pathUUID(c, "id")
	if !valid {
		return
	}

	// ETag pre-check (best effort).
	if count, maxTS, err := h.msgSvc.Stats(ctx, chatID); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixNano()
		}
		etag := fmt.Sprintf(`W/"messages:%s:%d:%d"`, chatID, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	page, pageSize := clampPagination(c)

	items, total, err := h.msgSvc.ListPage(ctx, chatID, page, pageSize)
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}

	ok(c, http.StatusOK, ListMessagesResponse{
		Messages:   items,
		Pagination: newPagination(page, pageSize, total),
	})
}

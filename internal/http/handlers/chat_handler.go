// Chat HTTP handlers.
//
// This file wires the admin API handlers to their services and exposes the
// chat endpoints:
//   - GET  /connections/{id}/chats   (list, paginated)
//   - GET  /chats/{id}               (fetch)
//   - POST /chats/{id}/read          (mark inbound messages read)
//   - POST /chats/{id}/close         (close the session)
//   - POST /chats/{id}/assign        (hand the chat to an agent)
//   - POST /chats/{id}/tags          (label the chat)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses.
package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/chatflow-gateway/internal/domain"
	"github.com/tbourn/chatflow-gateway/internal/flow"
	"github.com/tbourn/chatflow-gateway/internal/http/middleware"
	"github.com/tbourn/chatflow-gateway/internal/services"
	"github.com/tbourn/chatflow-gateway/internal/utils"
)

//
// Service contracts (context-aware)
//

// WebhookService verifies, limits, deduplicates and enqueues provider
// callbacks. Responses are final; handlers write them verbatim.
type WebhookService interface {
	Handle(ctx context.Context, req services.WebhookRequest) services.WebhookResponse
	VerifyChallenge(ctx context.Context, connectionID, mode, token, challenge string) services.WebhookResponse
}

// ChatService defines chat session operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ChatService interface {
	// Get returns a chat by id.
	Get(ctx context.Context, chatID string) (*domain.Chat, error)
	// ListPage returns a page of a connection's chats and the total count.
	ListPage(ctx context.Context, connectionID string, page, pageSize int) ([]domain.Chat, int64, error)
	// MarkRead marks the chat's inbound messages read and returns how many changed.
	MarkRead(ctx context.Context, chatID string) (int64, error)
	// Close ends the session; the next inbound message reopens it.
	Close(ctx context.Context, chatID string) error
	// Assign hands the chat to an agent.
	Assign(ctx context.Context, chatID, agent string) error
	// Tag labels the chat.
	Tag(ctx context.Context, chatID, tag string) error
}

// MessageService defines message listing and agent sends.
type MessageService interface {
	// Send dispatches an agent message, honouring idempotency keys.
	Send(ctx context.Context, subject, chatID, idemKey string, in services.SendInput) (*services.SendOutcome, error)
	// ListPage returns a page of messages within a chat and the total count.
	ListPage(ctx context.Context, chatID string, page, pageSize int) ([]domain.Message, int64, error)
	// Stats returns the message count and latest update time, for ETags.
	Stats(ctx context.Context, chatID string) (int64, *time.Time, error)
}

// FlowService manages flow definitions and per-chat executions.
type FlowService interface {
	Create(ctx context.Context, userID string, def services.FlowDefinition) (*domain.Flow, error)
	ImportYAML(ctx context.Context, userID string, data []byte) ([]*domain.Flow, error)
	Get(ctx context.Context, id string) (*domain.Flow, error)
	Update(ctx context.Context, id string, def services.FlowDefinition) (*domain.Flow, error)
	SetStatus(ctx context.Context, id, status string) (*domain.Flow, error)
	Delete(ctx context.Context, id string) error
	Start(ctx context.Context, req flow.StartRequest) (*flow.ExecutionResult, error)
	Execution(ctx context.Context, chatID string) (*domain.FlowExecution, error)
	Pause(ctx context.Context, chatID string) (*flow.ExecutionResult, error)
	Resume(ctx context.Context, chatID string) (*flow.ExecutionResult, error)
}

// ConnectionService manages messaging channels.
type ConnectionService interface {
	Create(ctx context.Context, userID string, in services.ConnectionInput) (*domain.Connection, error)
	Get(ctx context.Context, id string) (*domain.Connection, error)
	SetStatus(ctx context.Context, id, status string) (*domain.Connection, error)
	Delete(ctx context.Context, id string) error
}

//
// Handler wiring
//

// Handlers groups the webhook and admin endpoints. It depends on abstract
// service interfaces to keep transport concerns separate from business logic.
type Handlers struct {
	webhookSvc WebhookService
	chatSvc    ChatService
	msgSvc     MessageService
	flowSvc    FlowService
	connSvc    ConnectionService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(webhookSvc WebhookService, chatSvc ChatService, msgSvc MessageService, flowSvc FlowService, connSvc ConnectionService) *Handlers {
	return &Handlers{
		webhookSvc: webhookSvc,
		chatSvc:    chatSvc,
		msgSvc:     msgSvc,
		flowSvc:    flowSvc,
		connSvc:    connSvc,
	}
}

// subject is the authenticated operator, set by middleware.BearerAuth.
func subject(c *gin.Context) string {
	return middleware.Subject(c)
}

// pathUUID reads a UUID path parameter, failing the request with 400 when it
// is malformed.
func pathUUID(c *gin.Context, name string) (string, bool) {
	id := c.Param(name)
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, name+" must be a UUID")
		return "", false
	}
	return id, true
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// ListChatsResponse wraps a page of chats and pagination information.
type ListChatsResponse struct {
	Chats      []domain.Chat `json:"chats"`
	Pagination Pagination    `json:"pagination"`
}

// MarkReadResponse reports how many inbound messages were marked read.
type MarkReadResponse struct {
	Updated int64 `json:"updated" example:"3"`
}

// AssignChatRequest is the JSON payload for assigning a chat.
type AssignChatRequest struct {
	Agent string `json:"agent" binding:"required" example:"maria"`
}

// TagChatRequest is the JSON payload for tagging a chat.
type TagChatRequest struct {
	Tag string `json:"tag" binding:"required" example:"vip"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

//
// Handlers
//

// ListChats godoc
// @ID          listChats
// @Summary     List a connection's chats (paginated)
// @Description Returns chats of a connection, most recently active first.
// @Tags        Chats
// @Produce     json
// @Security    BearerAuth
//
// @Param       id         path   string  true  "Connection ID (UUID)"  format(uuid)
// @Param       page       query  int     false "Page number"           minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page"        minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListChatsResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /connections/{id}/chats [get]
func (h *Handlers) ListChats(c *gin.Context) {
	connID, valid := pathUUID(c, "id")
	if !valid {
		return
	}
	page, pageSize := clampPagination(c)

	items, total, err := h.chatSvc.ListPage(c.Request.Context(), connID, page, pageSize)
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, ListChatsResponse{Chats: items, Pagination: newPagination(page, pageSize, total)})
}

// GetChat godoc
// @ID          getChat
// @Summary     Get a chat
// @Tags        Chats
// @Produce     json
// @Security    BearerAuth
// @Param       id  path  string  true  "Chat ID (UUID)"  format(uuid)
// @Success     200  {object} domain.Chat
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id} [get]
func (h *Handlers) GetChat(c *gin.Context) {
	chatID, valid := pathUUID(c, "id")
	if !valid {
		return
	}
	ch, err := h.chatSvc.Get(c.Request.Context(), chatID)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, ch)
}

// MarkChatRead godoc
// @ID          markChatRead
// @Summary     Mark a chat's inbound messages read
// @Tags        Chats
// @Produce     json
// @Security    BearerAuth
// @Param       id  path  string  true  "Chat ID (UUID)"  format(uuid)
// @Success     200  {object} handlers.MarkReadResponse
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id}/read [post]
func (h *Handlers) MarkChatRead(c *gin.Context) {
	chatID, valid := pathUUID(c, "id")
	if !valid {
		return
	}
	n, err := h.chatSvc.MarkRead(c.Request.Context(), chatID)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, MarkReadResponse{Updated: n})
}

// CloseChat godoc
// @ID          closeChat
// @Summary     Close a chat
// @Description Closes the session. The contact's next message reopens it.
// @Tags        Chats
// @Security    BearerAuth
// @Param       id  path  string  true  "Chat ID (UUID)"  format(uuid)
// @Success     204  {string} string "No Content"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id}/close [post]
func (h *Handlers) CloseChat(c *gin.Context) {
	chatID, valid := pathUUID(c, "id")
	if !valid {
		return
	}
	if err := h.chatSvc.Close(c.Request.Context(), chatID); err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	noContent(c)
}

// AssignChat godoc
// @ID          assignChat
// @Summary     Assign a chat to an agent
// @Tags        Chats
// @Accept      json
// @Security    BearerAuth
// @Param       id    path  string                      true  "Chat ID (UUID)"  format(uuid)
// @Param       body  body  handlers.AssignChatRequest  true  "Agent"
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id}/assign [post]
func (h *Handlers) AssignChat(c *gin.Context) {
	chatID, valid := pathUUID(c, "id")
	if !valid {
		return
	}
	var req AssignChatRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Agent) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "agent required")
		return
	}
	if err := h.chatSvc.Assign(c.Request.Context(), chatID, req.Agent); err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	noContent(c)
}

// TagChat godoc
// @ID          tagChat
// @Summary     Tag a chat
// @Tags        Chats
// @Accept      json
// @Security    BearerAuth
// @Param       id    path  string                   true  "Chat ID (UUID)"  format(uuid)
// @Param       body  body  handlers.TagChatRequest  true  "Tag"
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id}/tags [post]
func (h *Handlers) TagChat(c *gin.Context) {
	chatID, valid := pathUUID(c, "id")
	if !valid {
		return
	}
	var req TagChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "tag required")
		return
	}
	if err := h.chatSvc.Tag(c.Request.Context(), chatID, req.Tag); err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	noContent(c)
}

// Flow HTTP handlers.
//
// This file exposes flow definition and execution endpoints:
//   - POST   /flows                    (create from JSON)
//   - POST   /flows/import             (create from multi-document YAML)
//   - GET    /flows/{id}
//   - PUT    /flows/{id}               (overwrite graph, name and triggers)
//   - PUT    /flows/{id}/status        (draft | active | paused)
//   - DELETE /flows/{id}
//   - POST   /flows/{id}/start         (start for a phone number)
//   - GET    /chats/{id}/flow          (active execution)
//   - POST   /chats/{id}/flow/pause
//   - POST   /chats/{id}/flow/resume
package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/chatflow-gateway/internal/domain"
	"github.com/tbourn/chatflow-gateway/internal/flow"
	"github.com/tbourn/chatflow-gateway/internal/services"
)

// SetStatusRequest is the JSON payload for status changes.
type SetStatusRequest struct {
	Status string `json:"status" binding:"required" example:"active"`
}

// StartFlowRequest is the JSON payload for starting a flow.
type StartFlowRequest struct {
	ConnectionID string            `json:"connection_id" binding:"required" example:"0b6c1f4e-3c39-4c38-9a53-3e5b8a1f6d21"`
	PhoneNumber  string            `json:"phone_number"  binding:"required" example:"+5511988887777"`
	ContactName  string            `json:"contact_name,omitempty" example:"Ana"`
	Variables    map[string]string `json:"variables,omitempty"`
}

// ImportFlowsResponse lists the flows created by an import.
type ImportFlowsResponse struct {
	Flows []*domain.Flow `json:"flows"`
}

// CreateFlow godoc
// @ID          createFlow
// @Summary     Create a flow
// @Description Validates the graph (node kinds, edges, start node) and trigger conditions, then stores the flow.
// @Description An active flow takes trigger precedence over previously activated ones.
// @Tags        Flows
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  services.FlowDefinition  true  "Flow definition"
// @Success     201  {object} domain.Flow
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     422  {object} handlers.ErrorResponse "Invalid graph or triggers"
// @Router      /flows [post]
func (h *Handlers) CreateFlow(c *gin.Context) {
	var def services.FlowDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	f, err := h.flowSvc.Create(c.Request.Context(), subject(c), def)
	if err != nil {
		failErr(c, err, ErrCodeCreateFailed)
		return
	}
	ok(c, http.StatusCreated, f)
}

// ImportFlows godoc
// @ID          importFlows
// @Summary     Import flows from YAML
// @Description Accepts one or more YAML documents ("---" separated). Every document is validated before any flow is stored.
// @Tags        Flows
// @Accept      application/yaml
// @Produce     json
// @Security    BearerAuth
// @Success     201  {object} handlers.ImportFlowsResponse
// @Failure     422  {object} handlers.ErrorResponse "Invalid document"
// @Router      /flows/import [post]
func (h *Handlers) ImportFlows(c *gin.Context) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil || len(strings.TrimSpace(string(data))) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "YAML body required")
		return
	}
	flows, err := h.flowSvc.ImportYAML(c.Request.Context(), subject(c), data)
	if err != nil {
		failErr(c, err, ErrCodeCreateFailed)
		return
	}
	ok(c, http.StatusCreated, ImportFlowsResponse{Flows: flows})
}

// GetFlow godoc
// @ID          getFlow
// @Summary     Get a flow
// @Tags        Flows
// @Produce     json
// @Security    BearerAuth
// @Param       id  path  string  true  "Flow ID (UUID)"  format(uuid)
// @Success     200  {object} domain.Flow
// @Failure     404  {object} handlers.ErrorResponse "Flow not found"
// @Router      /flows/{id} [get]
func (h *Handlers) GetFlow(c *gin.Context) {
	id, valid := pathUUID(c, "id")
	if !valid {
		return
	}
	f, err := h.flowSvc.Get(c.Request.Context(), id)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, f)
}

// UpdateFlow godoc
// @ID          updateFlow
// @Summary     Replace a flow definition
// @Description Validates and overwrites the graph, name and trigger conditions. No version history is kept.
// @Description An omitted status keeps the current one. Running executions continue on the new graph
// @Description and fail if their current node no longer exists.
// @Tags        Flows
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path  string                   true  "Flow ID (UUID)"  format(uuid)
// @Param       body  body  services.FlowDefinition  true  "Flow definition"
// @Success     200  {object} domain.Flow
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Flow not found"
// @Failure     422  {object} handlers.ErrorResponse "Invalid graph or triggers"
// @Router      /flows/{id} [put]
func (h *Handlers) UpdateFlow(c *gin.Context) {
	id, valid := pathUUID(c, "id")
	if !valid {
		return
	}
	var def services.FlowDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	f, err := h.flowSvc.Update(c.Request.Context(), id, def)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, f)
}

// SetFlowStatus godoc
// @ID          setFlowStatus
// @Summary     Change a flow's status
// @Tags        Flows
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path  string                     true  "Flow ID (UUID)"  format(uuid)
// @Param       body  body  handlers.SetStatusRequest  true  "draft | active | paused"
// @Success     200  {object} domain.Flow
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Flow not found"
// @Router      /flows/{id}/status [put]
func (h *Handlers) SetFlowStatus(c *gin.Context) {
	id, valid := pathUUID(c, "id")
	if !valid {
		return
	}
	var req SetStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "status required")
		return
	}
	f, err := h.flowSvc.SetStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, f)
}

// DeleteFlow godoc
// @ID          deleteFlow
// @Summary     Delete a flow
// @Description Fails with 409 while any execution references the flow.
// @Tags        Flows
// @Security    BearerAuth
// @Param       id  path  string  true  "Flow ID (UUID)"  format(uuid)
// @Success     204  {string} string "No Content"
// @Failure     404  {object} handlers.ErrorResponse "Flow not found"
// @Failure     409  {object} handlers.ErrorResponse "Flow in use"
// @Router      /flows/{id} [delete]
func (h *Handlers) DeleteFlow(c *gin.Context) {
	id, valid := pathUUID(c, "id")
	if !valid {
		return
	}
	if err := h.flowSvc.Delete(c.Request.Context(), id); err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	noContent(c)
}

// StartFlow godoc
// @ID          startFlow
// @Summary     Start a flow for a contact
// @Description Creates the chat if needed and walks the flow until it waits or ends.
// @Description Starting the flow already running on the chat returns that execution.
// @Tags        Flows
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path  string                     true  "Flow ID (UUID)"  format(uuid)
// @Param       body  body  handlers.StartFlowRequest  true  "Target"
// @Success     200  {object} flow.ExecutionResult
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Flow or connection not found"
// @Failure     409  {object} handlers.ErrorResponse "Chat runs another flow, or flow inactive"
// @Failure     503  {object} handlers.ErrorResponse "Chat busy"
// @Router      /flows/{id}/start [post]
func (h *Handlers) StartFlow(c *gin.Context) {
	id, valid := pathUUID(c, "id")
	if !valid {
		return
	}
	var req StartFlowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "connection_id and phone_number required")
		return
	}
	if _, err := uuid.Parse(req.ConnectionID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "connection_id must be a UUID")
		return
	}
	res, err := h.flowSvc.Start(c.Request.Context(), flow.StartRequest{
		FlowID:       id,
		ConnectionID: req.ConnectionID,
		PhoneNumber:  req.PhoneNumber,
		ContactName:  strings.TrimSpace(req.ContactName),
		Variables:    req.Variables,
	})
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, res)
}

// GetChatFlow godoc
// @ID          getChatFlow
// @Summary     Get a chat's active flow execution
// @Tags        Flows
// @Produce     json
// @Security    BearerAuth
// @Param       id  path  string  true  "Chat ID (UUID)"  format(uuid)
// @Success     200  {object} domain.FlowExecution
// @Failure     404  {object} handlers.ErrorResponse "No active execution"
// @Router      /chats/{id}/flow [get]
func (h *Handlers) GetChatFlow(c *gin.Context) {
	chatID, valid := pathUUID(c, "id")
	if !valid {
		return
	}
	exec, err := h.flowSvc.Execution(c.Request.Context(), chatID)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, exec)
}

// PauseChatFlow godoc
// @ID          pauseChatFlow
// @Summary     Pause a chat's flow
// @Tags        Flows
// @Produce     json
// @Security    BearerAuth
// @Param       id  path  string  true  "Chat ID (UUID)"  format(uuid)
// @Success     200  {object} flow.ExecutionResult
// @Failure     404  {object} handlers.ErrorResponse "No active execution"
// @Failure     409  {object} handlers.ErrorResponse "Invalid state transition"
// @Router      /chats/{id}/flow/pause [post]
func (h *Handlers) PauseChatFlow(c *gin.Context) {
	chatID, valid := pathUUID(c, "id")
	if !valid {
		return
	}
	res, err := h.flowSvc.Pause(c.Request.Context(), chatID)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, res)
}

// ResumeChatFlow godoc
// @ID          resumeChatFlow
// @Summary     Resume a paused flow
// @Tags        Flows
// @Produce     json
// @Security    BearerAuth
// @Param       id  path  string  true  "Chat ID (UUID)"  format(uuid)
// @Success     200  {object} flow.ExecutionResult
// @Failure     404  {object} handlers.ErrorResponse "No active execution"
// @Failure     409  {object} handlers.ErrorResponse "Invalid state transition"
// @Router      /chats/{id}/flow/resume [post]
func (h *Handlers) ResumeChatFlow(c *gin.Context) {
	chatID, valid := pathUUID(c, "id")
	if !valid {
		return
	}
	res, err := h.flowSvc.Resume(c.Request.Context(), chatID)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, res)
}

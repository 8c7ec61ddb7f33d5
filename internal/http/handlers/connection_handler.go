// Connection HTTP handlers.
//
//   - POST   /connections              (register a channel)
//   - GET    /connections/{id}
//   - PUT    /connections/{id}/status  (pending | connected | disconnected | error)
//   - DELETE /connections/{id}
//
// Credentials (access token, webhook secret, verify token) are write-only:
// they are accepted on create and never serialized back.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/chatflow-gateway/internal/services"
)

// CreateConnection godoc
// @ID          createConnection
// @Summary     Register a connection
// @Description whatsapp_cloud (default) requires phone_number_id and access_token; twilio uses the gateway's account credentials.
// @Tags        Connections
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  services.ConnectionInput  true  "Connection"
// @Success     201  {object} domain.Connection
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Router      /connections [post]
func (h *Handlers) CreateConnection(c *gin.Context) {
	var in services.ConnectionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	conn, err := h.connSvc.Create(c.Request.Context(), subject(c), in)
	if err != nil {
		failErr(c, err, ErrCodeCreateFailed)
		return
	}
	ok(c, http.StatusCreated, conn)
}

// GetConnection godoc
// @ID          getConnection
// @Summary     Get a connection
// @Tags        Connections
// @Produce     json
// @Security    BearerAuth
// @Param       id  path  string  true  "Connection ID (UUID)"  format(uuid)
// @Success     200  {object} domain.Connection
// @Failure     404  {object} handlers.ErrorResponse "Connection not found"
// @Router      /connections/{id} [get]
func (h *Handlers) GetConnection(c *gin.Context) {
	id, valid := pathUUID(c, "id")
	if !valid {
		return
	}
	conn, err := h.connSvc.Get(c.Request.Context(), id)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, conn)
}

// SetConnectionStatus godoc
// @ID          setConnectionStatus
// @Summary     Change a connection's status
// @Tags        Connections
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path  string                     true  "Connection ID (UUID)"  format(uuid)
// @Param       body  body  handlers.SetStatusRequest  true  "pending | connected | disconnected | error"
// @Success     200  {object} domain.Connection
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Connection not found"
// @Router      /connections/{id}/status [put]
func (h *Handlers) SetConnectionStatus(c *gin.Context) {
	id, valid := pathUUID(c, "id")
	if !valid {
		return
	}
	var req SetStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "status required")
		return
	}
	conn, err := h.connSvc.SetStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, conn)
}

// DeleteConnection godoc
// @ID          deleteConnection
// @Summary     Delete a connection
// @Description Fails with 409 while chats reference the connection.
// @Tags        Connections
// @Security    BearerAuth
// @Param       id  path  string  true  "Connection ID (UUID)"  format(uuid)
// @Success     204  {string} string "No Content"
// @Failure     404  {object} handlers.ErrorResponse "Connection not found"
// @Failure     409  {object} handlers.ErrorResponse "Connection in use"
// @Router      /connections/{id} [delete]
func (h *Handlers) DeleteConnection(c *gin.Context) {
	id, valid := pathUUID(c, "id")
	if !valid {
		return
	}
	if err := h.connSvc.Delete(c.Request.Context(), id); err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	noContent(c)
}

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/chatflow-gateway/internal/domain"
	"github.com/tbourn/chatflow-gateway/internal/flow"
	"github.com/tbourn/chatflow-gateway/internal/services"
	"github.com/tbourn/chatflow-gateway/internal/session"
)

// ---------- stubs ----------

type stubWebhookSvc struct {
	got    services.WebhookRequest
	verify [4]string
	resp   services.WebhookResponse
}

func (s *stubWebhookSvc) Handle(_ context.Context, req services.WebhookRequest) services.WebhookResponse {
	s.got = req
	return s.resp
}

func (s *stubWebhookSvc) VerifyChallenge(_ context.Context, connectionID, mode, token, challenge string) services.WebhookResponse {
	s.verify = [4]string{connectionID, mode, token, challenge}
	return s.resp
}

type stubChatSvc struct {
	chat       *domain.Chat
	items      []domain.Chat
	total      int64
	err        error
	page, size int
	conn       string
	agent, tag string
}

func (s *stubChatSvc) Get(context.Context, string) (*domain.Chat, error) { return s.chat, s.err }
func (s *stubChatSvc) ListPage(_ context.Context, connID string, page, size int) ([]domain.Chat, int64, error) {
	s.conn, s.page, s.size = connID, page, size
	return s.items, s.total, s.err
}
func (s *stubChatSvc) MarkRead(context.Context, string) (int64, error) { return 2, s.err }
func (s *stubChatSvc) Close(context.Context, string) error             { return s.err }
func (s *stubChatSvc) Assign(_ context.Context, _, agent string) error {
	s.agent = agent
	return s.err
}
func (s *stubChatSvc) Tag(_ context.Context, _, tag string) error {
	s.tag = tag
	return s.err
}

type stubMsgSvc struct {
	out     *services.SendOutcome
	err     error
	subject string
	key     string
	in      services.SendInput

	items  []domain.Message
	total  int64
	count  int64
	latest *time.Time
}

func (s *stubMsgSvc) Send(_ context.Context, subject, _, key string, in services.SendInput) (*services.SendOutcome, error) {
	s.subject, s.key, s.in = subject, key, in
	return s.out, s.err
}
func (s *stubMsgSvc) ListPage(context.Context, string, int, int) ([]domain.Message, int64, error) {
	return s.items, s.total, s.err
}
func (s *stubMsgSvc) Stats(context.Context, string) (int64, *time.Time, error) {
	return s.count, s.latest, nil
}

type stubFlowSvc struct {
	flow   *domain.Flow
	exec   *domain.FlowExecution
	res    *flow.ExecutionResult
	err    error
	userID string
	def    services.FlowDefinition
	start  flow.StartRequest
	status string
	yaml   string
	id     string
}

func (s *stubFlowSvc) Create(_ context.Context, userID string, def services.FlowDefinition) (*domain.Flow, error) {
	s.userID, s.def = userID, def
	return s.flow, s.err
}
func (s *stubFlowSvc) ImportYAML(_ context.Context, userID string, data []byte) ([]*domain.Flow, error) {
	s.userID, s.yaml = userID, string(data)
	if s.err != nil {
		return nil, s.err
	}
	return []*domain.Flow{s.flow}, nil
}
func (s *stubFlowSvc) Get(context.Context, string) (*domain.Flow, error) { return s.flow, s.err }
func (s *stubFlowSvc) Update(_ context.Context, id string, def services.FlowDefinition) (*domain.Flow, error) {
	s.id, s.def = id, def
	return s.flow, s.err
}
func (s *stubFlowSvc) SetStatus(_ context.Context, _, status string) (*domain.Flow, error) {
	s.status = status
	return s.flow, s.err
}
func (s *stubFlowSvc) Delete(context.Context, string) error { return s.err }
func (s *stubFlowSvc) Start(_ context.Context, req flow.StartRequest) (*flow.ExecutionResult, error) {
	s.start = req
	return s.res, s.err
}
func (s *stubFlowSvc) Execution(context.Context, string) (*domain.FlowExecution, error) {
	return s.exec, s.err
}
func (s *stubFlowSvc) Pause(context.Context, string) (*flow.ExecutionResult, error)  { return s.res, s.err }
func (s *stubFlowSvc) Resume(context.Context, string) (*flow.ExecutionResult, error) { return s.res, s.err }

type stubConnSvc struct {
	conn   *domain.Connection
	err    error
	userID string
	in     services.ConnectionInput
}

func (s *stubConnSvc) Create(_ context.Context, userID string, in services.ConnectionInput) (*domain.Connection, error) {
	s.userID, s.in = userID, in
	return s.conn, s.err
}
func (s *stubConnSvc) Get(context.Context, string) (*domain.Connection, error) { return s.conn, s.err }
func (s *stubConnSvc) SetStatus(context.Context, string, string) (*domain.Connection, error) {
	return s.conn, s.err
}
func (s *stubConnSvc) Delete(context.Context, string) error { return s.err }

// ---------- harness ----------

type harness struct {
	webhooks *stubWebhookSvc
	chats    *stubChatSvc
	msgs     *stubMsgSvc
	flows    *stubFlowSvc
	conns    *stubConnSvc
	r        *gin.Engine
}

// newHarness mounts every handler the way the router does, with a fixed
// authenticated subject instead of BearerAuth.
func newHarness() *harness {
	gin.SetMode(gin.TestMode)
	h := &harness{
		webhooks: &stubWebhookSvc{},
		chats:    &stubChatSvc{},
		msgs:     &stubMsgSvc{},
		flows:    &stubFlowSvc{},
		conns:    &stubConnSvc{},
		r:        gin.New(),
	}
	hs := New(h.webhooks, h.chats, h.msgs, h.flows, h.conns)

	h.r.POST("/webhooks/whatsapp", hs.ReceiveWebhook)
	h.r.POST("/webhooks/whatsapp/:connection_id", hs.ReceiveWebhook)
	h.r.GET("/webhooks/whatsapp", hs.VerifyWebhook)
	h.r.GET("/webhooks/whatsapp/:connection_id", hs.VerifyWebhook)

	admin := h.r.Group("", func(c *gin.Context) { c.Set("auth.subject", "ops"); c.Next() })
	admin.POST("/connections", hs.CreateConnection)
	admin.GET("/connections/:id", hs.GetConnection)
	admin.PUT("/connections/:id/status", hs.SetConnectionStatus)
	admin.DELETE("/connections/:id", hs.DeleteConnection)
	admin.GET("/connections/:id/chats", hs.ListChats)

	admin.GET("/chats/:id", hs.GetChat)
	admin.POST("/chats/:id/read", hs.MarkChatRead)
	admin.POST("/chats/:id/close", hs.CloseChat)
	admin.POST("/chats/:id/assign", hs.AssignChat)
	admin.POST("/chats/:id/tags", hs.TagChat)
	admin.GET("/chats/:id/messages", hs.ListMessages)
	admin.POST("/chats/:id/messages", hs.PostMessage)
	admin.GET("/chats/:id/flow", hs.GetChatFlow)
	admin.POST("/chats/:id/flow/pause", hs.PauseChatFlow)
	admin.POST("/chats/:id/flow/resume", hs.ResumeChatFlow)

	admin.POST("/flows", hs.CreateFlow)
	admin.POST("/flows/import", hs.ImportFlows)
	admin.GET("/flows/:id", hs.GetFlow)
	admin.PUT("/flows/:id", hs.UpdateFlow)
	admin.PUT("/flows/:id/status", hs.SetFlowStatus)
	admin.DELETE("/flows/:id", hs.DeleteFlow)
	admin.POST("/flows/:id/start", hs.StartFlow)
	return h
}

func (h *harness) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = bytes.NewBufferString(b)
	case []byte:
		rdr = bytes.NewReader(b)
	default:
		raw, _ := json.Marshal(b)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.r.ServeHTTP(w, req)
	return w
}

func decodeErr(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("error body: %v (%s)", err, w.Body.String())
	}
	return e
}

// ---------- tests ----------

func Test_clampPagination(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		query          string
		page, pageSize int
	}{
		{"", 1, 20},
		{"?page=0&page_size=0", 1, 1},
		{"?page=3&page_size=500", 3, 100},
		{"?page=x&page_size=y", 1, 20},
	}
	for _, tc := range cases {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/"+tc.query, nil)
		p, ps := clampPagination(c)
		if p != tc.page || ps != tc.pageSize {
			t.Fatalf("%q: got (%d,%d), want (%d,%d)", tc.query, p, ps, tc.page, tc.pageSize)
		}
	}

	if got := newPagination(2, 20, 45); got.TotalPages != 3 || !got.HasNext {
		t.Fatalf("pagination = %+v", got)
	}
	if got := newPagination(1, 20, 0); got.TotalPages != 0 || got.HasNext {
		t.Fatalf("empty pagination = %+v", got)
	}
}

func TestListChats_PageAndValidation(t *testing.T) {
	h := newHarness()
	connID := uuid.NewString()
	h.chats.items = []domain.Chat{{ID: "c1"}, {ID: "c2"}}
	h.chats.total = 45

	w := h.do(http.MethodGet, "/connections/"+connID+"/chats?page=2&page_size=20", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	var resp ListChatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Chats) != 2 || resp.Pagination.TotalPages != 3 || !resp.Pagination.HasNext {
		t.Fatalf("resp = %+v", resp)
	}
	if h.chats.conn != connID || h.chats.page != 2 || h.chats.size != 20 {
		t.Fatalf("service args = %q %d %d", h.chats.conn, h.chats.page, h.chats.size)
	}

	if w := h.do(http.MethodGet, "/connections/nope/chats", nil, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad uuid = %d", w.Code)
	}

	h.chats.err = errors.New("db down")
	w = h.do(http.MethodGet, "/connections/"+connID+"/chats", nil, nil)
	if w.Code != http.StatusInternalServerError || decodeErr(t, w).Code != ErrCodeListFailed {
		t.Fatalf("list error = %d %s", w.Code, w.Body.String())
	}
}

func TestGetChat_FoundAndNotFound(t *testing.T) {
	h := newHarness()
	id := uuid.NewString()
	h.chats.chat = &domain.Chat{ID: id, PhoneNumber: "+5511988887777"}

	w := h.do(http.MethodGet, "/chats/"+id, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	h.chats.err = services.ErrChatNotFound
	w = h.do(http.MethodGet, "/chats/"+id, nil, nil)
	if w.Code != http.StatusNotFound || decodeErr(t, w).Code != ErrCodeNotFound {
		t.Fatalf("missing = %d %s", w.Code, w.Body.String())
	}
}

func TestChatMutations(t *testing.T) {
	h := newHarness()
	id := uuid.NewString()

	w := h.do(http.MethodPost, "/chats/"+id+"/read", nil, nil)
	if w.Code != http.StatusOK || w.Body.String() != `{"updated":2}` {
		t.Fatalf("read = %d %s", w.Code, w.Body.String())
	}
	if w := h.do(http.MethodPost, "/chats/"+id+"/close", nil, nil); w.Code != http.StatusNoContent {
		t.Fatalf("close = %d", w.Code)
	}
	if w := h.do(http.MethodPost, "/chats/"+id+"/assign", AssignChatRequest{Agent: "maria"}, nil); w.Code != http.StatusNoContent || h.chats.agent != "maria" {
		t.Fatalf("assign = %d %q", w.Code, h.chats.agent)
	}
	if w := h.do(http.MethodPost, "/chats/"+id+"/assign", `{"agent":"  "}`, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("blank agent = %d", w.Code)
	}
	if w := h.do(http.MethodPost, "/chats/"+id+"/tags", TagChatRequest{Tag: "vip"}, nil); w.Code != http.StatusNoContent || h.chats.tag != "vip" {
		t.Fatalf("tag = %d %q", w.Code, h.chats.tag)
	}
	if w := h.do(http.MethodPost, "/chats/"+id+"/tags", `{}`, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("missing tag = %d", w.Code)
	}

	h.chats.err = session.ErrChatNotFound
	if w := h.do(http.MethodPost, "/chats/"+id+"/close", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("close missing = %d", w.Code)
	}
}

func Test_failErr_Mapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{services.ErrInvalidFlow, http.StatusUnprocessableEntity, ErrCodeInvalidFlow},
		{services.ErrTooLong, http.StatusBadRequest, ErrCodeBadRequest},
		{flow.ErrInvalidPhone, http.StatusBadRequest, ErrCodeBadRequest},
		{flow.ErrNoActiveExecution, http.StatusNotFound, ErrCodeNotFound},
		{&flow.InvalidStateTransitionError{ExecutionID: "e1", From: domain.ExecCompleted, To: domain.ExecPaused}, http.StatusConflict, ErrCodeInvalidTransition},
		{flow.ErrFlowConflict, http.StatusConflict, ErrCodeConflict},
		{flow.ErrFlowInactive, http.StatusConflict, ErrCodeFlowInactive},
		{services.ErrChatClosed, http.StatusConflict, ErrCodeChatClosed},
		{services.ErrFlowInUse, http.StatusConflict, ErrCodeConflict},
		{flow.ErrChatBusy, http.StatusServiceUnavailable, ErrCodeUnavailable},
		{errors.New("boom"), http.StatusInternalServerError, ErrCodeInternal},
	}
	gin.SetMode(gin.TestMode)
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		failErr(c, tc.err, ErrCodeInternal)
		if w.Code != tc.status || decodeErr(t, w).Code != tc.code {
			t.Fatalf("%v: got %d %s", tc.err, w.Code, w.Body.String())
		}
	}
}

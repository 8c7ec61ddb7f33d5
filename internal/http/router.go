// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, admin authentication, idempotency, and rate
// limiting.
//
// Two surfaces are mounted under the API base path:
//   - /webhooks/whatsapp[/:connection_id]  provider callbacks, HMAC-verified
//   - everything else                      admin API, bearer-token protected
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/chatflow-gateway/docs"
	"github.com/tbourn/chatflow-gateway/internal/config"
	"github.com/tbourn/chatflow-gateway/internal/domain"
	"github.com/tbourn/chatflow-gateway/internal/http/handlers"
	"github.com/tbourn/chatflow-gateway/internal/http/middleware"
	"github.com/tbourn/chatflow-gateway/internal/kvstore"
	"github.com/tbourn/chatflow-gateway/internal/ratelimit"
	"github.com/tbourn/chatflow-gateway/internal/repo"
	"github.com/tbourn/chatflow-gateway/internal/services"
	"github.com/tbourn/chatflow-gateway/internal/session"
)

// Deps are the long-lived collaborators the routes are built from.
type Deps struct {
	DB       *gorm.DB
	KV       kvstore.Store
	Sessions *session.Store
	Flows    services.FlowRunner
	Out      services.OutboundSender
}

// chatRepoShim adapts the repository free functions to the services.ChatRepo
// interface expected by the ChatService.
type chatRepoShim struct{}

// GetChat proxies repo.GetChat.
func (chatRepoShim) GetChat(ctx context.Context, db *gorm.DB, id string) (*domain.Chat, error) {
	return repo.GetChat(ctx, db, id)
}

// CountChats proxies repo.CountChats (pagination support).
func (chatRepoShim) CountChats(ctx context.Context, db *gorm.DB, connectionID string) (int64, error) {
	return repo.CountChats(ctx, db, connectionID)
}

// ListChatsPage proxies repo.ListChatsPage (pagination support).
func (chatRepoShim) ListChatsPage(ctx context.Context, db *gorm.DB, connectionID string, offset, limit int) ([]domain.Chat, error) {
	return repo.ListChatsPage(ctx, db, connectionID, offset, limit)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII and signature scrubbing
//  4. Recovery: capture panics after logger
//  5. Metrics
//  6. CORS and Security headers
//
// The admin group adds, in order: bearer auth, idempotency validation
// (before rate limiting so replays bypass it), and the shared-store rate
// limiter. Webhook routes get their own body cap; their rate limit and
// signature checks live in the WebhookGateway.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// Client IPs (webhook and admin rate-limit keys) come from forwarding
	// headers only when the peer is a listed proxy.
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		log.Warn().Err(err).Msg("invalid TRUSTED_PROXIES; forwarding headers ignored")
		_ = r.SetTrustedProxies(nil)
	}

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 6) CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed", "Retry-After"}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
		Expose:       []string{"ETag", "Idempotency-Replayed"},
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/readiness
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/readyz", readiness(deps))

	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = apiBase
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/kv/engine
	webhookSvc := services.NewWebhookGateway(deps.DB, deps.KV, cfg.Webhook)
	chatSvc := services.NewChatService(deps.DB, chatRepoShim{}, deps.Sessions)
	msgSvc := services.NewMessageService(deps.DB, deps.Out, cfg.IdempotencyTTL)
	flowSvc := services.NewFlowService(deps.DB, deps.Flows)
	connSvc := services.NewConnectionService(deps.DB)
	h := handlers.New(webhookSvc, chatSvc, msgSvc, flowSvc, connSvc)

	api := groupWithPrefix(r, apiBase)

	// Provider callbacks
	hooks := api.Group("/webhooks/whatsapp", limitBody(cfg.Webhook.MaxBodyBytes))
	{
		hooks.POST("", h.ReceiveWebhook)
		hooks.GET("", h.VerifyWebhook)
		hooks.POST("/:connection_id", h.ReceiveWebhook)
		hooks.GET("/:connection_id", h.VerifyWebhook)
	}

	if cfg.AdminJWTSecret == "" {
		log.Warn().Msg("ADMIN_JWT_SECRET not set; admin API disabled")
		return
	}

	admin := api.Group("",
		limitBody(1<<20),
		middleware.BearerAuth(middleware.AuthOptions{Secret: cfg.AdminJWTSecret}),
		middleware.SecurityHeaders(middleware.SecurityOptions{NoStore: true}),
		middleware.IdempotencyValidator(
			middleware.IdempotencyOptions{MaxLen: 200},
			func(ctx context.Context, subject, chatID, key string, now time.Time) (bool, error) {
				rec, err := repo.GetIdempotency(ctx, deps.DB, subject, chatID, key, now)
				if errors.Is(err, repo.ErrNotFound) {
					return false, nil
				}
				if err != nil {
					return false, err
				}
				return rec != nil, nil
			},
		),
		middleware.RateLimit(ratelimit.New(deps.KV), middleware.RateLimitOptions{
			Limit:  cfg.AdminRateLimit,
			Window: cfg.AdminRateWindow,
			Scope:  "admin",
		}),
	)
	compressed := gzip.Gzip(gzip.DefaultCompression)
	{
		// Connections
		admin.POST("/connections", h.CreateConnection)
		admin.GET("/connections/:id", h.GetConnection)
		admin.PUT("/connections/:id/status", h.SetConnectionStatus)
		admin.DELETE("/connections/:id", h.DeleteConnection)
		admin.GET("/connections/:id/chats", compressed, h.ListChats)

		// Chats
		admin.GET("/chats/:id", h.GetChat)
		admin.POST("/chats/:id/read", h.MarkChatRead)
		admin.POST("/chats/:id/close", h.CloseChat)
		admin.POST("/chats/:id/assign", h.AssignChat)
		admin.POST("/chats/:id/tags", h.TagChat)

		// Messages
		admin.GET("/chats/:id/messages", compressed, h.ListMessages)
		admin.POST("/chats/:id/messages", h.PostMessage)

		// Flow executions
		admin.GET("/chats/:id/flow", h.GetChatFlow)
		admin.POST("/chats/:id/flow/pause", h.PauseChatFlow)
		admin.POST("/chats/:id/flow/resume", h.ResumeChatFlow)

		// Flows
		admin.POST("/flows", h.CreateFlow)
		admin.POST("/flows/import", h.ImportFlows)
		admin.GET("/flows/:id", h.GetFlow)
		admin.PUT("/flows/:id", h.UpdateFlow)
		admin.PUT("/flows/:id/status", h.SetFlowStatus)
		admin.DELETE("/flows/:id", h.DeleteFlow)
		admin.POST("/flows/:id/start", h.StartFlow)
	}
}

// readiness pings the database and the shared store.
func readiness(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := repo.Ping(ctx, deps.DB); err != nil {
			handlers.Fail(c, http.StatusServiceUnavailable, handlers.ErrCodeUnavailable, "database unavailable")
			return
		}
		if deps.KV != nil {
			if err := deps.KV.Ping(ctx); err != nil {
				handlers.Fail(c, http.StatusServiceUnavailable, handlers.ErrCodeUnavailable, "kv store unavailable")
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

// limitBody returns a Gin middleware that caps the request body size to
// maxBytes using http.MaxBytesReader. Requests exceeding the cap will cause
// downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

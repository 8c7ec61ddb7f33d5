// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file adapts the shared fixed-window limiter (internal/ratelimit) to
// Gin. Counters live in the key/value store, so every gateway replica draws
// from the same budget.
//
// Features:
//   - Pluggable identity function (authenticated subject or client IP)
//   - Seamless bypass for idempotent replays (when paired with IdempotencyValidator)
//   - Retry-After derived from the window length
//
// The limiter is intended for abuse control on the admin API; it is not an
// authorization mechanism. The public webhook route is limited inside the
// WebhookGateway instead, because its responses are fixed by the provider.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/chatflow-gateway/internal/ratelimit"
)

// KeyFunc selects the identity used to key a rate-limit counter.
type KeyFunc func(*gin.Context) string

// KeyBySubjectOrIP prefers the authenticated subject and falls back to the
// client IP address. Keys are prefixed to keep the namespaces apart
// (e.g. "sub:ops@example.com" vs "ip:203.0.113.7").
func KeyBySubjectOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if s := Subject(c); s != anonymousSubject {
			return "sub:" + s
		}
		return "ip:" + c.ClientIP()
	}
}

// IsRateBypass reports whether IdempotencyValidator marked this request for
// rate-limit bypass (i.e., it is a replay of a previously completed request).
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// RateLimitOptions configures RateLimit.
type RateLimitOptions struct {
	Limit  int           // requests per window; <= 0 disables the middleware
	Window time.Duration // defaults to one minute
	Key    KeyFunc       // defaults to KeyBySubjectOrIP
	// Scope namespaces counters so separate route groups keep separate budgets.
	Scope string
}

// RateLimit returns a Gin middleware that enforces opts.Limit requests per
// window and key. Replays flagged by IdempotencyValidator are not counted.
//
// A denied request gets:
//
//	HTTP/1.1 429 Too Many Requests
//	Retry-After: <window seconds>
//	{
//	  "request_id": "<uuid>",
//	  "code":       "too_many_requests",
//	  "message":    "rate limit exceeded"
//	}
func RateLimit(l *ratelimit.Limiter, opts RateLimitOptions) gin.HandlerFunc {
	if l == nil || opts.Limit <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	window := opts.Window
	if window <= 0 {
		window = time.Minute
	}
	keyFn := opts.Key
	if keyFn == nil {
		keyFn = KeyBySubjectOrIP()
	}
	scope := opts.Scope
	if scope == "" {
		scope = "http"
	}
	retryAfter := strconv.Itoa(int((window + time.Second - 1) / time.Second))

	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		allowed, _ := l.Allow(c.Request.Context(), scope+":"+keyFn(c), opts.Limit, window)
		if allowed {
			c.Next()
			return
		}

		c.Header("Retry-After", retryAfter)
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get("X-Request-ID"),
			"code":       "too_many_requests",
			"message":    "rate limit exceeded",
		})
	}
}

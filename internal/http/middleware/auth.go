// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements bearer authentication for the admin API. Tokens are
// HS256 JWTs signed with a shared secret; the "sub" claim identifies the
// operator and scopes idempotency records and rate-limit buckets.
package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ctxKeySubject holds the authenticated subject ("sub" claim).
const ctxKeySubject = "auth.subject"

// anonymousSubject is reported when no authenticated subject is present.
const anonymousSubject = "anonymous"

// AuthOptions configures BearerAuth.
type AuthOptions struct {
	// Secret is the HS256 signing key. It must not be empty.
	Secret string
	// Leeway tolerates clock skew on exp/nbf. Defaults to 30s.
	Leeway time.Duration
}

// BearerAuth validates "Authorization: Bearer <jwt>" and stores the token's
// subject in the Gin context. Tokens signed with anything other than HS256,
// expired tokens and tokens without a subject are rejected with 401.
func BearerAuth(opts AuthOptions) gin.HandlerFunc {
	leeway := opts.Leeway
	if leeway <= 0 {
		leeway = 30 * time.Second
	}
	key := []byte(opts.Secret)
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(leeway),
	)

	return func(c *gin.Context) {
		raw, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		raw = strings.TrimSpace(raw)
		if !found || raw == "" {
			unauthorized(c, "missing bearer token")
			return
		}

		claims := &jwt.RegisteredClaims{}
		tok, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
			return key, nil
		})
		if err != nil || !tok.Valid {
			unauthorized(c, "invalid bearer token")
			return
		}
		if strings.TrimSpace(claims.Subject) == "" {
			unauthorized(c, "token has no subject")
			return
		}

		c.Set(ctxKeySubject, claims.Subject)
		c.Next()
	}
}

// Subject returns the authenticated subject, or "anonymous" when the route is
// not behind BearerAuth.
func Subject(c *gin.Context) string {
	if v, ok := c.Get(ctxKeySubject); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return anonymousSubject
}

func unauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="admin"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": c.Writer.Header().Get("X-Request-ID"),
		"code":       "unauthorized",
		"message":    msg,
	})
}

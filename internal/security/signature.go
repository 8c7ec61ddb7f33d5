// Package security authenticates provider webhook callbacks with the
// X-Hub-Signature-256 HMAC scheme.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// HeaderName is the request header carrying the body signature.
const HeaderName = "X-Hub-Signature-256"

// ErrAuthentication is the sentinel for every signature failure.
var ErrAuthentication = errors.New("authentication failed")

// Failure reasons carried by AuthenticationError. They are for logs only and
// are never echoed to the caller.
const (
	ReasonSecretUnconfigured = "secret_unconfigured"
	ReasonMissingHeader      = "missing_header"
	ReasonMalformedHeader    = "malformed_header"
	ReasonUnsupportedAlgo    = "unsupported_algorithm"
	ReasonMismatch           = "mismatch"
)

// AuthenticationError describes why verification failed.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return "authentication failed: " + e.Reason
}

// Is lets errors.Is(err, ErrAuthentication) match.
func (e *AuthenticationError) Is(target error) bool { return target == ErrAuthentication }

func fail(reason string) (bool, error) {
	return false, &AuthenticationError{Reason: reason}
}

// Verify checks that header is "sha256=<hex>" where hex is the HMAC-SHA256
// of rawBody under secret.
//
// An empty secret always fails. A missing header fails unless required is
// false, in which case the body is accepted unauthenticated.
func Verify(rawBody []byte, header, secret string, required bool) (bool, error) {
	if secret == "" {
		return fail(ReasonSecretUnconfigured)
	}
	header = strings.TrimSpace(header)
	if header == "" {
		if !required {
			return true, nil
		}
		return fail(ReasonMissingHeader)
	}
	algo, sig, ok := strings.Cut(header, "=")
	if !ok || sig == "" {
		return fail(ReasonMalformedHeader)
	}
	if algo != "sha256" {
		return fail(ReasonUnsupportedAlgo)
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return fail(ReasonMalformedHeader)
	}
	if !hmac.Equal(got, mac(rawBody, secret)) {
		return fail(ReasonMismatch)
	}
	return true, nil
}

// Sign returns the header value a provider would send for body.
func Sign(body []byte, secret string) string {
	return "sha256=" + hex.EncodeToString(mac(body, secret))
}

// EqualToken compares two tokens in constant time.
func EqualToken(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

func mac(body []byte, secret string) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return h.Sum(nil)
}

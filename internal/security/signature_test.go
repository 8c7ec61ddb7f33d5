package security

import (
	"errors"
	"strings"
	"testing"
)

func TestVerify_RoundTrip(t *testing.T) {
	body := []byte(`{"object":"whatsapp_business_account","entry":[]}`)
	sig := Sign(body, "s3cret")
	if !strings.HasPrefix(sig, "sha256=") {
		t.Fatalf("Sign() = %q", sig)
	}
	ok, err := Verify(body, sig, "s3cret", true)
	if err != nil || !ok {
		t.Fatalf("Verify = %v, %v", ok, err)
	}
}

func TestVerify_Failures(t *testing.T) {
	body := []byte(`{"a":1}`)
	good := Sign(body, "s3cret")
	flipped := []byte(`{"a":2}`)

	tests := []struct {
		name     string
		body     []byte
		header   string
		secret   string
		required bool
		reason   string
	}{
		{"single byte changed", flipped, good, "s3cret", true, ReasonMismatch},
		{"wrong secret", body, good, "other", true, ReasonMismatch},
		{"empty secret", body, good, "", true, ReasonSecretUnconfigured},
		{"empty secret not required", body, "", "", false, ReasonSecretUnconfigured},
		{"missing header", body, "", "s3cret", true, ReasonMissingHeader},
		{"no equals", body, "sha256", "s3cret", true, ReasonMalformedHeader},
		{"empty digest", body, "sha256=", "s3cret", true, ReasonMalformedHeader},
		{"bad hex", body, "sha256=zz", "s3cret", true, ReasonMalformedHeader},
		{"sha1", body, "sha1=" + strings.TrimPrefix(good, "sha256="), "s3cret", true, ReasonUnsupportedAlgo},
		{"uppercase algo", body, "SHA256=" + strings.TrimPrefix(good, "sha256="), "s3cret", true, ReasonUnsupportedAlgo},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := Verify(tc.body, tc.header, tc.secret, tc.required)
			if ok {
				t.Fatalf("expected rejection")
			}
			if !errors.Is(err, ErrAuthentication) {
				t.Fatalf("expected ErrAuthentication, got %v", err)
			}
			var ae *AuthenticationError
			if !errors.As(err, &ae) || ae.Reason != tc.reason {
				t.Fatalf("reason = %v; want %q", err, tc.reason)
			}
		})
	}
}

func TestVerify_HeaderOptional(t *testing.T) {
	ok, err := Verify([]byte(`{}`), "", "s3cret", false)
	if err != nil || !ok {
		t.Fatalf("unsigned body should pass when not required: %v, %v", ok, err)
	}
	// A present but wrong header still fails even when not required.
	if ok, _ := Verify([]byte(`{}`), "sha256=00", "s3cret", false); ok {
		t.Fatalf("bad signature accepted")
	}
}

func TestEqualToken(t *testing.T) {
	if !EqualToken("abc", "abc") || EqualToken("abc", "abd") || EqualToken("abc", "") {
		t.Fatalf("EqualToken mismatch")
	}
}

// Package webhook authenticates inbound relay calls with an HMAC signature
// computed over the raw request body.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign returns the signature header value for body:
// "sha256=" + hex(HMAC-SHA256(secret, body)).
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether header matches the signature of the exact bytes
// received on the wire. Verification must run before the body is parsed;
// re-serializing parsed fields can change the bytes and break the signature.
// It fails when the secret is unset or the header is missing, and the header
// must match the computed value in full, prefix included.
func Verify(secret string, body []byte, header string) bool {
	if secret == "" || header == "" {
		return false
	}
	expected := Sign(secret, body)
	return hmac.Equal([]byte(header), []byte(expected))
}

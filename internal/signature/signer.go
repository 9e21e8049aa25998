// Package signature computes the X-Pusher-Signature value: a hex HMAC-SHA256 of the
// exact payload bytes keyed by the app secret.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign returns the hex-encoded HMAC-SHA256 of payload keyed by secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)

	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig is the signature of payload under secret.
func Verify(payload []byte, secret, sig string) bool {
	expected := Sign(payload, secret)

	return hmac.Equal([]byte(expected), []byte(sig))
}

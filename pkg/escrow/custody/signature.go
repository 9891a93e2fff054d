package custody

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// VerifyHMACSHA256 reports whether signature (hex-encoded) is the correct
// HMAC-SHA-256 of payload under secret, using a constant-time comparison
// to avoid leaking timing information about the expected signature.
func VerifyHMACSHA256(secret, payload []byte, signature string) bool {
	decoded, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	expected := mac.Sum(nil)

	return subtle.ConstantTimeCompare(decoded, expected) == 1
}

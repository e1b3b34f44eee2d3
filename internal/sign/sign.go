// Package sign implements the request authentication shared by both sides
// of a connection: hex HMAC-SHA256 over the exact raw body bytes, keyed by
// the connection's shared secret.
package sign

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// PairingCodeLength is the fixed length of pairing codes.
const PairingCodeLength = 6

// Body signs raw body bytes with the connection secret and returns the hex
// signature.
func Body(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body under secret. Unequal
// length signatures are rejected up front without accumulating a digest
// comparison.
func Verify(secret string, body []byte, signature string) bool {
	want := Body(secret, body)
	if len(want) != len(signature) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(signature)) == 1
}

// NewSecret returns a fresh random shared secret as 64 hex chars. The raw
// value is persisted on both sides and used directly as the signing key.
func NewSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// NewPairingCode returns a fixed-length uppercase alphanumeric code.
func NewPairingCode() (string, error) {
	buf := make([]byte, PairingCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate pairing code: %w", err)
	}

	code := make([]byte, PairingCodeLength)
	for i, b := range buf {
		code[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(code), nil
}

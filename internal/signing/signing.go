// Package signing implements the webhook request signature scheme: a
// SHA-256 body hash folded into a newline-joined canonical string that is
// HMAC-SHA256 signed with the recipient's shared secret. All functions are
// pure; timestamps and nonces are supplied by the caller.
package signing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Header names attached to every outbound delivery.
const (
	HeaderSignatureVersion = "X-Webhook-Signature-Version"
	HeaderTimestamp        = "X-Webhook-Timestamp" // unix seconds, string
	HeaderNonce            = "X-Webhook-Nonce"     // random, unique per attempt
	HeaderSignature        = "X-Webhook-Signature" // hex HMAC-SHA256
)

// BodyHash returns the hex SHA-256 of the exact bytes that will be transmitted.
func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// CanonicalString builds the byte sequence that gets signed:
// METHOD\nPATH\nTIMESTAMP\nNONCE\nBODYHASH. The method is uppercased and the
// path is taken exactly as sent, without the query string.
func CanonicalString(method, path string, timestamp int64, nonce, bodyHash string) string {
	return strings.Join([]string{
		strings.ToUpper(method),
		path,
		fmt.Sprintf("%d", timestamp),
		nonce,
		bodyHash,
	}, "\n")
}

// Sign computes the hex-encoded HMAC-SHA256 of the canonical string under the
// recipient secret. Deterministic: identical inputs always produce identical
// output.
func Sign(secret, canonical string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches the canonical string under secret,
// using a constant-time comparison.
func Verify(secret, canonical, signature string) bool {
	want := Sign(secret, canonical)
	return hmac.Equal([]byte(signature), []byte(want))
}

// NewNonce generates a random 128-bit nonce, hex-encoded.
func NewNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

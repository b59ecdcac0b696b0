// Package auth provides API key generation and verification helpers.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

const keyPrefix = "sk_"

// NewAPIKey generates a random API key and its persisted hash. The raw key
// is shown to the user exactly once; only the hash is stored.
func NewAPIKey() (raw, hash string, err error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	raw = keyPrefix + hex.EncodeToString(buf)
	return raw, HashKey(raw), nil
}

// HashKey returns the hex SHA-256 of a raw API key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Equal compares two key hashes in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// FromRequest extracts the raw API key from Authorization: Bearer or the
// X-Api-Key header. Returns "" when neither is present.
func FromRequest(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return strings.TrimSpace(authz[len("Bearer "):])
	}
	return strings.TrimSpace(r.Header.Get("X-Api-Key"))
}

// Package server implements API-key authentication for the mutating routes.
package server

import (
	"crypto/subtle"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/vesaa/hostpulse/internal/apperr"
	"golang.org/x/crypto/bcrypt"
)

// APIKeyHeader carries the shared secret on protected requests.
const APIKeyHeader = "X-API-Key"

// KeyChecker verifies the shared API key. When a bcrypt hash is configured
// it takes precedence over the plaintext key.
type KeyChecker struct {
	key  []byte
	hash []byte
}

// NewKeyChecker stores the configured key material. With neither a key nor a
// hash, every request is rejected.
func NewKeyChecker(key, hash string) *KeyChecker {
	k := &KeyChecker{}
	if key != "" {
		k.key = []byte(key)
	}
	if hash != "" {
		k.hash = []byte(hash)
	}
	return k
}

// Enabled reports whether any key material is configured.
func (k *KeyChecker) Enabled() bool {
	return len(k.key) > 0 || len(k.hash) > 0
}

// Verify reports whether presented matches the configured key.
func (k *KeyChecker) Verify(presented string) bool {
	if presented == "" {
		return false
	}
	if len(k.hash) > 0 {
		return bcrypt.CompareHashAndPassword(k.hash, []byte(presented)) == nil
	}
	if len(k.key) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(k.key, []byte(presented)) == 1
}

// APIKeyMiddleware checks: X-API-Key: <api_key>
// Rejects immediately with 401 on absence or mismatch.
func APIKeyMiddleware(k *KeyChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !k.Verify(c.GetHeader(APIKeyHeader)) {
			respondError(c, fmt.Errorf("%w: invalid or missing API key", apperr.ErrUnauthorized))
			return
		}
		c.Next()
	}
}

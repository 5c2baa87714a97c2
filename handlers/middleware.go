package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// APIKeyMiddleware requires a key matching the bcrypt hash on every request.
// The key is read from "Authorization: Bearer <key>", the X-API-Key header or,
// for browser websockets and <img> streams, the api_key query parameter.
// An empty hash disables the check.
func APIKeyMiddleware(hash string) func(http.Handler) http.Handler {
	if hash == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	checker := &keyChecker{hash: []byte(hash)}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := requestAPIKey(r)
			if key == "" {
				WriteAPIError(w, http.StatusUnauthorized, "unauthorized", "API key required")
				return
			}
			if !checker.valid(key) {
				WriteAPIError(w, http.StatusUnauthorized, "unauthorized", "Invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestAPIKey(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}

// keyChecker remembers the last accepted key so that bcrypt runs once per key
// rather than once per request.
type keyChecker struct {
	hash []byte

	mu       sync.RWMutex
	accepted []byte
}

func (c *keyChecker) valid(key string) bool {
	c.mu.RLock()
	accepted := c.accepted
	c.mu.RUnlock()
	if accepted != nil && subtle.ConstantTimeCompare(accepted, []byte(key)) == 1 {
		return true
	}
	if bcrypt.CompareHashAndPassword(c.hash, []byte(key)) != nil {
		return false
	}
	c.mu.Lock()
	c.accepted = []byte(key)
	c.mu.Unlock()
	return true
}

package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
)

// APIKeyAuth is middleware that validates API key authentication.
//
// When keys are configured (TRIPSAGE_API_KEYS), every request outside the
// public paths must carry one via:
//   - Authorization: Bearer <key>
//   - X-API-Key: <key>
//   - api_key query parameter (SSE clients that cannot set headers)
//
// /health and /version are always public.
type APIKeyAuth struct {
	mu   sync.RWMutex
	keys map[string]bool
}

// NewAPIKeyAuth creates the middleware. Auth is disabled when keys is empty.
func NewAPIKeyAuth(keys []string) *APIKeyAuth {
	auth := &APIKeyAuth{keys: make(map[string]bool)}
	for _, key := range keys {
		if key = strings.TrimSpace(key); key != "" {
			auth.keys[key] = true
		}
	}
	return auth
}

// Enabled returns whether API key auth is active.
func (a *APIKeyAuth) Enabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.keys) > 0
}

// AddKey adds a new API key at runtime.
func (a *APIKeyAuth) AddKey(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys[key] = true
}

// RemoveKey removes an API key at runtime.
func (a *APIKeyAuth) RemoveKey(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.keys, key)
}

// Middleware returns an http.Handler middleware that enforces API key auth.
func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := extractAPIKey(r)
		if apiKey == "" {
			respondUnauthorized(w, "API key required. Set Authorization: Bearer <key> or X-API-Key header.")
			return
		}
		if !a.validateKey(apiKey) {
			respondUnauthorized(w, "Invalid API key.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *APIKeyAuth) validateKey(candidate string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	// Constant-time comparison against every key.
	ok := false
	for key := range a.keys {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(key)) == 1 {
			ok = true
		}
	}
	return ok
}

func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if key := r.URL.Query().Get("api_key"); key != "" {
		return key
	}
	return ""
}

func isPublicPath(path string) bool {
	switch path {
	case "/health", "/version":
		return true
	}
	return false
}

func respondUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="tripsage"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    "unauthorized",
			"message": msg,
		},
	})
}

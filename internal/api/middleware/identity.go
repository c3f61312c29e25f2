package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

type contextKey string

const callerKey contextKey = "caller"

// Caller is the request identity the agent core sees.
type Caller struct {
	UserID    string
	SessionID string
	// Identifier is the stable rate-limit identity: the user id, or a hash
	// of the client IP for anonymous callers.
	Identifier string
}

// Identity extracts the caller from X-User-Id and X-Session-Id. It must
// run after chi's RealIP so RemoteAddr holds the client address.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := Caller{
			UserID:    strings.TrimSpace(r.Header.Get("X-User-Id")),
			SessionID: strings.TrimSpace(r.Header.Get("X-Session-Id")),
		}
		if c.UserID != "" {
			c.Identifier = "user:" + c.UserID
		} else {
			c.Identifier = "ip:" + HashIP(clientIP(r))
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey, c)))
	})
}

// GetCaller returns the caller stored by Identity.
func GetCaller(ctx context.Context) Caller {
	if c, ok := ctx.Value(callerKey).(Caller); ok {
		return c
	}
	return Caller{Identifier: "anonymous"}
}

// HashIP returns the hex SHA-256 of ip, so raw addresses never reach
// rate-limit keys or logs.
func HashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

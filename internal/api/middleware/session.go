package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/example/storefront/internal/auth"
	"github.com/example/storefront/internal/session"
)

// respondError writes a JSON error response
func respondError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// ExtractSessionID extracts the session ID from cookie or header
func ExtractSessionID(r *http.Request) string {
	// Try cookie first (for browser)
	if cookie, err := r.Cookie("session_id"); err == nil {
		return cookie.Value
	}
	// Fall back to header (for API clients)
	return r.Header.Get("X-Session-ID")
}

// ExtractBearer extracts a bearer token from the Authorization header
func ExtractBearer(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

type contextKey string

const SessionContextKey contextKey = "session"

// WithSession resolves the session (live store first, persisted snapshot
// second) and rejects the request when no session exists.
func WithSession(mgr *session.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := mgr.Resolve(r.Context(), ExtractSessionID(r))
			if err != nil {
				respondError(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), SessionContextKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireOperator gates back-office routes behind a bcrypt-hashed key sent
// as the basic-auth password.
func RequireOperator(keyHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if keyHash == "" {
				respondError(w, "back-office disabled", http.StatusForbidden)
				return
			}
			_, key, ok := r.BasicAuth()
			if !ok || !auth.CheckKey(key, keyHash) {
				respondError(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetSession retrieves the resolved session from the request context
func GetSession(ctx context.Context) (*session.Session, bool) {
	sess, ok := ctx.Value(SessionContextKey).(*session.Session)
	return sess, ok
}

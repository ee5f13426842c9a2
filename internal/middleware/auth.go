// Package middleware provides HTTP middleware for the answer API.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jharjadi/pro-rag/answer-api-go/internal/service"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const (
	// ContextKeyClientID is the context key for the authenticated client ID.
	ContextKeyClientID contextKey = "client_id"
	// ContextKeyRole is the context key for the authenticated client role.
	ContextKeyRole contextKey = "role"

	// DevClientID is used when auth is disabled and no X-Client-ID is sent.
	DevClientID = "dev-client"
)

// ClientIDFromContext extracts the client_id from the request context.
// Returns empty string if not present.
func ClientIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ContextKeyClientID).(string)
	return v
}

// RoleFromContext extracts the role from the request context.
func RoleFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ContextKeyRole).(string)
	return v
}

// AuthMiddleware validates JWT tokens and injects claims into the request context.
//
// When authEnabled=true:
//   - Requires a valid JWT in the Authorization header (Bearer <token>)
//   - Extracts client_id and role from JWT claims into context
//
// When authEnabled=false (dev mode):
//   - Takes client_id from the X-Client-ID header, defaulting to "dev-client"
//   - Sets role="admin" in context
func AuthMiddleware(authSvc *service.AuthService, authEnabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !authEnabled {
				clientID := r.Header.Get("X-Client-ID")
				if clientID == "" {
					clientID = DevClientID
				}

				ctx := context.WithValue(r.Context(), ContextKeyClientID, clientID)
				ctx = context.WithValue(ctx, ContextKeyRole, "admin")
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			// Auth enabled: require JWT
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeAuthError(w, http.StatusUnauthorized, "missing Authorization header")
				return
			}

			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeAuthError(w, http.StatusUnauthorized, "invalid Authorization header format (expected: Bearer <token>)")
				return
			}

			tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenStr == "" {
				writeAuthError(w, http.StatusUnauthorized, "empty bearer token")
				return
			}

			claims, err := authSvc.VerifyToken(tokenStr)
			if err != nil {
				slog.Debug("JWT verification failed", "error", err)
				writeAuthError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyClientID, claims.ClientID)
			ctx = context.WithValue(ctx, ContextKeyRole, claims.Role)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole returns middleware that checks the client has one of the allowed roles.
// Must be used after AuthMiddleware.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleFromContext(r.Context())
			if !allowed[role] {
				writeAuthError(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Use simple string concatenation to avoid import cycle with handler package
	w.Write([]byte(`{"error":"` + http.StatusText(status) + `","message":"` + message + `"}`))
}

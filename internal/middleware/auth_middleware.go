package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"carelink/internal/auth"
	"carelink/internal/config"
	"carelink/internal/models"
)

// contextKey is a custom type for context.Context values to avoid key
// collisions.
type contextKey string

// UserIDKey stores the authenticated principal's ID in the request context.
const UserIDKey contextKey = "userID"

// RoleKey stores the authenticated principal's role in the request context.
const RoleKey contextKey = "role"

// writeAuthError responds in the same {success, error} envelope the handlers
// use, so unauthenticated callers see a uniform shape on every response.
func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}{Success: false, Error: message})
}

// AuthMiddleware validates the bearer JWT and stores the actor's identity in
// the request context.
func AuthMiddleware(next http.Handler, authCfg config.AuthConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeAuthError(w, "missing authorization token")
			return
		}

		headerParts := strings.Split(authHeader, " ")
		if len(headerParts) != 2 || strings.ToLower(headerParts[0]) != "bearer" {
			writeAuthError(w, "invalid authorization header format")
			return
		}

		claims, err := auth.ValidateToken(headerParts[1], authCfg.JWTSecretKey)
		if err != nil {
			writeAuthError(w, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
		ctx = context.WithValue(ctx, RoleKey, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserIDFromContext returns the authenticated principal's ID, if any.
func GetUserIDFromContext(ctx context.Context) (uint, bool) {
	userID, ok := ctx.Value(UserIDKey).(uint)
	return userID, ok
}

// GetRoleFromContext returns the authenticated principal's role, if any.
func GetRoleFromContext(ctx context.Context) (models.UserRole, bool) {
	role, ok := ctx.Value(RoleKey).(models.UserRole)
	return role, ok
}

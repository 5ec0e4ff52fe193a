// Package middleware provides HTTP middlewares for user identity and logging.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type ctxKey string

const userKey ctxKey = "user"

// UserIdentity takes the user id from the {userId} route parameter and stores
// it in the request context.
//
// Clients identify themselves by a platform or device id. When the connection
// carries a verified client certificate, its Common Name must equal that id.
func UserIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userId")
		if userID == "" {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "user id is required")
			return
		}
		if !PeerMatches(r, userID) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "client certificate does not match the user")
			return
		}
		ctx := context.WithValue(r.Context(), userKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PeerMatches reports whether a request may act for userID. Requests without
// a client certificate always may.
func PeerMatches(r *http.Request, userID string) bool {
	if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		return true
	}
	return r.TLS.PeerCertificates[0].Subject.CommonName == userID
}

// GetUserIDFromContext extracts the user ID stored by UserIdentity.
// Returns an empty string if not found.
func GetUserIDFromContext(ctx context.Context) string {
	val := ctx.Value(userKey)
	if s, ok := val.(string); ok {
		return s
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "error",
		"code":    code,
		"message": message,
	})
}

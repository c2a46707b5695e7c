package middleware

import (
	"net/http"

	"github.com/chatme/backend/internal/auth"
	"github.com/chatme/backend/internal/logging"
)

// TokenVerifier resolves a bearer access token to a user id.
type TokenVerifier interface {
	Verify(accessToken string) (string, error)
}

// RequireAuth admits requests carrying a valid bearer token and stores the
// caller's user id in the request context.
func RequireAuth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.BearerToken(r.Header.Get("Authorization"))
			if token == "" {
				writeError(r.Context(), w, http.StatusUnauthorized, "authentication required")
				return
			}

			userID, err := verifier.Verify(token)
			if err != nil {
				logging.FromContext(r.Context()).Warn("bearer token rejected", "error", err)
				writeError(r.Context(), w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := logging.WithUser(auth.WithUserID(r.Context(), userID), userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

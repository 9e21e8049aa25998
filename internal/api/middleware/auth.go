package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/pushgate/webhooks/internal/api/response"
)

// Auth validates the static API key sent as "Authorization: Bearer <key>".
func Auth(apiKey string) func(http.Handler) http.Handler {
	expected := []byte(apiKey)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				response.RespondUnauthorized(w, "Missing Authorization header")

				return
			}

			// Expected format: "Bearer <api-key>"
			scheme, key, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") {
				response.RespondUnauthorized(w, "Invalid Authorization header format. Expected: Bearer <api-key>")

				return
			}

			if key == "" {
				response.RespondUnauthorized(w, "API key is empty")

				return
			}

			if subtle.ConstantTimeCompare([]byte(key), expected) != 1 {
				response.RespondUnauthorized(w, "Invalid API key")

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	apperrors "github.com/asesorlab/advisor/internal/pkg/errors"
)

// APIKeyAuth guards routes behind a static API key, supplied either in
// the X-API-Key header or as a Bearer token. An empty configured key
// disables the check.
func APIKeyAuth(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		provided := r.Header.Get("X-API-Key")
		if provided == "" {
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				provided = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
			apperrors.WriteError(w, apperrors.UnauthorizedError())
			return
		}

		next.ServeHTTP(w, r)
	})
}

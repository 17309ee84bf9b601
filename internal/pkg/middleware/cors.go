package middleware

import (
	"net/http"
	"strings"
)

// CORS returns a middleware setting cross-origin headers. allowedOrigins
// is a comma-separated list; "*" or empty allows any origin.
func CORS(allowedOrigins string, next http.Handler) http.Handler {
	origins := parseOrigins(allowedOrigins)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowed, ok := resolveOrigin(origins, origin); ok {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func parseOrigins(raw string) []string {
	if raw == "" {
		return []string{"*"}
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

func resolveOrigin(origins []string, requestOrigin string) (string, bool) {
	for _, o := range origins {
		if o == "*" {
			return "*", true
		}
		if o == requestOrigin {
			return o, true
		}
	}
	return "", false
}

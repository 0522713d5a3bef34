package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// TokenAuth requires "Authorization: Bearer <token>" on every request except
// /metrics. Websocket clients, which cannot set headers, may pass ?token=.
// An empty token disables the check.
func TokenAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			given := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if given == "" {
				given = r.URL.Query().Get("token")
			}

			if subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="streetvision"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

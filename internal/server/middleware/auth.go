package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// APIKeyParam is the query parameter a websocket client may use instead of a
// header, since browsers cannot set headers on the upgrade request.
const APIKeyParam = "api_key"

// Auth returns middleware that requires apiKey as a Bearer token or in the
// X-API-Key header. An empty apiKey disables the check. Requests for the
// public paths always pass; streamPath additionally accepts the key in the
// APIKeyParam query parameter.
func Auth(apiKey, streamPath string, public ...string) func(http.Handler) http.Handler {
	open := make(map[string]bool, len(public))
	for _, p := range public {
		open[p] = true
	}
	want := []byte(apiKey)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" || open[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			token := headerToken(r)
			if token == "" && streamPath != "" && r.URL.Path == streamPath {
				token = r.URL.Query().Get(APIKeyParam)
			}
			if token == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="predictx"`)
				writeError(w, http.StatusUnauthorized, "missing api key")
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), want) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="predictx", error="invalid_token"`)
				writeError(w, http.StatusUnauthorized, "invalid api key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// headerToken reads "Authorization: Bearer <key>" or "X-API-Key: <key>".
func headerToken(r *http.Request) string {
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

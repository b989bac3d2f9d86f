package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/alanyoungcy/estatemarket/internal/crypto"
)

const allowMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"

var allowHeaders = strings.Join([]string{
	"Content-Type",
	"Authorization",
	"X-API-Key",
	HeaderRequestID,
	HeaderActorAddress,
	HeaderActorSignature,
	HeaderActorTimestamp,
	crypto.HeaderTimestamp,
	crypto.HeaderSignature,
}, ", ")

// CORS echoes allowed origins back to browsers. An empty list or a "*" entry
// allows any origin. Preflight requests are answered here and never reach the
// API, so they bypass the API key and actor checks.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAny := len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAny || slices.ContainsFunc(allowedOrigins, func(o string) bool {
				return strings.EqualFold(o, origin)
			})) {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", allowMethods)
				h.Set("Access-Control-Allow-Headers", allowHeaders)
				h.Set("Access-Control-Expose-Headers", HeaderRequestID)
				h.Set("Access-Control-Max-Age", "86400")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

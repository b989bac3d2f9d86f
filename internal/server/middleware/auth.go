package middleware

import (
	"bytes"
	"crypto/subtle"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/estatemarket/internal/crypto"
)

// maxBodyBytes bounds request bodies read for signature checks.
const maxBodyBytes = 1 << 20

// Auth returns middleware that validates API requests. A request passes with
// the static key as a Bearer token or X-API-Key header, or with an HMAC
// signature made with that key (X-Api-Timestamp and X-Api-Signature). If
// apiKey is empty, the middleware passes all requests through. Paths in public
// are never checked.
func Auth(apiKey string, maxSkew time.Duration, public ...string) func(http.Handler) http.Handler {
	hmacAuth := &crypto.HMACAuth{Secret: apiKey, MaxSkew: maxSkew}
	open := make(map[string]bool, len(public))
	for _, p := range public {
		open[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" || open[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			if sig := r.Header.Get(crypto.HeaderSignature); sig != "" {
				body, err := readBody(r)
				if err != nil {
					writeUnauthorized(w, "unreadable request body")
					return
				}
				ts := r.Header.Get(crypto.HeaderTimestamp)
				if err := hmacAuth.Verify(r.Method, r.URL.Path, string(body), ts, sig, time.Now()); err != nil {
					writeUnauthorized(w, "invalid request signature")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				writeUnauthorized(w, "missing authentication token")
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				writeUnauthorized(w, "invalid authentication token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the X-API-Key header.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	return ""
}

// readBody drains the request body and puts an identical reader back so the
// handler can decode it again.
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	r.Body.Close()
	if err != nil {
		return nil, err
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("body exceeds %d bytes", maxBodyBytes)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusUnauthorized, msg)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q}`, msg)
}

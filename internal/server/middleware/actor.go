package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/estatemarket/internal/crypto"
)

// Actor identity headers. The signature is an EIP-191 personal signature over
// crypto.RequestMessage(method, path, timestamp, body).
const (
	HeaderActorAddress   = "X-Actor-Address"
	HeaderActorSignature = "X-Actor-Signature"
	HeaderActorTimestamp = "X-Actor-Timestamp"
)

type actorKey struct{}

// ActorFrom returns the address the request acts as, if any.
func ActorFrom(ctx context.Context) (common.Address, bool) {
	a, ok := ctx.Value(actorKey{}).(common.Address)
	return a, ok
}

// WithActor attaches an actor address to ctx.
func WithActor(ctx context.Context, a common.Address) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// Actor returns middleware that resolves the acting address from
// X-Actor-Address. When requireSignature is set a request naming an actor must
// also carry a fresh signature recovering to that address.
//
// Requests without the header always pass through anonymously, including when
// requireSignature is set: read routes stay public and every mutating handler
// rejects a request with no actor (see handler.requireActor).
func Actor(requireSignature bool, maxSkew time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(HeaderActorAddress)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !common.IsHexAddress(raw) {
				writeError(w, http.StatusBadRequest, "malformed "+HeaderActorAddress)
				return
			}
			actor := common.HexToAddress(raw)

			if requireSignature {
				ts, err := strconv.ParseInt(r.Header.Get(HeaderActorTimestamp), 10, 64)
				if err != nil {
					writeUnauthorized(w, "missing or malformed "+HeaderActorTimestamp)
					return
				}
				if skew := time.Since(time.Unix(ts, 0)).Abs(); maxSkew > 0 && skew > maxSkew {
					writeUnauthorized(w, "actor signature expired")
					return
				}
				body, err := readBody(r)
				if err != nil {
					writeUnauthorized(w, "unreadable request body")
					return
				}
				sig := r.Header.Get(HeaderActorSignature)
				if err := crypto.VerifyRequest(actor, r.Method, r.URL.Path, ts, body, sig); err != nil {
					writeUnauthorized(w, "invalid actor signature")
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

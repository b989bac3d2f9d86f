package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/estatemarket/internal/crypto"
)

const devKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var devAddress = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuth(t *testing.T) {
	h := Auth("s3cret", time.Minute, "/api/health")(okHandler())

	cases := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{"public path", "/api/health", nil, http.StatusNoContent},
		{"missing token", "/api/properties", nil, http.StatusUnauthorized},
		{"bearer", "/api/properties", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusNoContent},
		{"api key header", "/api/properties", map[string]string{"X-API-Key": "s3cret"}, http.StatusNoContent},
		{"wrong key", "/api/properties", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestAuthHMAC(t *testing.T) {
	var seen string
	h := Auth("s3cret", time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := new(bytes.Buffer)
		_, _ = b.ReadFrom(r.Body)
		seen = b.String()
	}))

	body := `{"shares":3}`
	signer := &crypto.HMACAuth{Secret: "s3cret"}
	req := httptest.NewRequest(http.MethodPost, "/api/listings/1/buy", strings.NewReader(body))
	for k, v := range signer.Headers(http.MethodPost, "/api/listings/1/buy", body) {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, body, seen, "body must be readable after verification")

	req = httptest.NewRequest(http.MethodPost, "/api/listings/1/buy", strings.NewReader(`{"shares":4}`))
	for k, v := range signer.Headers(http.MethodPost, "/api/listings/1/buy", body) {
		req.Header.Set(k, v)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestActorUnsigned(t *testing.T) {
	var got common.Address
	var ok bool
	h := Actor(false, time.Minute)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got, ok = ActorFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/properties", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.False(t, ok)

	req.Header.Set(HeaderActorAddress, devAddress.Hex())
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.True(t, ok)
	assert.Equal(t, devAddress, got)

	req.Header.Set(HeaderActorAddress, "0x1234")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActorSigned(t *testing.T) {
	signer, err := crypto.NewSigner(devKey)
	require.NoError(t, err)
	h := Actor(true, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a, _ := ActorFrom(r.Context())
		w.Write([]byte(a.Hex()))
	}))

	body := `{"amount":"100"}`
	ts := time.Now().Unix()
	sig, err := signer.SignRequest(http.MethodPost, "/api/auctions/1/bids", ts, []byte(body))
	require.NoError(t, err)

	newReq := func(addr common.Address, ts int64, sig string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/auctions/1/bids", strings.NewReader(body))
		req.Header.Set(HeaderActorAddress, addr.Hex())
		req.Header.Set(HeaderActorTimestamp, strconv.FormatInt(ts, 10))
		req.Header.Set(HeaderActorSignature, sig)
		return req
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, newReq(devAddress, ts, sig))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, devAddress.Hex(), rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, newReq(common.HexToAddress("0x00000000000000000000000000000000000000c1"), ts, sig))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "signature from another key")

	old := ts - 3600
	oldSig, err := signer.SignRequest(http.MethodPost, "/api/auctions/1/bids", old, []byte(body))
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, newReq(devAddress, old, oldSig))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "stale timestamp")

	// No actor header: passes through with no actor even though signatures
	// are required.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auctions/1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, common.Address{}.Hex(), rec.Body.String())
}

type stubLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (l *stubLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allow, l.err
}

func (l *stubLimiter) Wait(context.Context, string) error { return nil }

func TestRateLimit(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	limiter := &stubLimiter{allow: false}
	h := RateLimit(limiter, 10, 30*time.Second, logger)(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/api/properties", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	assert.Equal(t, []string{"api:203.0.113.7"}, limiter.keys)

	failing := &stubLimiter{err: errors.New("redis down")}
	rec = httptest.NewRecorder()
	RateLimit(failing, 10, time.Second, logger)(okHandler()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code, "limiter errors fail open")
}

func TestLoggingAssignsRequestID(t *testing.T) {
	h := Logging(slog.New(slog.DiscardHandler))(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Len(t, rec.Header().Get(HeaderRequestID), 36)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(HeaderRequestID, "abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get(HeaderRequestID))
}

func TestLoggingExposesRequestIDAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	var seen string
	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set(HeaderRequestID, "req-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "req-1", seen)
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "ERROR", line["level"])
	assert.EqualValues(t, 500, line["status"])
	assert.EqualValues(t, len("boom\n"), line["bytes"])
	assert.Empty(t, RequestIDFrom(context.Background()))
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example"})(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/properties/1", nil)
	req.Header.Set("Origin", "https://APP.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://APP.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PATCH")
	assert.Equal(t, HeaderRequestID, rec.Header().Get("Access-Control-Expose-Headers"))

	req = httptest.NewRequest(http.MethodGet, "/api/properties", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))

	rec = httptest.NewRecorder()
	CORS(nil)(okHandler()).ServeHTTP(rec, req)
	assert.Equal(t, "https://evil.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

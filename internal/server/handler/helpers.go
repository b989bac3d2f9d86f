package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/estatemarket/internal/domain"
	"github.com/alanyoungcy/estatemarket/internal/server/middleware"
)

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 1 << 20

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorBody is the JSON shape of a failed market operation.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Op    string `json:"op,omitempty"`
	Field string `json:"field,omitempty"`

	// RequestID lets a caller quote an internal failure back to operators.
	RequestID string `json:"request_id,omitempty"`
}

// statusOf maps an error's kind to an HTTP status.
func statusOf(err error) int {
	if errors.Is(err, domain.ErrBadSignature) {
		return http.StatusUnauthorized
	}
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindState:
		return http.StatusConflict
	case domain.KindResource:
		return http.StatusUnprocessableEntity
	case domain.KindExternal:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError reports err with the status its kind maps to. Internal
// failures are logged and their detail withheld from the client.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := statusOf(err)
	body := errorBody{Error: err.Error(), Kind: string(domain.KindOf(err))}
	var de *domain.Error
	if errors.As(err, &de) {
		body.Op = de.Op
		body.Field = de.Field
	}
	if status == http.StatusInternalServerError {
		reqID := middleware.RequestIDFrom(r.Context())
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("request_id", reqID),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		body = errorBody{
			Error:     "internal server error",
			Kind:      string(domain.KindInfrastructure),
			RequestID: reqID,
		}
	}
	writeJSON(w, status, body)
}

// badRequest reports a malformed request as a validation error.
func badRequest(w http.ResponseWriter, format string, args ...any) {
	writeJSON(w, http.StatusBadRequest, errorBody{
		Error: fmt.Sprintf(format, args...),
		Kind:  string(domain.KindValidation),
	})
}

// decodeJSON reads the request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// requireActor returns the acting address or writes a 401.
func requireActor(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	a, ok := middleware.ActorFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{
			Error: "missing " + middleware.HeaderActorAddress,
			Kind:  string(domain.KindAuthorization),
		})
		return common.Address{}, false
	}
	return a, true
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathID parses a numeric path parameter.
func pathID(r *http.Request, name string) (uint64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return id, nil
}

// pathAddress parses a hex address path parameter.
func pathAddress(r *http.Request, name string) (common.Address, error) {
	return parseAddress(name, r.PathValue(name))
}

func parseAddress(field, raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid %s %q", field, raw)
	}
	return common.HexToAddress(raw), nil
}

// optionalAddress parses raw, treating the empty string as the zero address.
func optionalAddress(field, raw string) (common.Address, error) {
	if raw == "" {
		return common.Address{}, nil
	}
	return parseAddress(field, raw)
}

// parseAmount parses a non-negative base-10 integer amount in smallest units.
func parseAmount(field, raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s %q", field, raw)
	}
	return v, nil
}

// parseCurrency defaults to the stable token when raw is empty.
func parseCurrency(raw string, stable common.Address) (domain.Currency, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(domain.CurrencyStable):
		return domain.Stable(stable), nil
	}
	return domain.ParseCurrency(raw)
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}

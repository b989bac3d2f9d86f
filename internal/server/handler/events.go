package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/estatemarket/internal/domain"
	"github.com/alanyoungcy/estatemarket/internal/service"
)

// EventsHandler serves the committed event feed and the audit log.
type EventsHandler struct {
	svc    *service.MarketService
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler. audit may be nil.
func NewEventsHandler(svc *service.MarketService, audit domain.AuditStore, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{svc: svc, audit: audit, logger: logHandler(logger, "events")}
}

// ListEvents returns committed events after the since sequence.
// GET /api/events?since=&limit=
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	var since uint64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			badRequest(w, "invalid since %q", v)
			return
		}
		since = n
	}
	opts := parseListOpts(r)
	events := h.svc.EventsSince(since, opts.Limit)
	next := since
	if len(events) > 0 {
		next = events[len(events)-1].Seq
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
		"next":   next,
	})
}

// ListAudit returns audit log entries, newest first. ?event= narrows the
// result to one entry name, e.g. payout_requested.
// GET /api/audit
func (h *EventsHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotFound, "audit log not configured")
		return
	}
	entries, err := h.audit.List(r.Context(), r.URL.Query().Get("event"), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/estatemarket/internal/service"
)

// StatusHandler serves the process mode and engine position.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	svc       *service.MarketService
}

// NewStatusHandler creates a StatusHandler for the given run mode.
func NewStatusHandler(mode string, startedAt time.Time, svc *service.MarketService) *StatusHandler {
	return &StatusHandler{mode: mode, startedAt: startedAt, svc: svc}
}

// GetStatus responds with the run mode, uptime, last event sequence and chain
// time.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	eng := h.svc.Engine()
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"seq":            eng.Seq(),
		"properties":     len(eng.Properties()),
		"now":            eng.Now().Format(time.RFC3339),
	})
}

package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gavelmarket/gavel/internal/service"
)

// StatusHandler serves a runtime snapshot for dashboards and monitoring.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	listings  *service.ListingService
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, startedAt time.Time, listings *service.ListingService, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{mode: mode, startedAt: startedAt, listings: listings, logger: logger}
}

// GetStatus responds with the current mode, uptime, and active listing count.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	count, err := h.listings.Count(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mode":            h.mode,
		"uptime_seconds":  int64(time.Since(h.startedAt).Seconds()),
		"active_listings": count,
	})
}

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"polar-fitness-sync/internal/database"
	"polar-fitness-sync/internal/polar"
)

const healthProbePath = "health/probe"

// VendorStatus reports the vendor client's resilience state
type VendorStatus interface {
	BreakerState() string
	RateLimits() polar.RateLimitStatus
}

// QueueStatus reports pending background jobs
type QueueStatus interface {
	Len() int
}

// HealthHandler reports store reachability and vendor client state
type HealthHandler struct {
	store   database.Store
	vendor  VendorStatus
	queue   QueueStatus
	timeout time.Duration
	logger  *slog.Logger
}

// NewHealthHandler creates a health handler. vendor and queue may be nil.
func NewHealthHandler(store database.Store, vendor VendorStatus, queue QueueStatus) *HealthHandler {
	return &HealthHandler{
		store:   store,
		vendor:  vendor,
		queue:   queue,
		timeout: 2 * time.Second,
		logger:  slog.Default(),
	}
}

// HandleHealth returns 200 when the store answers, 503 otherwise
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := http.StatusOK
	body := map[string]any{"status": "ok"}

	if _, err := h.store.Get(ctx, healthProbePath); err != nil && !errors.Is(err, database.ErrNotFound) {
		h.logger.Error("Health check failed", "error", err)
		status = http.StatusServiceUnavailable
		body["status"] = "unavailable"
		body["store"] = err.Error()
	}

	if h.vendor != nil {
		limits := h.vendor.RateLimits()
		body["polar"] = map[string]any{
			"breaker":           h.vendor.BreakerState(),
			"usageShortTermPct": limits.UsageShortTermPct,
			"usageLongTermPct":  limits.UsageLongTermPct,
		}
	}
	if h.queue != nil {
		body["queueDepth"] = h.queue.Len()
	}

	respondWithJSON(w, status, body)
}

package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"polar-fitness-sync/internal/database"
	"polar-fitness-sync/internal/metrics"
	"polar-fitness-sync/internal/polar"
	"polar-fitness-sync/internal/worker"
)

// WebhookEnqueuer schedules the sync announced by a webhook
type WebhookEnqueuer interface {
	EnqueueWebhook(userID string, event polar.WebhookEvent) error
}

// WebhookHandler receives AccessLink webhook deliveries
type WebhookHandler struct {
	repo     *database.Repository
	enqueuer WebhookEnqueuer
	secret   string
	logger   *slog.Logger
}

// NewWebhookHandler creates a new webhook handler. An empty secret disables
// signature verification.
func NewWebhookHandler(repo *database.Repository, enqueuer WebhookEnqueuer, secret string) *WebhookHandler {
	return &WebhookHandler{
		repo:     repo,
		enqueuer: enqueuer,
		secret:   secret,
		logger:   slog.Default(),
	}
}

// HandleEvent verifies and enqueues one webhook event
func (h *WebhookHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	// Read the entire request body
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Error("Failed to read webhook body", "error", err)
		respondWithError(w, http.StatusBadRequest, "Bad request")
		return
	}

	if h.secret != "" && !polar.VerifyWebhookSignature(body, r.Header.Get(polar.SignatureHeader), h.secret) {
		h.logger.Warn("Webhook signature mismatch", "remote_addr", r.RemoteAddr)
		metrics.WebhookEventsReceivedTotal.WithLabelValues("unknown", metrics.ResultFailure).Inc()
		respondWithError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	var event polar.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil || event.Event == "" {
		h.logger.Warn("Invalid webhook payload", "error", err)
		metrics.WebhookEventsReceivedTotal.WithLabelValues("unknown", metrics.ResultFailure).Inc()
		respondWithError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if event.Event == polar.EventPing {
		h.logger.Info("Webhook ping received")
		metrics.WebhookEventsReceivedTotal.WithLabelValues(event.Event, metrics.ResultSuccess).Inc()
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	account, err := h.repo.FindUserByVendorID(r.Context(), event.UserID)
	if err != nil {
		h.logger.Error("Failed to resolve webhook user", "polar_user_id", event.UserID, "error", err)
		metrics.WebhookEventsReceivedTotal.WithLabelValues(event.Event, metrics.ResultFailure).Inc()
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if account == nil {
		h.logger.Info("Webhook for unknown user, ignoring", "event", event.Event, "polar_user_id", event.UserID)
		metrics.WebhookEventsReceivedTotal.WithLabelValues(event.Event, metrics.ResultIgnored).Inc()
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if err := h.enqueuer.EnqueueWebhook(account.UserID, event); err != nil {
		h.logger.Error("Failed to enqueue webhook", "user_id", account.UserID, "event", event.Event, "error", err)
		metrics.WebhookEventsReceivedTotal.WithLabelValues(event.Event, metrics.ResultDropped).Inc()
		if errors.Is(err, worker.ErrQueueFull) {
			respondWithError(w, http.StatusServiceUnavailable, "Queue full")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.logger.Info("Webhook enqueued",
		"event", event.Event,
		"user_id", account.UserID,
		"date", event.DataDate())
	metrics.WebhookEventsReceivedTotal.WithLabelValues(event.Event, metrics.ResultSuccess).Inc()

	respondWithJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

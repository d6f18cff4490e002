package handlers

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"polar-fitness-sync/internal/syncer"
)

// BatchSyncer syncs every linked account for a date
type BatchSyncer interface {
	SyncAll(ctx context.Context, date string) (*syncer.BatchResult, error)
}

// CronHandler runs the scheduled daily sync
type CronHandler struct {
	syncer BatchSyncer
	secret string
	logger *slog.Logger
	now    func() time.Time
}

// NewCronHandler creates a cron handler guarded by secret
func NewCronHandler(s BatchSyncer, secret string) *CronHandler {
	return &CronHandler{
		syncer: s,
		secret: secret,
		logger: slog.Default(),
		now:    time.Now,
	}
}

// HandleSync syncs all linked accounts for ?date= (default yesterday UTC).
// Per-user failures are reported in the body with status 200.
func (h *CronHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		h.logger.Warn("Unauthorized cron request", "remote_addr", r.RemoteAddr)
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	date := r.URL.Query().Get("date")
	if date == "" {
		date = syncer.Yesterday(h.now())
	} else if !syncer.ValidDate(date) {
		respondWithError(w, http.StatusBadRequest, "Invalid date, expected YYYY-MM-DD")
		return
	}

	h.logger.Info("Starting cron sync", "date", date)

	result, err := h.syncer.SyncAll(r.Context(), date)
	if err != nil {
		h.logger.Error("Cron sync failed", "date", date, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Sync failed")
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

func (h *CronHandler) authorized(r *http.Request) bool {
	token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found || h.secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) == 1
}

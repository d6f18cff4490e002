package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"polar-fitness-sync/internal/database"
	"polar-fitness-sync/internal/gamification"
	"polar-fitness-sync/internal/polar"
	"polar-fitness-sync/internal/session"
	"polar-fitness-sync/internal/syncer"
)

// UserSyncer runs on-demand syncs for one user
type UserSyncer interface {
	SyncUser(ctx context.Context, userID, date string, categories ...polar.Category) (*syncer.Summary, error)
	ReconcileUser(ctx context.Context, userID string) (*syncer.ReconcileResult, error)
}

// Evaluator recomputes and reads a user's achievements
type Evaluator interface {
	Evaluate(ctx context.Context, userID string) (*gamification.Summary, error)
	Current(ctx context.Context, userID string) (*gamification.Summary, error)
}

// APIHandler serves the session-authenticated JSON API
type APIHandler struct {
	syncer    UserSyncer
	evaluator Evaluator
	repo      *database.Repository
	logger    *slog.Logger
	now       func() time.Time
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(s UserSyncer, evaluator Evaluator, repo *database.Repository) *APIHandler {
	return &APIHandler{
		syncer:    s,
		evaluator: evaluator,
		repo:      repo,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

type syncRequest struct {
	Date       string   `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Categories []string `json:"categories" validate:"omitempty,dive,required"`
}

// HandleSync syncs the caller's account for a date (default yesterday UTC)
// and re-evaluates achievements
func (h *APIHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())

	var req syncRequest
	if r.ContentLength != 0 {
		if err := decodeAndValidate(w, r, &req); err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.Date == "" {
		req.Date = syncer.Yesterday(h.now())
	}

	var categories []polar.Category
	for _, name := range req.Categories {
		c, ok := polar.ParseCategory(name)
		if !ok {
			respondWithError(w, http.StatusBadRequest, "Unknown category: "+name)
			return
		}
		categories = append(categories, c)
	}

	summary, err := h.syncer.SyncUser(r.Context(), s.UserID, req.Date, categories...)
	if errors.Is(err, syncer.ErrMissingCredentials) {
		respondWithError(w, http.StatusBadRequest, "Polar account not linked")
		return
	}
	if err != nil {
		h.logger.Error("On-demand sync failed", "user_id", s.UserID, "date", req.Date, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Sync failed")
		return
	}

	if _, err := h.evaluator.Evaluate(r.Context(), s.UserID); err != nil {
		h.logger.Error("Failed to evaluate achievements", "user_id", s.UserID, "error", err)
	}

	respondWithJSON(w, http.StatusOK, summary)
}

// HandlePhysicalInfo runs the physical-info transaction for the caller
func (h *APIHandler) HandlePhysicalInfo(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())

	result, err := h.syncer.ReconcileUser(r.Context(), s.UserID)
	if errors.Is(err, syncer.ErrMissingCredentials) {
		respondWithError(w, http.StatusBadRequest, "Polar account not linked")
		return
	}
	if err != nil {
		h.logger.Error("Physical info reconcile failed", "user_id", s.UserID, "error", err)
		respondWithError(w, vendorErrorStatus(err), err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

// HandleAchievements returns the caller's stored achievements.
// Evaluation happens on sync.
func (h *APIHandler) HandleAchievements(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())

	summary, err := h.evaluator.Current(r.Context(), s.UserID)
	if err != nil {
		h.logger.Error("Failed to load achievements", "user_id", s.UserID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to load achievements")
		return
	}

	respondWithJSON(w, http.StatusOK, summary)
}

type rewardsResponse struct {
	XP           int                         `json:"xp"`
	Level        int                         `json:"level"`
	Progress     float64                     `json:"progress"`
	NextReward   *gamification.Reward        `json:"nextReward"`
	Unlocked     []gamification.Reward       `json:"unlocked"`
	Creature     gamification.CreatureStage  `json:"creature"`
	NextCreature *gamification.CreatureStage `json:"nextCreature"`
}

// HandleRewards returns the caller's reward ladder position and creature
func (h *APIHandler) HandleRewards(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())

	profile, err := h.repo.GetProfile(r.Context(), s.UserID)
	if err != nil {
		h.logger.Error("Failed to load profile", "user_id", s.UserID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to load rewards")
		return
	}

	xp := int(profile[gamification.MetricXP])
	ladder := gamification.DefaultRewardLadder
	respondWithJSON(w, http.StatusOK, rewardsResponse{
		XP:           xp,
		Level:        gamification.Level(xp, ladder),
		Progress:     gamification.ProgressFraction(xp, gamification.MaxXP),
		NextReward:   gamification.NextReward(xp, ladder),
		Unlocked:     gamification.UnlockedRewards(xp, ladder),
		Creature:     gamification.CreatureFor(xp),
		NextCreature: gamification.NextCreature(xp),
	})
}

// HandleSleepGoal compares the night's sleep on {date} with the sleep goal
func (h *APIHandler) HandleSleepGoal(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())

	date := chi.URLParam(r, "date")
	if !syncer.ValidDate(date) {
		respondWithError(w, http.StatusBadRequest, "Invalid date, expected YYYY-MM-DD")
		return
	}

	record, err := h.repo.GetSyncedRecord(r.Context(), s.UserID, string(polar.CategorySleep), date)
	if errors.Is(err, database.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, "No sleep data for "+date)
		return
	}
	if err != nil {
		h.logger.Error("Failed to load sleep record", "user_id", s.UserID, "date", date, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to load sleep data")
		return
	}

	actual, goal, ok := gamification.SleepDuration(record)
	if !ok {
		respondWithError(w, http.StatusNotFound, "Sleep record has no duration or goal")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"date":          date,
		"actualSeconds": actual,
		"goalSeconds":   goal,
		"message":       gamification.FormatSleepGoalDiff(actual, goal),
	})
}

// HandleBaseline averages nightly-recharge metrics over the most recent
// ?days= records (all when absent)
func (h *APIHandler) HandleBaseline(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())

	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondWithError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = n
	}

	snaps, err := h.repo.ListSyncedRecords(r.Context(), s.UserID, string(polar.CategoryNightlyRecharge))
	if err != nil {
		h.logger.Error("Failed to list nightly recharge", "user_id", s.UserID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to load baseline")
		return
	}

	// Records are keyed by date, so the tail is the most recent
	if days > 0 && len(snaps) > days {
		snaps = snaps[len(snaps)-days:]
	}
	records := make([]map[string]any, 0, len(snaps))
	for _, snap := range snaps {
		records = append(records, snap.Data)
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"records":  len(records),
		"baseline": gamification.ComputeBaseline(records, gamification.DefaultBaselineFields),
	})
}

// HandleRecords lists the caller's stored records of {category}
func (h *APIHandler) HandleRecords(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())
	h.writeRecords(w, r, s.UserID)
}

type studentsRequest struct {
	UserIDs []string `json:"userIds" validate:"required,dive,required"`
}

type studentSummary struct {
	UserID   string     `json:"userId"`
	Linked   bool       `json:"linked"`
	LastSync *time.Time `json:"lastSync"`
	XP       int        `json:"xp"`
	Level    int        `json:"level"`
}

// HandleGetStudents returns the instructor's selected students with their
// link state and XP
func (h *APIHandler) HandleGetStudents(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())

	userIDs, err := h.repo.GetSelectedUsers(r.Context(), s.UserID)
	if err != nil {
		h.logger.Error("Failed to load selected users", "instructor_id", s.UserID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to load students")
		return
	}

	students := make([]studentSummary, 0, len(userIDs))
	for _, id := range userIDs {
		summary := studentSummary{UserID: id, Level: 1}

		account, err := h.repo.GetLinkedAccount(r.Context(), id)
		if err != nil {
			h.logger.Error("Failed to load student", "instructor_id", s.UserID, "user_id", id, "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to load students")
			return
		}
		if account != nil {
			summary.Linked = account.Linked
			summary.LastSync = account.LastSync
		}

		profile, err := h.repo.GetProfile(r.Context(), id)
		if err != nil {
			h.logger.Error("Failed to load student profile", "instructor_id", s.UserID, "user_id", id, "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to load students")
			return
		}
		summary.XP = int(profile[gamification.MetricXP])
		summary.Level = gamification.Level(summary.XP, gamification.DefaultRewardLadder)

		students = append(students, summary)
	}

	respondWithJSON(w, http.StatusOK, map[string]any{"students": students})
}

// HandlePutStudents replaces the instructor's selected students
func (h *APIHandler) HandlePutStudents(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())

	var req studentsRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Keep first occurrence order
	userIDs := make([]string, 0, len(req.UserIDs))
	for _, id := range req.UserIDs {
		if !slices.Contains(userIDs, id) {
			userIDs = append(userIDs, id)
		}
	}

	if err := h.repo.SetSelectedUsers(r.Context(), s.UserID, userIDs); err != nil {
		h.logger.Error("Failed to save selected users", "instructor_id", s.UserID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to save students")
		return
	}

	h.logger.Info("Updated selected students", "instructor_id", s.UserID, "count", len(userIDs))
	respondWithJSON(w, http.StatusOK, map[string]any{"userIds": userIDs})
}

// HandleStudentRecords lists {category} records of a student the instructor
// has selected
func (h *APIHandler) HandleStudentRecords(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())
	studentID := chi.URLParam(r, "userId")

	selected, err := h.repo.GetSelectedUsers(r.Context(), s.UserID)
	if err != nil {
		h.logger.Error("Failed to load selected users", "instructor_id", s.UserID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to load students")
		return
	}
	if !slices.Contains(selected, studentID) {
		respondWithError(w, http.StatusForbidden, "Student not selected")
		return
	}

	h.writeRecords(w, r, studentID)
}

type recordResponse struct {
	ID   string            `json:"id"`
	Data database.Document `json:"data"`
}

func (h *APIHandler) writeRecords(w http.ResponseWriter, r *http.Request, userID string) {
	category, ok := polar.ParseCategory(chi.URLParam(r, "category"))
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Unknown category")
		return
	}

	snaps, err := h.repo.ListSyncedRecords(r.Context(), userID, string(category))
	if err != nil {
		h.logger.Error("Failed to list records", "user_id", userID, "category", category, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to load records")
		return
	}

	records := make([]recordResponse, 0, len(snaps))
	for _, snap := range snaps {
		records = append(records, recordResponse{ID: snap.ID, Data: snap.Data})
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"category": category,
		"records":  records,
	})
}

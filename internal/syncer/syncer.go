package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"polar-fitness-sync/internal/config"
	"polar-fitness-sync/internal/database"
	"polar-fitness-sync/internal/events"
	"polar-fitness-sync/internal/metrics"
	"polar-fitness-sync/internal/polar"
)

// DateLayout is the date format used for sync dates and record ids
const DateLayout = "2006-01-02"

// ErrMissingCredentials is returned when a user has no access token or Polar user id
var ErrMissingCredentials = errors.New("missing polar credentials")

// Vendor is the subset of the Polar client used for syncing
type Vendor interface {
	FetchDaily(ctx context.Context, token string, category polar.Category, date string) (*polar.DailyData, error)
	GetExercise(ctx context.Context, token, id string) (map[string]any, error)
	CreatePhysicalInfoTransaction(ctx context.Context, token string, vendorUserID int64) (*polar.Transaction, error)
	ListPhysicalInfo(ctx context.Context, token string, tx *polar.Transaction) ([]string, error)
	GetPhysicalInfo(ctx context.Context, token, uri string) (map[string]any, error)
	CommitPhysicalInfoTransaction(ctx context.Context, token string, vendorUserID, transactionID int64) error
}

// Outcome is the result of syncing one category
type Outcome string

const (
	OutcomeFound   Outcome = metrics.OutcomeFound
	OutcomeMissing Outcome = metrics.OutcomeMissing
	OutcomeError   Outcome = metrics.OutcomeError
)

// CategoryError records why one category failed
type CategoryError struct {
	Category polar.Category `json:"category"`
	Status   int            `json:"status,omitempty"`
	Error    string         `json:"error"`
}

// Summary reports one user's sync for one date
type Summary struct {
	UserID      string                     `json:"userId"`
	Date        string                     `json:"date"`
	PerCategory map[polar.Category]Outcome `json:"perCategory"`
	Errors      []CategoryError            `json:"errors"`
	Total       int                        `json:"total"`
	Successful  int                        `json:"successful"`
	Failed      int                        `json:"failed"`
}

func (s *Summary) record(category polar.Category, outcome Outcome, err error) {
	s.PerCategory[category] = outcome
	s.Total++
	metrics.CategorySyncTotal.WithLabelValues(string(category), string(outcome)).Inc()

	if outcome != OutcomeError {
		s.Successful++
		return
	}
	s.Failed++
	s.Errors = append(s.Errors, CategoryError{
		Category: category,
		Status:   polar.StatusCode(err),
		Error:    err.Error(),
	})
}

// Syncer copies Polar data into the document store
type Syncer struct {
	vendor     Vendor
	repo       *database.Repository
	allowList  config.AllowList
	categories []polar.Category
	reconciler *Reconciler
	publisher  events.Publisher
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a syncer walking categories in order
func New(vendor Vendor, repo *database.Repository, allowList config.AllowList, categories []polar.Category, publisher events.Publisher) *Syncer {
	if publisher == nil {
		publisher = events.Discard
	}
	if len(categories) == 0 {
		categories = polar.AllCategories
	}
	return &Syncer{
		vendor:     vendor,
		repo:       repo,
		allowList:  allowList,
		categories: categories,
		reconciler: NewReconciler(vendor),
		publisher:  publisher,
		logger:     slog.Default(),
		now:        time.Now,
	}
}

// Yesterday returns the previous UTC day, the default cron sync date
func Yesterday(now time.Time) string {
	return now.UTC().AddDate(0, 0, -1).Format(DateLayout)
}

// ValidDate reports whether date is a YYYY-MM-DD calendar date
func ValidDate(date string) bool {
	_, err := time.Parse(DateLayout, date)
	return err == nil
}

// SyncAccount syncs categories (default: every configured category) of one
// account for date. Individual category failures are recorded in the
// summary, never returned.
func (s *Syncer) SyncAccount(ctx context.Context, account *database.LinkedAccount, date string, categories ...polar.Category) (*Summary, error) {
	if !account.HasCredentials() {
		return nil, ErrMissingCredentials
	}
	if len(categories) == 0 {
		categories = s.categories
	}

	summary := &Summary{
		UserID:      account.UserID,
		Date:        date,
		PerCategory: make(map[polar.Category]Outcome, len(categories)),
		Errors:      []CategoryError{},
	}

	for _, category := range categories {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var (
			outcome Outcome
			err     error
		)
		if category == polar.CategoryPhysicalInfo {
			outcome, err = s.syncPhysicalInfo(ctx, account)
		} else {
			outcome, err = s.syncCategory(ctx, account, category, date)
		}
		summary.record(category, outcome, err)

		if err != nil {
			s.logger.Warn("Category sync failed",
				"user_id", account.UserID,
				"category", category,
				"date", date,
				"status", polar.StatusCode(err),
				"error", err)
		}
	}

	return summary, nil
}

func (s *Syncer) syncCategory(ctx context.Context, account *database.LinkedAccount, category polar.Category, date string) (Outcome, error) {
	data, err := s.vendor.FetchDaily(ctx, account.AccessToken, category, date)
	if errors.Is(err, polar.ErrNotFound) {
		return OutcomeMissing, nil
	}
	if err != nil {
		return OutcomeError, err
	}

	var doc database.Document
	if data.Object != nil {
		doc = s.allowList.Filter(category, data.Object)
	} else {
		items := make([]any, 0, len(data.Items))
		for _, item := range data.Items {
			items = append(items, s.allowList.Filter(category, item))
		}
		doc = database.Document{"items": items}
	}

	if err := s.repo.SaveSyncedRecord(ctx, account.UserID, string(category), date, doc, s.now()); err != nil {
		return OutcomeError, err
	}
	return OutcomeFound, nil
}

func (s *Syncer) syncPhysicalInfo(ctx context.Context, account *database.LinkedAccount) (Outcome, error) {
	result, err := s.ReconcilePhysicalInfo(ctx, account)
	if err != nil {
		return OutcomeError, err
	}
	if result.NoNewData || len(result.Data) == 0 {
		return OutcomeMissing, nil
	}
	return OutcomeFound, nil
}

// ReconcilePhysicalInfo runs the physical-info transaction for account,
// storing each filtered entry under a generated id before commit.
func (s *Syncer) ReconcilePhysicalInfo(ctx context.Context, account *database.LinkedAccount) (*ReconcileResult, error) {
	if !account.HasCredentials() {
		return nil, ErrMissingCredentials
	}

	persist := func(ctx context.Context, entries []map[string]any) error {
		syncedAt := s.now()
		for _, entry := range entries {
			doc := s.allowList.Filter(polar.CategoryPhysicalInfo, entry)
			if _, err := s.repo.AddPhysicalInfo(ctx, account.UserID, doc, syncedAt); err != nil {
				return err
			}
		}
		return nil
	}

	return s.reconciler.Reconcile(ctx, account.AccessToken, account.VendorUserID, persist)
}

// ReconcileUser runs the physical-info transaction for userID
func (s *Syncer) ReconcileUser(ctx context.Context, userID string) (*ReconcileResult, error) {
	account, err := s.repo.GetLinkedAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.ReconcilePhysicalInfo(ctx, account)
}

// ExerciseDate returns the local date an exercise started on. Exercises are
// often uploaded days after they happen, so the webhook timestamp is not the
// exercise date.
func (s *Syncer) ExerciseDate(ctx context.Context, userID, exerciseID string) (string, error) {
	account, err := s.repo.GetLinkedAccount(ctx, userID)
	if err != nil {
		return "", err
	}
	if !account.HasCredentials() {
		return "", ErrMissingCredentials
	}

	exercise, err := s.vendor.GetExercise(ctx, account.AccessToken, exerciseID)
	if err != nil {
		return "", err
	}
	start, _ := exercise["start_time"].(string)
	if len(start) < len(DateLayout) || !ValidDate(start[:len(DateLayout)]) {
		return "", fmt.Errorf("exercise %s has no usable start_time %q", exerciseID, start)
	}
	return start[:len(DateLayout)], nil
}

// SyncUser resolves userID's linked account and syncs it for date
func (s *Syncer) SyncUser(ctx context.Context, userID, date string, categories ...polar.Category) (*Summary, error) {
	account, err := s.repo.GetLinkedAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrMissingCredentials
	}
	return s.syncLinked(ctx, account, date, categories...)
}

func (s *Syncer) syncLinked(ctx context.Context, account *database.LinkedAccount, date string, categories ...polar.Category) (*Summary, error) {
	start := time.Now()
	summary, err := s.SyncAccount(ctx, account, date, categories...)
	if err != nil {
		return nil, err
	}
	metrics.SyncUserDuration.Observe(time.Since(start).Seconds())

	if err := s.repo.TouchLastSync(ctx, account.UserID, s.now()); err != nil {
		s.logger.Error("Failed to record last sync", "user_id", account.UserID, "error", err)
	}

	s.publisher.Publish(events.Event{
		Type:   events.TypeSyncCompleted,
		UserID: account.UserID,
		Data: map[string]any{
			"date":       date,
			"successful": summary.Successful,
			"failed":     summary.Failed,
		},
	})

	s.logger.Info("User synced",
		"user_id", account.UserID,
		"date", date,
		"successful", summary.Successful,
		"failed", summary.Failed,
		"duration_ms", time.Since(start).Milliseconds())

	return summary, nil
}

// UserError records a user whose sync did not fully succeed
type UserError struct {
	UserID     string          `json:"userId"`
	Error      string          `json:"error"`
	Categories []CategoryError `json:"categories,omitempty"`
}

// BatchResult is the response body of a cron sync
type BatchResult struct {
	Date       string      `json:"date"`
	Total      int         `json:"total"`
	Successful int         `json:"successful"`
	Failed     int         `json:"failed"`
	Synced     []string    `json:"synced"`
	Errors     []UserError `json:"errors"`
}

// SyncAll syncs every linked account for date. A user counts as failed when
// its credentials are missing or any of its categories failed; neither stops
// the batch.
func (s *Syncer) SyncAll(ctx context.Context, date string) (*BatchResult, error) {
	accounts, err := s.repo.ListLinkedAccounts(ctx)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{
		Date:   date,
		Synced: []string{},
		Errors: []UserError{},
	}

	for _, account := range accounts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.Total++

		summary, err := s.syncLinked(ctx, account, date)
		switch {
		case err != nil:
			result.Failed++
			result.Errors = append(result.Errors, UserError{UserID: account.UserID, Error: err.Error()})
		case summary.Failed > 0:
			result.Failed++
			result.Errors = append(result.Errors, UserError{
				UserID:     account.UserID,
				Error:      fmt.Sprintf("%d of %d categories failed", summary.Failed, summary.Total),
				Categories: summary.Errors,
			})
		default:
			result.Successful++
			result.Synced = append(result.Synced, account.UserID)
		}
	}

	metrics.CronSyncUsers.WithLabelValues(metrics.ResultSuccess).Observe(float64(result.Successful))
	metrics.CronSyncUsers.WithLabelValues(metrics.ResultFailure).Observe(float64(result.Failed))

	s.logger.Info("Batch sync completed",
		"date", date,
		"total", result.Total,
		"successful", result.Successful,
		"failed", result.Failed)

	return result, nil
}

package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"polar-fitness-sync/internal/database"
	"polar-fitness-sync/internal/gamification"
	"polar-fitness-sync/internal/oauth"
	"polar-fitness-sync/internal/polar"
	"polar-fitness-sync/internal/session"
	"polar-fitness-sync/internal/syncer"
)

var testSession = session.Config{Secret: "test_session_secret", Issuer: "polar-fitness-sync"}

func setupRepo(t *testing.T) (*database.Repository, *database.DB) {
	t.Helper()

	db, err := database.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Init(); err != nil {
		t.Fatalf("Failed to initialize schema: %v", err)
	}
	return database.NewRepository(db), db
}

func linkAccount(t *testing.T, repo *database.Repository, userID string, vendorUserID int64) {
	t.Helper()
	err := repo.SaveLinkedAccount(context.Background(), &database.LinkedAccount{
		UserID:       userID,
		VendorUserID: vendorUserID,
		AccessToken:  "token-" + userID,
		ConsentGiven: true,
		Linked:       true,
	})
	if err != nil {
		t.Fatalf("Failed to save linked account: %v", err)
	}
}

// withSession attaches a session for userID directly, bypassing token parsing
func withSession(r *http.Request, userID, role string) *http.Request {
	return r.WithContext(session.WithSession(r.Context(), &session.Session{UserID: userID, Role: role}))
}

// withURLParams attaches chi route parameters to r
func withURLParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Failed to marshal body: %v", err)
	}
	return bytes.NewReader(b)
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	return out
}

type fakeLinker struct {
	linkErr       error
	disconnectErr error
	linked        []string
	disconnected  []string
}

func (f *fakeLinker) GenerateAuthURL(userID string) (string, string, error) {
	return "https://flow.polar.com/oauth2/authorization?state=state-" + userID, "state-" + userID, nil
}

func (f *fakeLinker) Link(ctx context.Context, userID, code, state string) (*oauth.LinkResult, error) {
	if f.linkErr != nil {
		return nil, f.linkErr
	}
	f.linked = append(f.linked, userID+":"+code+":"+state)
	return &oauth.LinkResult{VendorUserID: 4242, AlreadyRegistered: true}, nil
}

func (f *fakeLinker) Disconnect(ctx context.Context, userID string) error {
	if f.disconnectErr != nil {
		return f.disconnectErr
	}
	f.disconnected = append(f.disconnected, userID)
	return nil
}

type fakeBatchSyncer struct {
	dates []string
	err   error
}

func (f *fakeBatchSyncer) SyncAll(ctx context.Context, date string) (*syncer.BatchResult, error) {
	f.dates = append(f.dates, date)
	if f.err != nil {
		return nil, f.err
	}
	return &syncer.BatchResult{
		Date:       date,
		Total:      2,
		Successful: 1,
		Failed:     1,
		Synced:     []string{"u1"},
		Errors:     []syncer.UserError{{UserID: "u2", Error: syncer.ErrMissingCredentials.Error()}},
	}, nil
}

type fakeEnqueuer struct {
	mu     sync.Mutex
	err    error
	events []polar.WebhookEvent
	users  []string
}

func (f *fakeEnqueuer) EnqueueWebhook(userID string, event polar.WebhookEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.users = append(f.users, userID)
	f.events = append(f.events, event)
	return nil
}

type fakeUserSyncer struct {
	syncErr      error
	reconcileErr error
	syncs        []string
	categories   []polar.Category
}

func (f *fakeUserSyncer) SyncUser(ctx context.Context, userID, date string, categories ...polar.Category) (*syncer.Summary, error) {
	if f.syncErr != nil {
		return nil, f.syncErr
	}
	f.syncs = append(f.syncs, userID+"@"+date)
	f.categories = categories
	return &syncer.Summary{
		UserID:      userID,
		Date:        date,
		PerCategory: map[polar.Category]syncer.Outcome{polar.CategorySleep: syncer.OutcomeFound},
		Errors:      []syncer.CategoryError{},
		Total:       1,
		Successful:  1,
	}, nil
}

func (f *fakeUserSyncer) ReconcileUser(ctx context.Context, userID string) (*syncer.ReconcileResult, error) {
	if f.reconcileErr != nil {
		return nil, f.reconcileErr
	}
	return &syncer.ReconcileResult{Data: []map[string]any{}, NoNewData: true}, nil
}

type fakeEvaluator struct {
	users []string
	reads []string
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, userID string) (*gamification.Summary, error) {
	f.users = append(f.users, userID)
	return &gamification.Summary{XP: 10, Level: 1, Achievements: map[string]gamification.Progress{}, Unlocked: []string{}}, nil
}

func (f *fakeEvaluator) Current(ctx context.Context, userID string) (*gamification.Summary, error) {
	f.reads = append(f.reads, userID)
	return &gamification.Summary{XP: 10, Level: 1, Achievements: map[string]gamification.Progress{}, Unlocked: []string{}}, nil
}

// fixedNow is the clock used by handlers under test
func fixedNow() time.Time {
	return time.Date(2025, 3, 10, 4, 0, 0, 0, time.UTC)
}

package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"polar-fitness-sync/internal/database"
	"polar-fitness-sync/internal/polar"
	"polar-fitness-sync/internal/session"
	"polar-fitness-sync/internal/syncer"
)

func setupAPIHandler(t *testing.T) (*APIHandler, *database.Repository, *fakeUserSyncer, *fakeEvaluator) {
	t.Helper()
	repo, _ := setupRepo(t)
	s := &fakeUserSyncer{}
	eval := &fakeEvaluator{}
	handler := NewAPIHandler(s, eval, repo)
	handler.now = fixedNow
	return handler, repo, s, eval
}

func saveRecord(t *testing.T, repo *database.Repository, userID string, category polar.Category, date string, doc database.Document) {
	t.Helper()
	if err := repo.SaveSyncedRecord(context.Background(), userID, string(category), date, doc, time.Now()); err != nil {
		t.Fatalf("Failed to save record: %v", err)
	}
}

func TestHandleSyncDefaultsToYesterday(t *testing.T) {
	handler, _, s, eval := setupAPIHandler(t)

	req := withSession(httptest.NewRequest(http.MethodPost, "/api/sync", nil), "u1", session.RoleUser)
	w := httptest.NewRecorder()
	handler.HandleSync(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(s.syncs) != 1 || s.syncs[0] != "u1@2025-03-09" {
		t.Errorf("Expected sync u1@2025-03-09, got %v", s.syncs)
	}
	if len(eval.users) != 1 || eval.users[0] != "u1" {
		t.Errorf("Expected achievements evaluated for u1, got %v", eval.users)
	}
}

func TestHandleAchievementsIsReadOnly(t *testing.T) {
	handler, _, _, eval := setupAPIHandler(t)

	req := withSession(httptest.NewRequest(http.MethodGet, "/api/achievements", nil), "u1", session.RoleUser)
	w := httptest.NewRecorder()
	handler.HandleAchievements(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(eval.reads) != 1 || eval.reads[0] != "u1" {
		t.Errorf("Expected stored achievements read for u1, got %v", eval.reads)
	}
	if len(eval.users) != 0 {
		t.Errorf("Expected no evaluation on read, got %v", eval.users)
	}
}

func TestHandleSyncWithBody(t *testing.T) {
	handler, _, s, _ := setupAPIHandler(t)

	body := jsonBody(t, map[string]any{"date": "2025-02-01", "categories": []string{"sleep"}})
	req := withSession(httptest.NewRequest(http.MethodPost, "/api/sync", body), "u1", session.RoleUser)
	w := httptest.NewRecorder()
	handler.HandleSync(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(s.syncs) != 1 || s.syncs[0] != "u1@2025-02-01" {
		t.Errorf("Expected sync u1@2025-02-01, got %v", s.syncs)
	}
	if len(s.categories) != 1 || s.categories[0] != polar.CategorySleep {
		t.Errorf("Expected sleep only, got %v", s.categories)
	}
}

func TestHandleSyncRejects(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		syncErr error
		want    int
	}{
		{"bad date", `{"date":"01/02/2025"}`, nil, http.StatusBadRequest},
		{"unknown category", `{"categories":["steps"]}`, nil, http.StatusBadRequest},
		{"not linked", `{}`, syncer.ErrMissingCredentials, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, _, s, _ := setupAPIHandler(t)
			s.syncErr = tt.syncErr

			req := withSession(httptest.NewRequest(http.MethodPost, "/api/sync", strings.NewReader(tt.body)), "u1", session.RoleUser)
			w := httptest.NewRecorder()
			handler.HandleSync(w, req)

			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestHandlePhysicalInfo(t *testing.T) {
	handler, _, s, _ := setupAPIHandler(t)

	req := withSession(httptest.NewRequest(http.MethodPost, "/api/polar/physical-info", nil), "u1", session.RoleUser)
	w := httptest.NewRecorder()
	handler.HandlePhysicalInfo(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	body := decodeResponse(t, w)
	if data, ok := body["data"].([]any); !ok || len(data) != 0 {
		t.Errorf("Expected empty data array, got %v", body["data"])
	}
	if body["noNewData"] != true {
		t.Errorf("Expected noNewData true, got %v", body["noNewData"])
	}

	s.reconcileErr = &polar.HTTPError{StatusCode: 500, Body: "boom"}
	w = httptest.NewRecorder()
	handler.HandlePhysicalInfo(w, req)
	if w.Code != http.StatusBadGateway {
		t.Errorf("Expected status 502, got %d", w.Code)
	}
}

func TestHandleRewards(t *testing.T) {
	handler, repo, _, _ := setupAPIHandler(t)
	if err := repo.MergeProfile(context.Background(), "u1", database.Document{"xp": 600}); err != nil {
		t.Fatalf("Failed to seed profile: %v", err)
	}

	req := withSession(httptest.NewRequest(http.MethodGet, "/api/rewards", nil), "u1", session.RoleUser)
	w := httptest.NewRecorder()
	handler.HandleRewards(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	body := decodeResponse(t, w)
	if body["xp"] != float64(600) {
		t.Errorf("Expected xp 600, got %v", body["xp"])
	}
	if body["level"] != float64(4) {
		t.Errorf("Expected level 4, got %v", body["level"])
	}
	if next, _ := body["nextReward"].(map[string]any); next["name"] != "Creature Accessory" {
		t.Errorf("Expected next reward Creature Accessory, got %v", body["nextReward"])
	}
	if creature, _ := body["creature"].(map[string]any); creature["name"] != "Sprout" {
		t.Errorf("Expected creature Sprout, got %v", body["creature"])
	}
	if unlocked, _ := body["unlocked"].([]any); len(unlocked) != 3 {
		t.Errorf("Expected 3 unlocked rewards, got %v", body["unlocked"])
	}
	if body["progress"] != 0.12 {
		t.Errorf("Expected progress 0.12, got %v", body["progress"])
	}
}

func TestHandleRewardsEmptyProfile(t *testing.T) {
	handler, _, _, _ := setupAPIHandler(t)

	req := withSession(httptest.NewRequest(http.MethodGet, "/api/rewards", nil), "new-user", session.RoleUser)
	w := httptest.NewRecorder()
	handler.HandleRewards(w, req)

	body := decodeResponse(t, w)
	if body["xp"] != float64(0) || body["level"] != float64(1) {
		t.Errorf("Expected xp 0 level 1, got %v", body)
	}
	if next, _ := body["nextReward"].(map[string]any); next["name"] != "Bronze Badge" {
		t.Errorf("Expected next reward Bronze Badge, got %v", body["nextReward"])
	}
}

func TestHandleSleepGoal(t *testing.T) {
	handler, repo, _, _ := setupAPIHandler(t)
	saveRecord(t, repo, "u1", polar.CategorySleep, "2025-03-09", database.Document{
		"light_sleep": 14400,
		"deep_sleep":  7200,
		"rem_sleep":   9900,
		"sleep_goal":  28800,
	})
	saveRecord(t, repo, "u1", polar.CategorySleep, "2025-03-08", database.Document{"light_sleep": 100})

	tests := []struct {
		date        string
		wantStatus  int
		wantMessage string
	}{
		{"2025-03-09", http.StatusOK, "Exceeded by 45m"},
		{"2025-03-08", http.StatusNotFound, ""},
		{"2025-03-07", http.StatusNotFound, ""},
		{"last-night", http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/sleep/"+tt.date+"/goal", nil)
			req = withURLParams(withSession(req, "u1", session.RoleUser), map[string]string{"date": tt.date})
			w := httptest.NewRecorder()

			handler.HandleSleepGoal(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if tt.wantMessage != "" {
				body := decodeResponse(t, w)
				if body["message"] != tt.wantMessage {
					t.Errorf("Expected message %q, got %v", tt.wantMessage, body["message"])
				}
			}
		})
	}
}

func TestHandleBaseline(t *testing.T) {
	handler, repo, _, _ := setupAPIHandler(t)
	saveRecord(t, repo, "u1", polar.CategoryNightlyRecharge, "2025-03-07", database.Document{"heart_rate_avg": 70})
	saveRecord(t, repo, "u1", polar.CategoryNightlyRecharge, "2025-03-08", database.Document{"heart_rate_avg": 60})
	saveRecord(t, repo, "u1", polar.CategoryNightlyRecharge, "2025-03-09", database.Document{"heart_rate_avg": 50, "heart_rate_variability_avg": 40})

	req := withSession(httptest.NewRequest(http.MethodGet, "/api/baseline", nil), "u1", session.RoleUser)
	w := httptest.NewRecorder()
	handler.HandleBaseline(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	body := decodeResponse(t, w)
	if body["records"] != float64(3) {
		t.Errorf("Expected 3 records, got %v", body["records"])
	}
	baseline, _ := body["baseline"].(map[string]any)
	hr, _ := baseline["heart_rate_avg"].(map[string]any)
	if hr["mean"] != float64(60) || hr["samples"] != float64(3) {
		t.Errorf("Expected heart rate mean 60 over 3 samples, got %v", hr)
	}

	req = withSession(httptest.NewRequest(http.MethodGet, "/api/baseline?days=2", nil), "u1", session.RoleUser)
	w = httptest.NewRecorder()
	handler.HandleBaseline(w, req)

	body = decodeResponse(t, w)
	baseline, _ = body["baseline"].(map[string]any)
	hr, _ = baseline["heart_rate_avg"].(map[string]any)
	if hr["mean"] != float64(55) {
		t.Errorf("Expected heart rate mean 55 over the last 2 nights, got %v", hr)
	}

	req = withSession(httptest.NewRequest(http.MethodGet, "/api/baseline?days=0", nil), "u1", session.RoleUser)
	w = httptest.NewRecorder()
	handler.HandleBaseline(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for days=0, got %d", w.Code)
	}
}

func TestHandleRecords(t *testing.T) {
	handler, repo, _, _ := setupAPIHandler(t)
	saveRecord(t, repo, "u1", polar.CategoryActivities, "2025-03-09", database.Document{"steps": 9000})
	saveRecord(t, repo, "u2", polar.CategoryActivities, "2025-03-09", database.Document{"steps": 1})

	req := httptest.NewRequest(http.MethodGet, "/api/records/activities", nil)
	req = withURLParams(withSession(req, "u1", session.RoleUser), map[string]string{"category": "activities"})
	w := httptest.NewRecorder()
	handler.HandleRecords(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	body := decodeResponse(t, w)
	records, _ := body["records"].([]any)
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	record, _ := records[0].(map[string]any)
	data, _ := record["data"].(map[string]any)
	if record["id"] != "2025-03-09" || data["steps"] != float64(9000) {
		t.Errorf("Unexpected record %v", record)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/records/steps", nil)
	req = withURLParams(withSession(req, "u1", session.RoleUser), map[string]string{"category": "steps"})
	w = httptest.NewRecorder()
	handler.HandleRecords(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for unknown category, got %d", w.Code)
	}
}

func TestInstructorStudents(t *testing.T) {
	handler, repo, _, _ := setupAPIHandler(t)
	linkAccount(t, repo, "s1", 1)
	if err := repo.MergeProfile(context.Background(), "s1", database.Document{"xp": 120}); err != nil {
		t.Fatalf("Failed to seed profile: %v", err)
	}

	body := jsonBody(t, map[string]any{"userIds": []string{"s1", "s2", "s1"}})
	req := withSession(httptest.NewRequest(http.MethodPut, "/api/instructor/students", body), "i1", session.RoleInstructor)
	w := httptest.NewRecorder()
	handler.HandlePutStudents(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	stored, err := repo.GetSelectedUsers(context.Background(), "i1")
	if err != nil {
		t.Fatalf("Failed to read selected users: %v", err)
	}
	if len(stored) != 2 || stored[0] != "s1" || stored[1] != "s2" {
		t.Errorf("Expected [s1 s2], got %v", stored)
	}

	req = withSession(httptest.NewRequest(http.MethodGet, "/api/instructor/students", nil), "i1", session.RoleInstructor)
	w = httptest.NewRecorder()
	handler.HandleGetStudents(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	resp := decodeResponse(t, w)
	students, _ := resp["students"].([]any)
	if len(students) != 2 {
		t.Fatalf("Expected 2 students, got %v", resp["students"])
	}
	first, _ := students[0].(map[string]any)
	if first["userId"] != "s1" || first["linked"] != true || first["xp"] != float64(120) || first["level"] != float64(2) {
		t.Errorf("Unexpected first student %v", first)
	}
	second, _ := students[1].(map[string]any)
	if second["linked"] != false || second["xp"] != float64(0) {
		t.Errorf("Unexpected second student %v", second)
	}
}

func TestInstructorStudentsValidation(t *testing.T) {
	for _, body := range []string{`{}`, `{"userIds":null}`, `{"userIds":["s1",""]}`, `[]`} {
		t.Run(body, func(t *testing.T) {
			handler, _, _, _ := setupAPIHandler(t)

			req := withSession(httptest.NewRequest(http.MethodPut, "/api/instructor/students", strings.NewReader(body)), "i1", session.RoleInstructor)
			w := httptest.NewRecorder()
			handler.HandlePutStudents(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", w.Code)
			}
		})
	}
}

func TestHandleStudentRecordsScoped(t *testing.T) {
	handler, repo, _, _ := setupAPIHandler(t)
	saveRecord(t, repo, "s1", polar.CategorySleep, "2025-03-09", database.Document{"sleep_goal": 28800})
	if err := repo.SetSelectedUsers(context.Background(), "i1", []string{"s1"}); err != nil {
		t.Fatalf("Failed to select students: %v", err)
	}

	tests := []struct {
		student string
		want    int
	}{
		{"s1", http.StatusOK},
		{"s9", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.student, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/instructor/students/"+tt.student+"/records/sleep", nil)
			req = withURLParams(withSession(req, "i1", session.RoleInstructor), map[string]string{
				"userId":   tt.student,
				"category": "sleep",
			})
			w := httptest.NewRecorder()

			handler.HandleStudentRecords(w, req)

			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}

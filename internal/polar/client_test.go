package polar

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func setupTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(Options{
		ClientID:        "test_client_id",
		ClientSecret:    "test_client_secret",
		RedirectURI:     "https://sync.example.com/oauth-callback",
		BaseURL:         server.URL + "/v3",
		TokenURL:        server.URL + "/oauth2/token",
		AuthURL:         server.URL + "/oauth2/authorization",
		BreakerFailures: 3,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestAuthorizationURL(t *testing.T) {
	client := NewClient(Options{ClientID: "abc", RedirectURI: "https://sync.example.com/oauth-callback"})

	authURL := client.AuthorizationURL("state123")

	if !strings.HasPrefix(authURL, DefaultAuthURL+"?") {
		t.Errorf("Expected URL to start with %s, got %s", DefaultAuthURL, authURL)
	}
	for _, want := range []string{"response_type=code", "client_id=abc", "state=state123", "redirect_uri="} {
		if !strings.Contains(authURL, want) {
			t.Errorf("Expected URL to contain %s, got %s", want, authURL)
		}
	}
}

func TestExchangeCode(t *testing.T) {
	client := setupTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth2/token" {
			t.Errorf("Expected token path, got %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST request, got %s", r.Method)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "test_client_id" || pass != "test_client_secret" {
			t.Errorf("Expected basic auth with client credentials, got %s:%s", user, pass)
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Failed to parse form", http.StatusBadRequest)
			return
		}
		if r.FormValue("grant_type") != "authorization_code" {
			http.Error(w, "Invalid grant_type", http.StatusBadRequest)
			return
		}
		if r.FormValue("code") != "test_code" {
			http.Error(w, "Invalid code", http.StatusBadRequest)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "test_access_token",
			"token_type":   "bearer",
			"expires_in":   315359999,
			"x_user_id":    475,
		})
	}))

	token, err := client.ExchangeCode(context.Background(), "test_code")
	if err != nil {
		t.Fatalf("Failed to exchange code: %v", err)
	}
	if token.AccessToken != "test_access_token" {
		t.Errorf("Expected access token 'test_access_token', got '%s'", token.AccessToken)
	}
	if token.XUserID != 475 {
		t.Errorf("Expected x_user_id 475, got %d", token.XUserID)
	}

	_, err = client.ExchangeCode(context.Background(), "bad_code")
	if StatusCode(err) != http.StatusBadRequest {
		t.Errorf("Expected status 400 from bad code, got %v", err)
	}
}

func TestRegisterUserAlreadyRegistered(t *testing.T) {
	var calls int32
	client := setupTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("Expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["member-id"] != "user-1" {
			t.Errorf("Expected member-id 'user-1', got %q", body["member-id"])
		}
		if n == 1 {
			writeJSON(w, http.StatusOK, map[string]any{"polar-user-id": 475, "member-id": "user-1"})
			return
		}
		w.WriteHeader(http.StatusConflict)
	}))

	first, err := client.RegisterUser(context.Background(), "tok", "user-1")
	if err != nil {
		t.Fatalf("Failed to register user: %v", err)
	}
	if first.AlreadyRegistered {
		t.Error("Expected first registration not to be already registered")
	}

	// Re-registering is idempotent
	for i := 0; i < 5; i++ {
		again, err := client.RegisterUser(context.Background(), "tok", "user-1")
		if err != nil {
			t.Fatalf("Expected no error on re-register, got %v", err)
		}
		if !again.AlreadyRegistered {
			t.Error("Expected AlreadyRegistered on 409")
		}
	}
}

func TestHTTPErrorCarriesVendorBody(t *testing.T) {
	client := setupTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"consent missing"}`))
	}))

	_, err := client.GetUser(context.Background(), "tok", 475)

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("Expected *HTTPError, got %T: %v", err, err)
	}
	if httpErr.StatusCode != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", httpErr.StatusCode)
	}
	if httpErr.Body != `{"error":"consent missing"}` {
		t.Errorf("Expected body verbatim, got %q", httpErr.Body)
	}
	if IsNotFound(err) {
		t.Error("Expected 403 not to match ErrNotFound")
	}
}

func TestWebhookOperations(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v3/webhooks", func(w http.ResponseWriter, r *http.Request) {
		if _, _, ok := r.BasicAuth(); !ok {
			t.Error("Expected basic auth on webhook create")
		}
		var req webhookRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.URL == "https://exists.example.com" {
			w.WriteHeader(http.StatusConflict)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"data": map[string]any{
			"id": "abdf33", "events": req.Events, "url": req.URL, "signature_secret_key": "secret",
		}})
	})
	mux.HandleFunc("GET /v3/webhooks", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": []map[string]any{
			{"id": "abdf33", "events": []string{"EXERCISE"}, "url": "https://sync.example.com/webhooks/polar"},
		}})
	})
	mux.HandleFunc("DELETE /v3/webhooks/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "abdf33" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("PATCH /v3/webhooks/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	client := setupTestClient(t, mux)
	ctx := context.Background()

	created, err := client.CreateWebhook(ctx, DefaultWebhookEvents, "https://sync.example.com/webhooks/polar")
	if err != nil {
		t.Fatalf("Failed to create webhook: %v", err)
	}
	if created.AlreadyExists || created.Webhook.ID != "abdf33" {
		t.Errorf("Expected new webhook abdf33, got %+v", created)
	}
	if created.Webhook.SignatureSecretKey != "secret" {
		t.Errorf("Expected signature secret, got %q", created.Webhook.SignatureSecretKey)
	}

	exists, err := client.CreateWebhook(ctx, DefaultWebhookEvents, "https://exists.example.com")
	if err != nil {
		t.Fatalf("Expected no error on 409, got %v", err)
	}
	if !exists.AlreadyExists {
		t.Error("Expected AlreadyExists on 409")
	}

	hooks, err := client.ListWebhooks(ctx)
	if err != nil {
		t.Fatalf("Failed to list webhooks: %v", err)
	}
	if len(hooks) != 1 || hooks[0].Events[0] != EventExercise {
		t.Errorf("Expected one EXERCISE webhook, got %+v", hooks)
	}

	if err := client.DeleteWebhook(ctx, "abdf33"); err != nil {
		t.Errorf("Failed to delete webhook: %v", err)
	}
	if err := client.DeleteWebhook(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound deleting missing webhook, got %v", err)
	}
	if _, err := client.UpdateWebhook(ctx, "missing", nil, "https://new.example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound updating missing webhook, got %v", err)
	}
}

func TestFetchDaily(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v3/users/sleep/2025-01-15", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"date": "2025-01-15", "sleep_score": 82, "device_id": "ABC"})
	})
	mux.HandleFunc("GET /v3/users/sleep/2025-01-16", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("GET /v3/users/cardio-load/2025-01-15", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{{"date": "2025-01-15", "cardio_load": 41.2}})
	})
	mux.HandleFunc("GET /v3/users/continuous-heart-rate/2025-01-15", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /v3/exercises", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{
			{"id": "a1", "start_time": "2025-01-15T07:00:00"},
			{"id": "b2", "start_time": "2025-01-14T18:00:00"},
			{"id": "c3", "start_time": "2025-01-15T18:30:00"},
		})
	})
	client := setupTestClient(t, mux)
	ctx := context.Background()

	sleep, err := client.FetchDaily(ctx, "tok", CategorySleep, "2025-01-15")
	if err != nil {
		t.Fatalf("Failed to fetch sleep: %v", err)
	}
	if sleep.Object["sleep_score"] != float64(82) {
		t.Errorf("Expected sleep_score 82, got %v", sleep.Object["sleep_score"])
	}

	if _, err := client.FetchDaily(ctx, "tok", CategorySleep, "2025-01-16"); !IsNotFound(err) {
		t.Errorf("Expected ErrNotFound for 404, got %v", err)
	}
	if _, err := client.FetchDaily(ctx, "tok", CategoryContinuousHeartRate, "2025-01-15"); !IsNotFound(err) {
		t.Errorf("Expected ErrNotFound for 204, got %v", err)
	}

	load, err := client.FetchDaily(ctx, "tok", CategoryCardioLoad, "2025-01-15")
	if err != nil {
		t.Fatalf("Failed to fetch cardio load: %v", err)
	}
	if len(load.Items) != 1 {
		t.Errorf("Expected 1 cardio load item, got %d", len(load.Items))
	}

	exercises, err := client.FetchDaily(ctx, "tok", CategoryExercises, "2025-01-15")
	if err != nil {
		t.Fatalf("Failed to fetch exercises: %v", err)
	}
	if len(exercises.Items) != 2 {
		t.Fatalf("Expected 2 exercises on date, got %d", len(exercises.Items))
	}
	if exercises.Items[1]["id"] != "c3" {
		t.Errorf("Expected second exercise c3, got %v", exercises.Items[1]["id"])
	}

	if _, err := client.FetchDaily(ctx, "tok", CategoryExercises, "2025-02-01"); !IsNotFound(err) {
		t.Errorf("Expected ErrNotFound for day without exercises, got %v", err)
	}
	if _, err := client.FetchDaily(ctx, "tok", CategoryPhysicalInfo, "2025-01-15"); err == nil {
		t.Error("Expected error fetching physicalInfo by date")
	}
}

func TestPhysicalInfoTransaction(t *testing.T) {
	var created int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v3/users/475/physical-information-transactions", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&created, 1) > 1 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"transaction-id": 179879,
			"resource-uri":   "http://" + r.Host + "/v3/users/475/physical-information-transactions/179879",
		})
	})
	mux.HandleFunc("GET /v3/users/475/physical-information-transactions/179879", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"physical-informations": []string{
			"http://" + r.Host + "/v3/users/475/physical-information-transactions/179879/physical-informations/56",
		}})
	})
	mux.HandleFunc("GET /v3/users/475/physical-information-transactions/179879/physical-informations/56", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": 56, "weight": 72.5})
	})
	var committed int32
	mux.HandleFunc("PUT /v3/users/475/physical-information-transactions/179879", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&committed, 1)
		w.WriteHeader(http.StatusOK)
	})
	client := setupTestClient(t, mux)
	ctx := context.Background()

	tx, err := client.CreatePhysicalInfoTransaction(ctx, "tok", 475)
	if err != nil {
		t.Fatalf("Failed to create transaction: %v", err)
	}
	if tx.TransactionID != 179879 {
		t.Errorf("Expected transaction 179879, got %d", tx.TransactionID)
	}

	uris, err := client.ListPhysicalInfo(ctx, "tok", tx)
	if err != nil {
		t.Fatalf("Failed to list physical info: %v", err)
	}
	if len(uris) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(uris))
	}

	entry, err := client.GetPhysicalInfo(ctx, "tok", uris[0])
	if err != nil {
		t.Fatalf("Failed to get entry: %v", err)
	}
	if entry["weight"] != 72.5 {
		t.Errorf("Expected weight 72.5, got %v", entry["weight"])
	}

	if err := client.CommitPhysicalInfoTransaction(ctx, "tok", 475, tx.TransactionID); err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}
	if atomic.LoadInt32(&committed) != 1 {
		t.Errorf("Expected 1 commit, got %d", committed)
	}

	if _, err := client.CreatePhysicalInfoTransaction(ctx, "tok", 475); !errors.Is(err, ErrNoNewData) {
		t.Errorf("Expected ErrNoNewData on 204, got %v", err)
	}
}

func TestCircuitBreakerIgnoresClientErrors(t *testing.T) {
	var status int32 = http.StatusNotFound
	var calls, hang int32
	client := setupTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if atomic.LoadInt32(&hang) == 1 {
			<-r.Context().Done()
			return
		}
		w.WriteHeader(int(atomic.LoadInt32(&status)))
	}))
	ctx := context.Background()

	// Callers timing out or cancelling never trip the breaker
	atomic.StoreInt32(&hang, 1)
	for i := 0; i < 5; i++ {
		reqCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		_, err := client.GetUser(reqCtx, "tok", 1)
		cancel()
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("Expected deadline exceeded, got %v", err)
		}
	}
	for i := 0; i < 5; i++ {
		reqCtx, cancel := context.WithCancel(ctx)
		time.AfterFunc(20*time.Millisecond, cancel)
		_, err := client.GetUser(reqCtx, "tok", 1)
		cancel()
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Expected context canceled, got %v", err)
		}
	}
	if client.BreakerState() != "closed" {
		t.Errorf("Expected breaker closed after cancelled requests, got %s", client.BreakerState())
	}
	atomic.StoreInt32(&hang, 0)

	// 4xx responses never trip the breaker
	for i := 0; i < 10; i++ {
		if _, err := client.GetUser(ctx, "tok", 1); StatusCode(err) != http.StatusNotFound {
			t.Fatalf("Expected 404, got %v", err)
		}
	}
	if client.BreakerState() != "closed" {
		t.Errorf("Expected breaker closed after 4xx, got %s", client.BreakerState())
	}

	// Consecutive 5xx open it
	atomic.StoreInt32(&status, http.StatusBadGateway)
	for i := 0; i < 3; i++ {
		if _, err := client.GetUser(ctx, "tok", 1); StatusCode(err) != http.StatusBadGateway {
			t.Fatalf("Expected 502, got %v", err)
		}
	}
	if client.BreakerState() != "open" {
		t.Fatalf("Expected breaker open after 5xx, got %s", client.BreakerState())
	}

	before := atomic.LoadInt32(&calls)
	_, err := client.GetUser(ctx, "tok", 1)
	if !errors.Is(err, ErrVendorUnavailable) {
		t.Errorf("Expected ErrVendorUnavailable while open, got %v", err)
	}
	if atomic.LoadInt32(&calls) != before {
		t.Error("Expected no request while breaker is open")
	}
}

func TestVerifyWebhookSignature(t *testing.T) {
	body := []byte(`{"event":"EXERCISE","user_id":475}`)
	sig := SignWebhook(body, "secret")

	if !VerifyWebhookSignature(body, sig, "secret") {
		t.Error("Expected valid signature to verify")
	}
	if VerifyWebhookSignature(body, sig, "other") {
		t.Error("Expected signature under wrong secret to fail")
	}
	if VerifyWebhookSignature([]byte(`{"event":"SLEEP"}`), sig, "secret") {
		t.Error("Expected signature over different body to fail")
	}
	if VerifyWebhookSignature(body, "not-hex", "secret") {
		t.Error("Expected malformed signature to fail")
	}
	if VerifyWebhookSignature(body, "", "secret") {
		t.Error("Expected empty signature to fail")
	}
}

func TestWebhookEventCategory(t *testing.T) {
	tests := []struct {
		event WebhookEvent
		want  Category
		date  string
		ok    bool
	}{
		{WebhookEvent{Event: EventExercise, Timestamp: "2025-01-02T10:00:00.000Z"}, CategoryExercises, "2025-01-02", true},
		{WebhookEvent{Event: EventSleep, Date: "2025-01-01", Timestamp: "2025-01-02T06:00:00.000Z"}, CategorySleep, "2025-01-01", true},
		{WebhookEvent{Event: EventActivitySummary, Date: "2025-01-03"}, CategoryActivities, "2025-01-03", true},
		{WebhookEvent{Event: EventPing}, "", "", false},
		{WebhookEvent{Event: "SOMETHING_NEW"}, "", "", false},
	}

	for _, tt := range tests {
		got, ok := tt.event.Category()
		if ok != tt.ok || got != tt.want {
			t.Errorf("%s: expected (%s, %v), got (%s, %v)", tt.event.Event, tt.want, tt.ok, got, ok)
		}
		if d := tt.event.DataDate(); d != tt.date {
			t.Errorf("%s: expected date %q, got %q", tt.event.Event, tt.date, d)
		}
	}
}

func TestGetExercise(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v3/exercises/abc", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": "abc", "start_time": "2025-02-01T18:00:00"})
	})
	mux.HandleFunc("GET /v3/exercises/gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	client := setupTestClient(t, mux)

	exercise, err := client.GetExercise(context.Background(), "tok", "abc")
	if err != nil {
		t.Fatalf("Failed to get exercise: %v", err)
	}
	if exercise["start_time"] != "2025-02-01T18:00:00" {
		t.Errorf("Expected start_time 2025-02-01T18:00:00, got %v", exercise["start_time"])
	}

	if _, err := client.GetExercise(context.Background(), "tok", "gone"); !IsNotFound(err) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

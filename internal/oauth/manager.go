package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"polar-fitness-sync/internal/database"
	"polar-fitness-sync/internal/events"
	"polar-fitness-sync/internal/polar"
	"polar-fitness-sync/internal/syncer"
)

const stateTTL = 10 * time.Minute

// ErrInvalidState is returned for unknown, expired, reused or foreign states
var ErrInvalidState = errors.New("invalid or expired state")

// ErrMissingVendorUserID is returned when the token response has no x_user_id
var ErrMissingVendorUserID = errors.New("token response has no Polar user id")

// Vendor is the subset of the Polar client used for account linking
type Vendor interface {
	AuthorizationURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*polar.TokenResponse, error)
	RegisterUser(ctx context.Context, token, memberID string) (*polar.RegisterResult, error)
	DeleteUser(ctx context.Context, token string, vendorUserID int64) error
}

// SyncEnqueuer schedules a background sync for a user
type SyncEnqueuer interface {
	EnqueueSync(userID, date string) error
}

// Manager handles the OAuth 2.0 flow with Polar Flow
type Manager struct {
	vendor    Vendor
	repo      *database.Repository
	enqueuer  SyncEnqueuer
	publisher events.Publisher
	logger    *slog.Logger
	states    *stateStore // CSRF protection
	now       func() time.Time
}

// stateStore tracks valid OAuth states for CSRF protection.
// Each state is bound to the user who requested it.
type stateStore struct {
	mu     sync.RWMutex
	states map[string]pendingState
}

type pendingState struct {
	userID  string
	expires time.Time
}

// NewManager creates a new OAuth manager. enqueuer and publisher may be nil.
func NewManager(vendor Vendor, repo *database.Repository, enqueuer SyncEnqueuer, publisher events.Publisher) *Manager {
	if publisher == nil {
		publisher = events.Discard
	}
	return &Manager{
		vendor:    vendor,
		repo:      repo,
		enqueuer:  enqueuer,
		publisher: publisher,
		logger:    slog.Default(),
		states: &stateStore{
			states: make(map[string]pendingState),
		},
		now: time.Now,
	}
}

// GenerateAuthURL generates a Polar authorization URL with CSRF protection
func (m *Manager) GenerateAuthURL(userID string) (string, string, error) {
	state, err := generateRandomState()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate state: %w", err)
	}

	m.states.mu.Lock()
	m.states.states[state] = pendingState{userID: userID, expires: m.now().Add(stateTTL)}
	m.states.mu.Unlock()

	m.logger.Info("Generated auth URL", "user_id", userID)

	return m.vendor.AuthorizationURL(state), state, nil
}

// LinkResult describes a completed link
type LinkResult struct {
	VendorUserID      int64 `json:"polarUserId"`
	AlreadyRegistered bool  `json:"alreadyRegistered"`
}

// Link completes the flow for userID: exchanges the code, registers the
// Polar user and stores the linked account with consent
func (m *Manager) Link(ctx context.Context, userID, code, state string) (*LinkResult, error) {
	if !m.validateState(state, userID) {
		return nil, ErrInvalidState
	}

	m.logger.Info("Linking Polar account", "user_id", userID, "code_length", len(code))

	token, err := m.vendor.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}
	if token.XUserID == 0 {
		m.logger.Error("Token response without x_user_id", "user_id", userID)
		return nil, ErrMissingVendorUserID
	}

	registration, err := m.vendor.RegisterUser(ctx, token.AccessToken, userID)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	account := &database.LinkedAccount{
		UserID:       userID,
		VendorUserID: token.XUserID,
		AccessToken:  token.AccessToken,
		ConsentGiven: true,
		Linked:       true,
		LinkedAt:     &now,
	}
	if err := m.repo.SaveLinkedAccount(ctx, account); err != nil {
		return nil, err
	}

	m.logger.Info("Stored linked account",
		"user_id", userID,
		"polar_user_id", token.XUserID,
		"already_registered", registration.AlreadyRegistered)

	m.publisher.Publish(events.Event{
		Type:   events.TypeAccountLinked,
		UserID: userID,
		Data:   map[string]any{"polarUserId": token.XUserID},
	})

	// Initial sync; the link stands even if this fails
	if m.enqueuer != nil {
		date := syncer.Yesterday(now)
		if err := m.enqueuer.EnqueueSync(userID, date); err != nil {
			m.logger.Error("Failed to enqueue initial sync", "user_id", userID, "error", err)
		} else {
			m.logger.Info("Enqueued initial sync", "user_id", userID, "date", date)
		}
	}

	return &LinkResult{
		VendorUserID:      token.XUserID,
		AlreadyRegistered: registration.AlreadyRegistered,
	}, nil
}

// Disconnect de-registers the user at Polar and clears the stored token.
// A user already gone on the Polar side is not an error.
func (m *Manager) Disconnect(ctx context.Context, userID string) error {
	account, err := m.repo.GetLinkedAccount(ctx, userID)
	if err != nil {
		return err
	}

	if account.HasCredentials() {
		err := m.vendor.DeleteUser(ctx, account.AccessToken, account.VendorUserID)
		if err != nil && !polar.IsNotFound(err) {
			return err
		}
	}

	if account != nil {
		if err := m.repo.ClearLinkedAccount(ctx, userID); err != nil {
			return err
		}
	}

	m.logger.Info("Disconnected Polar account", "user_id", userID)
	m.publisher.Publish(events.Event{Type: events.TypeAccountUnlinked, UserID: userID})
	return nil
}

// validateState checks that state exists, belongs to userID and has not
// expired, and removes it (one-time use)
func (m *Manager) validateState(state, userID string) bool {
	m.states.mu.Lock()
	defer m.states.mu.Unlock()

	pending, exists := m.states.states[state]
	if !exists {
		return false
	}

	delete(m.states.states, state)

	if m.now().After(pending.expires) {
		return false
	}
	return pending.userID == userID
}

// Serve removes expired states every minute until ctx is done
func (m *Manager) Serve(ctx context.Context) error {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.cleanupStates()
		}
	}
}

func (m *Manager) cleanupStates() {
	m.states.mu.Lock()
	defer m.states.mu.Unlock()

	now := m.now()
	for state, pending := range m.states.states {
		if now.After(pending.expires) {
			delete(m.states.states, state)
		}
	}
}

// generateRandomState generates a cryptographically secure random state
func generateRandomState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

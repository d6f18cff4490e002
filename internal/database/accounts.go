package database

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Collections and document fields
const (
	CollectionUsers       = "users"
	CollectionInstructors = "instructors"

	FieldPolarAccessToken = "polarAccessToken"
	FieldPolarUserID      = "polarUserId"
	FieldPolarConsent     = "polarConsent"
	FieldPolarLastSync    = "polarLastSync"
	FieldPolarLinked      = "polarLinked"
	FieldPolarLinkedAt    = "polarLinkedAt"
)

// LinkedAccount is the Polar link stored on users/{userId}
type LinkedAccount struct {
	UserID       string
	VendorUserID int64
	AccessToken  string
	ConsentGiven bool
	Linked       bool
	LinkedAt     *time.Time
	LastSync     *time.Time
}

// HasCredentials reports whether the account can be synced
func (a *LinkedAccount) HasCredentials() bool {
	return a != nil && a.AccessToken != "" && a.VendorUserID != 0
}

// Repository provides the application's document layout on top of a Store
type Repository struct {
	store Store
}

// NewRepository creates a repository over store
func NewRepository(store Store) *Repository {
	return &Repository{store: store}
}

// Store returns the underlying store
func (r *Repository) Store() Store {
	return r.store
}

// UserPath returns users/{userId}
func UserPath(userID string) string {
	return Join(CollectionUsers, userID)
}

// GetLinkedAccount returns the user's link, or nil if the user does not exist
func (r *Repository) GetLinkedAccount(ctx context.Context, userID string) (*LinkedAccount, error) {
	doc, err := r.store.Get(ctx, UserPath(userID))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get linked account: %w", err)
	}
	return accountFromDocument(userID, doc), nil
}

// SaveLinkedAccount merges the link fields into users/{userId}
func (r *Repository) SaveLinkedAccount(ctx context.Context, a *LinkedAccount) error {
	doc := Document{
		FieldPolarAccessToken: a.AccessToken,
		FieldPolarUserID:      a.VendorUserID,
		FieldPolarConsent:     a.ConsentGiven,
		FieldPolarLinked:      a.Linked,
	}
	if a.LinkedAt != nil {
		doc[FieldPolarLinkedAt] = a.LinkedAt.UTC().Format(time.RFC3339)
	}
	if a.LastSync != nil {
		doc[FieldPolarLastSync] = a.LastSync.UTC().Format(time.RFC3339)
	}

	if err := r.store.Merge(ctx, UserPath(a.UserID), doc); err != nil {
		return fmt.Errorf("failed to save linked account: %w", err)
	}
	return nil
}

// ClearLinkedAccount removes the stored token and vendor id.
// Synced records are kept.
func (r *Repository) ClearLinkedAccount(ctx context.Context, userID string) error {
	err := r.store.Merge(ctx, UserPath(userID), Document{
		FieldPolarAccessToken: DeleteField,
		FieldPolarUserID:      DeleteField,
		FieldPolarLinkedAt:    DeleteField,
		FieldPolarConsent:     false,
		FieldPolarLinked:      false,
	})
	if err != nil {
		return fmt.Errorf("failed to clear linked account: %w", err)
	}
	return nil
}

// ListLinkedAccounts returns every user currently linked to Polar
func (r *Repository) ListLinkedAccounts(ctx context.Context) ([]*LinkedAccount, error) {
	snaps, err := r.store.Query(ctx, CollectionUsers, FieldPolarLinked, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list linked accounts: %w", err)
	}

	accounts := make([]*LinkedAccount, 0, len(snaps))
	for _, s := range snaps {
		accounts = append(accounts, accountFromDocument(s.ID, s.Data))
	}
	return accounts, nil
}

// FindUserByVendorID resolves a Polar user id to the linked account, or nil
func (r *Repository) FindUserByVendorID(ctx context.Context, vendorUserID int64) (*LinkedAccount, error) {
	snaps, err := r.store.Query(ctx, CollectionUsers, FieldPolarUserID, vendorUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by vendor id: %w", err)
	}
	for _, s := range snaps {
		if a := accountFromDocument(s.ID, s.Data); a.Linked {
			return a, nil
		}
	}
	return nil, nil
}

// TouchLastSync stamps polarLastSync
func (r *Repository) TouchLastSync(ctx context.Context, userID string, at time.Time) error {
	err := r.store.Merge(ctx, UserPath(userID), Document{
		FieldPolarLastSync: at.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to update last sync: %w", err)
	}
	return nil
}

func accountFromDocument(userID string, doc Document) *LinkedAccount {
	return &LinkedAccount{
		UserID:       userID,
		VendorUserID: Int64(doc[FieldPolarUserID]),
		AccessToken:  String(doc[FieldPolarAccessToken]),
		ConsentGiven: Bool(doc[FieldPolarConsent]),
		Linked:       Bool(doc[FieldPolarLinked]),
		LinkedAt:     parseTime(doc[FieldPolarLinkedAt]),
		LastSync:     parseTime(doc[FieldPolarLastSync]),
	}
}

func parseTime(v any) *time.Time {
	switch t := v.(type) {
	case time.Time:
		return &t
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return nil
		}
		return &parsed
	default:
		return nil
	}
}

package polar

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"polar-fitness-sync/internal/metrics"
)

// RegisterResult is the outcome of registering a user with AccessLink
type RegisterResult struct {
	AlreadyRegistered bool
	User              map[string]any
}

// RegisterUser registers the token's owner under memberID.
// A 409 means the user is already registered and is not an error.
func (c *Client) RegisterUser(ctx context.Context, token, memberID string) (*RegisterResult, error) {
	payload := map[string]string{"member-id": memberID}

	resp, err := c.doJSON(ctx, metrics.OpRegisterUser, http.MethodPost, "/users", bearer(token), payload)
	if err != nil {
		if StatusCode(err) == http.StatusConflict {
			return &RegisterResult{AlreadyRegistered: true}, nil
		}
		return nil, fmt.Errorf("failed to register user: %w", err)
	}

	user, err := decode[map[string]any](resp)
	if err != nil {
		return nil, err
	}
	return &RegisterResult{User: user}, nil
}

// GetUser fetches the AccessLink user record
func (c *Client) GetUser(ctx context.Context, token string, vendorUserID int64) (map[string]any, error) {
	resp, err := c.doJSON(ctx, metrics.OpGetUser, http.MethodGet, fmt.Sprintf("/users/%d", vendorUserID), bearer(token), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get user %d: %w", vendorUserID, err)
	}
	return decode[map[string]any](resp)
}

// DeleteUser de-registers the user, revoking the app's access to their data
func (c *Client) DeleteUser(ctx context.Context, token string, vendorUserID int64) error {
	_, err := c.doJSON(ctx, metrics.OpDeleteUser, http.MethodDelete, fmt.Sprintf("/users/%d", vendorUserID), bearer(token), nil)
	if err != nil {
		return fmt.Errorf("failed to delete user %d: %w", vendorUserID, err)
	}
	return nil
}

// IsConflict reports whether err is a 409 from AccessLink
func IsConflict(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusConflict
}

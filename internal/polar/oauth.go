package polar

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"polar-fitness-sync/internal/metrics"
)

// TokenResponse represents the response from an authorization code exchange.
// AccessLink tokens do not expire in practice and carry no refresh token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	XUserID     int64  `json:"x_user_id"`
}

// AuthorizationURL builds the Polar Flow consent URL for state
func (c *Client) AuthorizationURL(state string) string {
	params := url.Values{
		"response_type": {"code"},
		"client_id":     {c.opts.ClientID},
		"state":         {state},
	}
	if c.opts.RedirectURI != "" {
		params.Set("redirect_uri", c.opts.RedirectURI)
	}
	return c.opts.AuthURL + "?" + params.Encode()
}

// ExchangeCode exchanges an authorization code for an access token
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	form := url.Values{
		"grant_type": {"authorization_code"},
		"code":       {code},
	}
	if c.opts.RedirectURI != "" {
		form.Set("redirect_uri", c.opts.RedirectURI)
	}

	resp, err := c.doRequest(ctx, metrics.OpExchangeCode, http.MethodPost, c.opts.TokenURL, basic,
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}

	token, err := decode[TokenResponse](resp)
	if err != nil {
		return nil, err
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token exchange returned no access token")
	}
	return &token, nil
}

package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"polar-fitness-sync/internal/oauth"
	"polar-fitness-sync/internal/session"
)

// Linker runs the account-link flow
type Linker interface {
	GenerateAuthURL(userID string) (string, string, error)
	Link(ctx context.Context, userID, code, state string) (*oauth.LinkResult, error)
	Disconnect(ctx context.Context, userID string) error
}

// OAuthHandler handles the OAuth redirect and account-link endpoints
type OAuthHandler struct {
	linker    Linker
	appScheme string
	logger    *slog.Logger
}

// NewOAuthHandler creates a new OAuth handler redirecting into appScheme
func NewOAuthHandler(linker Linker, appScheme string) *OAuthHandler {
	return &OAuthHandler{
		linker:    linker,
		appScheme: appScheme,
		logger:    slog.Default(),
	}
}

// HandleCallback forwards the vendor's OAuth redirect into the mobile app
// as {scheme}://oauth/polar?code=...&state=... or ?error=...
func (h *OAuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	code := query.Get("code")
	errParam := query.Get("error")

	if code == "" && errParam == "" {
		h.logger.Warn("OAuth callback without code or error")
		respondWithError(w, http.StatusBadRequest, "Missing code or error parameter")
		return
	}

	params := url.Values{}
	if errParam != "" {
		h.logger.Warn("OAuth authorization denied", "error", errParam)
		params.Set("error", errParam)
	} else {
		params.Set("code", code)
	}
	if state := query.Get("state"); state != "" {
		params.Set("state", state)
	}

	target := fmt.Sprintf("%s://oauth/polar?%s", h.appScheme, params.Encode())
	http.Redirect(w, r, target, http.StatusFound)
}

// HandleAuthorize returns the vendor authorization URL for the caller
func (h *OAuthHandler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())

	authURL, state, err := h.linker.GenerateAuthURL(s.UserID)
	if err != nil {
		h.logger.Error("Failed to generate auth URL", "user_id", s.UserID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to start OAuth flow")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{
		"url":   authURL,
		"state": state,
	})
}

type linkRequest struct {
	Code  string `json:"code" validate:"required"`
	State string `json:"state" validate:"required"`
}

// HandleLink completes the link with the code the app received
func (h *OAuthHandler) HandleLink(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())

	var req linkRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.linker.Link(r.Context(), s.UserID, req.Code, req.State)
	if errors.Is(err, oauth.ErrInvalidState) {
		h.logger.Warn("Invalid OAuth state", "user_id", s.UserID)
		respondWithError(w, http.StatusBadRequest, "Invalid or expired state")
		return
	}
	if errors.Is(err, oauth.ErrMissingVendorUserID) {
		respondWithError(w, http.StatusBadGateway, "Polar did not return a user id")
		return
	}
	if err != nil {
		h.logger.Error("Failed to link account", "user_id", s.UserID, "error", err)
		respondWithError(w, vendorErrorStatus(err), err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"polarUserId":       result.VendorUserID,
		"alreadyRegistered": result.AlreadyRegistered,
	})
}

// HandleDisconnect removes the caller's vendor link
func (h *OAuthHandler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())

	if err := h.linker.Disconnect(r.Context(), s.UserID); err != nil {
		h.logger.Error("Failed to disconnect account", "user_id", s.UserID, "error", err)
		respondWithError(w, vendorErrorStatus(err), err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]bool{"success": true})
}

package rest

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/passkeyme/passkeyme-server/internal/auth"
)

// handleProviderRoutes dispatches /oauth/{provider}/{action}.
func (s *Server) handleProviderRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/oauth/")
	parts := strings.Split(path, "/")
	if len(parts) < 2 {
		http.NotFound(w, r)
		return
	}
	providerID := parts[0]
	action := parts[1]

	switch action {
	case "authorize":
		s.handleProviderAuthorize(w, r, providerID)
	case "callback":
		s.handleProviderCallback(w, r, providerID)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleProviderAuthorize(w http.ResponseWriter, r *http.Request, providerID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	if s.flow == nil || !s.flow.Enabled(providerID) {
		http.NotFound(w, r)
		return
	}

	appID := r.URL.Query().Get("app_id")
	redirectURI := strings.TrimSpace(r.URL.Query().Get("redirect_uri"))
	hostedSessionID := strings.TrimSpace(r.URL.Query().Get("session"))

	if err := s.service.AuthorizeProviderStart(r.Context(), appID, providerID, redirectURI); err != nil {
		writeError(w, r, err)
		return
	}

	authURL, err := s.flow.Start(r.Context(), providerID, appID, redirectURI, hostedSessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleProviderCallback completes the provider round trip. Inside a hosted
// flow the session is marked complete and the browser is sent back to the
// application, which exchanges the session at /auth/callback. Outside one
// the token pair is returned directly.
func (s *Server) handleProviderCallback(w http.ResponseWriter, r *http.Request, providerID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	if s.flow == nil || !s.flow.Enabled(providerID) {
		http.NotFound(w, r)
		return
	}
	if errParam := r.URL.Query().Get("error"); errParam != "" {
		writeError(w, r, errValidation("provider returned "+errParam))
		return
	}

	code := r.URL.Query().Get("code")
	stateValue := r.URL.Query().Get("state")

	profile, state, err := s.flow.Complete(r.Context(), providerID, code, stateValue)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := s.service.CompleteOAuthLogin(r.Context(), state.AppID, auth.OAuthProfile{
		Provider:       providerID,
		ProviderUserID: profile.ProviderUserID,
		Email:          profile.Email,
		DisplayName:    profile.DisplayName,
		EmailVerified:  profile.EmailVerified,
	}, state.HostedSessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if state.RedirectURI != "" {
		redirectURL, err := url.Parse(state.RedirectURI)
		if err != nil {
			writeError(w, r, errValidation("redirect uri is invalid"))
			return
		}
		query := redirectURL.Query()
		if state.HostedSessionID != "" {
			query.Set("session", state.HostedSessionID)
		} else {
			query.Set("provider", providerID)
			query.Set("user_id", result.User.ID)
		}
		redirectURL.RawQuery = query.Encode()
		http.Redirect(w, r, redirectURL.String(), http.StatusFound)
		return
	}

	writeJSON(w, http.StatusOK, ceremonyPayload(result))
}

package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/passkeyme/passkeyme-server/internal/application"
	"github.com/passkeyme/passkeyme-server/internal/storage"
	"github.com/passkeyme/passkeyme-server/internal/user"
)

// hostedSessionTTL bounds how long a hosted flow may stay open.
const hostedSessionTTL = 10 * time.Minute

// HostedStart describes a newly initiated hosted auth flow.
type HostedStart struct {
	AuthURL   string
	SessionID string
	ExpiresAt time.Time
}

// InitiateHosted opens a hosted auth session and returns the URL the caller
// redirects the end user to. The redirect URI must be registered on the
// application.
func (s *Service) InitiateHosted(ctx context.Context, appID string, redirectURI string, state string) (HostedStart, error) {
	if s.hosted == nil {
		return HostedStart{}, errInternal("hosted session store is not configured")
	}

	app, err := s.application(ctx, strings.TrimSpace(appID), false)
	if err != nil {
		return HostedStart{}, err
	}
	redirectURI = strings.TrimSpace(redirectURI)
	if !app.RedirectAllowed(redirectURI) {
		return HostedStart{}, errValidation("redirect uri is not registered for this application")
	}

	sessionID, err := s.idGenerator()
	if err != nil {
		return HostedStart{}, fmt.Errorf("create hosted session id: %w", err)
	}

	now := s.clock().UTC()
	expiresAt := now.Add(hostedSessionTTL)
	if err := s.hosted.PutHostedSession(ctx, storage.HostedSession{
		ID:          sessionID,
		AppID:       app.ID,
		RedirectURI: redirectURI,
		State:       strings.TrimSpace(state),
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
	}); err != nil {
		return HostedStart{}, fmt.Errorf("store hosted session: %w", err)
	}

	authURL := strings.TrimRight(s.hostedBaseURL, "/") + "/auth?" + url.Values{
		"app_id":  {app.ID},
		"session": {sessionID},
	}.Encode()

	return HostedStart{AuthURL: authURL, SessionID: sessionID, ExpiresAt: expiresAt}, nil
}

// completeHosted marks a hosted session as finished by the authenticated
// user. Completion happens at most once.
func (s *Service) completeHosted(ctx context.Context, sessionID string, userID string) error {
	if s.hosted == nil {
		return errInternal("hosted session store is not configured")
	}
	err := s.hosted.CompleteHostedSession(ctx, sessionID, userID, s.clock().UTC())
	if err == storage.ErrNotFound {
		return ErrInvalidChallenge
	}
	return err
}

// ExchangeHosted trades a completed hosted session for a token pair. A
// session exchanges exactly once.
func (s *Service) ExchangeHosted(ctx context.Context, sessionID string) (CeremonyResult, error) {
	if s.hosted == nil || s.users == nil {
		return CeremonyResult{}, errInternal("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return CeremonyResult{}, errValidation("session id is required")
	}

	session, err := s.hosted.ConsumeHostedSession(ctx, sessionID, s.clock().UTC())
	if err != nil {
		if err == storage.ErrNotFound {
			return CeremonyResult{}, ErrInvalidChallenge
		}
		return CeremonyResult{}, fmt.Errorf("consume hosted session: %w", err)
	}

	baseUser, err := s.users.GetUser(ctx, session.UserID)
	if err != nil {
		return CeremonyResult{}, err
	}
	hasPasskey, err := s.userHasPasskey(ctx, baseUser.ID)
	if err != nil {
		return CeremonyResult{}, err
	}
	pair, err := s.issueTokens(ctx, baseUser, hasPasskey)
	if err != nil {
		return CeremonyResult{}, err
	}

	return CeremonyResult{
		User:         baseUser,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	}, nil
}

// AppConfig is the public SDK bootstrap view of an application.
type AppConfig struct {
	AppName         string
	Providers       []string
	RedirectURI     string
	PasskeysEnabled bool
}

// Config returns the public configuration for an application.
func (s *Service) Config(ctx context.Context, appID string) (AppConfig, error) {
	app, err := s.application(ctx, strings.TrimSpace(appID), false)
	if err != nil {
		return AppConfig{}, err
	}
	redirectURI := ""
	if len(app.RedirectURIs) > 0 {
		redirectURI = app.RedirectURIs[0]
	}
	return AppConfig{
		AppName:         app.Name,
		Providers:       app.Providers,
		RedirectURI:     redirectURI,
		PasskeysEnabled: app.PasskeysEnabled,
	}, nil
}

// AuthorizeProviderStart checks that an application may begin a provider
// flow: the app must exist, have the provider enabled, and any custom
// redirect must be registered.
func (s *Service) AuthorizeProviderStart(ctx context.Context, appID string, provider string, redirectURI string) error {
	app, err := s.application(ctx, strings.TrimSpace(appID), false)
	if err != nil {
		return err
	}
	if !app.ProviderEnabled(provider) {
		return application.ErrMethodDisabled
	}
	if redirectURI = strings.TrimSpace(redirectURI); redirectURI != "" && !app.RedirectAllowed(redirectURI) {
		return errValidation("redirect uri is not registered for this application")
	}
	return nil
}

// OAuthProfile is the provider-verified identity handed back by the OAuth
// callback glue.
type OAuthProfile struct {
	Provider       string
	ProviderUserID string
	Email          string
	DisplayName    string
	EmailVerified  bool
}

// CompleteOAuthLogin links a provider identity to a user, creating the user
// on first login, and issues tokens. When the flow ran inside a hosted
// session the session is marked complete instead of returning tokens
// directly.
func (s *Service) CompleteOAuthLogin(ctx context.Context, appID string, profile OAuthProfile, hostedSessionID string) (CeremonyResult, error) {
	if s.identities == nil || s.users == nil {
		return CeremonyResult{}, errInternal("storage is not configured")
	}

	app, err := s.application(ctx, strings.TrimSpace(appID), false)
	if err != nil {
		return CeremonyResult{}, err
	}
	if !app.ProviderEnabled(profile.Provider) {
		return CeremonyResult{}, application.ErrMethodDisabled
	}
	if strings.TrimSpace(profile.ProviderUserID) == "" {
		return CeremonyResult{}, errValidation("provider user id is required")
	}

	baseUser, err := s.resolveOAuthUser(ctx, app.ID, profile)
	if err != nil {
		return CeremonyResult{}, err
	}

	hasPasskey, err := s.userHasPasskey(ctx, baseUser.ID)
	if err != nil {
		return CeremonyResult{}, err
	}
	pair, err := s.issueTokens(ctx, baseUser, hasPasskey)
	if err != nil {
		return CeremonyResult{}, err
	}

	if hostedSessionID = strings.TrimSpace(hostedSessionID); hostedSessionID != "" {
		if err := s.completeHosted(ctx, hostedSessionID, baseUser.ID); err != nil {
			return CeremonyResult{}, err
		}
	}

	return CeremonyResult{
		User:         baseUser,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	}, nil
}

func (s *Service) resolveOAuthUser(ctx context.Context, appID string, profile OAuthProfile) (user.User, error) {
	identity, err := s.identities.GetOAuthIdentity(ctx, appID, profile.Provider, profile.ProviderUserID)
	if err == nil {
		return s.users.GetUser(ctx, identity.UserID)
	}
	if err != storage.ErrNotFound {
		return user.User{}, err
	}

	baseUser, err := s.findOrCreateUser(ctx, appID, profile.Email, profile.DisplayName)
	if err != nil {
		return user.User{}, err
	}
	if profile.EmailVerified && !baseUser.EmailVerified {
		baseUser.EmailVerified = true
		baseUser.UpdatedAt = s.clock().UTC()
		if err := s.users.PutUser(ctx, baseUser); err != nil {
			return user.User{}, fmt.Errorf("update user: %w", err)
		}
	}

	if err := s.identities.PutOAuthIdentity(ctx, storage.OAuthIdentity{
		Provider:       profile.Provider,
		ProviderUserID: profile.ProviderUserID,
		UserID:         baseUser.ID,
		AppID:          appID,
		Email:          profile.Email,
		CreatedAt:      s.clock().UTC(),
	}); err != nil {
		return user.User{}, fmt.Errorf("link oauth identity: %w", err)
	}
	return baseUser, nil
}

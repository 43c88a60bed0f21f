package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/passkeyme/passkeyme-server/internal/platform/errors"
	"github.com/passkeyme/passkeyme-server/internal/storage"
)

const defaultStateTTL = 15 * time.Minute

// ErrUnknownProvider is returned for provider IDs with no configuration.
var ErrUnknownProvider = apperrors.New(apperrors.CodeNotFound, "unknown provider")

// ErrInvalidState covers missing, expired, and already consumed provider
// states.
var ErrInvalidState = apperrors.New(apperrors.CodeInvalidChallenge, "state is invalid or has expired")

// ErrExchangeFailed is the only provider exchange failure exposed externally.
var ErrExchangeFailed = apperrors.New(apperrors.CodeAuthenticationFailed, "provider exchange failed")

// Flow runs the provider authorization round trip. It owns the pending state
// records; linking the resulting profile to a user is the auth service's job.
type Flow struct {
	providers  map[string]ProviderConfig
	states     storage.OAuthStateStore
	httpClient *http.Client
	stateTTL   time.Duration
	clock      func() time.Time
}

// NewFlow builds a provider flow over the given provider map and state store.
func NewFlow(providers map[string]ProviderConfig, states storage.OAuthStateStore) *Flow {
	return &Flow{
		providers:  providers,
		states:     states,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		stateTTL:   defaultStateTTL,
		clock:      time.Now,
	}
}

// WithClock overrides the flow clock, for tests.
func (f *Flow) WithClock(clock func() time.Time) *Flow {
	if clock != nil {
		f.clock = clock
	}
	return f
}

// WithHTTPClient overrides the outbound HTTP client, for tests.
func (f *Flow) WithHTTPClient(client *http.Client) *Flow {
	if client != nil {
		f.httpClient = client
	}
	return f
}

// Providers lists the configured provider IDs in stable order.
func (f *Flow) Providers() []string {
	if f == nil {
		return nil
	}
	ids := make([]string, 0, len(f.providers))
	for id := range f.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Enabled reports whether a provider is configured.
func (f *Flow) Enabled(providerID string) bool {
	if f == nil {
		return false
	}
	_, ok := f.providers[providerID]
	return ok
}

// Start persists a pending state record and returns the provider authorize
// URL the caller should redirect to.
func (f *Flow) Start(ctx context.Context, providerID, appID, redirectURI, hostedSessionID string) (string, error) {
	if f == nil || f.states == nil {
		return "", apperrors.New(apperrors.CodeInternal, "oauth flow is not configured")
	}
	provider, ok := f.providers[providerID]
	if !ok {
		return "", ErrUnknownProvider
	}

	stateValue, err := generateToken(16)
	if err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	codeVerifier, err := generateToken(48)
	if err != nil {
		return "", fmt.Errorf("generate code verifier: %w", err)
	}

	now := f.clock().UTC()
	if err := f.states.PutOAuthState(ctx, storage.OAuthState{
		State:           stateValue,
		AppID:           appID,
		Provider:        providerID,
		RedirectURI:     redirectURI,
		HostedSessionID: hostedSessionID,
		CodeVerifier:    codeVerifier,
		CreatedAt:       now,
		ExpiresAt:       now.Add(f.stateTTL),
	}); err != nil {
		return "", fmt.Errorf("store state: %w", err)
	}

	query := url.Values{}
	query.Set("response_type", "code")
	query.Set("client_id", provider.ClientID)
	query.Set("redirect_uri", provider.RedirectURI)
	query.Set("scope", strings.Join(provider.Scopes, " "))
	query.Set("state", stateValue)
	query.Set("code_challenge", ComputeS256Challenge(codeVerifier))
	query.Set("code_challenge_method", "S256")

	authURL, err := url.Parse(provider.AuthURL)
	if err != nil {
		return "", fmt.Errorf("parse provider auth url: %w", err)
	}
	authURL.RawQuery = query.Encode()
	return authURL.String(), nil
}

// Profile is the identity a provider vouches for after a completed exchange.
type Profile struct {
	ProviderUserID string
	Email          string
	DisplayName    string
	EmailVerified  bool
}

// Complete redeems the callback state, exchanges the authorization code, and
// fetches the provider profile. The consumed state record is returned so the
// caller can resume the app and hosted session the flow started under.
func (f *Flow) Complete(ctx context.Context, providerID, code, stateValue string) (Profile, storage.OAuthState, error) {
	if f == nil || f.states == nil {
		return Profile{}, storage.OAuthState{}, apperrors.New(apperrors.CodeInternal, "oauth flow is not configured")
	}
	provider, ok := f.providers[providerID]
	if !ok {
		return Profile{}, storage.OAuthState{}, ErrUnknownProvider
	}
	if strings.TrimSpace(code) == "" || strings.TrimSpace(stateValue) == "" {
		return Profile{}, storage.OAuthState{}, ErrInvalidState
	}

	state, err := f.states.ConsumeOAuthState(ctx, stateValue, f.clock().UTC())
	if err != nil {
		if err == storage.ErrNotFound {
			return Profile{}, storage.OAuthState{}, ErrInvalidState
		}
		return Profile{}, storage.OAuthState{}, err
	}
	if state.Provider != providerID {
		return Profile{}, storage.OAuthState{}, ErrInvalidState
	}

	token, err := f.exchangeToken(ctx, provider, code, state.CodeVerifier)
	if err != nil {
		log.Printf("oauth %s token exchange: %v", providerID, err)
		return Profile{}, storage.OAuthState{}, ErrExchangeFailed
	}

	profile, err := f.fetchProfile(ctx, provider, token)
	if err != nil {
		log.Printf("oauth %s profile fetch: %v", providerID, err)
		return Profile{}, storage.OAuthState{}, ErrExchangeFailed
	}
	return profile, state, nil
}

func (f *Flow) exchangeToken(ctx context.Context, provider ProviderConfig, code, codeVerifier string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", provider.RedirectURI)
	form.Set("client_id", provider.ClientID)
	form.Set("client_secret", provider.ClientSecret)
	form.Set("code_verifier", codeVerifier)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("missing access token")
	}
	return payload.AccessToken, nil
}

func (f *Flow) fetchProfile(ctx context.Context, provider ProviderConfig, accessToken string) (Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, provider.UserInfoURL, nil)
	if err != nil {
		return Profile{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return Profile{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("userinfo endpoint returned %d", resp.StatusCode)
	}

	if strings.EqualFold(provider.Name, "Google") {
		var payload struct {
			Sub           string `json:"sub"`
			Name          string `json:"name"`
			Email         string `json:"email"`
			EmailVerified bool   `json:"email_verified"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return Profile{}, err
		}
		if payload.Sub == "" {
			return Profile{}, fmt.Errorf("missing provider user id")
		}
		return Profile{
			ProviderUserID: payload.Sub,
			Email:          payload.Email,
			DisplayName:    firstNonEmpty(payload.Name, payload.Email, payload.Sub),
			EmailVerified:  payload.EmailVerified,
		}, nil
	}

	var payload struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Profile{}, err
	}
	if payload.ID == 0 {
		return Profile{}, fmt.Errorf("missing provider user id")
	}
	return Profile{
		ProviderUserID: "github-" + strconv.FormatInt(payload.ID, 10),
		Email:          payload.Email,
		DisplayName:    firstNonEmpty(payload.Name, payload.Login, payload.Email),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return "Unknown User"
}

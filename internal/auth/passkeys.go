package auth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/passkeyme/passkeyme-server/internal/passkey"
	"github.com/passkeyme/passkeyme-server/internal/storage"
	"github.com/passkeyme/passkeyme-server/internal/user"
)

type passkeyProvider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	BeginDiscoverableLogin(opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
	ValidatePasskeyLogin(handler webauthn.DiscoverableUserHandler, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (webauthn.User, *webauthn.Credential, error)
}

type passkeyParser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type defaultPasskeyParser struct{}

func (defaultPasskeyParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (defaultPasskeyParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// Challenge is the public half of a freshly created ceremony session.
type Challenge struct {
	SessionID string
	Options   json.RawMessage
	ExpiresAt time.Time
}

// RegistrationInput identifies the tenant and the account to register.
type RegistrationInput struct {
	AppID       string
	Email       string
	DisplayName string
}

// CeremonyResult is the outcome of a completed ceremony: the authenticated
// user, the credential that proved it, and a fresh token pair.
type CeremonyResult struct {
	User         user.User
	CredentialID string
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// BeginRegistration creates a registration challenge for an application user.
//
// The user record is created on first contact so the ceremony session can pin
// the user ID before any credential exists.
func (s *Service) BeginRegistration(ctx context.Context, input RegistrationInput) (Challenge, error) {
	ctx, span := tracer.Start(ctx, "auth.BeginRegistration")
	defer span.End()
	if s.users == nil || s.passkeys == nil {
		return Challenge{}, errInternal("storage is not configured")
	}

	app, err := s.application(ctx, strings.TrimSpace(input.AppID), true)
	if err != nil {
		return Challenge{}, err
	}

	baseUser, err := s.findOrCreateUser(ctx, app.ID, input.Email, input.DisplayName)
	if err != nil {
		return Challenge{}, err
	}

	passkeyUser, err := s.loadPasskeyUser(ctx, baseUser)
	if err != nil {
		return Challenge{}, err
	}

	provider, err := s.provider(app)
	if err != nil {
		return Challenge{}, errInternal("passkey configuration is not available")
	}

	options := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	}
	if len(passkeyUser.credentials) > 0 {
		options = append(options, webauthn.WithExclusions(webauthn.Credentials(passkeyUser.credentials).CredentialDescriptors()))
	}

	creation, session, err := provider.BeginRegistration(passkeyUser, options...)
	if err != nil {
		return Challenge{}, fmt.Errorf("begin passkey registration: %w", err)
	}

	return s.storeChallenge(ctx, app.ID, passkey.SessionKindRegistration, baseUser.ID, session, creation)
}

// FinishRegistration verifies an attestation response and stores the new
// credential. The ceremony session is consumed whether or not verification
// succeeds.
func (s *Service) FinishRegistration(ctx context.Context, appID string, sessionID string, credentialResponse []byte, hostedSessionID string) (CeremonyResult, error) {
	ctx, span := tracer.Start(ctx, "auth.FinishRegistration")
	defer span.End()
	if s.users == nil || s.passkeys == nil {
		return CeremonyResult{}, errInternal("storage is not configured")
	}
	if len(credentialResponse) == 0 {
		return CeremonyResult{}, errValidation("credential response is required")
	}

	app, err := s.application(ctx, strings.TrimSpace(appID), true)
	if err != nil {
		return CeremonyResult{}, err
	}

	session, err := s.consumeChallenge(ctx, app.ID, sessionID, passkey.SessionKindRegistration)
	if err != nil {
		return CeremonyResult{}, err
	}
	if session.UserID == "" {
		return CeremonyResult{}, errInternal("ceremony session missing user id")
	}

	baseUser, err := s.users.GetUser(ctx, session.UserID)
	if err != nil {
		return CeremonyResult{}, err
	}
	passkeyUser, err := s.loadPasskeyUser(ctx, baseUser)
	if err != nil {
		return CeremonyResult{}, err
	}

	provider, err := s.provider(app)
	if err != nil {
		return CeremonyResult{}, errInternal("passkey configuration is not available")
	}

	parsed, err := s.parser.ParseCredentialCreationResponseBytes(credentialResponse)
	if err != nil {
		log.Printf("parse attestation response for app %s: %v", app.ID, err)
		return CeremonyResult{}, ErrRegistrationFailed
	}
	credential, err := provider.CreateCredential(passkeyUser, session.Data, parsed)
	if err != nil {
		log.Printf("verify attestation for app %s: %v", app.ID, err)
		return CeremonyResult{}, ErrRegistrationFailed
	}

	now := s.clock().UTC()
	credentialJSON, err := json.Marshal(credential)
	if err != nil {
		return CeremonyResult{}, fmt.Errorf("encode credential: %w", err)
	}
	if err := s.passkeys.PutPasskeyCredential(ctx, storage.PasskeyCredential{
		CredentialID:   encodeCredentialID(credential.ID),
		UserID:         baseUser.ID,
		AppID:          app.ID,
		CredentialJSON: string(credentialJSON),
		SignCount:      credential.Authenticator.SignCount,
		CreatedAt:      now,
		UpdatedAt:      now,
	}); err != nil {
		return CeremonyResult{}, fmt.Errorf("store credential: %w", err)
	}

	return s.finishCeremony(ctx, baseUser, encodeCredentialID(credential.ID), hostedSessionID)
}

// BeginLogin creates an authentication challenge. With an email the challenge
// targets that user's credentials; without one the flow is discoverable and
// the authenticator picks the credential.
func (s *Service) BeginLogin(ctx context.Context, appID string, email string) (Challenge, error) {
	ctx, span := tracer.Start(ctx, "auth.BeginLogin")
	defer span.End()
	if s.users == nil || s.passkeys == nil {
		return Challenge{}, errInternal("storage is not configured")
	}

	app, err := s.application(ctx, strings.TrimSpace(appID), true)
	if err != nil {
		return Challenge{}, err
	}

	provider, err := s.provider(app)
	if err != nil {
		return Challenge{}, errInternal("passkey configuration is not available")
	}

	var (
		assertion *protocol.CredentialAssertion
		session   *webauthn.SessionData
		userID    string
	)
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		assertion, session, err = provider.BeginDiscoverableLogin()
	} else {
		baseUser, lookupErr := s.users.GetUserByEmail(ctx, app.ID, email)
		if lookupErr != nil {
			if lookupErr == storage.ErrNotFound {
				// Unknown emails still get a challenge shape back so the
				// endpoint cannot be used to probe for accounts.
				assertion, session, err = provider.BeginDiscoverableLogin()
			} else {
				return Challenge{}, lookupErr
			}
		} else {
			passkeyUser, loadErr := s.loadPasskeyUser(ctx, baseUser)
			if loadErr != nil {
				return Challenge{}, loadErr
			}
			userID = baseUser.ID
			assertion, session, err = provider.BeginLogin(passkeyUser)
		}
	}
	if err != nil {
		return Challenge{}, fmt.Errorf("begin passkey login: %w", err)
	}

	return s.storeChallenge(ctx, app.ID, passkey.SessionKindLogin, userID, session, assertion)
}

// FinishLogin verifies an assertion response against the stored credential.
//
// The sign counter advances through a compare-and-set keyed on the counter
// observed during verification, so a replayed or cloned assertion loses.
func (s *Service) FinishLogin(ctx context.Context, appID string, sessionID string, credentialResponse []byte, hostedSessionID string) (CeremonyResult, error) {
	ctx, span := tracer.Start(ctx, "auth.FinishLogin")
	defer span.End()
	if s.users == nil || s.passkeys == nil {
		return CeremonyResult{}, errInternal("storage is not configured")
	}
	if len(credentialResponse) == 0 {
		return CeremonyResult{}, errValidation("credential response is required")
	}

	app, err := s.application(ctx, strings.TrimSpace(appID), true)
	if err != nil {
		return CeremonyResult{}, err
	}

	session, err := s.consumeChallenge(ctx, app.ID, sessionID, passkey.SessionKindLogin)
	if err != nil {
		return CeremonyResult{}, err
	}

	provider, err := s.provider(app)
	if err != nil {
		return CeremonyResult{}, errInternal("passkey configuration is not available")
	}

	parsed, err := s.parser.ParseCredentialRequestResponseBytes(credentialResponse)
	if err != nil {
		log.Printf("parse assertion response for app %s: %v", app.ID, err)
		return CeremonyResult{}, ErrAuthenticationFailed
	}

	var (
		validated  *webauthn.Credential
		loadedUser *passkeyUser
	)
	if session.UserID != "" {
		baseUser, lookupErr := s.users.GetUser(ctx, session.UserID)
		if lookupErr != nil {
			return CeremonyResult{}, lookupErr
		}
		loadedUser, err = s.loadPasskeyUser(ctx, baseUser)
		if err != nil {
			return CeremonyResult{}, err
		}
		validated, err = provider.ValidateLogin(loadedUser, session.Data, parsed)
	} else {
		var validatedUser webauthn.User
		validatedUser, validated, err = provider.ValidatePasskeyLogin(s.passkeyUserHandler(ctx, app.ID), session.Data, parsed)
		if err == nil {
			typed, ok := validatedUser.(*passkeyUser)
			if !ok {
				return CeremonyResult{}, errInternal("passkey user type mismatch")
			}
			loadedUser = typed
		}
	}
	if err != nil {
		log.Printf("verify assertion for app %s: %v", app.ID, err)
		return CeremonyResult{}, ErrAuthenticationFailed
	}

	if validated.Authenticator.CloneWarning {
		log.Printf("possible cloned authenticator for app %s credential %s", app.ID, encodeCredentialID(validated.ID))
		return CeremonyResult{}, ErrAuthenticationFailed
	}

	expected, ok := previousSignCount(loadedUser.credentials, validated.ID)
	if !ok {
		return CeremonyResult{}, ErrAuthenticationFailed
	}
	credentialJSON, err := json.Marshal(validated)
	if err != nil {
		return CeremonyResult{}, fmt.Errorf("encode credential: %w", err)
	}
	err = s.passkeys.UpdatePasskeySignCount(ctx,
		encodeCredentialID(validated.ID),
		expected,
		validated.Authenticator.SignCount,
		string(credentialJSON),
		s.clock().UTC(),
	)
	if err != nil {
		if err == storage.ErrConflict {
			log.Printf("sign counter conflict for app %s credential %s", app.ID, encodeCredentialID(validated.ID))
			return CeremonyResult{}, ErrAuthenticationFailed
		}
		return CeremonyResult{}, fmt.Errorf("update credential: %w", err)
	}

	return s.finishCeremony(ctx, loadedUser.user, encodeCredentialID(validated.ID), hostedSessionID)
}

// finishCeremony issues tokens for the authenticated user and, when the
// ceremony ran inside a hosted flow, marks that session complete.
func (s *Service) finishCeremony(ctx context.Context, authenticated user.User, credentialID string, hostedSessionID string) (CeremonyResult, error) {
	pair, err := s.issueTokens(ctx, authenticated, true)
	if err != nil {
		return CeremonyResult{}, err
	}

	if hostedSessionID = strings.TrimSpace(hostedSessionID); hostedSessionID != "" {
		if err := s.completeHosted(ctx, hostedSessionID, authenticated.ID); err != nil {
			return CeremonyResult{}, err
		}
	}

	return CeremonyResult{
		User:         authenticated,
		CredentialID: credentialID,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	}, nil
}

type passkeyUser struct {
	user        user.User
	credentials []webauthn.Credential
}

func (u *passkeyUser) WebAuthnID() []byte {
	return []byte(u.user.ID)
}

func (u *passkeyUser) WebAuthnName() string {
	return u.user.Email
}

func (u *passkeyUser) WebAuthnDisplayName() string {
	return u.user.DisplayName
}

func (u *passkeyUser) WebAuthnIcon() string {
	return ""
}

func (u *passkeyUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

func (s *Service) loadPasskeyUser(ctx context.Context, base user.User) (*passkeyUser, error) {
	credentials, err := s.passkeys.ListPasskeyCredentials(ctx, base.ID)
	if err != nil {
		return nil, err
	}
	parsed, err := decodeStoredCredentials(credentials)
	if err != nil {
		return nil, err
	}
	return &passkeyUser{user: base, credentials: parsed}, nil
}

func decodeStoredCredentials(records []storage.PasskeyCredential) ([]webauthn.Credential, error) {
	if len(records) == 0 {
		return nil, nil
	}
	credentials := make([]webauthn.Credential, 0, len(records))
	for _, record := range records {
		var credential webauthn.Credential
		if err := json.Unmarshal([]byte(record.CredentialJSON), &credential); err != nil {
			return nil, fmt.Errorf("decode credential %s: %w", record.CredentialID, err)
		}
		credentials = append(credentials, credential)
	}
	return credentials, nil
}

// passkeyUserHandler resolves discoverable-login user handles, rejecting
// handles that belong to another tenant.
func (s *Service) passkeyUserHandler(ctx context.Context, appID string) webauthn.DiscoverableUserHandler {
	return func(_, userHandle []byte) (webauthn.User, error) {
		userID := strings.TrimSpace(string(userHandle))
		if userID == "" {
			return nil, fmt.Errorf("user handle is required")
		}
		baseUser, err := s.users.GetUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		if baseUser.AppID != appID {
			return nil, fmt.Errorf("user handle does not belong to application")
		}
		return s.loadPasskeyUser(ctx, baseUser)
	}
}

func (s *Service) findOrCreateUser(ctx context.Context, appID string, email string, displayName string) (user.User, error) {
	input, err := user.NormalizeCreateUserInput(user.CreateUserInput{
		AppID:       appID,
		Email:       email,
		DisplayName: displayName,
	})
	if err != nil {
		return user.User{}, err
	}

	existing, err := s.users.GetUserByEmail(ctx, appID, input.Email)
	if err == nil {
		return existing, nil
	}
	if err != storage.ErrNotFound {
		return user.User{}, err
	}

	created, err := user.CreateUser(input, s.clock, s.idGenerator)
	if err != nil {
		return user.User{}, err
	}
	if err := s.users.PutUser(ctx, created); err != nil {
		return user.User{}, fmt.Errorf("store user: %w", err)
	}
	return created, nil
}

// storeChallenge persists the ceremony session and packages the public
// challenge options for the client.
func (s *Service) storeChallenge(ctx context.Context, appID string, kind passkey.SessionKind, userID string, session *webauthn.SessionData, options any) (Challenge, error) {
	if session == nil {
		return Challenge{}, errInternal("session data is required")
	}
	sessionID, err := s.idGenerator()
	if err != nil {
		return Challenge{}, fmt.Errorf("create session id: %w", err)
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return Challenge{}, fmt.Errorf("encode session data: %w", err)
	}
	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return Challenge{}, fmt.Errorf("encode challenge options: %w", err)
	}

	expiresAt := s.clock().UTC().Add(s.passkeyConfig.SessionTTL)
	if err := s.passkeys.PutPasskeySession(ctx, storage.PasskeySession{
		ID:          sessionID,
		AppID:       appID,
		Kind:        string(kind),
		UserID:      userID,
		SessionJSON: string(payload),
		ExpiresAt:   expiresAt,
	}); err != nil {
		return Challenge{}, fmt.Errorf("store ceremony session: %w", err)
	}

	return Challenge{SessionID: sessionID, Options: optionsJSON, ExpiresAt: expiresAt}, nil
}

type consumedSession struct {
	Data   webauthn.SessionData
	UserID string
}

// consumeChallenge removes the ceremony session and decodes it. Consumption
// is single-use at the storage layer, so every failure after this point
// burns the challenge.
func (s *Service) consumeChallenge(ctx context.Context, appID string, sessionID string, expectedKind passkey.SessionKind) (consumedSession, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return consumedSession{}, errValidation("session id is required")
	}

	stored, err := s.passkeys.ConsumePasskeySession(ctx, sessionID, s.clock().UTC())
	if err != nil {
		if err == storage.ErrNotFound {
			return consumedSession{}, ErrInvalidChallenge
		}
		return consumedSession{}, fmt.Errorf("consume ceremony session: %w", err)
	}
	if stored.AppID != appID || stored.Kind != string(expectedKind) {
		return consumedSession{}, ErrInvalidChallenge
	}

	var session webauthn.SessionData
	if err := json.Unmarshal([]byte(stored.SessionJSON), &session); err != nil {
		return consumedSession{}, fmt.Errorf("decode ceremony session: %w", err)
	}
	return consumedSession{Data: session, UserID: stored.UserID}, nil
}

func previousSignCount(credentials []webauthn.Credential, credentialID []byte) (uint32, bool) {
	for _, credential := range credentials {
		if bytes.Equal(credential.ID, credentialID) {
			return credential.Authenticator.SignCount, true
		}
	}
	return 0, false
}

func encodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

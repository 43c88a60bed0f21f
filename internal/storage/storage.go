// Package storage defines the persistence interfaces for the auth server.
package storage

import (
	"context"
	"time"

	"github.com/passkeyme/passkeyme-server/internal/application"
	"github.com/passkeyme/passkeyme-server/internal/platform/errors"
	"github.com/passkeyme/passkeyme-server/internal/user"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// ErrConflict indicates a compare-and-set update lost to a concurrent writer.
var ErrConflict = errors.New(errors.CodeInternal, "concurrent update conflict")

// ApplicationStore persists tenant application records.
type ApplicationStore interface {
	PutApplication(ctx context.Context, app application.Application) error
	GetApplication(ctx context.Context, appID string) (application.Application, error)
	ListApplications(ctx context.Context) ([]application.Application, error)
}

// UserStore persists app-scoped user records.
type UserStore interface {
	PutUser(ctx context.Context, u user.User) error
	GetUser(ctx context.Context, userID string) (user.User, error)
	GetUserByEmail(ctx context.Context, appID string, email string) (user.User, error)
}

// PasskeyCredential stores a WebAuthn credential for a user.
type PasskeyCredential struct {
	CredentialID   string
	UserID         string
	AppID          string
	CredentialJSON string
	SignCount      uint32
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastUsedAt     *time.Time
}

// PasskeySession stores a pending WebAuthn registration or login ceremony.
type PasskeySession struct {
	ID          string
	AppID       string
	Kind        string
	UserID      string
	SessionJSON string
	ExpiresAt   time.Time
}

// RefreshToken stores a hashed refresh token. The plaintext token never
// reaches storage.
type RefreshToken struct {
	TokenHash string
	UserID    string
	AppID     string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// HostedSession stores a pending hosted authentication flow.
type HostedSession struct {
	ID          string
	AppID       string
	RedirectURI string
	State       string
	UserID      string
	CompletedAt *time.Time
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// OAuthState stores a pending provider round trip. The state value doubles
// as the primary key and the CSRF token echoed back on the callback.
type OAuthState struct {
	State           string
	AppID           string
	Provider        string
	RedirectURI     string
	HostedSessionID string
	CodeVerifier    string
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// OAuthIdentity links a provider account to a user.
type OAuthIdentity struct {
	Provider       string
	ProviderUserID string
	UserID         string
	AppID          string
	Email          string
	CreatedAt      time.Time
}

// PasskeyStore persists WebAuthn credential and ceremony session data.
type PasskeyStore interface {
	PutPasskeyCredential(ctx context.Context, credential PasskeyCredential) error
	GetPasskeyCredential(ctx context.Context, appID string, credentialID string) (PasskeyCredential, error)
	ListPasskeyCredentials(ctx context.Context, userID string) ([]PasskeyCredential, error)
	DeletePasskeyCredential(ctx context.Context, appID string, credentialID string) error
	// UpdatePasskeySignCount applies a compare-and-set on the stored sign
	// counter. ErrConflict is returned when the stored counter no longer
	// matches expected.
	UpdatePasskeySignCount(ctx context.Context, credentialID string, expected uint32, updated uint32, credentialJSON string, usedAt time.Time) error
	PutPasskeySession(ctx context.Context, session PasskeySession) error
	// ConsumePasskeySession atomically removes and returns a pending session.
	// A session can be consumed exactly once; later calls return ErrNotFound.
	ConsumePasskeySession(ctx context.Context, id string, now time.Time) (PasskeySession, error)
	DeleteExpiredPasskeySessions(ctx context.Context, now time.Time) error
}

// RefreshTokenStore persists hashed refresh tokens.
type RefreshTokenStore interface {
	PutRefreshToken(ctx context.Context, token RefreshToken) error
	GetRefreshToken(ctx context.Context, tokenHash string) (RefreshToken, error)
	// RotateRefreshToken revokes the old token and inserts its successor in
	// one transaction. ErrNotFound is returned when the old token is missing
	// or already revoked.
	RotateRefreshToken(ctx context.Context, oldHash string, next RefreshToken, revokedAt time.Time) error
	RevokeRefreshToken(ctx context.Context, tokenHash string, revokedAt time.Time) error
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) error
}

// HostedSessionStore persists hosted auth flow sessions.
type HostedSessionStore interface {
	PutHostedSession(ctx context.Context, session HostedSession) error
	GetHostedSession(ctx context.Context, id string) (HostedSession, error)
	CompleteHostedSession(ctx context.Context, id string, userID string, completedAt time.Time) error
	// ConsumeHostedSession atomically removes and returns a completed
	// session so it can be exchanged for tokens exactly once.
	ConsumeHostedSession(ctx context.Context, id string, now time.Time) (HostedSession, error)
	DeleteExpiredHostedSessions(ctx context.Context, now time.Time) error
}

// IdentityStore persists OAuth provider identities.
type IdentityStore interface {
	PutOAuthIdentity(ctx context.Context, identity OAuthIdentity) error
	GetOAuthIdentity(ctx context.Context, appID string, provider string, providerUserID string) (OAuthIdentity, error)
}

// OAuthStateStore persists pending provider round trips.
type OAuthStateStore interface {
	PutOAuthState(ctx context.Context, state OAuthState) error
	// ConsumeOAuthState atomically removes and returns a pending state. A
	// state can be consumed exactly once; later calls return ErrNotFound.
	ConsumeOAuthState(ctx context.Context, state string, now time.Time) (OAuthState, error)
	DeleteExpiredOAuthStates(ctx context.Context, now time.Time) error
}

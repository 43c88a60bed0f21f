package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/passkeyme/passkeyme-server/internal/storage"
)

// PutHostedSession stores a pending hosted auth session.
func (s *Store) PutHostedSession(ctx context.Context, session storage.HostedSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(session.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(session.AppID) == "" {
		return fmt.Errorf("app id is required")
	}
	if strings.TrimSpace(session.RedirectURI) == "" {
		return fmt.Errorf("redirect uri is required")
	}

	userID := sql.NullString{}
	if strings.TrimSpace(session.UserID) != "" {
		userID = sql.NullString{String: session.UserID, Valid: true}
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO hosted_sessions (id, app_id, redirect_uri, state, user_id, completed_at, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
		session.ID,
		session.AppID,
		session.RedirectURI,
		session.State,
		userID,
		nullMillis(session.CompletedAt),
		toMillis(session.CreatedAt),
		toMillis(session.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("put hosted session: %w", err)
	}
	return nil
}

// GetHostedSession fetches a hosted session by ID.
func (s *Store) GetHostedSession(ctx context.Context, id string) (storage.HostedSession, error) {
	if err := ctx.Err(); err != nil {
		return storage.HostedSession{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.HostedSession{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return storage.HostedSession{}, fmt.Errorf("session id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, app_id, redirect_uri, state, user_id, completed_at, created_at, expires_at
FROM hosted_sessions WHERE id = ?
`, id)
	session, err := scanHostedSession(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.HostedSession{}, storage.ErrNotFound
		}
		return storage.HostedSession{}, fmt.Errorf("get hosted session: %w", err)
	}
	return session, nil
}

// CompleteHostedSession marks a hosted session as finished by a user.
// A session completes at most once.
func (s *Store) CompleteHostedSession(ctx context.Context, id string, userID string, completedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE hosted_sessions
SET user_id = ?, completed_at = ?
WHERE id = ? AND completed_at IS NULL AND expires_at > ?
`, userID, toMillis(completedAt), id, toMillis(completedAt))
	if err != nil {
		return fmt.Errorf("complete hosted session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete hosted session: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ConsumeHostedSession atomically removes and returns a completed session.
// The token exchange at the end of the hosted flow happens exactly once.
func (s *Store) ConsumeHostedSession(ctx context.Context, id string, now time.Time) (storage.HostedSession, error) {
	if err := ctx.Err(); err != nil {
		return storage.HostedSession{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.HostedSession{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return storage.HostedSession{}, fmt.Errorf("session id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
DELETE FROM hosted_sessions
WHERE id = ? AND completed_at IS NOT NULL AND expires_at > ?
RETURNING id, app_id, redirect_uri, state, user_id, completed_at, created_at, expires_at
`, id, toMillis(now))
	session, err := scanHostedSession(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.HostedSession{}, storage.ErrNotFound
		}
		return storage.HostedSession{}, fmt.Errorf("consume hosted session: %w", err)
	}
	return session, nil
}

// DeleteExpiredHostedSessions removes expired hosted sessions.
func (s *Store) DeleteExpiredHostedSessions(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM hosted_sessions WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return fmt.Errorf("delete expired hosted sessions: %w", err)
	}
	return nil
}

// PutOAuthIdentity links a provider account to a user.
func (s *Store) PutOAuthIdentity(ctx context.Context, identity storage.OAuthIdentity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(identity.Provider) == "" {
		return fmt.Errorf("provider is required")
	}
	if strings.TrimSpace(identity.ProviderUserID) == "" {
		return fmt.Errorf("provider user id is required")
	}
	if strings.TrimSpace(identity.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(identity.AppID) == "" {
		return fmt.Errorf("app id is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO oauth_identities (provider, provider_user_id, app_id, user_id, email, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(app_id, provider, provider_user_id) DO UPDATE SET
	user_id = excluded.user_id,
	email = excluded.email
`,
		identity.Provider,
		identity.ProviderUserID,
		identity.AppID,
		identity.UserID,
		identity.Email,
		toMillis(identity.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("put oauth identity: %w", err)
	}
	return nil
}

// GetOAuthIdentity fetches a linked provider identity.
func (s *Store) GetOAuthIdentity(ctx context.Context, appID string, provider string, providerUserID string) (storage.OAuthIdentity, error) {
	if err := ctx.Err(); err != nil {
		return storage.OAuthIdentity{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.OAuthIdentity{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(provider) == "" || strings.TrimSpace(providerUserID) == "" {
		return storage.OAuthIdentity{}, fmt.Errorf("provider and provider user id are required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT provider, provider_user_id, app_id, user_id, email, created_at
FROM oauth_identities WHERE app_id = ? AND provider = ? AND provider_user_id = ?
`, appID, provider, providerUserID)

	var identity storage.OAuthIdentity
	var createdAt int64
	if err := row.Scan(
		&identity.Provider,
		&identity.ProviderUserID,
		&identity.AppID,
		&identity.UserID,
		&identity.Email,
		&createdAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.OAuthIdentity{}, storage.ErrNotFound
		}
		return storage.OAuthIdentity{}, fmt.Errorf("get oauth identity: %w", err)
	}
	identity.CreatedAt = fromMillis(createdAt)
	return identity, nil
}

func scanHostedSession(scan func(dest ...any) error) (storage.HostedSession, error) {
	var session storage.HostedSession
	var userID sql.NullString
	var completedAt sql.NullInt64
	var createdAt, expiresAt int64
	if err := scan(
		&session.ID,
		&session.AppID,
		&session.RedirectURI,
		&session.State,
		&userID,
		&completedAt,
		&createdAt,
		&expiresAt,
	); err != nil {
		return storage.HostedSession{}, err
	}
	if userID.Valid {
		session.UserID = userID.String
	}
	session.CompletedAt = millisPtr(completedAt)
	session.CreatedAt = fromMillis(createdAt)
	session.ExpiresAt = fromMillis(expiresAt)
	return session, nil
}

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

// PutPasskeyCredential stores a WebAuthn credential.
func (s *Store) PutPasskeyCredential(ctx context.Context, credential storage.PasskeyCredential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credential.CredentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	if strings.TrimSpace(credential.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(credential.AppID) == "" {
		return fmt.Errorf("app id is required")
	}
	if strings.TrimSpace(credential.CredentialJSON) == "" {
		return fmt.Errorf("credential json is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO passkey_credentials (
	credential_id, user_id, app_id, credential_json, sign_count,
	created_at, updated_at, last_used_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(credential_id) DO UPDATE SET
	credential_json = excluded.credential_json,
	sign_count = excluded.sign_count,
	updated_at = excluded.updated_at,
	last_used_at = excluded.last_used_at
`,
		credential.CredentialID,
		credential.UserID,
		credential.AppID,
		credential.CredentialJSON,
		int64(credential.SignCount),
		toMillis(credential.CreatedAt),
		toMillis(credential.UpdatedAt),
		nullMillis(credential.LastUsedAt),
	)
	if err != nil {
		return fmt.Errorf("put passkey credential: %w", err)
	}
	return nil
}

// GetPasskeyCredential fetches a stored WebAuthn credential scoped to an app.
func (s *Store) GetPasskeyCredential(ctx context.Context, appID string, credentialID string) (storage.PasskeyCredential, error) {
	if err := ctx.Err(); err != nil {
		return storage.PasskeyCredential{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.PasskeyCredential{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return storage.PasskeyCredential{}, fmt.Errorf("credential id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT credential_id, user_id, app_id, credential_json, sign_count,
	created_at, updated_at, last_used_at
FROM passkey_credentials WHERE app_id = ? AND credential_id = ?
`, appID, credentialID)

	credential, err := scanPasskeyCredential(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.PasskeyCredential{}, storage.ErrNotFound
		}
		return storage.PasskeyCredential{}, fmt.Errorf("get passkey credential: %w", err)
	}
	return credential, nil
}

// ListPasskeyCredentials returns the credentials registered by a user.
func (s *Store) ListPasskeyCredentials(ctx context.Context, userID string) ([]storage.PasskeyCredential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT credential_id, user_id, app_id, credential_json, sign_count,
	created_at, updated_at, last_used_at
FROM passkey_credentials WHERE user_id = ? ORDER BY created_at
`, userID)
	if err != nil {
		return nil, fmt.Errorf("list passkey credentials: %w", err)
	}
	defer rows.Close()

	credentials := make([]storage.PasskeyCredential, 0)
	for rows.Next() {
		credential, err := scanPasskeyCredential(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan passkey credential: %w", err)
		}
		credentials = append(credentials, credential)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list passkey credentials: %w", err)
	}
	return credentials, nil
}

// DeletePasskeyCredential removes a credential.
func (s *Store) DeletePasskeyCredential(ctx context.Context, appID string, credentialID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM passkey_credentials WHERE app_id = ? AND credential_id = ?`,
		appID, credentialID)
	if err != nil {
		return fmt.Errorf("delete passkey credential: %w", err)
	}
	return nil
}

// UpdatePasskeySignCount applies a compare-and-set on the stored sign counter.
//
// The WHERE clause pins the previously observed counter, so two assertions
// racing on the same credential serialize: the second sees zero rows updated
// and the request is rejected.
func (s *Store) UpdatePasskeySignCount(ctx context.Context, credentialID string, expected uint32, updated uint32, credentialJSON string, usedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	if strings.TrimSpace(credentialJSON) == "" {
		return fmt.Errorf("credential json is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE passkey_credentials
SET sign_count = ?, credential_json = ?, updated_at = ?, last_used_at = ?
WHERE credential_id = ? AND sign_count = ?
`,
		int64(updated),
		credentialJSON,
		toMillis(usedAt),
		toMillis(usedAt),
		credentialID,
		int64(expected),
	)
	if err != nil {
		return fmt.Errorf("update passkey sign count: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update passkey sign count: %w", err)
	}
	if affected == 0 {
		return storage.ErrConflict
	}
	return nil
}

// PutPasskeySession stores a pending ceremony session.
func (s *Store) PutPasskeySession(ctx context.Context, session storage.PasskeySession) error {
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
	if strings.TrimSpace(session.Kind) == "" {
		return fmt.Errorf("session kind is required")
	}
	if strings.TrimSpace(session.SessionJSON) == "" {
		return fmt.Errorf("session json is required")
	}

	userID := sql.NullString{}
	if strings.TrimSpace(session.UserID) != "" {
		userID = sql.NullString{String: session.UserID, Valid: true}
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO passkey_sessions (id, app_id, kind, user_id, session_json, expires_at)
VALUES (?, ?, ?, ?, ?, ?)
`,
		session.ID,
		session.AppID,
		session.Kind,
		userID,
		session.SessionJSON,
		toMillis(session.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("put passkey session: %w", err)
	}
	return nil
}

// ConsumePasskeySession atomically removes and returns a pending session.
//
// DELETE ... RETURNING makes consumption single-use: when two completions
// race, exactly one request receives the row and the other gets ErrNotFound.
// Expired sessions are never returned.
func (s *Store) ConsumePasskeySession(ctx context.Context, id string, now time.Time) (storage.PasskeySession, error) {
	if err := ctx.Err(); err != nil {
		return storage.PasskeySession{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.PasskeySession{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return storage.PasskeySession{}, fmt.Errorf("session id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
DELETE FROM passkey_sessions
WHERE id = ? AND expires_at > ?
RETURNING id, app_id, kind, user_id, session_json, expires_at
`, id, toMillis(now))

	var session storage.PasskeySession
	var userID sql.NullString
	var expiresAt int64
	if err := row.Scan(
		&session.ID,
		&session.AppID,
		&session.Kind,
		&userID,
		&session.SessionJSON,
		&expiresAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.PasskeySession{}, storage.ErrNotFound
		}
		return storage.PasskeySession{}, fmt.Errorf("consume passkey session: %w", err)
	}
	if userID.Valid {
		session.UserID = userID.String
	}
	session.ExpiresAt = fromMillis(expiresAt)
	return session, nil
}

// DeleteExpiredPasskeySessions removes expired ceremony sessions.
func (s *Store) DeleteExpiredPasskeySessions(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM passkey_sessions WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return fmt.Errorf("delete expired passkey sessions: %w", err)
	}
	return nil
}

func scanPasskeyCredential(scan func(dest ...any) error) (storage.PasskeyCredential, error) {
	var credential storage.PasskeyCredential
	var signCount int64
	var createdAt, updatedAt int64
	var lastUsedAt sql.NullInt64
	if err := scan(
		&credential.CredentialID,
		&credential.UserID,
		&credential.AppID,
		&credential.CredentialJSON,
		&signCount,
		&createdAt,
		&updatedAt,
		&lastUsedAt,
	); err != nil {
		return storage.PasskeyCredential{}, err
	}
	credential.SignCount = uint32(signCount)
	credential.CreatedAt = fromMillis(createdAt)
	credential.UpdatedAt = fromMillis(updatedAt)
	credential.LastUsedAt = millisPtr(lastUsedAt)
	return credential, nil
}

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

// PutRefreshToken stores a hashed refresh token.
func (s *Store) PutRefreshToken(ctx context.Context, token storage.RefreshToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if err := validateRefreshToken(token); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx, insertRefreshTokenQuery,
		token.TokenHash,
		token.UserID,
		token.AppID,
		toMillis(token.CreatedAt),
		toMillis(token.ExpiresAt),
		nullMillis(token.RevokedAt),
	); err != nil {
		return fmt.Errorf("put refresh token: %w", err)
	}
	return nil
}

// GetRefreshToken fetches a refresh token by its hash.
func (s *Store) GetRefreshToken(ctx context.Context, tokenHash string) (storage.RefreshToken, error) {
	if err := ctx.Err(); err != nil {
		return storage.RefreshToken{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.RefreshToken{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(tokenHash) == "" {
		return storage.RefreshToken{}, fmt.Errorf("token hash is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT token_hash, user_id, app_id, created_at, expires_at, revoked_at
FROM refresh_tokens WHERE token_hash = ?
`, tokenHash)

	var token storage.RefreshToken
	var createdAt, expiresAt int64
	var revokedAt sql.NullInt64
	if err := row.Scan(
		&token.TokenHash,
		&token.UserID,
		&token.AppID,
		&createdAt,
		&expiresAt,
		&revokedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.RefreshToken{}, storage.ErrNotFound
		}
		return storage.RefreshToken{}, fmt.Errorf("get refresh token: %w", err)
	}
	token.CreatedAt = fromMillis(createdAt)
	token.ExpiresAt = fromMillis(expiresAt)
	token.RevokedAt = millisPtr(revokedAt)
	return token, nil
}

// RotateRefreshToken revokes the old token and inserts its successor in one
// transaction. A token that is missing, revoked, or expired cannot rotate.
func (s *Store) RotateRefreshToken(ctx context.Context, oldHash string, next storage.RefreshToken, revokedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(oldHash) == "" {
		return fmt.Errorf("old token hash is required")
	}
	if err := validateRefreshToken(next); err != nil {
		return err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rotate refresh token: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
UPDATE refresh_tokens
SET revoked_at = ?
WHERE token_hash = ? AND revoked_at IS NULL AND expires_at > ?
`, toMillis(revokedAt), oldHash, toMillis(revokedAt))
	if err != nil {
		return fmt.Errorf("revoke old refresh token: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke old refresh token: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, insertRefreshTokenQuery,
		next.TokenHash,
		next.UserID,
		next.AppID,
		toMillis(next.CreatedAt),
		toMillis(next.ExpiresAt),
		nullMillis(next.RevokedAt),
	); err != nil {
		return fmt.Errorf("insert rotated refresh token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rotate refresh token: %w", err)
	}
	return nil
}

// RevokeRefreshToken marks a refresh token as revoked.
func (s *Store) RevokeRefreshToken(ctx context.Context, tokenHash string, revokedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(tokenHash) == "" {
		return fmt.Errorf("token hash is required")
	}
	_, err := s.sqlDB.ExecContext(ctx, `
UPDATE refresh_tokens SET revoked_at = ?
WHERE token_hash = ? AND revoked_at IS NULL
`, toMillis(revokedAt), tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// DeleteExpiredRefreshTokens removes expired refresh tokens.
func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	return nil
}

const insertRefreshTokenQuery = `
INSERT INTO refresh_tokens (token_hash, user_id, app_id, created_at, expires_at, revoked_at)
VALUES (?, ?, ?, ?, ?, ?)
`

func validateRefreshToken(token storage.RefreshToken) error {
	if strings.TrimSpace(token.TokenHash) == "" {
		return fmt.Errorf("token hash is required")
	}
	if strings.TrimSpace(token.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(token.AppID) == "" {
		return fmt.Errorf("app id is required")
	}
	return nil
}

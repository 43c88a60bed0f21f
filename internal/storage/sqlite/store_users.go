package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/passkeyme/passkeyme-server/internal/storage"
	"github.com/passkeyme/passkeyme-server/internal/user"
)

// PutUser inserts or replaces a user record.
func (s *Store) PutUser(ctx context.Context, u user.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(u.AppID) == "" {
		return fmt.Errorf("app id is required")
	}
	if strings.TrimSpace(u.Email) == "" {
		return fmt.Errorf("email is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO users (id, app_id, email, display_name, email_verified, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	email = excluded.email,
	display_name = excluded.display_name,
	email_verified = excluded.email_verified,
	updated_at = excluded.updated_at
`,
		u.ID,
		u.AppID,
		u.Email,
		u.DisplayName,
		boolToInt(u.EmailVerified),
		toMillis(u.CreatedAt),
		toMillis(u.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

// GetUser fetches a user by ID.
func (s *Store) GetUser(ctx context.Context, userID string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	if s == nil || s.sqlDB == nil {
		return user.User{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return user.User{}, fmt.Errorf("user id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, app_id, email, display_name, email_verified, created_at, updated_at
FROM users WHERE id = ?
`, userID)
	return scanUser(row.Scan)
}

// GetUserByEmail fetches a user inside an application by email.
func (s *Store) GetUserByEmail(ctx context.Context, appID string, email string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	if s == nil || s.sqlDB == nil {
		return user.User{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(appID) == "" {
		return user.User{}, fmt.Errorf("app id is required")
	}
	if strings.TrimSpace(email) == "" {
		return user.User{}, fmt.Errorf("email is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, app_id, email, display_name, email_verified, created_at, updated_at
FROM users WHERE app_id = ? AND email = ?
`, appID, strings.ToLower(strings.TrimSpace(email)))
	return scanUser(row.Scan)
}

func scanUser(scan func(dest ...any) error) (user.User, error) {
	var u user.User
	var emailVerified int64
	var createdAt, updatedAt int64
	if err := scan(
		&u.ID,
		&u.AppID,
		&u.Email,
		&u.DisplayName,
		&emailVerified,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, storage.ErrNotFound
		}
		return user.User{}, fmt.Errorf("get user: %w", err)
	}
	u.EmailVerified = emailVerified != 0
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return u, nil
}

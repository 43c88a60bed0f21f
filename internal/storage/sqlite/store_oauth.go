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

// PutOAuthState stores a pending provider round trip.
func (s *Store) PutOAuthState(ctx context.Context, state storage.OAuthState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(state.State) == "" {
		return fmt.Errorf("state is required")
	}
	if strings.TrimSpace(state.AppID) == "" {
		return fmt.Errorf("app id is required")
	}
	if strings.TrimSpace(state.Provider) == "" {
		return fmt.Errorf("provider is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO oauth_states (state, app_id, provider, redirect_uri, hosted_session_id, code_verifier, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
		state.State,
		state.AppID,
		state.Provider,
		state.RedirectURI,
		state.HostedSessionID,
		state.CodeVerifier,
		toMillis(state.CreatedAt),
		toMillis(state.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("put oauth state: %w", err)
	}
	return nil
}

// ConsumeOAuthState atomically removes and returns a pending state.
// A callback can redeem its state exactly once.
func (s *Store) ConsumeOAuthState(ctx context.Context, state string, now time.Time) (storage.OAuthState, error) {
	if err := ctx.Err(); err != nil {
		return storage.OAuthState{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.OAuthState{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(state) == "" {
		return storage.OAuthState{}, fmt.Errorf("state is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
DELETE FROM oauth_states
WHERE state = ? AND expires_at > ?
RETURNING state, app_id, provider, redirect_uri, hosted_session_id, code_verifier, created_at, expires_at
`, state, toMillis(now))

	var record storage.OAuthState
	var createdAt, expiresAt int64
	if err := row.Scan(
		&record.State,
		&record.AppID,
		&record.Provider,
		&record.RedirectURI,
		&record.HostedSessionID,
		&record.CodeVerifier,
		&createdAt,
		&expiresAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.OAuthState{}, storage.ErrNotFound
		}
		return storage.OAuthState{}, fmt.Errorf("consume oauth state: %w", err)
	}
	record.CreatedAt = fromMillis(createdAt)
	record.ExpiresAt = fromMillis(expiresAt)
	return record, nil
}

// DeleteExpiredOAuthStates removes expired provider states.
func (s *Store) DeleteExpiredOAuthStates(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM oauth_states WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return fmt.Errorf("delete expired oauth states: %w", err)
	}
	return nil
}

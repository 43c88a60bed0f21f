package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/passkeyme/passkeyme-server/internal/application"
	"github.com/passkeyme/passkeyme-server/internal/storage"
)

// PutApplication inserts or replaces a tenant application record.
func (s *Store) PutApplication(ctx context.Context, app application.Application) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(app.ID) == "" {
		return fmt.Errorf("application id is required")
	}
	if strings.TrimSpace(app.RPID) == "" {
		return fmt.Errorf("relying party id is required")
	}

	origins, err := json.Marshal(app.Origins)
	if err != nil {
		return fmt.Errorf("encode origins: %w", err)
	}
	redirects, err := json.Marshal(app.RedirectURIs)
	if err != nil {
		return fmt.Errorf("encode redirect uris: %w", err)
	}
	providers, err := json.Marshal(app.Providers)
	if err != nil {
		return fmt.Errorf("encode providers: %w", err)
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO applications (
	id, name, rp_id, origins_json, redirect_uris_json,
	passkeys_enabled, providers_json, api_key_hash, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	name = excluded.name,
	rp_id = excluded.rp_id,
	origins_json = excluded.origins_json,
	redirect_uris_json = excluded.redirect_uris_json,
	passkeys_enabled = excluded.passkeys_enabled,
	providers_json = excluded.providers_json,
	api_key_hash = excluded.api_key_hash,
	updated_at = excluded.updated_at
`,
		app.ID,
		app.Name,
		app.RPID,
		string(origins),
		string(redirects),
		boolToInt(app.PasskeysEnabled),
		string(providers),
		app.APIKeyHash,
		toMillis(app.CreatedAt),
		toMillis(app.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put application: %w", err)
	}
	return nil
}

// GetApplication fetches a tenant application by ID.
func (s *Store) GetApplication(ctx context.Context, appID string) (application.Application, error) {
	if err := ctx.Err(); err != nil {
		return application.Application{}, err
	}
	if s == nil || s.sqlDB == nil {
		return application.Application{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(appID) == "" {
		return application.Application{}, fmt.Errorf("application id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, name, rp_id, origins_json, redirect_uris_json,
	passkeys_enabled, providers_json, api_key_hash, created_at, updated_at
FROM applications WHERE id = ?
`, appID)

	app, err := scanApplication(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return application.Application{}, storage.ErrNotFound
		}
		return application.Application{}, fmt.Errorf("get application: %w", err)
	}
	return app, nil
}

// ListApplications returns every tenant application.
func (s *Store) ListApplications(ctx context.Context) ([]application.Application, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, name, rp_id, origins_json, redirect_uris_json,
	passkeys_enabled, providers_json, api_key_hash, created_at, updated_at
FROM applications ORDER BY id
`)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	var apps []application.Application
	for rows.Next() {
		app, err := scanApplication(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	return apps, nil
}

func scanApplication(scan func(dest ...any) error) (application.Application, error) {
	var app application.Application
	var origins, redirects, providers string
	var passkeysEnabled int64
	var createdAt, updatedAt int64
	if err := scan(
		&app.ID,
		&app.Name,
		&app.RPID,
		&origins,
		&redirects,
		&passkeysEnabled,
		&providers,
		&app.APIKeyHash,
		&createdAt,
		&updatedAt,
	); err != nil {
		return application.Application{}, err
	}
	if err := json.Unmarshal([]byte(origins), &app.Origins); err != nil {
		return application.Application{}, fmt.Errorf("decode origins: %w", err)
	}
	if err := json.Unmarshal([]byte(redirects), &app.RedirectURIs); err != nil {
		return application.Application{}, fmt.Errorf("decode redirect uris: %w", err)
	}
	if err := json.Unmarshal([]byte(providers), &app.Providers); err != nil {
		return application.Application{}, fmt.Errorf("decode providers: %w", err)
	}
	app.PasskeysEnabled = passkeysEnabled != 0
	app.CreatedAt = fromMillis(createdAt)
	app.UpdatedAt = fromMillis(updatedAt)
	return app, nil
}

func boolToInt(value bool) int64 {
	if value {
		return 1
	}
	return 0
}

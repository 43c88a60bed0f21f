// Package application provides tenant application records and policy checks.
package application

import (
	"strings"
	"time"

	apperrors "github.com/passkeyme/passkeyme-server/internal/platform/errors"
	"golang.org/x/crypto/bcrypt"
)

// ErrNotFound indicates an unknown application ID.
var ErrNotFound = apperrors.New(apperrors.CodeInvalidAppID, "application not found")

// ErrMethodDisabled indicates the requested authentication method is off for the tenant.
var ErrMethodDisabled = apperrors.New(apperrors.CodeMethodDisabled, "authentication method is disabled for this application")

// ErrInvalidAPIKey indicates a failed server-side API key check.
var ErrInvalidAPIKey = apperrors.New(apperrors.CodeInvalidAPIKey, "invalid api key")

// Application is the tenant boundary. Every challenge, credential, and token
// is scoped to exactly one application.
type Application struct {
	ID              string
	Name            string
	RPID            string
	Origins         []string
	RedirectURIs    []string
	PasskeysEnabled bool
	Providers       []string
	APIKeyHash      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OriginAllowed reports whether a WebAuthn origin is registered for the application.
func (a Application) OriginAllowed(origin string) bool {
	origin = strings.TrimRight(strings.TrimSpace(origin), "/")
	for _, allowed := range a.Origins {
		if strings.TrimRight(strings.TrimSpace(allowed), "/") == origin {
			return true
		}
	}
	return false
}

// RedirectAllowed reports whether a hosted-flow redirect URI is registered.
func (a Application) RedirectAllowed(uri string) bool {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return false
	}
	for _, allowed := range a.RedirectURIs {
		if strings.TrimSpace(allowed) == uri {
			return true
		}
	}
	return false
}

// ProviderEnabled reports whether an OAuth provider is enabled for the application.
func (a Application) ProviderEnabled(provider string) bool {
	provider = strings.TrimSpace(provider)
	for _, enabled := range a.Providers {
		if strings.EqualFold(strings.TrimSpace(enabled), provider) {
			return true
		}
	}
	return false
}

// VerifyAPIKey checks a server-side API key against the stored bcrypt hash.
func (a Application) VerifyAPIKey(key string) error {
	if a.APIKeyHash == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidAPIKey
	}
	if bcrypt.CompareHashAndPassword([]byte(a.APIKeyHash), []byte(key)) != nil {
		return ErrInvalidAPIKey
	}
	return nil
}

// HashAPIKey derives the stored bcrypt hash for a plaintext API key.
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Normalize trims fields and validates the minimum tenant shape.
func Normalize(app Application) (Application, error) {
	app.ID = strings.TrimSpace(app.ID)
	app.Name = strings.TrimSpace(app.Name)
	app.RPID = strings.TrimSpace(app.RPID)
	if app.ID == "" {
		return Application{}, apperrors.New(apperrors.CodeValidationFailed, "application id is required")
	}
	if app.RPID == "" {
		return Application{}, apperrors.New(apperrors.CodeValidationFailed, "relying party id is required")
	}
	if app.Name == "" {
		app.Name = app.ID
	}
	if len(app.Origins) == 0 {
		app.Origins = []string{"https://" + app.RPID}
	}
	return app, nil
}

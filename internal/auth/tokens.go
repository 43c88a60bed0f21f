package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/passkeyme/passkeyme-server/internal/storage"
	"github.com/passkeyme/passkeyme-server/internal/token"
	"github.com/passkeyme/passkeyme-server/internal/user"
)

// TokenRefresh is the outcome of a refresh rotation.
type TokenRefresh struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// ValidationResult reports whether an access token is good and for whom.
// Invalid tokens produce Valid=false, never an error, so the validation
// endpoints cannot be used as an oracle for why a token failed.
type ValidationResult struct {
	Valid     bool
	UserID    string
	AppID     string
	Email     string
	Scopes    []string
	ExpiresAt time.Time
}

// issueTokens mints a pair for the user and persists the refresh token hash.
func (s *Service) issueTokens(ctx context.Context, u user.User, hasPasskey bool) (token.Pair, error) {
	if s.issuer == nil {
		return token.Pair{}, errInternal("token issuer is not configured")
	}
	if s.refresh == nil {
		return token.Pair{}, errInternal("refresh token store is not configured")
	}

	pair, err := s.issuer.Issue(token.Subject{
		UserID:        u.ID,
		AppID:         u.AppID,
		Email:         u.Email,
		HasPasskey:    hasPasskey,
		EmailVerified: u.EmailVerified,
	})
	if err != nil {
		return token.Pair{}, fmt.Errorf("issue tokens: %w", err)
	}

	now := s.clock().UTC()
	if err := s.refresh.PutRefreshToken(ctx, storage.RefreshToken{
		TokenHash: pair.RefreshTokenHash,
		UserID:    u.ID,
		AppID:     u.AppID,
		CreatedAt: now,
		ExpiresAt: pair.RefreshExpiresAt,
	}); err != nil {
		return token.Pair{}, fmt.Errorf("store refresh token: %w", err)
	}
	return pair, nil
}

// Refresh exchanges a refresh token for a new pair and revokes the old token.
//
// Rotation is transactional at the storage layer: two concurrent refreshes of
// the same token produce exactly one new pair.
func (s *Service) Refresh(ctx context.Context, appID string, refreshToken string) (TokenRefresh, error) {
	ctx, span := tracer.Start(ctx, "auth.Refresh")
	defer span.End()
	if s.refresh == nil || s.users == nil || s.issuer == nil {
		return TokenRefresh{}, errInternal("storage is not configured")
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return TokenRefresh{}, token.ErrInvalidToken
	}

	oldHash := token.HashRefreshToken(refreshToken)
	stored, err := s.refresh.GetRefreshToken(ctx, oldHash)
	if err != nil {
		if err == storage.ErrNotFound {
			return TokenRefresh{}, token.ErrInvalidToken
		}
		return TokenRefresh{}, err
	}

	now := s.clock().UTC()
	if stored.RevokedAt != nil || !stored.ExpiresAt.After(now) {
		return TokenRefresh{}, token.ErrInvalidToken
	}
	if appID = strings.TrimSpace(appID); appID != "" && stored.AppID != appID {
		return TokenRefresh{}, token.ErrInvalidToken
	}

	baseUser, err := s.users.GetUser(ctx, stored.UserID)
	if err != nil {
		if err == storage.ErrNotFound {
			return TokenRefresh{}, token.ErrInvalidToken
		}
		return TokenRefresh{}, err
	}

	hasPasskey, err := s.userHasPasskey(ctx, baseUser.ID)
	if err != nil {
		return TokenRefresh{}, err
	}

	pair, err := s.issuer.Issue(token.Subject{
		UserID:        baseUser.ID,
		AppID:         baseUser.AppID,
		Email:         baseUser.Email,
		HasPasskey:    hasPasskey,
		EmailVerified: baseUser.EmailVerified,
	})
	if err != nil {
		return TokenRefresh{}, fmt.Errorf("issue tokens: %w", err)
	}

	err = s.refresh.RotateRefreshToken(ctx, oldHash, storage.RefreshToken{
		TokenHash: pair.RefreshTokenHash,
		UserID:    baseUser.ID,
		AppID:     baseUser.AppID,
		CreatedAt: now,
		ExpiresAt: pair.RefreshExpiresAt,
	}, now)
	if err != nil {
		if err == storage.ErrNotFound {
			// A concurrent refresh won the rotation.
			return TokenRefresh{}, token.ErrInvalidToken
		}
		return TokenRefresh{}, fmt.Errorf("rotate refresh token: %w", err)
	}

	return TokenRefresh{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	}, nil
}

// Validate checks a bearer access token.
func (s *Service) Validate(ctx context.Context, accessToken string) (ValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return ValidationResult{}, err
	}
	if s.issuer == nil {
		return ValidationResult{}, errInternal("token issuer is not configured")
	}
	claims, err := s.issuer.Verify(strings.TrimSpace(accessToken), "")
	if err != nil {
		return ValidationResult{Valid: false}, nil
	}
	return resultFromClaims(claims), nil
}

// VerifyToken checks an access token on behalf of an application backend.
// The caller authenticates with the application API key and the token
// audience must match the application.
func (s *Service) VerifyToken(ctx context.Context, appID string, apiKey string, accessToken string) (ValidationResult, error) {
	app, err := s.application(ctx, strings.TrimSpace(appID), false)
	if err != nil {
		return ValidationResult{}, err
	}
	if err := app.VerifyAPIKey(apiKey); err != nil {
		return ValidationResult{}, err
	}
	if s.issuer == nil {
		return ValidationResult{}, errInternal("token issuer is not configured")
	}
	claims, err := s.issuer.Verify(strings.TrimSpace(accessToken), app.ID)
	if err != nil {
		return ValidationResult{Valid: false}, nil
	}
	return resultFromClaims(claims), nil
}

// Logout revokes a refresh token. Unknown tokens succeed; logout is
// idempotent.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if s.refresh == nil {
		return errInternal("refresh token store is not configured")
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}
	return s.refresh.RevokeRefreshToken(ctx, token.HashRefreshToken(refreshToken), s.clock().UTC())
}

func (s *Service) userHasPasskey(ctx context.Context, userID string) (bool, error) {
	if s.passkeys == nil {
		return false, nil
	}
	credentials, err := s.passkeys.ListPasskeyCredentials(ctx, userID)
	if err != nil {
		return false, err
	}
	return len(credentials) > 0, nil
}

func resultFromClaims(claims *token.Claims) ValidationResult {
	result := ValidationResult{
		Valid:  true,
		UserID: claims.UserID,
		AppID:  claims.AppID,
		Email:  claims.Email,
	}
	if claims.Scope != "" {
		result.Scopes = strings.Fields(claims.Scope)
	}
	if claims.ExpiresAt != nil {
		result.ExpiresAt = claims.ExpiresAt.Time
	}
	return result
}

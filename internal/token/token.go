package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	apperrors "github.com/passkeyme/passkeyme-server/internal/platform/errors"
)

// ErrInvalidToken is the single error surfaced for any verification failure.
//
// Expired, malformed, wrong audience, and bad signature are deliberately
// indistinguishable to callers so error specificity cannot be used as an
// oracle.
var ErrInvalidToken = apperrors.New(apperrors.CodeInvalidToken, "invalid token")

// Claims is the access token claim set.
type Claims struct {
	jwt.RegisteredClaims
	Email         string `json:"email,omitempty"`
	UserID        string `json:"user_id,omitempty"`
	AppID         string `json:"app_id,omitempty"`
	Scope         string `json:"scope,omitempty"`
	HasPasskey    bool   `json:"has_passkey"`
	EmailVerified bool   `json:"email_verified"`
}

// Subject describes the identity a token pair is minted for.
type Subject struct {
	UserID        string
	AppID         string
	Email         string
	HasPasskey    bool
	EmailVerified bool
}

// Pair is one issued access/refresh token pair.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	RefreshTokenHash string
	ExpiresIn        int64
	RefreshExpiresAt time.Time
}

// Issuer mints EdDSA-signed access tokens and opaque refresh tokens.
type Issuer struct {
	config Config
	ring   KeyRing
	clock  func() time.Time
}

// NewIssuer builds an issuer from config and a signing key ring.
func NewIssuer(config Config, ring KeyRing) *Issuer {
	return &Issuer{config: config, ring: ring, clock: time.Now}
}

// WithClock overrides the issuer clock, for tests.
func (i *Issuer) WithClock(clock func() time.Time) *Issuer {
	if clock != nil {
		i.clock = clock
	}
	return i
}

// AccessTTL reports the configured access token lifetime.
func (i *Issuer) AccessTTL() time.Duration {
	return i.config.AccessTTL
}

// RefreshTTL reports the configured refresh token lifetime.
func (i *Issuer) RefreshTTL() time.Duration {
	return i.config.RefreshTTL
}

// Issue mints a new token pair for the subject.
func (i *Issuer) Issue(subject Subject) (Pair, error) {
	if subject.UserID == "" || subject.AppID == "" {
		return Pair{}, apperrors.New(apperrors.CodeValidationFailed, "user id and app id are required")
	}
	key, err := i.ring.SigningKey()
	if err != nil {
		return Pair{}, fmt.Errorf("resolve signing key: %w", err)
	}

	now := i.clock().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.UserID,
			Audience:  jwt.ClaimStrings{subject.AppID},
			Issuer:    i.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.config.AccessTTL)),
		},
		Email:         subject.Email,
		UserID:        subject.UserID,
		AppID:         subject.AppID,
		Scope:         i.config.Scope,
		HasPasskey:    subject.HasPasskey,
		EmailVerified: subject.EmailVerified,
	}

	unsigned := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	unsigned.Header["kid"] = i.ring.ActiveKID()
	signed, err := unsigned.SignedString(key)
	if err != nil {
		return Pair{}, fmt.Errorf("sign access token: %w", err)
	}

	refresh, refreshHash, err := NewRefreshToken()
	if err != nil {
		return Pair{}, fmt.Errorf("generate refresh token: %w", err)
	}

	return Pair{
		AccessToken:      signed,
		RefreshToken:     refresh,
		RefreshTokenHash: refreshHash,
		ExpiresIn:        int64(i.config.AccessTTL.Seconds()),
		RefreshExpiresAt: now.Add(i.config.RefreshTTL),
	}, nil
}

// Verify validates an access token and returns its claims.
//
// When expectedAppID is non-empty the token audience must match it.
func (i *Issuer) Verify(tokenString string, expectedAppID string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(i.config.Issuer),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return i.clock().UTC() }),
	}
	if expectedAppID != "" {
		options = append(options, jwt.WithAudience(expectedAppID))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no kid header")
		}
		return i.ring.PublicKey(kid)
	}, options...)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.AppID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// NewRefreshToken returns an opaque refresh token and its storage hash.
// Only the hash is ever persisted.
func NewRefreshToken() (plain string, hash string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	plain = hex.EncodeToString(raw)
	return plain, HashRefreshToken(plain), nil
}

// HashRefreshToken derives the storage hash for a presented refresh token.
func HashRefreshToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

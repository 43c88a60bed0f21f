package token

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"
	"time"

	apperrors "github.com/passkeyme/passkeyme-server/internal/platform/errors"
)

func testConfig() Config {
	return Config{
		Issuer:     "https://auth.test",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
		Scope:      "openid profile email",
	}
}

func testIssuer(t *testing.T) *Issuer {
	t.Helper()
	ring, err := NewEphemeralKeyRing()
	if err != nil {
		t.Fatalf("new key ring: %v", err)
	}
	return NewIssuer(testConfig(), ring)
}

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	issuer := testIssuer(t).WithClock(func() time.Time { return fixed })

	pair, err := issuer.Issue(Subject{
		UserID:        "user-1",
		AppID:         "app_1",
		Email:         "person@example.com",
		HasPasskey:    true,
		EmailVerified: true,
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected non-empty token pair")
	}
	if pair.ExpiresIn != 3600 {
		t.Fatalf("expires in = %d, want 3600", pair.ExpiresIn)
	}
	if pair.RefreshTokenHash != HashRefreshToken(pair.RefreshToken) {
		t.Fatal("refresh hash does not match token")
	}

	claims, err := issuer.Verify(pair.AccessToken, "app_1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "user-1" || claims.UserID != "user-1" {
		t.Fatalf("unexpected subject claims: %+v", claims)
	}
	if claims.AppID != "app_1" {
		t.Fatalf("app id = %q, want %q", claims.AppID, "app_1")
	}
	if claims.Email != "person@example.com" {
		t.Fatalf("email = %q", claims.Email)
	}
	if !claims.HasPasskey || !claims.EmailVerified {
		t.Fatalf("expected passkey/verified flags set: %+v", claims)
	}
	if claims.Scope != "openid profile email" {
		t.Fatalf("scope = %q", claims.Scope)
	}
	if !claims.ExpiresAt.Time.Equal(fixed.Add(time.Hour)) {
		t.Fatalf("exp = %v, want %v", claims.ExpiresAt.Time, fixed.Add(time.Hour))
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	issuer := testIssuer(t).WithClock(func() time.Time { return now })

	pair, err := issuer.Issue(Subject{UserID: "user-1", AppID: "app_1"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	now = now.Add(2 * time.Hour)
	if _, err := issuer.Verify(pair.AccessToken, "app_1"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestVerifyRejectsWrongAudience(t *testing.T) {
	issuer := testIssuer(t)
	pair, err := issuer.Issue(Subject{UserID: "user-1", AppID: "app_1"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := issuer.Verify(pair.AccessToken, "app_2"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong audience, got %v", err)
	}
	// No declared audience skips the check.
	if _, err := issuer.Verify(pair.AccessToken, ""); err != nil {
		t.Fatalf("verify without audience: %v", err)
	}
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	issuer := testIssuer(t)
	other := testIssuer(t)

	pair, err := other.Issue(Subject{UserID: "user-1", AppID: "app_1"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := issuer.Verify(pair.AccessToken, "app_1"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign signature, got %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	issuer := testIssuer(t)
	for _, input := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := issuer.Verify(input, "app_1"); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("input %q: expected ErrInvalidToken, got %v", input, err)
		}
	}
}

func TestVerifyCollapsesToSingleCode(t *testing.T) {
	issuer := testIssuer(t)
	_, err := issuer.Verify("garbage", "app_1")
	if apperrors.GetCode(err) != apperrors.CodeInvalidToken {
		t.Fatalf("expected INVALID_TOKEN code, got %v", apperrors.GetCode(err))
	}
}

func TestIssueRequiresSubject(t *testing.T) {
	issuer := testIssuer(t)
	if _, err := issuer.Issue(Subject{AppID: "app_1"}); err == nil {
		t.Fatal("expected error for missing user id")
	}
	if _, err := issuer.Issue(Subject{UserID: "user-1"}); err == nil {
		t.Fatal("expected error for missing app id")
	}
}

func TestParseKeyRingAndRotation(t *testing.T) {
	seed1 := make([]byte, ed25519.SeedSize)
	seed2 := make([]byte, ed25519.SeedSize)
	for i := range seed2 {
		seed2[i] = 1
	}
	ringJSON := fmt.Sprintf(`{"active":"k2","keys":{"k1":%q,"k2":%q}}`,
		base64.StdEncoding.EncodeToString(seed1),
		base64.StdEncoding.EncodeToString(seed2),
	)

	ring, err := ParseKeyRing(ringJSON)
	if err != nil {
		t.Fatalf("parse key ring: %v", err)
	}
	if ring.ActiveKID() != "k2" {
		t.Fatalf("active kid = %q, want k2", ring.ActiveKID())
	}

	// A token signed under the retired key still verifies.
	oldRing, err := ParseKeyRing(fmt.Sprintf(`{"active":"k1","keys":{"k1":%q}}`,
		base64.StdEncoding.EncodeToString(seed1)))
	if err != nil {
		t.Fatalf("parse old ring: %v", err)
	}
	oldIssuer := NewIssuer(testConfig(), oldRing)
	pair, err := oldIssuer.Issue(Subject{UserID: "user-1", AppID: "app_1"})
	if err != nil {
		t.Fatalf("issue under old key: %v", err)
	}

	newIssuer := NewIssuer(testConfig(), ring)
	if _, err := newIssuer.Verify(pair.AccessToken, "app_1"); err != nil {
		t.Fatalf("verify under rotated ring: %v", err)
	}
}

func TestParseKeyRingRejectsBadInput(t *testing.T) {
	cases := []string{
		"",
		"{",
		`{"active":"","keys":{}}`,
		`{"active":"k1","keys":{}}`,
		`{"active":"missing","keys":{"k1":"AAAA"}}`,
		`{"active":"k1","keys":{"k1":"AAAA"}}`, // 3 bytes, wrong size
	}
	for _, input := range cases {
		if _, err := ParseKeyRing(input); err == nil {
			t.Fatalf("input %q: expected error", input)
		}
	}
}

func TestNewRefreshTokenUnique(t *testing.T) {
	a, hashA, err := NewRefreshToken()
	if err != nil {
		t.Fatalf("new refresh token: %v", err)
	}
	b, hashB, err := NewRefreshToken()
	if err != nil {
		t.Fatalf("new refresh token: %v", err)
	}
	if a == b || hashA == hashB {
		t.Fatal("expected unique refresh tokens")
	}
	if len(a) != 64 {
		t.Fatalf("token length = %d, want 64 hex chars", len(a))
	}
}

package application

import (
	"errors"
	"testing"

	apperrors "github.com/passkeyme/passkeyme-server/internal/platform/errors"
)

func TestOriginAllowed(t *testing.T) {
	app := Application{Origins: []string{"https://example.com", "https://app.example.com/"}}
	if !app.OriginAllowed("https://example.com") {
		t.Fatal("expected exact origin to be allowed")
	}
	if !app.OriginAllowed("https://app.example.com") {
		t.Fatal("expected trailing slash to be ignored")
	}
	if app.OriginAllowed("https://evil.example.net") {
		t.Fatal("expected unknown origin to be rejected")
	}
}

func TestRedirectAllowed(t *testing.T) {
	app := Application{RedirectURIs: []string{"https://example.com/cb"}}
	if !app.RedirectAllowed("https://example.com/cb") {
		t.Fatal("expected registered redirect to be allowed")
	}
	if app.RedirectAllowed("https://example.com/other") {
		t.Fatal("expected unregistered redirect to be rejected")
	}
	if app.RedirectAllowed("") {
		t.Fatal("expected empty redirect to be rejected")
	}
}

func TestProviderEnabled(t *testing.T) {
	app := Application{Providers: []string{"google", "github"}}
	if !app.ProviderEnabled("google") {
		t.Fatal("expected google to be enabled")
	}
	if !app.ProviderEnabled("GitHub") {
		t.Fatal("expected case-insensitive match")
	}
	if app.ProviderEnabled("apple") {
		t.Fatal("expected apple to be disabled")
	}
}

func TestVerifyAPIKey(t *testing.T) {
	hash, err := HashAPIKey("sk_test_123")
	if err != nil {
		t.Fatalf("hash api key: %v", err)
	}
	app := Application{APIKeyHash: hash}
	if err := app.VerifyAPIKey("sk_test_123"); err != nil {
		t.Fatalf("expected matching key to verify: %v", err)
	}
	if err := app.VerifyAPIKey("sk_test_456"); !errors.Is(err, ErrInvalidAPIKey) {
		t.Fatalf("expected ErrInvalidAPIKey, got %v", err)
	}
	if err := app.VerifyAPIKey(""); !errors.Is(err, ErrInvalidAPIKey) {
		t.Fatalf("expected ErrInvalidAPIKey for empty key, got %v", err)
	}
	if err := (Application{}).VerifyAPIKey("sk_test_123"); !errors.Is(err, ErrInvalidAPIKey) {
		t.Fatalf("expected ErrInvalidAPIKey with no hash, got %v", err)
	}
}

func TestNormalize(t *testing.T) {
	app, err := Normalize(Application{ID: " app_1 ", RPID: "example.com"})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if app.ID != "app_1" {
		t.Fatalf("id = %q, want %q", app.ID, "app_1")
	}
	if app.Name != "app_1" {
		t.Fatalf("expected name fallback to id, got %q", app.Name)
	}
	if len(app.Origins) != 1 || app.Origins[0] != "https://example.com" {
		t.Fatalf("expected derived origin, got %v", app.Origins)
	}
}

func TestNormalizeRejectsMissingFields(t *testing.T) {
	if _, err := Normalize(Application{RPID: "example.com"}); apperrors.GetCode(err) != apperrors.CodeValidationFailed {
		t.Fatalf("expected validation error for missing id, got %v", err)
	}
	if _, err := Normalize(Application{ID: "app_1"}); apperrors.GetCode(err) != apperrors.CodeValidationFailed {
		t.Fatalf("expected validation error for missing rp id, got %v", err)
	}
}

func TestFromSeedHashesAPIKey(t *testing.T) {
	entry := SeedEntry{ID: "app_1", RPID: "example.com", APIKey: "sk_live_1"}
	app, err := FromSeed(entry)
	if err != nil {
		t.Fatalf("from seed: %v", err)
	}
	if app.APIKeyHash == "" || app.APIKeyHash == "sk_live_1" {
		t.Fatalf("expected hashed api key, got %q", app.APIKeyHash)
	}
	if err := app.VerifyAPIKey("sk_live_1"); err != nil {
		t.Fatalf("expected seeded key to verify: %v", err)
	}
	if !app.PasskeysEnabled {
		t.Fatal("expected passkeys enabled by default")
	}
}

func TestLoadSeedFromEnv(t *testing.T) {
	t.Setenv("PASSKEYME_APPLICATIONS", `[{"app_id":"app_1","rp_id":"example.com","origins":["https://example.com"]}]`)
	entries, err := LoadSeedFromEnv()
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "app_1" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestLoadSeedFromEnvEmpty(t *testing.T) {
	t.Setenv("PASSKEYME_APPLICATIONS", "")
	entries, err := LoadSeedFromEnv()
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}
	if entries != nil {
		t.Fatalf("expected nil entries, got %+v", entries)
	}
}

package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/passkeyme/passkeyme-server/internal/application"
	"github.com/passkeyme/passkeyme-server/internal/storage"
	"github.com/passkeyme/passkeyme-server/internal/user"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "auth.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func seedApplication(t *testing.T, store *Store, appID string) {
	t.Helper()
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	if err := store.PutApplication(context.Background(), application.Application{
		ID:              appID,
		Name:            appID,
		RPID:            "example.com",
		Origins:         []string{"https://example.com"},
		RedirectURIs:    []string{"https://example.com/cb"},
		PasskeysEnabled: true,
		Providers:       []string{"google"},
		CreatedAt:       now,
		UpdatedAt:       now,
	}); err != nil {
		t.Fatalf("put application: %v", err)
	}
}

func seedUser(t *testing.T, store *Store, appID string, userID string) {
	t.Helper()
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	if err := store.PutUser(context.Background(), user.User{
		ID:        userID,
		AppID:     appID,
		Email:     userID + "@example.com",
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		t.Fatalf("put user: %v", err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestStoreDBNilSafe(t *testing.T) {
	var store *Store
	if store.DB() != nil {
		t.Fatal("expected nil DB for nil store")
	}
}

func TestPutGetApplicationRoundTrip(t *testing.T) {
	store := openTempStore(t)
	seedApplication(t, store, "app_1")

	got, err := store.GetApplication(context.Background(), "app_1")
	if err != nil {
		t.Fatalf("get application: %v", err)
	}
	if got.RPID != "example.com" || !got.PasskeysEnabled {
		t.Fatalf("unexpected application: %+v", got)
	}
	if len(got.Origins) != 1 || got.Origins[0] != "https://example.com" {
		t.Fatalf("unexpected origins: %v", got.Origins)
	}
	if len(got.Providers) != 1 || got.Providers[0] != "google" {
		t.Fatalf("unexpected providers: %v", got.Providers)
	}
}

func TestGetApplicationNotFound(t *testing.T) {
	store := openTempStore(t)
	if _, err := store.GetApplication(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListApplications(t *testing.T) {
	store := openTempStore(t)
	seedApplication(t, store, "app_1")
	seedApplication(t, store, "app_2")

	apps, err := store.ListApplications(context.Background())
	if err != nil {
		t.Fatalf("list applications: %v", err)
	}
	if len(apps) != 2 {
		t.Fatalf("expected 2 applications, got %d", len(apps))
	}
}

func TestPutGetUserRoundTrip(t *testing.T) {
	store := openTempStore(t)
	seedApplication(t, store, "app_1")

	created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	input := user.User{
		ID:            "user-1",
		AppID:         "app_1",
		Email:         "person@example.com",
		DisplayName:   "Person",
		EmailVerified: true,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
	if err := store.PutUser(context.Background(), input); err != nil {
		t.Fatalf("put user: %v", err)
	}

	got, err := store.GetUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.Email != input.Email || got.DisplayName != input.DisplayName || !got.EmailVerified {
		t.Fatalf("unexpected user: %+v", got)
	}

	byEmail, err := store.GetUserByEmail(context.Background(), "app_1", "person@example.com")
	if err != nil {
		t.Fatalf("get user by email: %v", err)
	}
	if byEmail.ID != "user-1" {
		t.Fatalf("expected user-1, got %s", byEmail.ID)
	}
}

func TestGetUserNotFound(t *testing.T) {
	store := openTempStore(t)
	if _, err := store.GetUser(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPutUserRequiresID(t *testing.T) {
	store := openTempStore(t)
	if err := store.PutUser(context.Background(), user.User{ID: "  "}); err == nil {
		t.Fatal("expected error for empty user id")
	}
}

func TestPasskeyCredentialRoundTrip(t *testing.T) {
	store := openTempStore(t)
	seedApplication(t, store, "app_1")
	seedUser(t, store, "app_1", "user-1")

	created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	credential := storage.PasskeyCredential{
		CredentialID:   "cred-1",
		UserID:         "user-1",
		AppID:          "app_1",
		CredentialJSON: `{"id":"cred-1"}`,
		SignCount:      3,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
	if err := store.PutPasskeyCredential(context.Background(), credential); err != nil {
		t.Fatalf("put credential: %v", err)
	}

	got, err := store.GetPasskeyCredential(context.Background(), "app_1", "cred-1")
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if got.SignCount != 3 || got.UserID != "user-1" {
		t.Fatalf("unexpected credential: %+v", got)
	}
	if got.LastUsedAt != nil {
		t.Fatal("expected nil last used")
	}

	list, err := store.ListPasskeyCredentials(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("list credentials: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 credential, got %d", len(list))
	}

	// Cross-app lookup must miss.
	if _, err := store.GetPasskeyCredential(context.Background(), "app_2", "cred-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found across apps, got %v", err)
	}
}

func TestUpdatePasskeySignCountCAS(t *testing.T) {
	store := openTempStore(t)
	seedApplication(t, store, "app_1")
	seedUser(t, store, "app_1", "user-1")

	created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	if err := store.PutPasskeyCredential(context.Background(), storage.PasskeyCredential{
		CredentialID:   "cred-1",
		UserID:         "user-1",
		AppID:          "app_1",
		CredentialJSON: `{"sign_count":3}`,
		SignCount:      3,
		CreatedAt:      created,
		UpdatedAt:      created,
	}); err != nil {
		t.Fatalf("put credential: %v", err)
	}

	usedAt := created.Add(time.Minute)
	if err := store.UpdatePasskeySignCount(context.Background(), "cred-1", 3, 4, `{"sign_count":4}`, usedAt); err != nil {
		t.Fatalf("update sign count: %v", err)
	}

	// The same expected counter loses the race the second time.
	err := store.UpdatePasskeySignCount(context.Background(), "cred-1", 3, 4, `{"sign_count":4}`, usedAt)
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	got, err := store.GetPasskeyCredential(context.Background(), "app_1", "cred-1")
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if got.SignCount != 4 {
		t.Fatalf("sign count = %d, want 4", got.SignCount)
	}
	if got.LastUsedAt == nil || !got.LastUsedAt.Equal(usedAt) {
		t.Fatalf("unexpected last used: %v", got.LastUsedAt)
	}
}

func TestConsumePasskeySessionSingleUse(t *testing.T) {
	store := openTempStore(t)

	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	session := storage.PasskeySession{
		ID:          "session-1",
		AppID:       "app_1",
		Kind:        "registration",
		UserID:      "user-1",
		SessionJSON: `{"challenge":"abc"}`,
		ExpiresAt:   now.Add(2 * time.Minute),
	}
	if err := store.PutPasskeySession(context.Background(), session); err != nil {
		t.Fatalf("put session: %v", err)
	}

	got, err := store.ConsumePasskeySession(context.Background(), "session-1", now)
	if err != nil {
		t.Fatalf("consume session: %v", err)
	}
	if got.Kind != "registration" || got.UserID != "user-1" || got.SessionJSON != session.SessionJSON {
		t.Fatalf("unexpected session: %+v", got)
	}

	if _, err := store.ConsumePasskeySession(context.Background(), "session-1", now); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found on second consume, got %v", err)
	}
}

func TestConsumePasskeySessionExpired(t *testing.T) {
	store := openTempStore(t)

	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	if err := store.PutPasskeySession(context.Background(), storage.PasskeySession{
		ID:          "session-1",
		AppID:       "app_1",
		Kind:        "login",
		SessionJSON: `{"challenge":"abc"}`,
		ExpiresAt:   now.Add(-time.Second),
	}); err != nil {
		t.Fatalf("put session: %v", err)
	}

	if _, err := store.ConsumePasskeySession(context.Background(), "session-1", now); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found for expired session, got %v", err)
	}
}

func TestDeleteExpiredPasskeySessions(t *testing.T) {
	store := openTempStore(t)

	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	for id, expires := range map[string]time.Time{
		"stale": now.Add(-time.Minute),
		"live":  now.Add(time.Minute),
	} {
		if err := store.PutPasskeySession(context.Background(), storage.PasskeySession{
			ID:          id,
			AppID:       "app_1",
			Kind:        "login",
			SessionJSON: "{}",
			ExpiresAt:   expires,
		}); err != nil {
			t.Fatalf("put session: %v", err)
		}
	}

	if err := store.DeleteExpiredPasskeySessions(context.Background(), now); err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if _, err := store.ConsumePasskeySession(context.Background(), "live", now); err != nil {
		t.Fatalf("live session should survive: %v", err)
	}
}

func TestRefreshTokenRotation(t *testing.T) {
	store := openTempStore(t)
	seedApplication(t, store, "app_1")
	seedUser(t, store, "app_1", "user-1")

	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	old := storage.RefreshToken{
		TokenHash: "hash-old",
		UserID:    "user-1",
		AppID:     "app_1",
		CreatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
	}
	if err := store.PutRefreshToken(context.Background(), old); err != nil {
		t.Fatalf("put refresh token: %v", err)
	}

	next := storage.RefreshToken{
		TokenHash: "hash-new",
		UserID:    "user-1",
		AppID:     "app_1",
		CreatedAt: now.Add(time.Hour),
		ExpiresAt: now.Add(25 * time.Hour),
	}
	if err := store.RotateRefreshToken(context.Background(), "hash-old", next, now.Add(time.Hour)); err != nil {
		t.Fatalf("rotate refresh token: %v", err)
	}

	revoked, err := store.GetRefreshToken(context.Background(), "hash-old")
	if err != nil {
		t.Fatalf("get old token: %v", err)
	}
	if revoked.RevokedAt == nil {
		t.Fatal("expected old token revoked")
	}

	fresh, err := store.GetRefreshToken(context.Background(), "hash-new")
	if err != nil {
		t.Fatalf("get new token: %v", err)
	}
	if fresh.RevokedAt != nil {
		t.Fatal("expected new token active")
	}

	// A revoked token cannot rotate again.
	err = store.RotateRefreshToken(context.Background(), "hash-old", storage.RefreshToken{
		TokenHash: "hash-replay",
		UserID:    "user-1",
		AppID:     "app_1",
		CreatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
	}, now.Add(2*time.Hour))
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found for revoked token, got %v", err)
	}
	if _, err := store.GetRefreshToken(context.Background(), "hash-replay"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("failed rotation must not insert successor, got %v", err)
	}
}

func TestRevokeRefreshToken(t *testing.T) {
	store := openTempStore(t)
	seedApplication(t, store, "app_1")
	seedUser(t, store, "app_1", "user-1")

	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	if err := store.PutRefreshToken(context.Background(), storage.RefreshToken{
		TokenHash: "hash-1",
		UserID:    "user-1",
		AppID:     "app_1",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("put refresh token: %v", err)
	}
	if err := store.RevokeRefreshToken(context.Background(), "hash-1", now); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	got, err := store.GetRefreshToken(context.Background(), "hash-1")
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if got.RevokedAt == nil {
		t.Fatal("expected revoked")
	}
}

func TestHostedSessionLifecycle(t *testing.T) {
	store := openTempStore(t)
	seedApplication(t, store, "app_1")
	seedUser(t, store, "app_1", "user-1")

	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	session := storage.HostedSession{
		ID:          "hosted-1",
		AppID:       "app_1",
		RedirectURI: "https://example.com/cb",
		State:       "xyz",
		CreatedAt:   now,
		ExpiresAt:   now.Add(10 * time.Minute),
	}
	if err := store.PutHostedSession(context.Background(), session); err != nil {
		t.Fatalf("put hosted session: %v", err)
	}

	// Exchange before completion fails.
	if _, err := store.ConsumeHostedSession(context.Background(), "hosted-1", now); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found before completion, got %v", err)
	}

	if err := store.CompleteHostedSession(context.Background(), "hosted-1", "user-1", now.Add(time.Minute)); err != nil {
		t.Fatalf("complete hosted session: %v", err)
	}
	// Completion is single-shot.
	if err := store.CompleteHostedSession(context.Background(), "hosted-1", "user-2", now.Add(time.Minute)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found on second completion, got %v", err)
	}

	got, err := store.ConsumeHostedSession(context.Background(), "hosted-1", now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("consume hosted session: %v", err)
	}
	if got.UserID != "user-1" || got.CompletedAt == nil {
		t.Fatalf("unexpected session: %+v", got)
	}

	if _, err := store.ConsumeHostedSession(context.Background(), "hosted-1", now.Add(2*time.Minute)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found on second consume, got %v", err)
	}
}

func TestOAuthIdentityRoundTrip(t *testing.T) {
	store := openTempStore(t)
	seedApplication(t, store, "app_1")
	seedUser(t, store, "app_1", "user-1")

	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	identity := storage.OAuthIdentity{
		Provider:       "google",
		ProviderUserID: "google-123",
		UserID:         "user-1",
		AppID:          "app_1",
		Email:          "person@example.com",
		CreatedAt:      now,
	}
	if err := store.PutOAuthIdentity(context.Background(), identity); err != nil {
		t.Fatalf("put identity: %v", err)
	}

	got, err := store.GetOAuthIdentity(context.Background(), "app_1", "google", "google-123")
	if err != nil {
		t.Fatalf("get identity: %v", err)
	}
	if got.UserID != "user-1" || got.Email != "person@example.com" {
		t.Fatalf("unexpected identity: %+v", got)
	}

	if _, err := store.GetOAuthIdentity(context.Background(), "app_1", "google", "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOAuthStateSingleUse(t *testing.T) {
	store := openTempStore(t)
	seedApplication(t, store, "app_1")

	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	state := storage.OAuthState{
		State:           "state-1",
		AppID:           "app_1",
		Provider:        "google",
		RedirectURI:     "https://example.com/cb",
		HostedSessionID: "hosted-1",
		CodeVerifier:    "verifier-1",
		CreatedAt:       now,
		ExpiresAt:       now.Add(10 * time.Minute),
	}
	if err := store.PutOAuthState(context.Background(), state); err != nil {
		t.Fatalf("put oauth state: %v", err)
	}

	got, err := store.ConsumeOAuthState(context.Background(), "state-1", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("consume oauth state: %v", err)
	}
	if got.Provider != "google" || got.CodeVerifier != "verifier-1" || got.HostedSessionID != "hosted-1" {
		t.Fatalf("unexpected state: %+v", got)
	}

	if _, err := store.ConsumeOAuthState(context.Background(), "state-1", now.Add(time.Minute)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found on second consume, got %v", err)
	}
}

func TestOAuthStateExpiry(t *testing.T) {
	store := openTempStore(t)
	seedApplication(t, store, "app_1")

	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	if err := store.PutOAuthState(context.Background(), storage.OAuthState{
		State:     "state-1",
		AppID:     "app_1",
		Provider:  "github",
		CreatedAt: now,
		ExpiresAt: now.Add(10 * time.Minute),
	}); err != nil {
		t.Fatalf("put oauth state: %v", err)
	}

	if _, err := store.ConsumeOAuthState(context.Background(), "state-1", now.Add(11*time.Minute)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found for expired state, got %v", err)
	}

	if err := store.DeleteExpiredOAuthStates(context.Background(), now.Add(11*time.Minute)); err != nil {
		t.Fatalf("delete expired oauth states: %v", err)
	}
}

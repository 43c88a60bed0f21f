package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/descope/virtualwebauthn"
	"github.com/passkeyme/passkeyme-server/internal/application"
	"github.com/passkeyme/passkeyme-server/internal/storage/sqlite"
	"github.com/passkeyme/passkeyme-server/internal/token"
)

const (
	testAppID  = "app_test"
	testAPIKey = "server-key-secret"
)

// testHarness wires a service over a real SQLite store so ceremony
// consumption and rotation exercise the same atomicity as production.
type testHarness struct {
	service *Service
	store   *sqlite.Store
	now     time.Time
	rp      virtualwebauthn.RelyingParty
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})

	ring, err := token.NewEphemeralKeyRing()
	if err != nil {
		t.Fatalf("new key ring: %v", err)
	}
	issuer := token.NewIssuer(token.Config{
		Issuer:     "https://auth.test",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
		Scope:      "openid profile email",
	}, ring)

	h := &testHarness{
		store: store,
		now:   time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		rp: virtualwebauthn.RelyingParty{
			Name:   "Test App",
			ID:     "example.com",
			Origin: "https://example.com",
		},
	}

	clock := func() time.Time { return h.now }
	h.service = NewService(Stores{
		Applications:  store,
		Users:         store,
		Passkeys:      store,
		RefreshTokens: store,
		Hosted:        store,
		Identities:    store,
	}, issuer.WithClock(clock), "https://auth.test").WithClock(clock)

	hash, err := application.HashAPIKey(testAPIKey)
	if err != nil {
		t.Fatalf("hash api key: %v", err)
	}
	if err := store.PutApplication(context.Background(), application.Application{
		ID:              testAppID,
		Name:            "Test App",
		RPID:            "example.com",
		Origins:         []string{"https://example.com"},
		RedirectURIs:    []string{"https://example.com/callback"},
		PasskeysEnabled: true,
		Providers:       []string{"google"},
		APIKeyHash:      hash,
		CreatedAt:       h.now,
		UpdatedAt:       h.now,
	}); err != nil {
		t.Fatalf("put application: %v", err)
	}

	return h
}

func (h *testHarness) advance(d time.Duration) {
	h.now = h.now.Add(d)
}

// register runs the full registration ceremony for an email and returns the
// result plus the credential loaded into the authenticator.
func (h *testHarness) register(t *testing.T, email string) (CeremonyResult, *virtualwebauthn.Authenticator, *virtualwebauthn.Credential) {
	t.Helper()

	challenge, err := h.service.BeginRegistration(context.Background(), RegistrationInput{
		AppID:       testAppID,
		Email:       email,
		DisplayName: "Test User",
	})
	if err != nil {
		t.Fatalf("begin registration: %v", err)
	}

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	options, err := virtualwebauthn.ParseAttestationOptions(string(challenge.Options))
	if err != nil {
		t.Fatalf("parse attestation options: %v", err)
	}
	response := virtualwebauthn.CreateAttestationResponse(h.rp, authenticator, credential, *options)

	result, err := h.service.FinishRegistration(context.Background(), testAppID, challenge.SessionID, []byte(response), "")
	if err != nil {
		t.Fatalf("finish registration: %v", err)
	}
	authenticator.AddCredential(credential)
	return result, &authenticator, &credential
}

// login runs an email-targeted login ceremony. The credential counter
// advances the way a real authenticator would.
func (h *testHarness) login(t *testing.T, email string, authenticator *virtualwebauthn.Authenticator, credential *virtualwebauthn.Credential) (CeremonyResult, error) {
	t.Helper()

	challenge, err := h.service.BeginLogin(context.Background(), testAppID, email)
	if err != nil {
		t.Fatalf("begin login: %v", err)
	}

	options, err := virtualwebauthn.ParseAssertionOptions(string(challenge.Options))
	if err != nil {
		t.Fatalf("parse assertion options: %v", err)
	}
	credential.Counter++
	response := virtualwebauthn.CreateAssertionResponse(h.rp, *authenticator, *credential, *options)

	return h.service.FinishLogin(context.Background(), testAppID, challenge.SessionID, []byte(response), "")
}

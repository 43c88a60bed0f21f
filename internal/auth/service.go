// Package auth implements the passkey ceremony and token flows behind the
// HTTP API.
package auth

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/passkeyme/passkeyme-server/internal/application"
	"github.com/passkeyme/passkeyme-server/internal/passkey"
	"github.com/passkeyme/passkeyme-server/internal/platform/id"
	"github.com/passkeyme/passkeyme-server/internal/storage"
	"github.com/passkeyme/passkeyme-server/internal/token"
)

// Service is the canonical auth domain entrypoint.
//
// Transport handlers call it to run ceremonies and mint tokens without
// touching storage details.
type Service struct {
	apps       storage.ApplicationStore
	users      storage.UserStore
	passkeys   storage.PasskeyStore
	refresh    storage.RefreshTokenStore
	hosted     storage.HostedSessionStore
	identities storage.IdentityStore
	states     storage.OAuthStateStore

	issuer        *token.Issuer
	passkeyConfig passkey.Config
	hostedBaseURL string

	parser      passkeyParser
	newProvider func(app application.Application) (passkeyProvider, error)

	mu        sync.Mutex
	providers map[string]passkeyProvider

	clock       func() time.Time
	idGenerator func() (string, error)
}

// Stores bundles the persistence interfaces the service depends on.
type Stores struct {
	Applications  storage.ApplicationStore
	Users         storage.UserStore
	Passkeys      storage.PasskeyStore
	RefreshTokens storage.RefreshTokenStore
	Hosted        storage.HostedSessionStore
	Identities    storage.IdentityStore
	States        storage.OAuthStateStore
}

// NewService builds a service with defaults for the auth package.
func NewService(stores Stores, issuer *token.Issuer, hostedBaseURL string) *Service {
	config := passkey.LoadConfigFromEnv()
	s := &Service{
		apps:          stores.Applications,
		users:         stores.Users,
		passkeys:      stores.Passkeys,
		refresh:       stores.RefreshTokens,
		hosted:        stores.Hosted,
		identities:    stores.Identities,
		states:        stores.States,
		issuer:        issuer,
		passkeyConfig: config,
		hostedBaseURL: hostedBaseURL,
		parser:        defaultPasskeyParser{},
		providers:     make(map[string]passkeyProvider),
		clock:         time.Now,
		idGenerator:   id.NewID,
	}
	s.newProvider = s.buildProvider
	return s
}

// WithClock overrides the service clock, for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// WithIDGenerator overrides ID generation, for tests.
func (s *Service) WithIDGenerator(generator func() (string, error)) *Service {
	if generator != nil {
		s.idGenerator = generator
	}
	return s
}

// application resolves a tenant and checks that passkeys are enabled when
// requirePasskeys is set.
func (s *Service) application(ctx context.Context, appID string, requirePasskeys bool) (application.Application, error) {
	if s.apps == nil {
		return application.Application{}, errInternal("application store is not configured")
	}
	app, err := s.apps.GetApplication(ctx, appID)
	if err != nil {
		if err == storage.ErrNotFound {
			return application.Application{}, application.ErrNotFound
		}
		return application.Application{}, err
	}
	if requirePasskeys && !app.PasskeysEnabled {
		return application.Application{}, application.ErrMethodDisabled
	}
	return app, nil
}

// provider returns the webauthn engine for a tenant, building it on first use.
// A tenant's relying party config is stable for the process lifetime.
func (s *Service) provider(app application.Application) (passkeyProvider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.providers[app.ID]; ok {
		return cached, nil
	}
	built, err := s.newProvider(app)
	if err != nil {
		return nil, err
	}
	s.providers[app.ID] = built
	return built, nil
}

func (s *Service) buildProvider(app application.Application) (passkeyProvider, error) {
	return webauthn.New(&webauthn.Config{
		RPDisplayName:         app.Name,
		RPID:                  app.RPID,
		RPOrigins:             app.Origins,
		AttestationPreference: attestationPreference(s.passkeyConfig.Attestation),
	})
}

func attestationPreference(policy passkey.AttestationPolicy) protocol.ConveyancePreference {
	switch policy {
	case passkey.AttestationIndirect:
		return protocol.PreferIndirectAttestation
	case passkey.AttestationDirect:
		return protocol.PreferDirectAttestation
	default:
		return protocol.PreferNoAttestation
	}
}

// StartCleanup launches a background loop that prunes expired ceremony
// sessions, hosted sessions, and refresh tokens until ctx is canceled.
func (s *Service) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanupExpired(ctx)
			}
		}
	}()
}

func (s *Service) cleanupExpired(ctx context.Context) {
	now := s.clock().UTC()
	if s.passkeys != nil {
		if err := s.passkeys.DeleteExpiredPasskeySessions(ctx, now); err != nil && ctx.Err() == nil {
			log.Printf("cleanup passkey sessions: %v", err)
		}
	}
	if s.hosted != nil {
		if err := s.hosted.DeleteExpiredHostedSessions(ctx, now); err != nil && ctx.Err() == nil {
			log.Printf("cleanup hosted sessions: %v", err)
		}
	}
	if s.refresh != nil {
		if err := s.refresh.DeleteExpiredRefreshTokens(ctx, now); err != nil && ctx.Err() == nil {
			log.Printf("cleanup refresh tokens: %v", err)
		}
	}
	if s.states != nil {
		if err := s.states.DeleteExpiredOAuthStates(ctx, now); err != nil && ctx.Err() == nil {
			log.Printf("cleanup oauth states: %v", err)
		}
	}
}

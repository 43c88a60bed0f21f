// Package app assembles the stores, services, and HTTP surface into a
// runnable server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/passkeyme/passkeyme-server/internal/api/rest"
	"github.com/passkeyme/passkeyme-server/internal/application"
	"github.com/passkeyme/passkeyme-server/internal/auth"
	"github.com/passkeyme/passkeyme-server/internal/oauth"
	"github.com/passkeyme/passkeyme-server/internal/platform/otel"
	"github.com/passkeyme/passkeyme-server/internal/storage/sqlite"
	"github.com/passkeyme/passkeyme-server/internal/token"
)

const cleanupInterval = 5 * time.Minute

// Server hosts the authentication HTTP API.
type Server struct {
	listener net.Listener
	http     *http.Server
	store    *sqlite.Store
	service  *auth.Service
}

// New creates a configured server listening on the provided address.
func New(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	store, err := openStore()
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	issuer, err := buildIssuer()
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}

	if err := seedApplications(store); err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}

	service := auth.NewService(auth.Stores{
		Applications:  store,
		Users:         store,
		Passkeys:      store,
		RefreshTokens: store,
		Hosted:        store,
		Identities:    store,
		States:        store,
	}, issuer, hostedBaseURL(addr))

	flow := oauth.NewFlow(oauth.LoadProvidersFromEnv(), store)
	handler := rest.NewServer(service, flow).Handler()

	return &Server{
		listener: listener,
		http:     &http.Server{Handler: handler},
		store:    store,
		service:  service,
	}, nil
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a server until the context ends.
func Run(ctx context.Context, addr string) error {
	server, err := New(addr)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the server and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.closeStore()

	otelShutdown, err := otel.Setup(serverCtx, "passkeyme-server")
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(shutdownCtx)
	}()

	if err := initSentry(); err != nil {
		return fmt.Errorf("init sentry: %w", err)
	}
	defer sentry.Flush(2 * time.Second)

	s.service.StartCleanup(serverCtx, cleanupInterval)

	log.Printf("server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.http.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http: %w", err)
		}
		<-serveErr
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

func (s *Server) closeStore() {
	if s == nil {
		return
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close store: %v", err)
		}
	}
}

func openStore() (*sqlite.Store, error) {
	path := strings.TrimSpace(os.Getenv("PASSKEYME_DB_PATH"))
	if path == "" {
		path = filepath.Join("data", "passkeyme.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	return store, nil
}

// buildIssuer loads signing keys from the environment, generating an
// ephemeral ring when none are configured. Ephemeral keys invalidate all
// outstanding tokens on restart, so production deployments configure
// PASSKEYME_TOKEN_SIGNING_KEYS.
func buildIssuer() (*token.Issuer, error) {
	config := token.LoadConfigFromEnv()

	var ring token.KeyRing
	var err error
	if strings.TrimSpace(config.KeysJSON) != "" {
		ring, err = token.ParseKeyRing(config.KeysJSON)
		if err != nil {
			return nil, fmt.Errorf("parse signing keys: %w", err)
		}
	} else {
		log.Printf("no signing keys configured, using an ephemeral key ring")
		ring, err = token.NewEphemeralKeyRing()
		if err != nil {
			return nil, fmt.Errorf("generate signing keys: %w", err)
		}
	}
	return token.NewIssuer(config, ring), nil
}

func seedApplications(store *sqlite.Store) error {
	entries, err := application.LoadSeedFromEnv()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		app, err := application.FromSeed(entry)
		if err != nil {
			return fmt.Errorf("seed application %q: %w", entry.ID, err)
		}
		if err := store.PutApplication(context.Background(), app); err != nil {
			return fmt.Errorf("store application %q: %w", app.ID, err)
		}
		log.Printf("seeded application %s", app.ID)
	}
	return nil
}

func initSentry() error {
	dsn := strings.TrimSpace(os.Getenv("PASSKEYME_SENTRY_DSN"))
	if dsn == "" {
		return nil
	}
	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      os.Getenv("PASSKEYME_ENV"),
		AttachStacktrace: true,
	})
}

// hostedBaseURL resolves the externally visible base URL for hosted auth
// pages, falling back to the listen address.
func hostedBaseURL(addr string) string {
	base := strings.TrimSpace(os.Getenv("PASSKEYME_HOSTED_BASE_URL"))
	if base != "" {
		return strings.TrimRight(base, "/")
	}
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

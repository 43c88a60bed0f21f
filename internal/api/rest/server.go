// Package rest exposes the authentication service over HTTP.
package rest

import (
	"net/http"
	"time"

	"github.com/passkeyme/passkeyme-server/internal/auth"
	"github.com/passkeyme/passkeyme-server/internal/oauth"
)

// Server hosts the public HTTP API.
type Server struct {
	service *auth.Service
	flow    *oauth.Flow
	clock   func() time.Time
}

// NewServer builds an HTTP server over the auth service and provider flow.
func NewServer(service *auth.Service, flow *oauth.Flow) *Server {
	return &Server{
		service: service,
		flow:    flow,
		clock:   time.Now,
	}
}

// RegisterRoutes registers the API endpoints on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	if mux == nil {
		return
	}

	mux.HandleFunc("/api/passkey/register/challenge", s.handleRegisterChallenge)
	mux.HandleFunc("/api/passkey/register/complete", s.handleRegisterComplete)
	mux.HandleFunc("/api/passkey/auth/challenge", s.handleAuthChallenge)
	mux.HandleFunc("/api/passkey/auth/complete", s.handleAuthComplete)

	mux.HandleFunc("/auth/initiate", s.handleInitiate)
	mux.HandleFunc("/auth/callback", s.handleCallback)
	mux.HandleFunc("/auth/refresh", s.handleRefresh)
	mux.HandleFunc("/auth/validate", s.handleValidate)
	mux.HandleFunc("/auth/logout", s.handleLogout)

	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/auth/verify-token", s.handleVerifyToken)
	mux.HandleFunc("/oauth/", s.handleProviderRoutes)

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = withLogging(handler)
	handler = withRecover(handler)
	handler = withRequestID(handler)
	return handler
}

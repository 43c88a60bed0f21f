package rest

import (
	"net/http"
)

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	var request struct {
		AppID       string `json:"appId"`
		RedirectURI string `json:"redirectUri"`
		State       string `json:"state"`
	}
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, err)
		return
	}

	started, err := s.service.InitiateHosted(r.Context(), request.AppID, request.RedirectURI, request.State)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authUrl":   started.AuthURL,
		"sessionId": started.SessionID,
		"expiresAt": started.ExpiresAt,
	})
}

// handleCallback exchanges a completed hosted session for tokens. The
// exchange is single-use at the storage layer.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	var request struct {
		SessionID string `json:"sessionId"`
	}
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := s.service.ExchangeHosted(r.Context(), request.SessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ceremonyPayload(result))
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	config, err := s.service.Config(r.Context(), r.URL.Query().Get("app_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	providers := config.Providers
	if s.flow != nil {
		// Only advertise providers this deployment actually has
		// credentials for.
		enabled := make([]string, 0, len(providers))
		for _, provider := range providers {
			if s.flow.Enabled(provider) {
				enabled = append(enabled, provider)
			}
		}
		providers = enabled
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"appName":         config.AppName,
		"providers":       providers,
		"redirectUri":     config.RedirectURI,
		"passkeysEnabled": config.PasskeysEnabled,
	})
}

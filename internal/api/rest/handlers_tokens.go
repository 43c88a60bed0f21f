package rest

import (
	"net/http"
	"strings"
	"time"

	"github.com/passkeyme/passkeyme-server/internal/auth"
)

type validationView struct {
	Valid     bool       `json:"valid"`
	User      *userView  `json:"user,omitempty"`
	Scopes    []string   `json:"scopes,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func validationPayload(result auth.ValidationResult) validationView {
	if !result.Valid {
		return validationView{Valid: false}
	}
	expiresAt := result.ExpiresAt
	return validationView{
		Valid: true,
		User: &userView{
			ID:    result.UserID,
			Email: result.Email,
		},
		Scopes:    result.Scopes,
		ExpiresAt: &expiresAt,
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	var request struct {
		AppID        string `json:"appId"`
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, err)
		return
	}

	rotated, err := s.service.Refresh(r.Context(), request.AppID, request.RefreshToken)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  rotated.AccessToken,
		"refreshToken": rotated.RefreshToken,
		"expiresIn":    rotated.ExpiresIn,
	})
}

// handleValidate reports token validity over a Bearer header. Bad tokens get
// valid:false with HTTP 200, never an error envelope.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusOK, validationView{Valid: false})
		return
	}

	result, err := s.service.Validate(r.Context(), token)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, validationPayload(result))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	var request struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.service.Logout(r.Context(), request.RefreshToken); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "logged out",
	})
}

// handleVerifyToken is the server-to-server check, guarded by the
// application API key.
func (s *Server) handleVerifyToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	appID := r.URL.Query().Get("app_id")
	accessToken := r.URL.Query().Get("token")
	apiKey := r.Header.Get("X-API-Key")

	result, err := s.service.VerifyToken(r.Context(), appID, apiKey, accessToken)
	if err != nil {
		writeError(w, r, err)
		return
	}
	payload := map[string]any{"valid": result.Valid}
	if result.Valid {
		payload["user"] = userView{ID: result.UserID, Email: result.Email}
		payload["expires"] = result.ExpiresAt
	}
	writeJSON(w, http.StatusOK, payload)
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/passkeyme/passkeyme-server/internal/auth"
	"github.com/passkeyme/passkeyme-server/internal/user"
)

type challengeResponse struct {
	SessionID string          `json:"sessionId"`
	PublicKey json.RawMessage `json:"publicKey"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

type userView struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName,omitempty"`
	EmailVerified bool   `json:"emailVerified"`
}

type ceremonyResponse struct {
	User         userView `json:"user"`
	CredentialID string   `json:"credentialId,omitempty"`
	AccessToken  string   `json:"accessToken,omitempty"`
	RefreshToken string   `json:"refreshToken,omitempty"`
	ExpiresIn    int64    `json:"expiresIn,omitempty"`
}

func viewOf(u user.User) userView {
	return userView{
		ID:            u.ID,
		Email:         u.Email,
		DisplayName:   u.DisplayName,
		EmailVerified: u.EmailVerified,
	}
}

// challengePayload peels the publicKey member out of the marshaled ceremony
// options so the response matches what navigator.credentials expects.
func challengePayload(challenge auth.Challenge) challengeResponse {
	var wrapper struct {
		PublicKey json.RawMessage `json:"publicKey"`
	}
	publicKey := json.RawMessage(challenge.Options)
	if err := json.Unmarshal(challenge.Options, &wrapper); err == nil && len(wrapper.PublicKey) > 0 {
		publicKey = wrapper.PublicKey
	}
	return challengeResponse{
		SessionID: challenge.SessionID,
		PublicKey: publicKey,
		ExpiresAt: challenge.ExpiresAt,
	}
}

func ceremonyPayload(result auth.CeremonyResult) ceremonyResponse {
	return ceremonyResponse{
		User:         viewOf(result.User),
		CredentialID: result.CredentialID,
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresIn:    result.ExpiresIn,
	}
}

func (s *Server) handleRegisterChallenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	var request struct {
		AppID       string `json:"appId"`
		Email       string `json:"email"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, err)
		return
	}

	challenge, err := s.service.BeginRegistration(r.Context(), auth.RegistrationInput{
		AppID:       request.AppID,
		Email:       request.Email,
		DisplayName: request.DisplayName,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, challengePayload(challenge))
}

func (s *Server) handleRegisterComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	var request struct {
		AppID           string          `json:"appId"`
		SessionID       string          `json:"sessionId"`
		Credential      json.RawMessage `json:"credential"`
		HostedSessionID string          `json:"hostedSessionId"`
	}
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := s.service.FinishRegistration(r.Context(), request.AppID, request.SessionID, request.Credential, request.HostedSessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ceremonyPayload(result))
}

func (s *Server) handleAuthChallenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	var request struct {
		AppID string `json:"appId"`
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, err)
		return
	}

	challenge, err := s.service.BeginLogin(r.Context(), request.AppID, request.Email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, challengePayload(challenge))
}

func (s *Server) handleAuthComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	var request struct {
		AppID           string          `json:"appId"`
		SessionID       string          `json:"sessionId"`
		Credential      json.RawMessage `json:"credential"`
		HostedSessionID string          `json:"hostedSessionId"`
	}
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := s.service.FinishLogin(r.Context(), request.AppID, request.SessionID, request.Credential, request.HostedSessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ceremonyPayload(result))
}

package rest

import (
	"encoding/json"
	"log"
	"net/http"

	apperrors "github.com/passkeyme/passkeyme-server/internal/platform/errors"
	"github.com/passkeyme/passkeyme-server/internal/platform/requestctx"
)

type errorBody struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	RequestID string            `json:"requestId,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

// writeError renders the error envelope. Internal failures keep their detail
// server-side; the envelope carries only the generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.CodeInternal
	message := "internal server error"
	var details map[string]string

	if domain, ok := apperrors.AsDomain(err); ok {
		code = domain.Code
		if code != apperrors.CodeInternal && code != apperrors.CodeUnknown {
			message = domain.Message
			details = domain.Metadata
		}
	}
	if code == apperrors.CodeInternal || code == apperrors.CodeUnknown {
		log.Printf("%s %s: %v", r.Method, r.URL.Path, err)
	}

	writeJSON(w, code.HTTPStatus(), errorEnvelope{Error: errorBody{
		Code:      string(code),
		Message:   message,
		Details:   details,
		RequestID: requestctx.RequestIDFromContext(r.Context()),
	}})
}

func errInternal(message string) error {
	return apperrors.New(apperrors.CodeInternal, message)
}

func errValidation(message string) error {
	return apperrors.New(apperrors.CodeValidationFailed, message)
}

// decodeJSON parses a request body into target, rejecting unknown noise.
func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		return errValidation("request body is not valid JSON")
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, errorEnvelope{Error: errorBody{
		Code:      string(apperrors.CodeValidationFailed),
		Message:   "method not allowed",
		RequestID: requestctx.RequestIDFromContext(r.Context()),
	}})
}

// Package errors provides structured error handling for API surfaces.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Application (tenant) errors
	CodeInvalidAppID   Code = "INVALID_APP_ID"
	CodeMethodDisabled Code = "METHOD_DISABLED"
	CodeInvalidAPIKey  Code = "INVALID_API_KEY"

	// Ceremony errors
	CodeInvalidChallenge     Code = "INVALID_CHALLENGE"
	CodeRegistrationFailed   Code = "REGISTRATION_FAILED"
	CodeAuthenticationFailed Code = "AUTHENTICATION_FAILED"

	// Token errors
	CodeInvalidToken Code = "INVALID_TOKEN"

	// Request errors
	CodeValidationFailed  Code = "VALIDATION_FAILED"
	CodeNotFound          Code = "NOT_FOUND"
	CodeInsufficientScope Code = "INSUFFICIENT_SCOPE"
	CodeRateLimited       Code = "RATE_LIMITED"

	// Server errors
	CodeInternal Code = "INTERNAL"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidationFailed, CodeMethodDisabled:
		return http.StatusBadRequest
	case CodeInvalidToken, CodeInvalidAPIKey, CodeInvalidChallenge,
		CodeRegistrationFailed, CodeAuthenticationFailed:
		return http.StatusUnauthorized
	case CodeInsufficientScope:
		return http.StatusForbidden
	case CodeInvalidAppID, CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// GetCode extracts the domain code from an error chain.
func GetCode(err error) Code {
	if typed, ok := AsDomain(err); ok {
		return typed.Code
	}
	return CodeUnknown
}

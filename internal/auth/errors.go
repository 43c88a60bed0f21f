package auth

import (
	apperrors "github.com/passkeyme/passkeyme-server/internal/platform/errors"
)

// ErrInvalidChallenge covers missing, expired, and already consumed ceremony
// sessions. The caller cannot tell which, on purpose.
var ErrInvalidChallenge = apperrors.New(apperrors.CodeInvalidChallenge, "challenge is invalid or has expired")

// ErrRegistrationFailed is the only registration verification failure exposed
// externally. The specific cryptographic failure is logged server-side.
var ErrRegistrationFailed = apperrors.New(apperrors.CodeRegistrationFailed, "registration verification failed")

// ErrAuthenticationFailed is the only authentication verification failure
// exposed externally.
var ErrAuthenticationFailed = apperrors.New(apperrors.CodeAuthenticationFailed, "authentication verification failed")

func errInternal(message string) error {
	return apperrors.New(apperrors.CodeInternal, message)
}

func errValidation(message string) error {
	return apperrors.New(apperrors.CodeValidationFailed, message)
}

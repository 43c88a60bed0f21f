// Package user provides application-scoped user identities.
package user

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/passkeyme/passkeyme-server/internal/platform/errors"
	"github.com/passkeyme/passkeyme-server/internal/platform/id"
)

var (
	// ErrEmptyEmail indicates a missing email address.
	ErrEmptyEmail = apperrors.New(apperrors.CodeValidationFailed, "email is required")
	// ErrInvalidEmail indicates an email that does not match the required format.
	ErrInvalidEmail = apperrors.New(apperrors.CodeValidationFailed, "email format is invalid")

	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// User represents an authenticated identity record scoped to one application.
type User struct {
	ID            string
	AppID         string
	Email         string
	DisplayName   string
	EmailVerified bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CreateUserInput describes the metadata needed to create a user.
type CreateUserInput struct {
	AppID       string
	Email       string
	DisplayName string
}

// ValidateEmail enforces the canonical email shape used across ceremonies and tokens.
func ValidateEmail(s string) error {
	if !emailPattern.MatchString(s) {
		return ErrInvalidEmail
	}
	return nil
}

// CreateUser creates a durable user identity from validated input.
//
// This is the single point where untrusted sign-up data becomes a stable
// identity referenced by credentials, tokens, and linked OAuth identities.
func CreateUser(input CreateUserInput, now func() time.Time, idGenerator func() (string, error)) (User, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeCreateUserInput(input)
	if err != nil {
		return User{}, err
	}

	userID, err := idGenerator()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	createdAt := now().UTC()
	return User{
		ID:          userID,
		AppID:       normalized.AppID,
		Email:       normalized.Email,
		DisplayName: normalized.DisplayName,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}, nil
}

// NormalizeCreateUserInput trims and normalizes input before validation.
func NormalizeCreateUserInput(input CreateUserInput) (CreateUserInput, error) {
	input.AppID = strings.TrimSpace(input.AppID)
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.DisplayName = strings.TrimSpace(input.DisplayName)
	if input.AppID == "" {
		return CreateUserInput{}, apperrors.New(apperrors.CodeValidationFailed, "application id is required")
	}
	if input.Email == "" {
		return CreateUserInput{}, ErrEmptyEmail
	}
	if err := ValidateEmail(input.Email); err != nil {
		return CreateUserInput{}, err
	}
	if input.DisplayName == "" {
		input.DisplayName = input.Email
	}
	return input, nil
}

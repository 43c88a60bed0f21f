package user

import (
	"errors"
	"testing"
	"time"
)

func TestCreateUser(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	created, err := CreateUser(CreateUserInput{
		AppID: "app_1",
		Email: "  Person@Example.COM ",
	}, func() time.Time { return fixed }, func() (string, error) { return "user-1", nil })
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if created.ID != "user-1" {
		t.Fatalf("id = %q, want %q", created.ID, "user-1")
	}
	if created.Email != "person@example.com" {
		t.Fatalf("email = %q, want lowered/trimmed", created.Email)
	}
	if created.DisplayName != "person@example.com" {
		t.Fatalf("display name = %q, want email fallback", created.DisplayName)
	}
	if !created.CreatedAt.Equal(fixed) || !created.UpdatedAt.Equal(fixed) {
		t.Fatalf("unexpected timestamps: %v %v", created.CreatedAt, created.UpdatedAt)
	}
}

func TestCreateUserKeepsDisplayName(t *testing.T) {
	created, err := CreateUser(CreateUserInput{
		AppID:       "app_1",
		Email:       "person@example.com",
		DisplayName: "Person",
	}, nil, nil)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if created.DisplayName != "Person" {
		t.Fatalf("display name = %q, want %q", created.DisplayName, "Person")
	}
	if created.ID == "" {
		t.Fatal("expected generated id")
	}
}

func TestCreateUserRejectsEmptyEmail(t *testing.T) {
	_, err := CreateUser(CreateUserInput{AppID: "app_1"}, nil, nil)
	if !errors.Is(err, ErrEmptyEmail) {
		t.Fatalf("expected ErrEmptyEmail, got %v", err)
	}
}

func TestCreateUserRejectsInvalidEmail(t *testing.T) {
	for _, email := range []string{"nope", "a@b", "a b@example.com", "@example.com"} {
		_, err := CreateUser(CreateUserInput{AppID: "app_1", Email: email}, nil, nil)
		if !errors.Is(err, ErrInvalidEmail) {
			t.Fatalf("email %q: expected ErrInvalidEmail, got %v", email, err)
		}
	}
}

func TestCreateUserRequiresAppID(t *testing.T) {
	_, err := CreateUser(CreateUserInput{Email: "person@example.com"}, nil, nil)
	if err == nil {
		t.Fatal("expected error for missing app id")
	}
}

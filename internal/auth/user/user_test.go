package user

import (
	"errors"
	"testing"
	"time"
)

func TestCreateUserDefaults(t *testing.T) {
	input := CreateUserInput{Email: "alice@example.com", Username: "alice"}
	_, err := CreateUser(input, nil, nil)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	_, err = CreateUser(input, nil, func() (string, error) { return "", errors.New("id generator error") })
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestCreateUserNormalizesInput(t *testing.T) {
	fixedTime := time.Date(2026, 1, 23, 10, 0, 0, 0, time.UTC)
	input := CreateUserInput{Email: "  Alice@Example.COM ", Username: "  Alice  "}

	created, err := CreateUser(input, func() time.Time { return fixedTime }, func() (string, error) {
		return "user-123", nil
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	if created.ID != "user-123" {
		t.Fatalf("expected id user-123, got %q", created.ID)
	}
	if created.Email != "alice@example.com" {
		t.Fatalf("expected lowercased trimmed email, got %q", created.Email)
	}
	if created.Username != "alice" {
		t.Fatalf("expected lowercased trimmed username, got %q", created.Username)
	}
	if created.TwoFactorEnabled {
		t.Fatal("expected two-factor to start disabled")
	}
	if !created.CreatedAt.Equal(fixedTime) || !created.UpdatedAt.Equal(fixedTime) {
		t.Fatalf("expected timestamps to match fixed time")
	}
}

func TestNormalizeCreateUserInputValidation(t *testing.T) {
	_, err := NormalizeCreateUserInput(CreateUserInput{Email: "   ", Username: "alice"})
	if !errors.Is(err, ErrEmptyEmail) {
		t.Fatalf("expected error %v, got %v", ErrEmptyEmail, err)
	}

	_, err = NormalizeCreateUserInput(CreateUserInput{Email: "not-an-email", Username: "alice"})
	if !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected error %v, got %v", ErrInvalidEmail, err)
	}

	_, err = NormalizeCreateUserInput(CreateUserInput{Email: "a@x.com", Username: "   "})
	if !errors.Is(err, ErrEmptyUsername) {
		t.Fatalf("expected error %v, got %v", ErrEmptyUsername, err)
	}
}

func TestValidateUsernameFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{name: "valid lowercase", input: "alice", wantErr: nil},
		{name: "valid with dots", input: "alice.b", wantErr: nil},
		{name: "valid with dashes", input: "alice-b", wantErr: nil},
		{name: "valid with underscores", input: "alice_b", wantErr: nil},
		{name: "valid with numbers", input: "alice123", wantErr: nil},
		{name: "valid min length", input: "abc", wantErr: nil},
		{name: "too short", input: "ab", wantErr: ErrInvalidUsername},
		{name: "uppercase", input: "Alice", wantErr: ErrInvalidUsername},
		{name: "spaces", input: "ali ce", wantErr: ErrInvalidUsername},
		{name: "too long", input: "abcdefghijklmnopqrstuvwxyz0123456", wantErr: ErrInvalidUsername},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateUsername(tc.input)
			if tc.wantErr == nil && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestValidateEmailFormat(t *testing.T) {
	valid := []string{"a@x.com", "alice.b@sub.example.org", "a+tag@x.co"}
	for _, input := range valid {
		if err := ValidateEmail(input); err != nil {
			t.Fatalf("expected %q to be valid, got %v", input, err)
		}
	}
	invalid := []string{"", "a", "a@", "@x.com", "a@x", "a b@x.com"}
	for _, input := range invalid {
		if err := ValidateEmail(input); err == nil {
			t.Fatalf("expected %q to be invalid", input)
		}
	}
}

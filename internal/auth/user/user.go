// Package user provides the account aggregate for passwordless identities.
package user

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/driftlock/driftlock/internal/platform/errors"
	"github.com/driftlock/driftlock/internal/platform/id"
)

var (
	// ErrEmptyEmail indicates a missing email address.
	ErrEmptyEmail = apperrors.New(apperrors.CodeUserEmptyEmail, "email is required")
	// ErrInvalidEmail indicates an email address that does not match the required format.
	ErrInvalidEmail = apperrors.New(apperrors.CodeUserInvalidEmail, "email address is not valid")
	// ErrEmptyUsername indicates a missing username.
	ErrEmptyUsername = apperrors.New(apperrors.CodeUserEmptyUsername, "username is required")
	// ErrInvalidUsername indicates a username that does not match the required format.
	ErrInvalidUsername = apperrors.New(apperrors.CodeUserInvalidUsername, "username must be 3-32 lowercase alphanumeric, dot, dash, or underscore characters")

	usernamePattern = regexp.MustCompile(`^[a-z0-9_.\-]{3,32}$`)
	emailPattern    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// User represents a passwordless identity record.
//
// TOTPSecret is provisional while TwoFactorEnabled is false: a setup ceremony
// stored it but no code has confirmed it yet.
type User struct {
	ID               string
	Email            string
	Username         string
	TwoFactorEnabled bool
	TOTPSecret       string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CreateUserInput describes the identity details needed to create a user.
type CreateUserInput struct {
	Email    string
	Username string
}

// ValidateUsername enforces canonical username constraints.
func ValidateUsername(s string) error {
	if !usernamePattern.MatchString(s) {
		return ErrInvalidUsername
	}
	return nil
}

// ValidateEmail enforces a minimal well-formedness check on an address.
func ValidateEmail(s string) error {
	if !emailPattern.MatchString(s) {
		return ErrInvalidEmail
	}
	return nil
}

// NormalizeEmail lowercases and trims an address for storage and lookup.
// Email comparison is case-insensitive everywhere.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// CreateUser creates a durable user identity from validated input.
//
// The service layer treats this as the canonical point where untrusted
// registration data becomes a stable identity used by every ceremony.
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
		ID:        userID,
		Email:     normalized.Email,
		Username:  normalized.Username,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}, nil
}

// NormalizeCreateUserInput trims and normalizes input before validation.
func NormalizeCreateUserInput(input CreateUserInput) (CreateUserInput, error) {
	input.Email = NormalizeEmail(input.Email)
	if input.Email == "" {
		return CreateUserInput{}, ErrEmptyEmail
	}
	if err := ValidateEmail(input.Email); err != nil {
		return CreateUserInput{}, err
	}
	input.Username = strings.ToLower(strings.TrimSpace(input.Username))
	if input.Username == "" {
		return CreateUserInput{}, ErrEmptyUsername
	}
	if err := ValidateUsername(input.Username); err != nil {
		return CreateUserInput{}, err
	}
	return input, nil
}

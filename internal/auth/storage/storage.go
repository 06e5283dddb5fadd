// Package storage defines persistence contracts for the auth service.
package storage

import (
	"context"
	"time"

	"github.com/driftlock/driftlock/internal/auth/user"
	"github.com/driftlock/driftlock/internal/platform/errors"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// ErrEmailTaken indicates another user already owns the email address.
var ErrEmailTaken = errors.New(errors.CodeEmailTaken, "email is already registered")

// ErrUsernameTaken indicates another user already owns the username.
var ErrUsernameTaken = errors.New(errors.CodeUsernameTaken, "username is already registered")

// ErrCredentialExists indicates a credential id collision.
// Registration must fail rather than overwrite an existing credential.
var ErrCredentialExists = errors.New(errors.CodeCredentialExists, "credential id already registered")

// UserStore persists auth user records.
type UserStore interface {
	PutUser(ctx context.Context, u user.User) error
	GetUser(ctx context.Context, userID string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
}

// Credential stores one enrolled passkey.
//
// All fields except SignCount are immutable after registration. SignCount
// only moves forward, via a successful authentication verification.
type Credential struct {
	ID         string
	UserID     string
	PublicKey  []byte
	SignCount  uint32
	Transports []string
	DeviceType string
	BackedUp   bool
	CreatedAt  time.Time
}

// CredentialStore persists passkey credentials.
type CredentialStore interface {
	// AddCredential inserts a new credential. Returns ErrCredentialExists
	// when the credential id is already registered to any user.
	AddCredential(ctx context.Context, credential Credential) error
	GetCredential(ctx context.Context, credentialID string) (Credential, error)
	ListCredentials(ctx context.Context, userID string) ([]Credential, error)
	// UpdateSignCount moves the counter from an observed value to a new one.
	// The update is compare-and-swap: it fails with ErrNotFound when the
	// stored counter no longer equals from, so a concurrent update can never
	// be silently overwritten.
	UpdateSignCount(ctx context.Context, credentialID string, from, to uint32) error
}

// Challenge stores the single outstanding ceremony challenge for a user.
// The serialized WebAuthn session data embeds the challenge value.
type Challenge struct {
	UserID      string
	Kind        string
	SessionJSON string
	ExpiresAt   time.Time
}

// ChallengeStore persists at most one live challenge per user.
type ChallengeStore interface {
	// PutChallenge stores a challenge, superseding any live one for the user.
	PutChallenge(ctx context.Context, challenge Challenge) error
	// TakeChallenge atomically removes and returns the user's live challenge.
	// Returns ErrNotFound when no challenge is stored; a second take for the
	// same ceremony always fails.
	TakeChallenge(ctx context.Context, userID string) (Challenge, error)
}

// TwoFactorStore persists TOTP state and backup codes.
type TwoFactorStore interface {
	// SetTOTPSecret stores a provisional secret, replacing any prior one.
	SetTOTPSecret(ctx context.Context, userID string, secret string) error
	// ActivateTwoFactor flips the enabled flag and installs the backup codes
	// in one transaction. It fails with ErrNotFound unless the stored
	// provisional secret still equals secret and the flag is still off.
	ActivateTwoFactor(ctx context.Context, userID string, secret string, backupCodes []string) error
	// DisableTwoFactor clears the secret, the flag, and all backup codes.
	DisableTwoFactor(ctx context.Context, userID string) error
	// ConsumeBackupCode removes one unused code. The bool result reports
	// whether the code existed; consuming the same code twice returns false.
	ConsumeBackupCode(ctx context.Context, userID string, code string) (bool, error)
	CountBackupCodes(ctx context.Context, userID string) (int, error)
}

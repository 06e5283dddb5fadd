// Package totp manages the time-based second factor and its backup codes.
package totp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/driftlock/driftlock/internal/auth/storage"
	"github.com/driftlock/driftlock/internal/auth/user"
	apperrors "github.com/driftlock/driftlock/internal/platform/errors"
)

const (
	// secretSize is the raw secret length in bytes before base32 encoding.
	secretSize = 20
	// codePeriod is the TOTP step in seconds.
	codePeriod = 30
	// codeSkew accepts codes from this many steps before and after now.
	codeSkew = 2
	// backupCodeCount is the fixed size of a freshly issued backup code set.
	backupCodeCount = 10
	// backupCodeBytes is the raw length of one code before hex encoding.
	backupCodeBytes = 4
)

var (
	// ErrAlreadyEnabled rejects setup and activation when the second factor
	// is already on.
	ErrAlreadyEnabled = apperrors.New(apperrors.CodeTwoFactorEnabled, "two-factor authentication is already enabled")
	// ErrNotEnabled rejects validation and disable when no second factor
	// exists.
	ErrNotEnabled = apperrors.New(apperrors.CodeTwoFactorNotEnabled, "two-factor authentication is not enabled")
	// ErrNotPending rejects activation when setup was never started or the
	// provisional secret was superseded.
	ErrNotPending = apperrors.New(apperrors.CodeTwoFactorNotPending, "two-factor setup is not pending")
	// ErrInvalidCode is the uniform rejection for wrong, expired, or reused
	// codes.
	ErrInvalidCode = apperrors.New(apperrors.CodeTwoFactorInvalidCode, "invalid two-factor code")
)

// Engine provisions, activates, and checks the TOTP second factor.
type Engine struct {
	config Config
	store  storage.TwoFactorStore
	clock  func() time.Time
	random io.Reader
}

// NewEngine creates a second-factor engine over the given store.
func NewEngine(config Config, store storage.TwoFactorStore) *Engine {
	return &Engine{
		config: config,
		store:  store,
		clock:  time.Now,
		random: rand.Reader,
	}
}

// Setup describes a provisional secret awaiting activation.
type Setup struct {
	// Secret is the base32-encoded shared secret.
	Secret string
	// ProvisioningURI is the otpauth URI authenticator apps enroll from.
	ProvisioningURI string
}

// Setup generates a provisional secret for the user and stores it. The
// second factor stays off until a code proves the authenticator app holds
// the secret. Calling Setup again before activation replaces the secret.
func (e *Engine) Setup(ctx context.Context, u user.User) (Setup, error) {
	if u.TwoFactorEnabled {
		return Setup{}, ErrAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.config.Issuer,
		AccountName: u.Email,
		SecretSize:  secretSize,
	})
	if err != nil {
		return Setup{}, fmt.Errorf("generate totp secret: %w", err)
	}

	if err := e.store.SetTOTPSecret(ctx, u.ID, key.Secret()); err != nil {
		return Setup{}, fmt.Errorf("store totp secret: %w", err)
	}

	return Setup{Secret: key.Secret(), ProvisioningURI: key.URL()}, nil
}

// Activate turns the second factor on after the user proves possession of
// the provisional secret with a valid code. It returns the freshly issued
// backup codes; they are shown once and never recoverable afterwards.
func (e *Engine) Activate(ctx context.Context, u user.User, code string) ([]string, error) {
	if u.TwoFactorEnabled {
		return nil, ErrAlreadyEnabled
	}
	if u.TOTPSecret == "" {
		return nil, ErrNotPending
	}
	if !e.codeMatches(u.TOTPSecret, code) {
		return nil, ErrInvalidCode
	}

	backupCodes, err := generateBackupCodes(e.random)
	if err != nil {
		return nil, fmt.Errorf("generate backup codes: %w", err)
	}

	if err := e.store.ActivateTwoFactor(ctx, u.ID, u.TOTPSecret, backupCodes); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotPending
		}
		return nil, fmt.Errorf("activate two-factor: %w", err)
	}

	return backupCodes, nil
}

// Result reports how a second-factor check succeeded.
type Result struct {
	// BackupCodeUsed is true when a single-use backup code was consumed
	// instead of a TOTP code.
	BackupCodeUsed bool
}

// Validate accepts either a current TOTP code or an unused backup code.
// A consumed backup code is gone; presenting it again fails.
func (e *Engine) Validate(ctx context.Context, u user.User, code string) (Result, error) {
	if !u.TwoFactorEnabled {
		return Result{}, ErrNotEnabled
	}

	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return Result{}, ErrInvalidCode
	}

	// Backup codes are checked first. The formats are disjoint (six
	// digits vs eight hex characters), so a TOTP code can never consume
	// a backup code.
	consumed, err := e.store.ConsumeBackupCode(ctx, u.ID, strings.ToUpper(trimmed))
	if err != nil {
		return Result{}, fmt.Errorf("consume backup code: %w", err)
	}
	if consumed {
		return Result{BackupCodeUsed: true}, nil
	}

	if e.codeMatches(u.TOTPSecret, trimmed) {
		return Result{}, nil
	}

	return Result{}, ErrInvalidCode
}

// Disable turns the second factor off and destroys the secret and any
// remaining backup codes. Only a TOTP code authorizes disabling; backup
// codes are for signing in, not for weakening the account.
func (e *Engine) Disable(ctx context.Context, u user.User, code string) error {
	if !u.TwoFactorEnabled {
		return ErrNotEnabled
	}
	if !e.codeMatches(u.TOTPSecret, code) {
		return ErrInvalidCode
	}

	if err := e.store.DisableTwoFactor(ctx, u.ID); err != nil {
		return fmt.Errorf("disable two-factor: %w", err)
	}
	return nil
}

// RemainingBackupCodes reports how many unused backup codes the user holds.
func (e *Engine) RemainingBackupCodes(ctx context.Context, userID string) (int, error) {
	count, err := e.store.CountBackupCodes(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("count backup codes: %w", err)
	}
	return count, nil
}

func (e *Engine) codeMatches(secret, code string) bool {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" || secret == "" {
		return false
	}
	valid, err := totp.ValidateCustom(trimmed, secret, e.clock().UTC(), totp.ValidateOpts{
		Period:    codePeriod,
		Skew:      codeSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && valid
}

// generateBackupCodes issues a fresh set of uppercase hex codes.
func generateBackupCodes(random io.Reader) ([]string, error) {
	codes := make([]string, 0, backupCodeCount)
	for i := 0; i < backupCodeCount; i++ {
		raw := make([]byte, backupCodeBytes)
		if _, err := io.ReadFull(random, raw); err != nil {
			return nil, err
		}
		codes = append(codes, strings.ToUpper(hex.EncodeToString(raw)))
	}
	return codes, nil
}

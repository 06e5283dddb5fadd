package service

import (
	"context"
	"fmt"

	"github.com/driftlock/driftlock/internal/auth/totp"
	apperrors "github.com/driftlock/driftlock/internal/platform/errors"
)

// SetupTwoFactor provisions a TOTP secret for the user. The second factor
// stays off until ActivateTwoFactor proves the authenticator app holds the
// secret. Repeating setup before activation replaces the secret.
func (s *AuthService) SetupTwoFactor(ctx context.Context, userID string) (totp.Setup, error) {
	ctx, span := s.tracer.Start(ctx, "auth.SetupTwoFactor")
	defer span.End()

	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return totp.Setup{}, err
	}

	setup, err := s.secondFactor.Setup(ctx, u)
	if err != nil {
		return totp.Setup{}, err
	}

	s.logger.InfoContext(ctx, "two-factor setup started", "user_id", u.ID)
	return setup, nil
}

// ActivateTwoFactor turns the second factor on after a valid code and
// returns the backup codes. They are shown exactly once.
func (s *AuthService) ActivateTwoFactor(ctx context.Context, userID, code string) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "auth.ActivateTwoFactor")
	defer span.End()

	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	backupCodes, err := s.secondFactor.Activate(ctx, u, code)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "two-factor enabled", "user_id", u.ID)
	return backupCodes, nil
}

// ValidateTwoFactor completes a pending login with a TOTP or backup code
// and issues a full session token.
func (s *AuthService) ValidateTwoFactor(ctx context.Context, userID, code string) (LoginResult, error) {
	ctx, span := s.tracer.Start(ctx, "auth.ValidateTwoFactor")
	defer span.End()

	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return LoginResult{}, err
	}

	result, err := s.secondFactor.Validate(ctx, u, code)
	if err != nil {
		s.logger.WarnContext(ctx, "two-factor validation failed",
			"user_id", u.ID,
			"code", apperrors.GetCode(err),
		)
		return LoginResult{}, err
	}

	sessionToken, err := s.tokens.Issue(u.ID, false)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue session token: %w", err)
	}

	s.logger.InfoContext(ctx, "two-factor validated",
		"user_id", u.ID,
		"backup_code_used", result.BackupCodeUsed,
	)
	return LoginResult{User: u, Token: sessionToken, BackupCodeUsed: result.BackupCodeUsed}, nil
}

// DisableTwoFactor turns the second factor off. Only a current TOTP code
// authorizes this; backup codes are rejected.
func (s *AuthService) DisableTwoFactor(ctx context.Context, userID, code string) error {
	ctx, span := s.tracer.Start(ctx, "auth.DisableTwoFactor")
	defer span.End()

	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.secondFactor.Disable(ctx, u, code); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "two-factor disabled", "user_id", u.ID)
	return nil
}

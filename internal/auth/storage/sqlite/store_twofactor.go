package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/driftlock/driftlock/internal/auth/storage"
)

// SetTOTPSecret stores a provisional TOTP secret for a user.
// A repeated setup attempt simply replaces the previous provisional secret.
func (s *Store) SetTOTPSecret(ctx context.Context, userID string, secret string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(secret) == "" {
		return fmt.Errorf("secret is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE users SET totp_secret = ?, updated_at = ?
WHERE id = ? AND two_factor_enabled = 0`,
		secret, toMillis(time.Now()), userID,
	)
	if err != nil {
		return fmt.Errorf("set totp secret: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set totp secret: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ActivateTwoFactor enables 2FA and installs the backup codes atomically.
//
// The update is guarded on the provisional secret still matching and the flag
// still being off, so a concurrent setup or activation cannot race this one
// into an inconsistent state.
func (s *Store) ActivateTwoFactor(ctx context.Context, userID string, secret string, backupCodes []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(secret) == "" {
		return fmt.Errorf("secret is required")
	}
	if len(backupCodes) == 0 {
		return fmt.Errorf("backup codes are required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin activate two factor: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := toMillis(time.Now())
	result, err := tx.ExecContext(ctx, `
UPDATE users SET two_factor_enabled = 1, updated_at = ?
WHERE id = ? AND totp_secret = ? AND two_factor_enabled = 0`,
		now, userID, secret,
	)
	if err != nil {
		return fmt.Errorf("activate two factor: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("activate two factor: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM backup_codes WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clear backup codes: %w", err)
	}
	for _, code := range backupCodes {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO backup_codes (user_id, code, created_at) VALUES (?, ?, ?)`,
			userID, code, now,
		); err != nil {
			return fmt.Errorf("insert backup code: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit activate two factor: %w", err)
	}
	return nil
}

// DisableTwoFactor clears the secret, the enabled flag, and all backup codes.
func (s *Store) DisableTwoFactor(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin disable two factor: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
UPDATE users SET two_factor_enabled = 0, totp_secret = NULL, updated_at = ?
WHERE id = ?`,
		toMillis(time.Now()), userID,
	)
	if err != nil {
		return fmt.Errorf("disable two factor: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("disable two factor: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM backup_codes WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clear backup codes: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit disable two factor: %w", err)
	}
	return nil
}

// ConsumeBackupCode deletes one unused backup code. The affected row count
// decides success, so the same code can never be accepted twice.
func (s *Store) ConsumeBackupCode(ctx context.Context, userID string, code string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return false, fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(code) == "" {
		return false, nil
	}

	result, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM backup_codes WHERE user_id = ? AND code = ?`, userID, code)
	if err != nil {
		return false, fmt.Errorf("consume backup code: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume backup code: %w", err)
	}
	return affected == 1, nil
}

// CountBackupCodes returns how many unused codes remain for a user.
func (s *Store) CountBackupCodes(ctx context.Context, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return 0, fmt.Errorf("user id is required")
	}

	var count int
	row := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM backup_codes WHERE user_id = ?`, userID)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count backup codes: %w", err)
	}
	return count, nil
}

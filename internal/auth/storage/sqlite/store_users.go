package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/driftlock/driftlock/internal/auth/storage"
	"github.com/driftlock/driftlock/internal/auth/user"
)

// PutUser inserts a new user record.
//
// Email and username uniqueness is enforced by the schema; violations are
// mapped to the typed conflict errors so the service layer never has to
// parse driver messages.
func (s *Store) PutUser(ctx context.Context, u user.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(u.Email) == "" {
		return fmt.Errorf("email is required")
	}
	if strings.TrimSpace(u.Username) == "" {
		return fmt.Errorf("username is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO users (id, email, username, two_factor_enabled, totp_secret, created_at, updated_at)
VALUES (?, ?, ?, ?, NULLIF(?, ''), ?, ?)`,
		u.ID, u.Email, u.Username, boolToInt(u.TwoFactorEnabled), u.TOTPSecret,
		toMillis(u.CreatedAt), toMillis(u.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err, "users.email") {
			return storage.ErrEmailTaken
		}
		if isUniqueViolation(err, "users.username") {
			return storage.ErrUsernameTaken
		}
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, userID string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	if s == nil || s.sqlDB == nil {
		return user.User{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return user.User{}, fmt.Errorf("user id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, email, username, two_factor_enabled, COALESCE(totp_secret, ''), created_at, updated_at
FROM users WHERE id = ?`, userID)
	return scanUser(row)
}

// GetUserByEmail fetches a user by normalized email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	if s == nil || s.sqlDB == nil {
		return user.User{}, fmt.Errorf("storage is not configured")
	}
	normalized := user.NormalizeEmail(email)
	if normalized == "" {
		return user.User{}, fmt.Errorf("email is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, email, username, two_factor_enabled, COALESCE(totp_secret, ''), created_at, updated_at
FROM users WHERE email = ?`, normalized)
	return scanUser(row)
}

func scanUser(row *sql.Row) (user.User, error) {
	var u user.User
	var enabled int64
	var createdAt, updatedAt int64
	err := row.Scan(&u.ID, &u.Email, &u.Username, &enabled, &u.TOTPSecret, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, storage.ErrNotFound
		}
		return user.User{}, fmt.Errorf("scan user: %w", err)
	}
	u.TwoFactorEnabled = enabled != 0
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return u, nil
}

func boolToInt(value bool) int64 {
	if value {
		return 1
	}
	return 0
}

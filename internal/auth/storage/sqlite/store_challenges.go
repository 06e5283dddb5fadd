package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/driftlock/driftlock/internal/auth/storage"
)

// PutChallenge stores the user's single outstanding ceremony challenge.
// Any live challenge for the user is superseded by the upsert.
func (s *Store) PutChallenge(ctx context.Context, challenge storage.Challenge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(challenge.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(challenge.Kind) == "" {
		return fmt.Errorf("challenge kind is required")
	}
	if strings.TrimSpace(challenge.SessionJSON) == "" {
		return fmt.Errorf("session json is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO challenges (user_id, kind, session_json, expires_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
    kind = excluded.kind,
    session_json = excluded.session_json,
    expires_at = excluded.expires_at`,
		challenge.UserID, challenge.Kind, challenge.SessionJSON, toMillis(challenge.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("put challenge: %w", err)
	}
	return nil
}

// TakeChallenge removes and returns the user's live challenge in one
// statement, so a challenge can never authorize two verifications.
func (s *Store) TakeChallenge(ctx context.Context, userID string) (storage.Challenge, error) {
	if err := ctx.Err(); err != nil {
		return storage.Challenge{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Challenge{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return storage.Challenge{}, fmt.Errorf("user id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
DELETE FROM challenges WHERE user_id = ?
RETURNING user_id, kind, session_json, expires_at`, userID)

	var challenge storage.Challenge
	var expiresAt int64
	err := row.Scan(&challenge.UserID, &challenge.Kind, &challenge.SessionJSON, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Challenge{}, storage.ErrNotFound
		}
		return storage.Challenge{}, fmt.Errorf("take challenge: %w", err)
	}
	challenge.ExpiresAt = fromMillis(expiresAt)
	return challenge, nil
}

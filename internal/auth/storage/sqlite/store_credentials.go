package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/driftlock/driftlock/internal/auth/storage"
)

// AddCredential inserts a newly registered passkey credential.
//
// The credential id is the table's primary key, so a collision with any
// existing credential fails the insert instead of overwriting it.
func (s *Store) AddCredential(ctx context.Context, credential storage.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credential.ID) == "" {
		return fmt.Errorf("credential id is required")
	}
	if strings.TrimSpace(credential.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if len(credential.PublicKey) == 0 {
		return fmt.Errorf("public key is required")
	}

	transports, err := json.Marshal(credential.Transports)
	if err != nil {
		return fmt.Errorf("encode transports: %w", err)
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO credentials (credential_id, user_id, public_key, sign_count, transports, device_type, backed_up, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		credential.ID, credential.UserID, credential.PublicKey, int64(credential.SignCount),
		string(transports), credential.DeviceType, boolToInt(credential.BackedUp),
		toMillis(credential.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err, "credentials.credential_id") {
			return storage.ErrCredentialExists
		}
		return fmt.Errorf("add credential: %w", err)
	}
	return nil
}

// GetCredential fetches a stored passkey credential by id.
func (s *Store) GetCredential(ctx context.Context, credentialID string) (storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return storage.Credential{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Credential{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return storage.Credential{}, fmt.Errorf("credential id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT credential_id, user_id, public_key, sign_count, transports, device_type, backed_up, created_at
FROM credentials WHERE credential_id = ?`, credentialID)
	return scanCredential(row.Scan)
}

// ListCredentials returns the user's enrolled passkeys in enrollment order.
func (s *Store) ListCredentials(ctx context.Context, userID string) ([]storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT credential_id, user_id, public_key, sign_count, transports, device_type, backed_up, created_at
FROM credentials WHERE user_id = ? ORDER BY created_at, credential_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var credentials []storage.Credential
	for rows.Next() {
		credential, err := scanCredential(rows.Scan)
		if err != nil {
			return nil, err
		}
		credentials = append(credentials, credential)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return credentials, nil
}

// UpdateSignCount advances a credential's signature counter with a
// compare-and-swap on the previously observed value.
func (s *Store) UpdateSignCount(ctx context.Context, credentialID string, from, to uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE credentials SET sign_count = ? WHERE credential_id = ? AND sign_count = ?`,
		int64(to), credentialID, int64(from),
	)
	if err != nil {
		return fmt.Errorf("update sign count: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update sign count: %w", err)
	}
	if affected == 0 {
		// Either the credential vanished or the counter moved underneath us.
		// Both are treated as failure; the caller never retries silently.
		return storage.ErrNotFound
	}
	return nil
}

func scanCredential(scan func(dest ...any) error) (storage.Credential, error) {
	var credential storage.Credential
	var signCount int64
	var transports string
	var backedUp int64
	var createdAt int64
	err := scan(&credential.ID, &credential.UserID, &credential.PublicKey, &signCount,
		&transports, &credential.DeviceType, &backedUp, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Credential{}, storage.ErrNotFound
		}
		return storage.Credential{}, fmt.Errorf("scan credential: %w", err)
	}
	credential.SignCount = uint32(signCount)
	credential.BackedUp = backedUp != 0
	credential.CreatedAt = fromMillis(createdAt)
	if err := json.Unmarshal([]byte(transports), &credential.Transports); err != nil {
		return storage.Credential{}, fmt.Errorf("decode transports: %w", err)
	}
	return credential, nil
}

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/driftlock/driftlock/internal/auth/storage"
	"github.com/driftlock/driftlock/internal/auth/user"
)

// CredentialSummary is the client-visible shape of an enrolled passkey.
// The public key and signature counter stay server-side.
type CredentialSummary struct {
	ID         string
	DeviceType string
	BackedUp   bool
	Transports []string
	CreatedAt  time.Time
}

// Profile describes the authenticated account.
type Profile struct {
	User                 user.User
	Credentials          []CredentialSummary
	BackupCodesRemaining int
}

// CurrentUser returns the account profile with its enrolled passkeys and,
// when the second factor is on, the remaining backup code count.
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (Profile, error) {
	ctx, span := s.tracer.Start(ctx, "auth.CurrentUser")
	defer span.End()

	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return Profile{}, err
	}

	enrolled, err := s.store.ListCredentials(ctx, u.ID)
	if err != nil {
		return Profile{}, fmt.Errorf("list credentials: %w", err)
	}
	summaries := make([]CredentialSummary, 0, len(enrolled))
	for _, credential := range enrolled {
		summaries = append(summaries, credentialSummary(credential))
	}

	profile := Profile{User: u, Credentials: summaries}
	if u.TwoFactorEnabled {
		remaining, err := s.secondFactor.RemainingBackupCodes(ctx, u.ID)
		if err != nil {
			return Profile{}, err
		}
		profile.BackupCodesRemaining = remaining
	}
	return profile, nil
}

func credentialSummary(credential storage.Credential) CredentialSummary {
	return CredentialSummary{
		ID:         credential.ID,
		DeviceType: credential.DeviceType,
		BackedUp:   credential.BackedUp,
		Transports: credential.Transports,
		CreatedAt:  credential.CreatedAt,
	}
}

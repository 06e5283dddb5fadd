package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/driftlock/driftlock/internal/auth/challenge"
	"github.com/driftlock/driftlock/internal/auth/passkey"
	"github.com/driftlock/driftlock/internal/auth/user"
	apperrors "github.com/driftlock/driftlock/internal/platform/errors"
)

// LoginResult reports a completed first-factor login.
type LoginResult struct {
	User user.User
	// Token is a full session token, or a pending one when Requires2FA is
	// set. A pending token only authorizes completing the second factor.
	Token string
	// Requires2FA is true when the account still owes a TOTP code.
	Requires2FA bool
	// BackupCodeUsed is true when the second factor was satisfied by a
	// single-use backup code.
	BackupCodeUsed bool
}

// ceremonyFailure collapses every verification rejection into the generic
// failure. The distinct reason (missing or mismatched challenge, unknown
// credential, counter regression, bad signature) is logged server-side;
// exposing it would hand a cloned-authenticator attacker an oracle for
// which check tripped.
func ceremonyFailure(err error) error {
	switch apperrors.GetCode(err) {
	case apperrors.CodeChallengeMissing,
		apperrors.CodeChallengeMismatch,
		apperrors.CodeCredentialNotFound,
		apperrors.CodeCounterRegression,
		apperrors.CodePasskeyVerificationFailed:
		return passkey.ErrVerificationFailed
	}
	return err
}

// BeginPasskeyRegistration starts a passkey enrollment ceremony. The
// returned JSON is the WebAuthn credential creation options for the
// browser. Starting a new ceremony supersedes any outstanding challenge
// for the user.
func (s *AuthService) BeginPasskeyRegistration(ctx context.Context, userID string) (json.RawMessage, error) {
	ctx, span := s.tracer.Start(ctx, "auth.BeginPasskeyRegistration")
	defer span.End()

	unlock := s.challenges.Lock(userID)
	defer unlock()

	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	enrolled, err := s.store.ListCredentials(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}

	creation, session, err := s.passkeys.BeginRegistration(u, enrolled)
	if err != nil {
		return nil, err
	}
	sessionJSON, err := passkey.SessionToJSON(session)
	if err != nil {
		return nil, err
	}
	if err := s.challenges.Issue(ctx, u.ID, challenge.KindRegistration, sessionJSON); err != nil {
		return nil, fmt.Errorf("store challenge: %w", err)
	}

	options, err := json.Marshal(creation)
	if err != nil {
		return nil, fmt.Errorf("encode creation options: %w", err)
	}
	return options, nil
}

// FinishPasskeyRegistration verifies an attestation response and persists
// the new credential. The challenge is consumed before verification, so a
// failed attempt burns it and the ceremony must be restarted.
func (s *AuthService) FinishPasskeyRegistration(ctx context.Context, userID string, responseJSON []byte) (CredentialSummary, error) {
	ctx, span := s.tracer.Start(ctx, "auth.FinishPasskeyRegistration")
	defer span.End()

	unlock := s.challenges.Lock(userID)
	defer unlock()

	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return CredentialSummary{}, err
	}
	enrolled, err := s.store.ListCredentials(ctx, u.ID)
	if err != nil {
		return CredentialSummary{}, fmt.Errorf("list credentials: %w", err)
	}

	sessionJSON, err := s.challenges.Consume(ctx, u.ID, challenge.KindRegistration)
	if err != nil {
		s.logger.WarnContext(ctx, "registration challenge rejected",
			"user_id", u.ID,
			"code", apperrors.GetCode(err),
		)
		return CredentialSummary{}, ceremonyFailure(err)
	}
	session, err := passkey.SessionFromJSON(sessionJSON)
	if err != nil {
		return CredentialSummary{}, err
	}

	credential, err := s.passkeys.FinishRegistration(u, enrolled, session, responseJSON, s.clock())
	if err != nil {
		s.logger.WarnContext(ctx, "passkey registration failed",
			"user_id", u.ID,
			"code", apperrors.GetCode(err),
		)
		return CredentialSummary{}, ceremonyFailure(err)
	}

	if err := s.store.AddCredential(ctx, credential); err != nil {
		return CredentialSummary{}, err
	}

	s.logger.InfoContext(ctx, "passkey registered",
		"user_id", u.ID,
		"credential_id", credential.ID,
	)
	return credentialSummary(credential), nil
}

// BeginPasskeyLogin starts an authentication ceremony for the account
// owning the email address. The returned JSON is the WebAuthn credential
// request options for the browser.
func (s *AuthService) BeginPasskeyLogin(ctx context.Context, email string) (json.RawMessage, error) {
	ctx, span := s.tracer.Start(ctx, "auth.BeginPasskeyLogin")
	defer span.End()

	u, err := s.store.GetUserByEmail(ctx, user.NormalizeEmail(email))
	if err != nil {
		return nil, err
	}

	unlock := s.challenges.Lock(u.ID)
	defer unlock()

	enrolled, err := s.store.ListCredentials(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}

	assertion, session, err := s.passkeys.BeginLogin(u, enrolled)
	if err != nil {
		return nil, err
	}
	sessionJSON, err := passkey.SessionToJSON(session)
	if err != nil {
		return nil, err
	}
	if err := s.challenges.Issue(ctx, u.ID, challenge.KindLogin, sessionJSON); err != nil {
		return nil, fmt.Errorf("store challenge: %w", err)
	}

	options, err := json.Marshal(assertion)
	if err != nil {
		return nil, fmt.Errorf("encode request options: %w", err)
	}
	return options, nil
}

// FinishPasskeyLogin verifies an assertion response, advances the signature
// counter, and issues a session token. When the account has the second
// factor enabled the token is pending and only authorizes the TOTP step.
func (s *AuthService) FinishPasskeyLogin(ctx context.Context, email string, responseJSON []byte) (LoginResult, error) {
	ctx, span := s.tracer.Start(ctx, "auth.FinishPasskeyLogin")
	defer span.End()

	u, err := s.store.GetUserByEmail(ctx, user.NormalizeEmail(email))
	if err != nil {
		return LoginResult{}, err
	}

	unlock := s.challenges.Lock(u.ID)
	defer unlock()

	enrolled, err := s.store.ListCredentials(ctx, u.ID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("list credentials: %w", err)
	}

	sessionJSON, err := s.challenges.Consume(ctx, u.ID, challenge.KindLogin)
	if err != nil {
		s.logger.WarnContext(ctx, "login challenge rejected",
			"user_id", u.ID,
			"code", apperrors.GetCode(err),
		)
		return LoginResult{}, ceremonyFailure(err)
	}
	session, err := passkey.SessionFromJSON(sessionJSON)
	if err != nil {
		return LoginResult{}, err
	}

	verified, err := s.passkeys.FinishLogin(u, enrolled, session, responseJSON)
	if err != nil {
		s.logger.WarnContext(ctx, "passkey login failed",
			"user_id", u.ID,
			"code", apperrors.GetCode(err),
		)
		return LoginResult{}, ceremonyFailure(err)
	}

	// Authenticators without a counter report zero forever; there is
	// nothing to persist for them.
	if verified.NewSignCount > verified.Credential.SignCount {
		err := s.store.UpdateSignCount(ctx, verified.Credential.ID, verified.Credential.SignCount, verified.NewSignCount)
		if err != nil {
			s.logger.WarnContext(ctx, "sign count update lost a race",
				"user_id", u.ID,
				"credential_id", verified.Credential.ID,
			)
			return LoginResult{}, passkey.ErrVerificationFailed
		}
	}

	requires2FA := u.TwoFactorEnabled
	sessionToken, err := s.tokens.Issue(u.ID, requires2FA)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue session token: %w", err)
	}

	s.logger.InfoContext(ctx, "passkey login verified",
		"user_id", u.ID,
		"credential_id", verified.Credential.ID,
		"requires_2fa", requires2FA,
	)
	return LoginResult{User: u, Token: sessionToken, Requires2FA: requires2FA}, nil
}

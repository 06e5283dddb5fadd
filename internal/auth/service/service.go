// Package service orchestrates registration, passkey ceremonies, the TOTP
// second factor, and session tokens over the persistence layer.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/driftlock/driftlock/internal/auth/challenge"
	"github.com/driftlock/driftlock/internal/auth/passkey"
	"github.com/driftlock/driftlock/internal/auth/storage"
	"github.com/driftlock/driftlock/internal/auth/token"
	"github.com/driftlock/driftlock/internal/auth/totp"
	"github.com/driftlock/driftlock/internal/auth/user"
	"github.com/driftlock/driftlock/internal/platform/id"
)

// Store is the combined persistence surface the service needs.
type Store interface {
	storage.UserStore
	storage.CredentialStore
	storage.ChallengeStore
	storage.TwoFactorStore
}

// passkeyEngine is the slice of the ceremony engine the service depends on.
type passkeyEngine interface {
	BeginRegistration(u user.User, enrolled []storage.Credential) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	FinishRegistration(u user.User, enrolled []storage.Credential, session webauthn.SessionData, responseJSON []byte, now time.Time) (storage.Credential, error)
	BeginLogin(u user.User, enrolled []storage.Credential) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	FinishLogin(u user.User, enrolled []storage.Credential, session webauthn.SessionData, responseJSON []byte) (passkey.LoginResult, error)
}

// secondFactorEngine is the slice of the TOTP engine the service depends on.
type secondFactorEngine interface {
	Setup(ctx context.Context, u user.User) (totp.Setup, error)
	Activate(ctx context.Context, u user.User, code string) ([]string, error)
	Validate(ctx context.Context, u user.User, code string) (totp.Result, error)
	Disable(ctx context.Context, u user.User, code string) error
	RemainingBackupCodes(ctx context.Context, userID string) (int, error)
}

// tokenIssuer is the slice of the token issuer the service depends on.
type tokenIssuer interface {
	Issue(userID string, secondFactorPending bool) (string, error)
	Validate(tokenString string) (token.Claims, error)
}

// AuthService implements the authentication flows end to end.
//
// It is the stable surface transport handlers call to perform identity
// actions without directly touching storage or ceremony details.
type AuthService struct {
	store        Store
	passkeys     passkeyEngine
	secondFactor secondFactorEngine
	tokens       tokenIssuer
	challenges   *challenge.Manager
	clock        func() time.Time
	idGenerator  func() (string, error)
	logger       *slog.Logger
	tracer       trace.Tracer
}

// NewAuthService builds a service with defaults for the auth package.
//
// Defaults are intentionally assembled here so transport handlers can treat
// this as the canonical auth domain entrypoint.
func NewAuthService(store Store, passkeyConfig passkey.Config, totpConfig totp.Config, tokenConfig token.Config, logger *slog.Logger) (*AuthService, error) {
	engine, err := passkey.NewEngine(passkeyConfig)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		store:        store,
		passkeys:     engine,
		secondFactor: totp.NewEngine(totpConfig, store),
		tokens:       token.NewIssuer(tokenConfig),
		challenges:   challenge.NewManager(store, passkeyConfig.ChallengeTTL),
		clock:        time.Now,
		idGenerator:  id.NewID,
		logger:       logger,
		tracer:       otel.Tracer("driftlock/auth"),
	}, nil
}

// ValidateToken verifies a session token for transport middleware.
func (s *AuthService) ValidateToken(tokenString string) (token.Claims, error) {
	return s.tokens.Validate(tokenString)
}

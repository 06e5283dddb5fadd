// Package passkey builds and verifies WebAuthn ceremonies.
package passkey

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/driftlock/driftlock/internal/auth/challenge"
	"github.com/driftlock/driftlock/internal/auth/storage"
	"github.com/driftlock/driftlock/internal/auth/user"
	apperrors "github.com/driftlock/driftlock/internal/platform/errors"
)

const (
	deviceTypeSingle = "singleDevice"
	deviceTypeMulti  = "multiDevice"
)

var (
	// ErrNoCredentials indicates the user has no enrolled passkeys.
	ErrNoCredentials = apperrors.New(apperrors.CodeNoCredentials, "no passkeys registered for this user")
	// ErrCredentialNotFound indicates the response references an unknown credential.
	ErrCredentialNotFound = apperrors.New(apperrors.CodeCredentialNotFound, "credential not found")
	// ErrCounterRegression indicates a signature counter that did not advance.
	// Treated as cloned-authenticator replay and fatal to the attempt.
	ErrCounterRegression = apperrors.New(apperrors.CodeCounterRegression, "signature counter did not advance")
	// ErrVerificationFailed is the generic ceremony failure surfaced to clients.
	ErrVerificationFailed = apperrors.New(apperrors.CodePasskeyVerificationFailed, "passkey verification failed")
)

// provider is the slice of the webauthn API the engine depends on.
type provider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
}

// parser is the slice of the protocol API the engine depends on.
type parser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type defaultParser struct{}

func (defaultParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (defaultParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// Engine builds ceremony options and verifies signed responses.
type Engine struct {
	config Config
	web    provider
	parser parser
}

// NewEngine creates a ceremony engine for the configured relying party.
func NewEngine(config Config) (*Engine, error) {
	web, err := webauthn.New(&webauthn.Config{
		RPDisplayName: config.RPDisplayName,
		RPID:          config.RPID,
		RPOrigins:     config.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("configure webauthn: %w", err)
	}
	return &Engine{config: config, web: web, parser: defaultParser{}}, nil
}

// BeginRegistration builds credential creation options for enrolling a new
// passkey. Already-enrolled credentials are excluded so the same
// authenticator cannot double-register.
func (e *Engine) BeginRegistration(u user.User, enrolled []storage.Credential) (*protocol.CredentialCreation, *webauthn.SessionData, error) {
	ceremony, err := newCeremonyUser(u, enrolled)
	if err != nil {
		return nil, nil, err
	}

	options := []webauthn.RegistrationOption{
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			ResidentKey:             protocol.ResidentKeyRequirementPreferred,
			UserVerification:        protocol.VerificationPreferred,
			AuthenticatorAttachment: protocol.Platform,
		}),
		webauthn.WithConveyancePreference(protocol.PreferNoAttestation),
	}
	if len(ceremony.credentials) > 0 {
		options = append(options, webauthn.WithExclusions(webauthn.Credentials(ceremony.credentials).CredentialDescriptors()))
	}

	creation, session, err := e.web.BeginRegistration(ceremony, options...)
	if err != nil {
		return nil, nil, fmt.Errorf("begin registration: %w", err)
	}
	return creation, session, nil
}

// FinishRegistration verifies an attestation response against the consumed
// challenge session and returns the new credential for persistence.
func (e *Engine) FinishRegistration(u user.User, enrolled []storage.Credential, session webauthn.SessionData, responseJSON []byte, now time.Time) (storage.Credential, error) {
	ceremony, err := newCeremonyUser(u, enrolled)
	if err != nil {
		return storage.Credential{}, err
	}

	parsed, err := e.parser.ParseCredentialCreationResponseBytes(responseJSON)
	if err != nil {
		return storage.Credential{}, apperrors.Wrap(apperrors.CodePasskeyVerificationFailed, "parse credential response", err)
	}
	if err := challenge.Match(session.Challenge, parsed.Response.CollectedClientData.Challenge); err != nil {
		return storage.Credential{}, err
	}

	credential, err := e.web.CreateCredential(ceremony, session, parsed)
	if err != nil {
		return storage.Credential{}, apperrors.Wrap(apperrors.CodePasskeyVerificationFailed, "verify registration response", err)
	}

	return storedFromCredential(u.ID, *credential, now), nil
}

// BeginLogin builds assertion options listing every enrolled credential.
// Stored transports are passed through as hints without filtering.
func (e *Engine) BeginLogin(u user.User, enrolled []storage.Credential) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	if len(enrolled) == 0 {
		return nil, nil, ErrNoCredentials
	}
	ceremony, err := newCeremonyUser(u, enrolled)
	if err != nil {
		return nil, nil, err
	}

	assertion, session, err := e.web.BeginLogin(ceremony,
		webauthn.WithUserVerification(protocol.VerificationPreferred),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("begin login: %w", err)
	}
	return assertion, session, nil
}

// LoginResult reports a verified authentication ceremony.
type LoginResult struct {
	// Credential is the stored credential that signed the assertion.
	Credential storage.Credential
	// NewSignCount is the counter reported by the authenticator. The caller
	// must persist it with a compare-and-swap on Credential.SignCount.
	NewSignCount uint32
}

// FinishLogin verifies an assertion response against the consumed challenge
// session, the stored public key, and the signature counter policy.
//
// The reported counter must be strictly greater than the stored one. The
// single exemption is stored == reported == 0: some authenticators never
// implement a counter and always report zero. Any other non-advancing
// counter indicates a cloned authenticator replaying an old assertion and
// fails the attempt.
func (e *Engine) FinishLogin(u user.User, enrolled []storage.Credential, session webauthn.SessionData, responseJSON []byte) (LoginResult, error) {
	ceremony, err := newCeremonyUser(u, enrolled)
	if err != nil {
		return LoginResult{}, err
	}

	parsed, err := e.parser.ParseCredentialRequestResponseBytes(responseJSON)
	if err != nil {
		return LoginResult{}, apperrors.Wrap(apperrors.CodePasskeyVerificationFailed, "parse credential response", err)
	}
	if err := challenge.Match(session.Challenge, parsed.Response.CollectedClientData.Challenge); err != nil {
		return LoginResult{}, err
	}

	responseID := EncodeCredentialID(parsed.RawID)
	var stored *storage.Credential
	for i := range enrolled {
		if enrolled[i].ID == responseID {
			stored = &enrolled[i]
			break
		}
	}
	if stored == nil {
		return LoginResult{}, ErrCredentialNotFound
	}

	validated, err := e.web.ValidateLogin(ceremony, session, parsed)
	if err != nil {
		return LoginResult{}, apperrors.Wrap(apperrors.CodePasskeyVerificationFailed, "verify login response", err)
	}

	reported := validated.Authenticator.SignCount
	if err := CheckSignCount(stored.SignCount, reported); err != nil {
		return LoginResult{}, err
	}

	return LoginResult{Credential: *stored, NewSignCount: reported}, nil
}

// CheckSignCount enforces the counter replay policy.
func CheckSignCount(stored, reported uint32) error {
	if reported == 0 && stored == 0 {
		return nil
	}
	if reported <= stored {
		return ErrCounterRegression
	}
	return nil
}

// EncodeCredentialID renders a raw credential id for storage and lookups.
func EncodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

// ceremonyUser adapts a user and its stored credentials to webauthn.User.
type ceremonyUser struct {
	user        user.User
	credentials []webauthn.Credential
}

func newCeremonyUser(u user.User, enrolled []storage.Credential) (*ceremonyUser, error) {
	credentials := make([]webauthn.Credential, 0, len(enrolled))
	for _, stored := range enrolled {
		credential, err := credentialFromStored(stored)
		if err != nil {
			return nil, err
		}
		credentials = append(credentials, credential)
	}
	return &ceremonyUser{user: u, credentials: credentials}, nil
}

func (u *ceremonyUser) WebAuthnID() []byte {
	return []byte(u.user.ID)
}

func (u *ceremonyUser) WebAuthnName() string {
	return u.user.Email
}

func (u *ceremonyUser) WebAuthnDisplayName() string {
	return u.user.Username
}

func (u *ceremonyUser) WebAuthnIcon() string {
	return ""
}

func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

// credentialFromStored rebuilds the webauthn credential the library verifies
// against from the persisted record.
func credentialFromStored(stored storage.Credential) (webauthn.Credential, error) {
	rawID, err := base64.RawURLEncoding.DecodeString(stored.ID)
	if err != nil {
		return webauthn.Credential{}, fmt.Errorf("decode credential id %s: %w", stored.ID, err)
	}

	transports := make([]protocol.AuthenticatorTransport, 0, len(stored.Transports))
	for _, transport := range stored.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(transport))
	}

	return webauthn.Credential{
		ID:        rawID,
		PublicKey: stored.PublicKey,
		Transport: transports,
		Flags: webauthn.CredentialFlags{
			BackupEligible: stored.DeviceType == deviceTypeMulti,
			BackupState:    stored.BackedUp,
		},
		Authenticator: webauthn.Authenticator{
			SignCount: stored.SignCount,
		},
	}, nil
}

// storedFromCredential flattens a freshly verified credential into the
// persisted record shape.
func storedFromCredential(userID string, credential webauthn.Credential, now time.Time) storage.Credential {
	transports := make([]string, 0, len(credential.Transport))
	for _, transport := range credential.Transport {
		transports = append(transports, string(transport))
	}

	deviceType := deviceTypeSingle
	if credential.Flags.BackupEligible {
		deviceType = deviceTypeMulti
	}

	return storage.Credential{
		ID:         EncodeCredentialID(credential.ID),
		UserID:     userID,
		PublicKey:  credential.PublicKey,
		SignCount:  credential.Authenticator.SignCount,
		Transports: transports,
		DeviceType: deviceType,
		BackedUp:   credential.Flags.BackupState,
		CreatedAt:  now.UTC(),
	}
}

// SessionToJSON serializes ceremony session data for challenge storage.
func SessionToJSON(session *webauthn.SessionData) (string, error) {
	if session == nil {
		return "", fmt.Errorf("session data is required")
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return "", fmt.Errorf("encode session data: %w", err)
	}
	return string(payload), nil
}

// SessionFromJSON restores ceremony session data from challenge storage.
func SessionFromJSON(payload string) (webauthn.SessionData, error) {
	var session webauthn.SessionData
	if err := json.Unmarshal([]byte(payload), &session); err != nil {
		return webauthn.SessionData{}, fmt.Errorf("decode session data: %w", err)
	}
	return session, nil
}

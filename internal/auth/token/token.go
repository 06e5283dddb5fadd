// Package token mints and verifies signed session tokens.
package token

import (
	"crypto/ed25519"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/driftlock/driftlock/internal/platform/id"

	apperrors "github.com/driftlock/driftlock/internal/platform/errors"
)

// ErrInvalid is the uniform rejection for any unusable token. Callers never
// learn whether a token was malformed, forged, expired, or mis-scoped.
var ErrInvalid = apperrors.New(apperrors.CodeTokenInvalid, "session token is invalid")

// Claims captures a validated session token.
type Claims struct {
	UserID    string
	JWTID     string
	IssuedAt  time.Time
	ExpiresAt time.Time
	// SecondFactorPending marks a half-finished login: the passkey ceremony
	// succeeded but the TOTP code is still owed. A pending token grants no
	// access beyond completing the second factor.
	SecondFactorPending bool
}

// sessionClaims is the internal claims type used for JWT signing and parsing.
type sessionClaims struct {
	jwt.RegisteredClaims
	SecondFactorPending bool `json:"second_factor_pending,omitempty"`
}

// Issuer mints and verifies session tokens with an Ed25519 keypair.
type Issuer struct {
	config      Config
	clock       func() time.Time
	idGenerator func() (string, error)
}

// NewIssuer creates a token issuer from the given config.
func NewIssuer(config Config) *Issuer {
	return &Issuer{
		config:      config,
		clock:       time.Now,
		idGenerator: id.NewID,
	}
}

// Issue mints a session token for the user. A pending token carries the
// second-factor marker and a short lifetime; a full token lives for the
// configured session TTL.
func (i *Issuer) Issue(userID string, secondFactorPending bool) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("user id is required")
	}
	jwtID, err := i.idGenerator()
	if err != nil {
		return "", err
	}

	now := i.clock().UTC()
	ttl := i.config.TTL
	if secondFactorPending {
		ttl = pendingTTL(ttl)
	}

	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.config.Issuer,
			Audience:  jwt.ClaimStrings{i.config.Audience},
			Subject:   userID,
			ID:        jwtID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		SecondFactorPending: secondFactorPending,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(i.config.Key)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// Validate verifies a session token and returns its claims. Every failure
// is reported as ErrInvalid.
func (i *Issuer) Validate(tokenString string) (Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return Claims{}, ErrInvalid
	}
	if len(i.config.Key) != ed25519.PrivateKeySize {
		return Claims{}, errors.New("token issuer is not configured")
	}

	var parsed sessionClaims
	_, err := jwt.ParseWithClaims(tokenString, &parsed, func(token *jwt.Token) (any, error) {
		return i.config.Key.Public(), nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, ErrInvalid
	}

	if parsed.Issuer == "" || parsed.Issuer != i.config.Issuer {
		return Claims{}, ErrInvalid
	}
	if !audienceContains(parsed.Audience, i.config.Audience) {
		return Claims{}, ErrInvalid
	}
	if parsed.ID == "" || strings.TrimSpace(parsed.Subject) == "" {
		return Claims{}, ErrInvalid
	}
	if parsed.ExpiresAt == nil {
		return Claims{}, ErrInvalid
	}

	now := i.clock().UTC()
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(now) {
		return Claims{}, ErrInvalid
	}

	claims := Claims{
		UserID:              parsed.Subject,
		JWTID:               parsed.ID,
		ExpiresAt:           exp,
		SecondFactorPending: parsed.SecondFactorPending,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	return claims, nil
}

// pendingTTL caps the lifetime of a half-finished login.
func pendingTTL(sessionTTL time.Duration) time.Duration {
	const max = 10 * time.Minute
	if sessionTTL < max {
		return sessionTTL
	}
	return max
}

// audienceContains reports whether the audience list contains the given value.
func audienceContains(aud jwt.ClaimStrings, value string) bool {
	for _, item := range aud {
		if item == value {
			return true
		}
	}
	return false
}

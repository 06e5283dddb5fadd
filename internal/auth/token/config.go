package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/driftlock/driftlock/internal/platform/config"
)

// tokenEnv holds raw env values before post-parse validation.
type tokenEnv struct {
	Issuer     string        `env:"DRIFTLOCK_TOKEN_ISSUER"      envDefault:"driftlock"`
	Audience   string        `env:"DRIFTLOCK_TOKEN_AUDIENCE"    envDefault:"driftlock"`
	PrivateKey string        `env:"DRIFTLOCK_TOKEN_PRIVATE_KEY"`
	TTL        time.Duration `env:"DRIFTLOCK_TOKEN_TTL"         envDefault:"168h"`
}

// Config defines how session tokens are signed and verified.
type Config struct {
	Issuer   string
	Audience string
	Key      ed25519.PrivateKey
	TTL      time.Duration
}

// LoadConfigFromEnv reads session token configuration. When no signing key
// is configured an ephemeral one is generated; sessions then do not survive
// a restart, which is acceptable for development only.
func LoadConfigFromEnv() (Config, error) {
	var raw tokenEnv
	if err := config.ParseEnv(&raw); err != nil {
		return Config{}, fmt.Errorf("token: %w", err)
	}

	cfg := Config{
		Issuer:   strings.TrimSpace(raw.Issuer),
		Audience: strings.TrimSpace(raw.Audience),
		TTL:      raw.TTL,
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "driftlock"
	}
	if cfg.Audience == "" {
		cfg.Audience = "driftlock"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 168 * time.Hour
	}

	encoded := strings.TrimSpace(raw.PrivateKey)
	if encoded == "" {
		_, key, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return Config{}, fmt.Errorf("generate ephemeral signing key: %w", err)
		}
		cfg.Key = key
		return cfg, nil
	}

	keyBytes, err := decodeBase64(encoded)
	if err != nil {
		return Config{}, fmt.Errorf("decode token private key: %w", err)
	}
	switch len(keyBytes) {
	case ed25519.SeedSize:
		cfg.Key = ed25519.NewKeyFromSeed(keyBytes)
	case ed25519.PrivateKeySize:
		cfg.Key = ed25519.PrivateKey(keyBytes)
	default:
		return Config{}, fmt.Errorf("token private key must be %d or %d bytes", ed25519.SeedSize, ed25519.PrivateKeySize)
	}
	return cfg, nil
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}

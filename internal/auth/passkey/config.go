package passkey

import (
	"time"

	"github.com/driftlock/driftlock/internal/platform/config"
)

// Config controls WebAuthn relying party settings.
type Config struct {
	RPDisplayName string        `env:"DRIFTLOCK_WEBAUTHN_RP_DISPLAY_NAME" envDefault:"Driftlock"`
	RPID          string        `env:"DRIFTLOCK_WEBAUTHN_RP_ID"           envDefault:"localhost"`
	RPOrigins     []string      `env:"DRIFTLOCK_WEBAUTHN_RP_ORIGINS"      envSeparator:","`
	ChallengeTTL  time.Duration `env:"DRIFTLOCK_WEBAUTHN_CHALLENGE_TTL"   envDefault:"5m"`
}

// LoadConfigFromEnv returns passkey configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{
			RPDisplayName: "Driftlock",
			RPID:          "localhost",
			RPOrigins:     []string{"http://localhost:3000"},
			ChallengeTTL:  5 * time.Minute,
		}
	}
	if cfg.RPDisplayName == "" {
		cfg.RPDisplayName = "Driftlock"
	}
	if len(cfg.RPOrigins) == 0 {
		cfg.RPOrigins = []string{"http://localhost:3000"}
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 5 * time.Minute
	}
	return cfg
}

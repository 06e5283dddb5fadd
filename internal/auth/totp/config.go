package totp

import (
	"github.com/driftlock/driftlock/internal/platform/config"
)

// Config controls TOTP provisioning.
type Config struct {
	Issuer string `env:"DRIFTLOCK_TOTP_ISSUER" envDefault:"Driftlock"`
}

// LoadConfigFromEnv returns TOTP configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{Issuer: "Driftlock"}
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "Driftlock"
	}
	return cfg
}

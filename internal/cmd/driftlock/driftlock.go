// Package driftlock wires command-line configuration for the auth server.
package driftlock

import (
	"context"
	"flag"
	"os"
	"strings"

	"github.com/driftlock/driftlock/internal/auth/app"
)

// Config holds server command configuration.
type Config struct {
	Addr string
}

// ParseConfig parses flags into a Config. The listen address defaults to
// DRIFTLOCK_ADDR when set.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{
		Addr: envOrDefault("DRIFTLOCK_ADDR", "localhost:8080"),
	}

	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The auth HTTP server address")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the auth server.
func Run(ctx context.Context, cfg Config) error {
	return app.Run(ctx, cfg.Addr)
}

func envOrDefault(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

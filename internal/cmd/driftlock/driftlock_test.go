package driftlock

import (
	"flag"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("driftlock", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Addr != "localhost:8080" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("DRIFTLOCK_ADDR", "env-addr")

	fs := flag.NewFlagSet("driftlock", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-addr", "flag-addr"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Addr != "flag-addr" {
		t.Fatalf("expected flag addr, got %q", cfg.Addr)
	}
}

func TestParseConfigEnvFallback(t *testing.T) {
	t.Setenv("DRIFTLOCK_ADDR", "env-addr")

	fs := flag.NewFlagSet("driftlock", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Addr != "env-addr" {
		t.Fatalf("expected env addr, got %q", cfg.Addr)
	}
}

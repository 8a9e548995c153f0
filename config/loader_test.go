package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/authcore"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadLayersYAMLOverDefaults(t *testing.T) {
	path := writeFile(t, "authcore.yaml", `
issuer: st-marys
session:
  ttl: 8h
rate_limits:
  classes:
    login:
      max: 3
      window: 1m
postgres:
  dsn: postgres://authcore@db/authcore
redis:
  addr: cache:6379
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Issuer != "st-marys" || cfg.Session.TTL != 8*time.Hour {
		t.Fatalf("yaml values not applied: %q %v", cfg.Issuer, cfg.Session.TTL)
	}
	if got := cfg.RateLimits.For(authcore.ClassLogin); got.Max != 3 || got.Window != time.Minute {
		t.Fatalf("unexpected login budget %+v", got)
	}
	if got := cfg.RateLimits.For(authcore.ClassTOTPVerify); got.Max != 5 {
		t.Fatalf("default class lost on merge: %+v", got)
	}
	if cfg.Lockout.MaxAttempts != 5 || cfg.Server.Addr != ":8080" {
		t.Fatalf("defaults lost: %+v %+v", cfg.Lockout, cfg.Server)
	}
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	path := writeFile(t, "authcore.yaml", "session:\n  ttl: 8h\npostgres:\n  dsn: postgres://a@b/c\n")
	t.Setenv("AUTHCORE_SESSION_TTL", "2h")
	t.Setenv("AUTHCORE_ADMIN_EMAIL_PATTERNS", "*@ops.example, *@security.example")
	t.Setenv("AUTHCORE_BEARER_ENABLED", "true")
	t.Setenv("AUTHCORE_BEARER_SIGNING_METHOD", "hs256")
	t.Setenv("AUTHCORE_BEARER_PRIVATE_KEY", strings.Repeat("k", 32))

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.TTL != 2*time.Hour {
		t.Fatalf("expected env ttl, got %v", cfg.Session.TTL)
	}
	if got := cfg.Tenant.Admins.EmailPatterns; len(got) != 2 || got[1] != "*@security.example" {
		t.Fatalf("unexpected admin patterns %q", got)
	}
	if !cfg.Bearer.Enabled || cfg.Bearer.SigningMethod != "hs256" {
		t.Fatalf("bearer overrides not applied: %+v", cfg.Bearer)
	}
}

func TestLoadResolvesSecretFiles(t *testing.T) {
	secret := writeFile(t, "signing", strings.Repeat("s", 32)+"\n")
	dsn := writeFile(t, "dsn", "postgres://from-file@db/authcore\n")
	path := writeFile(t, "authcore.yaml", "secrets:\n  session_signing_secret_file: "+secret+"\npostgres:\n  dsn_file: "+dsn+"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.SigningSecret != strings.Repeat("s", 32) {
		t.Fatalf("signing secret not read from file: %q", cfg.Session.SigningSecret)
	}
	if cfg.Postgres.DSN != "postgres://from-file@db/authcore" {
		t.Fatalf("dsn not read from file: %q", cfg.Postgres.DSN)
	}
}

func TestLoadInlineValueBeatsFile(t *testing.T) {
	path := writeFile(t, "authcore.yaml", "postgres:\n  dsn: postgres://inline@db/x\n  dsn_file: /does/not/exist\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Postgres.DSN != "postgres://inline@db/x" {
		t.Fatalf("unexpected dsn %q", cfg.Postgres.DSN)
	}
}

func TestLoadMissingSecretFile(t *testing.T) {
	path := writeFile(t, "authcore.yaml", "postgres:\n  dsn_file: /does/not/exist\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "postgres.dsn_file") {
		t.Fatalf("expected dsn_file error, got %v", err)
	}
}

func TestLoadRejectsBadEnvValue(t *testing.T) {
	path := writeFile(t, "authcore.yaml", "postgres:\n  dsn: postgres://a@b/c\n")
	t.Setenv("AUTHCORE_LOCKOUT_MAX_ATTEMPTS", "five")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "AUTHCORE_LOCKOUT_MAX_ATTEMPTS") {
		t.Fatalf("expected env parse error, got %v", err)
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	path := writeFile(t, "authcore.yaml", "sesion:\n  ttl: 1h\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestLoadValidates(t *testing.T) {
	path := writeFile(t, "authcore.yaml", "")
	_, err := Load(path)
	if !errors.Is(err, authcore.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration without a dsn, got %v", err)
	}

	t.Setenv("AUTHCORE_POSTGRES_DSN", "postgres://env@db/authcore")
	if _, err := Load(path); err != nil {
		t.Fatalf("expected empty file plus env to load, got %v", err)
	}

	t.Setenv("AUTHCORE_SESSION_TTL", "0s")
	if _, err := Load(path); !errors.Is(err, authcore.ErrConfiguration) {
		t.Fatalf("expected engine validation error, got %v", err)
	}
}

func TestDiscoverConfigFile(t *testing.T) {
	if got := discoverConfigFile("explicit.yaml"); got != "explicit.yaml" {
		t.Fatalf("explicit path ignored: %q", got)
	}
	t.Setenv("AUTHCORE_CONFIG", "/etc/authcore/env.yaml")
	if got := discoverConfigFile(""); got != "/etc/authcore/env.yaml" {
		t.Fatalf("env path ignored: %q", got)
	}
}

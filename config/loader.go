package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AUTHCORE_"

// Load builds a File. The YAML path is configPath, else AUTHCORE_CONFIG,
// else ./authcore.yaml when it exists; with none found only defaults and
// the environment apply.
func Load(configPath string) (*File, error) {
	cfg := Defaults()

	if path := discoverConfigFile(configPath); path != "" {
		if err := loadYAMLFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: loading %s: %w", path, err)
		}
	}
	if err := applyEnvOverrides(&cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("config: secret files: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if p := os.Getenv(EnvPrefix + "CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("authcore.yaml"); err == nil {
		return "authcore.yaml"
	}
	return ""
}

func loadYAMLFile(path string, cfg *File) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// An empty file decodes to io.EOF and leaves the defaults untouched.
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

type lookupFunc func(string) (string, bool)

// envBinding maps one variable to a setter.
type envBinding struct {
	name string
	set  func(cfg *File, v string) error
}

func str(dst func(*File) *string) func(*File, string) error {
	return func(cfg *File, v string) error { *dst(cfg) = v; return nil }
}

func boolean(dst func(*File) *bool) func(*File, string) error {
	return func(cfg *File, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(cfg) = b
		return nil
	}
}

func integer(dst func(*File) *int) func(*File, string) error {
	return func(cfg *File, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(cfg) = n
		return nil
	}
}

func duration(dst func(*File) *time.Duration) func(*File, string) error {
	return func(cfg *File, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(cfg) = d
		return nil
	}
}

func list(dst func(*File) *[]string) func(*File, string) error {
	return func(cfg *File, v string) error {
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*dst(cfg) = out
		return nil
	}
}

var envBindings = []envBinding{
	{"ISSUER", str(func(c *File) *string { return &c.Issuer })},
	{"SESSION_TTL", duration(func(c *File) *time.Duration { return &c.Session.TTL })},
	{"SESSION_SIGNING_SECRET", str(func(c *File) *string { return &c.Session.SigningSecret })},
	{"SESSION_SIGNING_SECRET_FILE", str(func(c *File) *string { return &c.Secrets.SessionSigningSecretFile })},
	{"SESSION_REDIS_PREFIX", str(func(c *File) *string { return &c.Session.RedisPrefix })},
	{"BEARER_ENABLED", boolean(func(c *File) *bool { return &c.Bearer.Enabled })},
	{"BEARER_SIGNING_METHOD", str(func(c *File) *string { return &c.Bearer.SigningMethod })},
	{"BEARER_PRIVATE_KEY", str(func(c *File) *string { return &c.Bearer.PrivateKey })},
	{"BEARER_PRIVATE_KEY_FILE", str(func(c *File) *string { return &c.Secrets.BearerPrivateKeyFile })},
	{"BEARER_PUBLIC_KEY", str(func(c *File) *string { return &c.Bearer.PublicKey })},
	{"BEARER_PUBLIC_KEY_FILE", str(func(c *File) *string { return &c.Secrets.BearerPublicKeyFile })},
	{"LOCKOUT_MAX_ATTEMPTS", integer(func(c *File) *int { return &c.Lockout.MaxAttempts })},
	{"LOCKOUT_WINDOW", duration(func(c *File) *time.Duration { return &c.Lockout.Window })},
	{"ADMIN_PRINCIPAL_IDS", list(func(c *File) *[]string { return &c.Tenant.Admins.PrincipalIDs })},
	{"ADMIN_EMAILS", list(func(c *File) *[]string { return &c.Tenant.Admins.Emails })},
	{"ADMIN_EMAIL_PATTERNS", list(func(c *File) *[]string { return &c.Tenant.Admins.EmailPatterns })},
	{"METRICS_ENABLED", boolean(func(c *File) *bool { return &c.Metrics.Enabled })},
	{"METRICS_LATENCY", boolean(func(c *File) *bool { return &c.Metrics.EnableLatencyHistograms })},
	{"HTTP_ADDR", str(func(c *File) *string { return &c.Server.Addr })},
	{"TRUST_FORWARDED_FOR", boolean(func(c *File) *bool { return &c.Server.TrustForwardedFor })},
	{"LOG_LEVEL", str(func(c *File) *string { return &c.Server.LogLevel })},
	{"POSTGRES_DSN", str(func(c *File) *string { return &c.Postgres.DSN })},
	{"POSTGRES_DSN_FILE", str(func(c *File) *string { return &c.Postgres.DSNFile })},
	{"POSTGRES_MIGRATE", boolean(func(c *File) *bool { return &c.Postgres.Migrate })},
	{"REDIS_ADDR", str(func(c *File) *string { return &c.Redis.Addr })},
	{"REDIS_PASSWORD", str(func(c *File) *string { return &c.Redis.Password })},
	{"REDIS_PASSWORD_FILE", str(func(c *File) *string { return &c.Redis.PasswordFile })},
	{"REDIS_DB", integer(func(c *File) *int { return &c.Redis.DB })},
	{"AMQP_URL", str(func(c *File) *string { return &c.AMQP.URL })},
	{"AMQP_URL_FILE", str(func(c *File) *string { return &c.AMQP.URLFile })},
	{"AMQP_EXCHANGE", str(func(c *File) *string { return &c.AMQP.Exchange })},
	{"OTLP_ENDPOINT", str(func(c *File) *string { return &c.Telemetry.OTLPEndpoint })},
}

func applyEnvOverrides(cfg *File, lookup lookupFunc) error {
	for _, b := range envBindings {
		v, ok := lookup(EnvPrefix + b.name)
		if !ok {
			continue
		}
		if err := b.set(cfg, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, b.name, err)
		}
	}
	return nil
}

func resolveFileReferences(cfg *File) error {
	refs := []struct {
		name  string
		file  string
		value *string
	}{
		{"secrets.session_signing_secret_file", cfg.Secrets.SessionSigningSecretFile, &cfg.Session.SigningSecret},
		{"secrets.bearer_private_key_file", cfg.Secrets.BearerPrivateKeyFile, &cfg.Bearer.PrivateKey},
		{"secrets.bearer_public_key_file", cfg.Secrets.BearerPublicKeyFile, &cfg.Bearer.PublicKey},
		{"postgres.dsn_file", cfg.Postgres.DSNFile, &cfg.Postgres.DSN},
		{"redis.password_file", cfg.Redis.PasswordFile, &cfg.Redis.Password},
		{"amqp.url_file", cfg.AMQP.URLFile, &cfg.AMQP.URL},
	}
	for _, ref := range refs {
		if ref.file == "" || *ref.value != "" {
			continue
		}
		val, err := readSecretFile(ref.file)
		if err != nil {
			return fmt.Errorf("%s: %w", ref.name, err)
		}
		*ref.value = val
	}
	return nil
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

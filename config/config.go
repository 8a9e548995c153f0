// Package config loads the deployment configuration of an authcore server:
// the engine Config plus the addresses of its backing services.
//
// Sources are layered: defaults, then a YAML file, then AUTHCORE_* env
// overrides, then *_file secret references, then validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authcore"
)

// File is the full deployment configuration. Engine settings are inlined
// at the document root.
type File struct {
	authcore.Config `yaml:",inline"`

	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	AMQP      AMQPConfig      `yaml:"amqp"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Secrets   SecretFiles     `yaml:"secrets"`
	Access    AccessConfig    `yaml:"access"`
}

// AccessConfig declares the capability universe and the role table handed
// to the engine's authorizer. Roles named in a file replace the default of
// the same name; other defaults stay.
type AccessConfig struct {
	Capabilities []string            `yaml:"capabilities"`
	Roles        map[string][]string `yaml:"roles"`
}

type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	TrustForwardedFor bool          `yaml:"trust_forwarded_for"`
	LogLevel          string        `yaml:"log_level"`
}

type PostgresConfig struct {
	DSN     string `yaml:"dsn"`
	DSNFile string `yaml:"dsn_file"`
	Migrate bool   `yaml:"migrate"`
}

type RedisConfig struct {
	Addr         string `yaml:"addr"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	PasswordFile string `yaml:"password_file"`
	DB           int    `yaml:"db"`
	PoolSize     int    `yaml:"pool_size"`
}

// AMQPConfig enables audit publishing when URL is set.
type AMQPConfig struct {
	URL      string `yaml:"url"`
	URLFile  string `yaml:"url_file"`
	Exchange string `yaml:"exchange"`
	Queue    string `yaml:"queue"`
}

// TelemetryConfig enables OTLP/HTTP trace export when OTLPEndpoint is set.
type TelemetryConfig struct {
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SampleRatio  float64 `yaml:"sample_ratio"`
	MetricsPath  string  `yaml:"metrics_path"`
}

// SecretFiles point at files holding engine secrets. A file is read only
// when the matching value is empty.
type SecretFiles struct {
	SessionSigningSecretFile string `yaml:"session_signing_secret_file"`
	BearerPrivateKeyFile     string `yaml:"bearer_private_key_file"`
	BearerPublicKeyFile      string `yaml:"bearer_public_key_file"`
}

// Defaults returns the engine defaults plus local service addresses.
func Defaults() File {
	return File{
		Config: authcore.DefaultConfig(),
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			LogLevel:          "info",
		},
		Postgres: PostgresConfig{Migrate: true},
		Access: AccessConfig{
			Capabilities: []string{"patients.read", "records.read", "records.write", "org.manage"},
			Roles: map[string][]string{
				"viewer":    {"patients.read"},
				"clinician": {"patients.read", "records.read", "records.write"},
				"org_admin": {"patients.read", "records.read", "records.write", "org.manage"},
			},
		},
		Redis:     RedisConfig{Addr: "127.0.0.1:6379"},
		Telemetry: TelemetryConfig{SampleRatio: 1, MetricsPath: "/metrics"},
	}
}

// Validate checks the engine settings and the service section.
func (f *File) Validate() error {
	if err := f.Config.Validate(); err != nil {
		return err
	}
	var errs []string
	if strings.TrimSpace(f.Server.Addr) == "" {
		errs = append(errs, "server.addr is required")
	}
	if f.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "server.shutdown_timeout must be positive")
	}
	switch strings.ToLower(f.Server.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("server.log_level %q is not one of debug, info, warn, error", f.Server.LogLevel))
	}
	if strings.TrimSpace(f.Postgres.DSN) == "" {
		errs = append(errs, "postgres.dsn is required")
	}
	if strings.TrimSpace(f.Redis.Addr) == "" {
		errs = append(errs, "redis.addr is required")
	}
	if f.Telemetry.SampleRatio < 0 || f.Telemetry.SampleRatio > 1 {
		errs = append(errs, "telemetry.sample_ratio must be within [0, 1]")
	}
	if len(errs) > 0 {
		return &authcore.Error{
			Kind:   authcore.ErrConfiguration,
			Reason: authcore.ReasonInvalidConfig,
			Err:    fmt.Errorf("%s", strings.Join(errs, "; ")),
		}
	}
	return nil
}

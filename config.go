package authcore

import (
	"strings"
	"time"

	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/tenant"
)

// Rate limit action classes.
const (
	ClassDefault        = "api"
	ClassLogin          = "login"
	ClassTOTPVerify     = "totp_verify"
	ClassBackupCode     = "backup_code"
	ClassPasswordChange = "password_change"
	ClassTOTPDisable    = "totp_disable"
)

// Config is the complete engine configuration. Load it with config.Load or
// start from DefaultConfig.
type Config struct {
	Issuer     string          `yaml:"issuer"`
	Password   PasswordConfig  `yaml:"password"`
	Session    SessionConfig   `yaml:"session"`
	Bearer     BearerConfig    `yaml:"bearer"`
	TOTP       TOTPConfig      `yaml:"totp"`
	Lockout    LockoutConfig   `yaml:"lockout"`
	RateLimits RateLimitConfig `yaml:"rate_limits"`
	Tenant     TenantConfig    `yaml:"tenant"`
	Audit      AuditConfig     `yaml:"audit"`
	Metrics    MetricsConfig   `yaml:"metrics"`
}

type PasswordConfig struct {
	Policy password.PolicyConfig `yaml:"policy"`
	Argon2 password.Argon2Params `yaml:"argon2"`
}

type SessionConfig struct {
	TTL         time.Duration `yaml:"ttl"`
	TokenBytes  int           `yaml:"token_bytes"`
	CarrierKeys []string      `yaml:"carrier_keys"`
	Separator   string        `yaml:"separator"`
	// SigningSecret enables HMAC-suffixed carrier values when set.
	SigningSecret string `yaml:"signing_secret"`
	RedisPrefix   string `yaml:"redis_prefix"`
}

// BearerConfig enables JWT bearers that reference a server-side session.
type BearerConfig struct {
	Enabled       bool          `yaml:"enabled"`
	TTL           time.Duration `yaml:"ttl"`
	SigningMethod string        `yaml:"signing_method"`
	PrivateKey    string        `yaml:"private_key"`
	PublicKey     string        `yaml:"public_key"`
	Audience      string        `yaml:"audience"`
	KeyID         string        `yaml:"key_id"`
	Leeway        time.Duration `yaml:"leeway"`
}

type TOTPConfig struct {
	Digits           int           `yaml:"digits"`
	Period           time.Duration `yaml:"period"`
	Skew             int           `yaml:"skew"`
	BackupCodeCount  int           `yaml:"backup_code_count"`
	BackupCodeLength int           `yaml:"backup_code_length"`
}

// LockoutConfig locks a credential after MaxAttempts consecutive failures
// for Window.
type LockoutConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Window      time.Duration `yaml:"window"`
}

// RateLimit is a fixed-window budget.
type RateLimit struct {
	Max    int64         `yaml:"max"`
	Window time.Duration `yaml:"window"`
}

type RateLimitConfig struct {
	Default RateLimit            `yaml:"default"`
	Classes map[string]RateLimit `yaml:"classes"`
}

// For returns the budget of class, falling back to Default.
func (c RateLimitConfig) For(class string) RateLimit {
	if l, ok := c.Classes[class]; ok {
		return l
	}
	return c.Default
}

type TenantConfig struct {
	Admins tenant.AdminIdentityPolicy `yaml:"admins"`
}

type AuditConfig struct {
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	FailureLogEvery time.Duration `yaml:"failure_log_every"`
	// Authentication failures by one actor beyond ElevateAfter inside
	// ElevateWindow are recorded at high severity.
	ElevateAfter  int64         `yaml:"elevate_after"`
	ElevateWindow time.Duration `yaml:"elevate_window"`
	BufferSize    int           `yaml:"buffer_size"`
	DropIfFull    bool          `yaml:"drop_if_full"`
}

type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
}

// DefaultConfig returns production defaults. Secrets are left empty.
func DefaultConfig() Config {
	return Config{
		Issuer: "authcore",
		Password: PasswordConfig{
			Policy: password.DefaultPolicyConfig(),
			Argon2: password.DefaultArgon2Params(),
		},
		Session: SessionConfig{
			TTL:         12 * time.Hour,
			TokenBytes:  32,
			Separator:   ".",
			RedisPrefix: "authcore",
		},
		Bearer: BearerConfig{
			TTL:           15 * time.Minute,
			SigningMethod: "ed25519",
		},
		TOTP: TOTPConfig{
			Digits:           6,
			Period:           30 * time.Second,
			Skew:             1,
			BackupCodeCount:  8,
			BackupCodeLength: 10,
		},
		Lockout: LockoutConfig{MaxAttempts: 5, Window: 15 * time.Minute},
		RateLimits: RateLimitConfig{
			Default: RateLimit{Max: 100, Window: time.Minute},
			Classes: map[string]RateLimit{
				ClassLogin:          {Max: 10, Window: 15 * time.Minute},
				ClassTOTPVerify:     {Max: 5, Window: 5 * time.Minute},
				ClassBackupCode:     {Max: 5, Window: 15 * time.Minute},
				ClassPasswordChange: {Max: 5, Window: time.Hour},
				ClassTOTPDisable:    {Max: 5, Window: time.Hour},
			},
		},
		Audit: AuditConfig{
			WriteTimeout:    2 * time.Second,
			FailureLogEvery: 10 * time.Second,
			ElevateAfter:    3,
			ElevateWindow:   15 * time.Minute,
			BufferSize:      1024,
			DropIfFull:      true,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

func cloneConfig(c Config) Config {
	out := c
	out.Session.CarrierKeys = append([]string(nil), c.Session.CarrierKeys...)
	out.Password.Policy.ForbiddenTerms = append([]string(nil), c.Password.Policy.ForbiddenTerms...)
	out.Tenant.Admins = tenant.AdminIdentityPolicy{
		PrincipalIDs:  append([]string(nil), c.Tenant.Admins.PrincipalIDs...),
		Emails:        append([]string(nil), c.Tenant.Admins.Emails...),
		EmailPatterns: append([]string(nil), c.Tenant.Admins.EmailPatterns...),
	}
	if c.RateLimits.Classes != nil {
		out.RateLimits.Classes = make(map[string]RateLimit, len(c.RateLimits.Classes))
		for k, v := range c.RateLimits.Classes {
			out.RateLimits.Classes[k] = v
		}
	}
	return out
}

// Validate returns an ErrConfiguration error describing the first problem.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Issuer) == "" {
		return configError("issuer must be set")
	}

	// Password
	if err := c.Password.Policy.Validate(); err != nil {
		return configError("password policy: %v", err)
	}
	if err := c.Password.Argon2.Validate(); err != nil {
		return configError("password argon2: %v", err)
	}

	// Session
	if c.Session.TTL <= 0 {
		return configError("session ttl must be > 0")
	}
	if c.Session.TokenBytes < 16 {
		return configError("session token_bytes must be >= 16")
	}
	if c.Session.Separator == "" {
		return configError("session separator must be set")
	}
	for _, k := range c.Session.CarrierKeys {
		if strings.TrimSpace(k) == "" {
			return configError("session carrier_keys must not contain empty names")
		}
	}
	if c.Session.SigningSecret != "" && len(c.Session.SigningSecret) < 32 {
		return configError("session signing_secret must be at least 32 bytes")
	}

	// Bearer
	if c.Bearer.Enabled {
		if c.Bearer.TTL <= 0 {
			return configError("bearer ttl must be > 0")
		}
		switch c.Bearer.SigningMethod {
		case "ed25519":
			if c.Bearer.PublicKey == "" {
				return configError("bearer ed25519 requires public_key")
			}
		case "hs256":
			if len(c.Bearer.PrivateKey) < 32 {
				return configError("bearer hs256 requires a private_key of at least 32 bytes")
			}
		default:
			return configError("bearer signing_method %q unsupported", c.Bearer.SigningMethod)
		}
	}

	// TOTP
	if c.TOTP.Digits < 6 || c.TOTP.Digits > 9 {
		return configError("totp digits must be within 6..9")
	}
	if c.TOTP.Period < time.Second {
		return configError("totp period must be >= 1s")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 3 {
		return configError("totp skew must be within 0..3")
	}
	if c.TOTP.BackupCodeCount < 1 || c.TOTP.BackupCodeLength < 8 {
		return configError("totp backup codes need count >= 1 and length >= 8")
	}

	// Lockout
	if c.Lockout.MaxAttempts < 1 || c.Lockout.Window <= 0 {
		return configError("lockout needs max_attempts >= 1 and a positive window")
	}

	// Rate limits
	if !c.RateLimits.Default.valid() {
		return configError("rate_limits default must have max > 0 and window > 0")
	}
	for class, l := range c.RateLimits.Classes {
		if !l.valid() {
			return configError("rate_limits class %q must have max > 0 and window > 0", class)
		}
	}

	// Tenant
	if err := c.Tenant.Admins.Validate(); err != nil {
		return configError("tenant admins: %v", err)
	}

	// Audit
	if c.Audit.WriteTimeout <= 0 {
		return configError("audit write_timeout must be > 0")
	}
	if c.Audit.ElevateAfter < 1 || c.Audit.ElevateWindow <= 0 {
		return configError("audit elevate_after must be >= 1 with a positive elevate_window")
	}
	if c.Audit.BufferSize < 1 {
		return configError("audit buffer_size must be >= 1")
	}
	return nil
}

func (l RateLimit) valid() bool { return l.Max > 0 && l.Window > 0 }

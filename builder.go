package authcore

import (
	"crypto/rand"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/permission"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/tenant"
	"github.com/MrEthical07/authcore/totp"
)

const tracerName = "github.com/MrEthical07/authcore"

// Builder assembles an Engine from configuration and collaborators. A
// Builder is single use.
type Builder struct {
	config Config
	logger *slog.Logger
	clock  Clock
	random RandomSource
	tracer trace.TracerProvider

	principals  PrincipalStore
	factors     FactorStore
	sessions    session.Store
	memberships tenant.MembershipStore
	history     password.HistoryStore
	counters    CounterStore
	auditStore  AuditStore
	auditSinks  []AuditSink

	capabilities []string
	roles        map[string][]string

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

func (b *Builder) WithClock(c Clock) *Builder {
	b.clock = c
	return b
}

// WithRandom replaces crypto/rand as the source of secrets, tokens and
// backup codes. Intended for tests.
func (b *Builder) WithRandom(r RandomSource) *Builder {
	b.random = r
	return b
}

func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracer = tp
	return b
}

// WithPrincipalStore also sets the FactorStore when ps implements it.
func (b *Builder) WithPrincipalStore(ps PrincipalStore) *Builder {
	b.principals = ps
	if fs, ok := ps.(FactorStore); ok && b.factors == nil {
		b.factors = fs
	}
	return b
}

func (b *Builder) WithFactorStore(fs FactorStore) *Builder {
	b.factors = fs
	return b
}

func (b *Builder) WithSessionStore(s session.Store) *Builder {
	b.sessions = s
	return b
}

func (b *Builder) WithMembershipStore(s tenant.MembershipStore) *Builder {
	b.memberships = s
	return b
}

func (b *Builder) WithHistoryStore(s password.HistoryStore) *Builder {
	b.history = s
	return b
}

func (b *Builder) WithCounterStore(s CounterStore) *Builder {
	b.counters = s
	return b
}

func (b *Builder) WithAuditStore(s AuditStore) *Builder {
	b.auditStore = s
	return b
}

// WithAuditSink adds a fan-out sink fed after each stored entry.
func (b *Builder) WithAuditSink(s AuditSink) *Builder {
	if s != nil {
		b.auditSinks = append(b.auditSinks, s)
	}
	return b
}

// WithCapabilities registers capability names in bit order.
func (b *Builder) WithCapabilities(names []string) *Builder {
	b.capabilities = append([]string(nil), names...)
	return b
}

// WithRoles maps role names to capability names. The global admin role is
// always registered with the root bit.
func (b *Builder) WithRoles(roles map[string][]string) *Builder {
	b.roles = roles
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine. All errors are
// ErrConfiguration.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, configError("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch {
	case b.principals == nil:
		return nil, configError("principal store required")
	case b.factors == nil:
		return nil, configError("factor store required")
	case b.sessions == nil:
		return nil, configError("session store required")
	case b.memberships == nil:
		return nil, configError("membership store required")
	case b.history == nil:
		return nil, configError("password history store required")
	case b.counters == nil:
		return nil, configError("counter store required")
	case b.auditStore == nil:
		return nil, configError("audit store required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := b.clock
	if clock == nil {
		clock = systemClock{}
	}
	random := b.random
	if random == nil {
		random = rand.Reader
	}
	tp := b.tracer
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	// -------- PERMISSIONS --------
	registry := permission.NewRegistry()
	for _, name := range b.capabilities {
		if _, err := registry.Register(name); err != nil {
			return nil, configError("capability %q: %v", name, err)
		}
	}
	roles := permission.NewRoleManager(registry)
	if err := roles.RegisterRoot(tenant.GlobalAdminRole); err != nil {
		return nil, configError("global admin role: %v", err)
	}
	for role, caps := range b.roles {
		if role == tenant.GlobalAdminRole {
			continue
		}
		if err := roles.RegisterRole(role, caps); err != nil {
			return nil, configError("role %q: %v", role, err)
		}
	}

	// -------- PASSWORDS --------
	argon, err := password.NewArgon2(cfg.Password.Argon2)
	if err != nil {
		return nil, configError("argon2: %v", err)
	}
	hasher := password.NewVerifier(argon)
	policy, err := password.NewPolicyEngine(cfg.Password.Policy, hasher, b.history, logger, clock.Now)
	if err != nil {
		return nil, configError("password policy: %v", err)
	}

	// -------- SESSIONS --------
	var bearer *jwt.Manager
	extractorCfg := session.ExtractorConfig{
		Keys:      cfg.Session.CarrierKeys,
		Separator: cfg.Session.Separator,
	}
	if cfg.Session.SigningSecret != "" {
		extractorCfg.SigningKey = []byte(cfg.Session.SigningSecret)
	}
	if cfg.Bearer.Enabled {
		bearer, err = jwt.NewManager(jwt.Config{
			TTL:           cfg.Bearer.TTL,
			SigningMethod: jwt.SigningMethod(cfg.Bearer.SigningMethod),
			PrivateKey:    []byte(cfg.Bearer.PrivateKey),
			PublicKey:     []byte(cfg.Bearer.PublicKey),
			Issuer:        cfg.Issuer,
			Audience:      cfg.Bearer.Audience,
			Leeway:        cfg.Bearer.Leeway,
			KeyID:         cfg.Bearer.KeyID,
		})
		if err != nil {
			return nil, configError("bearer: %v", err)
		}
		bearer = bearer.WithClock(clock.Now)
		extractorCfg.Bearer = bearer
	}
	resolver := session.NewResolver(b.sessions, session.NewExtractor(extractorCfg), clock.Now, logger)

	// -------- AUDIT --------
	metrics := NewMetrics(cfg.Metrics)
	var dispatcher *audit.Dispatcher
	if len(b.auditSinks) > 0 {
		dispatcher = audit.NewDispatcher(audit.DispatcherConfig{
			BufferSize:  cfg.Audit.BufferSize,
			DropIfFull:  cfg.Audit.DropIfFull,
			SinkTimeout: cfg.Audit.WriteTimeout,
		}, b.auditSinks...)
	}
	ledger := audit.NewLedger(audit.LedgerConfig{
		WriteTimeout:    cfg.Audit.WriteTimeout,
		FailureLogEvery: cfg.Audit.FailureLogEvery,
	}, b.auditStore, dispatcher, logger, func() { metrics.Inc(MetricAuditFailure) })

	engine := &Engine{
		config:     cfg,
		logger:     logger,
		clock:      clock,
		random:     random,
		principals: b.principals,
		factors:    b.factors,
		sessions:   b.sessions,
		resolver:   resolver,
		bearer:     bearer,
		tenants:    tenant.NewResolver(cfg.Tenant.Admins, b.memberships),
		policy:     policy,
		hasher:     hasher,
		limiter:    rate.New(b.counters, clock.Now),
		authorizer: permission.NewAuthorizer(registry, roles),
		ledger:     ledger,
		dispatcher: dispatcher,
		metrics:    metrics,
		totpParams: totp.Params{
			Digits: cfg.TOTP.Digits,
			Period: cfg.TOTP.Period,
			Skew:   cfg.TOTP.Skew,
		},
	}
	engine.chain = engine.newChain(tp.Tracer(tracerName))

	b.built = true
	return engine, nil
}

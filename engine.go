package authcore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/permission"
	"github.com/MrEthical07/authcore/pipeline"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/tenant"
	"github.com/MrEthical07/authcore/totp"
)

// Engine is the authentication and request-authorization core. Build one
// with New() and Builder.Build. All methods are safe for concurrent use; shared
// mutable state lives in the injected stores.
type Engine struct {
	config Config
	logger *slog.Logger
	clock  Clock
	random io.Reader

	principals PrincipalStore
	factors    FactorStore
	sessions   session.Store
	resolver   *session.Resolver
	bearer     *jwt.Manager
	tenants    *tenant.Resolver
	policy     *password.PolicyEngine
	hasher     password.Hasher
	limiter    *rate.Limiter
	authorizer *permission.Authorizer
	totpParams totp.Params

	ledger     *audit.Ledger
	dispatcher *audit.Dispatcher
	metrics    *Metrics
	chain      *pipeline.Chain[requestState]

	dummyOnce sync.Once
	dummyHash string
}

// Close waits for detached audit writes and drains the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.ledger.Close()
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// AuditFailures returns the number of audit appends that failed.
func (e *Engine) AuditFailures() uint64 {
	return e.ledger.Failures()
}

// AuditDropped returns the number of entries the fan-out dispatcher dropped.
func (e *Engine) AuditDropped() uint64 {
	return e.dispatcher.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC()
}

func (e *Engine) randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(e.random, buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func (e *Engine) checkLimit(ctx context.Context, class, actor string, limit RateLimit) error {
	_, err := e.limiter.Check(ctx, rate.Key(class, actor), limit.Max, limit.Window)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited):
		e.metricInc(MetricRateLimitHit)
		return newError(ErrRateLimited, ReasonRateLimited, nil)
	default:
		return unavailable(err)
	}
}

func (e *Engine) classLimit(ctx context.Context, class, actor string) error {
	return e.checkLimit(ctx, class, actor, e.config.RateLimits.For(class))
}

// revokeAll deletes every session of principalID. Failures are logged; the
// caller's result stands.
func (e *Engine) revokeAll(ctx context.Context, principalID, cause string) int {
	n, err := e.sessions.DeleteAllForPrincipal(ctx, principalID)
	if err != nil {
		e.logger.ErrorContext(ctx, "session revocation failed",
			"principal_id", principalID, "cause", cause, "error", err)
		return 0
	}
	if n > 0 {
		e.metricInc(MetricLogoutAll)
	}
	return n
}

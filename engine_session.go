package authcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/tenant"
)

// Identity is a resolved session with its owning principal.
type Identity struct {
	Principal Principal
	Session   *session.Session
}

// ResolveSession finds the live session presented by c. Every failure is an
// ErrAuthentication except backend errors, which are ErrUnavailable; neither
// is ever treated as a valid session.
func (e *Engine) ResolveSession(ctx context.Context, c session.Carrier) (Identity, error) {
	sess, err := e.resolver.Resolve(ctx, c)
	if err != nil {
		e.metricInc(MetricSessionResolveFailure)
		return Identity{}, mapSessionError(err)
	}
	p, err := e.principals.PrincipalByID(ctx, sess.PrincipalID)
	if err != nil {
		e.metricInc(MetricSessionResolveFailure)
		if errors.Is(err, ErrNotFound) {
			return Identity{}, ErrSessionNotFound
		}
		return Identity{}, unavailable(err)
	}
	if p.Status != PrincipalActive {
		e.metricInc(MetricSessionResolveFailure)
		return Identity{}, ErrAccountDisabled
	}
	return Identity{Principal: p, Session: sess}, nil
}

// ResolveTenantContext selects the organization scope and role for p.
// Membership store failures deny.
func (e *Engine) ResolveTenantContext(ctx context.Context, p Principal) (tenant.Context, error) {
	tc, err := e.tenants.Resolve(ctx, p.ID, p.Email)
	if err != nil {
		return tenant.Context{}, unavailable(err)
	}
	return tc, nil
}

func mapSessionError(err error) error {
	switch {
	case errors.Is(err, session.ErrNoCredential):
		return ErrNoCredential
	case errors.Is(err, session.ErrInvalidCarrier):
		return newError(ErrAuthentication, ReasonInvalidCarrier, nil)
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrCorrupt):
		return ErrSessionNotFound
	case errors.Is(err, session.ErrExpired):
		return ErrSessionExpired
	default:
		return unavailable(err)
	}
}

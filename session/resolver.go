package session

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrExpired is returned for a session at or past its expiry.
var ErrExpired = errors.New("session: expired")

// Resolver finds the live session behind a Carrier.
type Resolver struct {
	store     Store
	extractor *Extractor
	now       func() time.Time
	logger    *slog.Logger
}

// NewResolver wires a resolver. now and logger default to time.Now and
// slog.Default.
func NewResolver(store Store, extractor *Extractor, now func() time.Time, logger *slog.Logger) *Resolver {
	if extractor == nil {
		extractor = NewExtractor(ExtractorConfig{})
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, extractor: extractor, now: now, logger: logger}
}

// Extractor returns the carrier extractor, used to render issued tokens.
func (r *Resolver) Extractor() *Extractor { return r.extractor }

// Resolve returns ErrNoCredential, ErrInvalidCarrier, ErrNotFound,
// ErrExpired or an ErrStoreUnavailable-wrapped error. Store failures are
// never treated as a valid session.
func (r *Resolver) Resolve(ctx context.Context, c Carrier) (*Session, error) {
	id, err := r.extractor.Extract(c)
	if err != nil {
		return nil, err
	}
	return r.ResolveID(ctx, id)
}

// ResolveID looks up a session by storage ID.
func (r *Resolver) ResolveID(ctx context.Context, id string) (*Session, error) {
	sess, err := r.store.Find(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrCorrupt) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !sess.ValidAt(r.now()) {
		if err := r.store.Delete(ctx, sess.PrincipalID, sess.ID); err != nil {
			r.logger.WarnContext(ctx, "expired session cleanup failed", "error", err)
		}
		return nil, ErrExpired
	}
	return sess, nil
}

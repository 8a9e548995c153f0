package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestResolverExpiryBoundary(t *testing.T) {
	store, _ := newRedisStoreTest(t)
	ctx := context.Background()
	now := time.Now()
	r := NewResolver(store, nil, func() time.Time { return now }, nil)

	live := &Session{ID: TokenID("live"), PrincipalID: "p", CreatedAt: now, ExpiresAt: now.Add(time.Second)}
	dead := &Session{ID: TokenID("dead"), PrincipalID: "p", CreatedAt: now, ExpiresAt: now.Add(-time.Second)}
	for _, s := range []*Session{live, dead} {
		if err := store.Create(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	got, err := r.Resolve(ctx, MapCarrier{"session_token": "live"})
	if err != nil || got.PrincipalID != "p" {
		t.Fatalf("expected live session, got %v err=%v", got, err)
	}
	if _, err := r.Resolve(ctx, MapCarrier{"session_token": "dead"}); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if _, err := store.Find(ctx, dead.ID); !errors.Is(err, ErrNotFound) {
		t.Fatal("expired session must be cleaned up")
	}

	exact := NewResolver(store, nil, func() time.Time { return live.ExpiresAt }, nil)
	if _, err := exact.Resolve(ctx, MapCarrier{"session_token": "live"}); !errors.Is(err, ErrExpired) {
		t.Fatalf("now == expiresAt must be expired, got %v", err)
	}
}

func TestResolverErrors(t *testing.T) {
	store, mr := newRedisStoreTest(t)
	r := NewResolver(store, nil, nil, nil)
	ctx := context.Background()

	if _, err := r.Resolve(ctx, MapCarrier{}); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}
	if _, err := r.Resolve(ctx, MapCarrier{"session_token": "missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	mr.Close()
	if _, err := r.Resolve(ctx, MapCarrier{"session_token": "any"}); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("store failure must fail closed, got %v", err)
	}
}

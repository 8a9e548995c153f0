package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStoreTest(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return NewRedisStore(rdb, "test"), mr
}

func newTestSession(token, principal string, ttl time.Duration) *Session {
	now := time.Now()
	return &Session{
		ID:          TokenID(token),
		PrincipalID: principal,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

func TestRedisStoreCreateFindDelete(t *testing.T) {
	store, mr := newRedisStoreTest(t)
	ctx := context.Background()
	sess := newTestSession("tok-1", "p-1", time.Hour)

	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ttl := mr.TTL("test:s:" + sess.ID); ttl <= 0 || ttl > time.Hour {
		t.Fatalf("expected ttl tracking expiry, got %v", ttl)
	}

	got, err := store.Find(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got.PrincipalID != "p-1" || got.ID != sess.ID {
		t.Fatalf("unexpected session %+v", got)
	}

	if err := store.Delete(ctx, "p-1", sess.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, "p-1", sess.ID); err != nil {
		t.Fatalf("second Delete must be a no-op: %v", err)
	}
	if _, err := store.Find(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if ok, _ := mr.SIsMember("test:sp:p-1", sess.ID); ok {
		t.Fatal("index entry must be removed")
	}
}

func TestRedisStoreDeleteAllForPrincipal(t *testing.T) {
	store, _ := newRedisStoreTest(t)
	ctx := context.Background()
	for _, tok := range []string{"a", "b", "c"} {
		if err := store.Create(ctx, newTestSession(tok, "p-1", time.Hour)); err != nil {
			t.Fatal(err)
		}
	}
	other := newTestSession("d", "p-2", time.Hour)
	_ = store.Create(ctx, other)

	n, err := store.DeleteAllForPrincipal(ctx, "p-1")
	if err != nil || n != 3 {
		t.Fatalf("expected 3 removed, got %d err=%v", n, err)
	}
	if _, err := store.Find(ctx, TokenID("a")); !errors.Is(err, ErrNotFound) {
		t.Fatal("p-1 sessions must be gone")
	}
	if _, err := store.Find(ctx, other.ID); err != nil {
		t.Fatalf("other principal untouched: %v", err)
	}
}

func TestRedisStoreUnavailableIsWrapped(t *testing.T) {
	store, mr := newRedisStoreTest(t)
	mr.Close()
	_, err := store.Find(context.Background(), "x")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

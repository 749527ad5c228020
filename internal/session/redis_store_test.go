package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore("://nope"); err == nil {
		t.Fatal("expected error for malformed url")
	}
}

func stores(t *testing.T) map[string]Store {
	redisStore, _ := setupTestRedis(t)
	return map[string]Store{
		"redis":  redisStore,
		"memory": NewMemoryStore(),
	}
}

func TestSaveLookupRevokeRefreshSession(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			expiresAt := time.Now().Add(24 * time.Hour)

			if err := store.SaveRefreshSession(ctx, "token-1", User{ID: "user-1", Name: "Avery", Role: "editor"}, expiresAt); err != nil {
				t.Fatalf("SaveRefreshSession: %v", err)
			}
			if err := store.SaveRefreshSession(ctx, "token-2", User{ID: "user-2", Name: "Blake", Role: "viewer"}, expiresAt); err != nil {
				t.Fatalf("SaveRefreshSession: %v", err)
			}

			user, err := store.LookupRefreshSession(ctx, "token-1")
			if err != nil {
				t.Fatalf("LookupRefreshSession: %v", err)
			}
			if user.ID != "user-1" || user.Role != "editor" || user.Name != "Avery" {
				t.Errorf("unexpected user: %+v", user)
			}

			if err := store.RevokeRefreshSession(ctx, "token-1"); err != nil {
				t.Fatalf("RevokeRefreshSession: %v", err)
			}
			if _, err := store.LookupRefreshSession(ctx, "token-1"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound after revoke, got %v", err)
			}
			if user, err := store.LookupRefreshSession(ctx, "token-2"); err != nil || user.ID != "user-2" {
				t.Errorf("token-2 should survive: %+v %v", user, err)
			}
			if err := store.RevokeRefreshSession(ctx, "never-issued"); err != nil {
				t.Errorf("revoking unknown token: %v", err)
			}
		})
	}
}

func TestRefreshSessionExpires(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()
	if err := store.SaveRefreshSession(ctx, "short", User{ID: "u"}, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("SaveRefreshSession: %v", err)
	}
	s.FastForward(2 * time.Second)
	if _, err := store.LookupRefreshSession(ctx, "short"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for expired session, got %v", err)
	}

	mem := NewMemoryStore()
	now := time.Now()
	mem.now = func() time.Time { return now }
	_ = mem.SaveRefreshSession(ctx, "short", User{ID: "u"}, now.Add(time.Second))
	now = now.Add(2 * time.Second)
	if _, err := mem.LookupRefreshSession(ctx, "short"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for expired memory session, got %v", err)
	}
}

func TestAccessTokenRevocation(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			revoked, err := store.IsAccessTokenRevoked(ctx, "jti-1")
			if err != nil || revoked {
				t.Fatalf("fresh jti reported revoked: %v %v", revoked, err)
			}
			if err := store.RevokeAccessToken(ctx, "jti-1", time.Now().Add(time.Hour)); err != nil {
				t.Fatalf("RevokeAccessToken: %v", err)
			}
			revoked, err = store.IsAccessTokenRevoked(ctx, "jti-1")
			if err != nil || !revoked {
				t.Fatalf("expected jti-1 revoked: %v %v", revoked, err)
			}
		})
	}
}

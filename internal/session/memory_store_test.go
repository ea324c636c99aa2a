package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreSessions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.now = func() time.Time { return now }

	if err := store.SaveRefreshSession(ctx, "hash-1", "usr_1", now.Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	if userID, err := store.LookupRefreshSession(ctx, "hash-1"); err != nil || userID != "usr_1" {
		t.Fatalf("unexpected lookup: %q %v", userID, err)
	}

	now = now.Add(2 * time.Hour)
	if _, err := store.LookupRefreshSession(ctx, "hash-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected expired session, got %v", err)
	}

	_ = store.SaveRefreshSession(ctx, "hash-2", "usr_2", now.Add(time.Hour))
	_ = store.RevokeRefreshSession(ctx, "hash-2")
	if _, err := store.LookupRefreshSession(ctx, "hash-2"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected revoked session, got %v", err)
	}
}

func TestMemoryStoreRevokedAccessTokens(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.now = func() time.Time { return now }

	_ = store.RevokeAccessToken(ctx, "jti-1", now.Add(time.Minute))
	if revoked, _ := store.IsAccessTokenRevoked(ctx, "jti-1"); !revoked {
		t.Fatal("expected jti-1 revoked")
	}
	now = now.Add(2 * time.Minute)
	if revoked, _ := store.IsAccessTokenRevoked(ctx, "jti-1"); revoked {
		t.Fatal("expected revocation to lapse")
	}
}

func TestMemoryStoreSweepsExpiredSessionsOnSave(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.now = func() time.Time { return now }

	_ = store.SaveRefreshSession(ctx, "old-1", "usr_1", now.Add(time.Minute))
	_ = store.SaveRefreshSession(ctx, "old-2", "usr_2", now.Add(time.Minute))
	_ = store.SaveRefreshSession(ctx, "live", "usr_3", now.Add(time.Hour))

	now = now.Add(10 * time.Minute)
	if err := store.SaveRefreshSession(ctx, "new", "usr_4", now.Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	store.mu.Lock()
	_, old1 := store.sessions["old-1"]
	_, old2 := store.sessions["old-2"]
	remaining := len(store.sessions)
	store.mu.Unlock()
	if old1 || old2 {
		t.Fatal("expected expired sessions to be swept")
	}
	if remaining != 2 {
		t.Fatalf("expected 2 live sessions, got %d", remaining)
	}
	if userID, err := store.LookupRefreshSession(ctx, "live"); err != nil || userID != "usr_3" {
		t.Fatalf("unexpected lookup: %q %v", userID, err)
	}
}

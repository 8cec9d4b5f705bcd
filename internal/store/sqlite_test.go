package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return s
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	if _, err := s.GetSession(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("missing session err = %v", err)
	}

	session := Session{ID: "s1", Token: "tok-a", Email: "a@example.com", CreatedAt: now, LastSeen: now}
	if err := s.PutSession(ctx, session); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Token != "tok-a" || got.Email != "a@example.com" || !got.CreatedAt.Equal(now) {
		t.Errorf("got %+v", got)
	}

	// a second login in the same browser session replaces the token
	session.Token = "tok-b"
	if err := s.PutSession(ctx, session); err != nil {
		t.Fatalf("put again: %v", err)
	}
	got, _ = s.GetSession(ctx, "s1")
	if got.Token != "tok-b" {
		t.Errorf("token = %q, want tok-b", got.Token)
	}

	deleted, err := s.DeleteSession(ctx, "s1")
	if err != nil || !deleted {
		t.Fatalf("delete = %v, %v", deleted, err)
	}
	deleted, err = s.DeleteSession(ctx, "s1")
	if err != nil || deleted {
		t.Errorf("second delete = %v, %v", deleted, err)
	}
}

func TestPurgeSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	old := time.Unix(1_000, 0)
	fresh := time.Unix(5_000, 0)

	for id, seen := range map[string]time.Time{"old": old, "fresh": fresh} {
		if err := s.PutSession(ctx, Session{ID: id, Token: "t", Email: "e@example.com", CreatedAt: seen, LastSeen: seen}); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}

	removed, err := s.PurgeSessions(ctx, time.Unix(2_000, 0))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := s.GetSession(ctx, "fresh"); err != nil {
		t.Errorf("fresh session purged: %v", err)
	}

	if err := s.TouchSession(ctx, "fresh", time.Unix(9_000, 0)); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, _ := s.GetSession(ctx, "fresh")
	if got.LastSeen.Unix() != 9_000 {
		t.Errorf("last seen = %d", got.LastSeen.Unix())
	}
}

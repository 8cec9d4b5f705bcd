package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.io/infrasutra/cwmail/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	m, err := New("test-secret", time.Hour, db)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m, db
}

// withCookies copies the cookies set on rec onto a fresh request.
func withCookies(rec *httptest.ResponseRecorder) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/inbox", nil)
	for _, cookie := range rec.Result().Cookies() {
		if cookie.MaxAge >= 0 {
			req.AddCookie(cookie)
		}
	}
	return req
}

func TestBeginCurrentEnd(t *testing.T) {
	m, db := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Current(httptest.NewRequest(http.MethodGet, "/inbox", nil)); !errors.Is(err, ErrNoSession) {
		t.Fatalf("no cookie err = %v", err)
	}

	rec := httptest.NewRecorder()
	created, err := m.Begin(ctx, rec, httptest.NewRequest(http.MethodPost, "/login", nil), "bearer-1", "me@example.com")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	req := withCookies(rec)
	got, err := m.Current(req)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if got.ID != created.ID || got.Token != "bearer-1" || got.Email != "me@example.com" {
		t.Errorf("session = %+v", got)
	}

	out := httptest.NewRecorder()
	if err := m.End(ctx, out, req); err != nil {
		t.Fatalf("end: %v", err)
	}
	cleared := out.Result().Cookies()
	if len(cleared) != 1 || cleared[0].MaxAge != -1 {
		t.Errorf("logout cookies = %+v", cleared)
	}
	if _, err := db.GetSession(ctx, created.ID); !errors.Is(err, store.ErrSessionNotFound) {
		t.Errorf("session row survived logout: %v", err)
	}
	if _, err := m.Current(req); !errors.Is(err, ErrNoSession) {
		t.Errorf("old cookie still resolves: %v", err)
	}
}

func TestBeginReplacesExistingSession(t *testing.T) {
	m, db := newTestManager(t)
	ctx := context.Background()

	first := httptest.NewRecorder()
	old, err := m.Begin(ctx, first, httptest.NewRequest(http.MethodPost, "/login", nil), "bearer-1", "me@example.com")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	second := httptest.NewRecorder()
	if _, err := m.Begin(ctx, second, withCookies(first), "bearer-2", "me@example.com"); err != nil {
		t.Fatalf("begin again: %v", err)
	}
	if _, err := db.GetSession(ctx, old.ID); !errors.Is(err, store.ErrSessionNotFound) {
		t.Errorf("previous session was kept: %v", err)
	}
	got, err := m.Current(withCookies(second))
	if err != nil || got.Token != "bearer-2" {
		t.Errorf("current = %+v, %v", got, err)
	}
}

func TestTamperedCookieRejected(t *testing.T) {
	m, _ := newTestManager(t)
	rec := httptest.NewRecorder()
	if _, err := m.Begin(context.Background(), rec, httptest.NewRequest(http.MethodPost, "/login", nil), "bearer", "me@example.com"); err != nil {
		t.Fatalf("begin: %v", err)
	}

	other, err := New("other-secret", time.Hour, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	cookie := rec.Result().Cookies()[0]
	if _, err := other.parse(cookie.Value, time.Now()); err == nil {
		t.Fatalf("cookie signed with another secret was accepted")
	}
	if _, err := m.parse(cookie.Value+"x", time.Now()); err == nil {
		t.Fatalf("modified cookie was accepted")
	}
}

func TestExpiredCookieRejected(t *testing.T) {
	m, _ := newTestManager(t)
	issued := time.Unix(1_700_000_000, 0)
	value := m.issue("some-id", issued)

	if _, err := m.parse(value, issued.Add(30*time.Minute)); err != nil {
		t.Fatalf("fresh cookie rejected: %v", err)
	}
	if _, err := m.parse(value, issued.Add(2*time.Hour)); !errors.Is(err, errExpiredSession) {
		t.Fatalf("expired cookie err = %v", err)
	}
}

func TestBeginRequiresToken(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.Begin(context.Background(), httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/login", nil), " ", "me@example.com"); err == nil {
		t.Fatal("empty token accepted")
	}
}

func TestContextRoundTrip(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("empty context has a session")
	}
	ctx := WithSession(context.Background(), store.Session{ID: "s", Token: "t"})
	got, ok := FromContext(ctx)
	if !ok || got.Token != "t" {
		t.Fatalf("FromContext = %+v, %v", got, ok)
	}
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"  Alice@Example.COM ", "alice@example.com", false},
		{"", "", true},
		{"not-an-email", "", true},
		{"Bob <bob@example.com>", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeEmail(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("NormalizeEmail(%q) = %q, %v", tt.in, got, err)
		}
	}
}

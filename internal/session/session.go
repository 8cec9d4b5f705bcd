// Package session holds the signed-in user's bearer token on the server
// side. The browser keeps only a signed cookie naming its session; the token
// is set on login, cleared on logout and read by everything in between.
package session

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.io/infrasutra/cwmail/internal/store"
)

const (
	cookieName   = "cwmail_session"
	touchEvery   = time.Minute
	payloadParts = 3
)

var (
	ErrNoSession      = errors.New("no session")
	errInvalidCookie  = errors.New("invalid session cookie")
	errExpiredSession = errors.New("session expired")
)

// Sessions is the persistence the manager needs.
type Sessions interface {
	PutSession(ctx context.Context, session store.Session) error
	GetSession(ctx context.Context, id string) (store.Session, error)
	TouchSession(ctx context.Context, id string, now time.Time) error
	DeleteSession(ctx context.Context, id string) (bool, error)
}

type Manager struct {
	secret   []byte
	maxAge   time.Duration
	secure   bool
	sessions Sessions
	now      func() time.Time
}

func New(secret string, maxAge time.Duration, sessions Sessions) (*Manager, error) {
	if strings.TrimSpace(secret) == "" {
		generated := make([]byte, 32)
		if _, err := rand.Read(generated); err != nil {
			return nil, fmt.Errorf("generate auth secret: %w", err)
		}
		secret = base64.RawURLEncoding.EncodeToString(generated)
	}
	return &Manager{
		secret:   []byte(secret),
		maxAge:   maxAge,
		sessions: sessions,
		now:      time.Now,
	}, nil
}

// SecureCookies marks the session cookie Secure, for deployments behind TLS.
func (m *Manager) SecureCookies(secure bool) {
	m.secure = secure
}

func (m *Manager) CookieName() string {
	return cookieName
}

func (m *Manager) MaxAge() time.Duration {
	return m.maxAge
}

// Begin stores token as the request's only session token. Any session the
// request already carried is ended first.
func (m *Manager) Begin(ctx context.Context, w http.ResponseWriter, r *http.Request, token, email string) (store.Session, error) {
	if strings.TrimSpace(token) == "" {
		return store.Session{}, errors.New("empty session token")
	}
	if id, err := m.sessionID(r); err == nil {
		if _, err := m.sessions.DeleteSession(ctx, id); err != nil {
			return store.Session{}, err
		}
	}

	now := m.now()
	session := store.Session{
		ID:        uuid.NewString(),
		Token:     token,
		Email:     email,
		CreatedAt: now,
		LastSeen:  now,
	}
	if err := m.sessions.PutSession(ctx, session); err != nil {
		return store.Session{}, err
	}
	m.setCookie(w, m.issue(session.ID, now), now)
	return session, nil
}

// Current returns the session named by the request cookie.
func (m *Manager) Current(r *http.Request) (store.Session, error) {
	id, err := m.sessionID(r)
	if err != nil {
		return store.Session{}, fmt.Errorf("%w: %v", ErrNoSession, err)
	}
	session, err := m.sessions.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return store.Session{}, fmt.Errorf("%w: %v", ErrNoSession, err)
		}
		return store.Session{}, err
	}
	now := m.now()
	if now.Sub(session.LastSeen) > touchEvery {
		if err := m.sessions.TouchSession(r.Context(), id, now); err == nil {
			session.LastSeen = now
		}
	}
	return session, nil
}

// End deletes the request's session, if any, and clears the cookie.
func (m *Manager) End(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	m.Clear(w)
	id, err := m.sessionID(r)
	if err != nil {
		return nil
	}
	if _, err := m.sessions.DeleteSession(ctx, id); err != nil {
		return err
	}
	return nil
}

func (m *Manager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *Manager) sessionID(r *http.Request) (string, error) {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return "", errors.New("missing session cookie")
	}
	return m.parse(cookie.Value, m.now())
}

func (m *Manager) issue(id string, now time.Time) string {
	payload := id + "|" + strconv.FormatInt(now.Unix(), 10)
	token := payload + "|" + m.sign(payload)
	return base64.RawURLEncoding.EncodeToString([]byte(token))
}

func (m *Manager) parse(value string, now time.Time) (string, error) {
	if value == "" {
		return "", errInvalidCookie
	}
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return "", errInvalidCookie
	}
	parts := strings.Split(string(raw), "|")
	if len(parts) != payloadParts {
		return "", errInvalidCookie
	}
	payload := parts[0] + "|" + parts[1]
	if !m.verify(payload, parts[2]) {
		return "", errInvalidCookie
	}
	timestamp, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", errInvalidCookie
	}
	if now.Sub(time.Unix(timestamp, 0)) > m.maxAge {
		return "", errExpiredSession
	}
	return parts[0], nil
}

func (m *Manager) setCookie(w http.ResponseWriter, value string, now time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(m.maxAge.Seconds()),
		Expires:  now.Add(m.maxAge),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *Manager) sign(payload string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (m *Manager) verify(payload, signature string) bool {
	expected := m.sign(payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func NormalizeEmail(email string) (string, error) {
	trimmed := strings.TrimSpace(strings.ToLower(email))
	if trimmed == "" {
		return "", errors.New("email is required")
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return "", errors.New("email must be valid")
	}
	return addr.Address, nil
}

type contextKey struct{}

func WithSession(ctx context.Context, session store.Session) context.Context {
	return context.WithValue(ctx, contextKey{}, session)
}

func FromContext(ctx context.Context) (store.Session, bool) {
	session, ok := ctx.Value(contextKey{}).(store.Session)
	return session, ok
}

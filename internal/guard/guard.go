// Package guard decides, once per request, whether a protected page may be
// rendered. The decision runs checking -> authenticated | unauthenticated
// and is resolved before the wrapped handler is called.
package guard

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.io/infrasutra/cwmail/internal/session"
	"github.io/infrasutra/cwmail/internal/store"
)

type State int

const (
	Checking State = iota
	Authenticated
	Unauthenticated
)

func (s State) String() string {
	switch s {
	case Checking:
		return "checking"
	case Authenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// ErrRejected is returned by a Verifier that knows the token is no longer
// valid. The guard clears the session when it sees it.
var ErrRejected = errors.New("token rejected")

type Verifier interface {
	Verify(ctx context.Context, token string) error
}

// Sessions is the part of session.Manager the guard uses.
type Sessions interface {
	Current(r *http.Request) (store.Session, error)
	End(ctx context.Context, w http.ResponseWriter, r *http.Request) error
}

type Guard struct {
	sessions  Sessions
	verifier  Verifier
	loginPath string
	logger    *slog.Logger
}

func New(sessions Sessions, verifier Verifier, logger *slog.Logger) *Guard {
	if verifier == nil {
		verifier = Trust{}
	}
	return &Guard{
		sessions:  sessions,
		verifier:  verifier,
		loginPath: "/login",
		logger:    logger,
	}
}

// Evaluate runs the state machine for r. It returns the terminal state and,
// when authenticated, the session.
func (g *Guard) Evaluate(w http.ResponseWriter, r *http.Request) (State, store.Session) {
	state := Checking
	current, err := g.sessions.Current(r)
	if err != nil || current.Token == "" {
		if err != nil && !errors.Is(err, session.ErrNoSession) {
			g.logger.Error("load session", "error", err)
		}
		return Unauthenticated, store.Session{}
	}

	switch err := g.verifier.Verify(r.Context(), current.Token); {
	case err == nil:
		state = Authenticated
	case errors.Is(err, ErrRejected):
		g.logger.Info("session token rejected", "email", current.Email, "error", err)
		if endErr := g.sessions.End(r.Context(), w, r); endErr != nil {
			g.logger.Error("end rejected session", "error", endErr)
		}
		state = Unauthenticated
	default:
		// verification could not complete; keep the session for the next request
		g.logger.Warn("verify session token", "error", err)
		state = Unauthenticated
	}
	if state != Authenticated {
		return state, store.Session{}
	}
	return state, current
}

// Protect wraps next so that it only runs for authenticated requests; all
// others are redirected to the login page.
func (g *Guard) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state, current := g.Evaluate(w, r)
		if state != Authenticated {
			g.redirectToLogin(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(session.WithSession(r.Context(), current)))
	})
}

func (g *Guard) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	target := g.loginPath
	if r.Method == http.MethodGet && r.URL.Path != "/" {
		target += "?next=" + url.QueryEscape(r.URL.RequestURI())
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// Package web serves the browser-facing pages. Every protected page passes
// through the route guard, then makes at most one call to the remote mail
// service bound to the request context.
package web

import (
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.io/infrasutra/cwmail/internal/config"
	"github.io/infrasutra/cwmail/internal/guard"
	"github.io/infrasutra/cwmail/internal/mailapi"
	"github.io/infrasutra/cwmail/internal/metrics"
	"github.io/infrasutra/cwmail/internal/store"
	webassets "github.io/infrasutra/cwmail/web"
)

// MailService is the remote mail API as the pages use it.
type MailService interface {
	FetchFolder(ctx context.Context, token string, folder mailapi.Folder) mailapi.FolderResult
	FetchMessage(ctx context.Context, token, id string) mailapi.MessageResult
	SendMessage(ctx context.Context, token string, req mailapi.SendRequest) (*mailapi.Message, error)
	Login(ctx context.Context, email, password string) (string, error)
	Register(ctx context.Context, email, password string) (string, error)
}

type Sessions interface {
	Begin(ctx context.Context, w http.ResponseWriter, r *http.Request, token, email string) (store.Session, error)
	Current(r *http.Request) (store.Session, error)
	End(ctx context.Context, w http.ResponseWriter, r *http.Request) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	cfg      config.Config
	mail     MailService
	sessions Sessions
	guard    *guard.Guard
	ready    Pinger
	logger   *slog.Logger
	pages    map[string]*template.Template
	mux      *http.ServeMux
}

func NewServer(cfg config.Config, mail MailService, sessions Sessions, routeGuard *guard.Guard, ready Pinger, logger *slog.Logger) (*Server, error) {
	templates, err := webassets.Templates()
	if err != nil {
		return nil, fmt.Errorf("open templates: %w", err)
	}
	pages, err := parsePages(templates)
	if err != nil {
		return nil, err
	}
	static, err := webassets.Static()
	if err != nil {
		return nil, fmt.Errorf("open static assets: %w", err)
	}

	server := &Server{
		cfg:      cfg,
		mail:     mail,
		sessions: sessions,
		guard:    routeGuard,
		ready:    ready,
		logger:   logger,
		pages:    pages,
	}
	server.mux = server.routes(static)
	return server, nil
}

func (s *Server) routes(static fs.FS) *http.ServeMux {
	protect := s.guard.Protect
	mux := http.NewServeMux()
	mux.Handle("GET /{$}", protect(http.RedirectHandler(mailapi.FolderInbox.Path(), http.StatusSeeOther)))
	for _, folder := range mailapi.Folders {
		mux.Handle("GET "+folder.Path(), protect(s.handleMailbox(folder)))
	}
	mux.Handle("GET /messages/{id}", protect(http.HandlerFunc(s.handleMessage)))
	mux.Handle("GET /messages/{id}/eml", protect(http.HandlerFunc(s.handleMessageEML)))
	mux.Handle("GET /compose", protect(http.HandlerFunc(s.handleComposeForm)))
	mux.Handle("POST /compose", protect(http.HandlerFunc(s.handleCompose)))

	mux.HandleFunc("GET /login", s.handleLoginForm)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("GET /register", s.handleRegisterForm)
	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("POST /logout", s.handleLogout)

	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(static)))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := r.Header.Get("X-Request-Id")
	if _, err := uuid.Parse(requestID); err != nil {
		requestID = uuid.NewString()
	}
	w.Header().Set("X-Request-Id", requestID)

	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(recorder, r)

	duration := time.Since(start)
	route := r.Pattern
	if route == "" {
		route = "unmatched"
	}
	metrics.RecordHTTPRequest(route, recorder.status, duration)

	level := slog.LevelInfo
	if strings.HasPrefix(r.URL.Path, "/static/") || r.URL.Path == "/health" || r.URL.Path == "/metrics" {
		level = slog.LevelDebug
	}
	s.logger.Log(r.Context(), level, "http request",
		"request_id", requestID,
		"method", r.Method,
		"path", r.URL.Path,
		"status", recorder.status,
		"duration", duration,
	)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondText(w, http.StatusOK, "ok")
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready.Ping(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", "error", err)
			s.respondText(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	s.respondText(w, http.StatusOK, "ready")
}

func (s *Server) respondText(w http.ResponseWriter, status int, payload string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(payload))
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(p)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

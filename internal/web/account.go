package web

import (
	"errors"
	"net/http"
	"strings"

	"github.io/infrasutra/cwmail/internal/mailapi"
	"github.io/infrasutra/cwmail/internal/session"
)

const minPasswordLength = 8

type loginView struct {
	Email string
	Next  string
	Error string
}

type registerView struct {
	Email string
	Error string
}

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	next := localPath(r.URL.Query().Get("next"), "")
	if _, err := s.sessions.Current(r); err == nil {
		http.Redirect(w, r, localPath(next, mailapi.FolderInbox.Path()), http.StatusSeeOther)
		return
	}
	s.renderLogin(w, r, http.StatusOK, loginView{Next: next})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	view := loginView{
		Email: strings.TrimSpace(r.PostFormValue("email")),
		Next:  localPath(r.PostFormValue("next"), ""),
	}
	email, err := session.NormalizeEmail(view.Email)
	password := r.PostFormValue("password")
	if err != nil || password == "" {
		view.Error = "Enter your email address and password."
		s.renderLogin(w, r, http.StatusUnprocessableEntity, view)
		return
	}

	token, err := s.mail.Login(r.Context(), email, password)
	if err != nil {
		s.logger.Warn("login failed", "email", email, "error", err)
		if rejectedCredentials(err) {
			view.Error = "Invalid email or password."
			s.renderLogin(w, r, http.StatusUnauthorized, view)
			return
		}
		view.Error = "Sign-in is unavailable right now. Please try again."
		s.renderLogin(w, r, http.StatusBadGateway, view)
		return
	}
	if !s.beginSession(w, r, token, email) {
		view.Error = "Could not start your session. Please try again."
		s.renderLogin(w, r, http.StatusInternalServerError, view)
		return
	}
	s.logger.Info("user signed in", "email", email)
	http.Redirect(w, r, localPath(view.Next, mailapi.FolderInbox.Path()), http.StatusSeeOther)
}

func (s *Server) handleRegisterForm(w http.ResponseWriter, r *http.Request) {
	s.renderRegister(w, r, http.StatusOK, registerView{})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	view := registerView{Email: strings.TrimSpace(r.PostFormValue("email"))}
	email, err := session.NormalizeEmail(view.Email)
	if err != nil {
		view.Error = "Enter a valid email address."
		s.renderRegister(w, r, http.StatusUnprocessableEntity, view)
		return
	}
	password := r.PostFormValue("password")
	if len(password) < minPasswordLength {
		view.Error = "Password must be at least 8 characters."
		s.renderRegister(w, r, http.StatusUnprocessableEntity, view)
		return
	}

	token, err := s.mail.Register(r.Context(), email, password)
	if err != nil {
		s.logger.Warn("register failed", "email", email, "error", err)
		var apiErr *mailapi.APIError
		switch {
		case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict:
			view.Error = "An account with this email address already exists."
			s.renderRegister(w, r, http.StatusConflict, view)
		case errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError:
			view.Error = "Registration was refused."
			if apiErr.Message != "" {
				view.Error = "Registration was refused: " + apiErr.Message + "."
			}
			s.renderRegister(w, r, http.StatusUnprocessableEntity, view)
		default:
			view.Error = "Registration is unavailable right now. Please try again."
			s.renderRegister(w, r, http.StatusBadGateway, view)
		}
		return
	}
	if !s.beginSession(w, r, token, email) {
		view.Error = "Could not start your session. Please try again."
		s.renderRegister(w, r, http.StatusInternalServerError, view)
		return
	}
	s.logger.Info("user registered", "email", email)
	s.setFlash(w, "Welcome to cwmail")
	http.Redirect(w, r, mailapi.FolderInbox.Path(), http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.End(r.Context(), w, r); err != nil {
		s.logger.Error("end session", "error", err)
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) beginSession(w http.ResponseWriter, r *http.Request, token, email string) bool {
	if _, err := s.sessions.Begin(r.Context(), w, r, token, email); err != nil {
		s.logger.Error("begin session", "email", email, "error", err)
		return false
	}
	return true
}

func (s *Server) renderLogin(w http.ResponseWriter, r *http.Request, status int, view loginView) {
	s.render(w, r, status, "login", page{Title: "Sign in", View: view})
}

func (s *Server) renderRegister(w http.ResponseWriter, r *http.Request, status int, view registerView) {
	s.render(w, r, status, "register", page{Title: "Create account", View: view})
}

// rejectedCredentials reports whether the service answered but refused the
// email and password, as opposed to failing.
func rejectedCredentials(err error) bool {
	return mailapi.IsRefused(err)
}

package web

import (
	"bytes"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"github.io/infrasutra/cwmail/internal/mailapi"
	"github.io/infrasutra/cwmail/internal/session"
)

const (
	flashCookie   = "cwmail_notice"
	dateLayout    = "2 January 2006 at 15:04"
	previewLength = 90
)

var pageNames = []string{"mailbox", "message", "compose", "login", "register"}

var templateFuncs = template.FuncMap{
	"ago":     relativeTime,
	"date":    formatDate,
	"iso":     isoTime,
	"reads":   readsLabel,
	"preview": preview,
}

// page is the data every template sees. View holds the page-specific part.
type page struct {
	Title   string
	Shell   bool
	Email   string
	Active  mailapi.Folder
	Folders []mailapi.Folder
	Notice  string
	View    any
}

func parsePages(files fs.FS) (map[string]*template.Template, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		tmpl, err := template.New(name).Funcs(templateFuncs).ParseFS(files, "layout.html", name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
		pages[name] = tmpl
	}
	return pages, nil
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, p page) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.logger.Error("unknown page", "page", name)
		http.Error(w, "unable to render page", http.StatusInternalServerError)
		return
	}
	if p.Shell {
		p.Folders = mailapi.Folders
		if current, ok := session.FromContext(r.Context()); ok {
			p.Email = current.Email
		}
	}
	p.Notice = s.takeFlash(w, r)

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", p); err != nil {
		s.logger.Error("render page", "page", name, "error", err)
		http.Error(w, "unable to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// setFlash queues a notice for the next rendered page.
func (s *Server) setFlash(w http.ResponseWriter, notice string) {
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    url.QueryEscape(notice),
		Path:     "/",
		MaxAge:   60,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) takeFlash(w http.ResponseWriter, r *http.Request) string {
	cookie, err := r.Cookie(flashCookie)
	if err != nil {
		return ""
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	notice, err := url.QueryUnescape(cookie.Value)
	if err != nil {
		return ""
	}
	return notice
}

// localPath returns target when it is a path on this site, fallback
// otherwise.
func localPath(target, fallback string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return fallback
	}
	return target
}

// backTarget is where a Back or Cancel action goes: the referring page on
// this site, or fallback.
func backTarget(r *http.Request, fallback string) string {
	referer := r.Referer()
	if referer == "" {
		return fallback
	}
	u, err := url.Parse(referer)
	if err != nil || (u.Host != "" && u.Host != r.Host) {
		return fallback
	}
	target := u.EscapedPath()
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	if u.Path == r.URL.Path || u.Path == "/login" || u.Path == "/register" {
		return fallback
	}
	return localPath(target, fallback)
}

// folderOf is the folder whose page lives at target, if any.
func folderOf(target string) mailapi.Folder {
	for _, folder := range mailapi.Folders {
		if target == folder.Path() {
			return folder
		}
	}
	return ""
}

func relativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return humanize.Time(t)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

func isoTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func readsLabel(limit int) string {
	if limit == 1 {
		return "1 read"
	}
	return strconv.Itoa(limit) + " reads"
}

// preview flattens body to one line of at most previewLength runes.
func preview(body string) string {
	flat := strings.Join(strings.Fields(body), " ")
	if utf8.RuneCountInString(flat) <= previewLength {
		return flat
	}
	runes := []rune(flat)
	return strings.TrimSpace(string(runes[:previewLength])) + "…"
}

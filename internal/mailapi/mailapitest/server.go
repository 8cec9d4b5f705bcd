// Package mailapitest runs an in-process fake of the remote mail service for
// tests. It speaks the same JSON the real backend does, including the
// read-count bookkeeping of self-destructing messages.
package mailapitest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.io/infrasutra/cwmail/internal/mailapi"
)

type party struct {
	ID    int    `json:"id"`
	Email string `json:"email"`
}

type storedMessage struct {
	ID          int                  `json:"id"`
	Subject     string               `json:"subject"`
	Body        string               `json:"body"`
	IsRead      bool                 `json:"is_read"`
	Label       string               `json:"label"`
	ReadLimit   int                  `json:"read_limit"`
	ReadCount   int                  `json:"read_count"`
	ExpiresAt   time.Time            `json:"expires_at"`
	CreatedAt   time.Time            `json:"created_at"`
	Sender      party                `json:"sender"`
	Receiver    party                `json:"receiver"`
	Attachments []mailapi.Attachment `json:"attachments,omitempty"`
}

// Seed describes a message placed directly into the fake's mailboxes.
type Seed struct {
	From        string
	To          string
	Subject     string
	Body        string
	Label       string
	ReadLimit   int
	Read        bool
	CreatedAt   time.Time
	Attachments []mailapi.Attachment
}

type Request struct {
	Method        string
	Path          string
	Authorization string
	Body          []byte
}

type cannedResponse struct {
	status int
	body   string
}

type Server struct {
	*httptest.Server

	mu       sync.Mutex
	users    map[string]string // email -> password
	ids      map[string]int
	tokens   map[string]string // token -> email
	messages []*storedMessage
	nextID   int
	failures map[string]int // path -> status
	canned   map[string]cannedResponse
	sent     []mailapi.SendRequest
	requests []Request
}

func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		users:    map[string]string{},
		ids:      map[string]int{},
		tokens:   map[string]string{},
		failures: map[string]int{},
		canned:   map[string]cannedResponse{},
		nextID:   1,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// BaseURL is the API root to hand to mailapi.New.
func (s *Server) BaseURL() string {
	return s.URL + "/api"
}

// AddUser registers an account and returns a valid token for it.
func (s *Server) AddUser(email, password string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addUserLocked(email, password)
}

func (s *Server) addUserLocked(email, password string) string {
	email = strings.ToLower(email)
	s.users[email] = password
	if _, ok := s.ids[email]; !ok {
		s.ids[email] = len(s.ids) + 1
	}
	token := "token-" + strconv.Itoa(s.ids[email]) + "-" + strconv.Itoa(len(s.tokens))
	s.tokens[token] = email
	return token
}

// Deliver stores a message and returns its id.
func (s *Server) Deliver(seed Seed) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strconv.Itoa(s.storeLocked(seed))
}

func (s *Server) storeLocked(seed Seed) int {
	for _, email := range []string{seed.From, seed.To} {
		if _, ok := s.ids[strings.ToLower(email)]; !ok {
			s.ids[strings.ToLower(email)] = len(s.ids) + 1
		}
	}
	label := seed.Label
	if label == "" {
		label = "inbox"
	}
	created := seed.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	msg := &storedMessage{
		ID:          s.nextID,
		Subject:     seed.Subject,
		Body:        seed.Body,
		IsRead:      seed.Read,
		Label:       label,
		ReadLimit:   seed.ReadLimit,
		CreatedAt:   created,
		Sender:      party{ID: s.ids[strings.ToLower(seed.From)], Email: strings.ToLower(seed.From)},
		Receiver:    party{ID: s.ids[strings.ToLower(seed.To)], Email: strings.ToLower(seed.To)},
		Attachments: seed.Attachments,
	}
	if seed.ReadLimit > 0 {
		msg.ExpiresAt = created.Add(mailapi.SelfDestructTTL)
	}
	s.nextID++
	s.messages = append(s.messages, msg)
	return msg.ID
}

// Fail makes every request to path answer with status until Recover.
func (s *Server) Fail(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = status
}

// Respond makes every request to path answer with status and the raw JSON
// body until Recover.
func (s *Server) Respond(path string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canned[path] = cannedResponse{status: status, body: body}
}

func (s *Server) Recover(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, path)
	delete(s.canned, path)
}

// Sent returns every send request the fake accepted.
func (s *Server) Sent() []mailapi.SendRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mailapi.SendRequest(nil), s.sent...)
}

func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	var body []byte
	if r.Body != nil {
		decoded := json.RawMessage{}
		if err := json.NewDecoder(r.Body).Decode(&decoded); err == nil {
			body = decoded
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, Request{
		Method:        r.Method,
		Path:          r.URL.Path,
		Authorization: r.Header.Get("Authorization"),
		Body:          body,
	})
	if status, ok := s.failures[r.URL.Path]; ok {
		writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
		return
	}
	if canned, ok := s.canned[r.URL.Path]; ok {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(canned.status)
		_, _ = io.WriteString(w, canned.body)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api")
	switch {
	case path == "/auth/login" && r.Method == http.MethodPost:
		s.login(w, body)
		return
	case path == "/auth/register" && r.Method == http.MethodPost:
		s.register(w, body)
		return
	}

	email, ok := s.authorize(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
		return
	}

	switch {
	case path == "/auth/me" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"id": s.ids[email], "email": email, "role": "user"})
	case path == "/messages" && r.Method == http.MethodPost:
		s.send(w, email, body)
	case strings.HasPrefix(path, "/messages/") && r.Method == http.MethodGet:
		rest := strings.TrimPrefix(path, "/messages/")
		if _, err := mailapi.ParseFolder(rest); err == nil {
			writeJSON(w, http.StatusOK, s.folder(email, rest))
			return
		}
		s.read(w, email, rest)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	}
}

func (s *Server) authorize(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", false
	}
	email, ok := s.tokens[token]
	return email, ok
}

func (s *Server) login(w http.ResponseWriter, body []byte) {
	var creds struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.Unmarshal(body, &creds); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request"})
		return
	}
	password, ok := s.users[strings.ToLower(creds.Email)]
	if !ok || password != creds.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": s.addUserLocked(creds.Email, creds.Password)})
}

func (s *Server) register(w http.ResponseWriter, body []byte) {
	var creds struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.Unmarshal(body, &creds); err != nil || len(creds.Password) < 8 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request"})
		return
	}
	if _, exists := s.users[strings.ToLower(creds.Email)]; exists {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "user already exists"})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"token": s.addUserLocked(creds.Email, creds.Password)})
}

func (s *Server) send(w http.ResponseWriter, email string, body []byte) {
	var req mailapi.SendRequest
	if err := json.Unmarshal(body, &req); err != nil || req.ReadLimit < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request"})
		return
	}
	if _, ok := s.users[strings.ToLower(req.ReceiverEmail)]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "receiver not found"})
		return
	}
	s.sent = append(s.sent, req)
	id := s.storeLocked(Seed{
		From:      email,
		To:        req.ReceiverEmail,
		Subject:   req.Subject,
		Body:      req.Body,
		ReadLimit: req.ReadLimit,
	})
	writeJSON(w, http.StatusCreated, s.find(id))
}

func (s *Server) folder(email, folder string) []*storedMessage {
	result := []*storedMessage{}
	for i := len(s.messages) - 1; i >= 0; i-- {
		msg := s.messages[i]
		switch folder {
		case "sent":
			if msg.Sender.Email == email {
				result = append(result, msg)
			}
		case "trash":
			if (msg.Sender.Email == email || msg.Receiver.Email == email) && msg.Label == "trash" {
				result = append(result, msg)
			}
		default:
			if msg.Receiver.Email == email && msg.Label == folder {
				result = append(result, msg)
			}
		}
	}
	return result
}

func (s *Server) read(w http.ResponseWriter, email, rawID string) {
	id, err := strconv.Atoi(rawID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	msg := s.find(id)
	if msg == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "message not found"})
		return
	}
	if msg.Sender.Email != email && msg.Receiver.Email != email {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
		return
	}
	if msg.Receiver.Email == email {
		msg.IsRead = true
		msg.ReadCount++
		if msg.ReadLimit > 0 && msg.ReadCount >= msg.ReadLimit {
			s.remove(id)
			writeJSON(w, http.StatusOK, map[string]any{
				"message": "This message was read for the last time and has been deleted",
				"subject": msg.Subject,
				"deleted": true,
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) find(id int) *storedMessage {
	for _, msg := range s.messages {
		if msg.ID == id {
			return msg
		}
	}
	return nil
}

func (s *Server) remove(id int) {
	for i, msg := range s.messages {
		if msg.ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Package submission accepts mail from ordinary SMTP clients and hands each
// message to the remote mail service, one send per recipient. Clients
// authenticate with AUTH PLAIN using their mail service account.
package submission

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.io/infrasutra/cwmail/internal/mailapi"
	"github.io/infrasutra/cwmail/internal/metrics"
)

const (
	defaultDomain = "cwmail"
	upstreamWait  = 30 * time.Second
	noSubject     = "(no subject)"
)

var (
	errBadCredentials = &smtp.SMTPError{
		Code:         535,
		EnhancedCode: smtp.EnhancedCode{5, 7, 8},
		Message:      "Invalid username or password",
	}
	errAuthUnavailable = &smtp.SMTPError{
		Code:         454,
		EnhancedCode: smtp.EnhancedCode{4, 7, 0},
		Message:      "Authentication service unavailable, try again later",
	}
	errSenderMismatch = &smtp.SMTPError{
		Code:         553,
		EnhancedCode: smtp.EnhancedCode{5, 7, 1},
		Message:      "Sender address must match the authenticated account",
	}
	errBadRecipient = &smtp.SMTPError{
		Code:         553,
		EnhancedCode: smtp.EnhancedCode{5, 1, 3},
		Message:      "Recipient address is not valid",
	}
	errInvalidReadLimit = &smtp.SMTPError{
		Code:         550,
		EnhancedCode: smtp.EnhancedCode{5, 6, 0},
		Message:      mailapi.ReadLimitHeader + " must be one of 1, 2, 3, 5 or 10",
	}
	errMalformed = &smtp.SMTPError{
		Code:         550,
		EnhancedCode: smtp.EnhancedCode{5, 6, 0},
		Message:      "Message could not be parsed",
	}
	errNoText = &smtp.SMTPError{
		Code:         550,
		EnhancedCode: smtp.EnhancedCode{5, 6, 0},
		Message:      "Message has no text body",
	}
)

// Mailer is the part of the mail service the gateway calls.
type Mailer interface {
	Login(ctx context.Context, email, password string) (string, error)
	SendMessage(ctx context.Context, token string, req mailapi.SendRequest) (*mailapi.Message, error)
}

type Server struct {
	smtp   *smtp.Server
	logger *slog.Logger
}

func New(mailer Mailer, logger *slog.Logger, addr string) *Server {
	backend := &backend{mailer: mailer, logger: logger}
	server := smtp.NewServer(backend)
	server.Addr = addr
	server.Domain = defaultDomain
	server.AllowInsecureAuth = true
	server.ReadTimeout = 15 * time.Second
	server.WriteTimeout = 15 * time.Second
	server.MaxRecipients = 50
	server.MaxMessageBytes = 10 << 20

	return &Server{smtp: server, logger: logger}
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("submission server listening", "addr", s.smtp.Addr)
	return s.smtp.ListenAndServe()
}

// Serve accepts connections on l until Close is called, then returns nil.
func (s *Server) Serve(l net.Listener) error {
	return s.smtp.Serve(l)
}

func (s *Server) Close() error {
	return s.smtp.Close()
}

type backend struct {
	mailer Mailer
	logger *slog.Logger
}

func (b *backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	id := uuid.NewString()
	logger := b.logger.With("smtp_session", id)
	if conn := c.Conn(); conn != nil {
		logger = logger.With("remote", conn.RemoteAddr().String())
	}
	return &session{backend: b, logger: logger}, nil
}

type session struct {
	backend *backend
	logger  *slog.Logger
	email   string
	token   string
	from    string
	to      []string
}

func (s *session) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	if mech != sasl.Plain {
		return nil, errors.New("unsupported authentication mechanism")
	}
	return sasl.NewPlainServer(func(_, username, password string) error {
		email := normalizeEmail(username)
		ctx, cancel := context.WithTimeout(context.Background(), upstreamWait)
		defer cancel()

		token, err := s.backend.mailer.Login(ctx, email, password)
		if err != nil {
			s.logger.Warn("submission login failed", "email", email, "error", err)
			if permanent(err) {
				return errBadCredentials
			}
			return errAuthUnavailable
		}
		s.email = email
		s.token = token
		s.logger.Info("submission login", "email", email)
		return nil
	}), nil
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	if s.token == "" {
		return smtp.ErrAuthRequired
	}
	from = normalizeEmail(from)
	if from != s.email {
		return errSenderMismatch
	}
	s.from = from
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	if s.token == "" {
		return smtp.ErrAuthRequired
	}
	to = normalizeEmail(to)
	if addr, err := netmail.ParseAddress(to); err != nil || addr.Address != to {
		return errBadRecipient
	}
	s.to = append(s.to, to)
	return nil
}

func (s *session) Data(r io.Reader) error {
	if s.token == "" {
		return smtp.ErrAuthRequired
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	parsed, err := parseMessage(data)
	if err != nil {
		s.logger.Warn("parse submitted message", "error", err)
		var smtpErr *smtp.SMTPError
		if errors.As(err, &smtpErr) {
			return smtpErr
		}
		return errMalformed
	}

	// Recipients are sent in envelope order and the first failure stops
	// the rest; the error names the recipient it stopped at.
	for i, recipient := range s.to {
		req := parsed
		req.ReceiverEmail = recipient
		if err := s.send(req); err != nil {
			s.logger.Warn("submit message failed", "to", recipient, "delivered", i, "error", err)
			return deliveryError(recipient, err)
		}
		metrics.IncrementMessagesSent("smtp", req.ReadLimit)
		s.logger.Info("message submitted", "from", s.from, "to", recipient, "read_limit", req.ReadLimit)
	}
	return nil
}

func (s *session) send(req mailapi.SendRequest) error {
	ctx, cancel := context.WithTimeout(context.Background(), upstreamWait)
	defer cancel()
	_, err := s.backend.mailer.SendMessage(ctx, s.token, req)
	return err
}

func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *session) Logout() error {
	return nil
}

// parseMessage extracts what the mail service stores: subject, the first
// plain text part and the read limit header.
func parseMessage(raw []byte) (mailapi.SendRequest, error) {
	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return mailapi.SendRequest{}, fmt.Errorf("read message: %w", err)
	}

	req := mailapi.SendRequest{Subject: noSubject}
	if subject, err := reader.Header.Subject(); err == nil && strings.TrimSpace(subject) != "" {
		req.Subject = strings.TrimSpace(subject)
	}
	if value := reader.Header.Get(mailapi.ReadLimitHeader); value != "" {
		limit, err := mailapi.ParseReadLimit(value)
		if err != nil {
			return mailapi.SendRequest{}, errInvalidReadLimit
		}
		req.ReadLimit = limit
	}

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return mailapi.SendRequest{}, fmt.Errorf("read message part: %w", err)
		}
		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		mediaType, _, _ := header.ContentType()
		if mediaType != "" && !strings.HasPrefix(mediaType, "text/plain") {
			continue
		}
		body, err := io.ReadAll(part.Body)
		if err != nil {
			return mailapi.SendRequest{}, fmt.Errorf("read message body: %w", err)
		}
		req.Body = strings.TrimRight(strings.ReplaceAll(string(body), "\r\n", "\n"), "\n")
		break
	}
	if strings.TrimSpace(req.Body) == "" {
		return mailapi.SendRequest{}, errNoText
	}
	return req, nil
}

// deliveryError maps a failed send to the SMTP reply. Refusals by the mail
// service are permanent; anything else asks the client to retry.
func deliveryError(recipient string, err error) error {
	if permanent(err) {
		message := "Recipient " + recipient + " was refused"
		var apiErr *mailapi.APIError
		if errors.As(err, &apiErr) && apiErr.Message != "" {
			message += ": " + apiErr.Message
		}
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      message,
		}
	}
	return &smtp.SMTPError{
		Code:         451,
		EnhancedCode: smtp.EnhancedCode{4, 3, 0},
		Message:      "Mail service unavailable at " + recipient + ", try again later",
	}
}

func permanent(err error) bool {
	var apiErr *mailapi.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode < 500
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

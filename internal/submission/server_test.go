package submission

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.io/infrasutra/cwmail/internal/mailapi"
	"github.io/infrasutra/cwmail/internal/mailapi/mailapitest"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

const password = "password123"

func startServer(t *testing.T) (*mailapitest.Server, string) {
	t.Helper()
	fake := mailapitest.New(t)
	client := mailapi.New(fake.BaseURL(), fake.Client(), discard)
	srv := New(client, discard, "")

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { srv.Close() })
	return fake, l.Addr().String()
}

func dial(t *testing.T, addr string) *smtp.Client {
	t.Helper()
	c, err := smtp.Dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func login(t *testing.T, c *smtp.Client, email string) {
	t.Helper()
	if err := c.Auth(sasl.NewPlainClient("", email, password)); err != nil {
		t.Fatalf("auth: %v", err)
	}
}

func submit(c *smtp.Client, from string, to []string, raw string) error {
	if err := c.Mail(from, nil); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt, nil); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, crlf(raw)); err != nil {
		return err
	}
	return w.Close()
}

func crlf(s string) string {
	return strings.ReplaceAll(s, "\n", "\r\n")
}

func replyCode(t *testing.T, err error) int {
	t.Helper()
	var smtpErr *smtp.SMTPError
	if !errors.As(err, &smtpErr) {
		t.Fatalf("error %v is not an SMTP reply", err)
	}
	return smtpErr.Code
}

const selfDestructing = `From: me@example.com
To: a@b.com
Subject: Hi
X-Read-Limit: 3

Hello
`

func TestSubmitSelfDestructingMessage(t *testing.T) {
	fake, addr := startServer(t)
	fake.AddUser("me@example.com", password)
	fake.AddUser("a@b.com", password)
	fake.AddUser("c@d.com", password)

	c := dial(t, addr)
	login(t, c, "me@example.com")
	if err := submit(c, "me@example.com", []string{"a@b.com", "c@d.com"}, selfDestructing); err != nil {
		t.Fatalf("submit: %v", err)
	}

	sent := fake.Sent()
	if len(sent) != 2 {
		t.Fatalf("sent = %d messages, want one per recipient", len(sent))
	}
	for i, want := range []string{"a@b.com", "c@d.com"} {
		got := sent[i]
		if got.ReceiverEmail != want || got.Subject != "Hi" || got.Body != "Hello" || got.ReadLimit != 3 {
			t.Errorf("sent[%d] = %+v", i, got)
		}
	}
}

func TestSubmitWithoutReadLimitIsUnlimited(t *testing.T) {
	fake, addr := startServer(t)
	fake.AddUser("me@example.com", password)
	fake.AddUser("a@b.com", password)

	c := dial(t, addr)
	login(t, c, "me@example.com")
	raw := "From: me@example.com\nTo: a@b.com\nSubject: Plain\n\nNo limit here\n"
	if err := submit(c, "me@example.com", []string{"a@b.com"}, raw); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sent := fake.Sent(); len(sent) != 1 || sent[0].ReadLimit != 0 {
		t.Errorf("sent = %+v", sent)
	}
}

func TestSubmitRejections(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
		raw  string
		fail int
		want int
	}{
		{"invalid read limit", "me@example.com", "a@b.com", strings.Replace(selfDestructing, "X-Read-Limit: 3", "X-Read-Limit: 4", 1), 0, 550},
		{"unknown recipient", "me@example.com", "ghost@example.com", selfDestructing, 0, 550},
		{"no text", "me@example.com", "a@b.com", "From: me@example.com\nSubject: Empty\n\n\n", 0, 550},
		{"upstream down", "me@example.com", "a@b.com", selfDestructing, http.StatusServiceUnavailable, 451},
		{"foreign sender", "boss@example.com", "a@b.com", selfDestructing, 0, 553},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake, addr := startServer(t)
			fake.AddUser("me@example.com", password)
			fake.AddUser("a@b.com", password)
			if tt.fail != 0 {
				fake.Fail("/api/messages", tt.fail)
			}

			c := dial(t, addr)
			login(t, c, "me@example.com")
			err := submit(c, tt.from, []string{tt.to}, tt.raw)
			if err == nil {
				t.Fatal("message accepted")
			}
			if code := replyCode(t, err); code != tt.want {
				t.Errorf("reply code = %d, want %d", code, tt.want)
			}
			if len(fake.Sent()) != 0 {
				t.Errorf("sent = %+v", fake.Sent())
			}
		})
	}
}

func TestCloseStopsServeCleanly(t *testing.T) {
	fake := mailapitest.New(t)
	srv := New(mailapi.New(fake.BaseURL(), fake.Client(), discard), discard, "")

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- srv.Serve(l) }()

	// Wait until the listener accepts before closing.
	c := dial(t, l.Addr().String())
	if err := c.Noop(); err != nil {
		t.Fatalf("noop: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Serve returned %v after Close, want nil", err)
	}
}

func TestAuthRequired(t *testing.T) {
	_, addr := startServer(t)
	c := dial(t, addr)
	err := c.Mail("me@example.com", nil)
	if err == nil {
		t.Fatal("MAIL accepted without AUTH")
	}
	if code := replyCode(t, err); code < 500 {
		t.Errorf("reply code = %d", code)
	}
}

func TestAuthBadCredentials(t *testing.T) {
	fake, addr := startServer(t)
	fake.AddUser("me@example.com", password)

	c := dial(t, addr)
	err := c.Auth(sasl.NewPlainClient("", "me@example.com", "wrong-password"))
	if err == nil {
		t.Fatal("bad credentials accepted")
	}
	if code := replyCode(t, err); code != 535 {
		t.Errorf("reply code = %d, want 535", code)
	}
}

func TestParseMessagePicksPlainPart(t *testing.T) {
	raw := crlf(`From: me@example.com
Subject: Mixed
MIME-Version: 1.0
Content-Type: multipart/alternative; boundary="b1"

--b1
Content-Type: text/html; charset=utf-8

<p>Hello</p>
--b1
Content-Type: text/plain; charset=utf-8

Hello plain
--b1--
`)
	req, err := parseMessage([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if req.Subject != "Mixed" || req.Body != "Hello plain" || req.ReadLimit != 0 {
		t.Errorf("parsed = %+v", req)
	}
}

func TestParseMessageDefaultsSubject(t *testing.T) {
	req, err := parseMessage([]byte(crlf("From: me@example.com\n\nbody only\n")))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if req.Subject != noSubject {
		t.Errorf("subject = %q", req.Subject)
	}
}

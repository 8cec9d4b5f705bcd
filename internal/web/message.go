package web

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.io/infrasutra/cwmail/internal/mailapi"
	"github.io/infrasutra/cwmail/internal/session"
)

type messageView struct {
	Message   *mailapi.Message
	Destroyed *mailapi.Destroyed
	Back      string
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	current, _ := session.FromContext(r.Context())
	result := s.mail.FetchMessage(r.Context(), current.Token, r.PathValue("id"))

	view := messageView{
		Message:   result.Message,
		Destroyed: result.Destroyed,
		Back:      backTarget(r, mailapi.FolderInbox.Path()),
	}
	status := http.StatusOK
	var title string
	switch {
	case result.Destroyed != nil:
		status = http.StatusGone
		title = "Message destroyed"
	case result.Message == nil:
		status = http.StatusNotFound
		// A 4xx such as a malformed id still names no message.
		if result.Err != nil && !mailapi.IsRefused(result.Err) {
			status = http.StatusBadGateway
		}
		title = "Message not found"
	default:
		title = result.Message.Subject
		if title == "" {
			title = "(no subject)"
		}
	}
	s.render(w, r, status, "message", page{
		Title:  title,
		Shell:  true,
		Active: folderOf(view.Back),
		View:   view,
	})
}

func (s *Server) handleMessageEML(w http.ResponseWriter, r *http.Request) {
	current, _ := session.FromContext(r.Context())
	result := s.mail.FetchMessage(r.Context(), current.Token, r.PathValue("id"))
	if result.Destroyed != nil {
		http.Error(w, "message destroyed", http.StatusGone)
		return
	}
	if result.Message == nil {
		http.NotFound(w, r)
		return
	}

	var buf bytes.Buffer
	if err := writeEML(&buf, *result.Message); err != nil {
		s.logger.Error("export message", "id", result.Message.ID, "error", err)
		http.Error(w, "unable to export message", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "message/rfc822")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=message-%s.eml", fileSafe(result.Message.ID)))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// writeEML renders msg as a single-part RFC 5322 message. Attachments are
// listed as X-Attachment headers since only their URLs are known.
func writeEML(w io.Writer, msg mailapi.Message) error {
	var h mail.Header
	if !msg.SentAt.IsZero() {
		h.SetDate(msg.SentAt)
	}
	if msg.SenderEmail != "" {
		h.SetAddressList("From", []*mail.Address{{Name: msg.SenderName, Address: msg.SenderEmail}})
	}
	if msg.ReceiverEmail != "" {
		h.SetAddressList("To", []*mail.Address{{Address: msg.ReceiverEmail}})
	}
	h.SetSubject(msg.Subject)
	if id := fileSafe(msg.ID); id != "" {
		h.SetMessageID(id + "@cwmail")
	}
	if msg.SelfDestructing() {
		h.Set(mailapi.ReadLimitHeader, strconv.Itoa(msg.ReadLimit))
	}
	if !msg.ExpiresAt.IsZero() {
		h.Set("X-Expires-At", msg.ExpiresAt.UTC().Format(time.RFC1123Z))
	}
	for _, attachment := range msg.Attachments {
		h.Add("X-Attachment", mime.QEncoding.Encode("utf-8", attachment.Name)+" <"+attachment.URL+">")
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	body, err := mail.CreateSingleInlineWriter(w, h)
	if err != nil {
		return fmt.Errorf("create message writer: %w", err)
	}
	if _, err := io.WriteString(body, msg.Body); err != nil {
		_ = body.Close()
		return fmt.Errorf("write message body: %w", err)
	}
	if err := body.Close(); err != nil {
		return fmt.Errorf("close message body: %w", err)
	}
	return nil
}

func fileSafe(value string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return -1
		}
	}, value)
}

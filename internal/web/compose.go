package web

import (
	"errors"
	"net/http"
	"strings"

	"github.io/infrasutra/cwmail/internal/mailapi"
	"github.io/infrasutra/cwmail/internal/metrics"
	"github.io/infrasutra/cwmail/internal/session"
)

type composeView struct {
	Recipient    string
	Subject      string
	Body         string
	SelfDestruct bool
	ReadLimit    int
	Options      []int
	Back         string
	Error        string
}

func newComposeView(back string) composeView {
	return composeView{
		ReadLimit: mailapi.ReadLimitOptions[0],
		Options:   mailapi.ReadLimitOptions,
		Back:      back,
	}
}

func (s *Server) handleComposeForm(w http.ResponseWriter, r *http.Request) {
	s.renderCompose(w, r, http.StatusOK, newComposeView(backTarget(r, mailapi.FolderInbox.Path())))
}

func (s *Server) handleCompose(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	view := newComposeView(localPath(r.PostFormValue("back"), mailapi.FolderInbox.Path()))
	view.Recipient = strings.TrimSpace(r.PostFormValue("recipient"))
	view.Subject = r.PostFormValue("subject")
	view.Body = r.PostFormValue("body")
	view.SelfDestruct = r.PostFormValue("self_destruct") != ""

	req, problem := view.request(r.PostFormValue("read_limit"))
	if problem != "" {
		view.Error = problem
		s.renderCompose(w, r, http.StatusUnprocessableEntity, view)
		return
	}

	current, _ := session.FromContext(r.Context())
	if _, err := s.mail.SendMessage(r.Context(), current.Token, req); err != nil {
		s.logger.Warn("send message failed", "to", req.ReceiverEmail, "error", err)
		view.Error = sendFailure(err)
		s.renderCompose(w, r, http.StatusBadGateway, view)
		return
	}

	metrics.IncrementMessagesSent("web", req.ReadLimit)
	notice := "Message sent"
	if req.ReadLimit > 0 {
		notice = "Self-destructing message sent"
	}
	s.setFlash(w, notice)
	http.Redirect(w, r, mailapi.FolderSent.Path(), http.StatusSeeOther)
}

func (s *Server) renderCompose(w http.ResponseWriter, r *http.Request, status int, view composeView) {
	s.render(w, r, status, "compose", page{
		Title: "Compose",
		Shell: true,
		View:  view,
	})
}

// request validates the form and returns the problem to show when it is not
// sendable. The read limit is only sent when self-destruct is checked.
func (v *composeView) request(rawLimit string) (mailapi.SendRequest, string) {
	limit, limitErr := mailapi.ParseReadLimit(rawLimit)
	if limitErr == nil {
		v.ReadLimit = limit
	}

	recipient, err := session.NormalizeEmail(v.Recipient)
	if err != nil {
		return mailapi.SendRequest{}, "Enter a valid recipient address."
	}
	if strings.TrimSpace(v.Subject) == "" {
		return mailapi.SendRequest{}, "Enter a subject."
	}
	if strings.TrimSpace(v.Body) == "" {
		return mailapi.SendRequest{}, "Enter a message."
	}

	req := mailapi.SendRequest{
		ReceiverEmail: recipient,
		Subject:       strings.TrimSpace(v.Subject),
		Body:          v.Body,
	}
	if v.SelfDestruct {
		if limitErr != nil {
			return mailapi.SendRequest{}, "Choose a read limit of 1, 2, 3, 5 or 10."
		}
		req.ReadLimit = limit
	}
	return req, ""
}

func sendFailure(err error) string {
	var apiErr *mailapi.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError && apiErr.Message != "" {
		return "Could not send the message: " + apiErr.Message + "."
	}
	return "Could not send the message. Please try again."
}

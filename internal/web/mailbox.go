package web

import (
	"net/http"

	"github.io/infrasutra/cwmail/internal/mailapi"
	"github.io/infrasutra/cwmail/internal/session"
)

type mailboxView struct {
	Folder   mailapi.Folder
	State    string
	Messages []mailapi.Message
}

func (s *Server) handleMailbox(folder mailapi.Folder) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current, _ := session.FromContext(r.Context())
		result := s.mail.FetchFolder(r.Context(), current.Token, folder)

		state := result.State()
		if state == mailapi.Failed && !s.cfg.ShowLoadErrors {
			state = mailapi.Empty
		}
		s.render(w, r, http.StatusOK, "mailbox", page{
			Title:  folder.Title(),
			Shell:  true,
			Active: folder,
			View: mailboxView{
				Folder:   folder,
				State:    state.String(),
				Messages: result.Messages,
			},
		})
	})
}

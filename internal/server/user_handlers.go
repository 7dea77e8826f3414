package server

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/Tyrowin/chatpro/internal/auth"
	"github.com/Tyrowin/chatpro/internal/store"
)

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFrom(r.Context())

	users, err := s.store.ListUsersExcept(r.Context(), userID)
	if err != nil {
		s.writeInternal(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newUserResponses(users))
}

func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFrom(r.Context())

	user, err := s.store.GetUser(r.Context(), userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeMessage(w, http.StatusNotFound, "User not found.")
		return
	case err != nil:
		s.writeInternal(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newUserResponses([]store.User{*user})[0])
}

package server

import (
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/chatpro/internal/auth"
	"github.com/Tyrowin/chatpro/internal/store"
)

type signupRequest struct {
	Email             string  `json:"email"`
	FullName          string  `json:"fullName"`
	Password          string  `json:"password"`
	ProfilePictureURL *string `json:"profilePictureUrl"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeMessage(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.FullName = strings.TrimSpace(req.FullName)
	if req.Email == "" || req.FullName == "" || req.Password == "" {
		s.writeMessage(w, http.StatusBadRequest, "Email, full name and password are required.")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.writeInternal(w, r, err)
		return
	}

	user := &store.User{
		Email:             req.Email,
		FullName:          req.FullName,
		PasswordHash:      hash,
		ProfilePictureURL: req.ProfilePictureURL,
	}
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			s.writeMessage(w, http.StatusBadRequest, "Email already in use.")
			return
		}
		s.writeInternal(w, r, err)
		return
	}

	s.logger.Info("user signed up", zap.String("userID", user.ID))
	s.respondWithToken(w, r, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeMessage(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	user, err := s.store.FindUserByEmail(r.Context(), req.Email)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeMessage(w, http.StatusUnauthorized, "Invalid credentials.")
		return
	case err != nil:
		s.writeInternal(w, r, err)
		return
	}

	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		s.writeMessage(w, http.StatusUnauthorized, "Invalid credentials.")
		return
	}
	s.respondWithToken(w, r, user)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, newAuthResponse(user, ""))
}

// handleLogout only acknowledges; tokens are discarded by the client.
func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	s.writeMessage(w, http.StatusOK, "Logged out successfully.")
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	s.respondWithToken(w, r, user)
}

// handleUpdateProfilePicture stores the uploaded picture on the caller and
// tells every connected client about the change.
func (s *Server) handleUpdateProfilePicture(w http.ResponseWriter, r *http.Request) {
	user, url, ok := s.storeProfilePicture(w, r)
	if !ok {
		return
	}

	s.hub.Presence().ProfileUpdated(user.ID, url)
	s.writeJSON(w, http.StatusOK, newAuthResponse(user, ""))
}

// currentUser loads the authenticated caller, answering 401 if the account
// no longer exists.
func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) (*store.User, bool) {
	userID, ok := auth.UserIDFrom(r.Context())
	if !ok {
		s.writeMessage(w, http.StatusUnauthorized, "Invalid token.")
		return nil, false
	}

	user, err := s.store.GetUser(r.Context(), userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeMessage(w, http.StatusUnauthorized, "User not found.")
		return nil, false
	case err != nil:
		s.writeInternal(w, r, err)
		return nil, false
	}
	return user, true
}

func (s *Server) respondWithToken(w http.ResponseWriter, r *http.Request, user *store.User) {
	token, err := s.tokens.Issue(user.ID, user.Email, user.FullName)
	if err != nil {
		s.writeInternal(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newAuthResponse(user, token))
}

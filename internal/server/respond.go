package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/chatpro/internal/hub"
	"github.com/Tyrowin/chatpro/internal/store"
)

// AuthResponse is returned by the account endpoints. Token is only set by
// signup, login and refresh.
type AuthResponse struct {
	ID                string    `json:"id"`
	Token             string    `json:"token,omitempty"`
	Email             string    `json:"email"`
	FullName          string    `json:"fullName"`
	ProfilePictureURL *string   `json:"profilePictureUrl"`
	CreatedAt         time.Time `json:"createdAt"`
}

// UserResponse is the public view of an account.
type UserResponse struct {
	ID                string  `json:"id"`
	FullName          string  `json:"fullName"`
	Email             string  `json:"email"`
	ProfilePictureURL *string `json:"profilePictureUrl"`
}

// MessageResponse is one stored message.
type MessageResponse struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Text       *string   `json:"text"`
	ImageURL   *string   `json:"imageUrl"`
	CreatedAt  time.Time `json:"createdAt"`
}

type messageBody struct {
	Message string `json:"message"`
}

func newAuthResponse(u *store.User, token string) AuthResponse {
	return AuthResponse{
		ID:                u.ID,
		Token:             token,
		Email:             u.Email,
		FullName:          u.FullName,
		ProfilePictureURL: u.ProfilePictureURL,
		CreatedAt:         u.CreatedAt,
	}
}

func newUserResponses(users []store.User) []UserResponse {
	out := make([]UserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, UserResponse{
			ID:                u.ID,
			FullName:          u.FullName,
			Email:             u.Email,
			ProfilePictureURL: u.ProfilePictureURL,
		})
	}
	return out
}

func newMessageResponse(m store.Message) MessageResponse {
	return MessageResponse{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Text:       m.Text,
		ImageURL:   m.ImageURL,
		CreatedAt:  m.CreatedAt,
	}
}

func newMessageResponses(msgs []store.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, newMessageResponse(m))
	}
	return out
}

func toPayload(m store.Message) hub.MessagePayload {
	return hub.MessagePayload{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Text:       m.Text,
		ImageURL:   m.ImageURL,
		Timestamp:  m.CreatedAt,
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("cannot write response", zap.Error(err))
	}
}

func (s *Server) writeMessage(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, messageBody{Message: message})
}

// writeInternal logs err and answers 500 without leaking details.
func (s *Server) writeInternal(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("request failed",
		zap.String("method", r.Method),
		zap.String("uri", r.RequestURI),
		zap.Error(err))
	s.writeMessage(w, http.StatusInternalServerError, "Internal server error.")
}

// writeFormError answers a failed multipart parse.
func (s *Server) writeFormError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.writeMessage(w, http.StatusRequestEntityTooLarge, "File too large.")
		return
	}
	s.writeMessage(w, http.StatusBadRequest, "No file uploaded.")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "decode request body")
	}
	return nil
}

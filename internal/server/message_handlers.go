package server

import (
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/chatpro/internal/auth"
	"github.com/Tyrowin/chatpro/internal/hub"
)

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFrom(r.Context())

	msgs, err := s.store.ListMessages(r.Context(), userID)
	if err != nil {
		s.writeInternal(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newMessageResponses(msgs))
}

func (s *Server) handleListPartners(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFrom(r.Context())

	users, err := s.store.ListPartners(r.Context(), userID)
	if err != nil {
		s.writeInternal(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newUserResponses(users))
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFrom(r.Context())

	msgs, err := s.store.ListConversation(r.Context(), userID, r.PathValue("receiverId"))
	if err != nil {
		s.writeInternal(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newMessageResponses(msgs))
}

// handleSendMessage accepts a form with receiverId, text and an optional
// image file. The message is saved first and only then pushed to the
// receiver's live connection, if any. The sender is not echoed; the HTTP
// response carries the saved message instead.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	senderID, _ := auth.UserIDFrom(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Uploads.MaxBytes+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		s.writeFormError(w, err)
		return
	}

	req := hub.SendMessageRequest{ReceiverID: strings.TrimSpace(r.FormValue("receiverId"))}
	if text := r.FormValue("text"); strings.TrimSpace(text) != "" {
		req.Text = &text
	}
	if req.ReceiverID == "" {
		s.writeMessage(w, http.StatusBadRequest, "receiverId is required")
		return
	}

	if r.MultipartForm != nil && len(r.MultipartForm.File["image"]) > 0 {
		url, ok := s.saveUpload(w, r, r.MultipartForm.File["image"][0])
		if !ok {
			return
		}
		req.ImageURL = &url
	}
	if req.Text == nil && req.ImageURL == nil {
		s.writeMessage(w, http.StatusBadRequest, "text or image is required")
		return
	}

	msg, err := s.messages.Persist(r.Context(), senderID, req)
	switch {
	case errors.Is(err, errUnknownReceiver):
		s.writeMessage(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Warn("cannot save message",
			zap.String("userID", senderID),
			zap.String("receiverID", req.ReceiverID),
			zap.Error(err))
		s.writeMessage(w, http.StatusInternalServerError, "Message could not be saved.")
		return
	}

	s.hub.Router().RoutePush(msg)
	s.writeJSON(w, http.StatusOK, MessageResponse{
		ID:         msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Text:       msg.Text,
		ImageURL:   msg.ImageURL,
		CreatedAt:  msg.Timestamp,
	})
}

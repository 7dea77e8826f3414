package server

import (
	"mime/multipart"
	"net/http"

	"github.com/pkg/errors"

	"github.com/Tyrowin/chatpro/internal/auth"
	"github.com/Tyrowin/chatpro/internal/store"
	"github.com/Tyrowin/chatpro/internal/upload"
)

// ProfilePictureResponse is the body of POST /api/image/profile-picture.
type ProfilePictureResponse struct {
	ProfilePictureURL string `json:"profilePictureUrl"`
}

// handleUploadProfilePicture stores the uploaded picture on the caller and
// answers with its URL only. Connected clients are not told.
func (s *Server) handleUploadProfilePicture(w http.ResponseWriter, r *http.Request) {
	_, url, ok := s.storeProfilePicture(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, ProfilePictureResponse{ProfilePictureURL: url})
}

// storeProfilePicture saves the multipart "file" field and records its URL on
// the authenticated caller. On failure the response has been written.
func (s *Server) storeProfilePicture(w http.ResponseWriter, r *http.Request) (*store.User, string, bool) {
	userID, _ := auth.UserIDFrom(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Uploads.MaxBytes+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		s.writeFormError(w, err)
		return nil, "", false
	}
	file, fh, err := r.FormFile("file")
	if err != nil {
		s.writeMessage(w, http.StatusBadRequest, "No file uploaded.")
		return nil, "", false
	}
	_ = file.Close()

	url, ok := s.saveUpload(w, r, fh)
	if !ok {
		return nil, "", false
	}

	user, err := s.store.UpdateProfilePicture(r.Context(), userID, url)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeMessage(w, http.StatusUnauthorized, "User not found.")
		return nil, "", false
	case err != nil:
		s.writeInternal(w, r, err)
		return nil, "", false
	}
	return user, url, true
}

// saveUpload writes fh to the upload store and returns its public URL.
// Rejected files get a 400 or 413; anything else is a 500.
func (s *Server) saveUpload(w http.ResponseWriter, r *http.Request, fh *multipart.FileHeader) (string, bool) {
	url, err := s.uploads.Save(fh)
	switch {
	case errors.Is(err, upload.ErrEmpty):
		s.writeMessage(w, http.StatusBadRequest, "No file uploaded.")
		return "", false
	case errors.Is(err, upload.ErrTooLarge):
		s.writeMessage(w, http.StatusRequestEntityTooLarge, "File too large.")
		return "", false
	case err != nil:
		s.writeInternal(w, r, err)
		return "", false
	}
	return url, true
}

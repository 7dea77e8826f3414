package server

import (
	"net/http"

	"github.com/Tyrowin/chatpro/internal/upload"
)

// routes registers every endpoint. Paths under /api other than signup and
// login require a bearer token.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	authed := func(h http.HandlerFunc) http.Handler { return s.requireAuth(h) }

	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /test", s.handleTestPage)
	mux.Handle("GET "+upload.URLPrefix, s.uploads.Handler())

	mux.HandleFunc("POST /api/auth/signup", s.handleSignup)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.Handle("GET /api/auth/check", authed(s.handleCheck))
	mux.Handle("POST /api/auth/logout", authed(s.handleLogout))
	mux.Handle("POST /api/auth/refresh", authed(s.handleRefresh))
	mux.Handle("POST /api/auth/update-profilepic", authed(s.handleUpdateProfilePicture))
	mux.Handle("POST /api/image/profile-picture", authed(s.handleUploadProfilePicture))

	mux.Handle("GET /api/user/all", authed(s.handleListUsers))
	mux.Handle("GET /api/user/me", authed(s.handleCurrentUser))

	mux.Handle("GET /api/messages/all", authed(s.handleListMessages))
	mux.Handle("GET /api/messages/users", authed(s.handleListPartners))
	mux.Handle("GET /api/messages/{receiverId}", authed(s.handleConversation))
	mux.Handle("POST /api/messages", authed(s.handleSendMessage))
	return mux
}

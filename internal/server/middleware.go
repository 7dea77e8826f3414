package server

import (
	"net/http"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/Tyrowin/chatpro/internal/auth"
)

type middleware func(http.Handler) http.Handler

// chain applies middlewares so that the first one listed sees the request
// first.
func chain(h http.Handler, middlewares ...middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// requireAuth rejects requests without a valid bearer token and stores the
// token subject in the request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.TokenFromRequest(r)
		if token == "" {
			s.writeMessage(w, http.StatusUnauthorized, "Missing token.")
			return
		}

		claims, err := s.tokens.Verify(token)
		if err != nil {
			s.logger.Debug("rejected token", zap.String("addr", r.RemoteAddr), zap.Error(err))
			s.writeMessage(w, http.StatusUnauthorized, "Invalid token.")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), claims.Subject)))
	})
}

func (s *Server) cors() middleware {
	c := cors.New(cors.Options{
		AllowOriginFunc:  s.origins.Allowed,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	return c.Handler
}

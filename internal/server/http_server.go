package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/chatpro/internal/auth"
	"github.com/Tyrowin/chatpro/internal/hub"
	"github.com/Tyrowin/chatpro/internal/logger"
	"github.com/Tyrowin/chatpro/internal/store"
	"github.com/Tyrowin/chatpro/internal/upload"
)

// Server ties the HTTP API and the delivery hub together. Create it with New,
// serve Handler (or call ListenAndServe) and finish with Shutdown.
type Server struct {
	cfg      Config
	store    store.Store
	hub      *hub.Hub
	messages *messageService
	tokens   *auth.Tokens
	uploads  *upload.Store
	origins  *originPolicy
	upgrader websocket.Upgrader
	handler  http.Handler
	logger   *zap.Logger

	httpServer *http.Server
}

// New builds a Server backed by st and starts the hub's event loop, so
// sockets can be accepted as soon as it returns. Shutdown stops the loop.
// A nil logger discards output.
func New(cfg Config, st store.Store, log *zap.Logger) (*Server, error) {
	if st == nil {
		return nil, errors.New("store must not be nil")
	}
	if log == nil {
		log = zap.NewNop()
	}
	cfg = sanitizeConfig(cfg)

	tokens, err := auth.NewTokens(cfg.JWT)
	if err != nil {
		return nil, errors.WithMessage(err, "configure tokens")
	}
	uploads, err := upload.New(cfg.Uploads.Dir, cfg.Uploads.MaxBytes)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		store:    st,
		messages: &messageService{store: st},
		tokens:   tokens,
		uploads:  uploads,
		logger:   log.With(zap.String("component", "server")),
	}
	s.hub = hub.New(cfg.hubConfig(), s.messages, log)
	s.origins = newOriginPolicy(cfg.Server.AllowedOrigins, s.logger)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	s.handler = chain(s.routes(), logger.RequestLogger, s.cors())
	s.httpServer = CreateServer(cfg.Server.Port, s.handler)

	go s.hub.Run()
	s.logger.Info("hub started and ready to manage WebSocket connections")
	return s, nil
}

// CreateServer creates an HTTP server with the timeouts used in production.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Hub returns the delivery hub.
func (s *Server) Hub() *hub.Hub { return s.hub }

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves on the configured port until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "listen")
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones, then closes
// every socket through the hub. ctx bounds the whole sequence.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("HTTP server shutdown error", zap.Error(err))
		return errors.Wrap(err, "shutdown http server")
	}
	s.logger.Info("HTTP server shutdown completed")

	timeout := s.cfg.Server.ShutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	return s.hub.Shutdown(timeout)
}

// ABOUTME: HTTP server wiring the REST routes, avatar files, and chat socket
// ABOUTME: Runs until the context is canceled, then drains with a fresh timeout

package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/litemessenger/chat-relay/internal/auth"
	"github.com/litemessenger/chat-relay/internal/avatars"
	"github.com/litemessenger/chat-relay/internal/chat"
	"github.com/litemessenger/chat-relay/internal/user"
	"github.com/litemessenger/chat-relay/internal/ws"
)

const shutdownTimeout = 5 * time.Second

// TokenIssuer mints access tokens for authenticated accounts.
// *auth.JWTVerifier satisfies it.
type TokenIssuer interface {
	Generate(userID string) (string, error)
}

// Server serves the REST API, avatar files, and the chat socket endpoint.
type Server struct {
	httpServer *http.Server
	users      *user.Service
	chats      *chat.Service
	tokens     TokenIssuer
	logger     *slog.Logger
}

// Config carries the server dependencies.
type Config struct {
	Addr     string
	Users    *user.Service
	Chats    *chat.Service
	Tokens   TokenIssuer
	Verifier auth.TokenVerifier
	Avatars  *avatars.Service
	Socket   *ws.Handler
	Logger   *slog.Logger
}

// New builds the server and its route table.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		users:  cfg.Users,
		chats:  cfg.Chats,
		tokens: cfg.Tokens,
		logger: logger.With("component", "api"),
	}

	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.PathPrefix(avatars.PublicPrefix).Handler(cfg.Avatars.Handler())
	r.Handle("/ws/chat", cfg.Socket)

	r.HandleFunc("/api/auth/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/login", s.handleLogin).Methods(http.MethodPost)

	protected := r.PathPrefix("/api").Subrouter()
	protected.Use(auth.HTTPMiddleware(cfg.Verifier))
	protected.HandleFunc("/users/me", s.handleMe).Methods(http.MethodGet)
	protected.HandleFunc("/users/search", s.handleSearchUsers).Methods(http.MethodGet)
	protected.HandleFunc("/users/avatar", s.handleUploadAvatar).Methods(http.MethodPost)
	protected.HandleFunc("/users/{id}", s.handleGetUser).Methods(http.MethodGet)
	protected.HandleFunc("/chats", s.handleListChats).Methods(http.MethodGet)
	protected.HandleFunc("/chats/start", s.handleStartChat).Methods(http.MethodPost)
	protected.HandleFunc("/chats/{id}/messages", s.handleChatMessages).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until the context is canceled, then drains in-flight requests.
// Returns nil on graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	// The run context is already canceled at this point, so the drain gets
	// its own deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := s.httpServer.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

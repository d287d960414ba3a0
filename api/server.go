// Package api provides the HTTP REST surface of the service.
//
// Endpoints:
//   - GET  /health                     liveness probe
//   - GET  /ready                      readiness probe
//   - POST /api/chat                   run one conversation turn
//   - POST /api/users/{userID}/chats/{sessionID}/media
//     upload an attachment for a session
//   - GET  /api/users/{userID}/chats/{sessionID}/messages/{messageID}/media
//     list the attachments of one message
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: HTTP middleware (logging, recovery, CORS)
//   - health.go: health check endpoints
//   - chat.go: conversation endpoint
//   - media.go: attachment endpoints
//   - response.go: JSON response helpers
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/verita-ai/verita/internal/log"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = ":8080"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds header reads to shut out slow-header
	// connection exhaustion.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing the response.
	// Conversation turns with verification fan-out run long.
	WriteTimeout = 5 * time.Minute

	// IdleTimeout is the keep-alive idle bound.
	IdleTimeout = 120 * time.Second
)

// ServerConfig contains all required parameters for a Server.
type ServerConfig struct {
	Runner      ConversationRunner
	Prompts     PromptSource
	Media       MediaStore
	Pool        *pgxpool.Pool
	CORSOrigins []string
	Logger      log.Logger
}

func (cfg ServerConfig) validate() error {
	if cfg.Runner == nil {
		return errors.New("conversation runner is required")
	}
	if cfg.Prompts == nil {
		return errors.New("prompt source is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Server is the HTTP server for the REST API.
type Server struct {
	mux    *http.ServeMux
	cors   []string
	logger log.Logger
}

// NewServer creates a new HTTP server with all routes registered.
func NewServer(cfg ServerConfig) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	s := &Server{mux: mux, cors: cfg.CORSOrigins, logger: cfg.Logger}

	NewHealthHandler(cfg.Pool, cfg.Logger).RegisterRoutes(mux)
	NewChatHandler(cfg.Runner, cfg.Prompts, cfg.Logger).RegisterRoutes(mux)
	if cfg.Media != nil {
		NewMediaHandler(cfg.Media, cfg.Logger).RegisterRoutes(mux)
	}

	return s, nil
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery, logging, CORS, then the mux.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger),
		corsMiddleware(s.cors),
	)
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/pavelmac/faceshare/internal/detect"
	"github.com/pavelmac/faceshare/internal/web/handlers"
	"github.com/pavelmac/faceshare/internal/web/middleware"
)

// Deps are the collaborators the API exposes.
type Deps struct {
	Registry Registry
	Embedder Embedder
	Detector detect.Detector
	Scanner  ScanRunner
}

// Registry re-exports the handler-level registry surface.
type Registry = handlers.Registry

// Embedder re-exports the handler-level embedder surface.
type Embedder = handlers.Embedder

// ScanRunner re-exports the handler-level scan surface.
type ScanRunner = handlers.ScanRunner

// Server is the HTTP API over the matching engine.
type Server struct {
	deps       Deps
	router     *chi.Mux
	httpServer *http.Server
	log        *zap.Logger
}

// NewServer creates the API server.
func NewServer(deps Deps, host string, port int, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()
	s := &Server{
		deps:   deps,
		router: r,
		log:    log,
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(time.Minute))
	r.Use(middleware.CORS())

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info("starting web server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down web server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

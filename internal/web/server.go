package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/face-cluster/internal/config"
	"github.com/kozaktomas/face-cluster/internal/imagestore"
	"github.com/kozaktomas/face-cluster/internal/web/handlers"
	"github.com/kozaktomas/face-cluster/internal/web/middleware"
)

// Dependencies are the collaborators the HTTP handlers use.
type Dependencies struct {
	Runner handlers.Runner
	// Store serves /uploads and is cleaned on task deletion. May be nil.
	Store imagestore.Store
	// Detector backs the health check. May be nil.
	Detector handlers.HealthChecker
	Logger   *slog.Logger
}

// Server represents the web server
type Server struct {
	config      *config.Config
	deps        Dependencies
	router      *chi.Mux
	httpServer  *http.Server
	taskManager *handlers.TaskManager
	logger      *slog.Logger
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, deps Dependencies) *Server {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	deps.Logger = logger

	s := &Server{
		config:      cfg,
		deps:        deps,
		router:      r,
		taskManager: handlers.NewTaskManager(),
		logger:      logger,
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))

	// Set up routes
	s.setupRoutes()

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting web server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server and cancels running tasks.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down web server")

	for _, task := range s.taskManager.ListTasks() {
		task.Cancel()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}

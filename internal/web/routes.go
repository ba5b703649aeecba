package web

import (
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/face-cluster/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	// Create handlers
	healthHandler := handlers.NewHealthHandler(s.config, s.deps.Detector)
	processHandler := handlers.NewProcessHandler(s.config, s.deps.Runner, s.logger)
	tasksHandler := handlers.NewTasksHandler(s.config, s.deps.Runner, s.deps.Store, s.taskManager, s.logger)
	uploadsHandler := handlers.NewUploadsHandler(s.deps.Store, s.logger)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.Get)

		// Requests that finish within the configured timeout
		r.Group(func(r chi.Router) {
			if timeout := s.config.Server.RequestTimeout; timeout > 0 {
				r.Use(chiMiddleware.Timeout(timeout))
			}

			r.Post("/process", processHandler.Process)
			r.Post("/cluster", processHandler.Cluster)
			r.Post("/compare", handlers.Compare)

			// Tasks (long-running clustering)
			r.Post("/tasks", tasksHandler.Start)
			r.Get("/tasks/{taskId}", tasksHandler.Status)
			r.Delete("/tasks/{taskId}", tasksHandler.Delete)
		})

		// SSE streams stay open until the task finishes
		r.Get("/tasks/{taskId}/events", tasksHandler.Events)
	})

	s.router.Get("/uploads/*", uploadsHandler.Get)
}

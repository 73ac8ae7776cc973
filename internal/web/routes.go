package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/pavelmac/faceshare/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	matchHandler := handlers.NewMatchHandler(s.deps.Registry, s.deps.Embedder, s.deps.Detector, s.log)
	facesHandler := handlers.NewFacesHandler(s.deps.Registry, s.log)
	scanHandler := handlers.NewScanHandler(s.deps.Scanner, s.log)

	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/match", matchHandler.Match)

		r.Get("/faces", facesHandler.List)
		r.Delete("/faces", facesHandler.Clear)

		r.Post("/scan", scanHandler.Start)
		r.Get("/scan", scanHandler.Status)
	})
}

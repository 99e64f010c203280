package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/filescope/filescope/internal/identity"
	"github.com/filescope/filescope/internal/vision"
	"github.com/filescope/filescope/internal/web/handlers"
)

func (s *Server) setupRoutes(provider vision.Provider, store identity.Store, saveIndex func() error) {
	batchHandler := handlers.NewBatchHandler(s.config, provider, store, s.jobManager)
	identityHandler := handlers.NewIdentityHandler(s.config, provider, store, saveIndex)
	dupesHandler := handlers.NewDupesHandler(s.config)

	// Health check
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		// Batches (long-running operations)
		r.Post("/batches", batchHandler.Start)
		r.Get("/batches/{jobId}", batchHandler.Status)
		r.Get("/batches/{jobId}/events", batchHandler.Events)
		r.Delete("/batches/{jobId}", batchHandler.Cancel)
		r.Post("/batches/{jobId}/organize", batchHandler.Organize)

		// Identities
		r.Get("/identities", identityHandler.List)
		r.Post("/identities", identityHandler.Add)
		r.Delete("/identities/{label}", identityHandler.Remove)

		// Duplicate scans
		r.Post("/dupes", dupesHandler.Scan)
	})
}

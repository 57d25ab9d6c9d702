package collector

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a chi router with all collector endpoints under /api/v1
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)

	// basic cors
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS", "DELETE"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", handler.Status)

		// queue endpoints
		r.Get("/queue", handler.ListQueue)
		r.Post("/queue", handler.Enqueue)
		r.Delete("/queue", handler.ResetQueue)
		r.Post("/queue/drain", handler.StartDrain)
		r.Delete("/queue/drain", handler.StopRun)
		r.Delete("/queue/*", handler.RemoveEntry)

		// export endpoints
		r.Post("/export", handler.StartExport)
		r.Get("/runs", handler.Runs)

		r.Get("/stats", handler.Stats)
		r.Get("/history", handler.History)
	})

	return r
}
